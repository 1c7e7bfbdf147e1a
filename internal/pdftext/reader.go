// internal/pdftext/reader.go
package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"strings"

	apperrors "github.com/Corphon/GeneGenie/internal/errors"
	"github.com/ledongthuc/pdf"
)

// Source turns raw PDF bytes into per-page plain text in reading order.
type Source interface {
	Pages(ctx context.Context, data []byte) ([]string, error)
}

// Reader is the Source backed by github.com/ledongthuc/pdf. Glyphs are taken in
// the order the content stream draws them; a vertical move starts a new line and
// a horizontal gap wider than a word space inserts a space. Columns are not detected.
type Reader struct{}

const (
	// minRowTolerance is the smallest Y drift still treated as the same line
	minRowTolerance = 3.0
	// wordSpaceRatio of the font size counts as a word gap
	wordSpaceRatio = 0.3
)

// NewReader creates a PDF text reader.
func NewReader() *Reader {
	return &Reader{}
}

// Pages returns one string per page. A page without a content stream yields an
// empty string. Bytes that are not a readable PDF fail the whole document.
func (r *Reader) Pages(ctx context.Context, data []byte) (pages []string, err error) {
	if len(data) == 0 {
		return nil, apperrors.NewDocumentError("PDF内容为空", nil)
	}

	// 解析库在损坏的对象上会 panic
	defer func() {
		if rec := recover(); rec != nil {
			pages = nil
			err = apperrors.NewDocumentError("解析PDF失败", fmt.Errorf("%v", rec))
		}
	}()

	doc, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, apperrors.NewDocumentError("无法打开PDF", err)
	}

	total := doc.NumPage()
	pages = make([]string, 0, total)
	for i := 1; i <= total; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		page := doc.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}

		pages = append(pages, layoutText(page.Content().Text))
	}

	return pages, nil
}

// layoutText joins positioned glyphs into lines separated by '\n'.
func layoutText(texts []pdf.Text) string {
	var b strings.Builder
	var prev *pdf.Text
	for i := range texts {
		t := &texts[i]
		if t.S == "" {
			continue
		}
		if prev != nil {
			switch {
			case newLine(prev, t):
				b.WriteByte('\n')
			case wordGap(prev, t):
				b.WriteByte(' ')
			}
		}
		b.WriteString(t.S)
		prev = t
	}
	return b.String()
}

func newLine(prev, cur *pdf.Text) bool {
	tolerance := math.Max(minRowTolerance, 0.5*math.Max(prev.FontSize, cur.FontSize))
	return math.Abs(cur.Y-prev.Y) > tolerance
}

func wordGap(prev, cur *pdf.Text) bool {
	if strings.HasSuffix(prev.S, " ") || strings.HasPrefix(cur.S, " ") {
		return false
	}
	gap := cur.X - (prev.X + prev.W)
	return gap > wordSpaceRatio*cur.FontSize
}
