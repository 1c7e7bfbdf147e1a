package pdftext

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"

	apperrors "github.com/Corphon/GeneGenie/internal/errors"
	"github.com/Corphon/GeneGenie/internal/extract"
	"github.com/ledongthuc/pdf"
)

// buildPDF writes a minimal uncompressed PDF with one text line per page.
func buildPDF(lines []string) []byte {
	streams := make([]string, len(lines))
	for i, line := range lines {
		streams[i] = fmt.Sprintf("BT /F1 12 Tf 72 720 Td (%s) Tj ET", line)
	}
	return buildPDFStreams(streams)
}

// buildPDFStreams writes a minimal uncompressed PDF with one content stream per page.
func buildPDFStreams(streams []string) []byte {
	var objects []string
	pageCount := len(streams)

	// 1: catalog, 2: pages, 3: font, then (page, content) pairs
	kids := make([]string, 0, pageCount)
	for i := 0; i < pageCount; i++ {
		kids = append(kids, fmt.Sprintf("%d 0 R", 4+i*2))
	}
	objects = append(objects,
		"<< /Type /Catalog /Pages 2 0 R >>",
		fmt.Sprintf("<< /Type /Pages /Kids [%s] /Count %d >>", strings.Join(kids, " "), pageCount),
		"<< /Type /Font /Subtype /Type1 /BaseFont /Helvetica /Encoding /WinAnsiEncoding >>",
	)
	for i, content := range streams {
		objects = append(objects,
			fmt.Sprintf("<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Resources << /Font << /F1 3 0 R >> >> /Contents %d 0 R >>", 5+i*2),
			fmt.Sprintf("<< /Length %d >>\nstream\n%s\nendstream", len(content), content),
		)
	}

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.4\n")
	offsets := make([]int, len(objects))
	for i, obj := range objects {
		offsets[i] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, obj)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for _, off := range offsets {
		fmt.Fprintf(&buf, "%010d 00000 n \n", off)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", len(objects)+1, xref)
	return buf.Bytes()
}

func TestPagesReadsTextInPageOrder(t *testing.T) {
	data := buildPDF([]string{
		"The forward primer ATGCATGCATGC was used.",
		"Second page GGGGCCCCAAAA here.",
	})

	pages, err := NewReader().Pages(context.Background(), data)
	if err != nil {
		t.Fatalf("读取PDF失败: %v", err)
	}
	if len(pages) != 2 {
		t.Fatalf("页数 = %d, 期望 2", len(pages))
	}
	if !strings.Contains(pages[0], "ATGCATGCATGC") {
		t.Errorf("第1页文本缺少序列: %q", pages[0])
	}
	if !strings.Contains(pages[1], "GGGGCCCCAAAA") {
		t.Errorf("第2页文本缺少序列: %q", pages[1])
	}
}

func TestPagesRejectsNonPDF(t *testing.T) {
	for _, data := range [][]byte{nil, []byte("hello, not a pdf"), []byte("%PDF-1.4\ngarbage")} {
		_, err := NewReader().Pages(context.Background(), data)
		if err == nil {
			t.Errorf("输入 %q 应返回错误", data)
			continue
		}
		if !apperrors.IsDocumentError(err) {
			t.Errorf("应为文档错误, got %v", err)
		}
	}
}

func TestPagesHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewReader().Pages(ctx, buildPDF([]string{"x"})); err == nil {
		t.Error("已取消的上下文应返回错误")
	}
}

func TestPagesKeepLineBreaks(t *testing.T) {
	data := buildPDFStreams([]string{
		"BT /F1 12 Tf 72 720 Td (The primer ATGCAT-) Tj 0 -14 Td (GCATGC was found.) Tj 0 -14 Td (It worked.) Tj ET",
	})

	pages, err := NewReader().Pages(context.Background(), data)
	if err != nil {
		t.Fatalf("读取PDF失败: %v", err)
	}
	if want := "The primer ATGCAT-\nGCATGC was found.\nIt worked."; pages[0] != want {
		t.Fatalf("页文本 = %q, 期望 %q", pages[0], want)
	}

	records := extract.NewPipeline(1).Run(pages).Records
	if len(records) != 1 || records[0].Sequence != "ATGCATGCATGC" {
		t.Fatalf("跨行连字符应被拼接成一个序列: %+v", records)
	}
	if records[0].Context != "The primer ATGCATGCATGC was found." {
		t.Errorf("句子边界不正确: %q", records[0].Context)
	}
	if got := extract.SplitSentences(extract.Normalize(pages)); len(got) != 2 {
		t.Errorf("应切分为两个句子: %q", got)
	}
}

func TestLayoutText(t *testing.T) {
	tests := []struct {
		name  string
		texts []pdf.Text
		want  string
	}{
		{
			name: "same line no gap",
			texts: []pdf.Text{
				{FontSize: 12, X: 72, Y: 700, W: 6, S: "A"},
				{FontSize: 12, X: 78, Y: 700, W: 6, S: "T"},
			},
			want: "AT",
		},
		{
			name: "word gap inserts space",
			texts: []pdf.Text{
				{FontSize: 12, X: 72, Y: 700, W: 6, S: "a"},
				{FontSize: 12, X: 90, Y: 700, W: 6, S: "b"},
			},
			want: "a b",
		},
		{
			name: "existing space is not doubled",
			texts: []pdf.Text{
				{FontSize: 12, X: 72, Y: 700, W: 6, S: "a"},
				{FontSize: 12, X: 90, Y: 700, W: 3, S: " "},
				{FontSize: 12, X: 110, Y: 700, W: 6, S: "b"},
			},
			want: "a b",
		},
		{
			name: "vertical move starts new line",
			texts: []pdf.Text{
				{FontSize: 12, X: 300, Y: 700, W: 6, S: "-"},
				{FontSize: 12, X: 72, Y: 686, W: 6, S: "G"},
			},
			want: "-\nG",
		},
		{
			name: "small rise stays on the line",
			texts: []pdf.Text{
				{FontSize: 12, X: 72, Y: 700, W: 6, S: "x"},
				{FontSize: 12, X: 78, Y: 703, W: 4, S: "2"},
			},
			want: "x2",
		},
		{
			name:  "empty page",
			texts: nil,
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := layoutText(tt.texts); got != tt.want {
				t.Errorf("layoutText = %q, want %q", got, tt.want)
			}
		})
	}
}
