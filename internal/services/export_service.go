// internal/services/export_service.go
package services

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	apperrors "github.com/Corphon/GeneGenie/internal/errors"
	"github.com/Corphon/GeneGenie/internal/models"
	"github.com/Corphon/GeneGenie/internal/storage"
)

// 导出格式
const (
	FormatCSV      = "csv"
	FormatJSON     = "json"
	FormatMarkdown = "markdown"
)

// csvHeader 表头顺序固定
var csvHeader = []string{"sequence", "context", "summary"}

// ExportService 把文档记录导出为表格或文档格式
type ExportService struct {
	store *storage.DocumentStore
}

// NewExportService 创建导出服务；store 为 nil 时不保存导出文件
func NewExportService(store *storage.DocumentStore) *ExportService {
	return &ExportService{store: store}
}

// NormalizeFormat 校验并规范化导出格式，空字符串表示CSV
func NormalizeFormat(format string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatMarkdown, "md":
		return FormatMarkdown, nil
	default:
		return "", apperrors.NewValidationError(
			fmt.Sprintf("不支持的导出格式: %s，支持的格式: csv, json, markdown", format), nil)
	}
}

// ExportFilename 返回下载文件名
func ExportFilename(format string) string {
	switch format {
	case FormatJSON:
		return "gene_sequences.json"
	case FormatMarkdown:
		return "gene_sequences.md"
	default:
		return "gene_sequences.csv"
	}
}

// ContentType 返回导出格式对应的MIME类型
func ContentType(format string) string {
	switch format {
	case FormatJSON:
		return "application/json; charset=utf-8"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	default:
		return "text/csv; charset=utf-8"
	}
}

// Export 生成导出内容，不写入磁盘
func (s *ExportService) Export(doc *models.Document, format string) (*models.ExportResult, error) {
	format, err := NormalizeFormat(format)
	if err != nil {
		return nil, err
	}

	var b strings.Builder
	switch format {
	case FormatJSON:
		err = formatAsJSON(&b, doc)
	case FormatMarkdown:
		err = formatAsMarkdown(&b, doc)
	default:
		err = WriteCSV(&b, doc.Records)
	}
	if err != nil {
		return nil, apperrors.NewProcessingError("格式化导出内容失败", err)
	}

	return &models.ExportResult{
		DocumentID:  doc.ID,
		Title:       fmt.Sprintf("%s - gene sequences", doc.Filename),
		Format:      format,
		Content:     b.String(),
		RecordCount: len(doc.Records),
		GeneratedAt: time.Now(),
	}, nil
}

// ExportAndSave 生成导出内容并保存到文档的 exports 目录
func (s *ExportService) ExportAndSave(doc *models.Document, format string) (*models.ExportResult, error) {
	result, err := s.Export(doc, format)
	if err != nil {
		return nil, err
	}
	if s.store == nil {
		return result, nil
	}

	path, size, err := s.store.SaveExport(doc.ID, ExportFilename(result.Format), []byte(result.Content))
	if err != nil {
		return nil, apperrors.NewProcessingError("保存导出文件失败", err)
	}
	result.FilePath = path
	result.FileSize = size
	return result, nil
}

// WriteCSV 写出表头和每条记录一行
func WriteCSV(w io.Writer, records []models.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, rec := range records {
		if err := cw.Write([]string{rec.Sequence, rec.Context, rec.Summary}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ParseCSV 读取 WriteCSV 生成的表格
func ParseCSV(r io.Reader) ([]models.Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = len(csvHeader)

	header, err := cr.Read()
	if err == io.EOF {
		return nil, apperrors.NewValidationError("CSV为空", nil)
	}
	if err != nil {
		return nil, apperrors.NewValidationError("读取CSV表头失败", err)
	}
	for i, name := range csvHeader {
		if strings.TrimPrefix(header[i], "\ufeff") != name {
			return nil, apperrors.NewValidationError(fmt.Sprintf("CSV表头不正确: %v", header), nil)
		}
	}

	records := []models.Record{}
	for {
		row, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, apperrors.NewValidationError("解析CSV失败", err)
		}
		records = append(records, models.Record{Sequence: row[0], Context: row[1], Summary: row[2]})
	}
	return records, nil
}

func formatAsJSON(w io.Writer, doc *models.Document) error {
	payload := struct {
		DocumentID string          `json:"document_id"`
		Filename   string          `json:"filename"`
		Count      int             `json:"count"`
		Records    []models.Record `json:"records"`
	}{
		DocumentID: doc.ID,
		Filename:   doc.Filename,
		Count:      len(doc.Records),
		Records:    doc.Records,
	}
	if payload.Records == nil {
		payload.Records = []models.Record{}
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(payload)
}

// markdownCell 转义表格单元格中的竖线和换行
func markdownCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\r\n", " ")
	return strings.ReplaceAll(s, "\n", " ")
}

func formatAsMarkdown(w io.Writer, doc *models.Document) error {
	var b strings.Builder
	fmt.Fprintf(&b, "# 🧬 Gene sequences: %s\n\n", doc.Filename)
	fmt.Fprintf(&b, "- Pages: %d\n- Sentences: %d\n- Sequences: %d\n\n", doc.PageCount, doc.SentenceCount, len(doc.Records))

	if msg := doc.Message(); msg != "" {
		fmt.Fprintf(&b, "_%s_\n", msg)
		_, err := io.WriteString(w, b.String())
		return err
	}

	b.WriteString("| # | Sequence | Context | Summary |\n")
	b.WriteString("|---|----------|---------|---------|\n")
	for i, rec := range doc.Records {
		fmt.Fprintf(&b, "| %d | `%s` | %s | %s |\n", i+1, rec.Sequence, markdownCell(rec.Context), markdownCell(rec.Summary))
	}

	_, err := io.WriteString(w, b.String())
	return err
}
