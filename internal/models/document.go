// internal/models/document.go
package models

import "time"

// 文档处理状态
const (
	DocumentStatusProcessing = "processing"
	DocumentStatusCompleted  = "completed"
	DocumentStatusFailed     = "failed"
)

// Document 一次上传的PDF以及它的抽取结果
type Document struct {
	ID            string    `json:"id"`
	Filename      string    `json:"filename"`
	Size          int64     `json:"size"`
	Status        string    `json:"status"`
	Error         string    `json:"error,omitempty"`
	PageCount     int       `json:"page_count"`
	SentenceCount int       `json:"sentence_count"`
	TextLength    int       `json:"text_length"`
	Records       []Record  `json:"records"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DocumentSummary 列表接口使用的精简视图
type DocumentSummary struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	Status      string    `json:"status"`
	RecordCount int       `json:"record_count"`
	Summarized  int       `json:"summarized"`
	CreatedAt   time.Time `json:"created_at"`
}

// Summary 生成列表视图
func (d *Document) Summary() DocumentSummary {
	summarized := 0
	for _, r := range d.Records {
		if r.HasSummary() {
			summarized++
		}
	}
	return DocumentSummary{
		ID:          d.ID,
		Filename:    d.Filename,
		Status:      d.Status,
		RecordCount: len(d.Records),
		Summarized:  summarized,
		CreatedAt:   d.CreatedAt,
	}
}

// Message 面向用户的结果描述（没有文本/没有序列都不是错误）
func (d *Document) Message() string {
	switch {
	case d.Status == DocumentStatusFailed:
		return d.Error
	case d.TextLength == 0 || d.SentenceCount == 0:
		return "no text"
	case len(d.Records) == 0:
		return "no sequences found"
	default:
		return ""
	}
}
