// internal/services/events.go
package services

import "time"

// 文档事件类型
const (
	EventDocumentProcessed = "document_processed"
	EventRecordSummarized  = "record_summarized"
)

// DocumentEvent 推送给订阅者的文档变更
type DocumentEvent struct {
	Type       string      `json:"type"`
	DocumentID string      `json:"document_id"`
	Data       interface{} `json:"data,omitempty"`
	Timestamp  time.Time   `json:"timestamp"`
}

// EventPublisher 接收文档事件，例如 WebSocket 广播
type EventPublisher interface {
	Publish(event DocumentEvent)
}

type nopPublisher struct{}

func (nopPublisher) Publish(DocumentEvent) {}

func publisherOrNop(p EventPublisher) EventPublisher {
	if p == nil {
		return nopPublisher{}
	}
	return p
}
