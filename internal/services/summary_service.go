// internal/services/summary_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	apperrors "github.com/Corphon/GeneGenie/internal/errors"
	"github.com/Corphon/GeneGenie/internal/models"
	"github.com/Corphon/GeneGenie/internal/utils"
	"golang.org/x/sync/errgroup"
)

var errEmptySummary = errors.New("empty response from model")

// Summarizer 把 (序列, 句子) 变成一段解释文字
type Summarizer interface {
	Summarize(ctx context.Context, sequence, sentence string) (string, error)
}

// SummaryService 按需为记录生成摘要。失败写入记录本身，不会影响其他记录。
type SummaryService struct {
	summarizer Summarizer
	documents  *DocumentService
	metrics    *utils.AppMetrics
	events     EventPublisher
	workers    int
}

// NewSummaryService 创建摘要服务，workers 限制批量摘要的并发数
func NewSummaryService(summarizer Summarizer, documents *DocumentService, metrics *utils.AppMetrics, events EventPublisher, workers int) *SummaryService {
	if workers < 1 {
		workers = 1
	}
	return &SummaryService{
		summarizer: summarizer,
		documents:  documents,
		metrics:    metrics,
		events:     publisherOrNop(events),
		workers:    workers,
	}
}

// Enrich 返回带摘要的记录副本。已有成功摘要的记录原样返回；
// 失败占位符会被重新请求。
func (s *SummaryService) Enrich(ctx context.Context, rec models.Record) models.Record {
	if rec.HasSummary() {
		return rec
	}

	summary, err := s.summarizer.Summarize(ctx, rec.Sequence, rec.Context)
	if err == nil && summary == "" {
		err = errEmptySummary
	}
	s.metrics.RecordSummary(err != nil)

	if err != nil {
		utils.GetLogger().Warn("⚠️ 序列摘要失败", map[string]interface{}{
			"sequence": rec.Sequence,
			"error":    err.Error(),
		})
		rec.Summary = normalizeNewlines(models.ErrorSummary(err))
		return rec
	}

	rec.Summary = normalizeNewlines(summary)
	return rec
}

// normalizeNewlines 统一换行符为 \n，CSV 读回时才能与原文一致
func normalizeNewlines(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.ReplaceAll(s, "\r", "\n")
}

func checkIndex(doc *models.Document, index int) error {
	if index < 0 || index >= len(doc.Records) {
		return apperrors.NewNotFoundError(fmt.Sprintf("记录不存在: %d", index), nil)
	}
	return nil
}

// SummarizeRecord 为文档中的一条记录生成摘要并保存
func (s *SummaryService) SummarizeRecord(ctx context.Context, documentID string, index int) (models.Record, error) {
	doc, err := s.documents.Get(documentID)
	if err != nil {
		return models.Record{}, err
	}
	if err := checkIndex(doc, index); err != nil {
		return models.Record{}, err
	}

	original := doc.Records[index]
	if original.HasSummary() {
		return original, nil
	}

	enriched := s.Enrich(ctx, original)
	if err := ctx.Err(); err != nil {
		return models.Record{}, apperrors.NewAppError(apperrors.ErrorTypeTimeout, "摘要请求已取消", err)
	}

	var stored models.Record
	_, err = s.documents.UpdateRecords(documentID, func(doc *models.Document) error {
		if err := checkIndex(doc, index); err != nil {
			return err
		}
		current := &doc.Records[index]
		// 并发请求可能已经写入了成功的摘要
		if !current.HasSummary() && current.Sequence == enriched.Sequence {
			current.Summary = enriched.Summary
		}
		stored = *current
		return nil
	})
	if err != nil {
		return models.Record{}, err
	}

	s.events.Publish(DocumentEvent{
		Type:       EventRecordSummarized,
		DocumentID: documentID,
		Data:       map[string]interface{}{"index": index, "record": stored},
		Timestamp:  time.Now(),
	})
	return stored, nil
}

// EnrichAll 并发为一组记录生成摘要，结果顺序与输入一致。
// 单条失败写入占位符；只有上下文取消时返回错误。
func (s *SummaryService) EnrichAll(ctx context.Context, records []models.Record) ([]models.Record, error) {
	results := make([]models.Record, len(records))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, rec := range records {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = s.Enrich(gctx, rec)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeTimeout, "批量摘要已取消", err)
	}
	if err := ctx.Err(); err != nil {
		return nil, apperrors.NewAppError(apperrors.ErrorTypeTimeout, "批量摘要已取消", err)
	}
	return results, nil
}

// SummarizeAll 为文档中所有缺少摘要的记录生成摘要，返回更新后的文档和本次处理的记录数
func (s *SummaryService) SummarizeAll(ctx context.Context, documentID string) (*models.Document, int, error) {
	doc, err := s.documents.Get(documentID)
	if err != nil {
		return nil, 0, err
	}

	var pending []int
	for i, rec := range doc.Records {
		if !rec.HasSummary() {
			pending = append(pending, i)
		}
	}
	if len(pending) == 0 {
		return doc, 0, nil
	}

	batch := make([]models.Record, len(pending))
	for slot, index := range pending {
		batch[slot] = doc.Records[index]
	}
	results, err := s.EnrichAll(ctx, batch)
	if err != nil {
		return nil, 0, err
	}

	updated, err := s.documents.UpdateRecords(documentID, func(current *models.Document) error {
		for slot, index := range pending {
			if index >= len(current.Records) {
				continue
			}
			rec := &current.Records[index]
			if !rec.HasSummary() && rec.Sequence == results[slot].Sequence {
				rec.Summary = results[slot].Summary
			}
		}
		return nil
	})
	if err != nil {
		return nil, 0, err
	}

	for slot, index := range pending {
		s.events.Publish(DocumentEvent{
			Type:       EventRecordSummarized,
			DocumentID: documentID,
			Data:       map[string]interface{}{"index": index, "record": results[slot]},
			Timestamp:  time.Now(),
		})
	}
	return updated, len(pending), nil
}
