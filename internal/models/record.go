// internal/models/record.go
package models

import "strings"

// SummaryErrorPrefix 标记摘要字段中保存的是失败信息而不是模型输出
const SummaryErrorPrefix = "⚠️ Error: "

// Record 一条抽取结果：序列 + 所在句子 + 可选摘要
type Record struct {
	Sequence string `json:"sequence"`
	Context  string `json:"context"`
	Summary  string `json:"summary"`
}

// HasSummary 是否已经拿到成功的摘要
func (r Record) HasSummary() bool {
	return r.Summary != "" && !r.SummaryFailed()
}

// SummaryFailed 摘要字段是否为失败占位符
func (r Record) SummaryFailed() bool {
	return strings.HasPrefix(r.Summary, SummaryErrorPrefix)
}

// ErrorSummary 把失败信息转换成可展示的摘要文本
func ErrorSummary(err error) string {
	if err == nil {
		return ""
	}
	return SummaryErrorPrefix + err.Error()
}
