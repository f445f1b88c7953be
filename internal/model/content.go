// Package model 包含了应用的数据模型定义。
package model

import "time"

// ContentDocument 代表被索引到 Elasticsearch 的站点内容（页面、文章等），
// 用于在调用 LLM 前检索上下文片段。
type ContentDocument struct {
	DocID     string    `json:"doc_id"`
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Content   string    `json:"content"`
	IndexedAt time.Time `json:"indexed_at"`
}

// ContentSnippet 是一次上下文检索命中的摘要。
type ContentSnippet struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Excerpt string  `json:"excerpt"`
	Score   float64 `json:"score"`
}
