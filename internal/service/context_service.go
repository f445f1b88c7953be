// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sitechat-go/internal/config"
	"sitechat-go/internal/model"
	"sitechat-go/pkg/es"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
)

// ContextService 负责站点内容的索引与检索，
// 为实时调用提供系统消息中的上下文片段。
type ContextService interface {
	IndexContent(ctx context.Context, doc model.ContentDocument) error
	// SearchContext 返回拼接好的上下文文本，没有命中时返回空串。
	SearchContext(ctx context.Context, query string, topK int) (string, error)
	Search(ctx context.Context, query string, topK int) ([]model.ContentSnippet, error)
}

type contextService struct {
	esClient *elasticsearch.Client
	esCfg    config.ElasticsearchConfig
}

// NewContextService 创建一个新的 ContextService 实例。
func NewContextService(esClient *elasticsearch.Client, esCfg config.ElasticsearchConfig) ContextService {
	return &contextService{esClient: esClient, esCfg: esCfg}
}

// IndexContent 将一篇站点内容写入 Elasticsearch。
func (s *contextService) IndexContent(ctx context.Context, doc model.ContentDocument) error {
	if doc.DocID == "" {
		return fmt.Errorf("content document requires a doc_id")
	}
	if doc.IndexedAt.IsZero() {
		doc.IndexedAt = time.Now()
	}
	return es.IndexDocument(ctx, s.esCfg.IndexName, doc)
}

// Search 对标题与正文做 multi_match 检索。
func (s *contextService) Search(ctx context.Context, query string, topK int) ([]model.ContentSnippet, error) {
	if topK <= 0 {
		topK = 5
	}

	searchBody := map[string]interface{}{
		"size": topK,
		"query": map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":  query,
				"fields": []string{"title^2", "content"},
			},
		},
	}
	bodyBytes, err := json.Marshal(searchBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal search query: %w", err)
	}

	res, err := s.esClient.Search(
		s.esClient.Search.WithContext(ctx),
		s.esClient.Search.WithIndex(s.esCfg.IndexName),
		s.esClient.Search.WithBody(strings.NewReader(string(bodyBytes))),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search content index: %w", err)
	}
	defer res.Body.Close()

	if res.IsError() {
		return nil, fmt.Errorf("content search returned error: %s", res.String())
	}

	var parsed struct {
		Hits struct {
			Hits []struct {
				Score  float64               `json:"_score"`
				Source model.ContentDocument `json:"_source"`
			} `json:"hits"`
		} `json:"hits"`
	}
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}

	snippets := make([]model.ContentSnippet, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		snippets = append(snippets, model.ContentSnippet{
			Title:   h.Source.Title,
			URL:     h.Source.URL,
			Excerpt: excerpt(h.Source.Content, 500),
			Score:   h.Score,
		})
	}
	return snippets, nil
}

// SearchContext 把检索命中拼接为注入系统消息的上下文文本。
func (s *contextService) SearchContext(ctx context.Context, query string, topK int) (string, error) {
	snippets, err := s.Search(ctx, query, topK)
	if err != nil {
		return "", err
	}
	if len(snippets) == 0 {
		return "", nil
	}

	var b strings.Builder
	for i, sn := range snippets {
		label := sn.Title
		if label == "" {
			label = sn.URL
		}
		b.WriteString(fmt.Sprintf("[%d] (%s) %s\n", i+1, label, sn.Excerpt))
	}
	return b.String(), nil
}

// excerpt 截断正文，避免系统消息无限膨胀。
func excerpt(content string, maxLen int) string {
	content = strings.TrimSpace(content)
	if len(content) <= maxLen {
		return content
	}
	return content[:maxLen] + "…"
}
