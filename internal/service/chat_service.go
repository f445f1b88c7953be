// Package service 包含了应用的业务逻辑层。
package service

import (
	"context"
	"errors"
	"fmt"
	"html"
	"sitechat-go/internal/config"
	"sitechat-go/internal/matcher"
	"sitechat-go/internal/model"
	"sitechat-go/internal/provider"
	"sitechat-go/internal/repository"
	"sitechat-go/pkg/events"
	"sitechat-go/pkg/log"
	"sitechat-go/pkg/token"
	"strings"
	"time"
	"unicode/utf8"
)

// 消息校验错误，解析开始前快速失败。
var (
	ErrEmptyMessage   = errors.New("message is empty")
	ErrMessageTooLong = errors.New("message is too long")
)

// ChatRequest 是一次聊天解析的输入。
type ChatRequest struct {
	Message   string `json:"message" binding:"required"`
	SessionID string `json:"sessionId"`
	PageURL   string `json:"pageUrl"`
	PageTitle string `json:"pageTitle"`
}

// AdapterSource 提供当前激活的供应商适配器。
type AdapterSource interface {
	Adapter(ctx context.Context) (provider.Adapter, error)
}

// EventPublisher 把一次解析结果作为用量事件发布出去。
type EventPublisher interface {
	Publish(ev events.ChatEvent) error
}

// ChatService 定义了聊天解析的接口。
type ChatService interface {
	// Resolve 对一条用户消息执行完整的分层解析：
	// 训练精确匹配 → 训练模糊匹配 → 响应缓存 → 实时调用。
	Resolve(ctx context.Context, req *ChatRequest) (*model.ChatEnvelope, error)
	// History 返回会话最近的对话轮次，供挂件恢复聊天界面。
	History(ctx context.Context, sessionID string, limit int) ([]model.ConversationTurn, error)
	// Reset 丢弃会话当前的对话，下一条消息将开启新对话。
	Reset(ctx context.Context, sessionID string) error
}

type chatService struct {
	trainingRepo   repository.TrainingRepository
	cacheRepo      repository.CacheRepository
	sessionRepo    repository.SessionRepository
	convRepo       repository.ConversationRepository
	contextService ContextService
	adapters       AdapterSource
	publisher      EventPublisher
}

// NewChatService 创建一个新的 ChatService 实例。
func NewChatService(
	trainingRepo repository.TrainingRepository,
	cacheRepo repository.CacheRepository,
	sessionRepo repository.SessionRepository,
	convRepo repository.ConversationRepository,
	contextService ContextService,
	adapters AdapterSource,
	publisher EventPublisher,
) ChatService {
	return &chatService{
		trainingRepo:   trainingRepo,
		cacheRepo:      cacheRepo,
		sessionRepo:    sessionRepo,
		convRepo:       convRepo,
		contextService: contextService,
		adapters:       adapters,
		publisher:      publisher,
	}
}

// Resolve 按严格优先级解析一条消息，首个命中即返回。
// 第 1~3 层是确定性的本地查找，只有第 4 层产生网络 I/O。
func (s *chatService) Resolve(ctx context.Context, req *ChatRequest) (*model.ChatEnvelope, error) {
	start := time.Now()

	// 解析开始前的输入校验
	raw := req.Message
	if strings.TrimSpace(raw) == "" {
		return nil, ErrEmptyMessage
	}
	// 长度上限按字符数计，多字节消息不能按字节误判
	if utf8.RuneCountInString(raw) > config.Conf.Chat.MaxMessageLength {
		return nil, ErrMessageTooLong
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = token.GenerateRandomString(16)
	}
	conversationID, err := s.sessionRepo.GetOrCreateConversationID(ctx, sessionID)
	if err != nil {
		// 会话存储不可用不应阻断回答，退化为一次性对话
		log.Warnf("获取对话 ID 失败，使用临时对话: %v", err)
		conversationID = fmt.Sprintf("conv-%d", time.Now().UnixNano())
	}

	// 归一化：实体解码 + 去空白 + 小写。
	// 训练库中可能存着未解码的文本，精确匹配时对原始消息做第二次比对。
	normalized := normalizeMessage(raw)
	normalizedRaw := strings.ToLower(strings.TrimSpace(raw))

	turn := &model.ConversationTurn{
		ConversationID: conversationID,
		SessionID:      sessionID,
		UserMessage:    raw,
		Status:         model.TurnStatusProcessing,
	}
	if err := s.convRepo.CreateTurn(turn); err != nil {
		log.Warnf("创建对话轮次失败: %v", err)
	}

	pairs := s.activePairs()

	// 1. 训练数据精确匹配
	if answer, ok := exactMatch(pairs, normalized, normalizedRaw); ok {
		return s.finish(turn, answer, model.SourceTraining, start), nil
	}

	// 2. 训练数据模糊匹配
	if answer, ok := s.fuzzyMatch(pairs, normalized); ok {
		return s.finish(turn, answer, model.SourceTrainingSimilar, start), nil
	}

	// 3. 响应缓存
	if cached, hit, err := s.cacheRepo.Get(ctx, normalized); err != nil {
		log.Warnf("缓存查询失败，降级为未命中: %v", err)
	} else if hit {
		return s.finish(turn, cached, model.SourceCache, start), nil
	}

	// 4. 实时调用供应商
	adapter, err := s.adapters.Adapter(ctx)
	if err != nil {
		s.fail(turn)
		return nil, err
	}

	providerReq := &provider.Request{
		Message: raw,
		System:  s.buildSystemMessage(ctx, req),
		History: s.loadHistory(conversationID, adapter.HistoryLimit()),
	}

	resp, err := adapter.GenerateResponse(ctx, providerReq)
	if err != nil {
		// 适配器错误原样上抛，重试策略属于调用方
		s.fail(turn)
		return nil, err
	}

	cost := adapter.EstimateCost(resp.Model, resp.TokensUsed)
	ttl := time.Duration(config.Conf.Chat.CacheTTLHours) * time.Hour
	if err := s.cacheRepo.Set(ctx, normalized, resp.Text, ttl); err != nil {
		log.Warnf("写入响应缓存失败: %v", err)
	}

	turn.Provider = adapter.Name()
	turn.Model = resp.Model
	turn.TokensUsed = resp.TokensUsed
	turn.CostUSD = cost
	envelope := s.complete(turn, resp.Text, model.SourceAPI, start)
	return envelope, nil
}

// History 返回会话最近的对话轮次（倒序）。
func (s *chatService) History(_ context.Context, sessionID string, limit int) ([]model.ConversationTurn, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	return s.convRepo.ListBySession(sessionID, limit)
}

// Reset 丢弃会话当前的对话 ID。
func (s *chatService) Reset(ctx context.Context, sessionID string) error {
	return s.sessionRepo.ResetConversation(ctx, sessionID)
}

// activePairs 加载启用中的训练数据；存储故障按"无匹配"降级。
func (s *chatService) activePairs() []model.TrainingPair {
	pairs, err := s.trainingRepo.ListActive()
	if err != nil {
		log.Warnf("加载训练数据失败，跳过训练匹配: %v", err)
		return nil
	}
	return pairs
}

// exactMatch 先比对解码后的消息，再比对未解码的原始消息。
func exactMatch(pairs []model.TrainingPair, normalized, normalizedRaw string) (string, bool) {
	for _, p := range pairs {
		q := strings.ToLower(strings.TrimSpace(p.Question))
		if q == normalized || q == normalizedRaw {
			return p.Answer, true
		}
	}
	return "", false
}

// fuzzyMatch 在全部启用问题上寻找唯一的最高分匹配，
// 命中后对答案做轻量文本适配（通用措辞替换为站点名称）。
func (s *chatService) fuzzyMatch(pairs []model.TrainingPair, normalized string) (string, bool) {
	if len(pairs) == 0 {
		return "", false
	}
	questions := make([]string, len(pairs))
	for i, p := range pairs {
		questions[i] = p.Question
	}
	idx, score, ok := matcher.BestMatch(normalized, questions, config.Conf.Chat.SimilarityThreshold)
	if !ok {
		return "", false
	}
	log.Debugf("模糊匹配命中: %q -> %q (score=%.2f)", normalized, pairs[idx].Question, score)
	return adaptAnswer(pairs[idx].Answer, config.Conf.Chat.SiteName), true
}

// adaptAnswer 把训练答案中的通用措辞替换为站点名称。
func adaptAnswer(answer, siteName string) string {
	if siteName == "" {
		return answer
	}
	replacer := strings.NewReplacer(
		"our product", siteName,
		"Our product", siteName,
		"our company", siteName,
		"Our company", siteName,
		"our website", siteName,
		"Our website", siteName,
		"our site", siteName,
		"Our site", siteName,
	)
	return replacer.Replace(answer)
}

// buildSystemMessage 拼接全局系统提示、站点身份、页面信息与内容检索片段。
func (s *chatService) buildSystemMessage(ctx context.Context, req *ChatRequest) string {
	var sys strings.Builder
	if rules := config.Conf.Chat.SystemPrompt; rules != "" {
		sys.WriteString(rules)
		sys.WriteString("\n\n")
	}
	if site := config.Conf.Chat.SiteName; site != "" {
		sys.WriteString(fmt.Sprintf("You are the assistant for the website %q.\n", site))
	}
	if req.PageTitle != "" || req.PageURL != "" {
		sys.WriteString(fmt.Sprintf("The visitor is currently on page %q (%s).\n", req.PageTitle, req.PageURL))
	}

	if s.contextService != nil {
		contextText, err := s.contextService.SearchContext(ctx, req.Message, config.Conf.Chat.ContextTopK)
		if err != nil {
			log.Warnf("检索站点内容上下文失败: %v", err)
		} else if contextText != "" {
			sys.WriteString("\nRelevant site content:\n")
			sys.WriteString(contextText)
		}
	}
	return strings.TrimSpace(sys.String())
}

// loadHistory 加载最近的对话历史；失败时携带空历史继续。
func (s *chatService) loadHistory(conversationID string, limit int) []model.ChatMessage {
	history, err := s.convRepo.RecentMessages(conversationID, limit)
	if err != nil {
		log.Warnf("加载对话历史失败: %v", err)
		return nil
	}
	return history
}

// finish 收尾一次非实时命中（训练/缓存）：零 token、无供应商。
func (s *chatService) finish(turn *model.ConversationTurn, answer, source string, start time.Time) *model.ChatEnvelope {
	turn.Provider = ""
	turn.TokensUsed = 0
	return s.complete(turn, answer, source, start)
}

// complete 写回轮次状态并返回统一信封。
func (s *chatService) complete(turn *model.ConversationTurn, answer, source string, start time.Time) *model.ChatEnvelope {
	elapsed := float64(time.Since(start).Microseconds()) / 1000.0

	turn.AIResponse = answer
	turn.Source = source
	turn.ResponseTimeMs = elapsed
	if turn.ID != 0 {
		if err := s.convRepo.CompleteTurn(turn); err != nil {
			log.Warnf("更新对话轮次失败: %v", err)
		}
	}

	if s.publisher != nil {
		ev := events.ChatEvent{
			SessionID:      turn.SessionID,
			ConversationID: turn.ConversationID,
			Provider:       turn.Provider,
			Model:          turn.Model,
			Source:         source,
			TokensUsed:     turn.TokensUsed,
			CostUSD:        turn.CostUSD,
			ResponseTimeMs: elapsed,
			CreatedAt:      time.Now(),
		}
		if err := s.publisher.Publish(ev); err != nil {
			log.Warnf("发布用量事件失败: %v", err)
		}
	}

	return &model.ChatEnvelope{
		Response:       answer,
		TokensUsed:     turn.TokensUsed,
		Model:          turn.Model,
		Source:         source,
		SessionID:      turn.SessionID,
		ConversationID: turn.ConversationID,
		ResponseTime:   elapsed,
	}
}

// fail 把轮次置为 failed，失败本身只记日志。
func (s *chatService) fail(turn *model.ConversationTurn) {
	if turn.ID == 0 {
		return
	}
	if err := s.convRepo.FailTurn(turn.ID); err != nil {
		log.Warnf("标记对话轮次失败状态出错: %v", err)
	}
}

// normalizeMessage HTML 实体解码 + 去空白 + 小写。
func normalizeMessage(s string) string {
	return strings.ToLower(strings.TrimSpace(html.UnescapeString(s)))
}
