package service

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"sitechat-go/internal/config"
	"sitechat-go/internal/model"
	"sitechat-go/internal/provider"
	"sitechat-go/pkg/events"
	"sitechat-go/pkg/log"
)

func TestMain(m *testing.M) {
	log.Init("error", "console", "")
	config.Conf.Chat = config.ChatConfig{
		SiteName:            "Acme Widgets",
		SystemPrompt:        "Answer politely.",
		MaxMessageLength:    1000,
		SimilarityThreshold: 0.6,
		CacheTTLHours:       12,
		ContextTopK:         5,
	}
	os.Exit(m.Run())
}

// ---- fakes ----

type fakeTrainingRepo struct {
	pairs []model.TrainingPair
	err   error
}

func (f *fakeTrainingRepo) Create(*model.TrainingPair) error          { return nil }
func (f *fakeTrainingRepo) Update(*model.TrainingPair) error          { return nil }
func (f *fakeTrainingRepo) Delete(uint) error                         { return nil }
func (f *fakeTrainingRepo) FindByID(uint) (*model.TrainingPair, error) { return nil, nil }
func (f *fakeTrainingRepo) ListActive() ([]model.TrainingPair, error) { return f.pairs, f.err }
func (f *fakeTrainingRepo) FindWithPagination(int, int) ([]model.TrainingPair, int64, error) {
	return nil, 0, nil
}
func (f *fakeTrainingRepo) CreateBatch([]model.TrainingPair) error  { return nil }
func (f *fakeTrainingRepo) FindAll() ([]model.TrainingPair, error)  { return f.pairs, nil }

type fakeCacheRepo struct {
	store    map[string]string
	getErr   error
	setCalls int
	lastKey  string
	lastVal  string
	lastTTL  time.Duration
}

func newFakeCacheRepo() *fakeCacheRepo {
	return &fakeCacheRepo{store: make(map[string]string)}
}

func (f *fakeCacheRepo) Get(_ context.Context, message string) (string, bool, error) {
	if f.getErr != nil {
		return "", false, f.getErr
	}
	v, ok := f.store[message]
	return v, ok, nil
}

func (f *fakeCacheRepo) Set(_ context.Context, message, response string, ttl time.Duration) error {
	f.setCalls++
	f.lastKey = message
	f.lastVal = response
	f.lastTTL = ttl
	f.store[message] = response
	return nil
}

type fakeSessionRepo struct {
	convID string
	err    error
	resets []string
}

func (f *fakeSessionRepo) GetOrCreateConversationID(context.Context, string) (string, error) {
	return f.convID, f.err
}

func (f *fakeSessionRepo) ResetConversation(_ context.Context, sessionID string) error {
	f.resets = append(f.resets, sessionID)
	return nil
}

type fakeConvRepo struct {
	created      []*model.ConversationTurn
	completed    []*model.ConversationTurn
	failedIDs    []uint
	history      []model.ChatMessage
	sessionTurns []model.ConversationTurn
}

func (f *fakeConvRepo) CreateTurn(turn *model.ConversationTurn) error {
	turn.ID = uint(len(f.created) + 1)
	f.created = append(f.created, turn)
	return nil
}

func (f *fakeConvRepo) CompleteTurn(turn *model.ConversationTurn) error {
	turn.Status = model.TurnStatusCompleted
	f.completed = append(f.completed, turn)
	return nil
}

func (f *fakeConvRepo) FailTurn(id uint) error {
	f.failedIDs = append(f.failedIDs, id)
	return nil
}

func (f *fakeConvRepo) RecentMessages(string, int) ([]model.ChatMessage, error) {
	return f.history, nil
}
func (f *fakeConvRepo) ListBySession(string, int) ([]model.ConversationTurn, error) {
	return f.sessionTurns, nil
}
func (f *fakeConvRepo) ListRecent(int, int) ([]model.ConversationTurn, int64, error) {
	return nil, 0, nil
}

type fakeAdapter struct {
	resp    *provider.Response
	err     error
	calls   int
	lastReq *provider.Request
}

func (f *fakeAdapter) Name() string       { return "fake" }
func (f *fakeAdapter) IsConfigured() bool { return true }
func (f *fakeAdapter) HistoryLimit() int  { return 10 }

func (f *fakeAdapter) GenerateResponse(_ context.Context, req *provider.Request) (*provider.Response, error) {
	f.calls++
	f.lastReq = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeAdapter) EstimateCost(_ string, tokens int) float64 {
	return 0.002 * float64(tokens) / 1000.0
}

type fakeAdapterSource struct {
	adapter *fakeAdapter
	err     error
}

func (f *fakeAdapterSource) Adapter(context.Context) (provider.Adapter, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.adapter, nil
}

type fakePublisher struct {
	published []events.ChatEvent
}

func (f *fakePublisher) Publish(ev events.ChatEvent) error {
	f.published = append(f.published, ev)
	return nil
}

type fakeContextService struct {
	text string
}

func (f *fakeContextService) IndexContent(context.Context, model.ContentDocument) error { return nil }
func (f *fakeContextService) SearchContext(context.Context, string, int) (string, error) {
	return f.text, nil
}
func (f *fakeContextService) Search(context.Context, string, int) ([]model.ContentSnippet, error) {
	return nil, nil
}

type testHarness struct {
	svc       ChatService
	training  *fakeTrainingRepo
	cache     *fakeCacheRepo
	session   *fakeSessionRepo
	conv      *fakeConvRepo
	adapter   *fakeAdapter
	source    *fakeAdapterSource
	publisher *fakePublisher
	contexts  *fakeContextService
}

func newHarness(pairs []model.TrainingPair) *testHarness {
	h := &testHarness{
		training:  &fakeTrainingRepo{pairs: pairs},
		cache:     newFakeCacheRepo(),
		session:   &fakeSessionRepo{convID: "conv-test"},
		conv:      &fakeConvRepo{},
		adapter:   &fakeAdapter{resp: &provider.Response{Text: "live answer", TokensUsed: 42, Model: "fake-1"}},
		publisher: &fakePublisher{},
		contexts:  &fakeContextService{},
	}
	h.source = &fakeAdapterSource{adapter: h.adapter}
	h.svc = NewChatService(h.training, h.cache, h.session, h.conv, h.contexts, h.source, h.publisher)
	return h
}

// ---- tests ----

func TestResolveExactMatchIgnoresCaseAndWhitespace(t *testing.T) {
	h := newHarness([]model.TrainingPair{
		{ID: 1, Question: "What are your hours?", Answer: "We are open 9-5.", Status: model.TrainingStatusActive},
	})

	env, err := h.svc.Resolve(context.Background(), &ChatRequest{
		Message:   "  WHAT ARE YOUR HOURS?  ",
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if env.Source != model.SourceTraining {
		t.Errorf("source = %q, want %q", env.Source, model.SourceTraining)
	}
	if env.Response != "We are open 9-5." {
		t.Errorf("response = %q", env.Response)
	}
	if env.TokensUsed != 0 || env.Model != "" {
		t.Errorf("training hit should have zero tokens and empty model, got %d / %q", env.TokensUsed, env.Model)
	}
	if h.adapter.calls != 0 {
		t.Errorf("adapter called %d times on exact match", h.adapter.calls)
	}
	if env.SessionID != "s1" || env.ConversationID != "conv-test" {
		t.Errorf("session/conversation = %q / %q", env.SessionID, env.ConversationID)
	}
}

func TestResolveExactMatchAgainstUndecodedTraining(t *testing.T) {
	// 训练库中存着未解码的 HTML 实体，原始消息的二次比对要能兜住。
	h := newHarness([]model.TrainingPair{
		{ID: 1, Question: "what&#8217;s the plan", Answer: "The plan is simple.", Status: model.TrainingStatusActive},
	})

	env, err := h.svc.Resolve(context.Background(), &ChatRequest{
		Message:   "what&#8217;s the plan",
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if env.Source != model.SourceTraining {
		t.Errorf("source = %q, want %q", env.Source, model.SourceTraining)
	}
}

func TestResolveFuzzyMatchAdaptsAnswer(t *testing.T) {
	h := newHarness([]model.TrainingPair{
		{ID: 1, Question: "What are your hours?", Answer: "Our product is open 9-5 on weekdays.", Status: model.TrainingStatusActive},
	})

	env, err := h.svc.Resolve(context.Background(), &ChatRequest{
		Message:   "what r ur opening hours",
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if env.Source != model.SourceTrainingSimilar {
		t.Errorf("source = %q, want %q", env.Source, model.SourceTrainingSimilar)
	}
	if want := "Acme Widgets is open 9-5 on weekdays."; env.Response != want {
		t.Errorf("response = %q, want %q", env.Response, want)
	}
	if h.adapter.calls != 0 {
		t.Errorf("adapter called %d times on fuzzy match", h.adapter.calls)
	}
}

func TestResolveFuzzyTieKeepsFirstPair(t *testing.T) {
	h := newHarness([]model.TrainingPair{
		{ID: 1, Question: "pricing plans info", Answer: "first answer", Status: model.TrainingStatusActive},
		{ID: 2, Question: "pricing plans info", Answer: "second answer", Status: model.TrainingStatusActive},
	})

	env, err := h.svc.Resolve(context.Background(), &ChatRequest{
		Message:   "pricing plans detail",
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if env.Source != model.SourceTrainingSimilar {
		t.Fatalf("source = %q, want %q", env.Source, model.SourceTrainingSimilar)
	}
	if env.Response != "first answer" {
		t.Errorf("tie should keep the first pair, got %q", env.Response)
	}
}

func TestResolveCacheHitSkipsAdapter(t *testing.T) {
	h := newHarness(nil)
	h.cache.store["how do i reset my router"] = "cached answer"

	env, err := h.svc.Resolve(context.Background(), &ChatRequest{
		Message:   "How do I reset my router",
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if env.Source != model.SourceCache {
		t.Errorf("source = %q, want %q", env.Source, model.SourceCache)
	}
	if env.Response != "cached answer" {
		t.Errorf("response = %q", env.Response)
	}
	if h.adapter.calls != 0 {
		t.Errorf("adapter called %d times on cache hit", h.adapter.calls)
	}
}

func TestResolveValidation(t *testing.T) {
	h := newHarness(nil)

	_, err := h.svc.Resolve(context.Background(), &ChatRequest{Message: "   ", SessionID: "s1"})
	if !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("blank message: err = %v, want ErrEmptyMessage", err)
	}

	_, err = h.svc.Resolve(context.Background(), &ChatRequest{
		Message:   strings.Repeat("x", 1001),
		SessionID: "s1",
	})
	if !errors.Is(err, ErrMessageTooLong) {
		t.Errorf("long message: err = %v, want ErrMessageTooLong", err)
	}

	if len(h.conv.created) != 0 {
		t.Errorf("validation failures must not create turns, got %d", len(h.conv.created))
	}
}

func TestResolveLengthLimitCountsRunes(t *testing.T) {
	// 1000 个多字节字符 = 3000 字节，按字符数计不算超长
	message := strings.Repeat("长", 1000)
	h := newHarness([]model.TrainingPair{
		{ID: 1, Question: message, Answer: "ok", Status: model.TrainingStatusActive},
	})

	env, err := h.svc.Resolve(context.Background(), &ChatRequest{Message: message, SessionID: "s1"})
	if err != nil {
		t.Fatalf("1000-rune message must pass validation, got %v", err)
	}
	if env.Source != model.SourceTraining {
		t.Errorf("source = %q, want %q", env.Source, model.SourceTraining)
	}

	_, err = h.svc.Resolve(context.Background(), &ChatRequest{
		Message:   strings.Repeat("长", 1001),
		SessionID: "s1",
	})
	if !errors.Is(err, ErrMessageTooLong) {
		t.Errorf("1001 runes: err = %v, want ErrMessageTooLong", err)
	}
}

func TestHistoryReturnsSessionTurns(t *testing.T) {
	h := newHarness(nil)
	h.conv.sessionTurns = []model.ConversationTurn{
		{ID: 2, SessionID: "s1", UserMessage: "second"},
		{ID: 1, SessionID: "s1", UserMessage: "first"},
	}

	turns, err := h.svc.History(context.Background(), "s1", 20)
	if err != nil {
		t.Fatalf("History returned error: %v", err)
	}
	if len(turns) != 2 || turns[0].ID != 2 {
		t.Fatalf("unexpected turns: %+v", turns)
	}
}

func TestResetDropsCurrentConversation(t *testing.T) {
	h := newHarness(nil)
	if err := h.svc.Reset(context.Background(), "s1"); err != nil {
		t.Fatalf("Reset returned error: %v", err)
	}
	if len(h.session.resets) != 1 || h.session.resets[0] != "s1" {
		t.Fatalf("expected one reset for s1, got %v", h.session.resets)
	}
}

func TestResolveLiveCallFillsEnvelopeAndCache(t *testing.T) {
	h := newHarness(nil)
	h.contexts.text = "[1] (FAQ) Routers reset via the pinhole.\n"
	h.conv.history = []model.ChatMessage{
		{Role: "user", Content: "earlier question"},
		{Role: "assistant", Content: "earlier answer"},
	}

	env, err := h.svc.Resolve(context.Background(), &ChatRequest{
		Message:   "How do I reset my router?",
		SessionID: "s1",
		PageURL:   "https://acme.test/support",
		PageTitle: "Support",
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}

	if env.Source != model.SourceAPI {
		t.Errorf("source = %q, want %q", env.Source, model.SourceAPI)
	}
	if env.Response != "live answer" || env.Model != "fake-1" || env.TokensUsed != 42 {
		t.Errorf("envelope = %+v", env)
	}
	if env.ResponseTime <= 0 {
		t.Errorf("response time should be positive, got %f", env.ResponseTime)
	}

	if h.adapter.lastReq == nil {
		t.Fatal("adapter never received a request")
	}
	sys := h.adapter.lastReq.System
	for _, want := range []string{"Answer politely.", "Acme Widgets", "Support", "Routers reset via the pinhole."} {
		if !strings.Contains(sys, want) {
			t.Errorf("system message missing %q:\n%s", want, sys)
		}
	}
	if len(h.adapter.lastReq.History) != 2 {
		t.Errorf("history length = %d, want 2", len(h.adapter.lastReq.History))
	}

	if h.cache.setCalls != 1 {
		t.Fatalf("cache Set called %d times, want 1", h.cache.setCalls)
	}
	if h.cache.lastKey != "how do i reset my router?" {
		t.Errorf("cache key = %q, want normalized message", h.cache.lastKey)
	}
	if h.cache.lastVal != "live answer" || h.cache.lastTTL != 12*time.Hour {
		t.Errorf("cache value/ttl = %q / %v", h.cache.lastVal, h.cache.lastTTL)
	}

	if len(h.conv.completed) != 1 {
		t.Fatalf("completed turns = %d, want 1", len(h.conv.completed))
	}
	turn := h.conv.completed[0]
	if turn.Provider != "fake" || turn.Status != model.TurnStatusCompleted {
		t.Errorf("turn = %+v", turn)
	}

	if len(h.publisher.published) != 1 {
		t.Fatalf("published events = %d, want 1", len(h.publisher.published))
	}
	ev := h.publisher.published[0]
	if ev.Provider != "fake" || ev.Source != model.SourceAPI || ev.TokensUsed != 42 {
		t.Errorf("event = %+v", ev)
	}
}

func TestResolveAdapterErrorPropagatesUnchanged(t *testing.T) {
	h := newHarness(nil)
	apiErr := &provider.APIError{Vendor: "fake", StatusCode: 429, Message: "rate limited"}
	h.adapter.err = apiErr

	_, err := h.svc.Resolve(context.Background(), &ChatRequest{
		Message:   "anything at all really",
		SessionID: "s1",
	})
	if !errors.Is(err, apiErr) {
		t.Fatalf("err = %v, want the adapter's APIError unchanged", err)
	}

	if len(h.conv.failedIDs) != 1 {
		t.Errorf("failed turns = %d, want 1", len(h.conv.failedIDs))
	}
	if h.cache.setCalls != 0 {
		t.Errorf("failed call must not populate the cache, Set called %d times", h.cache.setCalls)
	}
	if len(h.publisher.published) != 0 {
		t.Errorf("failed call must not publish events, got %d", len(h.publisher.published))
	}
}

func TestResolveAdapterNotConfigured(t *testing.T) {
	h := newHarness(nil)
	h.source.err = provider.ErrNotConfigured

	_, err := h.svc.Resolve(context.Background(), &ChatRequest{
		Message:   "anything at all really",
		SessionID: "s1",
	})
	if !errors.Is(err, provider.ErrNotConfigured) {
		t.Fatalf("err = %v, want ErrNotConfigured", err)
	}
	if len(h.conv.failedIDs) != 1 {
		t.Errorf("failed turns = %d, want 1", len(h.conv.failedIDs))
	}
}

func TestResolveTrainingRepoFailureDegradesToLiveCall(t *testing.T) {
	h := newHarness(nil)
	h.training.err = errors.New("db down")

	env, err := h.svc.Resolve(context.Background(), &ChatRequest{
		Message:   "what are your hours",
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if env.Source != model.SourceAPI {
		t.Errorf("source = %q, want degraded live call", env.Source)
	}
}

func TestResolveInactivePairsAreIgnored(t *testing.T) {
	// ListActive 已在仓储层过滤，这里验证空结果直接落到实时调用。
	h := newHarness([]model.TrainingPair{})

	env, err := h.svc.Resolve(context.Background(), &ChatRequest{
		Message:   "what are your hours",
		SessionID: "s1",
	})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if env.Source != model.SourceAPI {
		t.Errorf("source = %q, want %q", env.Source, model.SourceAPI)
	}
	if h.adapter.calls != 1 {
		t.Errorf("adapter calls = %d, want 1", h.adapter.calls)
	}
}

func TestResolveGeneratesSessionIDWhenMissing(t *testing.T) {
	h := newHarness([]model.TrainingPair{
		{ID: 1, Question: "hello there", Answer: "hi", Status: model.TrainingStatusActive},
	})

	env, err := h.svc.Resolve(context.Background(), &ChatRequest{Message: "hello there"})
	if err != nil {
		t.Fatalf("Resolve returned error: %v", err)
	}
	if env.SessionID == "" {
		t.Error("expected a generated session id")
	}
}
