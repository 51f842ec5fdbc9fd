// Package dialogue drives the clarify-or-resolve turn cycle.
//
// The Manager is the only component that mutates conversations: it loads
// state, scores the incoming message, either asks a clarifying question
// or forwards the resolved request to the generative backend, and
// persists every step. One turn is decided at a time per conversation.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/aimai-dev/aimai/internal/assess"
	"github.com/aimai-dev/aimai/internal/backend"
	"github.com/aimai-dev/aimai/internal/compose"
	"github.com/aimai-dev/aimai/internal/conversation"
)

// ErrEmptyMessage rejects blank input before any state is touched.
var ErrEmptyMessage = errors.New("empty message")

// fallbackQuestion is asked when the composer has no applicable template.
const fallbackQuestion = "すみません、もう少し詳しく教えてもらえますか？"

// degradedNotice is appended as the assistant turn when the backend
// cannot produce an answer.
const degradedNotice = "申し訳ありません。現在応答を生成できません。しばらくしてからもう一度お試しください。"

// Topic hints are content tokens of this rune range. The lower bound
// drops particles and fillers; the upper bound keeps an unsegmented
// Japanese sentence from becoming one giant hint.
const (
	minHintRunes = 4
	maxHintRunes = 16
)

// Options carries the dialogue tunables. A zero Options selects
// DefaultOptions; a partially filled one is used as-is.
type Options struct {
	Threshold      float64       // is-ambiguous cutoff
	MaxRounds      int           // clarification rounds before forcing an answer
	RecentWindow   int           // recently-used template ids remembered
	TopicHintLimit int           // topic hints kept per conversation
	BackendTimeout time.Duration // per-generate bound
}

// DefaultOptions returns the standard tunables.
func DefaultOptions() Options {
	return Options{
		Threshold:      0.5,
		MaxRounds:      2,
		RecentWindow:   3,
		TopicHintLimit: 5,
		BackendTimeout: 30 * time.Second,
	}
}

// Reply is the outcome of one handled user message.
type Reply struct {
	ConversationID string
	Text           string
	State          conversation.State
	Round          int
}

// Manager owns the per-turn state machine.
type Manager struct {
	store     conversation.Store
	assessor  *assess.Assessor
	composer  *compose.Composer
	generator backend.Generator
	opts      Options
	logger    *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New wires the dialogue manager. A nil logger disables logging.
func New(store conversation.Store, assessor *assess.Assessor, composer *compose.Composer, generator backend.Generator, opts Options, logger *zap.Logger) *Manager {
	if opts == (Options{}) {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		store:     store,
		assessor:  assessor,
		composer:  composer,
		generator: generator,
		opts:      opts,
		logger:    logger,
		locks:     map[string]*sync.Mutex{},
	}
}

// HandleUserMessage runs one full turn: assess the message, then either
// ask a clarifying question or resolve through the backend. An empty id
// targets the active conversation; an unknown id gets a fresh
// conversation created under it.
func (m *Manager) HandleUserMessage(ctx context.Context, conversationID, text string) (Reply, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Reply{}, ErrEmptyMessage
	}

	conv, err := m.target(ctx, conversationID)
	if err != nil {
		return Reply{}, err
	}

	lock := m.lockFor(conv.ID)
	lock.Lock()
	defer lock.Unlock()

	// Reload under the lock so the turn sees the latest persisted state.
	conv, err = m.store.Load(ctx, conv.ID)
	if err != nil {
		return Reply{}, fmt.Errorf("loading conversation: %w", err)
	}

	meta := conv.Metadata
	// A crash can leave a conversation persisted mid-resolve; treat the
	// relic as ready for input.
	if meta.State == conversation.StateResolving {
		meta.State = conversation.StateAwaitingInput
	}

	// Assess against the snapshot as it stood before this message: a
	// pending clarifying question switches the assessor into reply mode.
	assessment := m.assessor.Assess(text, conv.Snapshot())
	meta.TopicHints = mergeTopicHints(meta.TopicHints, text, m.opts.TopicHintLimit)

	userTurn := conversation.NewTurn(conversation.RoleUser, text)
	userTurn.Assessment = &assessment

	m.logger.Info("turn assessed",
		zap.String("conversation", conv.ID),
		zap.Float64("score", assessment.Score),
		zap.Strings("categories", categoryStrings(assessment.Categories)),
		zap.Int("round", meta.ClarificationRound))

	if assessment.Score >= m.opts.Threshold && meta.ClarificationRound < m.opts.MaxRounds {
		return m.clarify(ctx, conv.ID, userTurn, meta, assessment)
	}
	return m.resolve(ctx, conv.ID, userTurn, meta)
}

// StartNew supersedes the active conversation and returns a fresh one.
func (m *Manager) StartNew(ctx context.Context) (conversation.Conversation, error) {
	return m.store.Reset(ctx)
}

// Current returns the active conversation, creating one on first use.
func (m *Manager) Current(ctx context.Context) (conversation.Conversation, error) {
	return m.store.Current(ctx)
}

// ─── Transition branches ────────────────────────────────────────────────────

// clarify appends the user turn and a composed follow-up question, then
// advances the round counters. The backend is not contacted.
func (m *Manager) clarify(ctx context.Context, id string, userTurn conversation.Turn, meta conversation.Metadata, a conversation.Assessment) (Reply, error) {
	meta.State = conversation.StateClarifying

	conv, err := m.store.Append(ctx, id, userTurn, meta)
	if err != nil {
		return Reply{}, fmt.Errorf("appending user turn: %w", err)
	}

	question, err := m.composer.Compose(a, conv.Snapshot())
	if err != nil {
		// A misconfigured template table must not kill the turn.
		m.logger.Warn("composer has no applicable template, using fallback question",
			zap.String("conversation", id),
			zap.Error(err))
		question = compose.Question{Text: fallbackQuestion}
	}

	meta = conv.Metadata
	meta.ClarificationRound++
	meta.Clarifications++
	meta.LastAmbiguity = a.Primary()
	if question.TemplateID != "" {
		meta.RecentTemplates = pushRecent(meta.RecentTemplates, question.TemplateID, m.opts.RecentWindow)
	}

	if _, err := m.store.Append(ctx, id, conversation.NewTurn(conversation.RoleAssistant, question.Text), meta); err != nil {
		return Reply{}, fmt.Errorf("appending question turn: %w", err)
	}

	m.logger.Info("clarifying",
		zap.String("conversation", id),
		zap.String("template", question.TemplateID),
		zap.Int("round", meta.ClarificationRound))

	return Reply{
		ConversationID: id,
		Text:           question.Text,
		State:          conversation.StateClarifying,
		Round:          meta.ClarificationRound,
	}, nil
}

// resolve appends the user turn in the resolving state, forwards the
// enriched prompt to the backend, and appends the answer. Any backend
// failure degrades to a notice turn; either way the round counter resets
// and the conversation returns to awaiting input.
func (m *Manager) resolve(ctx context.Context, id string, userTurn conversation.Turn, meta conversation.Metadata) (Reply, error) {
	meta.State = conversation.StateResolving

	conv, err := m.store.Append(ctx, id, userTurn, meta)
	if err != nil {
		return Reply{}, fmt.Errorf("appending user turn: %w", err)
	}

	snap := conv.Snapshot()
	genCtx, cancel := ctx, context.CancelFunc(func() {})
	if m.opts.BackendTimeout > 0 {
		genCtx, cancel = context.WithTimeout(ctx, m.opts.BackendTimeout)
	}
	answer, genErr := m.generator.Generate(genCtx, renderPrompt(snap), snap)
	cancel()
	if genErr != nil {
		m.logger.Warn("backend failed, degrading turn",
			zap.String("conversation", id),
			zap.Error(genErr))
		answer = degradedNotice
	}

	meta = conv.Metadata
	meta.State = conversation.StateAwaitingInput
	meta.ClarificationRound = 0

	if _, err := m.store.Append(ctx, id, conversation.NewTurn(conversation.RoleAssistant, answer), meta); err != nil {
		return Reply{}, fmt.Errorf("appending answer turn: %w", err)
	}

	m.logger.Info("resolved",
		zap.String("conversation", id),
		zap.Bool("degraded", genErr != nil))

	return Reply{
		ConversationID: id,
		Text:           answer,
		State:          conversation.StateAwaitingInput,
		Round:          0,
	}, nil
}

// ─── Helpers ────────────────────────────────────────────────────────────────

// target resolves which conversation a request addresses.
func (m *Manager) target(ctx context.Context, id string) (conversation.Conversation, error) {
	if id == "" {
		return m.store.Current(ctx)
	}
	conv, err := m.store.Load(ctx, id)
	if errors.Is(err, conversation.ErrNotFound) {
		return m.store.Create(ctx, id)
	}
	return conv, err
}

// lockFor returns the mutex guarding the given conversation id. Locks are
// never removed; a conversation id costs one mutex for the process
// lifetime.
func (m *Manager) lockFor(id string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// renderPrompt flattens the conversation into a single prompt for the
// backend: labeled turn history, accumulated topic hints, and the
// instruction to answer the latest message.
func renderPrompt(snap conversation.Snapshot) string {
	var b strings.Builder
	b.WriteString("これまでの会話:\n")
	for _, t := range snap.Turns {
		switch t.Role {
		case conversation.RoleUser:
			b.WriteString("ユーザー: ")
		case conversation.RoleAssistant:
			b.WriteString("アシスタント: ")
		}
		b.WriteString(t.Content)
		b.WriteString("\n")
	}
	if len(snap.Metadata.TopicHints) > 0 {
		b.WriteString("話題の手がかり: ")
		b.WriteString(strings.Join(snap.Metadata.TopicHints, "、"))
		b.WriteString("\n")
	}
	b.WriteString("最後のユーザーの発言に答えてください。")
	return b.String()
}

// mergeTopicHints harvests content tokens from the message and merges
// them into the hint list: newest last, re-mentions moved to newest,
// list trimmed to limit.
func mergeTopicHints(hints []string, text string, limit int) []string {
	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsPunct(r)
	})
	for _, token := range tokens {
		n := utf8.RuneCountInString(token)
		if n < minHintRunes || n > maxHintRunes {
			continue
		}
		hints = removeString(hints, token)
		hints = append(hints, token)
	}
	if limit > 0 && len(hints) > limit {
		hints = hints[len(hints)-limit:]
	}
	return hints
}

// pushRecent appends id and trims the window from the front.
func pushRecent(recent []string, id string, window int) []string {
	recent = removeString(recent, id)
	recent = append(recent, id)
	if window > 0 && len(recent) > window {
		recent = recent[len(recent)-window:]
	}
	return recent
}

func removeString(list []string, s string) []string {
	var out []string
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func categoryStrings(categories []conversation.Category) []string {
	out := make([]string, len(categories))
	for i, c := range categories {
		out[i] = string(c)
	}
	return out
}
