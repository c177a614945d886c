// Package memory maintains the rolling conversational context of a chat
// session: the not-yet-summarized tail of its messages plus a cumulative,
// append-only summary.
//
// State is never cached. It is rebuilt from persisted messages and the
// stored summary document at the start of every turn, and only its effects
// (new messages, the updated summary) are written back by the caller.
//
// The size budget is measured in whitespace-delimited words. This is a rough
// proxy for model tokens and is kept as a heuristic threshold on purpose.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/agentx/chatbot-backend/internal/apperr"
	"github.com/agentx/chatbot-backend/internal/metrics"
	"github.com/agentx/chatbot-backend/internal/models"
)

// DefaultMaxTokenLimit is the word budget of the rolling history
const DefaultMaxTokenLimit = 100

// DefaultSummaryPrompt introduces the conversation sent for compression
const DefaultSummaryPrompt = "Summarize the following conversation concisely and clearly:"

// ErrCompressionFailed is returned when a compression pass could not produce a summary
var ErrCompressionFailed = errors.New("memory: compression failed")

// Role tags an entry of the rolling history
type Role string

// Roles and the labels used when formatting context
const (
	RoleUser Role = "User"
	RoleAI   Role = "AI"
)

// Entry is one role-tagged fragment of the rolling history
type Entry struct {
	Role Role
	Text string
}

// Summarizer collapses a conversation into a short text.
// The LLM gateway implements it.
type Summarizer interface {
	Summarize(ctx context.Context, prompt string) (string, error)
}

// Option configures a Manager
type Option func(*Manager)

// WithMaxTokenLimit sets the word budget. Non-positive values keep the default.
func WithMaxTokenLimit(limit int) Option {
	return func(m *Manager) {
		if limit > 0 {
			m.maxTokenLimit = limit
		}
	}
}

// WithSummaryPrompt replaces the compression instruction
func WithSummaryPrompt(prompt string) Option {
	return func(m *Manager) {
		if prompt != "" {
			m.prompt = prompt
		}
	}
}

// WithLogger sets the logger used for compression passes
func WithLogger(logger *logrus.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

// Manager builds and advances per-turn memory state
type Manager struct {
	summarizer    Summarizer
	maxTokenLimit int
	prompt        string
	logger        *logrus.Logger
}

// NewManager creates a Manager that compresses through summarizer
func NewManager(summarizer Summarizer, opts ...Option) *Manager {
	m := &Manager{
		summarizer:    summarizer,
		maxTokenLimit: DefaultMaxTokenLimit,
		prompt:        DefaultSummaryPrompt,
		logger:        logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// MaxTokenLimit returns the configured word budget
func (m *Manager) MaxTokenLimit() int {
	return m.maxTokenLimit
}

// State is the rolling memory of one session for one turn
type State struct {
	history       []Entry
	summary       string
	summaryCount  int
	covered       int
	maxTokenLimit int
}

// Reconstruct builds the state of a session from its persisted messages and
// stored summary document. Messages already folded into the summary are
// skipped. A sender other than "user" or "bot" is a data integrity failure.
// The input slice is not modified.
func (m *Manager) Reconstruct(messages []models.Message, stored models.Summary) (*State, error) {
	sorted := make([]models.Message, len(messages))
	copy(sorted, messages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	covered := stored.Covered
	if covered < 0 {
		covered = 0
	}
	if covered > len(sorted) {
		covered = len(sorted)
	}

	state := &State{
		history:       make([]Entry, 0, len(sorted)-covered),
		summary:       stored.Text,
		summaryCount:  stored.PassCount(),
		covered:       covered,
		maxTokenLimit: m.maxTokenLimit,
	}

	for i, msg := range sorted {
		role, err := roleFor(msg.Sender)
		if err != nil {
			return nil, apperr.E(apperr.ErrDataIntegrity, "memory.reconstruct",
				fmt.Errorf("message %s: %w", msg.ID, err))
		}
		if i < covered {
			continue
		}
		state.history = append(state.history, Entry{Role: role, Text: msg.Content.Text})
	}

	return state, nil
}

// RecordTurn appends a user and a bot entry to the rolling history. When the
// history then exceeds the word budget, exactly one compression pass runs
// before returning: the summary gains a tagged block and the history is
// emptied.
//
// If compression fails the recorded turn stays in the history, the summary is
// left untouched and an error wrapping ErrCompressionFailed is returned.
func (m *Manager) RecordTurn(ctx context.Context, s *State, userText, botText string) error {
	s.history = append(s.history,
		Entry{Role: RoleUser, Text: userText},
		Entry{Role: RoleAI, Text: botText},
	)

	words := s.TokenCount()
	if words <= s.maxTokenLimit {
		return nil
	}

	pass := s.summaryCount + 1
	log := m.logger.WithFields(logrus.Fields{
		"pass":  pass,
		"words": words,
		"limit": s.maxTokenLimit,
	})
	log.Info("Compressing rolling history")

	if m.summarizer == nil {
		metrics.CompressionPasses.WithLabelValues("failure").Inc()
		return fmt.Errorf("%w: no summarizer configured", ErrCompressionFailed)
	}

	prompt := m.prompt + "\n" + s.formattedHistory()
	text, err := m.summarizer.Summarize(ctx, prompt)
	if err != nil {
		metrics.CompressionPasses.WithLabelValues("failure").Inc()
		log.WithError(err).Warn("Compression pass failed")
		return fmt.Errorf("%w: %w", ErrCompressionFailed, err)
	}
	text = strings.TrimSpace(text)
	if text == "" {
		metrics.CompressionPasses.WithLabelValues("failure").Inc()
		return fmt.Errorf("%w: empty summary", ErrCompressionFailed)
	}

	s.summary += fmt.Sprintf("\n%s%d]: %s", models.SummaryTagPrefix, pass, text)
	s.summaryCount = pass
	s.covered += len(s.history)
	s.history = []Entry{}

	metrics.CompressionPasses.WithLabelValues("success").Inc()
	log.Info("Compression pass complete")
	return nil
}

// FormatContext returns the prompt context: the summary followed by one
// "Role: text" line per history entry, trimmed.
func (s *State) FormatContext() string {
	return strings.TrimSpace(strings.TrimSpace(s.summary) + "\n" + s.formattedHistory())
}

// TokenCount returns the word count of the rolling history
func (s *State) TokenCount() int {
	total := 0
	for _, e := range s.history {
		total += WordCount(e.Text)
	}
	return total
}

// History returns a copy of the rolling history
func (s *State) History() []Entry {
	out := make([]Entry, len(s.history))
	copy(out, s.history)
	return out
}

// SummaryText returns the cumulative summary
func (s *State) SummaryText() string {
	return s.summary
}

// SummaryCount returns how many compression passes the session has had
func (s *State) SummaryCount() int {
	return s.summaryCount
}

// Summary returns the document to persist in chat_sessions.summary
func (s *State) Summary() models.Summary {
	return models.Summary{
		Text:    s.summary,
		Count:   s.summaryCount,
		Covered: s.covered,
	}
}

func (s *State) formattedHistory() string {
	lines := make([]string, len(s.history))
	for i, e := range s.history {
		lines[i] = string(e.Role) + ": " + e.Text
	}
	return strings.Join(lines, "\n")
}

// WordCount counts whitespace-delimited words
func WordCount(text string) int {
	return len(strings.Fields(text))
}

func roleFor(sender models.Sender) (Role, error) {
	switch sender {
	case models.SenderUser:
		return RoleUser, nil
	case models.SenderBot:
		return RoleAI, nil
	default:
		return "", fmt.Errorf("%w: %q", models.ErrUnknownSender, string(sender))
	}
}
