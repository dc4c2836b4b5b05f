// Package service is the boundary the terminal UI and the HTTP API talk to:
// sessions, filter toggles and questions.
package service

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"

	"bitechat/internal/agent"
	"bitechat/internal/domain"
	"bitechat/internal/filter"
	"bitechat/internal/session"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrEmptyQuestion   = errors.New("question is empty")
	ErrUnknownFilter   = errors.New("unknown filter")
)

// Responder answers one composed turn given the prior history.
type Responder interface {
	Respond(ctx context.Context, history []domain.Message, input string) agent.Reply
}

// SessionView is a read-only copy of a session.
type SessionView struct {
	ID       string           `json:"session_id"`
	Messages []domain.Message `json:"messages"`
	Filters  []string         `json:"filters"`
}

// Sample is a canned question offered before the first message.
type Sample struct {
	Title    string `json:"title"`
	Question string `json:"question"`
}

var samples = []Sample{
	{"Looking for a dating restaurant", "I am looking for a restaurant for a date. Please recommend a few options near University of Washington with good vibe, services and food."},
	{"Looking for best vegetarian Indian food", "Looking for vegetarian Indian food in Seattle. Please suggest some spots with signature vegie cuisine."},
	{"Looking for a pet-friendly restaurant with parking availability", "I am looking for a pet-friendly restaurant in Seattle with parking availability. Please suggest some options."},
	{"Looking for a good Japanese restaurant near Bellevue", "I am looking for a good Japanese restaurant near Bellevue. Please suggest some options with their popular dishes."},
}

// ChatService ties sessions to the agent.
type ChatService struct {
	sessions  *session.Store
	responder Responder
	logger    *zap.Logger
}

func NewChatService(sessions *session.Store, responder Responder, logger *zap.Logger) *ChatService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatService{sessions: sessions, responder: responder, logger: logger.Named("chat")}
}

// CreateSession starts an empty conversation and returns its id.
func (s *ChatService) CreateSession() string {
	return s.sessions.Create().ID
}

// Session returns a snapshot of the conversation and active filters.
func (s *ChatService) Session(id string) (SessionView, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return SessionView{}, errors.Wrap(ErrSessionNotFound, id)
	}
	sess.Lock()
	defer sess.Unlock()
	return SessionView{ID: sess.ID, Messages: sess.History(), Filters: sess.Filters().Labels()}, nil
}

// ToggleFilter ticks or unticks a checkbox, named by display text or label, and
// returns the active labels.
func (s *ChatService) ToggleFilter(id, name string, enabled bool) ([]string, error) {
	label, ok := filter.Resolve(name)
	if !ok {
		return nil, errors.Wrap(ErrUnknownFilter, name)
	}
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, errors.Wrap(ErrSessionNotFound, id)
	}
	sess.Lock()
	defer sess.Unlock()
	sess.Filters().Toggle(label, enabled)
	return sess.Filters().Labels(), nil
}

// Ask runs one turn. The question is sent with the active filters appended and
// stored that way, so later turns see what the model answered. Turns on the same
// session run one at a time.
func (s *ChatService) Ask(ctx context.Context, id, question string) (string, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return "", ErrEmptyQuestion
	}
	sess, ok := s.sessions.Get(id)
	if !ok {
		return "", errors.Wrap(ErrSessionNotFound, id)
	}
	sess.Lock()
	defer sess.Unlock()

	input := filter.ComposeTurn(question, sess.Filters())
	start := time.Now()
	reply := s.responder.Respond(ctx, sess.History(), input)
	sess.Append(
		domain.Message{Role: domain.RoleUser, Content: input},
		domain.Message{Role: domain.RoleAssistant, Content: reply.Answer},
	)
	s.logger.Info("turn finished",
		zap.String("session_id", id),
		zap.Int("filters", sess.Filters().Len()),
		zap.Bool("degraded", reply.Degraded),
		zap.Duration("took", time.Since(start)))
	return reply.Answer, nil
}

// Filters returns the checkbox catalogue.
func (s *ChatService) Filters() []filter.Group { return filter.Catalog() }

// SampleQuestions returns the canned starter questions.
func (s *ChatService) SampleQuestions() []Sample {
	return append([]Sample(nil), samples...)
}
