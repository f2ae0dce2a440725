package chat

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/ragchat/backend/internal/metrics"
	"github.com/zhouzirui/ragchat/backend/internal/model/chat"
	"github.com/zhouzirui/ragchat/backend/internal/model/rag"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrHostNotConfigured = errors.New("microservice host is not configured")
	ErrChatClosed        = errors.New("chat window is closed")
	ErrUploadUnavailable = errors.New("document upload is not available")
)

// AnswererFactory builds the reply pipeline for a microservice base URL.
type AnswererFactory func(ctx context.Context, baseURL string) (Answerer, error)

// Uploader forwards documents to a microservice knowledge base.
type Uploader interface {
	Upload(ctx context.Context, req rag.UploadRequest) (*rag.UploadResponse, error)
}

// UploaderFactory returns the Uploader for a microservice base URL.
type UploaderFactory func(baseURL string) Uploader

// Config tunes the session service.
type Config struct {
	// DefaultHost pre-configures new sessions. It must already be normalized.
	DefaultHost  string
	IdleTimeout  time.Duration
	Conversation Options
	// Now overrides the clock used for idle tracking.
	Now func() time.Time
}

type session struct {
	info chat.Session
	conv *Conversation
}

// Service plays the host shell for every widget: it owns each session's microservice
// host and mounts or unmounts its conversation as the chat window opens and closes.
type Service struct {
	mu        sync.RWMutex
	sessions  map[string]*session
	answerers AnswererFactory
	uploaders UploaderFactory
	cfg       Config
	now       func() time.Time
}

// NewService creates an empty in-memory session registry.
func NewService(answerers AnswererFactory, uploaders UploaderFactory, cfg Config) *Service {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = time.Hour
	}
	now := cfg.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		sessions:  make(map[string]*session),
		answerers: answerers,
		uploaders: uploaders,
		cfg:       cfg,
		now:       now,
	}
}

// CreateSession provisions a widget session. An empty host falls back to the default host,
// which may leave the session unconfigured.
func (s *Service) CreateSession(_ context.Context, host string) (chat.Session, error) {
	baseURL := s.cfg.DefaultHost
	if host != "" {
		normalized, err := chat.NormalizeHost(host)
		if err != nil {
			return chat.Session{}, err
		}
		baseURL = normalized
	}

	now := s.now()
	info := chat.Session{
		ID:               uuid.NewString(),
		MicroserviceHost: baseURL,
		CreatedAt:        now,
		LastSeen:         now,
	}

	s.mu.Lock()
	s.sessions[info.ID] = &session{info: info}
	s.mu.Unlock()

	metrics.SessionsActive.Inc()
	log.Info().Str("component", "session").Str("session", info.ID).Bool("configured", info.Configured()).Msg("session created")
	return info, nil
}

// GetSession returns the session and marks it as recently used.
func (s *Service) GetSession(_ context.Context, sessionID string) (chat.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	sess.info.LastSeen = s.now()
	return sess.info, nil
}

// Configure sets the microservice host. A mounted conversation is unmounted because
// its host is fixed for the lifetime of the mount.
func (s *Service) Configure(_ context.Context, sessionID, host string) (chat.Session, error) {
	baseURL, err := chat.NormalizeHost(host)
	if err != nil {
		return chat.Session{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return chat.Session{}, ErrSessionNotFound
	}
	s.unmountLocked(sess)
	sess.info.MicroserviceHost = baseURL
	sess.info.LastSeen = s.now()

	log.Info().Str("component", "session").Str("session", sessionID).Str("host", baseURL).Msg("microservice host configured")
	return sess.info, nil
}

// OpenChat mounts a conversation for the session, or returns the one already mounted.
func (s *Service) OpenChat(ctx context.Context, sessionID string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.info.LastSeen = s.now()

	if sess.conv != nil {
		return sess.conv, nil
	}
	if !sess.info.Configured() {
		return nil, ErrHostNotConfigured
	}

	answerer, err := s.answerers(ctx, sess.info.MicroserviceHost)
	if err != nil {
		return nil, fmt.Errorf("build answer pipeline: %w", err)
	}

	conv := NewConversation(answerer, s.cfg.Conversation)
	conv.onActivity = func() { _ = s.Touch(context.Background(), sessionID) }
	sess.conv = conv
	sess.info.ChatOpen = true
	metrics.ConversationsMounted.Inc()

	log.Info().Str("component", "session").Str("session", sessionID).Str("conversation", sess.conv.ID()).Msg("chat opened")
	return sess.conv, nil
}

// Touch marks the session as recently used without returning it.
func (s *Service) Touch(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	sess.info.LastSeen = s.now()
	return nil
}

// CloseChat unmounts the session's conversation, discarding its log.
func (s *Service) CloseChat(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	sess.info.LastSeen = s.now()
	s.unmountLocked(sess)
	return nil
}

// Conversation returns the mounted conversation of the session.
func (s *Service) Conversation(_ context.Context, sessionID string) (*Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.info.LastSeen = s.now()
	if sess.conv == nil {
		return nil, ErrChatClosed
	}
	return sess.conv, nil
}

// UploadDocument forwards a document to the knowledge base of the session's microservice.
func (s *Service) UploadDocument(ctx context.Context, sessionID string, req rag.UploadRequest) (*rag.UploadResponse, error) {
	info, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !info.Configured() {
		return nil, ErrHostNotConfigured
	}
	if s.uploaders == nil {
		return nil, ErrUploadUnavailable
	}

	resp, err := s.uploaders(info.MicroserviceHost).Upload(ctx, req)
	if err != nil {
		metrics.DocumentUploadsTotal.WithLabelValues("failure").Inc()
		return nil, err
	}

	metrics.DocumentUploadsTotal.WithLabelValues("success").Inc()
	log.Info().Str("component", "session").Str("session", sessionID).Str("file", req.Filename).Msg("document uploaded")
	return resp, nil
}

// DeleteSession unmounts and forgets the session.
func (s *Service) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[sessionID]
	if !ok {
		return ErrSessionNotFound
	}
	s.removeLocked(sessionID, sess)
	return nil
}

// SweepIdle forgets sessions unused for longer than the idle timeout and returns how many went.
// A session whose conversation has an exchange in flight or a live subscriber is kept.
func (s *Service) SweepIdle(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if sess.conv != nil && sess.conv.Busy() {
			continue
		}
		if now.Sub(sess.info.LastSeen) > s.cfg.IdleTimeout {
			s.removeLocked(id, sess)
			removed++
		}
	}
	return removed
}

// RunJanitor sweeps idle sessions every interval until ctx ends.
func (s *Service) RunJanitor(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.SweepIdle(s.now()); n > 0 {
				log.Info().Str("component", "session").Int("removed", n).Msg("idle sessions swept")
			}
		}
	}
}

// Close unmounts every conversation. Used on shutdown.
func (s *Service) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, sess := range s.sessions {
		s.removeLocked(id, sess)
	}
}

func (s *Service) unmountLocked(sess *session) {
	if sess.conv != nil {
		sess.conv.Close()
		sess.conv = nil
		metrics.ConversationsMounted.Dec()
		log.Info().Str("component", "session").Str("session", sess.info.ID).Msg("chat closed")
	}
	sess.info.ChatOpen = false
}

func (s *Service) removeLocked(id string, sess *session) {
	s.unmountLocked(sess)
	delete(s.sessions, id)
	metrics.SessionsActive.Dec()
}
