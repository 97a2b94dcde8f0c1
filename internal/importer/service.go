package importer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/importcsv/importcsv-go/internal/schema"
)

// DefaultSessionTTL is how long a finished session stays queryable before
// being dropped from tracking.
const DefaultSessionTTL = 30 * time.Minute

// ServiceOptions tunes session handling. Zero values pick the defaults.
type ServiceOptions struct {
	InitialWindow int
	ChunkSize     int
	MaxConcurrent int
	MaxWaitTime   time.Duration
	SessionTTL    time.Duration
}

// Service owns the live import sessions. It hands out session ids, enforces
// the concurrency cap, and drops finished sessions after a grace period so
// late result fetches still succeed.
type Service struct {
	opts    ServiceOptions
	limiter *SessionLimiter
	logger  *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewService creates a session service.
func NewService(opts ServiceOptions, logger *slog.Logger) *Service {
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		opts:     opts,
		limiter:  NewSessionLimiter(opts.MaxConcurrent, opts.MaxWaitTime),
		logger:   logger,
		sessions: make(map[string]*Session),
	}
}

// StartSession creates a session at the upload step for the named importer
// over already-parsed file data. Waits for a concurrency slot up to the
// configured limit; the slot is released when the session finishes.
func (s *Service) StartSession(ctx context.Context, importerKey string, file FileData) (*Session, error) {
	def, ok := Lookup(importerKey)
	if !ok {
		return nil, fmt.Errorf("unknown importer: %s", importerKey)
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}

	if len(file.SheetList) > 1 {
		s.logger.Warn("multi-sheet upload, processing first sheet only",
			"importer", importerKey,
			"file", file.FileName,
			"sheets", len(file.SheetList),
		)
	}

	id := uuid.New().String()
	session := NewSession(id, def, file, s.opts.InitialWindow, s.opts.ChunkSize)
	session.SetTerminalHook(func() {
		s.limiter.Release()
		s.scheduleCleanup(id)
	})

	s.mu.Lock()
	s.sessions[id] = session
	s.mu.Unlock()

	s.logger.Info("import session started",
		"session_id", id,
		"importer", importerKey,
		"file", file.FileName,
		"rows", len(file.Rows),
	)
	return session, nil
}

// GetSession looks up a live or recently finished session.
func (s *Service) GetSession(id string) (*Session, error) {
	s.mu.RLock()
	session, ok := s.sessions[id]
	s.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("session not found: %s", id)
	}
	return session, nil
}

// CancelSession cancels a session by id.
func (s *Service) CancelSession(id string) error {
	session, err := s.GetSession(id)
	if err != nil {
		return err
	}
	if err := session.Cancel(); err != nil {
		return err
	}
	s.logger.Info("import session cancelled", "session_id", id)
	return nil
}

// Sessions returns a snapshot of all tracked sessions.
func (s *Service) Sessions() []*Session {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Session, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	return out
}

// ServiceStatus reports slot usage and tracked session counts for the
// monitoring endpoint.
type ServiceStatus struct {
	ActiveSessions  int `json:"active_sessions"`
	AvailableSlots  int `json:"available_slots"`
	MaxConcurrent   int `json:"max_concurrent"`
	TrackedSessions int `json:"tracked_sessions"`
}

// Status returns a point-in-time view of session concurrency.
func (s *Service) Status() ServiceStatus {
	s.mu.RLock()
	tracked := len(s.sessions)
	s.mu.RUnlock()

	return ServiceStatus{
		ActiveSessions:  s.limiter.ActiveCount(),
		AvailableSlots:  s.limiter.Available(),
		MaxConcurrent:   s.limiter.MaxConcurrent(),
		TrackedSessions: tracked,
	}
}

// Drain blocks until all live sessions finish or the context is cancelled.
// Used for graceful shutdown.
func (s *Service) Drain(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// scheduleCleanup drops a finished session from tracking after the TTL.
func (s *Service) scheduleCleanup(id string) {
	time.AfterFunc(s.opts.SessionTTL, func() {
		s.mu.Lock()
		delete(s.sessions, id)
		s.mu.Unlock()
	})
}

// Importers returns the registered importer definitions for discovery
// endpoints.
func (s *Service) Importers() []schema.Definition {
	return Definitions()
}
