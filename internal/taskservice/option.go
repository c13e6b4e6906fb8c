package taskservice

import (
	"log/slog"
	"time"

	"github.com/starford/shape/internal/index"
)

// Option is a functional option for configuring the Service.
type Option func(*Service)

// WithIndex attaches the SQLite cache used by List, Search, Stats and the
// brief references in Show.
func WithIndex(db *index.DB) Option {
	return func(s *Service) {
		s.db = db
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithClock overrides the source of timestamps for new and mutated records.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithAgent records who is making changes. New tasks carry it in their
// created_by metadata key.
func WithAgent(name string) Option {
	return func(s *Service) {
		s.agent = name
	}
}

// WithClaimTimeout sets how long a claim holds before other agents may
// take the task over.
func WithClaimTimeout(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.claimTimeout = d
		}
	}
}

// WithAutoUnclaim controls whether completing a task releases its claim.
func WithAutoUnclaim(on bool) Option {
	return func(s *Service) {
		s.autoUnclaim = on
	}
}
