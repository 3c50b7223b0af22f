package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/LeventeLantos/whatsapp-relay/internal/metrics"
	"github.com/LeventeLantos/whatsapp-relay/internal/repo"
)

// StaleSweeper fails audio messages whose delivery task died with the
// process. It is meant to be driven by the scheduler.
type StaleSweeper struct {
	messages   repo.MessageRepository
	staleAfter time.Duration
	metrics    *metrics.Metrics
	now        func() time.Time
}

func NewStaleSweeper(messages repo.MessageRepository, staleAfter time.Duration, m *metrics.Metrics) *StaleSweeper {
	return &StaleSweeper{messages: messages, staleAfter: staleAfter, metrics: m, now: time.Now}
}

func (s *StaleSweeper) Tick(ctx context.Context) {
	n, err := s.messages.FailStale(ctx, s.now().Add(-s.staleAfter))
	if err != nil {
		slog.Error("stale sweep failed", "err", err)
		return
	}
	if n == 0 {
		return
	}
	if s.metrics != nil {
		s.metrics.StaleSwept.Add(float64(n))
	}
	slog.Warn("failed stale processing messages", "count", n, "olderThan", s.staleAfter.String())
}
