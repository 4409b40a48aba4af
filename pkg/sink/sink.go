// Package sink persists chat sessions to the external systems the sales
// team works in. Every sink is best-effort: one failing destination never
// blocks the chat turn or the other destinations.
package sink

import (
	"context"
	"log/slog"

	"signchat/pkg/domain"
)

// Sink mirrors a session snapshot into one external destination.
type Sink interface {
	Name() string
	SyncSession(ctx context.Context, s domain.Session) error
}

// SyncAll fans a session out to every sink in order. Failures are logged
// and counted, never propagated: the chat reply has already been produced
// and persistence must not take it back.
func SyncAll(ctx context.Context, log *slog.Logger, sinks []Sink, s domain.Session) int {
	failed := 0
	for _, sk := range sinks {
		if err := sk.SyncSession(ctx, s); err != nil {
			failed++
			log.Warn("session sync failed",
				"sink", sk.Name(),
				"session_id", s.ID,
				"error", err,
			)
			continue
		}
		log.Debug("session synced", "sink", sk.Name(), "session_id", s.ID)
	}
	return failed
}
