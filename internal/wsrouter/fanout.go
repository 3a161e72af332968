package wsrouter

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/nimbleai/internal/metrics"
	"github.com/eldtechnologies/nimbleai/internal/models"
	"github.com/eldtechnologies/nimbleai/internal/store"
)

// Fanout pushes frames to connections and prunes the ones that are gone.
type Fanout struct {
	conns  store.ConnectionStore
	pusher Pusher
	logger zerolog.Logger
}

// NewFanout creates a Fanout.
func NewFanout(conns store.ConnectionStore, pusher Pusher, logger zerolog.Logger) *Fanout {
	return &Fanout{conns: conns, pusher: pusher, logger: logger}
}

// Send pushes frame to a single connection. A gone connection is removed
// from the store and ErrGone is returned.
func (f *Fanout) Send(ctx context.Context, connectionID string, frame models.Frame) error {
	data, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	return f.push(ctx, connectionID, data)
}

func (f *Fanout) push(ctx context.Context, connectionID string, data []byte) error {
	err := f.pusher.Push(ctx, connectionID, data)
	switch {
	case err == nil:
		metrics.SocketPushes.WithLabelValues("ok").Inc()
		return nil
	case errors.Is(err, ErrGone):
		metrics.SocketPushes.WithLabelValues("gone").Inc()
		if delErr := f.conns.DeleteConnection(ctx, connectionID); delErr != nil {
			f.logger.Warn().Err(delErr).Str("connection_id", connectionID).Msg("failed to prune stale connection")
		} else {
			metrics.StaleConnectionsPruned.Inc()
			f.logger.Debug().Str("connection_id", connectionID).Msg("pruned stale connection")
		}
		return ErrGone
	default:
		metrics.SocketPushes.WithLabelValues("error").Inc()
		return err
	}
}

// Broadcast pushes frame to every connection of userID except the one named
// by except. Individual push failures are logged and skipped; the number of
// connections that received the frame is returned.
func (f *Fanout) Broadcast(ctx context.Context, userID string, frame models.Frame, except string) (int, error) {
	conns, err := f.conns.ListUserConnections(ctx, userID)
	if err != nil {
		return 0, err
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return 0, err
	}

	delivered := 0
	for _, c := range conns {
		if c.ConnectionID == except {
			continue
		}
		if err := f.push(ctx, c.ConnectionID, data); err != nil {
			if !errors.Is(err, ErrGone) {
				f.logger.Warn().
					Err(err).
					Str("user_id", userID).
					Str("connection_id", c.ConnectionID).
					Msg("broadcast push failed")
			}
			continue
		}
		delivered++
	}

	return delivered, nil
}
