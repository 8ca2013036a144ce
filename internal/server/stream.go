package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/krxwatch/krxwatch/internal/progress"
)

// streamInterval is the push cadence for progress snapshots.
const streamInterval = time.Second

// ProgressStream pushes collect-all progress snapshots over a websocket
// until the job reaches a terminal state or the client goes away.
type ProgressStream struct {
	registry *progress.Registry
	log      zerolog.Logger
}

// NewProgressStream creates the progress websocket handler.
func NewProgressStream(registry *progress.Registry, log zerolog.Logger) *ProgressStream {
	return &ProgressStream{
		registry: registry,
		log:      log.With().Str("handler", "progress_stream").Logger(),
	}
}

func (s *ProgressStream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.Debug().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	ctx := r.Context()
	ticker := time.NewTicker(streamInterval)
	defer ticker.Stop()

	var lastSent progress.Snapshot
	for {
		snap := s.registry.Get(progress.JobCollectAll)
		if snap != lastSent {
			if err := s.write(ctx, conn, snap); err != nil {
				return
			}
			lastSent = snap
		}

		// Keep streaming one terminal snapshot, then stop.
		if snap.Status != progress.StatusInProgress && snap.Status != progress.StatusIdle {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *ProgressStream) write(ctx context.Context, conn *websocket.Conn, snap progress.Snapshot) error {
	writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return wsjson.Write(writeCtx, conn, snap)
}
