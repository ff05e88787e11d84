// Package wsapi is the WebSocket subscriber surface (SPEC_FULL §4.6/§4.6.1):
// a per-project long-lived subscriber that can attach/detach a per-thread
// job stream, and a simpler per-job late-joiner endpoint. Both hold a
// single connection-servicing goroutine, since gorilla/websocket forbids
// concurrent writers on one connection.
package wsapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/simage-ai/convoengine/internal/bus"
	"github.com/simage-ai/convoengine/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The engine is consumed by the workspace's own frontend, not arbitrary
	// third-party origins; CheckOrigin is permissive here because origin
	// policy is enforced upstream by the reverse proxy, matching the
	// original's development-mode CORS posture.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler serves both WebSocket endpoints.
type Handler struct {
	Store *store.Store
	Bus   bus.Bus
	Log   zerolog.Logger
}

// clientMessage is one inbound control frame on the per-project connection.
type clientMessage struct {
	Type     string `json:"type"`
	ThreadID string `json:"thread_id"`
}

// ServeProject handles the per-project subscriber endpoint: an
// `active_jobs` snapshot, continuous `job_update` forwarding, and
// subscribe_thread/unsubscribe_thread control frames gating at most one
// job subscription at a time.
func (h *Handler) ServeProject(w http.ResponseWriter, r *http.Request, projectID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Error().Err(err).Msg("wsapi: upgrade failed")
		return
	}
	defer conn.Close()

	ctx := r.Context()

	active, err := h.Store.ActiveJobsForProject(ctx, projectID)
	if err != nil {
		h.Log.Error().Err(err).Msg("wsapi: list active jobs failed")
		return
	}
	threadIDs := make([]string, 0, len(active))
	for _, j := range active {
		threadIDs = append(threadIDs, j.ThreadID)
	}
	if err := writeJSON(conn, map[string]any{"type": "active_jobs", "thread_ids": threadIDs}); err != nil {
		return
	}

	projCh, projCancel, err := h.Bus.SubscribeProject(ctx, projectID)
	if err != nil {
		h.Log.Error().Err(err).Msg("wsapi: subscribe project failed")
		return
	}
	defer projCancel()

	inbound := make(chan clientMessage, 1)
	go readLoop(conn, inbound, h.Log)

	var (
		jobSub   bus.Subscription
		jobEvts  <-chan jobEventOrDone
	)
	detachJob := func() {
		if jobSub != nil {
			jobSub.Close()
			jobSub = nil
			jobEvts = nil
		}
	}
	defer detachJob()

	for {
		select {
		case <-ctx.Done():
			return

		case msg, ok := <-inbound:
			if !ok {
				return
			}
			switch msg.Type {
			case "subscribe_thread":
				detachJob()
				job, err := h.Store.ActiveJobForThread(ctx, msg.ThreadID)
				if err != nil || job == nil {
					continue
				}
				_ = h.Store.TouchPollWatermark(ctx, job.ID)
				// Subscribe before reading the snapshot: an event published
				// in the gap between the two would otherwise show up in
				// neither (SPEC_FULL §1, §5). A duplicate across the
				// boundary is fine; a drop is not.
				sub, err := h.Bus.Subscribe(ctx, job.ID)
				if err != nil {
					continue
				}
				if snap, ok, err := h.Bus.Snapshot(ctx, job.ID); err == nil && ok {
					_ = writeJSON(conn, map[string]any{"type": "job_state", "job_id": job.ID, "state": snap})
				}
				jobSub = sub
				jobEvts = jobEventLoop(ctx, sub)
			case "unsubscribe_thread":
				detachJob()
			}

		case u, ok := <-projCh:
			if !ok {
				return
			}
			if err := writeJSON(conn, map[string]any{"type": "job_update", "update": u}); err != nil {
				return
			}

		case je, ok := <-jobEvts:
			if !ok {
				jobEvts = nil
				continue
			}
			if err := writeJSON(conn, map[string]any{"type": "job_event", "event": je.event}); err != nil {
				return
			}
			if je.event.IsTerminal() {
				detachJob()
			}
		}
	}
}

// ServeJob handles the per-job late-joiner endpoint: if the job is already
// terminal, send one job_state snapshot and close; otherwise snapshot then
// forward until a terminal event.
func (h *Handler) ServeJob(w http.ResponseWriter, r *http.Request, jobID string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Error().Err(err).Msg("wsapi: upgrade failed")
		return
	}
	defer conn.Close()

	ctx := r.Context()

	job, err := h.Store.GetJob(ctx, jobID)
	if err != nil {
		return
	}
	_ = h.Store.TouchPollWatermark(ctx, jobID)

	if job.Status.IsTerminal() {
		if snap, ok, err := h.Bus.Snapshot(ctx, jobID); err == nil && ok {
			_ = writeJSON(conn, map[string]any{"type": "job_state", "job_id": jobID, "state": snap})
		}
		return
	}

	// Subscribe before reading the snapshot, same reasoning as ServeProject
	// above: a drop across the gap would break replay (SPEC_FULL §1, §5).
	sub, err := h.Bus.Subscribe(ctx, jobID)
	if err != nil {
		return
	}
	defer sub.Close()

	if snap, ok, err := h.Bus.Snapshot(ctx, jobID); err == nil && ok {
		_ = writeJSON(conn, map[string]any{"type": "job_state", "job_id": jobID, "state": snap})
	}

	for {
		e, ok := sub.Next(ctx)
		if !ok {
			return
		}
		if err := writeJSON(conn, map[string]any{"type": "job_event", "event": e}); err != nil {
			return
		}
		if e.IsTerminal() {
			return
		}
	}
}

type jobEventOrDone struct{ event bus.Event }

// jobEventLoop adapts a Subscription's blocking Next() into a channel the
// connection's single select statement can multiplex over, without ever
// handing the underlying connection to a second writer goroutine.
func jobEventLoop(ctx context.Context, sub bus.Subscription) <-chan jobEventOrDone {
	out := make(chan jobEventOrDone)
	go func() {
		defer close(out)
		for {
			e, ok := sub.Next(ctx)
			if !ok {
				return
			}
			select {
			case out <- jobEventOrDone{event: e}:
			case <-ctx.Done():
				return
			}
			if e.IsTerminal() {
				return
			}
		}
	}()
	return out
}

func readLoop(conn *websocket.Conn, out chan<- clientMessage, log zerolog.Logger) {
	defer close(out)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Msg("wsapi: malformed client frame")
			continue
		}
		out <- msg
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	return conn.WriteJSON(v)
}
