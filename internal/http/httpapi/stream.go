package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"mealgen/internal/domain"
)

const streamWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// StreamJob pushes every snapshot of a job over a WebSocket and closes the
// connection after the terminal one.
func (a *App) StreamJob(w http.ResponseWriter, r *http.Request) {
	snap, ok := a.ownedSnapshot(w, r)
	if !ok {
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		a.Logger.Warn().Err(err).Str("job_id", snap.JobID).Msg("api: websocket upgrade failed")
		return
	}
	defer conn.Close()

	updates, unsubscribe, err := a.Progress.Subscribe(snap.JobID)
	if errors.Is(err, domain.ErrNotFound) {
		// No longer tracked live: the stored snapshot is final.
		a.writeSnapshot(conn, snap)
		a.closeStream(conn)
		return
	}
	if err != nil {
		a.Logger.Error().Err(err).Str("job_id", snap.JobID).Msg("api: subscribe failed")
		return
	}
	defer unsubscribe()

	// The read loop notices clients that go away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					a.Logger.Debug().Err(err).Str("job_id", snap.JobID).Msg("api: stream client error")
				}
				return
			}
		}
	}()

	for {
		select {
		case <-gone:
			return
		case <-r.Context().Done():
			return
		case s, open := <-updates:
			if !open {
				a.closeStream(conn)
				return
			}
			if err := a.writeSnapshot(conn, s); err != nil {
				return
			}
		}
	}
}

func (a *App) writeSnapshot(conn *websocket.Conn, snap domain.JobSnapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	return conn.WriteJSON(snap)
}

func (a *App) closeStream(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
}
