package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"vrpdicho/internal/jobs"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(_ *http.Request) bool { return true }}

// wsMessage is one job event sent over the websocket.
type wsMessage struct {
	Type string         `json:"type"`
	Data map[string]any `json:"data,omitempty"`
}

// jobWS streams the same events as jobStream over a websocket. The server closes the
// connection after the job's done event.
func (s *Server) jobWS(w http.ResponseWriter, r *http.Request, id string) {
	ch := s.Broker.Subscribe(id)
	defer s.Broker.Unsubscribe(id, ch)
	job, err := s.Store.GetJob(r.Context(), id)
	if err != nil {
		s.jobError(w, r, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() { _ = conn.Close() }()

	conn.SetReadLimit(1 << 16)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error { _ = conn.SetReadDeadline(time.Now().Add(60 * time.Second)); return nil })

	// the client only sends control frames; the read loop ends when it goes away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	write := func(evt SSEEvent) error {
		_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
		return conn.WriteJSON(wsMessage{Type: evt.Type, Data: evt.Data})
	}
	closeNormal := func() {
		_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished"), time.Now().Add(time.Second))
	}

	if err := write(SSEEvent{Type: jobs.EventStatus, Data: map[string]any{"jobId": id, "status": job.Status}}); err != nil {
		return
	}
	if job.Status.Terminal() {
		_ = write(doneEvent(job))
		closeNormal()
		return
	}

	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()
	for {
		select {
		case <-gone:
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			if err := write(evt); err != nil {
				return
			}
			if evt.Type == jobs.EventDone {
				closeNormal()
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return
			}
		}
	}
}
