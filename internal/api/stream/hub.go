// Package stream pushes render job snapshots to websocket subscribers.
package stream

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/timmy/goldmine/internal/domain"
	"github.com/timmy/goldmine/internal/logger"
	"github.com/timmy/goldmine/internal/telemetry"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 16
)

// Hub fans out job snapshots to the subscribers of each job.
type Hub struct {
	mu   sync.Mutex
	subs map[uint]map[*Subscriber]struct{}
}

// NewHub creates an empty Hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[uint]map[*Subscriber]struct{})}
}

// Subscriber receives the snapshots of one job. C is closed after the
// terminal snapshot or when the subscriber is removed.
type Subscriber struct {
	JobID uint
	C     chan domain.RenderJob

	hub    *Hub
	closed bool
}

// Subscribe registers a subscriber for jobID.
func (h *Hub) Subscribe(jobID uint) *Subscriber {
	s := &Subscriber{JobID: jobID, C: make(chan domain.RenderJob, sendBuffer), hub: h}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.subs[jobID] == nil {
		h.subs[jobID] = make(map[*Subscriber]struct{})
	}
	h.subs[jobID][s] = struct{}{}
	telemetry.StreamSubscribers.Inc()
	return s
}

// Unsubscribe removes s and closes its channel. It is safe to call twice.
func (h *Hub) Unsubscribe(s *Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.remove(s)
}

func (h *Hub) remove(s *Subscriber) {
	if s.closed {
		return
	}
	s.closed = true
	close(s.C)
	if set := h.subs[s.JobID]; set != nil {
		delete(set, s)
		if len(set) == 0 {
			delete(h.subs, s.JobID)
		}
	}
	telemetry.StreamSubscribers.Dec()
}

// Publish delivers job to its subscribers without blocking. A subscriber
// whose buffer is full loses its oldest pending snapshot. Terminal
// snapshots end every subscription of the job.
func (h *Hub) Publish(job domain.RenderJob) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs[job.ID] {
		deliver(s.C, job)
		if job.Status.Terminal() {
			h.remove(s)
		}
	}
}

// Subscribers returns the number of subscribers of jobID.
func (h *Hub) Subscribers(jobID uint) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[jobID])
}

func deliver(c chan domain.RenderJob, job domain.RenderJob) {
	for {
		select {
		case c <- job:
			return
		default:
		}
		select {
		case <-c:
		default:
		}
	}
}

// Serve writes snapshots from s to conn until the subscription ends or the
// peer goes away. initial is sent first. conn is closed on return.
func Serve(conn *websocket.Conn, s *Subscriber, initial domain.RenderJob) {
	defer conn.Close()
	defer s.hub.Unsubscribe(s)

	done := make(chan struct{})
	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	if err := write(conn, initial); err != nil || initial.Status.Terminal() {
		closeNormal(conn)
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	last := initial.ProcessedCount
	for {
		select {
		case job, ok := <-s.C:
			if !ok {
				closeNormal(conn)
				return
			}
			// Snapshots queued before initial was read are stale.
			if job.ProcessedCount < last && !job.Status.Terminal() {
				continue
			}
			last = job.ProcessedCount
			if err := write(conn, job); err != nil {
				logger.Debug("Job stream write failed: job_id=%d, error=%v", s.JobID, err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func write(conn *websocket.Conn, job domain.RenderJob) error {
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(job.Summary())
}

func closeNormal(conn *websocket.Conn) {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "job finished")
	conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
