package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/loykin/warden/internal/events"
	"github.com/loykin/warden/internal/orchestrator"
	"github.com/loykin/warden/internal/portscan"
)

// clientBuffer bounds how many frames a slow client may fall behind before
// it is disconnected.
const clientBuffer = 16

// broadcaster fans one status payload out to every connected SSE client.
type broadcaster struct {
	mu      sync.Mutex
	clients map[chan []byte]struct{}
}

func newBroadcaster() *broadcaster {
	return &broadcaster{clients: make(map[chan []byte]struct{})}
}

func (b *broadcaster) add() chan []byte {
	ch := make(chan []byte, clientBuffer)
	b.mu.Lock()
	b.clients[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *broadcaster) remove(ch chan []byte) {
	b.mu.Lock()
	if _, ok := b.clients[ch]; ok {
		delete(b.clients, ch)
		close(ch)
	}
	b.mu.Unlock()
}

// publish delivers payload to every client. A client with a full buffer is
// dropped rather than blocking the publisher.
func (b *broadcaster) publish(payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.clients {
		select {
		case ch <- payload:
		default:
			delete(b.clients, ch)
			close(ch)
		}
	}
}

// stateFrame is the SSE payload: the reconciled views plus the raw listener
// snapshot they were derived from.
type stateFrame struct {
	Servers []orchestrator.StatusView `json:"servers"`
	Ports   []portscan.Entry          `json:"ports"`
}

func (r *Router) statePayload(ctx context.Context) ([]byte, error) {
	snapshot := r.orch.Ports(ctx)
	if snapshot == nil {
		snapshot = []portscan.Entry{}
	}
	return json.Marshal(stateFrame{
		Servers: r.orch.ServerStatus(snapshot),
		Ports:   snapshot,
	})
}

func (r *Router) pushState(ctx context.Context) {
	payload, err := r.statePayload(ctx)
	if err != nil {
		return
	}
	r.bcast.publish(payload)
}

// subscribeEvents pushes a fresh state frame on every monitor tick and on
// every lifecycle transition.
func (r *Router) subscribeEvents() {
	bus := r.orch.Events()
	events.Subscribe(bus, events.TopicHealthCheck, func(ctx context.Context, _ events.HealthCheckEvent) error {
		r.pushState(ctx)
		return nil
	})
	events.Subscribe(bus, events.TopicServerStarted, func(ctx context.Context, _ events.ServerStartedEvent) error {
		r.pushState(ctx)
		return nil
	})
	events.Subscribe(bus, events.TopicServerStopped, func(ctx context.Context, _ events.ServerStoppedEvent) error {
		r.pushState(ctx)
		return nil
	})
	events.Subscribe(bus, events.TopicServerReattached, func(ctx context.Context, _ events.ServerReattachedEvent) error {
		r.pushState(ctx)
		return nil
	})
	events.Subscribe(bus, events.TopicProcessDied, func(ctx context.Context, _ events.ProcessDiedEvent) error {
		r.pushState(ctx)
		return nil
	})
}

// handleEvents streams status frames to the client until it disconnects or
// falls too far behind. A snapshot is sent immediately so new clients render
// without waiting for the next tick.
func (r *Router) handleEvents(c *gin.Context) {
	ch := r.bcast.add()
	defer r.bcast.remove(ch)

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Status(http.StatusOK)

	if payload, err := r.statePayload(c.Request.Context()); err == nil {
		writeFrame(c, payload)
	}

	for {
		select {
		case payload, ok := <-ch:
			if !ok {
				return
			}
			writeFrame(c, payload)
		case <-c.Request.Context().Done():
			return
		}
	}
}

func writeFrame(c *gin.Context, payload []byte) {
	_, _ = fmt.Fprintf(c.Writer, "event: status\ndata: %s\n\n", payload)
	c.Writer.Flush()
}
