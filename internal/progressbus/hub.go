// Package progressbus implements the Progress Bus (C6, §4.6): a WebSocket
// fan-out of job registry events to any number of subscribed clients.
//
// A register/unregister/broadcast channel trio guards the client set behind
// a single goroutine; there is no per-user routing, only an optional
// per-job filter. Each client gets a single ordered queue with a reserved
// status_change quota rather than an unbounded channel, so a slow client
// can't stall delivery to the rest, and capacity enforcement never reorders
// what's left queued for it.
package progressbus

import (
	"sync"

	"github.com/BleedingXiko/GhostStream/internal/jobs"
	"github.com/BleedingXiko/GhostStream/internal/logger"
	"github.com/BleedingXiko/GhostStream/internal/metrics"
)

// MaxClients is the hard cap on simultaneously connected progress
// subscribers (§4.6).
const MaxClients = 1000

// ProgressRingSize and StatusRingSize are the per-kind quotas enforced on
// each client's ordered queue (§4.6): status_change events get a small
// reserved quota so they never get crowded out by a burst of progress ticks
// on the same connection, without reordering whatever is still queued.
const (
	ProgressRingSize = 224
	StatusRingSize   = 32
)

// Hub owns the client set and implements jobs.Subscriber so the job
// registry can broadcast without knowing anything about WebSocket.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}

	register   chan *Client
	unregister chan *Client
	events     chan jobs.Event

	stop chan struct{}
	done chan struct{}
}

// NewHub returns a Hub. Call Run to start its dispatch loop.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]struct{}),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		events:     make(chan jobs.Event, 256),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Run is the hub's single-goroutine dispatch loop. Blocks until Stop.
func (h *Hub) Run() {
	defer close(h.done)
	for {
		select {
		case <-h.stop:
			h.mu.Lock()
			for c := range h.clients {
				c.close()
			}
			h.clients = make(map[*Client]struct{})
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = struct{}{}
			count := len(h.clients)
			h.mu.Unlock()
			metrics.ProgressBusClients.Set(float64(count))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.close()
			}
			count := len(h.clients)
			h.mu.Unlock()
			metrics.ProgressBusClients.Set(float64(count))

		case evt := <-h.events:
			h.dispatch(evt)
		}
	}
}

// Stop ends the dispatch loop and closes every connected client.
func (h *Hub) Stop() {
	close(h.stop)
	<-h.done
}

// Publish implements jobs.Subscriber. Never blocks: events queue onto the
// hub's internal channel, whose own buffer absorbs registry-side bursts
// independent of any single slow client.
func (h *Hub) Publish(e jobs.Event) {
	select {
	case h.events <- e:
	default:
		logger.Warn("progress bus event channel full, dropping event", "kind", e.Kind, "job_id", e.Job.ID)
	}
}

func (h *Hub) dispatch(evt jobs.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.Subscribed(evt.Job.ID) {
			continue
		}
		c.deliver(evt)
	}
}

// Register admits a new client if under MaxClients, returning false if the
// connection cap has been reached.
func (h *Hub) Register(c *Client) bool {
	h.mu.RLock()
	full := len(h.clients) >= MaxClients
	h.mu.RUnlock()
	if full {
		return false
	}
	h.register <- c
	return true
}

// Unregister removes c from the client set.
func (h *Hub) Unregister(c *Client) {
	h.unregister <- c
}

// ClientCount returns the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
