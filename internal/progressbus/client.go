package progressbus

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/BleedingXiko/GhostStream/internal/jobs"
	"github.com/BleedingXiko/GhostStream/internal/logger"
	"github.com/BleedingXiko/GhostStream/internal/metrics"
)

const (
	pingInterval = 20 * time.Second
	pongTimeout  = 40 * time.Second
	writeTimeout = 10 * time.Second
)

// Message is the wire shape exchanged with a WebSocket client (§4.6, §6):
// server->client carries "ping", "progress", or "status_change"; client->
// server carries "ping", "pong", "subscribe", "unsubscribe", or
// "subscribe_all", using JobIDs for the latter two.
type Message struct {
	Type     string    `json:"type"`
	JobID    string    `json:"job_id,omitempty"`
	Job      *jobs.Job `json:"job,omitempty"`
	JobIDs   []string  `json:"job_ids,omitempty"`
	ServerTS int64     `json:"server_ts,omitempty"`
}

// Client wraps one upgraded WebSocket connection with the single ordered
// delivery queue described in §4.6: every event for a client is appended in
// the order it was produced, so per-job FIFO (progress-then-terminal, no
// progress surviving a terminal status_change) never breaks under
// backpressure. status_change still gets a reserved quota distinct from
// progress's — but capacity is enforced by dropping the oldest entry of the
// kind that's over quota, never by reordering what's left in the queue. Its
// subscription state is mutated at runtime by inbound subscribe/unsubscribe/
// subscribe_all messages (§6), not fixed at connect time.
type Client struct {
	conn *websocket.Conn

	mu           sync.Mutex
	subscribeAll bool
	restricted   bool // true once Subscribe has narrowed delivery to an explicit set
	subscribed   map[string]struct{}

	queue   []Message
	notify  chan struct{}
	closeCh chan struct{}
	closed  bool
}

// NewClient wraps conn. subscribeAll seeds the client's initial subscription
// mode; a caller that instead wants an explicit starting set should follow
// up with Subscribe.
func NewClient(conn *websocket.Conn, subscribeAll bool) *Client {
	return &Client{
		conn:         conn,
		subscribeAll: subscribeAll,
		notify:       make(chan struct{}, 1),
		closeCh:      make(chan struct{}),
	}
}

// Subscribed reports whether c wants events for jobID. A client that has
// neither called SubscribeAll nor Subscribe yet defaults to receiving every
// job's events, matching the handler's "no filter given" default (§6).
func (c *Client) Subscribed(jobID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.subscribeAll || !c.restricted {
		return true
	}
	_, ok := c.subscribed[jobID]
	return ok
}

// SubscribeAll switches c into subscribe_all mode, clearing any explicit set.
func (c *Client) SubscribeAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribeAll = true
	c.restricted = false
	c.subscribed = nil
}

// Subscribe adds ids to c's explicit subscription set, narrowing delivery to
// it if c was previously in subscribe_all mode.
func (c *Client) Subscribe(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subscribeAll = false
	c.restricted = true
	if c.subscribed == nil {
		c.subscribed = make(map[string]struct{}, len(ids))
	}
	for _, id := range ids {
		c.subscribed[id] = struct{}{}
	}
}

// Unsubscribe removes ids from c's explicit subscription set.
func (c *Client) Unsubscribe(ids []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, id := range ids {
		delete(c.subscribed, id)
	}
}

// deliver appends an event to the client's single ordered queue, then
// enforces each kind's capacity by dropping the oldest queued entry of that
// same kind — never a different kind, and never by reordering the entries
// that remain. That keeps per-job delivery order intact under backpressure:
// a client can lose an old progress sample but never see a stale one arrive
// after a newer status_change for the same job.
func (c *Client) deliver(evt jobs.Event) {
	msg := Message{Type: evt.Kind, JobID: evt.Job.ID, Job: evt.Job}
	isStatus := evt.Kind == "status_change"
	limit := ProgressRingSize
	channel := "progress"
	if isStatus {
		limit = StatusRingSize
		channel = "status"
	}

	c.mu.Lock()
	c.queue = append(c.queue, msg)
	count := 0
	for _, m := range c.queue {
		if (m.Type == "status_change") == isStatus {
			count++
		}
	}
	if count > limit {
		for i, m := range c.queue {
			if (m.Type == "status_change") == isStatus {
				c.queue = append(c.queue[:i], c.queue[i+1:]...)
				break
			}
		}
		metrics.ProgressBusDroppedTotal.WithLabelValues(channel).Inc()
	}
	c.mu.Unlock()

	select {
	case c.notify <- struct{}{}:
	default:
	}
}

// dequeue pops the oldest queued message, if any.
func (c *Client) dequeue() (Message, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) == 0 {
		return Message{}, false
	}
	msg := c.queue[0]
	c.queue = c.queue[1:]
	return msg, true
}

func (c *Client) close() {
	if c.closed {
		return
	}
	c.closed = true
	close(c.closeCh)
	if c.conn != nil {
		c.conn.Close()
	}
}

// WritePump drains the ordered queue in arrival order and emits a
// JSON-level ping every pingInterval (§4.6). The client is expected to
// answer with a JSON "pong" within pongTimeout; ReadPump enforces that via
// the connection's read deadline.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	defer c.conn.Close()

	for {
		if msg, ok := c.dequeue(); ok {
			if err := c.write(msg); err != nil {
				return
			}
			continue
		}

		select {
		case <-c.closeCh:
			return

		case <-c.notify:
			// queue has at least one message; loop back to dequeue.

		case <-ticker.C:
			if err := c.write(Message{Type: "ping", ServerTS: time.Now().Unix()}); err != nil {
				return
			}
		}
	}
}

func (c *Client) write(msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		logger.Error("failed to marshal progress bus message", "error", err)
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// inboundMessage is the client->server wire shape (§6): "ping", "pong",
// "subscribe"/"unsubscribe" (with JobIDs), or "subscribe_all".
type inboundMessage struct {
	Type   string   `json:"type"`
	JobIDs []string `json:"job_ids,omitempty"`
}

// ReadPump applies inbound subscribe/unsubscribe/subscribe_all/pong/ping
// messages and enforces the pong-driven read deadline (§4.6: 20s ping / 40s
// pong timeout) — any inbound traffic, not only a "pong", counts as a sign
// of life and refreshes the deadline.
func (c *Client) ReadPump(hub *Hub) {
	defer func() {
		hub.Unregister(c)
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongTimeout))

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongTimeout))

		var in inboundMessage
		if err := json.Unmarshal(data, &in); err != nil {
			continue
		}
		switch in.Type {
		case "subscribe":
			c.Subscribe(in.JobIDs)
		case "unsubscribe":
			c.Unsubscribe(in.JobIDs)
		case "subscribe_all":
			c.SubscribeAll()
		case "ping", "pong":
			// liveness only; deadline already refreshed above.
		}
	}
}
