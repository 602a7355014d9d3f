// Package ws implements the real-time transport: a topic-keyed fan-out hub,
// per-connection read/write pumps, and the gateway that authenticates
// handshakes and authorizes subscriptions.
//
// Delivery model: publishes are best-effort to currently-subscribed
// connections. Each client has a bounded outbound buffer; a subscriber that
// cannot keep up is dropped (and reconciles through history on reconnect)
// rather than ever blocking a publisher. Durability lives in the message
// store, not in this transport.
package ws

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	// wsConnections gauges currently-open websocket connections.
	wsConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_ws_connections",
		Help: "Current number of open websocket connections.",
	})

	// wsPublished counts payloads fanned out, by delivery outcome.
	wsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_ws_published_total",
			Help: "Payloads delivered to subscriber buffers, by outcome.",
		},
		[]string{"outcome"}, // delivered | dropped
	)
)

func init() {
	prometheus.MustRegister(wsConnections, wsPublished)
}

// Hub routes published payloads to the clients subscribed to each topic.
// All methods are safe for concurrent use. Publish holds the hub lock for
// the duration of the enqueue so every subscriber of a topic observes
// payloads in one and the same order.
type Hub struct {
	mu     sync.Mutex
	topics map[string]map[*Client]struct{}
}

// NewHub constructs an empty Hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[string]map[*Client]struct{})}
}

// Subscribe adds c to topic. Authorization happens in the gateway before
// this is called.
func (h *Hub) Subscribe(topic string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.topics[topic]
	if !ok {
		set = make(map[*Client]struct{})
		h.topics[topic] = set
	}
	set[c] = struct{}{}
}

// Unsubscribe removes c from topic.
func (h *Hub) Unsubscribe(topic string, c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.topics[topic]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Detach removes c from every topic it is subscribed to. Called once when
// the connection closes; further publishes no longer reach it.
func (h *Hub) Detach(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, set := range h.topics {
		if _, ok := set[c]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.topics, topic)
			}
		}
	}
}

// Publish enqueues payload to every subscriber of topic. A client whose
// outbound buffer is full is dropped on the spot: it is detached and its
// network connection is severed, so the publisher never blocks on a slow
// consumer. The send channel is left open; only the client's own read pump
// closes it, so a reply being dispatched concurrently can never hit a
// closed channel.
func (h *Hub) Publish(topic string, payload []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.topics[topic]
	if !ok {
		return
	}
	var overflowed []*Client
	for c := range set {
		select {
		case c.send <- payload:
			wsPublished.WithLabelValues("delivered").Inc()
		default:
			wsPublished.WithLabelValues("dropped").Inc()
			overflowed = append(overflowed, c)
		}
	}
	for _, c := range overflowed {
		log.Warn().Int64("user_id", c.principal.UserID).Str("topic", topic).
			Msg("outbound buffer overflow, dropping connection")
		c.drop()
		h.detachLocked(c)
	}
}

// detachLocked is Detach without re-acquiring the hub lock.
func (h *Hub) detachLocked(c *Client) {
	for topic, set := range h.topics {
		if _, ok := set[c]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.topics, topic)
			}
		}
	}
}

// Subscribers reports the current subscriber count of topic.
func (h *Hub) Subscribers(topic string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.topics[topic])
}
