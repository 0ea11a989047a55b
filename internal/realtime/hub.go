package realtime

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"golang-pos-backend/internal/apperrors"
	"golang-pos-backend/pkg/metrics"
)

// Close codes surfaced to clients.
const (
	CloseNormal       = 4000
	CloseUnauthorized = 4401
	CloseForbidden    = 4403
	CloseRateLimited  = 4429
	CloseBackpressure = 4430
)

const (
	maxConnsPerUser   = 5
	maxConnsPerIP     = 20
	replayWindow      = 30 * time.Second
	maxOutboundBuffer = 1 << 20 // bytes queued per connection
)

type replayEntry struct {
	at      time.Time
	topic   string
	payload []byte
}

// room holds the members of one logical delivery set. Each room has its own
// lock; registration and fan-out never hold two room locks at once.
type room struct {
	mu      sync.Mutex
	clients map[*Client]struct{}
	// lastSeq tracks the newest delivered sequence per order so a late
	// arrival can never be delivered behind a newer one.
	lastSeq map[string]int64
	replay  []replayEntry
}

// Hub is the process-wide WebSocket registry. Rooms are computed
// server-side from the authenticated context, never from client input.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]*room

	countMu   sync.Mutex
	userConns map[uuid.UUID]int
	ipConns   map[string]int

	metrics *metrics.Metrics
	logger  zerolog.Logger
}

func NewHub(m *metrics.Metrics, logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:     make(map[string]*room),
		userConns: make(map[uuid.UUID]int),
		ipConns:   make(map[string]int),
		metrics:   m,
		logger:    logger.With().Str("component", "hub").Logger(),
	}
}

func (h *Hub) getOrCreateRoom(name string) *room {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[name]
	if !ok {
		r = &room{
			clients: make(map[*Client]struct{}),
			lastSeq: make(map[string]int64),
		}
		h.rooms[name] = r
	}
	return r
}

func (h *Hub) getRoom(name string) *room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[name]
}

// Register adds an authenticated client to its restaurant and user rooms.
// Connection limits are enforced here; the offending (newest) connection is
// the one rejected.
func (h *Hub) Register(c *Client) error {
	h.countMu.Lock()
	if h.userConns[c.userID] >= maxConnsPerUser {
		h.countMu.Unlock()
		return apperrors.ConnectionLimit()
	}
	if h.ipConns[c.ip] >= maxConnsPerIP {
		h.countMu.Unlock()
		return apperrors.ConnectionLimit()
	}
	h.userConns[c.userID]++
	h.ipConns[c.ip]++
	h.countMu.Unlock()

	for _, name := range []string{RestaurantRoom(c.restaurantID), UserRoom(c.userID)} {
		r := h.getOrCreateRoom(name)
		r.mu.Lock()
		r.clients[c] = struct{}{}
		r.mu.Unlock()
	}

	c.registered = true
	h.metrics.WSConnections.Inc()
	return nil
}

// Unregister removes the client from both of its rooms using the user id it
// registered with. Safe to call more than once and on clients that never
// completed registration.
func (h *Hub) Unregister(c *Client) {
	c.unregOnce.Do(func() {
		if !c.registered {
			return
		}

		for _, name := range []string{RestaurantRoom(c.restaurantID), UserRoom(c.userID)} {
			r := h.getRoom(name)
			if r == nil {
				continue
			}
			r.mu.Lock()
			delete(r.clients, c)
			empty := len(r.clients) == 0
			r.mu.Unlock()
			if empty {
				h.removeRoomIfEmpty(name)
			}
		}

		h.countMu.Lock()
		if h.userConns[c.userID] <= 1 {
			delete(h.userConns, c.userID)
		} else {
			h.userConns[c.userID]--
		}
		if h.ipConns[c.ip] <= 1 {
			delete(h.ipConns, c.ip)
		} else {
			h.ipConns[c.ip]--
		}
		h.countMu.Unlock()

		h.metrics.WSConnections.Dec()
	})
}

func (h *Hub) removeRoomIfEmpty(name string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	r, ok := h.rooms[name]
	if !ok {
		return
	}
	r.mu.Lock()
	if len(r.clients) == 0 {
		delete(h.rooms, name)
	}
	r.mu.Unlock()
}

type serverFrame struct {
	Type string      `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// Publish fans an event out to its restaurant room. Events for the same
// order are delivered in sequence order; a frame arriving behind a newer one
// is dropped (delivery is at-most-once, clients reconcile on reconnect).
func (h *Hub) Publish(e Event) {
	h.publishRoom(RestaurantRoom(e.RestaurantID), e)
}

// PublishToUser delivers an event to one user's room regardless of topic
// subscriptions on the restaurant room.
func (h *Hub) PublishToUser(userID uuid.UUID, e Event) {
	h.publishRoom(UserRoom(userID), e)
}

func (h *Hub) publishRoom(name string, e Event) {
	r := h.getRoom(name)
	if r == nil {
		return
	}

	payload, err := json.Marshal(serverFrame{Type: "event", Data: e})
	if err != nil {
		h.logger.Error().Err(err).Str("topic", e.Topic).Msg("event marshal failed")
		return
	}

	now := time.Now()

	r.mu.Lock()
	if e.OrderID != "" && e.Seq > 0 {
		if last, ok := r.lastSeq[e.OrderID]; ok && e.Seq <= last {
			r.mu.Unlock()
			return
		}
		r.lastSeq[e.OrderID] = e.Seq
	}
	r.pruneReplayLocked(now)
	r.replay = append(r.replay, replayEntry{at: now, topic: e.Topic, payload: payload})

	var overflow []*Client
	for c := range r.clients {
		if !c.wantsTopic(e.Topic) {
			continue
		}
		if !c.enqueue(payload) {
			overflow = append(overflow, c)
		}
	}
	r.mu.Unlock()

	for _, c := range overflow {
		h.metrics.WSDropped.WithLabelValues("backpressure").Inc()
		c.Close(CloseBackpressure, "outbound buffer full")
	}
}

func (r *room) pruneReplayLocked(now time.Time) {
	cutoff := now.Add(-replayWindow)
	idx := 0
	for idx < len(r.replay) && r.replay[idx].at.Before(cutoff) {
		idx++
	}
	if idx > 0 {
		r.replay = append([]replayEntry(nil), r.replay[idx:]...)
	}
}

// Replay resends the retained window of the client's restaurant room that is
// newer than since. Used by clients recovering from a transient disconnect.
func (h *Hub) Replay(c *Client, since time.Time) {
	r := h.getRoom(RestaurantRoom(c.restaurantID))
	if r == nil {
		return
	}

	r.mu.Lock()
	r.pruneReplayLocked(time.Now())
	var payloads [][]byte
	for _, entry := range r.replay {
		if entry.at.After(since) && c.wantsTopic(entry.topic) {
			payloads = append(payloads, entry.payload)
		}
	}
	r.mu.Unlock()

	for _, p := range payloads {
		if !c.enqueue(p) {
			h.metrics.WSDropped.WithLabelValues("backpressure").Inc()
			c.Close(CloseBackpressure, "outbound buffer full")
			return
		}
	}
}

// CloseAll tears down every connection with a normal close; the last step of
// server shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	rooms := make([]*room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.RUnlock()

	seen := make(map[*Client]struct{})
	for _, r := range rooms {
		r.mu.Lock()
		clients := make([]*Client, 0, len(r.clients))
		for c := range r.clients {
			clients = append(clients, c)
		}
		r.mu.Unlock()

		for _, c := range clients {
			if _, dup := seen[c]; dup {
				continue
			}
			seen[c] = struct{}{}
			c.Close(CloseNormal, "server shutting down")
		}
	}
}

// RoomSize reports current membership; used by tests and the health body.
func (h *Hub) RoomSize(name string) int {
	r := h.getRoom(name)
	if r == nil {
		return 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.clients)
}
