package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"golang-pos-backend/internal/apperrors"
	"golang-pos-backend/internal/tenant"
	"golang-pos-backend/pkg/metrics"
)

// stubWSAuth resolves tokens from a fixed table, mimicking the auth service's
// rebinding of the context to the upgrade target.
type stubWSAuth struct {
	tokens map[string]*tenant.Context
}

func (s *stubWSAuth) AuthenticateWS(_ context.Context, token string, restaurantID uuid.UUID) (*tenant.Context, error) {
	tc, ok := s.tokens[token]
	if !ok {
		return nil, apperrors.TokenInvalid()
	}
	if restaurantID == uuid.Nil {
		return tc, nil
	}
	if !tc.CanAccessRestaurant(restaurantID) {
		return nil, apperrors.ContextMismatch("")
	}
	bound := *tc
	bound.RestaurantID = &restaurantID
	return &bound, nil
}

type wsFixture struct {
	hub  *Hub
	srv  *httptest.Server
	auth *stubWSAuth
	ridA uuid.UUID
	ridB uuid.UUID
}

func newWSFixture(t *testing.T) *wsFixture {
	t.Helper()
	hub := NewHub(metrics.New(), zerolog.Nop())
	auth := &stubWSAuth{tokens: make(map[string]*tenant.Context)}

	upgrader := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/ws/"), "/")
		if len(parts) != 2 {
			http.Error(w, "bad path", http.StatusBadRequest)
			return
		}
		rid, err := uuid.Parse(parts[0])
		if err != nil {
			http.Error(w, "bad id", http.StatusBadRequest)
			return
		}
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		Serve(r.Context(), hub, auth, conn, rid, parts[1], "127.0.0.1", zerolog.Nop())
	}))
	t.Cleanup(srv.Close)

	return &wsFixture{hub: hub, srv: srv, auth: auth, ridA: uuid.New(), ridB: uuid.New()}
}

// token registers a staff credential bound to the given restaurant and
// returns it for dialing.
func (f *wsFixture) token(name string, rid uuid.UUID) string {
	f.auth.tokens[name] = &tenant.Context{
		UserID:       uuid.New(),
		Email:        name + "@example.com",
		Role:         "cashier",
		RestaurantID: &rid,
	}
	return name
}

func (f *wsFixture) rawDial(t *testing.T, rid uuid.UUID, connType string) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws/" + rid.String() + "/" + connType
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func (f *wsFixture) sendAuth(t *testing.T, conn *websocket.Conn, token string, sinceMs int64) {
	t.Helper()
	data := map[string]interface{}{"token": token}
	if sinceMs > 0 {
		data["since_ms"] = sinceMs
	}
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "auth", "data": data}))
}

// dial connects, authenticates and consumes the auth_ok frame.
func (f *wsFixture) dial(t *testing.T, token string, rid uuid.UUID, connType string) *websocket.Conn {
	t.Helper()
	conn := f.rawDial(t, rid, connType)
	f.sendAuth(t, conn, token, 0)
	frame := readFrame(t, conn)
	require.Equal(t, "auth_ok", frame.Type)
	return conn
}

type testFrame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

func readFrame(t *testing.T, conn *websocket.Conn) testFrame {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, raw, err := conn.ReadMessage()
	require.NoError(t, err)
	var f testFrame
	require.NoError(t, json.Unmarshal(raw, &f))
	return f
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	f := readFrame(t, conn)
	require.Equal(t, "event", f.Type)
	var e Event
	require.NoError(t, json.Unmarshal(f.Data, &e))
	return e
}

func closeCode(t *testing.T, conn *websocket.Conn) int {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		require.ErrorAs(t, err, &ce)
		return ce.Code
	}
}

func TestServe_HandshakeAndDelivery(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t, f.token("till-1", f.ridA), f.ridA, ConnTypePOS)

	assert.Equal(t, 1, f.hub.RoomSize(RestaurantRoom(f.ridA)))

	f.hub.Publish(Event{
		Topic:        TopicOrderCreated,
		RestaurantID: f.ridA,
		OrderID:      "o1",
		Seq:          1,
		Data:         map[string]interface{}{"order_number": float64(1001)},
		At:           time.Now().UTC(),
	})

	event := readEvent(t, conn)
	assert.Equal(t, TopicOrderCreated, event.Topic)
	assert.Equal(t, "o1", event.OrderID)
	assert.Equal(t, float64(1001), event.Data["order_number"])

	require.NoError(t, conn.Close())
	require.Eventually(t, func() bool {
		return f.hub.RoomSize(RestaurantRoom(f.ridA)) == 0
	}, 2*time.Second, 10*time.Millisecond, "disconnect unregisters the client")
}

func TestServe_RejectsBadToken(t *testing.T) {
	f := newWSFixture(t)
	conn := f.rawDial(t, f.ridA, ConnTypePOS)

	f.sendAuth(t, conn, "no-such-token", 0)

	assert.Equal(t, CloseUnauthorized, closeCode(t, conn))
}

func TestServe_FirstFrameMustBeAuth(t *testing.T) {
	f := newWSFixture(t)
	conn := f.rawDial(t, f.ridA, ConnTypePOS)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "ping"}))

	assert.Equal(t, CloseUnauthorized, closeCode(t, conn))
}

func TestServe_ForeignRestaurantIsForbidden(t *testing.T) {
	f := newWSFixture(t)
	token := f.token("till-1", f.ridB)

	conn := f.rawDial(t, f.ridA, ConnTypePOS)
	f.sendAuth(t, conn, token, 0)

	assert.Equal(t, CloseForbidden, closeCode(t, conn))
	assert.Equal(t, 0, f.hub.RoomSize(RestaurantRoom(f.ridA)))
}

func TestServe_UnknownConnType(t *testing.T) {
	f := newWSFixture(t)
	// The server rejects before reading any frame.
	conn := f.rawDial(t, f.ridA, "drive-through")

	assert.Equal(t, CloseUnauthorized, closeCode(t, conn))
}

func TestPublish_IsolatesRestaurantRooms(t *testing.T) {
	f := newWSFixture(t)
	connA := f.dial(t, f.token("till-a", f.ridA), f.ridA, ConnTypePOS)
	connB := f.dial(t, f.token("till-b", f.ridB), f.ridB, ConnTypePOS)

	f.hub.Publish(Event{Topic: TopicOrderCreated, RestaurantID: f.ridA, Data: map[string]interface{}{"n": "a"}})
	f.hub.Publish(Event{Topic: TopicOrderCreated, RestaurantID: f.ridB, Data: map[string]interface{}{"n": "b"}})

	assert.Equal(t, "a", readEvent(t, connA).Data["n"])
	// B's first frame is its own restaurant's event, never A's.
	assert.Equal(t, "b", readEvent(t, connB).Data["n"])
}

func TestPublish_FiltersTopicsByConnectionType(t *testing.T) {
	f := newWSFixture(t)
	kitchen := f.dial(t, f.token("pass-1", f.ridA), f.ridA, ConnTypeKitchen)
	pos := f.dial(t, f.token("till-1", f.ridA), f.ridA, ConnTypePOS)

	// Kitchen screens never see draft orders, only confirmed ones.
	f.hub.Publish(Event{Topic: TopicOrderCreated, RestaurantID: f.ridA})
	f.hub.Publish(Event{Topic: TopicOrderConfirmed, RestaurantID: f.ridA})
	f.hub.Publish(Event{Topic: TopicKitchenTicket, RestaurantID: f.ridA})

	assert.Equal(t, TopicOrderConfirmed, readEvent(t, kitchen).Topic)
	assert.Equal(t, TopicKitchenTicket, readEvent(t, kitchen).Topic)

	assert.Equal(t, TopicOrderCreated, readEvent(t, pos).Topic)
	assert.Equal(t, TopicOrderConfirmed, readEvent(t, pos).Topic)
	assert.Equal(t, TopicKitchenTicket, readEvent(t, pos).Topic)
}

func TestPublish_DropsFramesArrivingBehindNewerOnes(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t, f.token("till-1", f.ridA), f.ridA, ConnTypePOS)

	f.hub.Publish(Event{Topic: TopicOrderStatusChanged, RestaurantID: f.ridA, OrderID: "o1", Seq: 2})
	// A slow goroutine finishing late: an older frame for the same order.
	f.hub.Publish(Event{Topic: TopicOrderStatusChanged, RestaurantID: f.ridA, OrderID: "o1", Seq: 1})
	f.hub.Publish(Event{Topic: TopicOrderStatusChanged, RestaurantID: f.ridA, OrderID: "o1", Seq: 3})

	assert.Equal(t, int64(2), readEvent(t, conn).Seq)
	assert.Equal(t, int64(3), readEvent(t, conn).Seq, "the stale seq 1 frame was dropped")
}

func TestUnsubscribe_StopsATopicWithoutDroppingOthers(t *testing.T) {
	f := newWSFixture(t)
	conn := f.dial(t, f.token("till-1", f.ridA), f.ridA, ConnTypePOS)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "unsubscribe",
		"data": map[string]interface{}{"topics": []string{TopicInventoryAdjusted}},
	}))
	// Frames are processed in order; the pong confirms the unsubscribe took
	// effect before we publish.
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "ping"}))
	require.Equal(t, "pong", readFrame(t, conn).Type)

	f.hub.Publish(Event{Topic: TopicInventoryAdjusted, RestaurantID: f.ridA})
	f.hub.Publish(Event{Topic: TopicOrderCreated, RestaurantID: f.ridA})

	assert.Equal(t, TopicOrderCreated, readEvent(t, conn).Topic)

	require.NoError(t, conn.WriteJSON(map[string]interface{}{
		"type": "subscribe",
		"data": map[string]interface{}{"topics": []string{TopicInventoryAdjusted}},
	}))
	require.NoError(t, conn.WriteJSON(map[string]interface{}{"type": "ping"}))
	require.Equal(t, "pong", readFrame(t, conn).Type)

	f.hub.Publish(Event{Topic: TopicInventoryAdjusted, RestaurantID: f.ridA})
	assert.Equal(t, TopicInventoryAdjusted, readEvent(t, conn).Topic)
}

func TestReplay_CatchesUpAReconnectingClient(t *testing.T) {
	f := newWSFixture(t)
	// The anchor keeps the room (and its replay window) alive.
	f.dial(t, f.token("till-1", f.ridA), f.ridA, ConnTypePOS)

	f.hub.Publish(Event{Topic: TopicOrderCreated, RestaurantID: f.ridA, Data: map[string]interface{}{"n": "first"}})
	f.hub.Publish(Event{Topic: TopicOrderConfirmed, RestaurantID: f.ridA, Data: map[string]interface{}{"n": "second"}})

	since := time.Now().Add(-10 * time.Second).UnixMilli()
	late := f.rawDial(t, f.ridA, ConnTypePOS)
	f.sendAuth(t, late, f.token("till-2", f.ridA), since)
	require.Equal(t, "auth_ok", readFrame(t, late).Type)

	assert.Equal(t, "first", readEvent(t, late).Data["n"])
	assert.Equal(t, "second", readEvent(t, late).Data["n"])
}

func TestRegister_EnforcesThePerUserConnectionLimit(t *testing.T) {
	f := newWSFixture(t)
	token := f.token("till-1", f.ridA)

	for i := 0; i < maxConnsPerUser; i++ {
		f.dial(t, token, f.ridA, ConnTypePOS)
	}

	extra := f.rawDial(t, f.ridA, ConnTypePOS)
	f.sendAuth(t, extra, token, 0)

	assert.Equal(t, CloseRateLimited, closeCode(t, extra))
	assert.Equal(t, maxConnsPerUser, f.hub.RoomSize(RestaurantRoom(f.ridA)))
}

func TestPublishToUser_TargetsOneUser(t *testing.T) {
	f := newWSFixture(t)
	target := f.dial(t, f.token("till-1", f.ridA), f.ridA, ConnTypePOS)
	bystander := f.dial(t, f.token("till-2", f.ridA), f.ridA, ConnTypePOS)

	targetID := f.auth.tokens["till-1"].UserID
	f.hub.PublishToUser(targetID, Event{Topic: TopicPaymentCaptured, RestaurantID: f.ridA, Data: map[string]interface{}{"n": "private"}})
	f.hub.Publish(Event{Topic: TopicOrderCreated, RestaurantID: f.ridA, Data: map[string]interface{}{"n": "broadcast"}})

	assert.Equal(t, "private", readEvent(t, target).Data["n"])
	assert.Equal(t, "broadcast", readEvent(t, target).Data["n"])
	// The bystander sees only the broadcast.
	assert.Equal(t, "broadcast", readEvent(t, bystander).Data["n"])
}

func TestCloseAll_TearsDownEveryConnection(t *testing.T) {
	f := newWSFixture(t)
	connA := f.dial(t, f.token("till-a", f.ridA), f.ridA, ConnTypePOS)
	connB := f.dial(t, f.token("till-b", f.ridB), f.ridB, ConnTypeKitchen)

	f.hub.CloseAll()

	assert.Equal(t, CloseNormal, closeCode(t, connA))
	assert.Equal(t, CloseNormal, closeCode(t, connB))
	assert.Equal(t, 0, f.hub.RoomSize(RestaurantRoom(f.ridA)))
	assert.Equal(t, 0, f.hub.RoomSize(RestaurantRoom(f.ridB)))
}

func TestTopicAllowed_PatternsAndExactMatches(t *testing.T) {
	assert.True(t, topicAllowed(ConnTypePOS, TopicOrderCreated))
	assert.True(t, topicAllowed(ConnTypePOS, TopicPaymentRefunded))
	assert.False(t, topicAllowed(ConnTypePOS, TopicKitchenTicket))

	assert.True(t, topicAllowed(ConnTypeKitchen, TopicKitchenTicket))
	assert.True(t, topicAllowed(ConnTypeKitchen, TopicOrderCancelled))
	assert.False(t, topicAllowed(ConnTypeKitchen, TopicOrderCreated))
	assert.False(t, topicAllowed(ConnTypeKitchen, TopicPaymentCaptured))

	assert.True(t, topicAllowed(ConnTypeManagement, TopicInventoryStockLow))
	assert.True(t, topicAllowed(ConnTypeManagement, TopicKitchenTicket))

	assert.False(t, topicAllowed("unknown", TopicOrderCreated))
}

func TestValidConnType(t *testing.T) {
	assert.True(t, ValidConnType(ConnTypePOS))
	assert.True(t, ValidConnType(ConnTypeKitchen))
	assert.True(t, ValidConnType(ConnTypeManagement))
	assert.False(t, ValidConnType("drive-through"))
}
