package board

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teamflow/relay/internal/relay"
)

type denyAll struct{}

func (denyAll) CanModerate(workspaceID, userID string) (bool, error) {
	return false, nil
}

type testCanvas struct {
	updates chan json.RawMessage
	markers chan Marker
}

func newTestCanvas() *testCanvas {
	return &testCanvas{
		updates: make(chan json.RawMessage, 16),
		markers: make(chan Marker, 16),
	}
}

func (c *testCanvas) ApplyRemote(elements, viewState json.RawMessage, m Marker) {
	c.updates <- elements
	c.markers <- m
}

type testEvents struct {
	counts chan int
	locks  chan bool
	denied chan string
	canvas *testCanvas
}

func newTestEvents() *testEvents {
	return &testEvents{
		counts: make(chan int, 16),
		locks:  make(chan bool, 16),
		denied: make(chan string, 16),
		canvas: newTestCanvas(),
	}
}

func (e *testEvents) handlers() Handlers {
	return Handlers{
		OnCount:     func(room string, count int) { e.counts <- count },
		OnLockState: func(room string, open bool) { e.locks <- open },
		OnDenied:    func(room string) { e.denied <- room },
		Canvas:      e.canvas,
	}
}

func startRelay(t *testing.T, resolver relay.LeaderResolver) string {
	t.Helper()

	hub := relay.NewHub(resolver)
	go hub.Run()

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		relay.ServeWs(hub, w, r)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func dialTest(t *testing.T, url, userID string, events *testEvents) *Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := Dial(ctx, url, userID, events.handlers())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return client
}

func recvInt(t *testing.T, ch chan int, what string) int {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for %s", what)
		return 0
	}
}

func recvBool(t *testing.T, ch chan bool, what string) bool {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for %s", what)
		return false
	}
}

func recvRaw(t *testing.T, ch chan json.RawMessage, what string) json.RawMessage {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("Timed out waiting for %s", what)
		return nil
	}
}

func TestJoinDeliversCountAndLockState(t *testing.T) {
	url := startRelay(t, nil)

	alice := newTestEvents()
	a := dialTest(t, url, "alice", alice)

	require.NoError(t, a.Join("P1"))
	assert.Equal(t, 1, recvInt(t, alice.counts, "first count"))
	assert.False(t, recvBool(t, alice.locks, "initial lock state"))

	bob := newTestEvents()
	b := dialTest(t, url, "bob", bob)

	require.NoError(t, b.Join("P1"))
	assert.Equal(t, 2, recvInt(t, bob.counts, "bob's count"))
	assert.Equal(t, 2, recvInt(t, alice.counts, "alice's updated count"))
	assert.False(t, recvBool(t, bob.locks, "bob's lock state"))
}

func TestLateJoinerSeesToggledState(t *testing.T) {
	url := startRelay(t, nil)

	alice := newTestEvents()
	a := dialTest(t, url, "alice", alice)
	require.NoError(t, a.Join("P2"))
	recvInt(t, alice.counts, "count")
	recvBool(t, alice.locks, "initial state")

	require.NoError(t, a.ToggleCollaboration(true))
	assert.True(t, recvBool(t, alice.locks, "toggled state echoed to sender"))

	// A joiner after the toggle learns the state without another toggle.
	bob := newTestEvents()
	b := dialTest(t, url, "bob", bob)
	require.NoError(t, b.Join("P2"))
	recvInt(t, bob.counts, "count")
	assert.True(t, recvBool(t, bob.locks, "current state on join"))
}

func TestChangeRelayedToOthersOnly(t *testing.T) {
	url := startRelay(t, nil)

	alice := newTestEvents()
	a := dialTest(t, url, "alice", alice)
	require.NoError(t, a.Join("P3"))
	recvInt(t, alice.counts, "count")

	bob := newTestEvents()
	b := dialTest(t, url, "bob", bob)
	require.NoError(t, b.Join("P3"))
	recvInt(t, alice.counts, "count after bob")
	recvInt(t, bob.counts, "bob count")

	elements := json.RawMessage(`[{"type":"rectangle","id":"r1"}]`)
	require.NoError(t, a.PublishChange(elements, json.RawMessage(`{"zoom":1}`), MarkerLocal))

	got := recvRaw(t, bob.canvas.updates, "bob's remote update")
	assert.JSONEq(t, string(elements), string(got))

	// The sender never hears its own change back.
	select {
	case <-alice.canvas.updates:
		t.Fatal("Sender received its own update")
	case <-time.After(200 * time.Millisecond):
	}
}

func TestRemoteApplyNotEchoedBack(t *testing.T) {
	url := startRelay(t, nil)

	alice := newTestEvents()
	a := dialTest(t, url, "alice", alice)
	require.NoError(t, a.Join("P4"))
	recvInt(t, alice.counts, "count")

	bob := newTestEvents()
	b := dialTest(t, url, "bob", bob)
	require.NoError(t, b.Join("P4"))
	recvInt(t, alice.counts, "count after bob")
	recvInt(t, bob.counts, "bob count")

	require.NoError(t, a.PublishChange(json.RawMessage(`[{"id":"e1"}]`), nil, MarkerLocal))
	recvRaw(t, bob.canvas.updates, "bob's update")
	marker := <-bob.canvas.markers

	// Bob's change detector fires for the applied snapshot; the marker
	// identifies it as an echo and nothing goes back on the wire.
	require.NoError(t, b.PublishChange(json.RawMessage(`[{"id":"e1"}]`), nil, marker))

	// A genuine local edit from bob is the next thing alice sees.
	local := json.RawMessage(`[{"id":"e2"}]`)
	require.NoError(t, b.PublishChange(local, nil, MarkerLocal))
	got := recvRaw(t, alice.canvas.updates, "alice's update")
	assert.JSONEq(t, string(local), string(got))
}

func TestEmptyElementsDropped(t *testing.T) {
	url := startRelay(t, nil)

	alice := newTestEvents()
	a := dialTest(t, url, "alice", alice)
	require.NoError(t, a.Join("P5"))
	recvInt(t, alice.counts, "count")

	bob := newTestEvents()
	b := dialTest(t, url, "bob", bob)
	require.NoError(t, b.Join("P5"))
	recvInt(t, alice.counts, "count after bob")
	recvInt(t, bob.counts, "bob count")

	// An empty snapshot must not clear bob's canvas.
	require.NoError(t, a.PublishChange(json.RawMessage(`[]`), nil, MarkerLocal))

	nonEmpty := json.RawMessage(`[{"id":"kept"}]`)
	require.NoError(t, a.PublishChange(nonEmpty, nil, MarkerLocal))

	got := recvRaw(t, bob.canvas.updates, "bob's update")
	assert.JSONEq(t, string(nonEmpty), string(got))
}

func TestToggleDenied(t *testing.T) {
	url := startRelay(t, denyAll{})

	alice := newTestEvents()
	a := dialTest(t, url, "alice", alice)
	require.NoError(t, a.Join("P6"))
	recvInt(t, alice.counts, "count")
	recvBool(t, alice.locks, "initial state")

	require.NoError(t, a.ToggleCollaboration(true))

	select {
	case room := <-alice.denied:
		assert.Equal(t, "P6", room)
	case <-time.After(2 * time.Second):
		t.Fatal("Timed out waiting for denial")
	}

	// The lock state never changed.
	select {
	case open := <-alice.locks:
		t.Fatalf("Unexpected lock state broadcast: %v", open)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestDisconnectUpdatesRemainingMembers(t *testing.T) {
	url := startRelay(t, nil)

	alice := newTestEvents()
	a := dialTest(t, url, "alice", alice)
	require.NoError(t, a.Join("P7"))
	recvInt(t, alice.counts, "count")

	bob := newTestEvents()
	b := dialTest(t, url, "bob", bob)
	require.NoError(t, b.Join("P7"))
	recvInt(t, alice.counts, "count after bob")
	recvInt(t, bob.counts, "bob count")

	require.NoError(t, b.Close())

	assert.Equal(t, 1, recvInt(t, alice.counts, "count after bob left"))
}
