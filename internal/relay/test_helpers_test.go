package relay

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/gorilla/websocket"

	"github.com/tidewater-labs/driftnet/internal/nostr"
)

// fakeRelayConn wraps one accepted websocket session on the fake relay,
// after the initial REQ has been consumed.
type fakeRelayConn struct {
	t              *testing.T
	ws             *websocket.Conn
	SubscriptionID string
	Filter         nostr.Filter
}

func (c *fakeRelayConn) sendEvent(event nostr.Event) {
	c.t.Helper()
	payload, err := json.Marshal([]interface{}{"EVENT", c.SubscriptionID, event})
	if err != nil {
		c.t.Errorf("marshal event frame: %v", err)
		return
	}
	c.sendRaw(string(payload))
}

func (c *fakeRelayConn) sendEOSE() {
	c.t.Helper()
	c.sendRaw(`["EOSE","` + c.SubscriptionID + `"]`)
}

func (c *fakeRelayConn) sendRaw(payload string) {
	c.t.Helper()
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		c.t.Logf("fake relay write failed: %v", err)
	}
}

func (c *fakeRelayConn) drop() {
	_ = c.ws.Close()
}

// fakeRelay is a scripted websocket relay for tests. The script runs once
// per accepted connection with a zero-based connection index.
type fakeRelay struct {
	server *httptest.Server
	URL    string

	mu          sync.Mutex
	connections int
}

func newFakeRelay(t *testing.T, script func(conn *fakeRelayConn, connIndex int)) *fakeRelay {
	t.Helper()

	relay := &fakeRelay{}
	upgrader := websocket.Upgrader{}

	relay.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("fake relay upgrade failed: %v", err)
			return
		}
		defer ws.Close()

		relay.mu.Lock()
		index := relay.connections
		relay.connections++
		relay.mu.Unlock()

		subscriptionID, filter, ok := readReq(t, ws)
		if !ok {
			return
		}

		script(&fakeRelayConn{t: t, ws: ws, SubscriptionID: subscriptionID, Filter: filter}, index)

		// Drain until the client closes so CLOSE frames never error out
		// the client's write path.
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(relay.server.Close)

	relay.URL = "ws" + strings.TrimPrefix(relay.server.URL, "http")
	return relay
}

func (r *fakeRelay) connectionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.connections
}

func readReq(t *testing.T, ws *websocket.Conn) (string, nostr.Filter, bool) {
	t.Helper()

	_ = ws.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, payload, err := ws.ReadMessage()
	if err != nil {
		return "", nostr.Filter{}, false
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(payload, &elements); err != nil || len(elements) < 3 {
		t.Errorf("fake relay got non-REQ frame: %s", payload)
		return "", nostr.Filter{}, false
	}

	var label, subscriptionID string
	if err := json.Unmarshal(elements[0], &label); err != nil || label != "REQ" {
		t.Errorf("fake relay expected REQ, got: %s", payload)
		return "", nostr.Filter{}, false
	}
	if err := json.Unmarshal(elements[1], &subscriptionID); err != nil {
		t.Errorf("fake relay bad subscription id: %s", payload)
		return "", nostr.Filter{}, false
	}
	var filter nostr.Filter
	if err := json.Unmarshal(elements[2], &filter); err != nil {
		t.Errorf("fake relay bad filter: %s", payload)
		return "", nostr.Filter{}, false
	}

	_ = ws.SetReadDeadline(time.Time{})
	return subscriptionID, filter, true
}

// signedEvent builds a fully verifiable event from a fresh keypair.
func signedEvent(t *testing.T, kind int, content string) nostr.Event {
	t.Helper()

	privateKey, err := btcec.NewPrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}

	event := nostr.Event{
		PubKey:    hex.EncodeToString(schnorr.SerializePubKey(privateKey.PubKey())),
		CreatedAt: time.Now().Unix(),
		Kind:      kind,
		Tags:      nostr.Tags{},
		Content:   content,
	}

	id, err := event.ComputeID()
	if err != nil {
		t.Fatalf("compute id: %v", err)
	}
	event.ID = id

	idBytes, err := hex.DecodeString(id)
	if err != nil {
		t.Fatalf("decode id: %v", err)
	}
	signature, err := schnorr.Sign(privateKey, idBytes)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	event.Sig = hex.EncodeToString(signature.Serialize())
	return event
}

// fakeClock is a mutable clock for staleness tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(start time.Time) *fakeClock {
	return &fakeClock{now: start}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}
