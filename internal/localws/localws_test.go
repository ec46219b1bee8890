package localws

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/peasec/spatz/internal/bundle"
	"github.com/peasec/spatz/internal/enddevice"
)

func testBundle() bundle.Bundle {
	return bundle.FromUnixSeconds(enddevice.ID(2), enddevice.ID(1), 1_700_000_000, []byte("hello"), nil, nil)
}

func TestWireRoundTrip(t *testing.T) {
	b := testBundle()
	got, err := FromWire(ToWire(b))
	if err != nil {
		t.Fatalf("FromWire: %v", err)
	}
	if got.Primary.Source != b.Primary.Source || got.Primary.Destination != b.Primary.Destination {
		t.Fatalf("got %+v, want %+v", got.Primary, b.Primary)
	}
	if string(got.Payload) != string(b.Payload) {
		t.Fatalf("payload mismatch: got %q want %q", got.Payload, b.Payload)
	}
}

func TestFromWireRejectsMalformedEndpoint(t *testing.T) {
	w := ToWire(testBundle())
	w.Source = "not-a-dtn-uri"
	if _, err := FromWire(w); err == nil {
		t.Fatalf("expected an error for a malformed source endpoint")
	}
}

func newTestServer(t *testing.T, onBundle IncomingHandler) (*Server, *httptest.Server, string) {
	t.Helper()
	s := NewServer(zerolog.Nop(), onBundle)
	httpServer := httptest.NewServer(http.HandlerFunc(s.ServeHTTP))
	t.Cleanup(httpServer.Close)
	url := "ws" + httpServer.URL[len("http"):]
	return s, httpServer, url
}

func dial(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestClientSubmittedJSONBundleReachesHandler(t *testing.T) {
	received := make(chan bundle.Bundle, 1)
	_, _, url := newTestServer(t, func(b bundle.Bundle) { received <- b })

	conn := dial(t, url)
	payload, err := json.Marshal(ToWire(testBundle()))
	if err != nil {
		t.Fatalf("json.Marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	select {
	case b := <-received:
		if string(b.Payload) != "hello" {
			t.Fatalf("got payload %q, want %q", b.Payload, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the handler to be invoked")
	}
}

func TestClientSubmittedCBORBundleReachesHandler(t *testing.T) {
	received := make(chan bundle.Bundle, 1)
	_, _, url := newTestServer(t, func(b bundle.Bundle) { received <- b })

	conn := dial(t, url)
	payload, err := cbor.Marshal(ToWire(testBundle()))
	if err != nil {
		t.Fatalf("cbor.Marshal: %v", err)
	}
	if err := conn.WriteMessage(websocket.BinaryMessage, payload); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	select {
	case b := <-received:
		if string(b.Payload) != "hello" {
			t.Fatalf("got payload %q, want %q", b.Payload, "hello")
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for the handler to be invoked")
	}
}

func TestDeliverSendsBinaryThenText(t *testing.T) {
	s, _, url := newTestServer(t, nil)
	conn := dial(t, url)

	// Give ServeHTTP's goroutine a moment to register the connection.
	deadline := time.Now().Add(time.Second)
	for {
		s.mu.Lock()
		n := len(s.conns)
		s.mu.Unlock()
		if n == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("timed out waiting for the connection to register")
		}
		time.Sleep(time.Millisecond)
	}

	s.Deliver(testBundle())

	msgType, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage (first): %v", err)
	}
	if msgType != websocket.BinaryMessage {
		t.Fatalf("first frame type = %d, want BinaryMessage", msgType)
	}
	var viaCBOR WireBundle
	if err := cbor.Unmarshal(data, &viaCBOR); err != nil {
		t.Fatalf("cbor.Unmarshal: %v", err)
	}

	msgType, data, err = conn.ReadMessage()
	if err != nil {
		t.Fatalf("ReadMessage (second): %v", err)
	}
	if msgType != websocket.TextMessage {
		t.Fatalf("second frame type = %d, want TextMessage", msgType)
	}
	var viaJSON WireBundle
	if err := json.Unmarshal(data, &viaJSON); err != nil {
		t.Fatalf("json.Unmarshal: %v", err)
	}

	if viaCBOR.Destination != viaJSON.Destination || string(viaCBOR.Payload) != string(viaJSON.Payload) {
		t.Fatalf("CBOR and JSON deliveries disagree: %+v vs %+v", viaCBOR, viaJSON)
	}
}
