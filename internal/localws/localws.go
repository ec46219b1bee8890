// Package localws implements the local client WebSocket adapter: the
// external interface a HofBox's local applications use to hand bundles to
// this daemon and receive bundles addressed to them. Bundles arrive as
// either CBOR binary frames or JSON text frames; every delivered bundle is
// sent out in both encodings, binary first, per spec.md §6.
package localws

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/peasec/spatz/internal/bundle"
	"github.com/peasec/spatz/internal/enddevice"
)

// WireBundle is the on-the-wire representation of a bundle.Bundle, shared
// by both the CBOR and JSON encodings.
type WireBundle struct {
	Source         string `json:"source" cbor:"source"`
	Destination    string `json:"destination" cbor:"destination"`
	ReportTo       string `json:"report_to" cbor:"report_to"`
	CreatedUnix    int64  `json:"created_unix" cbor:"created_unix"`
	IsFragment     bool   `json:"is_fragment,omitempty" cbor:"is_fragment,omitempty"`
	FragmentOffset uint64 `json:"fragment_offset,omitempty" cbor:"fragment_offset,omitempty"`
	TotalADULength uint64 `json:"total_adu_length,omitempty" cbor:"total_adu_length,omitempty"`
	Payload        []byte `json:"payload" cbor:"payload"`
}

// ToWire renders a bundle.Bundle as its wire form.
func ToWire(b bundle.Bundle) WireBundle {
	return WireBundle{
		Source:         b.Primary.Source.Endpoint(),
		Destination:    b.Primary.Destination.Endpoint(),
		ReportTo:       b.Primary.ReportTo.Endpoint(),
		CreatedUnix:    b.Primary.Created.Unix(),
		IsFragment:     b.Primary.IsFragment,
		FragmentOffset: b.Primary.FragmentOffset,
		TotalADULength: b.Primary.TotalADULength,
		Payload:        b.Payload,
	}
}

// FromWire parses a wire bundle back into a bundle.Bundle.
func FromWire(w WireBundle) (bundle.Bundle, error) {
	src, err := enddevice.FromEndpoint(w.Source)
	if err != nil {
		return bundle.Bundle{}, fmt.Errorf("localws: source: %w", err)
	}
	dst, err := enddevice.FromEndpoint(w.Destination)
	if err != nil {
		return bundle.Bundle{}, fmt.Errorf("localws: destination: %w", err)
	}

	var fragOffset, tadul *uint64
	if w.IsFragment {
		fragOffset, tadul = &w.FragmentOffset, &w.TotalADULength
	}
	b := bundle.FromUnixSeconds(dst, src, uint32(w.CreatedUnix), w.Payload, fragOffset, tadul)
	return b, nil
}

// IncomingHandler is invoked with each bundle a local client submits.
type IncomingHandler func(b bundle.Bundle)

// Server accepts local client WebSocket connections and fans delivered
// bundles out to all of them.
type Server struct {
	upgrader websocket.Upgrader
	log      zerolog.Logger
	onBundle IncomingHandler

	mu    sync.Mutex
	conns map[string]*conn
}

// NewServer returns a local WebSocket server. onBundle is called for every
// bundle a client submits, from that client's read-pump goroutine.
func NewServer(log zerolog.Logger, onBundle IncomingHandler) *Server {
	return &Server{
		upgrader: websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
		log:      log.With().Str("component", "localws").Logger(),
		onBundle: onBundle,
		conns:    make(map[string]*conn),
	}
}

type conn struct {
	id   string
	ws   *websocket.Conn
	send chan bundle.Bundle
}

// ServeHTTP upgrades the request to a WebSocket and spawns its read/write
// pumps. It returns once the connection closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	c := &conn{id: uuid.NewString(), ws: ws, send: make(chan bundle.Bundle, 32)}
	s.mu.Lock()
	s.conns[c.id] = c
	s.mu.Unlock()
	s.log.Info().Str("conn_id", c.id).Msg("local client connected")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); s.writePump(c) }()
	go func() { defer wg.Done(); s.readPump(c) }()
	wg.Wait()

	s.mu.Lock()
	delete(s.conns, c.id)
	s.mu.Unlock()
	s.log.Info().Str("conn_id", c.id).Msg("local client disconnected")
}

// readPump accepts BP7 bundles as either CBOR binary frames or JSON text
// frames and forwards each to onBundle.
func (s *Server) readPump(c *conn) {
	defer c.ws.Close()
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}

		var wire WireBundle
		switch msgType {
		case websocket.BinaryMessage:
			err = cbor.Unmarshal(data, &wire)
		case websocket.TextMessage:
			err = json.Unmarshal(data, &wire)
		default:
			continue
		}
		if err != nil {
			s.log.Warn().Err(err).Str("conn_id", c.id).Msg("failed to decode incoming bundle frame")
			continue
		}

		b, err := FromWire(wire)
		if err != nil {
			s.log.Warn().Err(err).Str("conn_id", c.id).Msg("failed to convert incoming wire bundle")
			continue
		}
		if s.onBundle != nil {
			s.onBundle(b)
		}
	}
}

// writePump delivers each bundle queued for this connection in both
// encodings, binary (CBOR) first, then text (JSON).
func (s *Server) writePump(c *conn) {
	defer c.ws.Close()
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case b, ok := <-c.send:
			if !ok {
				return
			}
			wire := ToWire(b)

			cborBytes, err := cbor.Marshal(wire)
			if err != nil {
				s.log.Error().Err(err).Msg("failed to encode bundle as CBOR")
				continue
			}
			if err := c.ws.WriteMessage(websocket.BinaryMessage, cborBytes); err != nil {
				return
			}

			jsonBytes, err := json.Marshal(wire)
			if err != nil {
				s.log.Error().Err(err).Msg("failed to encode bundle as JSON")
				continue
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, jsonBytes); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Deliver queues b for delivery to every currently connected local client.
// There is no backpressure beyond each connection's own send buffer: a
// slow client's buffer filling up drops that client's copy, logged at
// WARN, without affecting the others.
func (s *Server) Deliver(b bundle.Bundle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.conns {
		select {
		case c.send <- b:
		default:
			s.log.Warn().Str("conn_id", id).Msg("local client send buffer full, dropping bundle")
		}
	}
}
