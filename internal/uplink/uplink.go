// Package uplink implements the uplink dispatcher: the single-threaded
// ingress path from the MQTT event/up topic into either local delivery or
// the relay queue. For every decoded uplink it checks the packet cache for
// a duplicate, resolves hop-by-hop fragments down to the packet the
// originating node actually sent, and then decides, by destination
// address, whether to hand the packet to the receive-buffer manager for
// bundle reassembly and local delivery or to push it verbatim onto the
// relay queue for the router to flood onward.
package uplink

import (
	"github.com/rs/zerolog"

	"github.com/peasec/spatz/internal/band"
	"github.com/peasec/spatz/internal/bundle"
	"github.com/peasec/spatz/internal/codec"
	"github.com/peasec/spatz/internal/enddevice"
	"github.com/peasec/spatz/internal/gw"
	"github.com/peasec/spatz/internal/packetcache"
	"github.com/peasec/spatz/internal/queue"
	"github.com/peasec/spatz/internal/recvbuf"
)

// LocalAddresses reports whether a destination id is one of this node's own
// managed addresses. Implemented by LocalSet; an interface so the
// dispatcher can be tested with a fixed set without touching config.
type LocalAddresses interface {
	Contains(id enddevice.ID) bool
}

// LocalSet is the destination-ids this node delivers locally, derived from
// the daemon's configured managed phone numbers.
type LocalSet map[enddevice.ID]struct{}

// NewLocalSet hashes numbers into the managed-address id space.
func NewLocalSet(numbers []string) LocalSet {
	s := make(LocalSet, len(numbers))
	for _, n := range numbers {
		s[enddevice.NewManaged(n).ID()] = struct{}{}
	}
	return s
}

// Contains reports whether id is a locally-managed address.
func (s LocalSet) Contains(id enddevice.ID) bool {
	_, ok := s[id]
	return ok
}

// BundleDelivery receives a bundle the dispatcher resolved as addressed to
// a local managed address. Implemented by internal/localws.Server.
type BundleDelivery interface {
	Deliver(b bundle.Bundle)
}

// Dispatcher wires together the pieces a decoded uplink passes through.
type Dispatcher struct {
	local    LocalAddresses
	cache    *packetcache.Cache
	recv     *recvbuf.Manager
	relay    *queue.RelayQueue
	delivery BundleDelivery
	log      zerolog.Logger
}

// New returns a dispatcher that delivers bundles addressed to an id in
// local to delivery, and pushes everything else onto relay.
func New(local LocalAddresses, cache *packetcache.Cache, recv *recvbuf.Manager, relay *queue.RelayQueue, delivery BundleDelivery, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		local:    local,
		cache:    cache,
		recv:     recv,
		relay:    relay,
		delivery: delivery,
		log:      log.With().Str("component", "uplink").Logger(),
	}
}

// HandleUplink is the Handler the MQTT transport's event/up subscription
// feeds. frame is the decoded ChirpStack uplink; the caller has already
// matched the topic to an event/up sub-topic.
func (d *Dispatcher) HandleUplink(frame *gw.UplinkFrame) {
	if frame.TxInfo == nil || frame.TxInfo.Modulation == nil || frame.TxInfo.Modulation.Lora == nil {
		d.log.Warn().Msg("dropping uplink with no LoRa modulation info")
		return
	}
	lora := frame.TxInfo.Modulation.Lora
	dataRate, err := band.FromBandwidthAndSpreadingFactor(band.Bandwidth(lora.Bandwidth), band.SpreadingFactor(lora.SpreadingFactor))
	if err != nil {
		d.log.Warn().Err(err).Msg("dropping uplink with an unrecognised data rate")
		return
	}

	if err := d.cache.Insert(frame.PhyPayload); err != nil {
		d.log.Debug().Err(err).Msg("dropping duplicate uplink already seen within the dedup window")
		return
	}

	p, err := codec.DecodePhy(frame.PhyPayload)
	if err != nil {
		d.log.Warn().Err(err).Msg("dropping uplink that failed to decode")
		return
	}

	d.dispatch(p, dataRate)
}

// dispatch applies the local/relay addressing decision, unwrapping
// hop-by-hop fragments first and re-evaluating the inner packet once fully
// reassembled, matching the wire packet's addressing taking priority over
// any single hop's MTU split.
func (d *Dispatcher) dispatch(p codec.Packet, dataRate band.DataRate) {
	if hop, ok := p.(codec.Hop2HopFragment); ok {
		inner, err := d.recv.ProcessHopFragment(hop)
		if err != nil {
			d.log.Warn().Err(err).Msg("rejected hop fragment")
			return
		}
		if inner == nil {
			return // more fragments expected
		}
		d.dispatch(inner, dataRate)
		return
	}

	if _, ok := p.(codec.LocalAnnouncement); ok {
		d.log.Debug().Msg("received local announcement")
		return
	}

	if dst, ok := destinationOf(p); ok && !d.local.Contains(dst) {
		d.relay.Push(queue.RelayItem{Packet: p, DataRate: dataRate})
		return
	}

	outcome, err := d.recv.Process(p)
	if err != nil {
		d.log.Warn().Err(err).Msg("rejected bundle fragment")
		return
	}
	if outcome != nil {
		d.delivery.Deliver(outcome.Bundle)
	}
}

// destinationOf extracts the addressed destination from the packet kinds
// that carry one. LocalAnnouncement and Hop2HopFragment are handled by
// their callers before destinationOf is ever consulted.
func destinationOf(p codec.Packet) (enddevice.ID, bool) {
	switch v := p.(type) {
	case codec.CompleteBundle:
		return v.Destination, true
	case codec.BundleFragment:
		return v.Destination, true
	case codec.FragmentedBundleFragment:
		return v.Destination, true
	default:
		return 0, false
	}
}
