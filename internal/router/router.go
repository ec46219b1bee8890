// Package router implements the flooding queue scheduler of spec.md §4.7:
// a single fixed-cadence task that drains the relay queue (LIFO, freshest
// first) and then the bundle-send queue, converting each packet to a
// class-C immediate downlink and fanning it out to every known gateway,
// hop-fragmenting first when a packet exceeds the chosen data rate's MTU.
package router

import (
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/peasec/spatz/internal/airtime"
	"github.com/peasec/spatz/internal/band"
	"github.com/peasec/spatz/internal/codec"
	"github.com/peasec/spatz/internal/dutycycle"
	"github.com/peasec/spatz/internal/gatewayids"
	"github.com/peasec/spatz/internal/gw"
	"github.com/peasec/spatz/internal/hopfrag"
	"github.com/peasec/spatz/internal/packetcache"
	"github.com/peasec/spatz/internal/queue"
	"github.com/peasec/spatz/internal/shutdown"
)

// The fixed class-C immediate-downlink parameters spec.md §4.7 mandates.
const (
	downlinkPowerDBm = 14
	downlinkBoard    = 0
	downlinkAntenna  = 0
)

// Publisher is the MQTT publish surface the router consumes. Implemented
// by internal/mqtttransport.Transport; this interface boundary lets the
// router be tested without a live broker.
type Publisher interface {
	PublishDownlink(gatewayID string, payload []byte) error
}

// Config carries the router's fixed policy: the cadence it drains queues
// at when both queues are empty, and the data rate/frequency newly
// originated (non-relay) packets are sent at. Relay items already carry
// their own data rate, observed from the uplink they arrived on.
type Config struct {
	Cadence       time.Duration
	SendDataRate  band.DataRate
	SendFrequency band.Frequency
}

// Router drains the relay and bundle-send queues on Config.Cadence,
// flooding every packet it produces to every gateway in gateways.
type Router struct {
	cfg       Config
	relay     *queue.RelayQueue
	sends     *queue.BundleSendQueue
	gateways  *gatewayids.Set
	duty      *dutycycle.Ledger
	cache     *packetcache.Cache
	publisher Publisher
	log       zerolog.Logger

	downlinkID atomic.Uint32
}

// New returns a router wired to its queues, gateway set, duty-cycle
// ledger, packet cache, and MQTT publisher.
func New(cfg Config, relay *queue.RelayQueue, sends *queue.BundleSendQueue, gateways *gatewayids.Set, duty *dutycycle.Ledger, cache *packetcache.Cache, publisher Publisher, log zerolog.Logger) *Router {
	return &Router{
		cfg:       cfg,
		relay:     relay,
		sends:     sends,
		gateways:  gateways,
		duty:      duty,
		cache:     cache,
		publisher: publisher,
		log:       log.With().Str("component", "router").Logger(),
	}
}

// Run drives the drain loop until the agent's shutdown signal fires.
func (r *Router) Run(agent *shutdown.Agent) {
	defer agent.Done()

	for {
		select {
		case <-agent.AwaitShutdown():
			return
		default:
		}

		if r.tick() {
			// Something was popped this iteration (successfully or not):
			// skip the sleep so a busy queue doesn't miss a slot.
			continue
		}

		select {
		case <-agent.AwaitShutdown():
			return
		case <-time.After(r.cfg.Cadence):
		}
	}
}

// tick performs one priority-ordered drain step, returning true if it
// found work (a relay item or a live send buffer), false if both queues
// were empty and the caller should sleep.
func (r *Router) tick() bool {
	if item, ok := r.relay.Pop(); ok {
		r.flood(item.Packet, item.DataRate)
		return true
	}

	buf := r.sends.Head()
	if buf == nil {
		return false
	}
	if buf.Empty() {
		r.sends.RemoveHead()
		return true
	}

	p, err := buf.Next(r.cfg.SendDataRate)
	if err != nil {
		r.log.Error().Err(err).Msg("failed to produce the next packet from the head send buffer")
		return true
	}
	r.flood(p, r.cfg.SendDataRate)
	if buf.Empty() {
		r.sends.RemoveHead()
	}
	return true
}

// flood registers p in the packet cache, hop-fragments it if it exceeds
// d's MTU (registering each fragment frame too), and fans the result out to every known gateway as a class-C
// immediate downlink. Failures against individual gateways are logged and
// do not abort the remaining sends.
func (r *Router) flood(p codec.Packet, d band.DataRate) {
	encoded := codec.EncodePhy(p)
	if err := r.cache.Insert(encoded); err != nil {
		r.log.Debug().Err(err).Msg("flooding a frame already present in the packet cache")
	}

	packets := []codec.Packet{p}
	if len(encoded) > d.MaxUsablePayload(false) {
		frags, err := hopfrag.Split(p, d)
		if err != nil {
			r.log.Error().Err(err).Str("data_rate", d.String()).Msg("failed to hop-fragment an oversized packet")
			return
		}
		packets = make([]codec.Packet, len(frags))
		for i, f := range frags {
			packets[i] = f
			if err := r.cache.Insert(codec.EncodePhy(f)); err != nil {
				r.log.Debug().Err(err).Msg("flooding a frame already present in the packet cache")
			}
		}
	}

	gatewayIDs := r.gateways.All()
	for _, pkt := range packets {
		r.sendToGateways(pkt, d, gatewayIDs)
	}
}

func (r *Router) sendToGateways(pkt codec.Packet, d band.DataRate, gatewayIDs []string) {
	payload := codec.EncodePhy(pkt)
	airtimeMs := airtime.PacketDurationMs(len(payload), d.SpreadingFactor(), d.Bandwidth(), false, false)
	freqHz := uint32(r.cfg.SendFrequency)

	for _, gatewayID := range gatewayIDs {
		if ok, err := r.duty.IsCapacityAvailable(airtimeMs, freqHz, gatewayID); err != nil {
			r.log.Warn().Err(err).Str("gateway_id", gatewayID).Msg("failed to evaluate duty-cycle capacity")
		} else if !ok {
			r.log.Warn().Str("gateway_id", gatewayID).Msg("skipping gateway: duty-cycle capacity exhausted")
			continue
		}

		frame := r.buildDownlinkFrame(gatewayID, payload, d)
		wire, err := gw.MarshalDownlinkFrame(frame)
		if err != nil {
			r.log.Error().Err(err).Str("gateway_id", gatewayID).Msg("failed to marshal downlink frame")
			continue
		}

		if err := r.publisher.PublishDownlink(gatewayID, wire); err != nil {
			r.log.Warn().Err(err).Str("gateway_id", gatewayID).Msg("downlink publish failed")
			continue
		}

		if err := r.duty.ConsumeCapacity(airtimeMs, freqHz, gatewayID); err != nil {
			r.log.Warn().Err(err).Str("gateway_id", gatewayID).Msg("duty-cycle capacity consumed past budget after publish")
		}
	}
}

func (r *Router) buildDownlinkFrame(gatewayID string, payload []byte, d band.DataRate) *gw.DownlinkFrame {
	return &gw.DownlinkFrame{
		DownlinkId: r.downlinkID.Add(1),
		GatewayId:  gatewayID,
		Items: []*gw.DownlinkFrameItem{{
			PhyPayload: payload,
			TxInfo: &gw.DownlinkTxInfo{
				Frequency: uint32(r.cfg.SendFrequency),
				Power:     downlinkPowerDBm,
				Board:     downlinkBoard,
				Antenna:   downlinkAntenna,
				Modulation: &gw.Modulation{
					Lora: &gw.LoraModulationInfo{
						Bandwidth:       uint32(d.Bandwidth()),
						SpreadingFactor: uint32(d.SpreadingFactor()),
						CodeRate:        gw.CodeRate_CR_4_5,
					},
				},
				Timing: &gw.Timing{Immediately: &gw.ImmediatelyTimingInfo{}},
			},
		}},
	}
}
