package router

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/peasec/spatz/internal/band"
	"github.com/peasec/spatz/internal/codec"
	"github.com/peasec/spatz/internal/dutycycle"
	"github.com/peasec/spatz/internal/enddevice"
	"github.com/peasec/spatz/internal/gatewayids"
	"github.com/peasec/spatz/internal/packetcache"
	"github.com/peasec/spatz/internal/queue"
	"github.com/peasec/spatz/internal/sendbuf"
	"github.com/peasec/spatz/internal/subband"
)

type fakePublisher struct {
	mu        sync.Mutex
	published []string // gatewayID per call
	fail      map[string]bool
}

func (f *fakePublisher) PublishDownlink(gatewayID string, _ []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[gatewayID] {
		return fmt.Errorf("fake publish failure for %s", gatewayID)
	}
	f.published = append(f.published, gatewayID)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

func newRouter(t *testing.T, pub Publisher, gateways []string) (*Router, *queue.RelayQueue, *queue.BundleSendQueue) {
	t.Helper()
	relay := queue.NewRelayQueue(8)
	sends := queue.NewBundleSendQueue(8)
	cfg := Config{Cadence: time.Millisecond, SendDataRate: band.Dr0, SendFrequency: band.Freq868_3}
	r := New(cfg, relay, sends, gatewayids.NewSet(gateways), dutycycle.New(), packetcache.New(time.Minute, false), pub, zerolog.Nop())
	return r, relay, sends
}

func TestTickFloodsRelayItemBeforeSendQueue(t *testing.T) {
	pub := &fakePublisher{}
	r, relay, sends := newRouter(t, pub, []string{"gw-1", "gw-2"})

	relay.Push(queue.RelayItem{
		Packet:   codec.CompleteBundle{Destination: enddevice.ID(2), Source: enddevice.ID(1), Timestamp: 1, Payload: []byte("relay")},
		DataRate: band.Dr0,
	})
	buf, err := sendbuf.New(enddevice.ID(2), enddevice.ID(1), 1, []byte("send"))
	if err != nil {
		t.Fatalf("sendbuf.New: %v", err)
	}
	sends.Push(buf)

	if ok := r.tick(); !ok {
		t.Fatal("expected tick to report work done")
	}
	if relay.Len() != 0 {
		t.Fatalf("expected the relay item to be drained first, relay len = %d", relay.Len())
	}
	if sends.Len() != 1 {
		t.Fatalf("expected the send buffer to remain queued, len = %d", sends.Len())
	}
	if got := pub.count(); got != 2 {
		t.Fatalf("expected one publish per gateway (2), got %d", got)
	}
}

func TestTickReturnsFalseWhenBothQueuesEmpty(t *testing.T) {
	pub := &fakePublisher{}
	r, _, _ := newRouter(t, pub, []string{"gw-1"})

	if ok := r.tick(); ok {
		t.Fatal("expected tick to report no work for empty queues")
	}
}

func TestTickDrainsSendBufferToCompletionThenRemovesHead(t *testing.T) {
	pub := &fakePublisher{}
	r, _, sends := newRouter(t, pub, []string{"gw-1"})

	buf, err := sendbuf.New(enddevice.ID(2), enddevice.ID(1), 1, []byte("x"))
	if err != nil {
		t.Fatalf("sendbuf.New: %v", err)
	}
	sends.Push(buf)

	for i := 0; i < 10 && sends.Len() > 0; i++ {
		if ok := r.tick(); !ok {
			t.Fatal("expected tick to keep reporting work while the send buffer drains")
		}
	}
	if sends.Len() != 0 {
		t.Fatal("expected the send buffer to be fully drained and removed")
	}
}

func TestFloodHopFragmentsOversizedPacket(t *testing.T) {
	pub := &fakePublisher{}
	r, relay, _ := newRouter(t, pub, []string{"gw-1"})

	big := make([]byte, 300)
	for i := range big {
		big[i] = byte(i)
	}
	relay.Push(queue.RelayItem{
		Packet:   codec.CompleteBundle{Destination: enddevice.ID(2), Source: enddevice.ID(1), Timestamp: 1, Payload: big},
		DataRate: band.Dr0,
	})

	r.tick()

	if got := pub.count(); got < 2 {
		t.Fatalf("expected an oversized packet to be hop-fragmented into multiple downlinks, got %d publishes", got)
	}
}

func TestSendToGatewaysSkipsGatewayWithExhaustedDutyCycleCapacity(t *testing.T) {
	pub := &fakePublisher{}
	relay := queue.NewRelayQueue(8)
	sends := queue.NewBundleSendQueue(8)
	duty := dutycycle.New()

	// Exhaust the Freq868_3 sub-band's whole budget for gw-exhausted up front.
	sb, err := subband.FromFrequency(uint32(band.Freq868_3))
	if err != nil {
		t.Fatalf("subband.FromFrequency: %v", err)
	}
	if err := duty.ConsumeCapacity(sb.MaxCapacityMs(), uint32(band.Freq868_3), "gw-exhausted"); err != nil {
		t.Fatalf("ConsumeCapacity: %v", err)
	}

	cfg := Config{Cadence: time.Millisecond, SendDataRate: band.Dr0, SendFrequency: band.Freq868_3}
	r := New(cfg, relay, sends, gatewayids.NewSet([]string{"gw-exhausted", "gw-ok"}), duty, packetcache.New(time.Minute, false), pub, zerolog.Nop())

	relay.Push(queue.RelayItem{
		Packet:   codec.CompleteBundle{Destination: enddevice.ID(2), Source: enddevice.ID(1), Timestamp: 1, Payload: []byte("x")},
		DataRate: band.Dr0,
	})
	r.tick()

	pub.mu.Lock()
	defer pub.mu.Unlock()
	for _, id := range pub.published {
		if id == "gw-exhausted" {
			t.Fatal("expected the duty-cycle-exhausted gateway to be skipped")
		}
	}
	if len(pub.published) != 1 || pub.published[0] != "gw-ok" {
		t.Fatalf("expected exactly one publish to gw-ok, got %v", pub.published)
	}
}

func TestBuildDownlinkFrameUsesClassCImmediateParameters(t *testing.T) {
	pub := &fakePublisher{}
	r, _, _ := newRouter(t, pub, []string{"gw-1"})

	frame := r.buildDownlinkFrame("gw-1", []byte("payload"), band.Dr0)
	item := frame.Items[0]
	if item.TxInfo.Power != downlinkPowerDBm || item.TxInfo.Board != downlinkBoard || item.TxInfo.Antenna != downlinkAntenna {
		t.Fatalf("unexpected tx info: %+v", item.TxInfo)
	}
	if item.TxInfo.Timing == nil || item.TxInfo.Timing.Immediately == nil {
		t.Fatal("expected a class-C immediate timing directive")
	}
	if item.TxInfo.Modulation.Lora.Bandwidth != uint32(band.Dr0.Bandwidth()) {
		t.Fatalf("bandwidth = %d, want %d", item.TxInfo.Modulation.Lora.Bandwidth, band.Dr0.Bandwidth())
	}
}
