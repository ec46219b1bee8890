// Package gatewayids maintains the refreshed set of gateway ids reachable
// through the ChirpStack orchestrator, refreshed on a periodic tick. After
// three consecutive refresh failures it raises a shutdown via the
// gateway-retrieval-failed condition.
package gatewayids

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/peasec/spatz/internal/shutdown"
)

// DefaultInterval is the default refresh cadence.
const DefaultInterval = 60 * time.Second

// maxConsecutiveFailures is the number of back-to-back failed refreshes
// before a shutdown is requested.
const maxConsecutiveFailures = 3

// Lister lists the gateway ids currently reachable through the
// orchestrator, page-limited. Implemented by internal/chirpstack; this
// interface lets the manager be tested without a live ChirpStack instance.
type Lister interface {
	ListGatewayIDs(ctx context.Context, pageLimit int) ([]string, error)
}

// Set is the refreshed, atomically-replaced set of gateway id strings.
type Set struct {
	mu  sync.RWMutex
	ids map[string]struct{}
}

// NewSet returns a Set pre-populated with ids, for tests and for seeding a
// router before the first gateway-id refresh completes.
func NewSet(ids []string) *Set {
	s := &Set{ids: make(map[string]struct{}, len(ids))}
	s.replace(ids)
	return s
}

// Contains reports whether id is currently known.
func (s *Set) Contains(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[id]
	return ok
}

// All returns a snapshot slice of every known gateway id.
func (s *Set) All() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.ids))
	for id := range s.ids {
		out = append(out, id)
	}
	return out
}

func (s *Set) replace(ids []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
}

// Manager periodically refreshes a Set from a Lister.
type Manager struct {
	lister     Lister
	set        *Set
	interval   time.Duration
	pageLimit  int
	log        zerolog.Logger
	initiator  *shutdown.Initiator
}

// New returns a gateway-id manager that refreshes set from lister every
// interval, requesting a shutdown through initiator after three
// consecutive failures.
func New(lister Lister, interval time.Duration, pageLimit int, log zerolog.Logger, initiator *shutdown.Initiator) *Manager {
	return &Manager{
		lister:    lister,
		set:       &Set{ids: make(map[string]struct{})},
		interval:  interval,
		pageLimit: pageLimit,
		log:       log.With().Str("component", "gatewayids").Logger(),
		initiator: initiator,
	}
}

// Set returns the manager's live gateway-id set.
func (m *Manager) Set() *Set { return m.set }

// Run drives the periodic refresh until the agent's shutdown signal fires.
// It refreshes once immediately before entering the ticker loop, so the
// set is populated before the router's first tick.
func (m *Manager) Run(agent *shutdown.Agent) {
	defer agent.Done()

	failures := 0
	m.refresh(&failures)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-agent.AwaitShutdown():
			return
		case <-ticker.C:
			m.refresh(&failures)
		}
	}
}

func (m *Manager) refresh(failures *int) {
	cycle := uuid.NewString()
	ctx, cancel := context.WithTimeout(context.Background(), m.interval)
	defer cancel()

	ids, err := m.lister.ListGatewayIDs(ctx, m.pageLimit)
	if err != nil {
		*failures++
		m.log.Warn().Err(err).Str("cycle", cycle).Int("consecutive_failures", *failures).Msg("gateway id refresh failed")
		if *failures >= maxConsecutiveFailures {
			m.log.Error().Str("cycle", cycle).Msg("too many consecutive gateway id refresh failures, requesting shutdown")
			m.initiator.Request(shutdown.GatewayRetrievalFailed)
		}
		return
	}

	*failures = 0
	m.set.replace(ids)
	m.log.Debug().Str("cycle", cycle).Int("count", len(ids)).Msg("refreshed gateway id set")
}
