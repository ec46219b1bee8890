// Package shutdown implements the graceful-shutdown discipline every
// long-running task in this daemon participates in: a Controller owning
// the stop signal and the completion barrier, Agents held by tasks that
// must be waited for, and Initiators held by components (like the
// gateway-id manager) that can trigger a shutdown without being waited for
// themselves.
package shutdown

import (
	"sync"
	"time"
)

// Condition is the reason a shutdown was requested.
type Condition int

const (
	// Panic is the condition cmd/spatzd's awaitShutdown reports for
	// Ctrl-C/SIGTERM. No panic hook is installed in this tree.
	Panic Condition = iota
	// MqttError is raised by cmd/spatzd each time the MQTT transport
	// reports a lost connection.
	MqttError
	// GatewayRetrievalFailed is raised by the gateway-id manager after
	// three consecutive failed refreshes.
	GatewayRetrievalFailed
	// AxumStartFailed is raised when the local WebSocket server cannot
	// bind its listen address.
	AxumStartFailed
	// Restart requests a full re-initialisation instead of process exit.
	Restart
)

func (c Condition) String() string {
	names := [...]string{"Panic", "MqttError", "GatewayRetrievalFailed", "AxumStartFailed", "Restart"}
	if int(c) < 0 || int(c) >= len(names) {
		return "Condition(unknown)"
	}
	return names[c]
}

// CompletionWait is the bounded time the controller waits, after notifying
// every agent, for all completion handles to be released. A var, not a
// const, so tests can shorten it rather than sleeping the full 15s.
var CompletionWait = 15 * time.Second

// Controller owns the one-shot stop signal, the inbox of shutdown
// conditions, and the completion barrier every Agent holds a handle on.
type Controller struct {
	notify    chan struct{}
	once      sync.Once
	condition chan Condition
	wg        sync.WaitGroup
}

// NewController returns a controller ready to hand out agents and
// initiators.
func NewController() *Controller {
	return &Controller{
		notify:    make(chan struct{}),
		condition: make(chan Condition, 8),
	}
}

// Conditions returns the channel shutdown conditions arrive on. The main
// loop selects on this alongside Ctrl-C.
func (c *Controller) Conditions() <-chan Condition {
	return c.condition
}

// NotifyStop closes the one-shot notify channel; any further send is a
// no-op. Every Agent's AwaitShutdown unblocks once this fires.
func (c *Controller) NotifyStop() {
	c.once.Do(func() { close(c.notify) })
}

// AwaitCompletion blocks until every issued Agent has dropped its
// completion handle, or CompletionWait elapses, whichever comes first. It
// returns true if every agent completed in time.
func (c *Controller) AwaitCompletion() bool {
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(CompletionWait):
		return false
	}
}

// Agent is held by one long-running task. AwaitShutdown returns once the
// controller has requested a stop; Done must be deferred immediately after
// NewAgent so the completion handle is always released.
type Agent struct {
	controller *Controller
}

// NewAgent registers one more task the controller must wait for on
// shutdown.
func (c *Controller) NewAgent() *Agent {
	c.wg.Add(1)
	return &Agent{controller: c}
}

// AwaitShutdown returns the channel that closes when the controller has
// requested a stop, for use in a task's select loop.
func (a *Agent) AwaitShutdown() <-chan struct{} {
	return a.controller.notify
}

// Done releases this agent's completion handle. Call it via defer
// immediately after NewAgent.
func (a *Agent) Done() {
	a.controller.wg.Done()
}

// Initiator is held by a component that can request a shutdown but is not
// itself waited for, such as the gateway-id manager's refresh loop after
// repeated failures.
type Initiator struct {
	controller *Controller
}

// NewInitiator returns an initiator bound to this controller.
func (c *Controller) NewInitiator() *Initiator {
	return &Initiator{controller: c}
}

// Request enqueues a shutdown condition and signals every agent to stop.
// Non-blocking: if the condition inbox is somehow full, the condition is
// dropped rather than stalling the caller (the notify channel still fires).
func (i *Initiator) Request(reason Condition) {
	select {
	case i.controller.condition <- reason:
	default:
	}
	i.controller.NotifyStop()
}

// Request is the Controller-held equivalent of Initiator.Request, used by
// cmd/spatzd itself (its MQTT connection-lost callback requests MqttError).
func (c *Controller) Request(reason Condition) {
	c.NewInitiator().Request(reason)
}
