// Package agent is the client side of the broadcast channel. An Agent keeps
// one connection open, records everything it receives and reconnects on a
// fixed interval until a bounded number of attempts is used up.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"broadcast-service/internal/models"
)

const (
	defaultReconnectInterval    = 5 * time.Second
	defaultMaxReconnectAttempts = 5
	defaultHandshakeTimeout     = 10 * time.Second
	defaultWriteTimeout         = 10 * time.Second
)

var (
	ErrNotConnected       = errors.New("agent: not connected")
	ErrReconnectExhausted = errors.New("agent: reconnect attempts exhausted")
	ErrAlreadyStarted     = errors.New("agent: already started")
)

// Config is passed once to NewAgent. Zero values take the documented defaults.
type Config struct {
	// URL of the channel endpoint, e.g. ws://localhost:8083/ws.
	URL string
	// ReconnectInterval is the fixed delay before each reconnect. Default 5s.
	ReconnectInterval time.Duration
	// MaxReconnectAttempts before the agent fails. Default 5; negative
	// disables reconnecting.
	MaxReconnectAttempts int
	// HandshakeTimeout bounds each dial. Default 10s.
	HandshakeTimeout time.Duration
	// WriteTimeout bounds each send on the default dialer. Default 10s.
	WriteTimeout time.Duration
	// Dialer defaults to a WebSocketDialer.
	Dialer Dialer

	// OnMessage receives every parsed inbound message in transport order, on
	// the read goroutine. A message is logged and handed to OnMessage only if
	// no Disconnect or Start happened before it was read; a call already
	// under way when Disconnect runs may still finish after Disconnect
	// returns. OnMessage may call back into the agent, Disconnect included.
	OnMessage func(models.Message)
	// OnStateChange observes every transition.
	OnStateChange func(State)
	// OnFailed is called with ErrReconnectExhausted when the agent gives up.
	OnFailed func(error)
}

func (c Config) withDefaults() Config {
	if c.ReconnectInterval <= 0 {
		c.ReconnectInterval = defaultReconnectInterval
	}
	if c.MaxReconnectAttempts == 0 {
		c.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if c.MaxReconnectAttempts < 0 {
		c.MaxReconnectAttempts = 0
	}
	if c.HandshakeTimeout <= 0 {
		c.HandshakeTimeout = defaultHandshakeTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = defaultWriteTimeout
	}
	if c.Dialer == nil {
		c.Dialer = WebSocketDialer{HandshakeTimeout: c.HandshakeTimeout, WriteTimeout: c.WriteTimeout}
	}
	return c
}

type timer interface {
	Stop() bool
}

type afterFunc func(d time.Duration, f func()) timer

func realAfterFunc(d time.Duration, f func()) timer {
	return time.AfterFunc(d, f)
}

// Agent is safe for concurrent use.
type Agent struct {
	cfg   Config
	after afterFunc

	mu        sync.Mutex
	state     State
	running   bool
	attempts  int
	transport Transport
	timer     timer
	// gen changes on every Start and Disconnect; callbacks from older
	// generations are dropped.
	gen      uint64
	timerSeq uint64
	ctx      context.Context
	stop     chan struct{}
	log      []models.Message
	pending  []func()

	sendMu sync.Mutex
}

// NewAgent creates a disconnected agent.
func NewAgent(cfg Config) *Agent {
	return &Agent{
		cfg:   cfg.withDefaults(),
		after: realAfterFunc,
		state: StateDisconnected,
	}
}

// Start makes the first connection attempt. Handshake failures are not
// returned; they enter the reconnect policy and surface through
// OnStateChange and OnFailed. Cancelling ctx has the effect of Disconnect.
func (a *Agent) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.running {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.running = true
	a.attempts = 0
	a.gen++
	gen := a.gen
	a.ctx = ctx
	a.stop = make(chan struct{})
	stop := a.stop
	if a.state == StateFailed || a.state == StateClosing {
		a.setStateLocked(StateDisconnected)
	}
	a.unlockAndNotify()

	go a.watch(ctx, stop)
	a.connect(gen)
	return nil
}

// Send broadcasts body under sender. It fails fast with ErrNotConnected
// unless the agent is open; nothing is queued.
func (a *Agent) Send(body, sender string) error {
	a.mu.Lock()
	t := a.transport
	open := a.state == StateOpen
	a.mu.Unlock()
	if !open || t == nil {
		return ErrNotConnected
	}

	payload, err := json.Marshal(models.InboundMessage{
		Type:    models.KindBroadcast,
		Message: body,
		Sender:  sender,
	})
	if err != nil {
		return err
	}

	a.sendMu.Lock()
	defer a.sendMu.Unlock()
	if err := t.WriteMessage(payload); err != nil {
		// the read loop notices the closed transport and reconnects
		_ = t.Close()
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// Disconnect cancels any pending reconnect, closes the transport and leaves
// the agent disconnected until Start is called again.
func (a *Agent) Disconnect() error {
	a.mu.Lock()
	a.gen++
	gen := a.gen
	a.stopTimerLocked()
	if a.running {
		a.running = false
		close(a.stop)
	}
	t := a.transport
	a.transport = nil
	if t != nil {
		a.setStateLocked(StateClosing)
	}
	a.unlockAndNotify()

	var err error
	if t != nil {
		err = t.Close()
	}

	a.mu.Lock()
	// a Start during the close owns the state now
	if gen == a.gen {
		a.setStateLocked(StateDisconnected)
	}
	a.unlockAndNotify()
	return err
}

// State returns the current state.
func (a *Agent) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

// Messages returns a copy of every message received so far, oldest first.
func (a *Agent) Messages() []models.Message {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]models.Message(nil), a.log...)
}

func (a *Agent) watch(ctx context.Context, stop <-chan struct{}) {
	select {
	case <-ctx.Done():
		_ = a.Disconnect()
	case <-stop:
	}
}

// connect runs one handshake. Only a disconnected agent of the current
// generation may start one, so attempts never overlap.
func (a *Agent) connect(gen uint64) {
	a.mu.Lock()
	if gen != a.gen || a.state != StateDisconnected {
		a.mu.Unlock()
		return
	}
	a.setStateLocked(StateConnecting)
	ctx := a.ctx
	a.unlockAndNotify()

	dialCtx, cancel := context.WithTimeout(ctx, a.cfg.HandshakeTimeout)
	t, err := a.cfg.Dialer.Dial(dialCtx, a.cfg.URL)
	cancel()

	a.mu.Lock()
	if gen != a.gen {
		a.mu.Unlock()
		if t != nil {
			_ = t.Close()
		}
		return
	}
	if err != nil {
		log.Printf("agent: dial %s failed: %v", a.cfg.URL, err)
		a.setStateLocked(StateDisconnected)
		a.scheduleReconnectLocked(gen)
		a.unlockAndNotify()
		return
	}
	a.transport = t
	a.attempts = 0
	a.setStateLocked(StateOpen)
	a.unlockAndNotify()

	go a.readLoop(gen, t)
}

func (a *Agent) readLoop(gen uint64, t Transport) {
	for {
		raw, err := t.ReadMessage()
		if err != nil {
			a.transportClosed(gen, t, err)
			return
		}

		var msg models.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			log.Printf("agent: dropping unparseable frame: %v", err)
			continue
		}

		if !a.record(gen, msg) {
			return
		}
		if a.cfg.OnMessage != nil {
			a.cfg.OnMessage(msg)
		}
	}
}

// record appends msg to the log unless gen is stale. The log and the
// decision to deliver change together, so Messages and OnMessage always agree.
func (a *Agent) record(gen uint64, msg models.Message) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if gen != a.gen {
		return false
	}
	a.log = append(a.log, msg)
	return true
}

// transportClosed handles the loss of t. Only the first report for the
// current transport counts.
func (a *Agent) transportClosed(gen uint64, t Transport, cause error) {
	a.mu.Lock()
	if gen != a.gen || a.transport != t {
		a.mu.Unlock()
		return
	}
	a.transport = nil
	log.Printf("agent: connection lost: %v", cause)
	a.setStateLocked(StateDisconnected)
	a.scheduleReconnectLocked(gen)
	a.unlockAndNotify()

	_ = t.Close()
}

// scheduleReconnectLocked replaces any pending timer, or fails the agent
// once the attempt budget is spent.
func (a *Agent) scheduleReconnectLocked(gen uint64) {
	a.stopTimerLocked()
	if a.attempts >= a.cfg.MaxReconnectAttempts {
		log.Printf("agent: giving up after %d reconnect attempts", a.attempts)
		if a.running {
			a.running = false
			close(a.stop)
		}
		a.setStateLocked(StateFailed)
		if a.cfg.OnFailed != nil {
			onFailed := a.cfg.OnFailed
			a.pending = append(a.pending, func() { onFailed(ErrReconnectExhausted) })
		}
		return
	}
	a.attempts++
	a.timerSeq++
	seq := a.timerSeq
	a.timer = a.after(a.cfg.ReconnectInterval, func() { a.onTimer(gen, seq) })
}

func (a *Agent) onTimer(gen, seq uint64) {
	a.mu.Lock()
	if gen != a.gen || seq != a.timerSeq || a.timer == nil {
		a.mu.Unlock()
		return
	}
	a.timer = nil
	a.mu.Unlock()
	a.connect(gen)
}

func (a *Agent) stopTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *Agent) setStateLocked(s State) {
	if a.state == s {
		return
	}
	a.state = s
	if a.cfg.OnStateChange != nil {
		onChange := a.cfg.OnStateChange
		a.pending = append(a.pending, func() { onChange(s) })
	}
}

// unlockAndNotify releases mu and then runs queued callbacks, so callbacks
// may call back into the agent.
func (a *Agent) unlockAndNotify() {
	pending := a.pending
	a.pending = nil
	a.mu.Unlock()
	for _, fn := range pending {
		fn()
	}
}
