package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/caarlos0/env/v11"
)

// ErrConfig indicates invalid dispatcher configuration.
var ErrConfig = errors.New("notify: invalid config")

type kind int

const (
	kindVerificationLink kind = iota + 1
	kindRecoveryCode
)

func (k kind) String() string {
	switch k {
	case kindVerificationLink:
		return "verification_link"
	case kindRecoveryCode:
		return "recovery_code"
	default:
		return "unknown"
	}
}

type message struct {
	kind   kind
	email  string
	secret string
}

// DispatcherConfig controls the asynchronous send queue.
type DispatcherConfig struct {
	BufferSize  int           `env:"COMMINQ_NOTIFY_BUFFER"`
	SendTimeout time.Duration `env:"COMMINQ_NOTIFY_SEND_TIMEOUT"`
}

// DefaultDispatcherConfig returns a 256-message buffer and a 10s send timeout.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{BufferSize: 256, SendTimeout: 10 * time.Second}
}

// LoadDispatcherConfigFromEnv overlays COMMINQ_NOTIFY_* variables on DefaultDispatcherConfig.
func LoadDispatcherConfigFromEnv() (DispatcherConfig, error) {
	cfg := DefaultDispatcherConfig()
	if err := env.Parse(&cfg); err != nil {
		return DispatcherConfig{}, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	if cfg.BufferSize <= 0 || cfg.SendTimeout <= 0 {
		return DispatcherConfig{}, fmt.Errorf("%w: buffer and send timeout must be positive", ErrConfig)
	}
	return cfg, nil
}

// Dispatcher queues notifications and delivers them from a single worker so
// request handlers never block on the transport. A full queue drops the
// message and counts it.
type Dispatcher struct {
	cfg    DispatcherConfig
	next   Notifier
	log    *slog.Logger
	onDrop func()

	ch        chan message
	done      chan struct{}
	wg        sync.WaitGroup
	dropped   atomic.Uint64
	closed    atomic.Bool
	closeOnce sync.Once
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger for delivery failures.
func WithLogger(log *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		if log != nil {
			d.log = log
		}
	}
}

// WithDropHook is called once per dropped message.
func WithDropHook(fn func()) DispatcherOption {
	return func(d *Dispatcher) { d.onDrop = fn }
}

// NewDispatcher starts the worker. Close must be called to drain it.
func NewDispatcher(next Notifier, cfg DispatcherConfig, opts ...DispatcherOption) *Dispatcher {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultDispatcherConfig().SendTimeout
	}
	if next == nil {
		next = Noop{}
	}

	d := &Dispatcher{
		cfg:  cfg,
		next: next,
		log:  slog.Default(),
		ch:   make(chan message, cfg.BufferSize),
		done: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(d)
		}
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()

	for {
		select {
		case m := <-d.ch:
			d.deliver(m)
		case <-d.done:
			for {
				select {
				case m := <-d.ch:
					d.deliver(m)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(m message) {
	ctx, cancel := context.WithTimeout(context.Background(), d.cfg.SendTimeout)
	defer cancel()

	var err error
	switch m.kind {
	case kindVerificationLink:
		err = d.next.SendVerificationLink(ctx, m.email, m.secret)
	case kindRecoveryCode:
		err = d.next.SendRecoveryCode(ctx, m.email, m.secret)
	}
	if err != nil {
		d.log.Error("notify.send.fail", "kind", m.kind.String(), "email", m.email, "err", err)
	}
}

func (d *Dispatcher) enqueue(m message) {
	if d.closed.Load() {
		d.drop(m)
		return
	}
	select {
	case d.ch <- m:
	case <-d.done:
		d.drop(m)
	default:
		d.drop(m)
	}
}

func (d *Dispatcher) drop(m message) {
	d.dropped.Add(1)
	if d.onDrop != nil {
		d.onDrop()
	}
	d.log.Warn("notify.send.dropped", "kind", m.kind.String(), "email", m.email)
}

// SendVerificationLink queues the message and returns immediately.
func (d *Dispatcher) SendVerificationLink(_ context.Context, email, link string) error {
	d.enqueue(message{kind: kindVerificationLink, email: email, secret: link})
	return nil
}

// SendRecoveryCode queues the message and returns immediately.
func (d *Dispatcher) SendRecoveryCode(_ context.Context, email, code string) error {
	d.enqueue(message{kind: kindRecoveryCode, email: email, secret: code})
	return nil
}

// Close stops accepting messages and waits for queued ones to be delivered.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		d.closed.Store(true)
		close(d.done)
		d.wg.Wait()
	})
}

// Dropped reports how many messages were discarded.
func (d *Dispatcher) Dropped() uint64 { return d.dropped.Load() }
