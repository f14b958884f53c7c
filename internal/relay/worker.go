package relay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tidewater-labs/driftnet/internal/nostr"
)

// WorkerState names one phase of the streaming state machine.
type WorkerState string

const (
	// StateConnecting is the initial dial/REQ phase.
	StateConnecting WorkerState = "connecting"
	// StateSubscribed means the REQ has been accepted by the transport.
	StateSubscribed WorkerState = "subscribed"
	// StateReceiving is the steady-state frame loop.
	StateReceiving WorkerState = "receiving"
	// StateReconnecting is the fixed-backoff wait after a drop.
	StateReconnecting WorkerState = "reconnecting"
	// StateStopped is terminal, reached only through cancellation.
	StateStopped WorkerState = "stopped"
)

const (
	defaultWorkerBackoff        = 5 * time.Second
	defaultWorkerReceiveTimeout = 30 * time.Second
)

var (
	errWorkerMissingPool    = errors.New("relay: worker requires a pool")
	errWorkerMissingURL     = errors.New("relay: worker requires a relay url")
	errWorkerMissingHandler = errors.New("relay: worker requires an event handler")
)

// EventHandler consumes one verified event from a live subscription.
// Returned errors are logged and never terminate the stream.
type EventHandler func(ctx context.Context, event nostr.Event, relayURL string) error

// WorkerConfig carries construction options for NewWorker.
type WorkerConfig struct {
	Pool           *Pool
	RelayURL       string
	Filter         nostr.Filter
	OnEvent        EventHandler
	Backoff        time.Duration
	ReceiveTimeout time.Duration
	Logger         *zap.Logger
}

// Worker holds one long-lived subscription against one relay, reconnecting
// with a fixed backoff and a fresh subscription id on every drop.
type Worker struct {
	pool           *Pool
	relayURL       string
	filter         nostr.Filter
	onEvent        EventHandler
	backoff        time.Duration
	receiveTimeout time.Duration
	logger         *zap.Logger

	mu    sync.Mutex
	state WorkerState
}

// NewWorker validates the configuration and builds a stopped worker.
func NewWorker(cfg WorkerConfig) (*Worker, error) {
	if cfg.Pool == nil {
		return nil, errWorkerMissingPool
	}
	if cfg.RelayURL == "" {
		return nil, errWorkerMissingURL
	}
	if cfg.OnEvent == nil {
		return nil, errWorkerMissingHandler
	}

	backoff := cfg.Backoff
	if backoff <= 0 {
		backoff = defaultWorkerBackoff
	}
	receiveTimeout := cfg.ReceiveTimeout
	if receiveTimeout <= 0 {
		receiveTimeout = defaultWorkerReceiveTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Worker{
		pool:           cfg.Pool,
		relayURL:       cfg.RelayURL,
		filter:         cfg.Filter,
		onEvent:        cfg.OnEvent,
		backoff:        backoff,
		receiveTimeout: receiveTimeout,
		logger:         logger,
		state:          StateStopped,
	}, nil
}

// State reports the current machine state.
func (w *Worker) State() WorkerState {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *Worker) setState(state WorkerState) {
	w.mu.Lock()
	w.state = state
	w.mu.Unlock()
}

// Run blocks, delivering verified events to the handler until ctx is
// cancelled. Cancellation is honored within one receive-timeout interval;
// the connection is closed before returning.
func (w *Worker) Run(ctx context.Context) error {
	defer w.setState(StateStopped)

	for {
		if ctx.Err() != nil {
			return nil
		}

		w.setState(StateConnecting)
		conn, err := w.pool.Get(ctx, w.relayURL)
		if err != nil {
			if !w.waitBackoff(ctx, err) {
				return nil
			}
			continue
		}

		subscriptionID := uuid.NewString()
		request, err := nostr.EncodeReq(subscriptionID, w.filter)
		if err != nil {
			return fmt.Errorf("relay: encode subscription request: %w", err)
		}
		if err := conn.Send(request); err != nil {
			conn.Close()
			if !w.waitBackoff(ctx, err) {
				return nil
			}
			continue
		}
		w.setState(StateSubscribed)
		w.logger.Info("subscription established",
			zap.String("url", w.relayURL),
			zap.String("subscription_id", subscriptionID))

		if done := w.receiveLoop(ctx, conn, subscriptionID); done {
			return nil
		}
		// Connection dropped mid-stream: back off, then reconnect with a
		// fresh subscription id.
		if !w.waitBackoff(ctx, nil) {
			return nil
		}
	}
}

// receiveLoop consumes frames until cancellation (returns true) or a
// transport failure (returns false for a reconnect pass).
func (w *Worker) receiveLoop(ctx context.Context, conn *Connection, subscriptionID string) bool {
	w.setState(StateReceiving)

	for {
		if ctx.Err() != nil {
			conn.Close()
			return true
		}

		frame, err := conn.Receive(w.receiveTimeout)
		switch {
		case errors.Is(err, ErrReceiveTimeout):
			// Quiet stream; loop back around so cancellation is observed
			// at least once per timeout interval.
			continue
		case errors.Is(err, nostr.ErrMalformedFrame):
			w.logger.Debug("malformed frame dropped",
				zap.String("url", w.relayURL),
				zap.Error(err))
			continue
		case err != nil:
			conn.Close()
			w.logger.Warn("subscription dropped",
				zap.String("url", w.relayURL),
				zap.Error(err))
			return false
		}

		switch typed := frame.(type) {
		case nostr.EventFrame:
			if typed.SubscriptionID != subscriptionID {
				continue
			}
			if !typed.Event.Verify() {
				w.logger.Debug("unverifiable event dropped",
					zap.String("url", w.relayURL),
					zap.String("event_id", typed.Event.ID))
				continue
			}
			w.dispatch(ctx, typed.Event)
		case nostr.EOSEFrame:
			// Live subscriptions outlive the stored-event boundary.
		case nostr.NoticeFrame:
			w.logger.Info("relay notice",
				zap.String("url", w.relayURL),
				zap.String("message", typed.Message))
		case nostr.AuthFrame:
			w.logger.Info("relay auth challenge surfaced",
				zap.String("url", w.relayURL))
		case nostr.OKFrame:
			// Not expected on a read-only subscription.
		}
	}
}

// dispatch invokes the handler, containing errors and panics so one bad
// event cannot kill the stream.
func (w *Worker) dispatch(ctx context.Context, event nostr.Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			w.logger.Error("event handler panicked",
				zap.String("url", w.relayURL),
				zap.String("event_id", event.ID),
				zap.Any("panic", recovered))
		}
	}()

	if err := w.onEvent(ctx, event, w.relayURL); err != nil {
		w.logger.Error("event handler failed",
			zap.String("url", w.relayURL),
			zap.String("event_id", event.ID),
			zap.Error(err))
	}
}

// waitBackoff sleeps for the fixed backoff, returning false when ctx is
// cancelled during the wait.
func (w *Worker) waitBackoff(ctx context.Context, cause error) bool {
	w.setState(StateReconnecting)
	if cause != nil {
		w.logger.Warn("reconnect scheduled",
			zap.String("url", w.relayURL),
			zap.Duration("backoff", w.backoff),
			zap.Error(cause))
	}

	timer := time.NewTimer(w.backoff)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
