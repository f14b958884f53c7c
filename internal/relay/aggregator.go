package relay

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tidewater-labs/driftnet/internal/nostr"
)

// ErrNoRelays indicates a query issued with an empty relay set. This is
// the only configuration-class failure the aggregator produces; relay
// outages are per-leg skips, never errors.
var ErrNoRelays = errors.New("relay: no relays configured")

// QueryResult is the merged outcome of one fan-out query.
type QueryResult struct {
	// Events holds verified events deduplicated by id, first occurrence
	// winning.
	Events []nostr.Event
	// Origins maps each event id to the relay that delivered it first.
	Origins map[string]string
	// Rejected counts events dropped for failing verification.
	Rejected int
	// Failed maps relay URLs to the error that sidelined their leg.
	Failed map[string]error
}

// Aggregator fans one filter out to a set of relays and merges the
// responses.
type Aggregator struct {
	pool   *Pool
	logger *zap.Logger
}

// NewAggregator builds an aggregator on top of an existing pool.
func NewAggregator(pool *Pool, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{pool: pool, logger: logger}
}

type legOutcome struct {
	url      string
	events   []nostr.Event
	rejected int
	err      error
}

// Query issues one REQ per relay concurrently and collects events until
// each leg reaches EOSE, its per-relay timeout, or the overall timeout,
// whichever comes first. Legs that cannot connect are skipped. The merge
// deduplicates on event id; unverifiable events are counted, not raised.
func (a *Aggregator) Query(ctx context.Context, relayURLs []string, filter nostr.Filter, perRelayTimeout, overallTimeout time.Duration) (QueryResult, error) {
	if len(relayURLs) == 0 {
		return QueryResult{}, ErrNoRelays
	}

	queryCtx, cancel := context.WithTimeout(ctx, overallTimeout)
	defer cancel()

	outcomes := make(chan legOutcome, len(relayURLs))
	for _, url := range relayURLs {
		go func(url string) {
			outcomes <- a.runLeg(queryCtx, url, filter, perRelayTimeout)
		}(url)
	}

	result := QueryResult{
		Origins: make(map[string]string),
		Failed:  make(map[string]error),
	}
	seen := make(map[string]bool)

	settled := 0
collect:
	for settled < len(relayURLs) {
		select {
		case outcome := <-outcomes:
			settled++
			if outcome.err != nil {
				result.Failed[outcome.url] = outcome.err
				a.logger.Warn("query leg failed",
					zap.String("url", outcome.url),
					zap.Error(outcome.err))
				continue
			}
			result.Rejected += outcome.rejected
			for _, event := range outcome.events {
				if seen[event.ID] {
					continue
				}
				seen[event.ID] = true
				result.Origins[event.ID] = outcome.url
				result.Events = append(result.Events, event)
			}
		case <-queryCtx.Done():
			// Overall timeout wins: legs still mid-read are abandoned and
			// their connections reclaimed by a later cleanup pass.
			a.logger.Debug("query overall timeout",
				zap.Int("settled", settled),
				zap.Int("total", len(relayURLs)))
			break collect
		}
	}

	return result, nil
}

// runLeg drives one relay's share of the query. Every exit path closes or
// returns the connection in a known state.
func (a *Aggregator) runLeg(ctx context.Context, url string, filter nostr.Filter, perRelayTimeout time.Duration) legOutcome {
	outcome := legOutcome{url: url}

	conn, err := a.pool.Get(ctx, url)
	if err != nil {
		outcome.err = err
		return outcome
	}

	subscriptionID := uuid.NewString()
	request, err := nostr.EncodeReq(subscriptionID, filter)
	if err != nil {
		outcome.err = err
		return outcome
	}
	if err := conn.Send(request); err != nil {
		outcome.err = err
		return outcome
	}

	deadline := time.Now().Add(perRelayTimeout)
	for {
		if ctx.Err() != nil {
			conn.Close()
			return outcome
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			a.closeSubscription(conn, subscriptionID)
			return outcome
		}

		frame, err := conn.Receive(remaining)
		switch {
		case errors.Is(err, ErrReceiveTimeout):
			a.closeSubscription(conn, subscriptionID)
			return outcome
		case errors.Is(err, nostr.ErrMalformedFrame):
			a.logger.Debug("malformed frame dropped", zap.String("url", url), zap.Error(err))
			continue
		case err != nil:
			outcome.err = err
			return outcome
		}

		switch typed := frame.(type) {
		case nostr.EventFrame:
			if typed.SubscriptionID != subscriptionID {
				continue
			}
			if !typed.Event.Verify() {
				outcome.rejected++
				a.logger.Debug("unverifiable event dropped",
					zap.String("url", url),
					zap.String("event_id", typed.Event.ID))
				continue
			}
			outcome.events = append(outcome.events, typed.Event)
		case nostr.EOSEFrame:
			if typed.SubscriptionID != subscriptionID {
				continue
			}
			a.closeSubscription(conn, subscriptionID)
			return outcome
		case nostr.NoticeFrame:
			a.logger.Debug("relay notice", zap.String("url", url), zap.String("message", typed.Message))
		case nostr.AuthFrame:
			// Surfaced, never answered here: queries run unauthenticated.
			a.logger.Debug("relay auth challenge ignored", zap.String("url", url))
		}
	}
}

func (a *Aggregator) closeSubscription(conn *Connection, subscriptionID string) {
	frame, err := nostr.EncodeClose(subscriptionID)
	if err != nil {
		return
	}
	if err := conn.Send(frame); err != nil {
		a.logger.Debug("subscription close failed",
			zap.String("url", conn.URL()),
			zap.Error(err))
	}
}
