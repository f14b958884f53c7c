package hydrate

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/tidewater-labs/driftnet/internal/nostr"
)

const (
	defaultBatchSize       = 100
	defaultPerRelayTimeout = 10 * time.Second
	defaultOverallTimeout  = 30 * time.Second
)

// ErrAllRelaysUnreachable is returned when every relay leg of a backfill
// failed. Individual relay outages never produce it.
var ErrAllRelaysUnreachable = errors.New("hydrate: no relay was reachable")

// BackfillRequest describes one bulk hydration pass.
type BackfillRequest struct {
	RelayURLs       []string
	Filter          nostr.Filter
	PerRelayTimeout time.Duration
	OverallTimeout  time.Duration
	BatchSize       int
}

// BackfillSummary is the user-visible outcome of a backfill: how many
// events were saved, skipped, and errored.
type BackfillSummary struct {
	Fetched      int              `json:"fetched"`
	Saved        int              `json:"saved"`
	Duplicates   int              `json:"duplicates"`
	Rejected     int              `json:"rejected"`
	Invalid      int              `json:"invalid"`
	FailedRelays map[string]error `json:"-"`
}

// Skipped totals everything fetched or received but not persisted anew.
func (s BackfillSummary) Skipped() int {
	return s.Duplicates + s.Rejected + s.Invalid
}

// Backfill fans the filter out to the given relays and projects the merged
// results in fixed-size batches. It fails only when no relay at all could
// serve the query; partial outages are reported in the summary.
func (s *Service) Backfill(ctx context.Context, request BackfillRequest) (BackfillSummary, error) {
	perRelayTimeout := request.PerRelayTimeout
	if perRelayTimeout <= 0 {
		perRelayTimeout = defaultPerRelayTimeout
	}
	overallTimeout := request.OverallTimeout
	if overallTimeout <= 0 {
		overallTimeout = defaultOverallTimeout
	}
	batchSize := request.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	result, err := s.aggregator.Query(ctx, request.RelayURLs, request.Filter, perRelayTimeout, overallTimeout)
	if err != nil {
		return BackfillSummary{}, err
	}

	summary := BackfillSummary{
		Fetched:      len(result.Events),
		Rejected:     result.Rejected,
		FailedRelays: result.Failed,
	}
	if len(result.Failed) == len(request.RelayURLs) && len(result.Events) == 0 {
		return summary, ErrAllRelaysUnreachable
	}

	for start := 0; start < len(result.Events); start += batchSize {
		end := start + batchSize
		if end > len(result.Events) {
			end = len(result.Events)
		}
		batch, err := s.projector.ProjectBatch(ctx, result.Events[start:end], result.Origins)
		if err != nil {
			return summary, err
		}
		summary.Saved += batch.Saved
		summary.Duplicates += batch.Duplicates
		summary.Invalid += batch.Invalid
	}

	s.logger.Info("backfill complete",
		zap.Int("fetched", summary.Fetched),
		zap.Int("saved", summary.Saved),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("rejected", summary.Rejected),
		zap.Int("invalid", summary.Invalid),
		zap.Int("failed_relays", len(summary.FailedRelays)))
	return summary, nil
}
