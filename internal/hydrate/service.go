package hydrate

import (
	"context"
	"errors"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tidewater-labs/driftnet/internal/nostr"
	"github.com/tidewater-labs/driftnet/internal/relay"
)

const (
	opServiceNew   = "hydrate.service.new"
	opListArticles = "hydrate.list_articles"
	opRecordCounts = "hydrate.record_counts"
)

var errMissingPool = errors.New("relay pool is required")

// ServiceConfig carries construction options for NewService.
type ServiceConfig struct {
	Database *gorm.DB
	Pool     *relay.Pool
	Logger   *zap.Logger
}

// Service ties the fan-out aggregator and the projector together and owns
// the read paths consumed by the stats surface and tests.
type Service struct {
	db         *gorm.DB
	pool       *relay.Pool
	aggregator *relay.Aggregator
	projector  *Projector
	logger     *zap.Logger
}

// NewService validates dependencies and wires the hydration pipeline.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Pool == nil {
		return nil, newServiceError(opServiceNew, "missing_pool", errMissingPool)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	projector, err := NewProjector(ProjectorConfig{Database: cfg.Database, Logger: logger})
	if err != nil {
		return nil, err
	}

	return &Service{
		db:         cfg.Database,
		pool:       cfg.Pool,
		aggregator: relay.NewAggregator(cfg.Pool, logger),
		projector:  projector,
		logger:     logger,
	}, nil
}

// Projector exposes the pipeline's single record writer.
func (s *Service) Projector() *Projector {
	return s.projector
}

// EventHandler adapts the projector for long-lived subscription workers.
// Duplicate deliveries are no-ops; invalid events surface as errors for
// the worker to log and move past.
func (s *Service) EventHandler() relay.EventHandler {
	return func(ctx context.Context, event nostr.Event, relayURL string) error {
		_, err := s.projector.Project(ctx, event, relayURL)
		return err
	}
}

// ServiceStats couples pool bookkeeping with projector tallies.
type ServiceStats struct {
	Pool      relay.PoolStats `json:"pool"`
	Projector Counters        `json:"projector"`
}

// Stats snapshots the pipeline's observability counters.
func (s *Service) Stats() ServiceStats {
	return ServiceStats{
		Pool:      s.pool.Stats(),
		Projector: s.projector.Counters(),
	}
}

// ListArticles returns projected articles, newest first.
func (s *Service) ListArticles(ctx context.Context, limit int) ([]Article, error) {
	if limit <= 0 {
		limit = 50
	}
	var articles []Article
	if err := s.db.WithContext(ctx).
		Order("created_at_s DESC").
		Limit(limit).
		Find(&articles).Error; err != nil {
		s.logger.Error("article list failed", zap.Error(err))
		return nil, newServiceError(opListArticles, "query_failed", err)
	}
	return articles, nil
}

// RecordCounts tallies projected rows per table.
type RecordCounts struct {
	Articles      int64 `json:"articles"`
	Comments      int64 `json:"comments"`
	Highlights    int64 `json:"highlights"`
	MediaItems    int64 `json:"media_items"`
	GenericEvents int64 `json:"generic_events"`
}

// RecordCounts reports how many rows each projection table holds.
func (s *Service) RecordCounts(ctx context.Context) (RecordCounts, error) {
	counts := RecordCounts{}
	tables := []struct {
		model interface{}
		dest  *int64
	}{
		{&Article{}, &counts.Articles},
		{&Comment{}, &counts.Comments},
		{&Highlight{}, &counts.Highlights},
		{&MediaItem{}, &counts.MediaItems},
		{&GenericEvent{}, &counts.GenericEvents},
	}
	for _, table := range tables {
		if err := s.db.WithContext(ctx).Model(table.model).Count(table.dest).Error; err != nil {
			return RecordCounts{}, newServiceError(opRecordCounts, "count_failed", err)
		}
	}
	return counts, nil
}
