package hydrate

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/tidewater-labs/driftnet/internal/nostr"
)

var (
	// ErrInvalidEvent marks an event missing a required field. Such events
	// are permanently discarded.
	ErrInvalidEvent = errors.New("hydrate: invalid event")
	// ErrVerificationFailed marks an event whose id or signature does not
	// check out. Same disposition as ErrInvalidEvent, counted separately.
	ErrVerificationFailed = errors.New("hydrate: event verification failed")

	errMissingDatabase = errors.New("database handle is required")
)

// ServiceError carries an operation.reason code alongside its cause.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the operation.reason identifier.
func (e *ServiceError) Code() string {
	return e.code
}

const (
	opProjectorNew = "hydrate.projector.new"
	opProject      = "hydrate.project"
	opProjectBatch = "hydrate.project_batch"
)

func newServiceError(operation, reason string, cause error) error {
	code := fmt.Sprintf("%s.%s", operation, reason)
	return &ServiceError{code: code, err: cause}
}

// ProjectorConfig carries construction options for NewProjector.
type ProjectorConfig struct {
	Database *gorm.DB
	Logger   *zap.Logger
}

// Projector is the sole writer of projected domain records. It verifies,
// validates, deduplicates, and maps raw events one at a time; batching is
// the caller's concern.
type Projector struct {
	db     *gorm.DB
	logger *zap.Logger

	projected  atomic.Uint64
	duplicates atomic.Uint64
	invalid    atomic.Uint64
}

// Counters is a snapshot of the projector's lifetime tallies.
type Counters struct {
	Projected  uint64 `json:"projected"`
	Duplicates uint64 `json:"duplicates"`
	Invalid    uint64 `json:"invalid"`
}

// Outcome describes one projection: the surviving record and whether it
// already existed.
type Outcome struct {
	Record    Record
	Duplicate bool
}

// NewProjector validates construction inputs and builds a projector.
func NewProjector(cfg ProjectorConfig) (*Projector, error) {
	if cfg.Database == nil {
		return nil, newServiceError(opProjectorNew, "missing_database", errMissingDatabase)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Projector{db: cfg.Database, logger: logger}, nil
}

// Counters snapshots the lifetime tallies.
func (p *Projector) Counters() Counters {
	return Counters{
		Projected:  p.projected.Load(),
		Duplicates: p.duplicates.Load(),
		Invalid:    p.invalid.Load(),
	}
}

// Project verifies and persists one event. Re-delivery of a known event id
// returns the existing record with Duplicate set; it is never an error.
func (p *Projector) Project(ctx context.Context, event nostr.Event, sourceRelay string) (Outcome, error) {
	return p.projectWith(p.db.WithContext(ctx), event, sourceRelay)
}

// BatchOutcome summarizes one ProjectBatch call.
type BatchOutcome struct {
	Saved      int
	Duplicates int
	Invalid    int
}

// ProjectBatch projects a slice of events inside one transaction. Invalid
// events are counted and skipped; storage errors abort the batch. The
// optional origins map attributes each event id to its source relay.
func (p *Projector) ProjectBatch(ctx context.Context, events []nostr.Event, origins map[string]string) (BatchOutcome, error) {
	outcome := BatchOutcome{}
	txErr := p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, event := range events {
			projected, err := p.projectWith(tx, event, origins[event.ID])
			if err != nil {
				if errors.Is(err, ErrInvalidEvent) || errors.Is(err, ErrVerificationFailed) {
					outcome.Invalid++
					continue
				}
				return newServiceError(opProjectBatch, "store_failed", err)
			}
			if projected.Duplicate {
				outcome.Duplicates++
			} else {
				outcome.Saved++
			}
		}
		return nil
	})
	if txErr != nil {
		return BatchOutcome{}, txErr
	}
	return outcome, nil
}

func (p *Projector) projectWith(tx *gorm.DB, event nostr.Event, sourceRelay string) (Outcome, error) {
	if err := event.ValidateShape(); err != nil {
		p.invalid.Add(1)
		p.logger.Debug("invalid event discarded",
			zap.String("event_id", event.ID),
			zap.Error(err))
		return Outcome{}, newServiceError(opProject, "invalid_shape", fmt.Errorf("%w: %v", ErrInvalidEvent, err))
	}
	if !event.Verify() {
		p.invalid.Add(1)
		p.logger.Debug("unverifiable event discarded",
			zap.String("event_id", event.ID),
			zap.String("source_relay", sourceRelay))
		return Outcome{}, newServiceError(opProject, "verification_failed", ErrVerificationFailed)
	}

	record, err := mapRecord(event, sourceRelay)
	if err != nil {
		p.invalid.Add(1)
		return Outcome{}, newServiceError(opProject, "mapping_failed", fmt.Errorf("%w: %v", ErrInvalidEvent, err))
	}

	var outcome Outcome
	switch typed := record.(type) {
	case Article:
		outcome, err = persistRecord(tx, typed)
	case Comment:
		outcome, err = persistRecord(tx, typed)
	case Highlight:
		outcome, err = persistRecord(tx, typed)
	case MediaItem:
		outcome, err = persistRecord(tx, typed)
	case GenericEvent:
		outcome, err = persistRecord(tx, typed)
	default:
		err = fmt.Errorf("unmapped record type %T", record)
	}
	if err != nil {
		p.logger.Error("record persist failed",
			zap.String("event_id", event.ID),
			zap.Int("kind", event.Kind),
			zap.Error(err))
		return Outcome{}, newServiceError(opProject, "store_failed", err)
	}

	if outcome.Duplicate {
		p.duplicates.Add(1)
	} else {
		p.projected.Add(1)
	}
	return outcome, nil
}

// persistRecord inserts the record unless its event id already exists. The
// store's unique primary key is the final arbiter: a concurrent projector
// racing on the same id loses the insert and reads back the winner.
func persistRecord[T Record](tx *gorm.DB, record T) (Outcome, error) {
	var existing T
	err := tx.Where("event_id = ?", record.EventKey()).Take(&existing).Error
	if err == nil {
		return Outcome{Record: existing, Duplicate: true}, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Outcome{}, err
	}

	result := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
	if result.Error != nil {
		return Outcome{}, result.Error
	}
	if result.RowsAffected == 0 {
		if err := tx.Where("event_id = ?", record.EventKey()).Take(&existing).Error; err != nil {
			return Outcome{}, err
		}
		return Outcome{Record: existing, Duplicate: true}, nil
	}
	return Outcome{Record: record, Duplicate: false}, nil
}
