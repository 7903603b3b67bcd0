package relayer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"cipherlend/core"
	"cipherlend/core/types"
	"cipherlend/native/vault"
	"cipherlend/observability/metrics"
)

const cursorName = "vault-events"

// ErrRelayerRunning is returned when Run is invoked twice.
var ErrRelayerRunning = errors.New("relayer: already running")

// Relayer finalizes withdraw requests once the oracle discloses their
// amounts. Progress is journaled so restarts resume where they left off.
type Relayer struct {
	db          *gorm.DB
	source      Source
	discloser   Discloser
	metrics     *metrics.RelayerMetrics
	logger      *slog.Logger
	interval    time.Duration
	batchSize   int
	maxAttempts int
	now         func() time.Time

	mu      sync.Mutex
	running bool
}

// Option customises the relayer instance.
type Option func(*Relayer)

// WithPollInterval configures how often the event log is scanned.
func WithPollInterval(interval time.Duration) Option {
	return func(r *Relayer) { r.interval = interval }
}

// WithBatchSize bounds how many events are fetched per page.
func WithBatchSize(n int) Option {
	return func(r *Relayer) { r.batchSize = n }
}

// WithMaxAttempts marks a job failed after n unsuccessful finalizations.
// Zero retries forever.
func WithMaxAttempts(n int) Option {
	return func(r *Relayer) { r.maxAttempts = n }
}

// WithLogger overrides the default logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Relayer) { r.logger = l }
}

// WithMetrics overrides the default metrics registry.
func WithMetrics(m *metrics.RelayerMetrics) Option {
	return func(r *Relayer) { r.metrics = m }
}

// WithClock sets the function used to derive timestamps.
func WithClock(clock func() time.Time) Option {
	return func(r *Relayer) { r.now = clock }
}

// New constructs a relayer over the journal db.
func New(db *gorm.DB, source Source, discloser Discloser, opts ...Option) (*Relayer, error) {
	if db == nil {
		return nil, fmt.Errorf("relayer: journal required")
	}
	if source == nil || discloser == nil {
		return nil, fmt.Errorf("relayer: source and discloser required")
	}
	r := &Relayer{
		db:        db,
		source:    source,
		discloser: discloser,
		metrics:   metrics.Relayer(),
		logger:    slog.Default(),
		interval:  2 * time.Second,
		batchSize: 200,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.interval <= 0 {
		r.interval = 2 * time.Second
	}
	if r.batchSize <= 0 {
		r.batchSize = 200
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	r.logger = r.logger.With(slog.String("component", "relayer"))
	return r, nil
}

// Run polls until ctx is cancelled.
func (r *Relayer) Run(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return ErrRelayerRunning
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		if err := r.Poll(ctx); err != nil && ctx.Err() == nil {
			r.logger.Warn("relayer poll failed", slog.Any("error", err))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Poll scans new events into the journal and attempts every pending job once.
func (r *Relayer) Poll(ctx context.Context) error {
	if err := r.scan(ctx); err != nil {
		r.metrics.RecordError("scan")
		return err
	}
	if err := r.process(ctx); err != nil {
		r.metrics.RecordError("process")
		return err
	}
	var backlog int64
	if err := r.db.WithContext(ctx).Model(&Job{}).Where("state = ?", JobPending).Count(&backlog).Error; err != nil {
		return fmt.Errorf("relayer: count backlog: %w", err)
	}
	r.metrics.SetBacklog(int(backlog))
	return nil
}

func (r *Relayer) cursor(ctx context.Context) (uint64, error) {
	var c Cursor
	err := r.db.WithContext(ctx).Where("name = ?", cursorName).Take(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("relayer: load cursor: %w", err)
	}
	return c.Sequence, nil
}

func (r *Relayer) scan(ctx context.Context) error {
	after, err := r.cursor(ctx)
	if err != nil {
		return err
	}
	for {
		evts, err := r.source.Events(ctx, after, r.batchSize)
		if err != nil {
			return fmt.Errorf("relayer: fetch events: %w", err)
		}
		if len(evts) == 0 {
			return nil
		}
		err = r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, evt := range evts {
				if err := r.journal(tx, evt); err != nil {
					return err
				}
				after = evt.Sequence
			}
			return tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "name"}},
				DoUpdates: clause.AssignmentColumns([]string{"sequence", "updated_at"}),
			}).Create(&Cursor{Name: cursorName, Sequence: after, UpdatedAt: r.now()}).Error
		})
		if err != nil {
			return fmt.Errorf("relayer: journal events: %w", err)
		}
		r.metrics.SetCursor(after)
		if len(evts) < r.batchSize {
			return nil
		}
	}
}

func (r *Relayer) journal(tx *gorm.DB, evt Event) error {
	switch evt.Type {
	case vault.EventTypeWithdrawRequested:
		id, err := strconv.ParseUint(evt.Attributes["requestId"], 10, 64)
		if err != nil {
			r.logger.Warn("skipping malformed withdraw event", slog.Uint64("sequence", evt.Sequence))
			return nil
		}
		now := r.now()
		job := &Job{
			ID:        uuid.New(),
			RequestID: id,
			Recipient: evt.Attributes["account"],
			Handle:    evt.Attributes["amount"],
			State:     JobPending,
			CreatedAt: now,
			UpdatedAt: now,
		}
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(job).Error
	case vault.EventTypeWithdrawFinalized:
		id, err := strconv.ParseUint(evt.Attributes["requestId"], 10, 64)
		if err != nil {
			return nil
		}
		return tx.Model(&Job{}).
			Where("request_id = ? AND state = ?", id, JobPending).
			Updates(map[string]interface{}{"state": JobDone, "outcome": "finalized", "updated_at": r.now()}).Error
	default:
		return nil
	}
}

func (r *Relayer) process(ctx context.Context) error {
	var jobs []Job
	if err := r.db.WithContext(ctx).
		Where("state = ?", JobPending).
		Order("request_id ASC").
		Find(&jobs).Error; err != nil {
		return fmt.Errorf("relayer: load jobs: %w", err)
	}
	for i := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		r.finalize(ctx, &jobs[i])
	}
	return nil
}

func (r *Relayer) finalize(ctx context.Context, job *Job) {
	log := r.logger.With(slog.Uint64("request_id", job.RequestID), slog.String("job_id", job.ID.String()))
	err := r.attempt(ctx, job)
	updates := map[string]interface{}{"updated_at": r.now()}
	switch {
	case err == nil:
		updates["state"] = JobDone
		updates["outcome"] = "finalized"
		updates["last_error"] = ""
		r.metrics.RecordFinalize("finalized")
		log.Info("withdraw finalized")
	case errors.Is(err, vault.ErrInvalidWithdrawRequest):
		updates["state"] = JobDone
		updates["outcome"] = "already_finalized"
		r.metrics.RecordFinalize("already_finalized")
		log.Info("withdraw already finalized")
	default:
		attempts := job.Attempts + 1
		updates["attempts"] = attempts
		updates["last_error"] = err.Error()
		outcome := core.Outcome(err)
		if r.maxAttempts > 0 && attempts >= r.maxAttempts {
			updates["state"] = JobFailed
			updates["outcome"] = outcome
		}
		r.metrics.RecordFinalize(outcome)
		log.Warn("withdraw finalize failed", slog.Int("attempts", attempts), slog.Any("error", err))
	}
	if dbErr := r.db.WithContext(ctx).Model(&Job{}).Where("id = ?", job.ID).Updates(updates).Error; dbErr != nil {
		r.metrics.RecordError("journal")
		log.Error("update job", slog.Any("error", dbErr))
	}
}

func (r *Relayer) attempt(ctx context.Context, job *Job) error {
	h, err := types.ParseHandle(job.Handle)
	if err != nil {
		return fmt.Errorf("relayer: job handle: %w", err)
	}
	value, proof, err := r.discloser.PublicDecrypt(ctx, h)
	if err != nil {
		return fmt.Errorf("relayer: disclose: %w", err)
	}
	return r.source.FinalizeWithdraw(ctx, job.RequestID, value, proof)
}

// Jobs lists journaled jobs ordered by request id.
func (r *Relayer) Jobs(ctx context.Context) ([]Job, error) {
	var jobs []Job
	if err := r.db.WithContext(ctx).Order("request_id ASC").Find(&jobs).Error; err != nil {
		return nil, err
	}
	return jobs, nil
}
