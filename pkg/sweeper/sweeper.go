package sweeper

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/platinummonkey/taskboard/pkg/async"
	"github.com/platinummonkey/taskboard/pkg/audit"
	"github.com/platinummonkey/taskboard/pkg/observability"
	"github.com/platinummonkey/taskboard/pkg/rbac"
)

const (
	// DefaultSchedule runs the sweep at 03:15 UTC every day
	DefaultSchedule = "15 3 * * *"
	// DefaultRetention is how long an archived board is kept
	DefaultRetention = 30 * 24 * time.Hour
	// DefaultStepTimeout bounds each purge step of a run
	DefaultStepTimeout = 5 * time.Minute

	sweepKey = "sweep"
)

// RefreshPurger deletes revoked refresh tokens
type RefreshPurger interface {
	PurgeRevoked(ctx context.Context) (int64, error)
}

// ResetPurger deletes expired password reset tokens
type ResetPurger interface {
	PurgeExpired(ctx context.Context) (int64, error)
}

// Report counts the rows removed by one run
type Report struct {
	Boards        int64         `json:"boards"`
	Tasks         int64         `json:"tasks"`
	BoardAccess   int64         `json:"board_access"`
	Guests        int64         `json:"guests"`
	RefreshTokens int64         `json:"refresh_tokens"`
	ResetTokens   int64         `json:"reset_tokens"`
	Duration      time.Duration `json:"duration_ns"`
}

func (r Report) removed() map[string]int64 {
	return map[string]int64{
		"boards":         r.Boards,
		"tasks":          r.Tasks,
		"board_access":   r.BoardAccess,
		"guests":         r.Guests,
		"refresh_tokens": r.RefreshTokens,
		"reset_tokens":   r.ResetTokens,
	}
}

// Option configures a Sweeper
type Option func(*Sweeper)

// WithSchedule sets the cron expression used by Start
func WithSchedule(spec string) Option {
	return func(s *Sweeper) { s.schedule = spec }
}

// WithRetention sets how long archived boards are kept
func WithRetention(d time.Duration) Option {
	return func(s *Sweeper) { s.retention = d }
}

// WithStepTimeout bounds each purge step
func WithStepTimeout(d time.Duration) Option {
	return func(s *Sweeper) { s.stepTimeout = d }
}

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(s *Sweeper) { s.now = now }
}

// WithLogger sets the logger
func WithLogger(logger *observability.Logger) Option {
	return func(s *Sweeper) { s.logger = logger }
}

// WithMetrics records run outcomes
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Sweeper) { s.metrics = m }
}

// WithAudit writes one maintenance event per run
func WithAudit(logger audit.Logger) Option {
	return func(s *Sweeper) { s.audit = logger }
}

// Sweeper periodically purges archived boards and dead credentials.
// Runs never overlap: a run requested while another is in flight shares
// the in-flight run's result.
type Sweeper struct {
	db      *sql.DB
	refresh RefreshPurger
	reset   ResetPurger

	schedule    string
	retention   time.Duration
	stepTimeout time.Duration
	now         func() time.Time

	logger  *observability.Logger
	metrics *observability.Metrics
	audit   audit.Logger

	group singleflight.Group

	mu   sync.Mutex
	cron *cron.Cron
}

// New creates a Sweeper. refresh and reset may be nil to skip those steps.
func New(db *sql.DB, refresh RefreshPurger, reset ResetPurger, opts ...Option) (*Sweeper, error) {
	if db == nil {
		return nil, fmt.Errorf("sweeper requires a database")
	}
	s := &Sweeper{
		db:          db,
		refresh:     refresh,
		reset:       reset,
		schedule:    DefaultSchedule,
		retention:   DefaultRetention,
		stepTimeout: DefaultStepTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.retention <= 0 {
		return nil, fmt.Errorf("sweeper retention must be positive")
	}
	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}
	if s.logger == nil {
		s.logger = observability.NewNopLogger()
	}
	s.logger = s.logger.WithField("component", "sweeper")
	if s.audit == nil {
		s.audit = audit.NoopLogger{}
	}
	return s, nil
}

// Start schedules runs on the configured cron expression in UTC
func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron != nil {
		return fmt.Errorf("sweeper already started")
	}

	c := cron.New(cron.WithLocation(time.UTC))
	_, err := c.AddFunc(s.schedule, func() {
		// block so cron.Stop waits for the sweep
		<-async.SafeGo(ctx, s.logger, 0, "scheduled sweep", func(ctx context.Context) error {
			_, err := s.RunOnce(ctx)
			return err
		})
	})
	if err != nil {
		return fmt.Errorf("failed to schedule sweep: %w", err)
	}
	c.Start()
	s.cron = c

	s.logger.WithField("schedule", s.schedule).WithField("retention", s.retention.String()).Info("Sweeper started")
	return nil
}

// Stop halts the schedule and returns a context that is done once any
// running sweep has finished.
func (s *Sweeper) Stop() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	ctx := s.cron.Stop()
	s.cron = nil
	return ctx
}

// RunOnce runs one sweep now, or joins the sweep already in flight.
func (s *Sweeper) RunOnce(ctx context.Context) (Report, error) {
	v, err, shared := s.group.Do(sweepKey, func() (interface{}, error) {
		return s.run(ctx)
	})
	if shared {
		s.logger.Debug("Joined in-flight sweep")
	}
	report, _ := v.(Report)
	return report, err
}

type step struct {
	name string
	run  func(context.Context) error
}

func (s *Sweeper) run(ctx context.Context) (Report, error) {
	ctx, span := observability.Tracer().Start(ctx, "sweeper.Run")
	defer span.End()

	start := time.Now()
	now := s.now()
	var report Report

	steps := []step{{name: "archived boards", run: func(ctx context.Context) error {
		purged, err := s.PurgeArchivedBoards(ctx, now.Add(-s.retention))
		report.Boards, report.Tasks, report.BoardAccess, report.Guests = purged.Boards, purged.Tasks, purged.BoardAccess, purged.Guests
		return err
	}}}
	if s.refresh != nil {
		steps = append(steps, step{name: "revoked refresh tokens", run: func(ctx context.Context) (err error) {
			report.RefreshTokens, err = s.refresh.PurgeRevoked(ctx)
			return err
		}})
	}
	if s.reset != nil {
		steps = append(steps, step{name: "expired reset tokens", run: func(ctx context.Context) (err error) {
			report.ResetTokens, err = s.reset.PurgeExpired(ctx)
			return err
		}})
	}

	errs := async.Batch(ctx, steps, len(steps), "sweep", s.stepTimeout, func(ctx context.Context, st step) error {
		if err := st.run(ctx); err != nil {
			return fmt.Errorf("failed to purge %s: %w", st.name, err)
		}
		return nil
	})
	err := errors.Join(errs...)
	report.Duration = time.Since(start)

	s.metrics.RecordSweep(report.Duration, report.removed(), err)

	status := audit.EventStatusSuccess
	log := s.logger.WithFields(map[string]interface{}{
		"boards":         report.Boards,
		"tasks":          report.Tasks,
		"board_access":   report.BoardAccess,
		"guests":         report.Guests,
		"refresh_tokens": report.RefreshTokens,
		"reset_tokens":   report.ResetTokens,
		"duration_ms":    report.Duration.Milliseconds(),
	})
	if err != nil {
		status = audit.EventStatusFailure
		log.WithError(err).Error("Sweep finished with errors")
	} else {
		log.Info("Sweep finished")
	}

	event := audit.NewEvent(now, audit.EventTypeSweep, status)
	for kind, n := range report.removed() {
		event.Metadata[kind] = n
	}
	if err != nil {
		event.Message = err.Error()
	}
	if auditErr := s.audit.Log(ctx, event); auditErr != nil {
		s.logger.WithError(auditErr).Warn("Failed to write sweep audit event")
	}

	return report, err
}

// PurgeArchivedBoards deletes boards archived at or before cutoff together
// with their tasks and access rows, then drops guest memberships left with
// no board access in their workspace.
func (s *Sweeper) PurgeArchivedBoards(ctx context.Context, cutoff time.Time) (Report, error) {
	var report Report

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return report, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	expired := `SELECT id FROM boards WHERE archived_at IS NOT NULL AND archived_at <= $1`
	cutoff = cutoff.UTC()

	res, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE board_id IN (`+expired+`)`, cutoff)
	if err != nil {
		return report, fmt.Errorf("failed to delete tasks: %w", err)
	}
	report.Tasks, _ = res.RowsAffected()

	res, err = tx.ExecContext(ctx, `DELETE FROM board_access WHERE board_id IN (`+expired+`)`, cutoff)
	if err != nil {
		return report, fmt.Errorf("failed to delete board access: %w", err)
	}
	report.BoardAccess, _ = res.RowsAffected()

	res, err = tx.ExecContext(ctx, `DELETE FROM boards WHERE archived_at IS NOT NULL AND archived_at <= $1`, cutoff)
	if err != nil {
		return report, fmt.Errorf("failed to delete boards: %w", err)
	}
	report.Boards, _ = res.RowsAffected()

	if report.BoardAccess > 0 {
		res, err = tx.ExecContext(ctx, `
			DELETE FROM workspace_members
			WHERE role = $1 AND NOT EXISTS (
				SELECT 1 FROM board_access ba
				JOIN boards b ON b.id = ba.board_id
				WHERE b.workspace_id = workspace_members.workspace_id
				  AND ba.user_id = workspace_members.user_id
			)`, rbac.RoleGuest)
		if err != nil {
			return report, fmt.Errorf("failed to delete orphaned guests: %w", err)
		}
		report.Guests, _ = res.RowsAffected()
	}

	if err := tx.Commit(); err != nil {
		return report, fmt.Errorf("failed to commit: %w", err)
	}
	return report, nil
}
