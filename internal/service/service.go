package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"moverwatch/internal/alerting"
	"moverwatch/internal/market"
	"moverwatch/internal/metrics"
	"moverwatch/internal/scheduler"
	"moverwatch/internal/storage"
)

// Deps carries the collaborators of the poll loop. Only Source, Policy and
// State are required.
type Deps struct {
	Source       market.Source
	Policy       alerting.Policy
	State        *alerting.State
	Notifier     alerting.Notifier
	AlertStore   storage.AlertStore
	Recorder     *metrics.Recorder
	Poll         *scheduler.Scheduler
	Heartbeat    *scheduler.Scheduler
	LinkTemplate string
	LockKey      int64
}

// CycleReport summarises one evaluation cycle.
type CycleReport struct {
	CycleID     string
	Skipped     bool
	RateLimited bool
	Snapshots   int
	Candidates  int
	Fired       int
	Suppressed  int
	Pruned      int
	QuietSent   bool
}

// Service runs the evaluation cycle and the heartbeat.
type Service struct {
	source       market.Source
	policy       alerting.Policy
	state        *alerting.State
	notifier     alerting.Notifier
	alertStore   storage.AlertStore
	recorder     *metrics.Recorder
	poll         *scheduler.Scheduler
	heartbeat    *scheduler.Scheduler
	linkTemplate string
	locker       storage.AdvisoryLocker
	lockKey      int64
	lease        storage.Lease
	startedAt    time.Time
	logger       zerolog.Logger
}

// New constructs the monitoring service.
func New(deps Deps, logger zerolog.Logger) *Service {
	state := deps.State
	if state == nil {
		state = alerting.NewState(deps.Policy)
	}

	var locker storage.AdvisoryLocker
	if l, ok := deps.AlertStore.(storage.AdvisoryLocker); ok {
		locker = l
	}

	return &Service{
		source:       deps.Source,
		policy:       deps.Policy,
		state:        state,
		notifier:     deps.Notifier,
		alertStore:   deps.AlertStore,
		recorder:     deps.Recorder,
		poll:         deps.Poll,
		heartbeat:    deps.Heartbeat,
		linkTemplate: deps.LinkTemplate,
		locker:       locker,
		lockKey:      deps.LockKey,
		startedAt:    time.Now().UTC(),
		logger:       logger.With().Str("component", "service").Logger(),
	}
}

// Run starts the evaluation loop and, when configured, the heartbeat loop.
// It returns once ctx is cancelled or a loop stops.
func (s *Service) Run(ctx context.Context) error {
	if s.poll == nil {
		return fmt.Errorf("scheduler not configured")
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return s.poll.Run(gctx, s.ProcessTick)
	})
	if s.heartbeat != nil {
		g.Go(func() error {
			return s.heartbeat.Run(gctx, s.Heartbeat)
		})
	}
	err := g.Wait()
	s.releaseLease()
	return err
}

// ProcessTick runs one cycle when this instance is the active one. With a
// shared database the advisory lock is taken on the first successful tick and
// held until Run returns; standby instances retry on every tick.
func (s *Service) ProcessTick(ctx context.Context, now time.Time) error {
	active, err := s.ensureLeadership(ctx, now)
	if err != nil {
		s.reportFailure(ctx, s.logger, now, err)
		return err
	}
	if !active {
		s.logger.Debug().Time("tick", now).Msg("standby: advisory lock held by another instance")
		return nil
	}

	_, err = s.RunCycle(ctx, now)
	return err
}

// RunOnce runs a single guarded cycle and releases the advisory lock afterwards.
// Cooldowns recorded in the audit log are honoured across invocations.
func (s *Service) RunOnce(ctx context.Context, now time.Time) (CycleReport, error) {
	active, err := s.ensureLeadership(ctx, now)
	if err != nil {
		s.reportFailure(ctx, s.logger, now, err)
		return CycleReport{}, err
	}
	if !active {
		return CycleReport{Skipped: true}, nil
	}
	if s.lease == nil {
		s.restoreCooldowns(ctx, now)
	}
	defer s.releaseLease()

	return s.RunCycle(ctx, now)
}

// RunCycle executes one evaluation cycle at now. Failures are reported to the
// notifier once and returned; they never leave the engine state half-updated.
func (s *Service) RunCycle(ctx context.Context, now time.Time) (report CycleReport, err error) {
	report.CycleID = uuid.NewString()
	log := s.logger.With().Str("cycle_id", report.CycleID).Logger()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("cycle panicked: %v", r)
			s.reportFailure(ctx, log, now, err)
		}
	}()

	if s.state.RateLimit.ShouldSkip(now) {
		report.Skipped = true
		s.recorder.RecordCycle("skipped")
		log.Info().Time("until", s.state.RateLimit.Until()).Msg("rate limit cooldown active; cycle skipped")
		return report, nil
	}

	report.Pruned = s.state.Dedup.Prune(now)

	started := time.Now()
	snapshots, fetchErr := s.source.FetchSnapshots(ctx)
	s.recorder.ObserveFetch(time.Since(started))
	if fetchErr != nil {
		if errors.Is(fetchErr, market.ErrRateLimited) {
			s.state.RateLimit.TriggerCooldown(now, s.policy.RateLimitCooldown)
			report.RateLimited = true
			s.recorder.RecordCycle("rate_limited")
			log.Warn().Time("until", s.state.RateLimit.Until()).Msg("source rate limited; pausing polling")
			_ = s.dispatch(ctx, alerting.Notification{
				Kind:    alerting.KindRateLimit,
				Time:    now,
				Message: fmt.Sprintf("Polling resumes after %s UTC\n", s.state.RateLimit.Until().UTC().Format(time.RFC3339)),
			})
			return report, nil
		}
		err = fmt.Errorf("fetch snapshots: %w", fetchErr)
		s.reportFailure(ctx, log, now, err)
		return report, err
	}
	report.Snapshots = len(snapshots)

	candidates := alerting.Evaluate(snapshots, s.policy)
	report.Candidates = len(candidates)

	for _, c := range candidates {
		decision := s.state.Dedup.Evaluate(c, now)
		s.recorder.RecordDecision(c.Tier, decision.String())
		if decision == alerting.Suppress {
			report.Suppressed++
			log.Debug().Str("key", c.Key.String()).Msg("alert suppressed by cooldown")
			continue
		}

		dispatchErr := s.dispatch(ctx, alerting.NewAlertNotification(c, now, s.linkTemplate))
		s.state.Dedup.Fire(c.Key, now)
		report.Fired++
		s.persist(ctx, log, report.CycleID, c, now, dispatchErr == nil)

		log.Info().Str("key", c.Key.String()).
			Str("tier", c.Tier).
			Str("change_pct", c.ChangePct.String()).
			Msg("alert fired")
	}

	if report.Fired == 0 && s.state.Quiet.ShouldNotifyQuiet(now) {
		_ = s.dispatch(ctx, alerting.Notification{Kind: alerting.KindQuiet, Time: now})
		s.state.Quiet.RecordQuietNotice(now)
		report.QuietSent = true
	}

	s.recorder.SetTrackedKeys(s.state.Dedup.Len())
	s.recorder.RecordCycle("ok")
	log.Info().
		Int("snapshots", report.Snapshots).
		Int("candidates", report.Candidates).
		Int("fired", report.Fired).
		Int("suppressed", report.Suppressed).
		Int("pruned", report.Pruned).
		Bool("quiet_sent", report.QuietSent).
		Msg("cycle complete")
	return report, nil
}

// Heartbeat dispatches a liveness notice. It reads no engine state.
func (s *Service) Heartbeat(ctx context.Context, now time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("heartbeat panicked: %v", r)
			s.logger.Error().Err(err).Msg("heartbeat failed")
		}
	}()

	uptime := now.Sub(s.startedAt).Truncate(time.Second)
	if err := s.dispatch(ctx, alerting.Notification{
		Kind:    alerting.KindHeartbeat,
		Time:    now,
		Message: fmt.Sprintf("Uptime: %s\n", uptime),
	}); err != nil {
		return fmt.Errorf("heartbeat: %w", err)
	}
	return nil
}

func (s *Service) reportFailure(ctx context.Context, log zerolog.Logger, now time.Time, err error) {
	s.recorder.RecordCycle("failed")
	log.Error().Err(err).Msg("cycle failed")
	_ = s.dispatch(ctx, alerting.Notification{
		Kind:    alerting.KindError,
		Time:    now,
		Message: err.Error(),
	})
}

// dispatch hands a notice to the notifier. Delivery errors are logged and
// counted, never retried.
func (s *Service) dispatch(ctx context.Context, note alerting.Notification) error {
	if s.notifier == nil {
		s.logger.Debug().Str("kind", string(note.Kind)).Msg("no notifier configured; notice dropped")
		return nil
	}
	err := s.notifier.Notify(ctx, note)
	s.recorder.RecordNotice(string(note.Kind), err)
	if err != nil {
		s.logger.Error().Err(err).Str("kind", string(note.Kind)).Str("asset", note.AssetID).Msg("failed to dispatch notice")
	}
	return err
}

func (s *Service) persist(ctx context.Context, log zerolog.Logger, cycleID string, c alerting.Candidate, now time.Time, delivered bool) {
	if s.alertStore == nil {
		return
	}
	record := storage.AlertRecord{
		CycleID:      cycleID,
		AssetID:      c.Key.AssetID,
		Symbol:       c.Snapshot.Symbol,
		Name:         c.Snapshot.Name,
		Timeframe:    string(c.Key.Timeframe),
		Tier:         c.Tier,
		ChangePct:    c.ChangePct,
		ThresholdPct: c.ThresholdPct,
		Price:        c.Snapshot.Price.Decimal,
		Volume:       c.Snapshot.Volume.Decimal,
		Delivered:    delivered,
		FiredAt:      now,
	}
	if _, err := s.alertStore.InsertAlert(ctx, record); err != nil {
		log.Error().Err(err).Str("key", c.Key.String()).Msg("failed to persist alert record")
	}
}

func (s *Service) ensureLeadership(ctx context.Context, now time.Time) (bool, error) {
	if s.lockKey == 0 || s.locker == nil {
		return true, nil
	}
	if s.lease != nil {
		err := s.lease.Alive(ctx)
		if err == nil {
			return true, nil
		}
		s.logger.Warn().Err(err).Msg("advisory lock lost; competing for it again")
		s.releaseLease()
	}

	lease, acquired, err := s.locker.TryAdvisoryLock(ctx, s.lockKey)
	if err != nil {
		return false, fmt.Errorf("acquire advisory lock: %w", err)
	}
	if !acquired {
		return false, nil
	}
	s.lease = lease
	s.logger.Info().Int64("lock_key", s.lockKey).Msg("advisory lock acquired; instance is active")
	s.restoreCooldowns(ctx, now)
	return true, nil
}

func (s *Service) releaseLease() {
	if s.lease == nil {
		return
	}
	s.lease.Release()
	s.lease = nil
}

// restoreCooldowns seeds the dedup store from alerts another instance fired
// within the cooldown window, so a takeover does not repeat them.
func (s *Service) restoreCooldowns(ctx context.Context, now time.Time) {
	if s.alertStore == nil {
		return
	}
	records, err := s.alertStore.ListAlertsBetween(ctx, now.Add(-s.policy.Cooldown), now.Add(time.Nanosecond))
	if err != nil {
		s.logger.Warn().Err(err).Msg("could not restore cooldowns from audit log")
		return
	}
	restored := 0
	for _, rec := range records {
		if now.Sub(rec.FiredAt) > s.policy.Cooldown || rec.FiredAt.After(now) {
			continue
		}
		key := alerting.AlertKey{AssetID: rec.AssetID, Timeframe: market.Timeframe(rec.Timeframe)}
		if last, ok := s.state.Dedup.LastFired(key); ok && !rec.FiredAt.After(last) {
			continue
		}
		s.state.Dedup.Fire(key, rec.FiredAt)
		restored++
	}
	if restored > 0 {
		s.logger.Info().Int("keys", restored).Msg("restored cooldowns from audit log")
	}
}
