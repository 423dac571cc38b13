package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cookfi/cookfi-agent/internal/core/domain"
	"github.com/cookfi/cookfi-agent/internal/observability"
	"github.com/cookfi/cookfi-agent/internal/retry"
)

// ErrCycleInProgress is returned by RunCycle when another cycle is running.
var ErrCycleInProgress = errors.New("cycle already in progress")

const (
	DefaultInterval      = 5 * time.Minute
	DefaultErrorInterval = 30 * time.Second
)

// State is the loop state.
type State int32

const (
	StateIdle State = iota
	StateProcessing
	StateSleeping
	StateErrorBackoff
)

func (s State) String() string {
	switch s {
	case StateProcessing:
		return "processing"
	case StateSleeping:
		return "sleeping"
	case StateErrorBackoff:
		return "error_backoff"
	}
	return "idle"
}

type TokenDiscoverer interface {
	Discover(ctx context.Context) ([]domain.Token, error)
}

type TokenAnalyzer interface {
	AnalyzeAll(ctx context.Context, tokens []domain.Token) ([]domain.TokenAnalysis, error)
}

type DecisionExecutor interface {
	Execute(ctx context.Context, cycleID string, a domain.TokenAnalysis, d domain.TradeDecision) domain.ExecutionResult
}

type TradeAlerter interface {
	NotifyTrades(ctx context.Context, outcomes []domain.TradeOutcome) int
}

// CycleReport summarises one workflow cycle.
type CycleReport struct {
	ID        string                `json:"id"`
	StartedAt time.Time             `json:"started_at"`
	Duration  time.Duration         `json:"duration"`
	Tokens    int                   `json:"tokens"`
	Analyzed  int                   `json:"analyzed"`
	Decided   int                   `json:"decided"`
	Trades    int                   `json:"trades"`
	Alerts    int                   `json:"alerts"`
	Outcomes  []domain.TradeOutcome `json:"outcomes,omitempty"`
	Error     string                `json:"error,omitempty"`
}

type WorkflowConfig struct {
	Interval      time.Duration
	ErrorInterval time.Duration
	// DecideConcurrency caps concurrent decisions; zero means no cap.
	DecideConcurrency int
}

// Workflow runs discovery, analysis, decision, execution and notification
// on a fixed interval. At most one cycle runs at a time.
type Workflow struct {
	discovery TokenDiscoverer
	analyzer  TokenAnalyzer
	decider   domain.DecisionMaker
	executor  DecisionExecutor
	alerter   TradeAlerter
	cfg       WorkflowConfig

	logger  *zap.Logger
	metrics *observability.Metrics
	sleep   retry.SleepFunc
	newID   func() string

	processing atomic.Bool
	state      atomic.Int32
	stopping   atomic.Bool
	last       atomic.Pointer[CycleReport]

	mu      sync.Mutex
	running bool
	wake    context.CancelFunc
	done    chan struct{}
}

type WorkflowOption func(*Workflow)

func WithWorkflowLogger(l *zap.Logger) WorkflowOption {
	return func(w *Workflow) { w.logger = l }
}

func WithWorkflowMetrics(m *observability.Metrics) WorkflowOption {
	return func(w *Workflow) { w.metrics = m }
}

// WithWorkflowSleep replaces the wait between cycles.
func WithWorkflowSleep(f retry.SleepFunc) WorkflowOption {
	return func(w *Workflow) { w.sleep = f }
}

// WithAlerter enables post-trade notifications.
func WithAlerter(a TradeAlerter) WorkflowOption {
	return func(w *Workflow) { w.alerter = a }
}

func NewWorkflow(d TokenDiscoverer, a TokenAnalyzer, dm domain.DecisionMaker, e DecisionExecutor, cfg WorkflowConfig, opts ...WorkflowOption) *Workflow {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ErrorInterval <= 0 {
		cfg.ErrorInterval = DefaultErrorInterval
	}
	w := &Workflow{
		discovery: d,
		analyzer:  a,
		decider:   dm,
		executor:  e,
		cfg:       cfg,
		logger:    zap.NewNop(),
		sleep:     retry.Sleep,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.Named("workflow")
	return w
}

// State returns the current loop state.
func (w *Workflow) State() State { return State(w.state.Load()) }

// Running reports whether the loop is started.
func (w *Workflow) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// LastCycle returns the report of the most recent cycle, if any.
func (w *Workflow) LastCycle() *CycleReport { return w.last.Load() }

// Start launches the loop. It returns ErrAlreadyRunning if it is running.
func (w *Workflow) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return domain.ErrAlreadyRunning
	}

	sleepCtx, wake := context.WithCancel(ctx)
	w.running = true
	w.wake = wake
	w.done = make(chan struct{})
	w.stopping.Store(false)

	w.logger.Info("🚀 Starting trading workflow",
		zap.Duration("interval", w.cfg.Interval),
		zap.Duration("error_interval", w.cfg.ErrorInterval),
	)
	go w.loop(ctx, sleepCtx, w.done)
	return nil
}

// Stop asks the loop to exit. A cycle in progress completes first; a sleep
// is cut short. Stop is idempotent and does not wait.
func (w *Workflow) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running || w.stopping.Load() {
		return
	}
	w.logger.Info("🛑 Stopping trading workflow")
	w.stopping.Store(true)
	w.wake()
}

// Wait blocks until the loop has exited or ctx is done.
func (w *Workflow) Wait(ctx context.Context) error {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Workflow) loop(ctx, sleepCtx context.Context, done chan struct{}) {
	defer func() {
		w.state.Store(int32(StateIdle))
		w.mu.Lock()
		w.running = false
		w.wake()
		w.mu.Unlock()
		close(done)
		w.logger.Info("Trading workflow stopped")
	}()

	for !w.stopping.Load() && ctx.Err() == nil {
		_, err := w.RunCycle(ctx)

		wait := w.cfg.Interval
		next := StateSleeping
		switch {
		case err == nil, errors.Is(err, ErrCycleInProgress):
		case ctx.Err() != nil:
			return
		default:
			w.logger.Error("❌ Error in trading cycle", zap.Error(err))
			wait = w.cfg.ErrorInterval
			next = StateErrorBackoff
		}

		if w.stopping.Load() {
			return
		}
		w.state.Store(int32(next))
		if err := w.sleep(sleepCtx, wait); err != nil {
			return
		}
		w.state.Store(int32(StateIdle))
	}
}

// RunCycle runs one cycle now. If another cycle is in progress it does
// nothing and returns ErrCycleInProgress.
func (w *Workflow) RunCycle(ctx context.Context) (*CycleReport, error) {
	if !w.processing.CompareAndSwap(false, true) {
		w.metrics.CycleSkipped()
		w.logger.Info("Already processing trading analysis, skipping")
		return nil, ErrCycleInProgress
	}
	prev := State(w.state.Swap(int32(StateProcessing)))
	defer func() {
		w.state.CompareAndSwap(int32(StateProcessing), int32(prev))
		w.processing.Store(false)
	}()

	report := &CycleReport{ID: w.newID(), StartedAt: time.Now()}
	log := w.logger.With(zap.String("cycle_id", report.ID))
	log.Info("🔍 Analysing tokens")

	err := w.cycle(ctx, report, log)
	report.Duration = time.Since(report.StartedAt)
	if err != nil {
		report.Error = err.Error()
	}
	w.metrics.ObserveCycle(err, report.Duration.Seconds())
	w.last.Store(report)

	if err != nil {
		return report, err
	}
	log.Info("✅ Trading cycle complete",
		zap.Int("tokens", report.Tokens),
		zap.Int("analyzed", report.Analyzed),
		zap.Int("decided", report.Decided),
		zap.Int("trades", report.Trades),
		zap.Int("alerts", report.Alerts),
		zap.Duration("took", report.Duration),
	)
	return report, nil
}

func (w *Workflow) cycle(ctx context.Context, report *CycleReport, log *zap.Logger) error {
	tokens, err := w.discovery.Discover(ctx)
	if err != nil {
		return errors.Wrap(err, "discover tokens")
	}
	report.Tokens = len(tokens)
	if len(tokens) == 0 {
		log.Info("No candidate tokens this cycle")
		return nil
	}

	analyses, err := w.analyzer.AnalyzeAll(ctx, tokens)
	if err != nil {
		return errors.Wrap(err, "analyze tokens")
	}
	report.Analyzed = len(analyses)
	w.metrics.AddTokensAnalyzed(len(analyses))

	decisions, err := w.decideAll(ctx, analyses, log)
	if err != nil {
		return err
	}
	report.Decided = len(decisions)

	// Executions share one wallet, so they run one at a time.
	for _, d := range decisions {
		if err := ctx.Err(); err != nil {
			return err
		}
		res := w.executor.Execute(ctx, report.ID, d.Analysis, d.Decision)
		report.Outcomes = append(report.Outcomes, domain.TradeOutcome{DecisionWithAnalysis: d, Result: res})
		if res.Success && res.Action != domain.RecommendationHold {
			report.Trades++
		}
	}

	if w.alerter != nil && report.Trades > 0 {
		report.Alerts = w.alerter.NotifyTrades(ctx, report.Outcomes)
	}
	return nil
}

func (w *Workflow) decideAll(ctx context.Context, analyses []domain.TokenAnalysis, log *zap.Logger) ([]domain.DecisionWithAnalysis, error) {
	results := make([]*domain.DecisionWithAnalysis, len(analyses))

	g, gctx := errgroup.WithContext(ctx)
	if w.cfg.DecideConcurrency > 0 {
		g.SetLimit(w.cfg.DecideConcurrency)
	}
	for i, a := range analyses {
		i, a := i, a
		g.Go(func() error {
			d, err := w.decider.Decide(gctx, a)
			switch {
			case errors.Is(err, domain.ErrNoMarketData):
				log.Debug("no market data, skipping", zap.String("token", a.Token.Symbol))
				return nil
			case err != nil:
				log.Warn("decision failed", zap.String("token", a.Token.Symbol), zap.Error(err))
				return nil
			}
			w.metrics.ObserveDecision(string(d.Recommendation))
			log.Info("Decision",
				zap.String("token", a.Token.Symbol),
				zap.String("recommendation", string(d.Recommendation)),
				zap.Float64("confidence", d.Confidence),
			)
			results[i] = &domain.DecisionWithAnalysis{Decision: *d, Analysis: a}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	out := make([]domain.DecisionWithAnalysis, 0, len(results))
	for _, r := range results {
		if r != nil {
			out = append(out, *r)
		}
	}
	return out, nil
}
