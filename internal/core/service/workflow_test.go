package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cookfi/cookfi-agent/internal/core/domain"
)

type stubDiscovery struct {
	tokens []domain.Token
	err    error
	gate   chan struct{}
	calls  atomic.Int32
}

func (s *stubDiscovery) Discover(ctx context.Context) ([]domain.Token, error) {
	s.calls.Add(1)
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.tokens, s.err
}

type passAnalyzer struct{}

func (passAnalyzer) AnalyzeAll(_ context.Context, tokens []domain.Token) ([]domain.TokenAnalysis, error) {
	out := make([]domain.TokenAnalysis, len(tokens))
	for i, t := range tokens {
		out[i] = domain.TokenAnalysis{Token: t, MarketData: &domain.TokenPair{PriceUSD: 1}}
	}
	return out, nil
}

type mapDecider map[string]domain.TradeDecision

func (m mapDecider) Decide(_ context.Context, a domain.TokenAnalysis) (*domain.TradeDecision, error) {
	d, ok := m[a.Token.Address]
	if !ok {
		return nil, domain.ErrNoMarketData
	}
	return &d, nil
}

type stubExecutor struct {
	mu    sync.Mutex
	seen  []string
	fails map[string]bool
}

func (e *stubExecutor) Execute(_ context.Context, _ string, a domain.TokenAnalysis, d domain.TradeDecision) domain.ExecutionResult {
	e.mu.Lock()
	e.seen = append(e.seen, a.Token.Address)
	e.mu.Unlock()
	if e.fails[a.Token.Address] {
		return domain.ExecutionResult{Success: false, Action: d.Recommendation, Error: "boom"}
	}
	return domain.ExecutionResult{Success: true, Action: d.Recommendation}
}

type countingAlerter struct{ outcomes atomic.Int32 }

func (c *countingAlerter) NotifyTrades(_ context.Context, outcomes []domain.TradeOutcome) int {
	c.outcomes.Add(int32(len(outcomes)))
	return len(outcomes)
}

func tokens(addrs ...string) []domain.Token {
	out := make([]domain.Token, len(addrs))
	for i, a := range addrs {
		out[i] = domain.Token{Symbol: a, Address: a, ChainID: domain.ChainSolana}
	}
	return out
}

func TestWorkflow_RunCycle(t *testing.T) {
	disc := &stubDiscovery{tokens: tokens("a", "b", "c", "d")}
	decider := mapDecider{
		"a": {Recommendation: domain.RecommendationBuy, Confidence: 90},
		"b": {Recommendation: domain.RecommendationHold, Confidence: 50},
		"c": {Recommendation: domain.RecommendationSell, Confidence: 85},
	}
	exec := &stubExecutor{fails: map[string]bool{"c": true}}
	alerter := &countingAlerter{}

	w := NewWorkflow(disc, passAnalyzer{}, decider, exec, WorkflowConfig{}, WithAlerter(alerter))
	report, err := w.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 4, report.Tokens)
	assert.Equal(t, 4, report.Analyzed)
	assert.Equal(t, 3, report.Decided)
	assert.Equal(t, 1, report.Trades)
	assert.Len(t, report.Outcomes, 3)
	assert.Equal(t, 3, report.Alerts)
	assert.NotEmpty(t, report.ID)
	assert.ElementsMatch(t, []string{"a", "b", "c"}, exec.seen)
	assert.Same(t, report, w.LastCycle())
	assert.Equal(t, StateIdle, w.State())
}

func TestWorkflow_RunCycleEndToEnd(t *testing.T) {
	trending := &staticSource{name: "trending", tokens: tokens("A")}
	portfolio := &staticSource{name: "portfolio", tokens: []domain.Token{held("A", 5)}}
	disc := NewDiscovery([]domain.TokenSource{trending, portfolio}, 0, nil, nil)
	analyzer := NewAnalyzer(&fakeMarket{}, &fakeSocial{}, nil, nil)
	decider := mapDecider{"A": {Recommendation: domain.RecommendationBuy, Confidence: 85}}
	swapper := &recordingSwapper{chain: domain.ChainSolana}
	ledger := memLedger{}
	exec := NewExecutor(DefaultExecutionConfig(), []domain.Swapper{swapper}, ledger, nil, nil)

	w := NewWorkflow(disc, analyzer, decider, exec, WorkflowConfig{})
	report, err := w.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Tokens)
	assert.Equal(t, 1, report.Analyzed)
	assert.Equal(t, 1, report.Decided)
	assert.Equal(t, 1, report.Trades)
	require.Len(t, report.Outcomes, 1)

	out := report.Outcomes[0]
	assert.True(t, out.Result.Success)
	assert.Equal(t, domain.RecommendationBuy, out.Result.Action)
	assert.InDelta(t, 0.0325, out.Result.Amount, 1e-9)
	assert.Equal(t, "sig-A", out.Result.Signature)
	require.NotNil(t, out.Analysis.Token.Balance)
	assert.Equal(t, 5.0, out.Analysis.Token.Balance.Amount)
	require.NotNil(t, out.Analysis.MarketData)
	assert.Equal(t, "A-1", out.Analysis.MarketData.PairAddress)
	assert.Len(t, out.Analysis.SocialData, 1)

	require.Equal(t, 1, swapper.calls())
	req := swapper.requests[0]
	assert.Equal(t, domain.SOLMint, req.InputMint)
	assert.Equal(t, "A", req.OutputMint)
	assert.Equal(t, report.ID, req.CycleID)
	assert.Len(t, ledger["A"], 1)
}

type slowDecider struct {
	active, peak atomic.Int32
}

func (d *slowDecider) Decide(_ context.Context, a domain.TokenAnalysis) (*domain.TradeDecision, error) {
	n := d.active.Add(1)
	for {
		p := d.peak.Load()
		if n <= p || d.peak.CompareAndSwap(p, n) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	d.active.Add(-1)
	return &domain.TradeDecision{Recommendation: domain.RecommendationHold, Confidence: 50}, nil
}

func TestWorkflow_DecideConcurrency(t *testing.T) {
	disc := &stubDiscovery{tokens: tokens("a", "b", "c", "d", "e", "f")}
	decider := &slowDecider{}

	w := NewWorkflow(disc, passAnalyzer{}, decider, &stubExecutor{}, WorkflowConfig{DecideConcurrency: 2})
	report, err := w.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 6, report.Decided)
	assert.LessOrEqual(t, decider.peak.Load(), int32(2))
}

func TestWorkflow_NoAlertsWithoutTrades(t *testing.T) {
	disc := &stubDiscovery{tokens: tokens("a")}
	decider := mapDecider{"a": {Recommendation: domain.RecommendationHold, Confidence: 99}}
	alerter := &countingAlerter{}

	w := NewWorkflow(disc, passAnalyzer{}, decider, &stubExecutor{}, WorkflowConfig{}, WithAlerter(alerter))
	report, err := w.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.Trades)
	assert.Zero(t, alerter.outcomes.Load())
}

func TestWorkflow_RunCycleIsNotReentrant(t *testing.T) {
	disc := &stubDiscovery{tokens: tokens("a"), gate: make(chan struct{})}
	w := NewWorkflow(disc, passAnalyzer{}, mapDecider{}, &stubExecutor{}, WorkflowConfig{})

	done := make(chan error, 1)
	go func() {
		_, err := w.RunCycle(context.Background())
		done <- err
	}()
	require.Eventually(t, func() bool { return w.State() == StateProcessing }, time.Second, time.Millisecond)

	report, err := w.RunCycle(context.Background())
	assert.ErrorIs(t, err, ErrCycleInProgress)
	assert.Nil(t, report)
	assert.Equal(t, int32(1), disc.calls.Load())

	close(disc.gate)
	require.NoError(t, <-done)
	assert.Equal(t, StateIdle, w.State())

	_, err = w.RunCycle(context.Background())
	assert.NoError(t, err)
}

func TestWorkflow_DiscoveryErrorIsReported(t *testing.T) {
	disc := &stubDiscovery{err: errors.New("all token sources failed")}
	w := NewWorkflow(disc, passAnalyzer{}, mapDecider{}, &stubExecutor{}, WorkflowConfig{})

	report, err := w.RunCycle(context.Background())
	require.Error(t, err)
	require.NotNil(t, report)
	assert.Contains(t, report.Error, "all token sources failed")
}

// sleepRecorder records requested waits and blocks until released or cancelled.
type sleepRecorder struct {
	mu      sync.Mutex
	waits   []time.Duration
	entered chan struct{}
}

func newSleepRecorder() *sleepRecorder {
	return &sleepRecorder{entered: make(chan struct{}, 16)}
}

func (s *sleepRecorder) Sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	s.entered <- struct{}{}
	<-ctx.Done()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

func TestWorkflow_StartStop(t *testing.T) {
	sleeper := newSleepRecorder()
	disc := &stubDiscovery{tokens: tokens("a")}
	w := NewWorkflow(disc, passAnalyzer{}, mapDecider{}, &stubExecutor{}, WorkflowConfig{}, WithWorkflowSleep(sleeper.Sleep))

	ctx := context.Background()
	require.NoError(t, w.Start(ctx))
	assert.ErrorIs(t, w.Start(ctx), domain.ErrAlreadyRunning)
	assert.True(t, w.Running())

	<-sleeper.entered
	assert.Equal(t, StateSleeping, w.State())
	assert.Equal(t, []time.Duration{DefaultInterval}, sleeper.recorded())

	w.Stop()
	w.Stop()

	waitCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	require.NoError(t, w.Wait(waitCtx))
	assert.False(t, w.Running())
	assert.Equal(t, StateIdle, w.State())
	assert.Equal(t, int32(1), disc.calls.Load())

	// restartable
	require.NoError(t, w.Start(ctx))
	<-sleeper.entered
	w.Stop()
	require.NoError(t, w.Wait(waitCtx))
}

func TestWorkflow_ErrorBackoff(t *testing.T) {
	sleeper := newSleepRecorder()
	disc := &stubDiscovery{err: errors.New("dexscreener down")}
	cfg := WorkflowConfig{Interval: time.Minute, ErrorInterval: 7 * time.Second}
	w := NewWorkflow(disc, passAnalyzer{}, mapDecider{}, &stubExecutor{}, cfg, WithWorkflowSleep(sleeper.Sleep))

	require.NoError(t, w.Start(context.Background()))
	<-sleeper.entered

	assert.Equal(t, StateErrorBackoff, w.State())
	assert.Equal(t, []time.Duration{7 * time.Second}, sleeper.recorded())

	w.Stop()
	require.NoError(t, w.Wait(context.Background()))
}

func TestWorkflow_ContextCancelStopsLoop(t *testing.T) {
	var sleeps atomic.Int32
	sleep := func(ctx context.Context, d time.Duration) error {
		sleeps.Add(1)
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	disc := &stubDiscovery{tokens: tokens("a")}
	w := NewWorkflow(disc, passAnalyzer{}, mapDecider{}, &stubExecutor{}, WorkflowConfig{}, WithWorkflowSleep(sleep))

	require.NoError(t, w.Start(ctx))
	require.Eventually(t, func() bool { return disc.calls.Load() >= 3 }, time.Second, time.Millisecond)
	cancel()

	require.NoError(t, w.Wait(context.Background()))
	assert.False(t, w.Running())
	assert.GreaterOrEqual(t, sleeps.Load(), int32(2))
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "processing", StateProcessing.String())
	assert.Equal(t, "sleeping", StateSleeping.String())
	assert.Equal(t, "error_backoff", StateErrorBackoff.String())
}
