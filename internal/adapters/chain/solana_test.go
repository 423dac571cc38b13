package chain

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/mr-tron/base58"
	"github.com/portto/solana-go-sdk/client"
	"github.com/portto/solana-go-sdk/program/system"
	"github.com/portto/solana-go-sdk/rpc"
	"github.com/portto/solana-go-sdk/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cookfi/cookfi-agent/internal/core/domain"
	"github.com/cookfi/cookfi-agent/internal/retry"
	"github.com/cookfi/cookfi-agent/pkg/journal"
)

const testBlockhash = "EkSnNWid2cvwEVnVx9aBqawnmiCNiDgp3gUdkDPTKN1N"

type fakeRPC struct {
	mu       sync.Mutex
	lamports uint64
	token    client.TokenAmount
	sent     []types.Transaction
	sendErr  error
}

func (f *fakeRPC) GetBalance(context.Context, string) (uint64, error) { return f.lamports, nil }

func (f *fakeRPC) GetTokenAccountBalance(context.Context, string) (client.TokenAmount, error) {
	return f.token, nil
}

func (f *fakeRPC) GetLatestBlockhash(context.Context) (rpc.GetLatestBlockhashValue, error) {
	return rpc.GetLatestBlockhashValue{Blockhash: testBlockhash, LatestValidBlockHeight: 100}, nil
}

func (f *fakeRPC) SendTransaction(_ context.Context, tx types.Transaction) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return "", f.sendErr
	}
	f.sent = append(f.sent, tx)
	return base58.Encode(tx.Signatures[0]), nil
}

type fakeJournal struct {
	records map[string]*journal.SwapRecord
	order   []string
	seq     int
	err     error
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{records: map[string]*journal.SwapRecord{}}
}

func (j *fakeJournal) Begin(rec *journal.SwapRecord) error {
	if j.err != nil {
		return j.err
	}
	j.seq++
	rec.ID = string(rune('a' + j.seq))
	rec.State = journal.StatePending
	cp := *rec
	j.records[rec.ID] = &cp
	j.order = append(j.order, rec.ID)
	return nil
}

func (j *fakeJournal) Update(id, state, sig, errMsg string) error {
	rec, ok := j.records[id]
	if !ok {
		return errors.New("not found")
	}
	rec.State = state
	if sig != "" {
		rec.Signature = sig
	}
	rec.Error = errMsg
	return nil
}

func (j *fakeJournal) states() []string {
	var out []string
	for _, id := range j.order {
		out = append(out, j.records[id].State)
	}
	return out
}

type fakeConfirmer struct{ err error }

func (c fakeConfirmer) Confirm(context.Context, string) error { return c.err }

// jupiterStub serves /quote and /swap. The first failQuotes quote requests
// answer 500.
type jupiterStub struct {
	t          *testing.T
	payer      types.Account
	failQuotes int

	mu  sync.Mutex
	bps []string
}

func (j *jupiterStub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/quote":
		j.mu.Lock()
		j.bps = append(j.bps, r.URL.Query().Get("slippageBps"))
		n := len(j.bps)
		j.mu.Unlock()
		if n <= j.failQuotes {
			http.Error(w, "no route", http.StatusInternalServerError)
			return
		}
		w.Write([]byte(`{"inAmount":"` + r.URL.Query().Get("amount") + `","outAmount":"4200","slippageBps":300,"priceImpactPct":"0.12"}`))
	case "/swap":
		var body map[string]any
		require.NoError(j.t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(j.t, j.payer.PublicKey.ToBase58(), body["userPublicKey"])
		assert.NotNil(j.t, body["quoteResponse"])

		tx, err := types.NewTransaction(types.NewTransactionParam{
			Message: types.NewMessage(types.NewMessageParam{
				FeePayer:        j.payer.PublicKey,
				RecentBlockhash: testBlockhash,
				Instructions: []types.Instruction{
					system.Transfer(system.TransferParam{From: j.payer.PublicKey, To: types.NewAccount().PublicKey, Amount: 1}),
				},
			}),
			Signers: []types.Account{j.payer},
		})
		require.NoError(j.t, err)
		raw, err := tx.Serialize()
		require.NoError(j.t, err)
		json.NewEncoder(w).Encode(map[string]any{"swapTransaction": base64.StdEncoding.EncodeToString(raw)})
	default:
		http.NotFound(w, r)
	}
}

type swapFixture struct {
	account types.Account
	rpc     *fakeRPC
	jupiter *jupiterStub
	journal *fakeJournal
	sleeps  []time.Duration
	swapper *SolanaSwapper
	outMint string
}

func newSwapFixture(t *testing.T, failQuotes int, confirmErr error) *swapFixture {
	t.Helper()
	f := &swapFixture{
		account: types.NewAccount(),
		rpc:     &fakeRPC{lamports: 2_000_000_000},
		journal: newFakeJournal(),
		outMint: types.NewAccount().PublicKey.ToBase58(),
	}
	f.jupiter = &jupiterStub{t: t, payer: f.account, failQuotes: failQuotes}
	srv := httptest.NewServer(f.jupiter)
	t.Cleanup(srv.Close)

	s, err := NewSolanaSwapper(
		f.rpc,
		NewJupiterClient(srv.URL, srv.Client()),
		base58.Encode(f.account.PrivateKey),
		fakeConfirmer{err: confirmErr},
		f.journal,
		SwapPolicy{Slippage: 3, MaxSlippage: 30, MaxAttempts: 10, RetryDelay: time.Second},
		WithSolanaSleep(func(_ context.Context, d time.Duration) error {
			f.sleeps = append(f.sleeps, d)
			return nil
		}),
	)
	require.NoError(t, err)
	f.swapper = s
	return f
}

func (f *swapFixture) buy(amount float64) domain.SwapRequest {
	return domain.SwapRequest{
		Chain:      domain.ChainSolana,
		InputMint:  domain.SOLMint,
		OutputMint: f.outMint,
		Amount:     amount,
		CycleID:    "cycle-1",
	}
}

func TestSolanaSwap_FirstAttempt(t *testing.T) {
	f := newSwapFixture(t, 0, nil)

	res, err := f.swapper.Swap(context.Background(), f.buy(0.0325))
	require.NoError(t, err)

	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 3.0, res.Slippage)
	assert.Equal(t, 0.0325, res.InAmount)
	assert.Equal(t, 4200.0, res.OutAmount)
	assert.Equal(t, []string{"300"}, f.jupiter.bps)
	assert.Empty(t, f.sleeps)

	require.Len(t, f.rpc.sent, 1)
	tx := f.rpc.sent[0]
	msg, err := tx.Message.Serialize()
	require.NoError(t, err)
	assert.True(t, ed25519.Verify(ed25519.PublicKey(f.account.PublicKey.Bytes()), msg, tx.Signatures[0]))
	assert.Equal(t, base58.Encode(tx.Signatures[0]), res.Signature)

	assert.Equal(t, []string{journal.StateConfirmed}, f.journal.states())
	rec := f.journal.records[f.journal.order[0]]
	assert.Equal(t, "cycle-1", rec.CycleID)
	assert.Equal(t, res.Signature, rec.Signature)
}

func TestSolanaSwap_EscalatesSlippage(t *testing.T) {
	f := newSwapFixture(t, 2, nil)

	res, err := f.swapper.Swap(context.Background(), f.buy(0.05))
	require.NoError(t, err)

	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, 12.0, res.Slippage)
	assert.Equal(t, []string{"300", "600", "1200"}, f.jupiter.bps)
	assert.Equal(t, []time.Duration{time.Second, time.Second}, f.sleeps)
	assert.Equal(t, []string{journal.StateFailed, journal.StateFailed, journal.StateConfirmed}, f.journal.states())
}

func TestSolanaSwap_StopsAtCeiling(t *testing.T) {
	f := newSwapFixture(t, 100, nil)

	_, err := f.swapper.Swap(context.Background(), f.buy(0.05))
	require.Error(t, err)
	assert.ErrorIs(t, err, retry.ErrExhausted)

	var ex *retry.ExhaustedError
	require.True(t, errors.As(err, &ex))
	assert.Equal(t, 4, ex.Attempts)
	assert.Equal(t, 24.0, ex.Value)
	assert.Contains(t, err.Error(), "failed after 4 attempts")
	assert.Contains(t, err.Error(), "final slippage attempted: 24%")
	assert.Equal(t, []string{"300", "600", "1200", "2400"}, f.jupiter.bps)
	assert.Len(t, f.sleeps, 3)
}

func TestSolanaSwap_InitialSlippageAboveCeiling(t *testing.T) {
	f := newSwapFixture(t, 0, nil)
	req := f.buy(0.05)
	req.Slippage = 45

	_, err := f.swapper.Swap(context.Background(), req)
	assert.ErrorIs(t, err, retry.ErrCeiling)
	assert.Empty(t, f.jupiter.bps)
}

func TestSolanaSwap_ConfirmFailureIsJournaled(t *testing.T) {
	f := newSwapFixture(t, 0, ErrTxFailed)
	f.swapper.policy.MaxAttempts = 2

	_, err := f.swapper.Swap(context.Background(), f.buy(0.05))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTxFailed)

	assert.Equal(t, []string{journal.StateFailed, journal.StateFailed}, f.journal.states())
	for _, id := range f.journal.order {
		assert.NotEmpty(t, f.journal.records[id].Signature)
		assert.Contains(t, f.journal.records[id].Error, "transaction failed on chain")
	}
}

func TestSolanaSwap_UnconfirmedStaysSubmitted(t *testing.T) {
	f := newSwapFixture(t, 0, context.DeadlineExceeded)

	_, err := f.swapper.Swap(context.Background(), f.buy(0.05))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnconfirmed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.NotErrorIs(t, err, retry.ErrExhausted)

	assert.Len(t, f.rpc.sent, 1)
	assert.Equal(t, []string{"300"}, f.jupiter.bps)
	assert.Empty(t, f.sleeps)
	require.Equal(t, []string{journal.StateSubmitted}, f.journal.states())
	rec := f.journal.records[f.journal.order[0]]
	assert.NotEmpty(t, rec.Signature)

	var unconfirmed *UnconfirmedError
	require.ErrorAs(t, err, &unconfirmed)
	assert.Equal(t, rec.Signature, unconfirmed.Signature)
}

func TestSolanaSwap_JournalErrorIsPermanent(t *testing.T) {
	f := newSwapFixture(t, 0, nil)
	f.journal.err = errors.New("disk full")

	_, err := f.swapper.Swap(context.Background(), f.buy(0.05))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	assert.NotErrorIs(t, err, retry.ErrExhausted)
	assert.Empty(t, f.jupiter.bps)
}

func TestSolanaSwap_RejectsBadInput(t *testing.T) {
	f := newSwapFixture(t, 0, nil)

	req := f.buy(0.05)
	req.OutputMint = "not-a-mint"
	_, err := f.swapper.Swap(context.Background(), req)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = f.swapper.Swap(context.Background(), f.buy(0.0000000001))
	assert.Error(t, err)
}

func TestSolanaSwap_TokenDecimalsFromAccount(t *testing.T) {
	f := newSwapFixture(t, 0, nil)
	f.rpc.token = client.TokenAmount{Amount: 5_000_000, Decimals: 6}

	req := domain.SwapRequest{InputMint: f.outMint, OutputMint: domain.SOLMint, Amount: 1.5}
	res, err := f.swapper.Swap(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, 1.5, res.InAmount)
	assert.InDelta(t, 0.0000042, res.OutAmount, 1e-12)
}

func TestStake(t *testing.T) {
	f := newSwapFixture(t, 0, nil)

	_, err := f.swapper.Stake(context.Background(), 0.05)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "minimum staking amount")

	f.rpc.token = client.TokenAmount{Amount: 98_000_000, Decimals: 9}
	res, err := f.swapper.Stake(context.Background(), 0.1)
	require.NoError(t, err)
	assert.Equal(t, 0.1, res.Amount)
	assert.InDelta(t, 0.098, res.JupSOLBalance, 1e-9)
	assert.NotEmpty(t, res.Signature)
}

func TestTransfer(t *testing.T) {
	f := newSwapFixture(t, 0, nil)
	recipient := types.NewAccount().PublicKey.ToBase58()

	_, err := f.swapper.Transfer(context.Background(), "bogus", 0.5)
	assert.ErrorIs(t, err, ErrInvalidAddress)

	_, err = f.swapper.Transfer(context.Background(), recipient, 5)
	assert.ErrorIs(t, err, domain.ErrNoBalance)

	sig, err := f.swapper.Transfer(context.Background(), recipient, 0.5)
	require.NoError(t, err)
	require.Len(t, f.rpc.sent, 1)
	assert.Equal(t, base58.Encode(f.rpc.sent[0].Signatures[0]), sig)
	assert.Equal(t, testBlockhash, f.rpc.sent[0].Message.RecentBlockHash)
}

func TestBalances(t *testing.T) {
	f := newSwapFixture(t, 0, nil)
	f.rpc.lamports = 1_250_000_000

	sol, err := f.swapper.SOLBalance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "1.25", sol.String())

	f.rpc.token = client.TokenAmount{Amount: 42_000_000, Decimals: 6}
	tok, err := f.swapper.TokenBalance(context.Background(), f.outMint)
	require.NoError(t, err)
	assert.Equal(t, "42", tok.String())
}

func TestBaseUnits(t *testing.T) {
	v, err := ToBaseUnits(0.0325, 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(32_500_000), v)

	v, err = ToBaseUnits(1.0000000019, 9)
	require.NoError(t, err)
	assert.Equal(t, uint64(1_000_000_001), v)

	_, err = ToBaseUnits(-1, 9)
	assert.Error(t, err)

	assert.Equal(t, "0.0325", FromBaseUnits(32_500_000, 9).String())
}
