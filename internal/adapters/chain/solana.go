package chain

import (
	"context"
	"math/big"
	"time"

	"github.com/go-faster/errors"
	"github.com/portto/solana-go-sdk/client"
	"github.com/portto/solana-go-sdk/common"
	"github.com/portto/solana-go-sdk/program/system"
	"github.com/portto/solana-go-sdk/rpc"
	"github.com/portto/solana-go-sdk/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cookfi/cookfi-agent/internal/core/domain"
	"github.com/cookfi/cookfi-agent/internal/observability"
	"github.com/cookfi/cookfi-agent/internal/retry"
	"github.com/cookfi/cookfi-agent/pkg/journal"
)

const (
	SOLDecimals = 9
	// MinStakeAmount is the smallest SOL amount Stake accepts.
	MinStakeAmount = 0.1
)

// SolanaRPC is the subset of the portto RPC client the swapper uses.
type SolanaRPC interface {
	GetBalance(ctx context.Context, base58Addr string) (uint64, error)
	GetTokenAccountBalance(ctx context.Context, base58Addr string) (client.TokenAmount, error)
	GetLatestBlockhash(ctx context.Context) (rpc.GetLatestBlockhashValue, error)
	SendTransaction(ctx context.Context, tx types.Transaction) (string, error)
}

// SwapJournal records swap attempts.
type SwapJournal interface {
	Begin(rec *journal.SwapRecord) error
	Update(id, state, signature, errMsg string) error
}

// SwapPolicy is the slippage retry policy. Slippage values are percent.
type SwapPolicy struct {
	Slippage    float64
	MaxSlippage float64
	MaxAttempts int
	RetryDelay  time.Duration
}

func (p SwapPolicy) escalate(ctx context.Context, sleep retry.SleepFunc, initial float64,
	op func(ctx context.Context, attempt int, slippage float64) (*domain.SwapResult, error),
) (*domain.SwapResult, retry.Stats, error) {
	if initial <= 0 {
		initial = p.Slippage
	}
	return retry.Escalate(ctx,
		retry.Policy{MaxAttempts: p.MaxAttempts, Backoff: retry.Constant(p.RetryDelay), Sleep: sleep},
		retry.Escalation{Name: "slippage", Unit: "%", Initial: initial, Factor: 2, Ceiling: p.MaxSlippage},
		op,
	)
}

// SolanaSwapper swaps through Jupiter and signs with the agent wallet.
type SolanaSwapper struct {
	rpc            SolanaRPC
	jupiter        *JupiterClient
	account        types.Account
	confirmer      Confirmer
	journal        SwapJournal
	policy         SwapPolicy
	confirmTimeout time.Duration

	metrics *observability.Metrics
	logger  *zap.Logger
	sleep   retry.SleepFunc
}

type SolanaOption func(*SolanaSwapper)

func WithSolanaMetrics(m *observability.Metrics) SolanaOption {
	return func(s *SolanaSwapper) { s.metrics = m }
}

func WithSolanaLogger(l *zap.Logger) SolanaOption {
	return func(s *SolanaSwapper) { s.logger = l }
}

// WithSolanaSleep replaces the wait between attempts.
func WithSolanaSleep(f retry.SleepFunc) SolanaOption {
	return func(s *SolanaSwapper) { s.sleep = f }
}

func WithConfirmTimeout(d time.Duration) SolanaOption {
	return func(s *SolanaSwapper) { s.confirmTimeout = d }
}

// NewSolanaClient returns the portto RPC client for endpoint.
func NewSolanaClient(endpoint string) *client.Client {
	return client.NewClient(endpoint)
}

// NewSolanaSwapper builds a swapper for the wallet whose secret key is
// secretKey (base58 or a JSON byte array).
func NewSolanaSwapper(
	rpcClient SolanaRPC,
	jup *JupiterClient,
	secretKey string,
	confirmer Confirmer,
	j SwapJournal,
	policy SwapPolicy,
	opts ...SolanaOption,
) (*SolanaSwapper, error) {
	key, err := ParseSecretKey(secretKey)
	if err != nil {
		return nil, errors.Wrap(err, "solana private key")
	}
	account, err := types.AccountFromBase58(key)
	if err != nil {
		return nil, errors.Wrap(err, "solana private key")
	}

	s := &SolanaSwapper{
		rpc:            rpcClient,
		jupiter:        jup,
		account:        account,
		confirmer:      confirmer,
		journal:        j,
		policy:         policy,
		confirmTimeout: 60 * time.Second,
		logger:         zap.NewNop(),
		sleep:          retry.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *SolanaSwapper) Chain() string { return domain.ChainSolana }

// Address is the wallet's base58 public key.
func (s *SolanaSwapper) Address() string { return s.account.PublicKey.ToBase58() }

// ToBaseUnits converts a UI amount to integer base units, rounding down.
func ToBaseUnits(amount float64, decimals uint8) (uint64, error) {
	d := decimal.NewFromFloat(amount).Shift(int32(decimals)).Floor()
	if d.Sign() < 0 {
		return 0, errors.Errorf("negative amount %g", amount)
	}
	bi := d.BigInt()
	if !bi.IsUint64() {
		return 0, errors.Errorf("amount %g overflows", amount)
	}
	return bi.Uint64(), nil
}

// FromBaseUnits converts integer base units to a UI amount.
func FromBaseUnits(raw uint64, decimals uint8) decimal.Decimal {
	return decimal.NewFromBigInt(new(big.Int).SetUint64(raw), -int32(decimals))
}

func (s *SolanaSwapper) tokenAccount(mint string) (string, error) {
	ata, _, err := common.FindAssociatedTokenAddress(s.account.PublicKey, common.PublicKeyFromString(mint))
	if err != nil {
		return "", errors.Wrapf(err, "associated token account for %s", mint)
	}
	return ata.ToBase58(), nil
}

func (s *SolanaSwapper) decimals(ctx context.Context, mint string) (uint8, error) {
	if mint == domain.SOLMint {
		return SOLDecimals, nil
	}
	ata, err := s.tokenAccount(mint)
	if err != nil {
		return 0, err
	}
	bal, err := s.rpc.GetTokenAccountBalance(ctx, ata)
	if err != nil {
		return 0, errors.Wrapf(err, "token account %s", ata)
	}
	return bal.Decimals, nil
}

// SOLBalance returns the wallet's native balance in SOL.
func (s *SolanaSwapper) SOLBalance(ctx context.Context) (decimal.Decimal, error) {
	lamports, err := s.rpc.GetBalance(ctx, s.Address())
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "get balance")
	}
	return FromBaseUnits(lamports, SOLDecimals), nil
}

// TokenBalance returns the wallet's balance of mint in UI units.
func (s *SolanaSwapper) TokenBalance(ctx context.Context, mint string) (decimal.Decimal, error) {
	if mint == domain.SOLMint {
		return s.SOLBalance(ctx)
	}
	ata, err := s.tokenAccount(mint)
	if err != nil {
		return decimal.Zero, err
	}
	bal, err := s.rpc.GetTokenAccountBalance(ctx, ata)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "token account %s", ata)
	}
	return FromBaseUnits(bal.Amount, bal.Decimals), nil
}

// Swap swaps req.Amount of the input mint, doubling the slippage after every
// failed attempt. Each attempt is journaled before anything is sent.
func (s *SolanaSwapper) Swap(ctx context.Context, req domain.SwapRequest) (*domain.SwapResult, error) {
	if _, err := DecodeAddress(req.InputMint); err != nil {
		return nil, errors.Wrap(err, "input mint")
	}
	if _, err := DecodeAddress(req.OutputMint); err != nil {
		return nil, errors.Wrap(err, "output mint")
	}

	decimals, err := s.decimals(ctx, req.InputMint)
	if err != nil {
		return nil, err
	}
	amount, err := ToBaseUnits(req.Amount, decimals)
	if err != nil {
		return nil, err
	}
	if amount == 0 {
		return nil, errors.Errorf("swap amount %g rounds to zero", req.Amount)
	}

	log := s.logger.With(
		zap.String("chain", domain.ChainSolana),
		zap.String("input_mint", req.InputMint),
		zap.String("output_mint", req.OutputMint),
		zap.Float64("amount", req.Amount),
	)

	res, stats, err := s.policy.escalate(ctx, s.sleep, req.Slippage,
		func(ctx context.Context, attempt int, slippage float64) (*domain.SwapResult, error) {
			log.Info("swap attempt", zap.Int("attempt", attempt), zap.Float64("slippage_pct", slippage))
			res, err := s.attempt(ctx, req, amount, decimals, attempt, slippage)
			s.metrics.ObserveSwapAttempt(domain.ChainSolana, slippage, err)
			if err != nil {
				log.Warn("swap attempt failed", zap.Int("attempt", attempt), zap.Float64("slippage_pct", slippage), zap.Error(err))
			}
			return res, err
		})
	if err != nil {
		log.Error("swap failed", zap.Int("attempts", stats.Attempts), zap.Float64("final_slippage_pct", stats.Value), zap.Error(err))
		return nil, errors.Wrap(err, "solana swap")
	}

	log.Info("swap confirmed", zap.String("signature", res.Signature), zap.Int("attempts", stats.Attempts), zap.Float64("slippage_pct", stats.Value))
	res.Attempts = stats.Attempts
	res.Slippage = stats.Value
	return res, nil
}

func (s *SolanaSwapper) attempt(ctx context.Context, req domain.SwapRequest, amount uint64, decimals uint8, attempt int, slippage float64) (*domain.SwapResult, error) {
	rec := &journal.SwapRecord{
		CycleID:    req.CycleID,
		Chain:      domain.ChainSolana,
		InputMint:  req.InputMint,
		OutputMint: req.OutputMint,
		Amount:     req.Amount,
		Slippage:   slippage,
		Attempt:    attempt,
	}
	if err := s.journal.Begin(rec); err != nil {
		return nil, retry.Permanent(errors.Wrap(err, "journal swap attempt"))
	}

	sig, quote, err := s.submit(ctx, req, amount, slippage)
	if err != nil {
		s.record(rec.ID, journal.StateFailed, "", err.Error())
		return nil, err
	}
	s.record(rec.ID, journal.StateSubmitted, sig, "")
	if err := s.confirm(ctx, sig); err != nil {
		if !errors.Is(err, ErrTxFailed) {
			// the transaction may still land, so it stays SUBMITTED and is never resent
			s.record(rec.ID, journal.StateSubmitted, sig, err.Error())
			return nil, retry.Permanent(&UnconfirmedError{Signature: sig, Err: err})
		}
		s.record(rec.ID, journal.StateFailed, sig, err.Error())
		return nil, err
	}
	s.record(rec.ID, journal.StateConfirmed, sig, "")

	res := &domain.SwapResult{
		Signature: sig,
		InAmount:  FromBaseUnits(quote.InAmount, decimals).InexactFloat64(),
		OutAmount: float64(quote.OutAmount),
	}
	// the output token account exists once the swap landed
	if outDecimals, err := s.decimals(ctx, req.OutputMint); err == nil {
		res.OutAmount = FromBaseUnits(quote.OutAmount, outDecimals).InexactFloat64()
	} else {
		s.logger.Warn("output decimals unavailable, reporting base units", zap.String("mint", req.OutputMint), zap.Error(err))
	}
	return res, nil
}

func (s *SolanaSwapper) record(id, state, sig, errMsg string) {
	if err := s.journal.Update(id, state, sig, errMsg); err != nil {
		s.logger.Error("journal update failed", zap.String("id", id), zap.String("state", state), zap.Error(err))
	}
}

func (s *SolanaSwapper) submit(ctx context.Context, req domain.SwapRequest, amount uint64, slippage float64) (string, *Quote, error) {
	quote, err := s.jupiter.Quote(ctx, req.InputMint, req.OutputMint, amount, SlippageBps(slippage))
	if err != nil {
		return "", nil, err
	}
	raw, err := s.jupiter.SwapTransaction(ctx, quote, s.Address())
	if err != nil {
		return "", nil, err
	}
	tx, err := s.sign(raw)
	if err != nil {
		return "", nil, retry.Permanent(err)
	}
	sig, err := s.rpc.SendTransaction(ctx, tx)
	if err != nil {
		return "", nil, errors.Wrap(err, "send transaction")
	}
	return sig, quote, nil
}

func (s *SolanaSwapper) sign(raw []byte) (types.Transaction, error) {
	tx, err := types.TransactionDeserialize(raw)
	if err != nil {
		return types.Transaction{}, errors.Wrap(err, "decode swap transaction")
	}
	if len(tx.Signatures) == 0 || len(tx.Message.Accounts) == 0 {
		return types.Transaction{}, errors.New("swap transaction has no signer slot")
	}
	if tx.Message.Accounts[0] != s.account.PublicKey {
		return types.Transaction{}, errors.Errorf("swap transaction fee payer %s is not the agent wallet", tx.Message.Accounts[0].ToBase58())
	}
	msg, err := tx.Message.Serialize()
	if err != nil {
		return types.Transaction{}, errors.Wrap(err, "serialize message")
	}
	tx.Signatures[0] = s.account.Sign(msg)
	return tx, nil
}

func (s *SolanaSwapper) confirm(ctx context.Context, sig string) error {
	if s.confirmer == nil {
		return nil
	}
	cctx, cancel := context.WithTimeout(ctx, s.confirmTimeout)
	defer cancel()
	if err := s.confirmer.Confirm(cctx, sig); err != nil {
		return errors.Wrapf(err, "confirm %s", sig)
	}
	return nil
}

// Transfer sends amount SOL to recipient with a system transfer.
func (s *SolanaSwapper) Transfer(ctx context.Context, recipient string, amount float64) (string, error) {
	if err := ValidateWalletAddress(recipient); err != nil {
		return "", err
	}
	lamports, err := ToBaseUnits(amount, SOLDecimals)
	if err != nil {
		return "", err
	}
	if lamports == 0 {
		return "", errors.Errorf("transfer amount %g rounds to zero", amount)
	}

	balance, err := s.rpc.GetBalance(ctx, s.Address())
	if err != nil {
		return "", errors.Wrap(err, "get balance")
	}
	if balance < lamports {
		return "", errors.Wrapf(domain.ErrNoBalance, "have %d lamports, need %d", balance, lamports)
	}

	bh, err := s.rpc.GetLatestBlockhash(ctx)
	if err != nil {
		return "", errors.Wrap(err, "latest blockhash")
	}
	tx, err := types.NewTransaction(types.NewTransactionParam{
		Message: types.NewMessage(types.NewMessageParam{
			FeePayer:        s.account.PublicKey,
			RecentBlockhash: bh.Blockhash,
			Instructions: []types.Instruction{
				system.Transfer(system.TransferParam{
					From:   s.account.PublicKey,
					To:     common.PublicKeyFromString(recipient),
					Amount: lamports,
				}),
			},
		}),
		Signers: []types.Account{s.account},
	})
	if err != nil {
		return "", errors.Wrap(err, "build transfer")
	}

	sig, err := s.rpc.SendTransaction(ctx, tx)
	if err != nil {
		return "", errors.Wrap(err, "send transfer")
	}
	if err := s.confirm(ctx, sig); err != nil {
		return sig, err
	}
	s.logger.Info("transfer confirmed", zap.String("recipient", recipient), zap.Float64("amount", amount), zap.String("signature", sig))
	return sig, nil
}

// StakeResult reports a SOL to jupSOL stake.
type StakeResult struct {
	Signature     string  `json:"signature"`
	Amount        float64 `json:"amount"`
	JupSOLBalance float64 `json:"jupsol_balance"`
}

// Stake swaps amount SOL into jupSOL.
func (s *SolanaSwapper) Stake(ctx context.Context, amount float64) (*StakeResult, error) {
	if amount < MinStakeAmount {
		return nil, errors.Errorf("minimum staking amount is %g SOL", MinStakeAmount)
	}
	res, err := s.Swap(ctx, domain.SwapRequest{
		Chain:       domain.ChainSolana,
		InputMint:   domain.SOLMint,
		OutputMint:  domain.JupSOLMint,
		Amount:      amount,
		InputSymbol: "SOL",
	})
	if err != nil {
		return nil, errors.Wrap(err, "stake")
	}

	out := &StakeResult{Signature: res.Signature, Amount: amount}
	bal, err := s.TokenBalance(ctx, domain.JupSOLMint)
	if err != nil {
		s.logger.Warn("jupSOL balance unavailable after stake", zap.Error(err))
		return out, nil
	}
	out.JupSOLBalance = bal.InexactFloat64()
	return out, nil
}
