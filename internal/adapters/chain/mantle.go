package chain

import (
	"context"
	"crypto/ecdsa"
	"math/big"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/cookfi/cookfi-agent/internal/adapters/httpjson"
	"github.com/cookfi/cookfi-agent/internal/core/domain"
	"github.com/cookfi/cookfi-agent/internal/observability"
	"github.com/cookfi/cookfi-agent/internal/retry"
	"github.com/cookfi/cookfi-agent/pkg/journal"
)

const (
	DefaultLiFiURL = "https://li.quest/v1"
	MantleChainID  = 5000
	// NativeToken is the LI.FI address of a chain's gas token.
	NativeToken = domain.MantleNativeToken
)

const erc20ABI = `[
{"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"stateMutability":"view","type":"function"},
{"inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
{"inputs":[{"name":"spender","type":"address"},{"name":"amount","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"stateMutability":"nonpayable","type":"function"}
]`

var erc20 = mustABI(erc20ABI)

func mustABI(s string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(s))
	if err != nil {
		panic(err)
	}
	return parsed
}

// EVMClient is the subset of ethclient.Client used by the Mantle swapper.
type EVMClient interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// DialMantle connects to a Mantle JSON-RPC endpoint.
func DialMantle(rpcURL string) (*ethclient.Client, error) {
	c, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, errors.Wrap(err, "connect to mantle rpc")
	}
	return c, nil
}

// LiFiClient requests same-chain swap routes from LI.FI.
type LiFiClient struct {
	baseURL string
	http    *http.Client
}

func NewLiFiClient(baseURL string, httpClient *http.Client) *LiFiClient {
	if baseURL == "" {
		baseURL = DefaultLiFiURL
	}
	if httpClient == nil {
		httpClient = httpjson.NewClient(20 * time.Second)
	}
	return &LiFiClient{baseURL: strings.TrimRight(baseURL, "/"), http: httpClient}
}

// LiFiQuote is a routed swap ready to be signed.
type LiFiQuote struct {
	Action struct {
		FromToken lifiToken `json:"fromToken"`
		ToToken   lifiToken `json:"toToken"`
	} `json:"action"`
	Estimate struct {
		FromAmount      string `json:"fromAmount"`
		ToAmount        string `json:"toAmount"`
		ToAmountMin     string `json:"toAmountMin"`
		ApprovalAddress string `json:"approvalAddress"`
	} `json:"estimate"`
	TransactionRequest struct {
		To       string `json:"to"`
		Data     string `json:"data"`
		Value    string `json:"value"`
		GasLimit string `json:"gasLimit"`
		GasPrice string `json:"gasPrice"`
	} `json:"transactionRequest"`
}

type lifiToken struct {
	Address  string `json:"address"`
	Symbol   string `json:"symbol"`
	Decimals int32  `json:"decimals"`
}

// Quote routes amount base units of fromToken to toToken. slippage is percent.
func (l *LiFiClient) Quote(ctx context.Context, chainID int64, fromToken, toToken string, amount *big.Int, from common.Address, slippage float64) (*LiFiQuote, error) {
	chain := strconv.FormatInt(chainID, 10)
	params := url.Values{}
	params.Set("fromChain", chain)
	params.Set("toChain", chain)
	params.Set("fromToken", fromToken)
	params.Set("toToken", toToken)
	params.Set("fromAmount", amount.String())
	params.Set("fromAddress", from.Hex())
	params.Set("slippage", strconv.FormatFloat(slippage/100, 'f', -1, 64))

	var q LiFiQuote
	if err := httpjson.Get(ctx, l.http, "lifi", l.baseURL+"/quote?"+params.Encode(), nil, &q); err != nil {
		return nil, errors.Wrap(err, "lifi quote")
	}
	if !common.IsHexAddress(q.TransactionRequest.To) {
		return nil, errors.Errorf("lifi quote: bad transaction target %q", q.TransactionRequest.To)
	}
	return &q, nil
}

// MantleSwapper swaps on Mantle through LI.FI routes.
type MantleSwapper struct {
	client    EVMClient
	lifi      *LiFiClient
	key       *ecdsa.PrivateKey
	address   common.Address
	chainID   *big.Int
	journal   SwapJournal
	policy    SwapPolicy
	pollEvery time.Duration
	txTimeout time.Duration

	metrics *observability.Metrics
	logger  *zap.Logger
	sleep   retry.SleepFunc
}

type MantleOption func(*MantleSwapper)

func WithMantleMetrics(m *observability.Metrics) MantleOption {
	return func(s *MantleSwapper) { s.metrics = m }
}

func WithMantleLogger(l *zap.Logger) MantleOption {
	return func(s *MantleSwapper) { s.logger = l }
}

func WithMantleSleep(f retry.SleepFunc) MantleOption {
	return func(s *MantleSwapper) { s.sleep = f }
}

// WithReceiptPolling sets how often and how long to wait for receipts.
func WithReceiptPolling(every, timeout time.Duration) MantleOption {
	return func(s *MantleSwapper) {
		s.pollEvery = every
		s.txTimeout = timeout
	}
}

func NewMantleSwapper(
	client EVMClient,
	lifi *LiFiClient,
	privateKeyHex string,
	chainID int64,
	j SwapJournal,
	policy SwapPolicy,
	opts ...MantleOption,
) (*MantleSwapper, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, errors.Wrap(err, "invalid mantle private key")
	}
	if chainID == 0 {
		chainID = MantleChainID
	}

	s := &MantleSwapper{
		client:    client,
		lifi:      lifi,
		key:       key,
		address:   crypto.PubkeyToAddress(key.PublicKey),
		chainID:   big.NewInt(chainID),
		journal:   j,
		policy:    policy,
		pollEvery: 2 * time.Second,
		txTimeout: 5 * time.Minute,
		logger:    zap.NewNop(),
		sleep:     retry.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *MantleSwapper) Chain() string { return domain.ChainMantle }

func (s *MantleSwapper) Address() string { return s.address.Hex() }

func isNative(token string) bool {
	return token == NativeToken || strings.EqualFold(token, "0xEeeeeEeeeEeEeeEeEeEeeEEEeeeeEeeeeeeeEEeE")
}

func (s *MantleSwapper) decimals(ctx context.Context, token string) (uint8, error) {
	if isNative(token) {
		return 18, nil
	}
	out, err := s.call(ctx, common.HexToAddress(token), "decimals")
	if err != nil {
		return 0, err
	}
	d, ok := out[0].(uint8)
	if !ok {
		return 0, errors.Errorf("decimals of %s: unexpected %T", token, out[0])
	}
	return d, nil
}

func (s *MantleSwapper) call(ctx context.Context, to common.Address, method string, args ...any) ([]any, error) {
	data, err := erc20.Pack(method, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "pack %s", method)
	}
	raw, err := s.client.CallContract(ctx, ethereum.CallMsg{From: s.address, To: &to, Data: data}, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "call %s on %s", method, to.Hex())
	}
	out, err := erc20.Unpack(method, raw)
	if err != nil {
		return nil, errors.Wrapf(err, "unpack %s", method)
	}
	if len(out) == 0 {
		return nil, errors.Errorf("%s returned nothing", method)
	}
	return out, nil
}

// Swap swaps req.Amount of the input token, doubling the slippage after
// every failed attempt.
func (s *MantleSwapper) Swap(ctx context.Context, req domain.SwapRequest) (*domain.SwapResult, error) {
	for _, addr := range []string{req.InputMint, req.OutputMint} {
		if !common.IsHexAddress(addr) {
			return nil, errors.Errorf("invalid mantle token address %q", addr)
		}
	}

	decimals, err := s.decimals(ctx, req.InputMint)
	if err != nil {
		return nil, err
	}
	amount := decimal.NewFromFloat(req.Amount).Shift(int32(decimals)).Floor().BigInt()
	if amount.Sign() <= 0 {
		return nil, errors.Errorf("swap amount %g rounds to zero", req.Amount)
	}

	log := s.logger.With(
		zap.String("chain", domain.ChainMantle),
		zap.String("from_token", req.InputMint),
		zap.String("to_token", req.OutputMint),
		zap.Float64("amount", req.Amount),
	)

	res, stats, err := s.policy.escalate(ctx, s.sleep, req.Slippage,
		func(ctx context.Context, attempt int, slippage float64) (*domain.SwapResult, error) {
			log.Info("swap attempt", zap.Int("attempt", attempt), zap.Float64("slippage_pct", slippage))
			res, err := s.attempt(ctx, req, amount, decimals, attempt, slippage)
			s.metrics.ObserveSwapAttempt(domain.ChainMantle, slippage, err)
			if err != nil {
				log.Warn("swap attempt failed", zap.Int("attempt", attempt), zap.Float64("slippage_pct", slippage), zap.Error(err))
			}
			return res, err
		})
	if err != nil {
		log.Error("swap failed", zap.Int("attempts", stats.Attempts), zap.Float64("final_slippage_pct", stats.Value), zap.Error(err))
		return nil, errors.Wrap(err, "mantle swap")
	}

	log.Info("swap confirmed", zap.String("tx_hash", res.Signature), zap.Int("attempts", stats.Attempts))
	res.Attempts = stats.Attempts
	res.Slippage = stats.Value
	return res, nil
}

func (s *MantleSwapper) attempt(ctx context.Context, req domain.SwapRequest, amount *big.Int, decimals uint8, attempt int, slippage float64) (*domain.SwapResult, error) {
	rec := &journal.SwapRecord{
		CycleID:    req.CycleID,
		Chain:      domain.ChainMantle,
		InputMint:  req.InputMint,
		OutputMint: req.OutputMint,
		Amount:     req.Amount,
		Slippage:   slippage,
		Attempt:    attempt,
	}
	if err := s.journal.Begin(rec); err != nil {
		return nil, retry.Permanent(errors.Wrap(err, "journal swap attempt"))
	}

	hash, quote, err := s.submit(ctx, req, amount, slippage)
	if err != nil {
		s.record(rec.ID, journal.StateFailed, "", err.Error())
		return nil, err
	}
	s.record(rec.ID, journal.StateSubmitted, hash.Hex(), "")
	if err := s.waitSuccess(ctx, hash); err != nil {
		if !errors.Is(err, ErrTxFailed) {
			// no receipt yet, the transaction may still be mined
			s.record(rec.ID, journal.StateSubmitted, hash.Hex(), err.Error())
			return nil, retry.Permanent(&UnconfirmedError{Signature: hash.Hex(), Err: err})
		}
		s.record(rec.ID, journal.StateFailed, hash.Hex(), err.Error())
		return nil, err
	}
	s.record(rec.ID, journal.StateConfirmed, hash.Hex(), "")

	out, _ := decimal.NewFromString(quote.Estimate.ToAmount)
	return &domain.SwapResult{
		Signature: hash.Hex(),
		InAmount:  decimal.NewFromBigInt(amount, -int32(decimals)).InexactFloat64(),
		OutAmount: out.Shift(-quote.Action.ToToken.Decimals).InexactFloat64(),
	}, nil
}

func (s *MantleSwapper) record(id, state, sig, errMsg string) {
	if err := s.journal.Update(id, state, sig, errMsg); err != nil {
		s.logger.Error("journal update failed", zap.String("id", id), zap.String("state", state), zap.Error(err))
	}
}

func (s *MantleSwapper) submit(ctx context.Context, req domain.SwapRequest, amount *big.Int, slippage float64) (common.Hash, *LiFiQuote, error) {
	quote, err := s.lifi.Quote(ctx, s.chainID.Int64(), req.InputMint, req.OutputMint, amount, s.address, slippage)
	if err != nil {
		return common.Hash{}, nil, err
	}

	if !isNative(req.InputMint) && quote.Estimate.ApprovalAddress != "" {
		if err := s.ensureAllowance(ctx, common.HexToAddress(req.InputMint), common.HexToAddress(quote.Estimate.ApprovalAddress), amount); err != nil {
			return common.Hash{}, nil, err
		}
	}

	data, err := hexutil.Decode(quote.TransactionRequest.Data)
	if err != nil {
		return common.Hash{}, nil, errors.Wrap(err, "lifi transaction data")
	}
	value := new(big.Int)
	if v := quote.TransactionRequest.Value; v != "" {
		if value, err = hexutil.DecodeBig(v); err != nil {
			return common.Hash{}, nil, errors.Wrap(err, "lifi transaction value")
		}
	}
	var gasLimit uint64
	if g := quote.TransactionRequest.GasLimit; g != "" {
		if gasLimit, err = hexutil.DecodeUint64(g); err != nil {
			return common.Hash{}, nil, errors.Wrap(err, "lifi gas limit")
		}
	}

	hash, err := s.send(ctx, common.HexToAddress(quote.TransactionRequest.To), value, data, gasLimit)
	return hash, quote, err
}

func (s *MantleSwapper) ensureAllowance(ctx context.Context, token, spender common.Address, amount *big.Int) error {
	out, err := s.call(ctx, token, "allowance", s.address, spender)
	if err != nil {
		return err
	}
	if current, ok := out[0].(*big.Int); ok && current.Cmp(amount) >= 0 {
		return nil
	}

	data, err := erc20.Pack("approve", spender, amount)
	if err != nil {
		return errors.Wrap(err, "pack approve")
	}
	hash, err := s.send(ctx, token, big.NewInt(0), data, 0)
	if err != nil {
		return errors.Wrap(err, "approve")
	}
	s.logger.Info("approval sent", zap.String("token", token.Hex()), zap.String("spender", spender.Hex()), zap.String("tx_hash", hash.Hex()))
	return s.waitSuccess(ctx, hash)
}

// send signs and broadcasts a legacy transaction. A zero gasLimit is estimated.
func (s *MantleSwapper) send(ctx context.Context, to common.Address, value *big.Int, data []byte, gasLimit uint64) (common.Hash, error) {
	nonce, err := s.client.PendingNonceAt(ctx, s.address)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "get nonce")
	}
	gasPrice, err := s.client.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "get gas price")
	}
	if gasLimit == 0 {
		estimated, err := s.client.EstimateGas(ctx, ethereum.CallMsg{From: s.address, To: &to, Value: value, Data: data})
		if err != nil {
			return common.Hash{}, errors.Wrap(err, "transaction would revert")
		}
		gasLimit = estimated * 120 / 100
	}

	tx := types.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(s.chainID), s.key)
	if err != nil {
		return common.Hash{}, errors.Wrap(err, "sign transaction")
	}
	if err := s.client.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, errors.Wrap(err, "send transaction")
	}
	return signed.Hash(), nil
}

func (s *MantleSwapper) waitSuccess(ctx context.Context, hash common.Hash) error {
	rctx, cancel := context.WithTimeout(ctx, s.txTimeout)
	defer cancel()

	receipt, err := s.waitForReceipt(rctx, hash)
	if err != nil {
		return errors.Wrapf(err, "receipt for %s", hash.Hex())
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return errors.Wrapf(ErrTxFailed, "%s reverted", hash.Hex())
	}
	return nil
}

func (s *MantleSwapper) waitForReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ticker := time.NewTicker(s.pollEvery)
	defer ticker.Stop()

	for {
		receipt, err := s.client.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}
