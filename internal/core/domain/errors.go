package domain

import "github.com/go-faster/errors"

var (
	// ErrNoMarketData is returned when a token has no DEX pair to decide on.
	ErrNoMarketData = errors.New("no market data")
	// ErrNoBalance is returned when selling a token that is not held.
	ErrNoBalance = errors.New("no balance")
	// ErrRateLimited is returned by adapters when an upstream answers 429.
	ErrRateLimited = errors.New("rate limited")
	// ErrAlreadyRunning is returned by Start on a running component.
	ErrAlreadyRunning = errors.New("already running")
	// ErrUnsupportedChain is returned when no swapper serves a chain.
	ErrUnsupportedChain = errors.New("unsupported chain")
)
