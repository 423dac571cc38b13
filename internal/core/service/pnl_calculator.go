package service

import (
	"context"
	"slices"
	"sort"

	"github.com/go-faster/errors"

	"github.com/cookfi/cookfi-agent/internal/core/domain"
)

type PnLCalculator struct{}

func NewPnLCalculator() domain.PnLCalculator {
	return &PnLCalculator{}
}

// Calculate computes average-cost PnL for the fills of one token.
func (p *PnLCalculator) Calculate(fills []domain.Fill, currentPrice float64) *domain.WalletPnL {
	var totalBought, totalSold float64
	var totalCost, totalRevenue float64

	fills = slices.Clone(fills)
	sort.SliceStable(fills, func(i, j int) bool {
		return fills[i].Timestamp.Before(fills[j].Timestamp)
	})

	for _, f := range fills {
		switch f.Type {
		case domain.FillBuy:
			totalBought += f.Amount
			totalCost += f.Amount * f.PriceUSD
		case domain.FillSell:
			totalSold += f.Amount
			totalRevenue += f.Amount * f.PriceUSD
		}
	}

	currentBalance := totalBought - totalSold
	// sells of tokens bought before the ledger existed
	if currentBalance < 0 {
		currentBalance = 0
	}

	avgBuyPrice := 0.0
	if totalBought > 0 {
		avgBuyPrice = totalCost / totalBought
	}
	avgSellPrice := 0.0
	if totalSold > 0 {
		avgSellPrice = totalRevenue / totalSold
	}

	realizedPnL := totalRevenue - totalSold*avgBuyPrice
	unrealizedPnL := currentBalance*currentPrice - currentBalance*avgBuyPrice
	totalPnL := realizedPnL + unrealizedPnL

	roi := 0.0
	if totalCost > 0 {
		roi = (totalPnL / totalCost) * 100
	}

	out := &domain.WalletPnL{
		TotalBought:      totalBought,
		TotalSold:        totalSold,
		CurrentBalance:   currentBalance,
		AverageBuyPrice:  avgBuyPrice,
		AverageSellPrice: avgSellPrice,
		RealizedPnL:      realizedPnL,
		UnrealizedPnL:    unrealizedPnL,
		TotalPnL:         totalPnL,
		ROI:              roi,
	}
	if len(fills) > 0 {
		out.Address = fills[0].TokenAddress
		out.Symbol = fills[0].Symbol
	}
	return out
}

// ProfitPercent is the return of selling at price against the average buy
// price of fills. ok is false without any buys.
func ProfitPercent(calc domain.PnLCalculator, fills []domain.Fill, price float64) (pct float64, ok bool) {
	pnl := calc.Calculate(fills, price)
	if pnl.AverageBuyPrice <= 0 {
		return 0, false
	}
	return (price - pnl.AverageBuyPrice) / pnl.AverageBuyPrice * 100, true
}

// LedgerStore lists the tokens with recorded fills.
type LedgerStore interface {
	domain.FillStore
	Tokens() ([]string, error)
}

// Positions computes the PnL of every token in the ledger, ranked by total
// PnL. Tokens without a current price are valued at their average buy price.
func Positions(ctx context.Context, ledger LedgerStore, prices domain.PriceService, calc domain.PnLCalculator, chain string) ([]domain.WalletPnL, error) {
	tokens, err := ledger.Tokens()
	if err != nil {
		return nil, errors.Wrap(err, "list ledger tokens")
	}

	var results []domain.WalletPnL
	for _, addr := range tokens {
		fills, err := ledger.Fills(addr)
		if err != nil {
			return nil, errors.Wrapf(err, "fills for %s", addr)
		}
		if len(fills) == 0 {
			continue
		}

		price, err := prices.GetCurrentPrice(ctx, chain, addr)
		if err != nil {
			price = calc.Calculate(fills, 0).AverageBuyPrice
		}
		stats := calc.Calculate(fills, price)
		stats.Address = addr
		results = append(results, *stats)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].TotalPnL > results[j].TotalPnL
	})
	return results, nil
}
