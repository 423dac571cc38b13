package dexscreener

import (
	"fmt"
	"strings"

	"github.com/cookfi/cookfi-agent/internal/core/domain"
)

// FormatNumber renders n with a K, M or B suffix and two decimals.
func FormatNumber(n float64) string {
	switch {
	case n >= 1e9:
		return fmt.Sprintf("%.2fB", n/1e9)
	case n >= 1e6:
		return fmt.Sprintf("%.2fM", n/1e6)
	case n >= 1e3:
		return fmt.Sprintf("%.2fK", n/1e3)
	default:
		return fmt.Sprintf("%.2f", n)
	}
}

// FormatPair is the one-line market summary used in prompts and the CLI.
func FormatPair(p domain.TokenPair) string {
	return fmt.Sprintf("%s | $%g | Vol: $%s | Liq: $%s | %s | %s",
		p.BaseToken.Symbol,
		p.PriceUSD,
		FormatNumber(p.Volume.H24),
		FormatNumber(p.Liquidity.USD),
		p.DexID,
		p.ChainID,
	)
}

// Tickers returns the cashtags of each pair's base token.
func Tickers(pairs []domain.TokenPair) []string {
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, "$"+strings.ToUpper(p.BaseToken.Symbol))
	}
	return out
}
