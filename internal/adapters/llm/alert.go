package llm

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"go.uber.org/zap"

	"github.com/cookfi/cookfi-agent/internal/core/domain"
)

// MaxAlertLength is the character limit of a rendered alert.
const MaxAlertLength = 280

// AlertWriter implements domain.AlertWriter. When the model fails or its
// text breaks the alert rules, a fixed template is used instead.
type AlertWriter struct {
	client  ChatClient
	prompts *Prompts
	comp    completion
	logger  *zap.Logger
}

func NewAlertWriter(client ChatClient, cfg Config, prompts *Prompts, logger *zap.Logger) *AlertWriter {
	if logger == nil {
		logger = zap.NewNop()
	}
	model := cfg.SmallModel
	if model == "" {
		model = cfg.Model
	}
	return &AlertWriter{
		client:  client,
		prompts: prompts,
		comp:    completion{model: model, temperature: 0.7},
		logger:  logger,
	}
}

type alertPromptData struct {
	Alert          domain.TradeAlert
	Cashtag        string
	PriceChange24h float64
	TxURL          string
}

// TxURL links to the transaction on the chain's explorer.
func TxURL(chainID, signature string) string {
	if signature == "" {
		return ""
	}
	switch chainID {
	case domain.ChainMantle:
		return "https://mantlescan.xyz/tx/" + signature
	default:
		return "https://solscan.io/tx/" + signature
	}
}

func (w *AlertWriter) WriteAlert(ctx context.Context, a domain.TradeAlert) (string, error) {
	data := alertPromptData{
		Alert:   a,
		Cashtag: a.Token.Cashtag(),
		TxURL:   TxURL(a.Token.ChainID, a.Signature),
	}
	if a.MarketData != nil {
		data.PriceChange24h = a.MarketData.PriceChange.H24
	}

	user, err := w.prompts.Alert.render(data)
	if err != nil {
		return "", err
	}

	out, err := complete(ctx, w.client, w.comp, w.prompts.Alert.System, user)
	if err != nil {
		w.logger.Warn("alert generation failed, using template", zap.String("token", a.Token.Symbol), zap.Error(err))
		return FormatAlert(a), nil
	}

	text := sanitize(out)
	if text == "" || !strings.Contains(strings.ToUpper(text), data.Cashtag) {
		w.logger.Warn("generated alert rejected, using template", zap.String("token", a.Token.Symbol))
		return FormatAlert(a), nil
	}
	return truncate(text, MaxAlertLength), nil
}

// FormatAlert is the fixed alert template.
func FormatAlert(a domain.TradeAlert) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s %s at $%.6f", a.Action, a.Token.Cashtag(), a.Price)
	if a.MarketData != nil {
		fmt.Fprintf(&sb, " | 24h %.1f%%", a.MarketData.PriceChange.H24)
	}
	fmt.Fprintf(&sb, " | Risk %s | Confidence %.0f%%", a.RiskLevel, a.Confidence)
	if a.ProfitPercent != nil {
		fmt.Fprintf(&sb, " | PnL %.2f%%", *a.ProfitPercent)
	}
	if u := TxURL(a.Token.ChainID, a.Signature); u != "" {
		sb.WriteString(" " + u)
	}
	return truncate(sb.String(), MaxAlertLength)
}

// sanitize drops emoji and other pictographic runes and surrounding quotes.
func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		switch {
		case unicode.Is(unicode.So, r),
			r == 0x200d,
			r >= 0xfe00 && r <= 0xfe0f,
			r >= 0x1f000 && r <= 0x1faff:
			return -1
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	return strings.Trim(s, "\"")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
