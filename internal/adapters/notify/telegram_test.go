package notify

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSender struct {
	params []*bot.SendMessageParams
	err    error
}

func (s *stubSender) SendMessage(_ context.Context, p *bot.SendMessageParams) (*models.Message, error) {
	s.params = append(s.params, p)
	if s.err != nil {
		return nil, s.err
	}
	return &models.Message{ID: 7}, nil
}

func TestNotify_Sends(t *testing.T) {
	s := &stubSender{}
	n := NewTelegramWithSender(s, -100123, nil)

	require.NoError(t, n.Notify(context.Background(), "BUY $ALP"))
	require.Len(t, s.params, 1)
	assert.Equal(t, int64(-100123), s.params[0].ChatID)
	assert.Equal(t, "BUY $ALP", s.params[0].Text)
}

func TestNotify_Error(t *testing.T) {
	n := NewTelegramWithSender(&stubSender{err: assert.AnError}, 1, nil)
	assert.ErrorIs(t, n.Notify(context.Background(), "x"), assert.AnError)
}

func TestNotify_DryRun(t *testing.T) {
	n, err := NewTelegram(Config{DryRun: true}, nil)
	require.NoError(t, err)
	assert.NoError(t, n.Notify(context.Background(), "x"))
}

func TestNewTelegram_RequiresCredentials(t *testing.T) {
	_, err := NewTelegram(Config{BotToken: "t"}, nil)
	assert.Error(t, err)
}

func TestNotify_BotAPI(t *testing.T) {
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true,"result":{"message_id":42,"date":0,"chat":{"id":5,"type":"private"}}}`))
	}))
	defer srv.Close()

	n, err := NewTelegram(Config{BotToken: "123:abc", ChatID: 5, ServerURL: srv.URL}, nil)
	require.NoError(t, err)

	require.NoError(t, n.Notify(context.Background(), "SELL $ALP"))
	assert.True(t, strings.HasSuffix(path, "/sendMessage"), path)
}
