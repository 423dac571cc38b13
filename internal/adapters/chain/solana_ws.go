package chain

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/gorilla/websocket"
)

var (
	// ErrTxFailed is returned when a transaction landed with an error.
	ErrTxFailed = errors.New("transaction failed on chain")
	// ErrUnconfirmed matches an UnconfirmedError.
	ErrUnconfirmed = errors.New("transaction sent but not confirmed")
)

// UnconfirmedError is returned when a transaction was sent but neither its
// success nor its failure could be observed. Swaps stop retrying on it.
type UnconfirmedError struct {
	Signature string
	Err       error
}

func (e *UnconfirmedError) Error() string {
	return "transaction " + e.Signature + " sent but not confirmed: " + e.Err.Error()
}

func (e *UnconfirmedError) Unwrap() error { return e.Err }

func (e *UnconfirmedError) Is(target error) bool { return target == ErrUnconfirmed }

// Confirmer waits until a signature reaches the confirmed commitment.
type Confirmer interface {
	Confirm(ctx context.Context, signature string) error
}

// WSConfirmer confirms signatures with signatureSubscribe over the RPC
// websocket. Each call uses its own connection.
type WSConfirmer struct {
	endpoint string
	dialer   websocket.Dialer
}

// WSEndpoint derives the websocket URL of an HTTP RPC endpoint.
func WSEndpoint(rpcURL string) string {
	switch {
	case strings.HasPrefix(rpcURL, "https://"):
		return "wss://" + strings.TrimPrefix(rpcURL, "https://")
	case strings.HasPrefix(rpcURL, "http://"):
		return "ws://" + strings.TrimPrefix(rpcURL, "http://")
	}
	return rpcURL
}

func NewWSConfirmer(endpoint string) *WSConfirmer {
	return &WSConfirmer{
		endpoint: endpoint,
		dialer:   websocket.Dialer{HandshakeTimeout: 10 * time.Second},
	}
}

type wsRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type wsMessage struct {
	ID     uint64          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
	Method string `json:"method"`
	Params struct {
		Subscription int64 `json:"subscription"`
		Result       struct {
			Value struct {
				Err any `json:"err"`
			} `json:"value"`
		} `json:"result"`
	} `json:"params"`
}

// Confirm blocks until the signature is confirmed, fails, or ctx ends.
func (c *WSConfirmer) Confirm(ctx context.Context, signature string) error {
	conn, _, err := c.dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return errors.Wrap(err, "websocket dial")
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	req := wsRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "signatureSubscribe",
		Params:  []any{signature, map[string]string{"commitment": "confirmed"}},
	}
	if err := conn.WriteJSON(req); err != nil {
		return errors.Wrap(err, "signatureSubscribe")
	}

	var subID int64 = -1
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "websocket read")
		}

		switch {
		case msg.Error != nil:
			return errors.Errorf("signatureSubscribe: %s", msg.Error.Message)
		case msg.ID == req.ID && msg.Method == "":
			if err := json.Unmarshal(msg.Result, &subID); err != nil {
				return errors.Wrap(err, "decode subscription id")
			}
		case msg.Method == "signatureNotification" && (subID < 0 || msg.Params.Subscription == subID):
			if msg.Params.Result.Value.Err != nil {
				return errors.Wrapf(ErrTxFailed, "%s: %v", signature, msg.Params.Result.Value.Err)
			}
			return nil
		}
	}
}
