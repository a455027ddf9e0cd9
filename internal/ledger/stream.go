// Watcher subscribes to the gateway's validated-transaction stream over a
// websocket and surfaces payments addressed to the node account. It is an
// alternative ingest path: users who pay on-ledger with a request memo are
// picked up here without ever touching the messaging transport.
package ledger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// StreamPayment is one validated payment pushed by the gateway stream.
// MemoType carries the caller's reference token; MemoData carries the
// request text.
type StreamPayment struct {
	Sender   string  `json:"sender"`
	MemoType string  `json:"memo_type"`
	MemoData string  `json:"memo_data"`
	Amount   float64 `json:"amount"`
	TxHash   string  `json:"tx_hash"`
}

// streamMessage is the stream envelope. Non-payment messages (subscription
// acks, ledger close notices) are ignored.
type streamMessage struct {
	Type    string         `json:"type"`
	Payment *StreamPayment `json:"payment,omitempty"`
}

// PaymentHandler consumes one observed payment. Errors are logged, not
// fatal: the pipeline's own dedup and recovery make redelivery safe.
type PaymentHandler func(ctx context.Context, p StreamPayment) error

// Watcher maintains the stream subscription and dispatches payments.
type Watcher struct {
	// URL is the gateway websocket endpoint.
	URL string
	// Account scopes the subscription to the node account.
	Account string
	// Handler receives each payment.
	Handler PaymentHandler
	// ReconnectBase is the initial reconnect delay; doubled per consecutive
	// failure up to ReconnectMax.
	ReconnectBase time.Duration
	ReconnectMax  time.Duration

	Log zerolog.Logger
}

// Run connects, subscribes, and dispatches until ctx is canceled. Dropped
// connections are re-established with exponential delay; the subscription
// is re-sent on every connect.
func (w *Watcher) Run(ctx context.Context) {
	base := w.ReconnectBase
	if base <= 0 {
		base = time.Second
	}
	max := w.ReconnectMax
	if max <= 0 {
		max = time.Minute
	}

	delay := base
	for {
		if err := w.runOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			w.Log.Warn().Err(err).Dur("retry_in", delay).Msg("ledger stream disconnected")
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > max {
			delay = max
		}
	}
}

// runOnce holds a single connection until it fails or ctx ends.
func (w *Watcher) runOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	conn, _, err := websocket.Dial(dialCtx, w.URL, nil)
	cancel()
	if err != nil {
		return err
	}
	defer conn.Close(websocket.StatusNormalClosure, "shutting down")

	sub := map[string]any{"command": "subscribe", "account": w.Account}
	if err := wsjson.Write(ctx, conn, sub); err != nil {
		return err
	}
	w.Log.Info().Str("account", w.Account).Msg("ledger stream subscribed")

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		var msg streamMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			w.Log.Warn().Err(err).Msg("ledger stream: bad message")
			continue
		}
		if msg.Type != "payment" || msg.Payment == nil {
			continue
		}
		if err := w.Handler(ctx, *msg.Payment); err != nil {
			w.Log.Warn().Err(err).
				Str("sender", msg.Payment.Sender).
				Str("memo_type", msg.Payment.MemoType).
				Msg("ledger stream: payment not ingested")
		}
	}
}
