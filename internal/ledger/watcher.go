package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
)

// Deposit is one inbound stablecoin transfer observed on the chain.
type Deposit struct {
	TxHash  string
	To      string
	Asset   string
	Amount  decimal.Decimal
	Block   int64
	SeenAt  time.Time
}

// DepositHandler consumes confirmed deposits. Errors are logged by the
// watcher; they never stop the stream.
type DepositHandler func(ctx context.Context, dep Deposit) error

// Watcher subscribes to the executor's transfer stream and forwards
// deposits into custody addresses. It reconnects with a short backoff on
// any failure.
type Watcher struct {
	Endpoint string
	Asset    string
	Handler  DepositHandler
	Logger   *log.Logger
}

func (w *Watcher) Run(ctx context.Context) {
	if w.Endpoint == "" {
		w.logf("deposit watcher disabled: ws endpoint is empty")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		conn, err := w.connect(ctx)
		if err != nil {
			w.logf("deposit ws connect failed: %v", err)
			w.sleep(ctx, 3*time.Second)
			continue
		}
		w.logf("deposit ws connected %s", w.Endpoint)

		w.readLoop(ctx, conn)
		_ = conn.Close()
		w.sleep(ctx, 2*time.Second)
	}
}

func (w *Watcher) connect(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, w.Endpoint, nil)
	if err != nil {
		return nil, err
	}
	sub := map[string]any{
		"op":    "subscribe",
		"topic": "transfers",
		"asset": w.Asset,
	}
	if err := conn.WriteJSON(sub); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (w *Watcher) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, msg, err := conn.ReadMessage()
		if err != nil {
			w.logf("deposit ws read failed: %v", err)
			return
		}

		dep, ok, err := parseDeposit(msg)
		if err != nil {
			w.logf("deposit ws parse failed: %v", err)
			continue
		}
		if !ok {
			continue
		}
		if w.Asset != "" && dep.Asset != w.Asset {
			continue
		}
		if err := w.Handler(ctx, dep); err != nil {
			w.logf("deposit handler failed tx=%s: %v", dep.TxHash, err)
		}
	}
}

func parseDeposit(msg []byte) (Deposit, bool, error) {
	var env struct {
		Topic string `json:"topic"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
		Data struct {
			TxHash string      `json:"txHash"`
			To     string      `json:"to"`
			Asset  string      `json:"asset"`
			Amount json.Number `json:"amount"`
			Block  int64       `json:"block"`
		} `json:"data"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		return Deposit{}, false, err
	}
	if env.Error != nil {
		return Deposit{}, false, errors.New(env.Error.Message)
	}
	if env.Topic != "transfers" || env.Data.TxHash == "" {
		return Deposit{}, false, nil
	}
	amount, err := decimal.NewFromString(env.Data.Amount.String())
	if err != nil {
		return Deposit{}, false, err
	}
	return Deposit{
		TxHash: env.Data.TxHash,
		To:     env.Data.To,
		Asset:  env.Data.Asset,
		Amount: amount,
		Block:  env.Data.Block,
		SeenAt: time.Now().UTC(),
	}, true, nil
}

func (w *Watcher) sleep(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func (w *Watcher) logf(format string, args ...any) {
	if w.Logger != nil {
		w.Logger.Printf(format, args...)
		return
	}
	log.Printf(format, args...)
}
