package broadcast

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"quantbt/backtest"
)

var notice = backtest.TradeNotice{
	Symbol: "sh600519",
	Side:   backtest.SideLong,
	Action: backtest.SignalBuy,
	Price:  1688.1 + 1e-12,
	Volume: 5.9,
	Time:   time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC),
}

func TestFromNoticeRoundsPrice(t *testing.T) {
	s := FromNotice(notice)
	if s.Price.String() != "1688.1" || s.Volume.String() != "5.9" {
		t.Fatalf("unexpected decimals: %s %s", s.Price, s.Volume)
	}
	if s.Side != "long" || s.Action != "buy" {
		t.Fatalf("unexpected labels: %+v", s)
	}
}

func TestHubDeliversToClients(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	hub := NewHub(zerolog.Nop())
	go hub.Run(ctx)

	srv := httptest.NewServer(hub)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for hub.Clients() != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("client never registered")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if !hub.Notify(ctx, notice) {
		t.Fatalf("notify should queue")
	}
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var got map[string]any
	if err := json.Unmarshal(msg, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["symbol"] != "sh600519" || got["action"] != "buy" || got["price"] != "1688.1" {
		t.Fatalf("unexpected payload: %s", msg)
	}
}

func TestHubQueueFull(t *testing.T) {
	hub := NewHub(zerolog.Nop())
	for i := 0; i < queueSize; i++ {
		if !hub.Broadcast([]byte("x")) {
			t.Fatalf("queue filled early at %d", i)
		}
	}
	if hub.Notify(context.Background(), notice) {
		t.Fatalf("a full queue must report failure")
	}
}

func TestWebhookNotifier(t *testing.T) {
	var got Signal
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("Content-Type") != "application/json" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		b, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(b, &got); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second, zerolog.Nop())
	if !n.Notify(context.Background(), notice) {
		t.Fatalf("expected delivery")
	}
	if got.Symbol != "sh600519" || !got.Timestamp.Equal(notice.Time) {
		t.Fatalf("unexpected body: %+v", got)
	}
}

func TestWebhookNotifierFailureIsNotFatal(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, time.Second, zerolog.Nop())
	if n.Notify(context.Background(), notice) {
		t.Fatalf("expected failure on 500")
	}
}

type countingNotifier struct {
	calls atomic.Int32
	ok    bool
}

func (c *countingNotifier) Notify(context.Context, backtest.TradeNotice) bool {
	c.calls.Add(1)
	return c.ok
}

func TestMultiFansOut(t *testing.T) {
	a, b := &countingNotifier{ok: true}, &countingNotifier{ok: false}
	if (Multi{a, b, nil}).Notify(context.Background(), notice) {
		t.Fatalf("one failed delivery should report false")
	}
	if a.calls.Load() != 1 || b.calls.Load() != 1 {
		t.Fatalf("every notifier must be called")
	}
	if !(Multi{a, Nop{}}).Notify(context.Background(), notice) {
		t.Fatalf("expected success")
	}
}
