package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/wagerwars/internal/domain"
)

type fakeSender struct {
	name string
	err  error

	mu     sync.Mutex
	titles []string
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.titles = append(f.titles, title)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func (f *fakeSender) sent() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.titles...)
}

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifyFilters(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{domain.EventMarketResolved, " "}, 0, discard())

	require.NoError(t, n.Notify(context.Background(), domain.EventTradeExecuted, "trade", ""))
	require.NoError(t, n.Notify(context.Background(), domain.EventMarketResolved, "resolved", ""))
	assert.Equal(t, []string{"resolved"}, s.sent())
}

func TestNotifyCollectsSenderErrors(t *testing.T) {
	good := &fakeSender{name: "good"}
	bad := &fakeSender{name: "bad", err: errors.New("boom")}
	n := NewNotifier([]Sender{bad, good}, nil, 0, discard())

	err := n.Notify(context.Background(), "any", "title", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: boom")
	assert.Equal(t, []string{"title"}, good.sent())
}

func TestHandleEventQueuesAndDelivers(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, 1, discard())
	ctx := context.Background()

	n.HandleEvent(ctx, domain.Event{Type: domain.EventMarketCreated, MarketID: 1})
	n.HandleEvent(ctx, domain.Event{Type: domain.EventMarketCreated, MarketID: 2}) // queue full

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- n.Run(runCtx) }()

	require.Eventually(t, func() bool { return len(s.sent()) == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, []string{"Market #1 created"}, s.sent())
}

func TestFlush(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, 4, discard())
	ctx := context.Background()

	n.HandleEvent(ctx, domain.Event{Type: domain.EventMarketResolved, MarketID: 7})
	n.HandleEvent(ctx, domain.Event{Type: domain.EventMarketCancelled, MarketID: 8})
	n.Flush(ctx)

	assert.Equal(t, []string{"Market #7 resolved", "Market #8 cancelled"}, s.sent())
	assert.Empty(t, n.queue)
}

func TestHandleEventWithoutSenders(t *testing.T) {
	n := NewNotifier(nil, nil, 1, discard())
	assert.False(t, n.Enabled())
	n.HandleEvent(context.Background(), domain.Event{Type: domain.EventMarketCreated})
	assert.Empty(t, n.queue)
}

func TestDescribe(t *testing.T) {
	title, body := Describe(domain.Event{
		Type:     domain.EventTradeExecuted,
		MarketID: 3,
		User:     "0xabc",
		Height:   10,
		Detail: map[string]any{
			"trade_id": "t-1",
			"side":     "buy",
			"outcome":  0,
			"shares":   int64(104_931_190),
			"amount":   int64(100_000_000),
		},
	})
	assert.Equal(t, "Trade on market #3", title)
	assert.Equal(t, "account: 0xabc\nside: buy\noutcome: 0\nshares: 104.93119\namount: 100\nheight: 10", body)

	title, body = Describe(domain.Event{Type: domain.EventHeightAdvanced, Height: 5})
	assert.Equal(t, "height advanced", title)
	assert.Equal(t, "height: 5", body)
}

func TestDiscordSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	d := NewDiscordSender(srv.URL, srv.Client())
	require.NoError(t, d.Send(context.Background(), "Title", "body"))
	assert.Equal(t, "**Title**\nbody", got["content"])
	assert.Equal(t, "discord", d.Name())
}

func TestTelegramSender(t *testing.T) {
	var (
		path string
		got  map[string]string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		if got["chat_id"] == "bad" {
			http.Error(w, "chat not found", http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL+"/", "tok123", "42", srv.Client())
	require.NoError(t, s.Send(context.Background(), "Title", "body"))
	assert.Equal(t, "/bottok123/sendMessage", path)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Title*\nbody", got["text"])

	bad := NewTelegramSender(srv.URL, "tok123", "bad", srv.Client())
	err := bad.Send(context.Background(), "Title", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status 400")
}

func TestRedact(t *testing.T) {
	err := redact(errors.New(`Post "https://x/botsecret/sendMessage": refused`), "secret")
	assert.Equal(t, `Post "https://x/bot***/sendMessage": refused`, err.Error())
}
