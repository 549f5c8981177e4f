package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/tradeledger/internal/domain"
)

type captureSender struct {
	name   string
	err    error
	titles []string
}

func (c *captureSender) Send(_ context.Context, title, _ string) error {
	c.titles = append(c.titles, title)
	return c.err
}

func (c *captureSender) Name() string { return c.name }

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestNotifier_FiltersEvents(t *testing.T) {
	s := &captureSender{name: "capture"}
	n := NewNotifier([]Sender{s}, []string{EventLossLimitHit}, discard())
	ctx := context.Background()

	require.NoError(t, n.ReconcileFailed(ctx, "acct-1", "orders", errors.New("boom")))
	assert.Empty(t, s.titles)

	require.NoError(t, n.LossLimitHit(ctx, domain.DailyStat{TenantID: "acct-1", Date: "2026-01-14"}))
	assert.Equal(t, []string{"Daily loss limit hit: acct-1"}, s.titles)

	require.NoError(t, n.NotifyAll(ctx, "direct", ""))
	assert.Len(t, s.titles, 2)
}

func TestNotifier_OneFailingSenderDoesNotStopOthers(t *testing.T) {
	bad := &captureSender{name: "bad", err: errors.New("down")}
	good := &captureSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, discard())

	err := n.NotifyAll(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")
	assert.Len(t, good.titles, 1)
}

func TestNotifier_NoSendersIsNoop(t *testing.T) {
	var n *Notifier
	assert.False(t, n.Enabled())
	assert.NoError(t, n.Notify(context.Background(), EventLossLimitHit, "t", "m"))
}

func TestTelegramSender_PostsMessage(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/bottoken/sendMessage"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender("token", "42").WithBaseURL(srv.URL)
	require.NoError(t, s.Send(context.Background(), "Title", "body"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Title*\nbody", got["text"])
}

func TestDiscordSender_ReportsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
}

func TestTelegramSender_EscapesMarkdown(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	s := NewTelegramSender("token", "42").WithBaseURL(srv.URL + "/")
	require.NoError(t, s.Send(context.Background(), "acct_1", "NFO|NIFTY_FUT"))
	assert.Equal(t, "*acct\\_1*\nNFO|NIFTY\\_FUT", got["text"])
}

func TestDiscordSender_PostsEmbed(t *testing.T) {
	var got discordMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	require.NoError(t, NewDiscordSender(srv.URL).Send(context.Background(), "Daily loss limit hit: acct-1", "body"))
	assert.Equal(t, "tradeledger", got.Username)
	require.Len(t, got.Embeds, 1)
	assert.Equal(t, "Daily loss limit hit: acct-1", got.Embeds[0].Title)
	assert.Equal(t, "body", got.Embeds[0].Description)
}
