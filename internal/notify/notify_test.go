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
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abdigaliarsen/deriverse-insights/internal/domain"
)

type captureSender struct {
	mu     sync.Mutex
	titles []string
	err    error
}

func (c *captureSender) Send(_ context.Context, title, _ string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.titles = append(c.titles, title)
	return c.err
}

func (c *captureSender) Name() string { return "capture" }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func sampleRun(status string) domain.RunRecord {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	return domain.RunRecord{
		ID:         "run-1",
		Wallet:     "9xQeWvG816bUx9EPjHmaT23yvVM2ZWbrrpZb9PusVFin",
		Status:     status,
		Signatures: 40,
		Fetched:    38,
		Dropped:    2,
		Decoded:    20,
		Trades:     7,
		StartedAt:  start,
		FinishedAt: start.Add(1500 * time.Millisecond),
	}
}

func TestFormatRun(t *testing.T) {
	event, title, msg := FormatRun(sampleRun(domain.RunCompleted))
	assert.Equal(t, EventRunCompleted, event)
	assert.Equal(t, "Trade history ready: 9xQe...VFin", title)
	assert.Contains(t, msg, "Trades: 7")
	assert.Contains(t, msg, "38 fetched, 2 dropped of 40")
	assert.Contains(t, msg, "Took: 1.5s")
	assert.NotContains(t, msg, "Error")

	failed := sampleRun(domain.RunFailed)
	failed.Error = "rpc down"
	event, title, msg = FormatRun(failed)
	assert.Equal(t, EventRunFailed, event)
	assert.True(t, strings.HasPrefix(title, "Reconstruction failed"))
	assert.Contains(t, msg, "Error: rpc down")

	event, _, _ = FormatRun(sampleRun(domain.RunCancelled))
	assert.Equal(t, EventRunCancelled, event)
}

func TestNotifier_FiltersEvents(t *testing.T) {
	s := &captureSender{}
	n := NewNotifier([]Sender{s}, []string{" run_failed "}, discardLogger())

	require.NoError(t, n.NotifyRun(context.Background(), sampleRun(domain.RunCompleted)))
	assert.Empty(t, s.titles)

	require.NoError(t, n.NotifyRun(context.Background(), sampleRun(domain.RunFailed)))
	assert.Len(t, s.titles, 1)
}

func TestNotifier_NoFilterPassesAll(t *testing.T) {
	s := &captureSender{}
	n := NewNotifier([]Sender{s}, nil, discardLogger())

	require.NoError(t, n.NotifyRun(context.Background(), sampleRun(domain.RunCompleted)))
	require.NoError(t, n.NotifyRun(context.Background(), sampleRun(domain.RunCancelled)))
	assert.Len(t, s.titles, 2)
}

func TestNotifier_CollectsSenderErrors(t *testing.T) {
	bad := &captureSender{err: errors.New("boom")}
	good := &captureSender{}
	n := NewNotifier([]Sender{bad, good}, nil, discardLogger())

	err := n.Notify(context.Background(), EventRunCompleted, "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capture: boom")
	assert.Len(t, good.titles, 1)
}

func TestTelegramSender_Send(t *testing.T) {
	var (
		gotPath string
		got     map[string]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL+"/", "TOKEN", "42")
	require.NoError(t, s.Send(context.Background(), "Title", "body"))
	assert.Equal(t, "/botTOKEN/sendMessage", gotPath)
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "*Title*\nbody", got["text"])
}

func TestDiscordSender_Send(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	s := NewDiscordSender(srv.URL, "insights")
	require.NoError(t, s.Send(context.Background(), "Title", strings.Repeat("x", 3000)))
	assert.Equal(t, "insights", got["username"])
	assert.Len(t, got["content"], discordLimit)
	assert.True(t, strings.HasPrefix(got["content"], "**Title**\n"))
}

func TestDiscordSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "bad webhook", http.StatusNotFound)
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL, "").Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord: unexpected status 404")
	assert.Contains(t, err.Error(), "bad webhook")
}
