package notify

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBarkSend(t *testing.T) {
	var got struct {
		method, path, title, body, group string
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		got.method, got.path = r.Method, r.URL.Path
		got.title, got.body, got.group = q.Get("title"), q.Get("body"), q.Get("group")
	}))
	defer srv.Close()

	n, err := NewBarkNotifier(srv.URL + "/device-key/")
	require.NoError(t, err)
	require.NoError(t, n.Send(context.Background(), "sync-cycle RolledBack", "chat client still running"))

	assert.Equal(t, http.MethodPost, got.method)
	assert.Equal(t, "/device-key", got.path)
	assert.Equal(t, "sync-cycle RolledBack", got.title)
	assert.Equal(t, "chat client still running", got.body)
	assert.Equal(t, "syncwarden", got.group)
}

func TestBarkErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	n, err := NewBarkNotifier(srv.URL)
	require.NoError(t, err)
	assert.ErrorContains(t, n.Send(context.Background(), "t", "b"), "400")

	_, err = NewBarkNotifier("  ")
	assert.Error(t, err)
}

type countingNotifier struct {
	mu    sync.Mutex
	calls int
	err   error
}

func (c *countingNotifier) Send(context.Context, string, string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	return c.err
}

func TestMultiNotifierDeliversToAll(t *testing.T) {
	failing := &countingNotifier{err: errors.New("offline")}
	ok := &countingNotifier{}
	m := NewMultiNotifier(failing, ok, NewLogNotifier(slog.New(slog.NewTextHandler(io.Discard, nil))))

	err := m.Send(context.Background(), "t", "b")
	assert.ErrorContains(t, err, "offline")
	assert.Equal(t, 1, failing.calls)
	assert.Equal(t, 1, ok.calls)
}

func TestRateLimitedDropsBurst(t *testing.T) {
	next := &countingNotifier{}
	r := NewRateLimited(next, time.Hour, 2, slog.New(slog.NewTextHandler(io.Discard, nil)))
	for range 5 {
		require.NoError(t, r.Send(context.Background(), "t", "b"))
	}
	assert.Equal(t, 2, next.calls)
}

func TestNewLogsAndSendsToBark(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	n, err := New(logger, srv.URL+"/key", time.Hour, 1)
	require.NoError(t, err)

	require.NoError(t, n.Send(context.Background(), "sync-cycle failure", "outcome: failure"))
	require.NoError(t, n.Send(context.Background(), "sync-cycle failure", "outcome: failure"))

	assert.Equal(t, int32(1), hits.Load(), "bark is throttled")
	assert.Equal(t, 2, strings.Count(logs.String(), "msg=notification"), "the log sees every message")
}

func TestNewWithoutBarkOnlyLogs(t *testing.T) {
	var logs bytes.Buffer
	n, err := New(slog.New(slog.NewTextHandler(&logs, nil)), "", time.Hour, 1)
	require.NoError(t, err)
	require.NoError(t, n.Send(context.Background(), "title", "body"))
	assert.Contains(t, logs.String(), "title=title")
}
