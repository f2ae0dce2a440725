package stream

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	chatservice "github.com/zhouzirui/ragchat/backend/internal/service/chat"
)

type answerFunc func(ctx context.Context, prompt string) (string, error)

func (f answerFunc) Answer(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

func setup(t *testing.T) (*httptest.Server, *chatservice.Service) {
	t.Helper()
	return setupWith(t, chatservice.Config{}, time.Hour)
}

func setupWith(t *testing.T, cfg chatservice.Config, heartbeat time.Duration) (*httptest.Server, *chatservice.Service) {
	t.Helper()

	chatSvc := chatservice.NewService(
		func(context.Context, string) (chatservice.Answerer, error) {
			return answerFunc(func(_ context.Context, prompt string) (string, error) {
				return "<p>" + prompt + "</p>", nil
			}), nil
		},
		nil,
		cfg,
	)

	r := chi.NewRouter()
	New(chatSvc, heartbeat).RegisterRoutes(r)
	server := httptest.NewServer(r)
	t.Cleanup(func() {
		chatSvc.Close()
		server.Close()
	})
	return server, chatSvc
}

// readEvents collects "event:" names until n have been seen.
func readEvents(t *testing.T, scanner *bufio.Scanner, n int) []string {
	t.Helper()

	var names []string
	for len(names) < n && scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "event: ") {
			names = append(names, strings.TrimPrefix(line, "event: "))
		}
	}
	require.Len(t, names, n, "stream ended early: %v", scanner.Err())
	return names
}

func TestEventsStreamsConversationChanges(t *testing.T) {
	server, chatSvc := setup(t)
	ctx := context.Background()

	session, err := chatSvc.CreateSession(ctx, "http://rag.internal")
	require.NoError(t, err)
	conv, err := chatSvc.OpenChat(ctx, session.ID)
	require.NoError(t, err)

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, server.URL+"/sessions/"+session.ID+"/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	scanner := bufio.NewScanner(resp.Body)
	assert.Equal(t, []string{"snapshot"}, readEvents(t, scanner, 1))

	_, err = conv.Submit("hello")
	require.NoError(t, err)

	assert.Equal(t, []string{"message", "state", "message", "state"}, readEvents(t, scanner, 4))

	require.NoError(t, chatSvc.CloseChat(ctx, session.ID))
	assert.Equal(t, []string{"closed"}, readEvents(t, scanner, 1))
}

func TestEventsRequiresOpenChat(t *testing.T) {
	server, chatSvc := setup(t)

	session, err := chatSvc.CreateSession(context.Background(), "http://rag.internal")
	require.NoError(t, err)

	resp, err := http.Get(server.URL + "/sessions/" + session.ID + "/events")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp2, err := http.Get(server.URL + "/sessions/missing/events")
	require.NoError(t, err)
	defer resp2.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp2.StatusCode)
}

type manualClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// readHeartbeat skips to the next unnamed heartbeat data frame.
func readHeartbeat(t *testing.T, scanner *bufio.Scanner) string {
	t.Helper()

	for scanner.Scan() {
		line := scanner.Text()
		if strings.HasPrefix(line, "data: ") && strings.Contains(line, `"event":"heartbeat"`) {
			return line
		}
	}
	t.Fatalf("stream ended before a heartbeat: %v", scanner.Err())
	return ""
}

func TestEventsHeartbeatKeepsSessionAlive(t *testing.T) {
	clock := &manualClock{now: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)}
	server, chatSvc := setupWith(t, chatservice.Config{IdleTimeout: time.Hour, Now: clock.Now}, 20*time.Millisecond)
	ctx := context.Background()

	session, err := chatSvc.CreateSession(ctx, "http://rag.internal")
	require.NoError(t, err)
	conv, err := chatSvc.OpenChat(ctx, session.ID)
	require.NoError(t, err)

	reqCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, server.URL+"/sessions/"+session.ID+"/events", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	assert.Equal(t, []string{"snapshot"}, readEvents(t, scanner, 1))

	clock.Advance(50 * time.Minute)
	readHeartbeat(t, scanner)
	line := readHeartbeat(t, scanner)
	assert.Contains(t, line, `"time":`)

	assert.Equal(t, 0, chatSvc.SweepIdle(clock.Now().Add(3*time.Hour)))

	cancel()
	assert.Eventually(t, func() bool { return !conv.Busy() }, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 0, chatSvc.SweepIdle(clock.Now().Add(30*time.Minute)))
	assert.False(t, conv.Closed())
	assert.Equal(t, 1, chatSvc.SweepIdle(clock.Now().Add(2*time.Hour)))
}
