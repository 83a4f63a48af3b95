package client

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-go-golems/sqlchat/pkg/backendtest"
	"github.com/go-go-golems/sqlchat/pkg/config"
	"github.com/go-go-golems/sqlchat/pkg/conversation"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, baseURL string, opts ...Option) *Client {
	t.Helper()
	s := config.Defaults()
	s.BaseURL = baseURL
	s.Timeout = 5 * time.Second
	c, err := New(s, append([]Option{WithLogger(zerolog.Nop())}, opts...)...)
	require.NoError(t, err)
	return c
}

func TestClient_ConversationRoundTrip(t *testing.T) {
	srv := backendtest.Start(t)
	c := newTestClient(t, srv.URL)
	ctx := context.Background()

	health, err := c.CheckHealth(ctx)
	require.NoError(t, err)
	require.Equal(t, "Test endpoint is working!", health.Message)

	conv, err := c.CreateConversation(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, conv.ID)
	require.Empty(t, conv.Messages)

	updated, err := c.SendMessage(ctx, conv.ID, "How many customers do we have?")
	require.NoError(t, err)
	require.Equal(t, conv.ID, updated.ID)
	require.Equal(t, []conversation.Message{
		{Role: conversation.RoleUser, Content: "How many customers do we have?"},
		{Role: conversation.RoleAssistant, Content: "You asked: How many customers do we have?"},
	}, updated.Messages)

	fetched, err := c.GetConversation(ctx, conv.ID)
	require.NoError(t, err)
	require.Equal(t, updated.Messages, fetched.Messages)
}

func TestClient_RequestShapes(t *testing.T) {
	srv := backendtest.Start(t)
	c := newTestClient(t, srv.URL+"/")
	ctx := context.Background()

	conv, err := c.CreateConversation(ctx)
	require.NoError(t, err)
	_, err = c.SendMessage(ctx, conv.ID, "hello")
	require.NoError(t, err)
	_, err = c.RunQuery(ctx, "SELECT 1", nil)
	require.NoError(t, err)

	reqs := srv.Requests()
	require.Len(t, reqs, 3)

	require.Equal(t, http.MethodPost, reqs[0].Method)
	require.Equal(t, "/conversation", reqs[0].Path)
	require.Empty(t, reqs[0].Body)

	require.Equal(t, http.MethodPost, reqs[1].Method)
	require.Equal(t, "/conversation/"+conv.ID, reqs[1].Path)
	require.JSONEq(t, `{"message":"hello"}`, string(reqs[1].Body))

	require.Equal(t, "/sql/query", reqs[2].Path)
	require.JSONEq(t, `{"query":"SELECT 1","params":[]}`, string(reqs[2].Body))

	for _, r := range reqs {
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NotEmpty(t, r.Header.Get(RequestIDHeader))
	}
	require.NotEqual(t, reqs[0].Header.Get(RequestIDHeader), reqs[1].Header.Get(RequestIDHeader))
}

func TestClient_CustomHeader(t *testing.T) {
	srv := backendtest.Start(t)
	c := newTestClient(t, srv.URL, WithHeader("User-Agent", "sqlchat/test"))

	_, err := c.CheckHealth(context.Background())
	require.NoError(t, err)
	require.Equal(t, "sqlchat/test", srv.Requests()[0].Header.Get("User-Agent"))
}

func TestClient_HealthAcceptsAnyBody(t *testing.T) {
	cases := []struct {
		body    string
		message string
		raw     string
	}{
		{body: "OK", raw: "OK"},
		{body: `"ok"`, message: "ok"},
		{body: "[]", raw: "[]"},
		{body: ""},
		{body: "  up and running\n", raw: "up and running"},
		{body: `{"message":"fine","version":3}`, message: "fine"},
	}
	for _, tc := range cases {
		t.Run(tc.body, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "text/plain")
				_, _ = w.Write([]byte(tc.body))
			}))
			t.Cleanup(srv.Close)

			h, err := newTestClient(t, srv.URL).CheckHealth(context.Background())
			require.NoError(t, err)
			require.Equal(t, tc.message, h.Message)
			require.Equal(t, tc.raw, h.Body)
		})
	}
}

func TestClient_HealthNoContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	t.Cleanup(srv.Close)

	h, err := newTestClient(t, srv.URL).CheckHealth(context.Background())
	require.NoError(t, err)
	require.Empty(t, h.Message)
	require.Nil(t, h.Raw)
}

func TestClient_RunQuery(t *testing.T) {
	srv := backendtest.Start(t, backendtest.WithQueryResults([]map[string]any{
		{"region": "EU", "total": 12},
		{"region": "US", "total": 30},
	}))
	c := newTestClient(t, srv.URL)

	res, err := c.RunQuery(context.Background(), "SELECT region, total FROM sales WHERE year = ?", []any{"2024"})
	require.NoError(t, err)
	require.Len(t, res.Rows, 2)
	require.Equal(t, []string{"region", "total"}, res.Columns())
	require.JSONEq(t,
		`{"query":"SELECT region, total FROM sales WHERE year = ?","params":["2024"]}`,
		string(srv.Requests()[0].Body))
}

func TestClient_RunQueryBackendMessage(t *testing.T) {
	srv := backendtest.Start(t, backendtest.WithQueryResults("SQL query failed: bad syntax"))
	c := newTestClient(t, srv.URL)

	res, err := c.RunQuery(context.Background(), "SELEC", nil)
	require.NoError(t, err)
	require.Equal(t, "SQL query failed: bad syntax", res.Message)
	require.Empty(t, res.Rows)
}

func TestClient_NotFoundIsAPIError(t *testing.T) {
	srv := backendtest.Start(t)
	c := newTestClient(t, srv.URL)

	_, err := c.GetConversation(context.Background(), "needs escape")
	require.Error(t, err)
	require.True(t, IsNotFound(err))

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, "Conversation not found", apiErr.Message)
	require.Equal(t, "get conversation", apiErr.Operation)
	require.Equal(t, "/conversation/needs%20escape", srv.Requests()[0].Path)
}

func TestClient_ServerErrorKeepsBackendMessage(t *testing.T) {
	srv := backendtest.Start(t)
	srv.SetSendStatus(http.StatusInternalServerError)
	c := newTestClient(t, srv.URL)

	conv, err := c.CreateConversation(context.Background())
	require.NoError(t, err)
	_, err = c.SendMessage(context.Background(), conv.ID, "hi")
	require.Error(t, err)

	apiErr, ok := AsAPIError(err)
	require.True(t, ok)
	require.Equal(t, http.StatusInternalServerError, apiErr.StatusCode)
	require.Contains(t, apiErr.Message, "model unavailable")
	require.False(t, IsNotFound(err))
}

func TestClient_MissingConversationField(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"message": "ok"})
	}))
	t.Cleanup(srv.Close)
	c := newTestClient(t, srv.URL)

	_, err := c.CreateConversation(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "no conversation field")
}

func TestClient_EmptyIDRejectedWithoutRequest(t *testing.T) {
	srv := backendtest.Start(t)
	c := newTestClient(t, srv.URL)

	_, err := c.SendMessage(context.Background(), "  ", "hi")
	require.Error(t, err)
	require.Empty(t, srv.Requests())
}

func TestClient_TransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestClient(t, url)
	_, err := c.CheckHealth(context.Background())
	require.Error(t, err)
	_, isAPI := AsAPIError(err)
	require.False(t, isAPI)
}

func TestClient_ContextCancellationAbortsRequest(t *testing.T) {
	srv := backendtest.Start(t)
	release := srv.HoldSends()
	t.Cleanup(release)
	c := newTestClient(t, srv.URL)

	conv, err := c.CreateConversation(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.SendMessage(ctx, conv.ID, "slow question")
		done <- err
	}()
	require.Eventually(t, func() bool {
		return srv.CountRequests(http.MethodPost, "/conversation/"+conv.ID) == 1
	}, 2*time.Second, 10*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("send was not aborted by cancellation")
	}
}

func TestClient_DevelopmentModeLogsRequests(t *testing.T) {
	srv := backendtest.Start(t)
	var buf bytes.Buffer
	s := config.Defaults()
	s.BaseURL = srv.URL
	s.Development = true
	c, err := New(s, WithLogger(zerolog.New(&buf)))
	require.NoError(t, err)

	_, err = c.CheckHealth(context.Background())
	require.NoError(t, err)

	out := buf.String()
	require.Contains(t, out, `"message":"API Request"`)
	require.Contains(t, out, `"method":"GET"`)
	require.Contains(t, out, `"url":"`+srv.URL+`/test"`)
}

func TestClient_QuietOutsideDevelopment(t *testing.T) {
	srv := backendtest.Start(t)
	var buf bytes.Buffer
	c := newTestClient(t, srv.URL, WithLogger(zerolog.New(&buf)))

	_, err := c.CheckHealth(context.Background())
	require.NoError(t, err)
	require.NotContains(t, buf.String(), "API Request")
}

func TestNew_RejectsInvalidBaseURL(t *testing.T) {
	s := config.Defaults()
	s.BaseURL = "not a url"
	_, err := New(s)
	require.Error(t, err)
}
