package chat

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/go-go-golems/sqlchat/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeAPI struct {
	mu sync.Mutex

	healthErr error
	createErr error
	sendErr   error
	initial   []conversation.Message
	// reply overrides the default echo behavior of SendMessage.
	reply func(ctx context.Context, id, text string) (*conversation.Conversation, error)

	healthCalls int
	createCalls int
	sendCalls   int
	history     []conversation.Message
}

func (f *fakeAPI) CheckHealth(ctx context.Context) (*conversation.HealthStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.healthCalls++
	if f.healthErr != nil {
		return nil, f.healthErr
	}
	return &conversation.HealthStatus{Message: "ok"}, nil
}

func (f *fakeAPI) CreateConversation(ctx context.Context) (*conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.createCalls++
	if f.createErr != nil {
		return nil, f.createErr
	}
	f.history = conversation.CloneMessages(f.initial)
	return &conversation.Conversation{ID: "conv-1", Messages: conversation.CloneMessages(f.history)}, nil
}

func (f *fakeAPI) GetConversation(ctx context.Context, id string) (*conversation.Conversation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &conversation.Conversation{ID: id, Messages: conversation.CloneMessages(f.history)}, nil
}

func (f *fakeAPI) SendMessage(ctx context.Context, id, text string) (*conversation.Conversation, error) {
	f.mu.Lock()
	f.sendCalls++
	reply, sendErr := f.reply, f.sendErr
	f.mu.Unlock()
	if reply != nil {
		return reply(ctx, id, text)
	}
	if sendErr != nil {
		return nil, sendErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = append(f.history,
		conversation.Message{Role: conversation.RoleUser, Content: text},
		conversation.Message{Role: conversation.RoleAssistant, Content: "answer to " + text},
	)
	return &conversation.Conversation{ID: id, Messages: conversation.CloneMessages(f.history)}, nil
}

func (f *fakeAPI) RunQuery(ctx context.Context, query string, params []any) (*conversation.QueryResults, error) {
	return &conversation.QueryResults{}, nil
}

func (f *fakeAPI) calls() (health, create, send int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthCalls, f.createCalls, f.sendCalls
}

func newTestSession(t *testing.T, api *fakeAPI) *Session {
	t.Helper()
	s := NewSession(context.Background(), api, WithBaseURL("http://localhost:4000"), WithLogger(zerolog.Nop()))
	t.Cleanup(s.Close)
	return s
}

func TestSession_StartsConnecting(t *testing.T) {
	s := newTestSession(t, &fakeAPI{})
	require.Equal(t, StatusConnecting, s.Status())
	require.False(t, s.CanSend())
	require.Empty(t, s.Messages())
}

func TestSession_InitializeWithEmptyHistory(t *testing.T) {
	api := &fakeAPI{}
	s := newTestSession(t, api)

	require.NoError(t, s.Initialize(context.Background()))
	require.Equal(t, StatusConnected, s.Status())
	require.Equal(t, "conv-1", s.ConversationID())
	require.Empty(t, s.Messages())
	require.Empty(t, s.Error())
	require.True(t, s.CanSend())

	health, create, _ := api.calls()
	require.Equal(t, 1, health)
	require.Equal(t, 1, create)
}

func TestSession_InitializeKeepsExistingHistory(t *testing.T) {
	api := &fakeAPI{initial: []conversation.Message{{Role: conversation.RoleAssistant, Content: "hello"}}}
	s := newTestSession(t, api)

	require.NoError(t, s.Initialize(context.Background()))
	require.Equal(t, api.initial, s.Messages())
}

func TestSession_HealthFailureSkipsConversationCreation(t *testing.T) {
	api := &fakeAPI{healthErr: errors.New("connection refused")}
	s := newTestSession(t, api)

	require.Error(t, s.Initialize(context.Background()))
	require.Equal(t, StatusError, s.Status())
	require.Equal(t, ConnectErrorMessage("http://localhost:4000"), s.Error())
	require.False(t, s.CanSend())

	_, create, _ := api.calls()
	require.Equal(t, 0, create)
}

func TestSession_CreateFailureIsConnectionError(t *testing.T) {
	api := &fakeAPI{createErr: errors.New("boom")}
	s := newTestSession(t, api)

	require.Error(t, s.Initialize(context.Background()))
	require.Equal(t, StatusError, s.Status())
	require.Empty(t, s.ConversationID())
}

func TestSession_RetryAfterFailure(t *testing.T) {
	api := &fakeAPI{healthErr: errors.New("down")}
	s := newTestSession(t, api)
	require.Error(t, s.Initialize(context.Background()))

	req := s.BeginInitialize()
	require.Equal(t, StatusConnecting, s.Status())
	require.Empty(t, s.Error())

	api.mu.Lock()
	api.healthErr = nil
	api.mu.Unlock()

	require.True(t, s.CompleteInitialize(req.Run(context.Background())))
	require.Equal(t, StatusConnected, s.Status())
}

func TestSession_StaleInitializationIsDropped(t *testing.T) {
	api := &fakeAPI{}
	s := newTestSession(t, api)

	first := s.BeginInitialize()
	second := s.BeginInitialize()

	firstRes := InitResult{gen: first.gen, Err: errors.New("late failure")}
	require.False(t, s.CompleteInitialize(firstRes))
	require.Equal(t, StatusConnecting, s.Status())

	require.True(t, s.CompleteInitialize(second.Run(context.Background())))
	require.Equal(t, StatusConnected, s.Status())
}

func TestSession_SendReplacesWithServerSnapshot(t *testing.T) {
	api := &fakeAPI{}
	s := newTestSession(t, api)
	require.NoError(t, s.Initialize(context.Background()))

	for _, q := range []string{"How many customers do we have?", "Show me sales by region"} {
		require.NoError(t, s.Send(context.Background(), q))
		server, err := api.GetConversation(context.Background(), "conv-1")
		require.NoError(t, err)
		require.Equal(t, server.Messages, s.Messages())
		require.False(t, s.Loading())
	}
	require.Len(t, s.Messages(), 4)
}

func TestSession_SendTrustsServerEvenWhenItRewritesHistory(t *testing.T) {
	rewritten := []conversation.Message{{Role: conversation.RoleAssistant, Content: "history was compacted"}}
	api := &fakeAPI{reply: func(ctx context.Context, id, text string) (*conversation.Conversation, error) {
		return &conversation.Conversation{ID: id, Messages: rewritten}, nil
	}}
	s := newTestSession(t, api)
	require.NoError(t, s.Initialize(context.Background()))

	require.NoError(t, s.Send(context.Background(), "anything"))
	require.Equal(t, rewritten, s.Messages())
}

func TestSession_SendTrimsText(t *testing.T) {
	var got string
	api := &fakeAPI{reply: func(ctx context.Context, id, text string) (*conversation.Conversation, error) {
		got = text
		return &conversation.Conversation{ID: id}, nil
	}}
	s := newTestSession(t, api)
	require.NoError(t, s.Initialize(context.Background()))

	require.NoError(t, s.Send(context.Background(), "  spaced out \n"))
	require.Equal(t, "spaced out", got)
}

func TestSession_BlankTextIsRefused(t *testing.T) {
	api := &fakeAPI{}
	s := newTestSession(t, api)
	require.NoError(t, s.Initialize(context.Background()))

	_, ok := s.BeginSend("   ")
	require.False(t, ok)
	require.Empty(t, s.Error())
	_, _, send := api.calls()
	require.Equal(t, 0, send)
}

func TestSession_SendWithoutConversationIsLocalError(t *testing.T) {
	api := &fakeAPI{}
	s := newTestSession(t, api)

	err := s.Send(context.Background(), "hello?")
	require.Error(t, err)
	require.Equal(t, ErrNoConversation, s.Error())
	require.False(t, s.Loading())
	_, _, send := api.calls()
	require.Equal(t, 0, send)
}

func TestSession_SendRefusedWhileReconnecting(t *testing.T) {
	api := &fakeAPI{}
	s := newTestSession(t, api)
	require.NoError(t, s.Initialize(context.Background()))

	s.BeginInitialize()
	require.Equal(t, StatusConnecting, s.Status())
	require.Equal(t, "conv-1", s.ConversationID())

	_, ok := s.BeginSend("still there?")
	require.False(t, ok)
	require.Equal(t, ErrNoConversation, s.Error())
	require.False(t, s.Loading())
	_, _, send := api.calls()
	require.Equal(t, 0, send)
}

func TestSession_SendRefusedAfterConnectionErrorKeepsMessage(t *testing.T) {
	api := &fakeAPI{}
	s := newTestSession(t, api)
	require.NoError(t, s.Initialize(context.Background()))

	req := s.BeginInitialize()
	s.CompleteInitialize(InitResult{gen: req.gen, Err: errors.New("down")})
	require.Equal(t, StatusError, s.Status())

	_, ok := s.BeginSend("hello?")
	require.False(t, ok)
	require.Equal(t, ConnectErrorMessage("http://localhost:4000"), s.Error())
	_, _, send := api.calls()
	require.Equal(t, 0, send)
}

func TestSession_OnlyOneSendInFlight(t *testing.T) {
	api := &fakeAPI{}
	s := newTestSession(t, api)
	require.NoError(t, s.Initialize(context.Background()))

	req, ok := s.BeginSend("first")
	require.True(t, ok)
	require.True(t, s.Loading())
	require.False(t, s.CanSend())

	_, ok = s.BeginSend("second")
	require.False(t, ok)
	require.Empty(t, s.Error())

	s.CompleteSend(req.Run(context.Background()))
	require.False(t, s.Loading())
	_, _, send := api.calls()
	require.Equal(t, 1, send)
}

func TestSession_SendFailureKeepsMessages(t *testing.T) {
	api := &fakeAPI{}
	s := newTestSession(t, api)
	require.NoError(t, s.Initialize(context.Background()))
	require.NoError(t, s.Send(context.Background(), "first"))
	before := s.Messages()

	api.mu.Lock()
	api.sendErr = errors.New("500")
	api.mu.Unlock()

	require.Error(t, s.Send(context.Background(), "second"))
	require.Equal(t, before, s.Messages())
	require.Equal(t, ErrSendFailed, s.Error())
	require.Equal(t, StatusConnected, s.Status())
	require.False(t, s.Loading())
}

func TestSession_BeginSendClearsPreviousError(t *testing.T) {
	api := &fakeAPI{sendErr: errors.New("500")}
	s := newTestSession(t, api)
	require.NoError(t, s.Initialize(context.Background()))
	require.Error(t, s.Send(context.Background(), "x"))
	require.NotEmpty(t, s.Error())

	_, ok := s.BeginSend("y")
	require.True(t, ok)
	require.Empty(t, s.Error())
}

func TestSession_DismissErrorOnlyClearsError(t *testing.T) {
	api := &fakeAPI{}
	s := newTestSession(t, api)
	require.NoError(t, s.Initialize(context.Background()))
	require.NoError(t, s.Send(context.Background(), "first"))

	api.mu.Lock()
	api.sendErr = errors.New("500")
	api.mu.Unlock()
	require.Error(t, s.Send(context.Background(), "second"))

	before := s.Snapshot()
	s.DismissError()
	after := s.Snapshot()
	require.Empty(t, after.Error)
	require.Equal(t, before.Status, after.Status)
	require.Equal(t, before.Messages, after.Messages)
	require.Equal(t, before.ConversationID, after.ConversationID)
}

func TestSession_CloseAbortsInFlightSend(t *testing.T) {
	started := make(chan struct{})
	api := &fakeAPI{reply: func(ctx context.Context, id, text string) (*conversation.Conversation, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	}}
	s := NewSession(context.Background(), api, WithLogger(zerolog.Nop()))
	require.NoError(t, s.Initialize(context.Background()))

	req, ok := s.BeginSend("never answered")
	require.True(t, ok)

	done := make(chan SendResult, 1)
	go func() { done <- req.Run(s.Context()) }()
	<-started
	s.Close()

	select {
	case res := <-done:
		require.ErrorIs(t, res.Err, context.Canceled)
		s.CompleteSend(res)
	case <-time.After(2 * time.Second):
		t.Fatal("in-flight send was not cancelled")
	}
	// a closed session drops the result instead of surfacing an error
	require.Empty(t, s.Error())
	require.False(t, s.Loading())
}

func TestSession_ClosedSessionDropsInitialization(t *testing.T) {
	s := NewSession(context.Background(), &fakeAPI{}, WithLogger(zerolog.Nop()))
	req := s.BeginInitialize()
	s.Close()
	require.False(t, s.CompleteInitialize(req.Run(context.Background())))
	require.Equal(t, StatusConnecting, s.Status())
}

func TestConnectionStatus_String(t *testing.T) {
	require.Equal(t, "connecting", StatusConnecting.String())
	require.Equal(t, "connected", StatusConnected.String())
	require.Equal(t, "error", StatusError.String())
}
