package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-go-golems/sqlchat/pkg/client"
	"github.com/go-go-golems/sqlchat/pkg/conversation"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ConnectionStatus is the client's belief about backend reachability.
type ConnectionStatus int

const (
	StatusConnecting ConnectionStatus = iota
	StatusConnected
	StatusError
)

func (s ConnectionStatus) String() string {
	switch s {
	case StatusConnecting:
		return "connecting"
	case StatusConnected:
		return "connected"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

const (
	ErrSendFailed     = "Failed to send message. Please try again."
	ErrNoConversation = "No active conversation. Please retry the connection."
)

// ConnectErrorMessage is the user-facing text shown when initialization fails.
func ConnectErrorMessage(baseURL string) string {
	if baseURL == "" {
		return "Failed to connect to the backend. Please ensure the server is running."
	}
	return fmt.Sprintf("Failed to connect to the backend at %s. Please ensure the server is running.", baseURL)
}

// Snapshot is a copy of the session state for renderers.
type Snapshot struct {
	Status         ConnectionStatus
	ConversationID string
	Messages       []conversation.Message
	Loading        bool
	Error          string
}

// Session owns the conversation lifecycle: connection status, the latest
// message snapshot, the loading flag and the user-facing error.
//
// Operations are split into Begin / Run / Complete so that a UI can run the
// network part off its event loop. Begin and Complete must be called from a
// single goroutine; Run may be called from any goroutine.
type Session struct {
	api     client.API
	baseURL string
	logger  zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	status         ConnectionStatus
	conversationID string
	messages       []conversation.Message
	loading        bool
	err            string

	initGen uint64
}

type SessionOption func(*Session)

// WithBaseURL is used in the connection error message.
func WithBaseURL(u string) SessionOption {
	return func(s *Session) { s.baseURL = u }
}

func WithLogger(logger zerolog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// NewSession creates a session bound to ctx. Requests run under a child
// scope that Close cancels.
func NewSession(ctx context.Context, api client.API, opts ...SessionOption) *Session {
	ctx, cancel := context.WithCancel(ctx)
	s := &Session{
		api:      api,
		logger:   log.With().Str("component", "chat-session").Logger(),
		ctx:      ctx,
		cancel:   cancel,
		status:   StatusConnecting,
		messages: []conversation.Message{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Context is the session scope. It is done once Close has been called.
func (s *Session) Context() context.Context { return s.ctx }

// Close aborts in-flight requests. Results that arrive afterwards are
// dropped by Complete*.
func (s *Session) Close() {
	s.cancel()
}

func (s *Session) closed() bool { return s.ctx.Err() != nil }

func (s *Session) Status() ConnectionStatus { return s.status }
func (s *Session) ConversationID() string   { return s.conversationID }
func (s *Session) Loading() bool            { return s.loading }
func (s *Session) Error() string            { return s.err }

// Messages returns a copy of the latest snapshot.
func (s *Session) Messages() []conversation.Message {
	return conversation.CloneMessages(s.messages)
}

func (s *Session) Snapshot() Snapshot {
	return Snapshot{
		Status:         s.status,
		ConversationID: s.conversationID,
		Messages:       s.Messages(),
		Loading:        s.loading,
		Error:          s.err,
	}
}

// CanSend reports whether a submission would be accepted.
func (s *Session) CanSend() bool {
	return s.status == StatusConnected && !s.loading && s.conversationID != ""
}

// InitRequest is an initialization in progress.
type InitRequest struct {
	gen uint64
	api client.API
}

// InitResult is what Run produced for a given InitRequest.
type InitResult struct {
	gen          uint64
	Conversation *conversation.Conversation
	Err          error
}

// BeginInitialize moves the session to connecting and starts a new
// initialization generation. Results of earlier generations are ignored.
func (s *Session) BeginInitialize() InitRequest {
	s.initGen++
	s.status = StatusConnecting
	s.err = ""
	s.logger.Debug().Uint64("generation", s.initGen).Msg("initializing chat")
	return InitRequest{gen: s.initGen, api: s.api}
}

// Run checks backend health, then creates a conversation.
func (r InitRequest) Run(ctx context.Context) InitResult {
	if _, err := r.api.CheckHealth(ctx); err != nil {
		return InitResult{gen: r.gen, Err: errors.Wrap(err, "health check")}
	}
	conv, err := r.api.CreateConversation(ctx)
	if err != nil {
		return InitResult{gen: r.gen, Err: errors.Wrap(err, "create conversation")}
	}
	return InitResult{gen: r.gen, Conversation: conv}
}

// CompleteInitialize applies an initialization result. It reports false when
// the result was stale or the session is closed.
func (s *Session) CompleteInitialize(res InitResult) bool {
	if s.closed() || res.gen != s.initGen {
		s.logger.Debug().Uint64("generation", res.gen).Msg("dropping stale initialization result")
		return false
	}
	if res.Err != nil || res.Conversation == nil {
		err := res.Err
		if err == nil {
			err = errors.New("backend returned no conversation")
		}
		s.logger.Error().Err(err).Msg("failed to initialize chat")
		s.status = StatusError
		s.err = ConnectErrorMessage(s.baseURL)
		return true
	}
	s.conversationID = res.Conversation.ID
	s.messages = conversation.CloneMessages(res.Conversation.Messages)
	s.status = StatusConnected
	s.err = ""
	s.logger.Debug().
		Str("conversation_id", s.conversationID).
		Int("messages", len(s.messages)).
		Msg("chat connected")
	return true
}

// Initialize runs a full initialization synchronously.
func (s *Session) Initialize(ctx context.Context) error {
	ctx, cancel := s.requestContext(ctx)
	defer cancel()
	req := s.BeginInitialize()
	res := req.Run(ctx)
	s.CompleteInitialize(res)
	return res.Err
}

// SendRequest is a send in progress.
type SendRequest struct {
	api            client.API
	ConversationID string
	Text           string
}

type SendResult struct {
	Conversation *conversation.Conversation
	Err          error
}

// BeginSend validates a submission. It returns false when nothing should be
// sent: blank text, a send already in flight, or no connected conversation
// (the latter also sets the error unless a connection error is showing).
func (s *Session) BeginSend(text string) (SendRequest, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return SendRequest{}, false
	}
	if s.loading {
		s.logger.Debug().Msg("send ignored, request already in flight")
		return SendRequest{}, false
	}
	if s.status != StatusConnected || s.conversationID == "" {
		// a connection error already explains why nothing can be sent
		if s.status != StatusError {
			s.err = ErrNoConversation
		}
		s.logger.Debug().Str("status", s.status.String()).Msg("send refused, not connected")
		return SendRequest{}, false
	}
	s.loading = true
	s.err = ""
	s.logger.Debug().Str("conversation_id", s.conversationID).Msg("sending message")
	return SendRequest{api: s.api, ConversationID: s.conversationID, Text: text}, true
}

func (r SendRequest) Run(ctx context.Context) SendResult {
	conv, err := r.api.SendMessage(ctx, r.ConversationID, r.Text)
	return SendResult{Conversation: conv, Err: err}
}

// CompleteSend replaces the message list with the server's snapshot on
// success. On failure the previous messages are kept. Loading is always
// cleared.
func (s *Session) CompleteSend(res SendResult) {
	defer func() { s.loading = false }()
	if s.closed() {
		return
	}
	if res.Err != nil || res.Conversation == nil {
		err := res.Err
		if err == nil {
			err = errors.New("backend returned no conversation")
		}
		s.logger.Error().Err(err).Str("conversation_id", s.conversationID).Msg("failed to send message")
		s.err = ErrSendFailed
		return
	}
	s.messages = conversation.CloneMessages(res.Conversation.Messages)
	s.logger.Debug().
		Str("conversation_id", s.conversationID).
		Int("messages", len(s.messages)).
		Msg("message exchange complete")
}

// Send runs a full send synchronously. It returns an error when the send
// was refused or failed.
func (s *Session) Send(ctx context.Context, text string) error {
	req, ok := s.BeginSend(text)
	if !ok {
		if s.err != "" {
			return errors.New(s.err)
		}
		return errors.New("message not sent")
	}
	ctx, cancel := s.requestContext(ctx)
	defer cancel()
	res := req.Run(ctx)
	s.CompleteSend(res)
	return res.Err
}

// DismissError clears the error without touching status or messages.
func (s *Session) DismissError() {
	s.err = ""
}

// requestContext derives a request context from ctx that is also cancelled
// when the session closes.
func (s *Session) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}
