// Package assistant orchestrates chat sessions: conversation state,
// request assembly, streaming decode, and persistence.
package assistant

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"
	noopmetric "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"

	"CareChat/internal/health"
	"CareChat/internal/store"
)

// titleLimit is the rune count a derived conversation title is cut to.
const titleLimit = 50

// Phase is the session manager's send state. Busy and streaming are
// derived from it, so contradictory flag combinations cannot occur.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseAwaitingResponse
	PhaseStreaming
	PhaseFinalizing
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseAwaitingResponse:
		return "awaiting_response"
	case PhaseStreaming:
		return "streaming"
	case PhaseFinalizing:
		return "finalizing"
	default:
		return "unknown"
	}
}

// Store is the persistence capability the manager needs.
type Store interface {
	CreateConversation(ctx context.Context, conv *store.Conversation) error
	ListConversations(ctx context.Context, ownerID string) ([]store.Conversation, error)
	UpdateConversationTitle(ctx context.Context, id, title string) error
	TouchConversation(ctx context.Context, id string, at time.Time) error
	DeleteConversation(ctx context.Context, id string) error
	InsertMessage(ctx context.Context, msg *store.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]store.Message, error)
}

// ContextLoader gathers the health-context snapshot for a user.
type ContextLoader interface {
	LoadContext(ctx context.Context, userID string) (*health.Snapshot, error)
}

// Doer issues HTTP requests. *http.Client satisfies it.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Notifier surfaces one-shot user-visible failure messages.
type Notifier interface {
	Notify(message string)
}

type logNotifier struct{ logger *slog.Logger }

func (n logNotifier) Notify(message string) {
	n.logger.Warn("user notification", "message", message)
}

// Options configures a Manager. Store is required; UserID identifies the
// signed-in patient (empty means unauthenticated). Token is the session
// credential; PublicKey is the fallback sent when Token is empty.
type Options struct {
	Store          Store
	Contexts       ContextLoader
	HTTPClient     Doer
	Notifier       Notifier
	Logger         *slog.Logger
	Tracer         trace.Tracer
	Meter          metric.Meter
	CompletionsURL string
	Model          string
	PublicKey      string
	UserID         string
	Token          string
}

// Manager owns one user's chat session state. All mutation happens under
// a single mutex; accessors return copies for observers.
type Manager struct {
	store    Store
	contexts ContextLoader
	http     Doer
	notifier Notifier
	logger   *slog.Logger
	tracer   trace.Tracer
	meter    metric.Meter

	endpoint  string
	model     string
	publicKey string
	userID    string

	mu            sync.Mutex
	token         string
	phase         Phase
	activeID      string
	messages      []store.Message
	conversations []store.Conversation
	snapshot      *health.Snapshot
	activated     bool
}

// NewManager creates a session manager from its injected capabilities.
func NewManager(opts Options) *Manager {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = logNotifier{logger: logger}
	}
	tracer := opts.Tracer
	if tracer == nil {
		tracer = nooptrace.NewTracerProvider().Tracer("carechat")
	}
	meter := opts.Meter
	if meter == nil {
		meter = noopmetric.NewMeterProvider().Meter("carechat")
	}

	return &Manager{
		store:     opts.Store,
		contexts:  opts.Contexts,
		http:      httpClient,
		notifier:  notifier,
		logger:    logger,
		tracer:    tracer,
		meter:     meter,
		endpoint:  opts.CompletionsURL,
		model:     opts.Model,
		publicKey: opts.PublicKey,
		userID:    opts.UserID,
		token:     opts.Token,
	}
}

// Activate loads the context snapshot on first use. A failed load is
// logged and the assistant runs with reduced grounding.
func (m *Manager) Activate(ctx context.Context) {
	m.mu.Lock()
	if m.activated {
		m.mu.Unlock()
		return
	}
	m.activated = true
	m.mu.Unlock()

	if m.contexts == nil || m.userID == "" {
		return
	}

	snap, err := m.contexts.LoadContext(ctx, m.userID)
	if err != nil {
		m.logger.Warn("failed to load context snapshot, continuing without", "error", err)
		return
	}

	m.mu.Lock()
	m.snapshot = snap
	m.mu.Unlock()
	m.logger.Info("context snapshot loaded", "user_id", m.userID)
}

// SetToken replaces the session credential used for subsequent requests.
func (m *Manager) SetToken(token string) {
	m.mu.Lock()
	m.token = token
	m.mu.Unlock()
}

// findMessage returns the index of the message with id, or -1. Callers
// must hold m.mu.
func (m *Manager) findMessage(id string) int {
	for i, msg := range m.messages {
		if msg.ID == id {
			return i
		}
	}
	return -1
}

// Phase returns the current send phase.
func (m *Manager) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Busy reports whether a send is in flight.
func (m *Manager) Busy() bool {
	return m.Phase() != PhaseIdle
}

// Streaming reports whether assistant output is currently arriving.
func (m *Manager) Streaming() bool {
	return m.Phase() == PhaseStreaming
}

// ActiveConversation returns the active conversation id, or "".
func (m *Manager) ActiveConversation() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeID
}

// Messages returns a copy of the active conversation's messages.
func (m *Manager) Messages() []store.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Message, len(m.messages))
	copy(out, m.messages)
	return out
}

// Conversations returns a copy of the cached conversation summaries.
func (m *Manager) Conversations() []store.Conversation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.Conversation, len(m.conversations))
	copy(out, m.conversations)
	return out
}

// ListConversations refreshes the user's conversation summaries, most
// recently updated first.
func (m *Manager) ListConversations(ctx context.Context) ([]store.Conversation, error) {
	convs, err := m.store.ListConversations(ctx, m.userID)
	if err != nil {
		perr := &PersistenceError{Op: "list conversations", Err: err}
		m.logger.Error("failed to list conversations", "error", err)
		return nil, perr
	}

	m.mu.Lock()
	m.conversations = convs
	m.mu.Unlock()
	return convs, nil
}

// SelectConversation makes the conversation active and loads its messages
// in creation order. State is unchanged when the load fails.
func (m *Manager) SelectConversation(ctx context.Context, id string) error {
	msgs, err := m.store.ListMessages(ctx, id)
	if err != nil {
		m.logger.Error("failed to load messages", "conversation_id", id, "error", err)
		m.notifier.Notify("Could not open the conversation.")
		return &PersistenceError{Op: "load messages", Err: err}
	}

	m.mu.Lock()
	m.activeID = id
	m.messages = msgs
	m.mu.Unlock()
	return nil
}

// CreateConversation inserts a new conversation, makes it active, clears
// the message list, and refreshes the summaries.
func (m *Manager) CreateConversation(ctx context.Context) (string, error) {
	if m.userID == "" {
		m.notifier.Notify("Please sign in to start a conversation.")
		return "", ErrUnauthenticated
	}

	now := time.Now()
	conv := &store.Conversation{
		ID:        uuid.NewString(),
		OwnerID:   m.userID,
		Title:     "",
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := m.store.CreateConversation(ctx, conv); err != nil {
		m.logger.Error("failed to create conversation", "error", err)
		m.notifier.Notify("Could not create a new conversation.")
		return "", &PersistenceError{Op: "create conversation", Critical: true, Err: err}
	}

	m.mu.Lock()
	m.activeID = conv.ID
	m.messages = nil
	m.mu.Unlock()

	if _, err := m.ListConversations(ctx); err != nil {
		m.logger.Warn("failed to refresh conversation list", "error", err)
	}

	m.logger.Info("conversation created", "conversation_id", conv.ID)
	return conv.ID, nil
}

// DeleteConversation removes the conversation and its messages. Deleting
// the active conversation clears the active state.
func (m *Manager) DeleteConversation(ctx context.Context, id string) error {
	if err := m.store.DeleteConversation(ctx, id); err != nil {
		m.logger.Error("failed to delete conversation", "conversation_id", id, "error", err)
		m.notifier.Notify("Could not delete the conversation.")
		return &PersistenceError{Op: "delete conversation", Critical: true, Err: err}
	}

	m.mu.Lock()
	if m.activeID == id {
		m.activeID = ""
		m.messages = nil
	}
	m.mu.Unlock()

	if _, err := m.ListConversations(ctx); err != nil {
		m.logger.Warn("failed to refresh conversation list", "error", err)
	}

	m.logger.Info("conversation deleted", "conversation_id", id)
	return nil
}

// deriveTitle truncates the first message to the title limit, appending
// an ellipsis marker when cut. The limit counts runes, not bytes.
func deriveTitle(content string) string {
	runes := []rune(content)
	if len(runes) <= titleLimit {
		return content
	}
	return string(runes[:titleLimit]) + "..."
}
