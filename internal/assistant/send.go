package assistant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/metric"

	"CareChat/internal/health"
	"CareChat/internal/store"
	"CareChat/internal/stream"
)

// genericFailure is shown when the upstream gives no usable error text.
const genericFailure = "Something went wrong while contacting the assistant."

// requestMessage is one prior turn in the completions request body.
type requestMessage struct {
	Role        string             `json:"role"`
	Content     string             `json:"content"`
	Attachments []store.Attachment `json:"attachments,omitempty"`
}

// completionsRequest is the body POSTed to the completions endpoint.
type completionsRequest struct {
	Model    string           `json:"model,omitempty"`
	Messages []requestMessage `json:"messages"`
	Context  *health.Snapshot `json:"context,omitempty"`
}

// errorResponse is the JSON shape of an upstream failure body.
type errorResponse struct {
	Error string `json:"error"`
}

// SendMessage runs one full exchange: persist the user's message, request
// a completion, stream the answer into the in-memory list, and persist the
// finished assistant message. onDelta, when non-nil, observes each content
// delta as it arrives. Failures are surfaced through the Notifier and
// returned; they never leave the message list with an empty assistant
// bubble.
func (m *Manager) SendMessage(ctx context.Context, content string, attachments []store.Attachment, onDelta func(delta string)) error {
	if strings.TrimSpace(content) == "" && len(attachments) == 0 {
		return nil
	}

	m.mu.Lock()
	if m.phase != PhaseIdle {
		m.mu.Unlock()
		return ErrBusy
	}
	m.phase = PhaseAwaitingResponse
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.phase = PhaseIdle
		m.mu.Unlock()
	}()

	m.mu.Lock()
	activeID := m.activeID
	preCount := len(m.messages)
	m.mu.Unlock()

	if activeID == "" {
		id, err := m.CreateConversation(ctx)
		if err != nil {
			return err
		}
		activeID = id
		preCount = 0
	}

	userMsg := store.Message{
		ID:             uuid.NewString(),
		ConversationID: activeID,
		Role:           store.RoleUser,
		Content:        content,
		CreatedAt:      time.Now(),
	}
	if len(attachments) > 0 {
		raw, err := store.EncodeAttachments(attachments)
		if err != nil {
			m.logger.Error("failed to encode attachments", "error", err)
		} else {
			userMsg.Attachments = raw
		}
	}

	m.mu.Lock()
	m.messages = append(m.messages, userMsg)
	m.mu.Unlock()

	// The user's message is a critical write: a failure is surfaced but
	// the in-memory copy remains the source of truth for this turn.
	if err := m.store.InsertMessage(ctx, &userMsg); err != nil {
		m.logger.Error("failed to persist user message", "error", err)
		m.notifier.Notify("Your message could not be saved.")
	}

	if preCount == 0 && strings.TrimSpace(content) != "" {
		title := deriveTitle(content)
		if err := m.store.UpdateConversationTitle(ctx, activeID, title); err != nil {
			m.logger.Warn("failed to persist conversation title", "error", err)
		} else if _, err := m.ListConversations(ctx); err != nil {
			m.logger.Warn("failed to refresh conversation list", "error", err)
		}
	}

	if err := m.exchange(ctx, activeID, onDelta); err != nil {
		m.dropEmptyAssistant()
		m.notifier.Notify(userMessage(err))
		return err
	}
	return nil
}

// exchange issues the completions request and reconciles the streamed
// answer into state. The caller handles notification and placeholder
// cleanup on error.
func (m *Manager) exchange(ctx context.Context, conversationID string, onDelta func(string)) error {
	body, err := m.buildRequest()
	if err != nil {
		return &TransportError{Message: genericFailure, Err: err}
	}

	ctx, span := m.tracer.Start(ctx, "completions_request")
	defer span.End()

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.endpoint, bytes.NewReader(body))
	if err != nil {
		return &TransportError{Message: genericFailure, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.credential())

	resp, err := m.http.Do(req)
	if err != nil {
		return &TransportError{Message: "Could not reach the assistant service.", Err: err}
	}
	defer func() {
		if resp.Body != nil {
			resp.Body.Close()
		}
	}()

	if histogram, herr := m.meter.Float64Histogram(
		"http.client.request.duration",
		metric.WithDescription("HTTP request duration in milliseconds"),
	); herr == nil {
		histogram.Record(ctx, float64(time.Since(start).Milliseconds()))
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || resp.Body == nil {
		return &TransportError{Message: extractError(resp)}
	}

	assistantMsg := store.Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		Role:           store.RoleAssistant,
		Content:        "",
		CreatedAt:      time.Now(),
	}

	m.mu.Lock()
	m.phase = PhaseStreaming
	m.messages = append(m.messages, assistantMsg)
	m.mu.Unlock()

	deltaCounter, _ := m.meter.Int64Counter(
		"chat.deltas.streamed",
		metric.WithDescription("Content deltas decoded from completion streams"),
	)

	var answer strings.Builder
	err = stream.Stream(resp.Body, func(delta string) error {
		answer.WriteString(delta)
		if deltaCounter != nil {
			deltaCounter.Add(ctx, 1)
		}

		// The message list can be replaced mid-stream by a select or
		// delete, so the placeholder is looked up by id each time.
		m.mu.Lock()
		if i := m.findMessage(assistantMsg.ID); i >= 0 {
			m.messages[i].Content = answer.String()
		}
		m.mu.Unlock()

		if onDelta != nil {
			onDelta(delta)
		}
		return nil
	})
	if err != nil {
		// Keep any partial answer; only a message that never received
		// content is removed by the caller.
		return &TransportError{Message: "The assistant's reply was interrupted.", Err: err}
	}

	m.mu.Lock()
	m.phase = PhaseFinalizing
	assistantMsg.Content = answer.String()
	idx := m.findMessage(assistantMsg.ID)
	if idx >= 0 {
		m.messages[idx] = assistantMsg
	}
	m.mu.Unlock()

	if idx < 0 {
		// The conversation was deleted or switched away mid-stream; the
		// answer has no home anymore, so it is discarded rather than
		// persisted against a stale conversation.
		m.logger.Info("conversation changed during stream, discarding answer", "conversation_id", conversationID)
		return nil
	}

	if assistantMsg.Content == "" {
		return &TransportError{Message: genericFailure, Err: fmt.Errorf("stream produced no content")}
	}

	if err := m.store.InsertMessage(ctx, &assistantMsg); err != nil {
		m.logger.Error("failed to persist assistant message", "error", err)
		m.notifier.Notify("The assistant's reply could not be saved.")
	} else if counter, cerr := m.meter.Int64Counter(
		"chat.messages.persisted",
		metric.WithDescription("Messages durably written to the store"),
	); cerr == nil {
		counter.Add(ctx, 1)
	}

	if err := m.store.TouchConversation(ctx, conversationID, time.Now()); err != nil {
		m.logger.Warn("failed to bump conversation timestamp", "error", err)
	}

	return nil
}

// buildRequest reduces the message list to wire turns and attaches the
// context snapshot.
func (m *Manager) buildRequest() ([]byte, error) {
	m.mu.Lock()
	msgs := make([]requestMessage, 0, len(m.messages))
	for _, msg := range m.messages {
		atts, err := store.DecodeAttachments(msg.Attachments)
		if err != nil {
			m.logger.Warn("skipping unreadable attachment metadata", "message_id", msg.ID, "error", err)
		}
		msgs = append(msgs, requestMessage{
			Role:        msg.Role,
			Content:     msg.Content,
			Attachments: atts,
		})
	}
	snapshot := m.snapshot
	m.mu.Unlock()

	payload := completionsRequest{
		Model:    m.model,
		Messages: msgs,
		Context:  snapshot,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	return body, nil
}

// credential returns the session token, falling back to the public key.
func (m *Manager) credential() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.token != "" {
		return m.token
	}
	return m.publicKey
}

// dropEmptyAssistant removes a trailing assistant message that never
// received content, so a failed attempt leaves no permanent empty bubble.
func (m *Manager) dropEmptyAssistant() {
	m.mu.Lock()
	defer m.mu.Unlock()

	kept := m.messages[:0]
	for _, msg := range m.messages {
		if msg.Role == store.RoleAssistant && msg.Content == "" {
			continue
		}
		kept = append(kept, msg)
	}
	m.messages = kept
}

// extractError pulls the server-supplied error message from a failure
// response, falling back to a generic one.
func extractError(resp *http.Response) string {
	if resp.Body == nil {
		return genericFailure
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil || len(data) == 0 {
		return genericFailure
	}
	var er errorResponse
	if err := json.Unmarshal(data, &er); err != nil || er.Error == "" {
		return genericFailure
	}
	return er.Error
}

// userMessage maps an error to its one-shot notification text.
func userMessage(err error) string {
	if te, ok := err.(*TransportError); ok {
		return te.Message
	}
	return genericFailure
}
