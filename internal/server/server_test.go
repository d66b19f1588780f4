package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"CareChat/internal/config"
	"CareChat/internal/files"
	"CareChat/internal/store"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// fakeDoer answers every upstream completions call with a freshly built
// canned response, recording the credentials it saw.
type fakeDoer struct {
	build func() *http.Response
	err   error

	mu    sync.Mutex
	auths []string
}

func (f *fakeDoer) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	f.auths = append(f.auths, req.Header.Get("Authorization"))
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.build(), nil
}

func sseBody(deltas ...string) string {
	var b strings.Builder
	for _, d := range deltas {
		payload, _ := json.Marshal(d)
		fmt.Fprintf(&b, "data: {\"choices\":[{\"delta\":{\"content\":%s}}]}\n\n", payload)
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String()
}

func upstreamOK(deltas ...string) *fakeDoer {
	return &fakeDoer{build: func() *http.Response {
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(sseBody(deltas...))),
		}
	}}
}

func newTestServer(t *testing.T, doer *fakeDoer) *gin.Engine {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	uploads, err := files.NewDiskStore(t.TempDir(), "/api/attachments")
	require.NoError(t, err)

	cfg := config.Default()
	cfg.CompletionsURL = "http://upstream.test/v1/chat/completions"

	srv := New(Options{
		Config:     cfg,
		Store:      db,
		Records:    db,
		Uploads:    uploads,
		Verifier:   StaticVerifier{"tok-u1": "u1", "tok-u1-renewed": "u1"},
		HTTPClient: doer,
	})
	return srv.Router()
}

func doRequest(router *gin.Engine, method, path, token string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	router := newTestServer(t, upstreamOK())

	w := doRequest(router, http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAuthenticationRequired(t *testing.T) {
	router := newTestServer(t, upstreamOK())

	w := doRequest(router, http.MethodGet, "/api/conversations", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = doRequest(router, http.MethodGet, "/api/conversations", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestConversationLifecycle(t *testing.T) {
	router := newTestServer(t, upstreamOK())

	w := doRequest(router, http.MethodPost, "/api/conversations", "tok-u1", nil)
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	w = doRequest(router, http.MethodGet, "/api/conversations", "tok-u1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var listed struct {
		Conversations []store.Conversation `json:"conversations"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed.Conversations, 1)
	assert.Equal(t, created.ID, listed.Conversations[0].ID)

	w = doRequest(router, http.MethodDelete, "/api/conversations/"+created.ID, "tok-u1", nil)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = doRequest(router, http.MethodGet, "/api/conversations", "tok-u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	assert.Empty(t, listed.Conversations)
}

type relayEvent struct {
	Type           string `json:"type"`
	Content        string `json:"content"`
	ConversationID string `json:"conversation_id"`
	Error          string `json:"error"`
}

func parseEvents(t *testing.T, body string) []relayEvent {
	t.Helper()
	var events []relayEvent
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev relayEvent
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func TestChatRelaysStream(t *testing.T) {
	router := newTestServer(t, upstreamOK("نقص", " فيتامين", " د يسبب التعب."))

	body := bytes.NewBufferString(`{"content":"ما هي أعراض نقص فيتامين د؟"}`)
	w := doRequest(router, http.MethodPost, "/api/chat", "tok-u1", body)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))

	events := parseEvents(t, w.Body.String())
	require.Len(t, events, 4)
	assert.Equal(t, "token", events[0].Type)
	assert.Equal(t, "نقص", events[0].Content)
	assert.Equal(t, " فيتامين", events[1].Content)
	assert.Equal(t, " د يسبب التعب.", events[2].Content)
	assert.Equal(t, "done", events[3].Type)
	require.NotEmpty(t, events[3].ConversationID)

	// The finished exchange is persisted and readable back.
	w = doRequest(router, http.MethodGet, "/api/conversations/"+events[3].ConversationID+"/messages", "tok-u1", nil)
	require.Equal(t, http.StatusOK, w.Code)

	var listed struct {
		Messages []store.Message `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &listed))
	require.Len(t, listed.Messages, 2)
	assert.Equal(t, store.RoleUser, listed.Messages[0].Role)
	assert.Equal(t, store.RoleAssistant, listed.Messages[1].Role)
	assert.Equal(t, "نقص فيتامين د يسبب التعب.", listed.Messages[1].Content)
}

func TestChatUsesRenewedToken(t *testing.T) {
	doer := upstreamOK("ok")
	router := newTestServer(t, doer)

	w := doRequest(router, http.MethodPost, "/api/chat", "tok-u1", bytes.NewBufferString(`{"content":"first"}`))
	require.Equal(t, http.StatusOK, w.Code)

	// The cached session must pick up the new credential, not keep
	// sending the one it was created with.
	w = doRequest(router, http.MethodPost, "/api/chat", "tok-u1-renewed", bytes.NewBufferString(`{"content":"second"}`))
	require.Equal(t, http.StatusOK, w.Code)

	doer.mu.Lock()
	defer doer.mu.Unlock()
	require.Len(t, doer.auths, 2)
	assert.Equal(t, "Bearer tok-u1", doer.auths[0])
	assert.Equal(t, "Bearer tok-u1-renewed", doer.auths[1])
}

func TestChatEmptyMessageRejected(t *testing.T) {
	router := newTestServer(t, upstreamOK())

	body := bytes.NewBufferString(`{"content":"   "}`)
	w := doRequest(router, http.MethodPost, "/api/chat", "tok-u1", body)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestChatUpstreamFailureEmitsErrorEvent(t *testing.T) {
	doer := &fakeDoer{build: func() *http.Response {
		return &http.Response{
			StatusCode: http.StatusServiceUnavailable,
			Body:       io.NopCloser(strings.NewReader(`{"error":"model overloaded"}`)),
		}
	}}
	router := newTestServer(t, doer)

	body := bytes.NewBufferString(`{"content":"hello"}`)
	w := doRequest(router, http.MethodPost, "/api/chat", "tok-u1", body)
	require.Equal(t, http.StatusOK, w.Code)

	events := parseEvents(t, w.Body.String())
	require.NotEmpty(t, events)
	last := events[len(events)-1]
	assert.Equal(t, "error", last.Type)
	assert.Contains(t, last.Error, "model overloaded")
}

func TestUploadAttachment(t *testing.T) {
	router := newTestServer(t, upstreamOK())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "scan.pdf")
	require.NoError(t, err)
	_, err = part.Write([]byte("pdf bytes"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/attachments", &buf)
	req.Header.Set("Authorization", "Bearer tok-u1")
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code)

	var att store.Attachment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &att))
	require.NotEmpty(t, att.ID)
	assert.Equal(t, "scan.pdf", att.Name)

	w2 := doRequest(router, http.MethodGet, "/api/attachments/"+att.ID, "tok-u1", nil)
	require.Equal(t, http.StatusOK, w2.Code)
	assert.Equal(t, "pdf bytes", w2.Body.String())
}

func TestUploadMissingFileField(t *testing.T) {
	router := newTestServer(t, upstreamOK())

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/attachments", &buf)
	req.Header.Set("Authorization", "Bearer tok-u1")
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
