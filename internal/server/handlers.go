package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"CareChat/internal/assistant"
	"CareChat/internal/files"
	"CareChat/internal/store"
)

// chatRequest is the body of POST /api/chat.
type chatRequest struct {
	ConversationID string             `json:"conversation_id,omitempty"`
	Content        string             `json:"content"`
	Attachments    []store.Attachment `json:"attachments,omitempty"`
}

// streamEvent is one SSE frame relayed to the client.
type streamEvent struct {
	Type           string `json:"type"`
	Content        string `json:"content,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
	Error          string `json:"error,omitempty"`
}

// authenticate resolves the bearer token and stores the user identity on
// the request context.
func (s *Server) authenticate(c *gin.Context) {
	header := c.GetHeader("Authorization")
	token := strings.TrimPrefix(header, "Bearer ")
	if token == "" || token == header {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
		return
	}

	userID, ok := s.verifier.Verify(token)
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	c.Set("user_id", userID)
	c.Set("token", token)
	c.Next()
}

func (s *Server) listConversations(c *gin.Context) {
	mgr := s.session(c)
	convs, err := mgr.ListConversations(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list conversations"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"conversations": convs})
}

func (s *Server) createConversation(c *gin.Context) {
	mgr := s.session(c)
	id, err := mgr.CreateConversation(c.Request.Context())
	if err != nil {
		if errors.Is(err, assistant.ErrUnauthenticated) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create conversation"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": id})
}

func (s *Server) deleteConversation(c *gin.Context) {
	mgr := s.session(c)
	if err := mgr.DeleteConversation(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete conversation"})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) listMessages(c *gin.Context) {
	mgr := s.session(c)
	if err := mgr.SelectConversation(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load messages"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": mgr.Messages()})
}

func (s *Server) uploadAttachment(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing file field"})
		return
	}
	if file.Size > files.MaxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds the 10 MiB upload limit"})
		return
	}

	src, err := file.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable upload"})
		return
	}
	defer src.Close()

	att, err := s.uploads.Save(file.Filename, file.Header.Get("Content-Type"), file.Size, src)
	if err != nil {
		if errors.Is(err, files.ErrTooLarge) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file exceeds the 10 MiB upload limit"})
			return
		}
		s.logger.Error("failed to store attachment", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store attachment"})
		return
	}

	c.JSON(http.StatusCreated, att)
}

func (s *Server) downloadAttachment(c *gin.Context) {
	r, err := s.uploads.Open(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "attachment not found"})
		return
	}
	defer r.Close()
	c.Status(http.StatusOK)
	if _, err := io.Copy(c.Writer, r); err != nil {
		s.logger.Error("failed to stream attachment", "error", err)
	}
}

// chat runs one send and relays the live answer as SSE frames.
func (s *Server) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	mgr := s.session(c)
	ctx := c.Request.Context()

	if req.ConversationID != "" && req.ConversationID != mgr.ActiveConversation() {
		if err := mgr.SelectConversation(ctx, req.ConversationID); err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "conversation not found"})
			return
		}
	}

	if strings.TrimSpace(req.Content) == "" && len(req.Attachments) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "empty message"})
		return
	}

	if mgr.Busy() {
		c.JSON(http.StatusConflict, gin.H{"error": "another message is already in flight"})
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Writer.WriteHeader(http.StatusOK)
	flusher, _ := c.Writer.(http.Flusher)

	writeEvent := func(ev streamEvent) {
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", data)
		if flusher != nil {
			flusher.Flush()
		}
	}

	err := mgr.SendMessage(ctx, req.Content, req.Attachments, func(delta string) {
		writeEvent(streamEvent{Type: "token", Content: delta})
	})
	if err != nil {
		if errors.Is(err, assistant.ErrBusy) {
			writeEvent(streamEvent{Type: "error", Error: "another message is already in flight"})
			return
		}
		writeEvent(streamEvent{Type: "error", Error: err.Error()})
		return
	}

	writeEvent(streamEvent{Type: "done", ConversationID: mgr.ActiveConversation()})
}
