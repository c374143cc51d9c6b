package handler

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rentafacil/rentchat/internal/hub"
	"github.com/rentafacil/rentchat/internal/logger"
	"github.com/rentafacil/rentchat/internal/middleware"
	"github.com/rentafacil/rentchat/internal/model"
	"github.com/rentafacil/rentchat/internal/repository"
)

const maxContentLen = 4000

type MessageHandler struct {
	msgRepo  *repository.MessageRepository
	chatRepo *repository.ChatRepository
	hub      *hub.Hub
}

func NewMessageHandler(msgRepo *repository.MessageRepository, chatRepo *repository.ChatRepository, h *hub.Hub) *MessageHandler {
	return &MessageHandler{msgRepo: msgRepo, chatRepo: chatRepo, hub: h}
}

// GetMessages — GET /chat/conversations/{id}/messages?limit=N: последние N сообщений, старые первыми.
func (h *MessageHandler) GetMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())
	if !checkMember(w, r, h.chatRepo, id, userID) {
		return
	}

	limit := queryRange(r, "limit", 50, 100)
	offset := queryRange(r, "offset", 0, 0)

	messages, err := h.msgRepo.GetChatMessages(r.Context(), id, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get messages")
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

// CreateMessage — POST /chat/conversations/{id}/messages. Сохранённое сообщение
// рассылается участникам через хаб.
func (h *MessageHandler) CreateMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())

	var req model.CreateMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	if req.ConversationID != "" && req.ConversationID != id {
		writeError(w, http.StatusBadRequest, "conversation_id mismatch")
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		writeError(w, http.StatusBadRequest, "content required")
		return
	}
	if len(content) > maxContentLen {
		writeError(w, http.StatusBadRequest, "content too long")
		return
	}
	if !checkMember(w, r, h.chatRepo, id, userID) {
		return
	}

	m, err := h.msgRepo.Create(r.Context(), id, userID, content, req.MessageType)
	if err != nil {
		logger.Errorf("create message conversation=%s user=%s: %v", id, userID, err)
		writeError(w, http.StatusInternalServerError, "failed to save message")
		return
	}
	h.hub.BroadcastMessage(r.Context(), m)
	writeJSON(w, http.StatusCreated, m)
}

// MarkAsRead — PATCH /chat/conversations/{id}/read. Отправители получают read_receipt.
func (h *MessageHandler) MarkAsRead(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())
	if !checkMember(w, r, h.chatRepo, id, userID) {
		return
	}

	changed, err := h.msgRepo.MarkAsRead(r.Context(), id, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to mark as read")
		return
	}
	h.hub.NotifyRead(r.Context(), changed)
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "marked": len(changed)})
}
