package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rentafacil/rentchat/internal/middleware"
	"github.com/rentafacil/rentchat/internal/repository"
)

type ChatHandler struct {
	chatRepo *repository.ChatRepository
}

func NewChatHandler(chatRepo *repository.ChatRepository) *ChatHandler {
	return &ChatHandler{chatRepo: chatRepo}
}

// GetUserChats — GET /chat/conversations.
func (h *ChatHandler) GetUserChats(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())
	chats, err := h.chatRepo.GetUserChats(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get conversations")
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

// GetChat — GET /chat/conversations/{id}.
func (h *ChatHandler) GetChat(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := middleware.GetUserID(r.Context())

	if !checkMember(w, r, h.chatRepo, id, userID) {
		return
	}
	chat, err := h.chatRepo.GetByID(r.Context(), id, userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get conversation")
		return
	}
	writeJSON(w, http.StatusOK, chat)
}

// checkMember пишет 404/403/500 и возвращает false, если userID не участник беседы.
func checkMember(w http.ResponseWriter, r *http.Request, chats *repository.ChatRepository, id, userID string) bool {
	isMember, err := chats.IsMember(r.Context(), id, userID)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "conversation not found")
		return false
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to check membership")
		return false
	}
	if !isMember {
		writeError(w, http.StatusForbidden, "not a participant")
		return false
	}
	return true
}
