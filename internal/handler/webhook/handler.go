package webhook

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/R2D1-BOT/retell-telegram-proxy/internal/model/chat"
	"github.com/R2D1-BOT/retell-telegram-proxy/pkg/utils"
)

const endCommand = "/end"

// Dispatcher consumes one parsed inbound message.
type Dispatcher interface {
	Dispatch(ctx context.Context, msg chat.InboundMessage)
}

// Handler terminates the Telegram webhook. It always acknowledges the
// transport with 200 so Telegram never re-delivers an update on our account;
// the actual relay work runs detached from the request.
type Handler struct {
	dispatcher Dispatcher
}

// New creates the webhook handler.
func New(dispatcher Dispatcher) *Handler {
	return &Handler{dispatcher: dispatcher}
}

// RegisterRoutes mounts the webhook endpoints.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/webhook", h.handleStatus)
	r.Post("/webhook", h.handleUpdate)
}

// update mirrors the subset of the Telegram Update payload the relay needs.
type update struct {
	UpdateID int64 `json:"update_id"`
	Message  *struct {
		MessageID int64 `json:"message_id"`
		Chat      struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text string `json:"text"`
	} `json:"message"`
}

// handleStatus answers webhook health probes.
func (h *Handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string]string{"status": "telegram-retell relay ok"})
}

// handleUpdate parses one Telegram update and hands it to the dispatcher.
// Malformed or non-text updates are dropped after acknowledging: surfacing an
// error here would only make Telegram retry something we can never process.
func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var payload update
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		log.Printf("[webhook] dropping undecodable update: %v", err)
		utils.RespondJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	if payload.Message == nil || payload.Message.Chat.ID == 0 || strings.TrimSpace(payload.Message.Text) == "" {
		log.Printf("[webhook] dropping update %d without chat id or text", payload.UpdateID)
		utils.RespondJSON(w, http.StatusOK, map[string]bool{"ok": true})
		return
	}

	text := strings.TrimSpace(payload.Message.Text)
	msg := chat.InboundMessage{
		ChatID: payload.Message.Chat.ID,
		Text:   text,
		IsEnd:  text == endCommand,
	}

	// Detached from the request context: the 200 below ends the webhook
	// round-trip, the relay outlives it.
	go h.dispatcher.Dispatch(context.WithoutCancel(r.Context()), msg)

	utils.RespondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
