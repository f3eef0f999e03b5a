package relay

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/google/uuid"

	"github.com/R2D1-BOT/retell-telegram-proxy/internal/model/chat"
	"github.com/R2D1-BOT/retell-telegram-proxy/internal/service/retell"
	"github.com/R2D1-BOT/retell-telegram-proxy/internal/service/session"
)

// Gateway drives turns against the backend conversation API.
type Gateway interface {
	StartConversation(ctx context.Context, agentID string) (string, error)
	SendTurn(ctx context.Context, handle, text string) (string, error)
}

// Notifier delivers replies and notices back to the chat platform.
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
}

// User-visible messages, one per failure kind so behavior stays testable.
const (
	replyEnded         = "Conversation ended. Send a new message to start again."
	replyGreeting      = "Hi! Send me a message and I will pass it to the agent."
	replyUnavailable   = "Sorry, the agent is temporarily unavailable. Please try again in a moment."
	replyMisconfigured = "Sorry, the agent is not configured correctly. Please contact the operator."
)

const startCommand = "/start"

// Dispatcher turns one inbound message into one outbound reply. It owns the
// retry policy: a turn failing with retell.ErrSessionInvalid triggers exactly
// one recreate-and-retry cycle, bounding the worst case per inbound message
// at two session creations and two turns.
type Dispatcher struct {
	store    *session.Store
	gateway  Gateway
	notifier Notifier
	agentID  string
}

// NewDispatcher wires the relay against its collaborators.
func NewDispatcher(store *session.Store, gateway Gateway, notifier Notifier, agentID string) *Dispatcher {
	return &Dispatcher{
		store:    store,
		gateway:  gateway,
		notifier: notifier,
		agentID:  agentID,
	}
}

// Dispatch handles a single inbound message end to end. It never returns an
// error: every outcome is either a delivered reply or a logged, per-kind
// apology.
func (d *Dispatcher) Dispatch(ctx context.Context, msg chat.InboundMessage) {
	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return
	}

	if msg.IsEnd {
		// Explicit termination bypasses the backend entirely.
		d.store.Invalidate(msg.ChatID)
		d.notify(ctx, msg.ChatID, replyEnded)
		return
	}
	if text == startCommand {
		d.notify(ctx, msg.ChatID, replyGreeting)
		return
	}

	dispatchID := uuid.NewString()

	reply, err := d.runTurn(ctx, msg.ChatID, text)
	if errors.Is(err, retell.ErrSessionInvalid) {
		log.Printf("[relay] dispatch=%s chat=%d stale handle, recreating session", dispatchID, msg.ChatID)
		d.store.Invalidate(msg.ChatID)
		reply, err = d.runTurn(ctx, msg.ChatID, text)
		if errors.Is(err, retell.ErrSessionInvalid) {
			// The retry burned its one chance; drop the dead session so the
			// next message starts clean instead of tripping over it again.
			d.store.Invalidate(msg.ChatID)
		}
	}

	switch {
	case err == nil:
		d.store.Touch(msg.ChatID)
		d.notify(ctx, msg.ChatID, reply)
	case errors.Is(err, retell.ErrAgentNotFound):
		log.Printf("[relay] dispatch=%s chat=%d agent misconfigured: %v", dispatchID, msg.ChatID, err)
		d.notify(ctx, msg.ChatID, replyMisconfigured)
	default:
		log.Printf("[relay] dispatch=%s chat=%d turn failed: %v", dispatchID, msg.ChatID, err)
		d.notify(ctx, msg.ChatID, replyUnavailable)
	}
}

// runTurn resolves the session (creating one if needed) and drives a single
// turn through the gateway.
func (d *Dispatcher) runTurn(ctx context.Context, chatID int64, text string) (string, error) {
	sess, err := d.store.GetOrCreate(ctx, chatID, func(ctx context.Context) (string, error) {
		return d.gateway.StartConversation(ctx, d.agentID)
	})
	if err != nil {
		return "", err
	}
	return d.gateway.SendTurn(ctx, sess.Handle, text)
}

func (d *Dispatcher) notify(ctx context.Context, chatID int64, text string) {
	if err := d.notifier.SendMessage(ctx, chatID, text); err != nil {
		log.Printf("[relay] notify chat=%d failed: %v", chatID, err)
	}
}
