package chat

import "time"

// Session binds a Telegram chat to a live Retell conversation.
// Handle is assigned by Retell at creation time and never changes for the
// lifetime of the session; a new handle always means a new session.
type Session struct {
	ChatID       int64     `json:"chatId"`
	Handle       string    `json:"handle"`
	CreatedAt    time.Time `json:"createdAt"`
	LastActivity time.Time `json:"lastActivity"`
}
