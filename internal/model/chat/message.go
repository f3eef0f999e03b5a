package chat

// InboundMessage is one user message extracted from a Telegram update.
// IsEnd marks the explicit end-of-conversation command; the relay must
// never forward such a message to the backend.
type InboundMessage struct {
	ChatID int64  `json:"chatId"`
	Text   string `json:"text"`
	IsEnd  bool   `json:"isEnd"`
}
