package chat

import "time"

// Sender identifies who produced a message in the conversation log.
type Sender string

const (
	SenderUser Sender = "user"
	SenderBot  Sender = "bot"
	// SenderError marks an inline failure notice, only emitted when error notices are enabled.
	SenderError Sender = "error"
)

// Message is one immutable entry of the conversation log.
// User content is plain text, bot content is rendered markup.
type Message struct {
	ID        string    `json:"id"`
	Sender    Sender    `json:"sender"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"createdAt"`
}
