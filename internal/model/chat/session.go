package chat

import "time"

// Session captures the host-shell state of one widget: which microservice it talks to
// and whether the chat window (and therefore a conversation) is mounted.
type Session struct {
	ID               string    `json:"id"`
	MicroserviceHost string    `json:"microserviceHost,omitempty"`
	ChatOpen         bool      `json:"chatOpen"`
	CreatedAt        time.Time `json:"createdAt"`
	LastSeen         time.Time `json:"lastSeen"`
}

// Configured reports whether a microservice host has been set.
func (s Session) Configured() bool {
	return s.MicroserviceHost != ""
}

// KnowledgeSourceURL points at the microservice's interactive API docs, where
// documents are uploaded into the knowledge base.
func (s Session) KnowledgeSourceURL() string {
	if !s.Configured() {
		return ""
	}
	return s.MicroserviceHost + "/docs"
}
