package models

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is one of the two roles a conversation can hold.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Label is the display name used in rendered notes.
func (r Role) Label() string {
	if r == RoleUser {
		return "User"
	}
	return "Rosa"
}

type Message struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

type Conversation struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Messages      []Message `json:"messages"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	FolderPath    string    `json:"folder_path"`
	ProviderID    string    `json:"provider_id"`
	Model         string    `json:"model"`
	PersonalityID string    `json:"personality_id"`
}

// Clone returns a copy that shares no message storage with c.
func (c *Conversation) Clone() Conversation {
	out := *c
	out.Messages = make([]Message, len(c.Messages))
	copy(out.Messages, c.Messages)
	return out
}

// Now returns the current instant in UTC at millisecond precision, which is
// the precision the note format can represent.
func Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}
