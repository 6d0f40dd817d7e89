// internal/models/chat.go
package models

type Role string

const (
	RoleUser   Role = "user"
	RoleModel  Role = "model"
	RoleSystem Role = "system"
)

type ChatMessage struct {
	ID        string `json:"id"`
	Role      Role   `json:"role"`
	Text      string `json:"text"`
	Timestamp int64  `json:"timestamp"`
}

type Toast struct {
	Message string `json:"message"`
	Visible bool   `json:"visible"`
}
