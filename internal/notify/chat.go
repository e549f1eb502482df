package notify

import (
	"context"
	"time"
)

const (
	SystemUsername = "System"

	ColorAlert    = "text-red-400"
	ColorProgress = "text-yellow-400"
	ColorVerified = "text-green-400"
)

// ChatMessage mirrors the chat room's message shape.
type ChatMessage struct {
	Content     string `json:"content"`
	Type        string `json:"type"`
	CreatedAt   int64  `json:"createdAt"`
	UserAddress string `json:"userAddress"`
	Username    string `json:"username"`
	ImageURL    string `json:"imageUrl"`
	Color       string `json:"color"`
	ProfilePic  string `json:"profilePic"`
}

// ChatPublisher delivers a message to the chat room.
type ChatPublisher interface {
	Publish(ctx context.Context, msg ChatMessage) error
}

func systemMessage(content, color string, now time.Time) ChatMessage {
	return ChatMessage{
		Content:   content,
		Type:      "text",
		CreatedAt: now.UnixMilli(),
		Username:  SystemUsername,
		Color:     color,
	}
}
