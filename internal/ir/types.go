package ir

import "time"

// Author is the display identity attached to a node at creation.
// It is trusted input; authorization happens above the store.
type Author struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Color  string `json:"color,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// Mention is a range of a node's text that refers to a user.
// Offset and Length count runes, not bytes.
type Mention struct {
	UserID   string `json:"user_id"`
	UserName string `json:"user_name"`
	Offset   int    `json:"offset"`
	Length   int    `json:"length"`
}

// ProjectedComment is one visible node of the projected tree.
// It holds plain values only and never aliases replicated state.
type ProjectedComment struct {
	ID        ID                 `json:"id"`
	Text      string             `json:"text"`
	Author    Author             `json:"author"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt *time.Time         `json:"updated_at,omitempty"`
	Mentions  []Mention          `json:"mentions"`
	Replies   []ProjectedComment `json:"replies"`
}

// Edited reports whether the comment's text was changed after creation.
func (c ProjectedComment) Edited() bool {
	return c.UpdatedAt != nil
}

// NotificationType classifies a Notification.
type NotificationType string

const (
	NotificationMention NotificationType = "mention"
	NotificationReply   NotificationType = "reply"
)

// Notification is an append-only record addressed to one recipient.
// Read is the only field that changes after creation, and only from false
// to true.
type Notification struct {
	ID          ID               `json:"id"`
	Type        NotificationType `json:"type"`
	CommentID   ID               `json:"comment_id"`
	Author      Author           `json:"author"`
	RecipientID string           `json:"recipient_id"`
	Content     string           `json:"content"`
	Timestamp   time.Time        `json:"timestamp"`
	Read        bool             `json:"read"`
}

// ChangeAction names what a ChangeLogEntry records.
type ChangeAction string

const (
	ChangeAdd    ChangeAction = "add"
	ChangeEdit   ChangeAction = "edit"
	ChangeDelete ChangeAction = "delete"
)

// ChangeLogEntry is an append-only history record for one comment.
type ChangeLogEntry struct {
	ID        ID           `json:"id"`
	UserID    string       `json:"user_id"`
	Action    ChangeAction `json:"action"`
	CommentID ID           `json:"comment_id"`
	Details   string       `json:"details,omitempty"`
	Timestamp time.Time    `json:"timestamp"`
}
