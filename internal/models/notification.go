package models

import "time"

// Notification is an in-app message for one user. (EventID, UserID) is unique
// so redelivered events do not duplicate rows.
type Notification struct {
	ID        string    `db:"id" json:"id"`
	UserID    string    `db:"user_id" json:"user_id"`
	EventID   string    `db:"event_id" json:"event_id"`
	Type      string    `db:"type" json:"type"`
	Title     string    `db:"title" json:"title"`
	Message   string    `db:"message" json:"message"`
	OrderID   *string   `db:"order_id" json:"order_id,omitempty"`
	IsRead    bool      `db:"is_read" json:"is_read"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// NewNotification creates an unread notification for userID
func NewNotification(userID, eventID, notificationType, title, message string, orderID *string, now time.Time) *Notification {
	return &Notification{
		ID:        GenerateID("ntf"),
		UserID:    userID,
		EventID:   eventID,
		Type:      notificationType,
		Title:     title,
		Message:   message,
		OrderID:   orderID,
		CreatedAt: now,
	}
}
