// Package notify delivers out-of-band notifications to counterparties and
// account holders. Delivery is fire-and-forget: callers log failures and
// never let them fail a financial operation.
package notify

import "context"

// Notification is one outbound message.
type Notification struct {
	To       string `json:"to"`
	Subject  string `json:"subject"`
	BodyHTML string `json:"body_html,omitempty"`
	BodyText string `json:"body_text"`
}

// Notifier sends a notification to its recipient.
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// Nop discards every notification. Used in tests and brokerless dev.
type Nop struct{}

func (Nop) Send(context.Context, Notification) error { return nil }

var _ Notifier = Nop{}
