// Package chat defines the gateway-neutral message types shared by the
// gateway drivers and the pipeline.
package chat

import "context"

// TypeIncoming is the event type of a message a user sent to the bot.
const TypeIncoming = "incomingMessageReceived"

// Event is one inbound gateway notification. Absent fields are "".
type Event struct {
	ChatID    string
	SenderID  string
	Text      string
	Type      string
	MessageID string
}

// Outbound is a message the bot sends back.
type Outbound struct {
	ChatID   string
	Body     string
	ImageURL string
}

// Messenger sends messages through a gateway.
type Messenger interface {
	SendText(ctx context.Context, chatID, body string) error
	SendImage(ctx context.Context, chatID, imageURL, caption string) error
}

// Dispatcher accepts events for background processing. Dispatch must not
// block on downstream work.
type Dispatcher interface {
	Dispatch(ev Event)
}
