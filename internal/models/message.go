package models

import "time"

// Direction tells whether a message was received or sent by this account.
type Direction string

const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Message is the slice of a stored message the receipt engine works with.
//
// ID doubles as the store-order position (sort id) of the message within the
// store. Timestamp is the message-id timestamp of an incoming message or the
// sent timestamp of an outgoing one. Timestamps are protocol milliseconds and
// zero means unset.
type Message struct {
	ID            int64     `json:"id"`
	ThreadID      string    `json:"threadId"`
	Direction     Direction `json:"direction"`
	Sender        string    `json:"sender,omitempty"`
	Timestamp     uint64    `json:"timestamp"`
	Read          bool      `json:"read"`
	ReadTimestamp uint64    `json:"readTimestamp,omitempty"`
	// RecipientReads maps recipient address to the earliest read timestamp
	// reported by that recipient. Only populated for outgoing messages.
	RecipientReads map[string]uint64 `json:"recipientReads,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
}

// IsIncoming reports whether the message was received from another participant.
func (m *Message) IsIncoming() bool {
	return m.Direction == DirectionIncoming
}

// IsOutgoing reports whether the message was sent by this account.
func (m *Message) IsOutgoing() bool {
	return m.Direction == DirectionOutgoing
}

// Thread is the conversation a message belongs to.
type Thread struct {
	ID                       string    `json:"id"`
	HasPendingMessageRequest bool      `json:"hasPendingMessageRequest"`
	UpdatedAt                time.Time `json:"updatedAt"`
}
