package models

import "fmt"

// ReadCircumstance describes how a message came to be read. It decides which
// outgoing signals are produced when the message is marked read.
type ReadCircumstance int

const (
	ReadOnLinkedDevice ReadCircumstance = iota
	ReadOnLinkedDeviceWhilePendingMessageRequest
	ReadOnThisDevice
	ReadOnThisDeviceWhilePendingMessageRequest
)

// CircumstanceFor picks the circumstance for a read on this device or on a
// linked device, taking the thread's message request state into account.
func CircumstanceFor(onLinkedDevice, hasPendingMessageRequest bool) ReadCircumstance {
	switch {
	case onLinkedDevice && hasPendingMessageRequest:
		return ReadOnLinkedDeviceWhilePendingMessageRequest
	case onLinkedDevice:
		return ReadOnLinkedDevice
	case hasPendingMessageRequest:
		return ReadOnThisDeviceWhilePendingMessageRequest
	default:
		return ReadOnThisDevice
	}
}

// Valid reports whether c is one of the known circumstances.
func (c ReadCircumstance) Valid() bool {
	return c >= ReadOnLinkedDevice && c <= ReadOnThisDeviceWhilePendingMessageRequest
}

// IsPendingMessageRequest reports whether the read happened while the
// thread's message request was still pending.
func (c ReadCircumstance) IsPendingMessageRequest() bool {
	return c == ReadOnLinkedDeviceWhilePendingMessageRequest ||
		c == ReadOnThisDeviceWhilePendingMessageRequest
}

func (c ReadCircumstance) String() string {
	switch c {
	case ReadOnLinkedDevice:
		return "read_on_linked_device"
	case ReadOnLinkedDeviceWhilePendingMessageRequest:
		return "read_on_linked_device_pending_request"
	case ReadOnThisDevice:
		return "read_on_this_device"
	case ReadOnThisDeviceWhilePendingMessageRequest:
		return "read_on_this_device_pending_request"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}
