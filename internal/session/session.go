// Package session tracks which users are logged in and which push channel,
// if any, is bound to each of them.
package session

import "time"

// Status is the lifecycle state of a session.
type Status int

const (
	Anonymous Status = iota
	Authenticated
	LoggedOut
)

func (s Status) String() string {
	switch s {
	case Authenticated:
		return "authenticated"
	case LoggedOut:
		return "logged_out"
	default:
		return "anonymous"
	}
}

// Channel is a live push channel as seen by the registry. The registry never
// owns a channel; it only closes one it is replacing or detaching.
type Channel interface {
	// ID identifies the channel for compare-and-clear on close.
	ID() string
	// Send queues payload for delivery. It returns common.ErrChannelClosed
	// once the channel is closed.
	Send(payload []byte) error
	// Close closes the channel. It must be safe to call more than once.
	Close() error
	// Closed reports whether Close has begun.
	Closed() bool
}

// Session is a point-in-time view of one user's session.
type Session struct {
	ID         string
	Username   string
	Status     Status
	Channel    Channel
	LoggedInAt time.Time
}

// HasChannel reports whether a channel is bound.
func (s Session) HasChannel() bool {
	return s.Channel != nil
}
