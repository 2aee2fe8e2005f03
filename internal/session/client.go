package session

import (
	"boardsync/internal/wire"
)

// Sender is the transport handle the registry delivers through. Send must be
// safe for concurrent use and must not block the caller; a slow consumer is
// the transport's problem, not the room's.
type Sender interface {
	Send(m wire.Message)
}

// Client is one connected participant. Its identity is minted by the
// registry, never supplied by the peer. Name and Color are written while
// holding the lock of the room being joined; roomID is guarded by the
// registry mutex.
type Client struct {
	ID     string
	Name   string
	Color  string
	roomID string

	sender Sender
}

// Send delivers a message to this client's transport.
func (c *Client) Send(m wire.Message) {
	c.sender.Send(m)
}

// Info returns the presence view of this client.
func (c *Client) Info() wire.UserInfo {
	return wire.UserInfo{UserID: c.ID, Name: c.Name, Color: c.Color}
}
