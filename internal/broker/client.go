package broker

import (
	"time"

	"github.com/google/uuid"
)

type query struct {
	id         uuid.UUID
	pattern    *Pattern
	provideRPC bool
	members    map[string]struct{}
}

type invocation struct {
	id              uuid.UUID
	callerID        uuid.UUID
	callerRequestID interface{}
	queryID         uuid.UUID
	startedAt       time.Time
}

// clientRecord is everything the broker tracks for one connected client.
// Reachable only under the broker's lock.
type clientRecord struct {
	id                  uuid.UUID
	inbox               *inbox
	queries             []*query
	invocations         []*invocation
	disconnectCommands  []Command
	nextStreamIndex     uint32
	streams             map[uint32]uuid.UUID // local index -> stream id
}

func newClientRecord(id uuid.UUID) *clientRecord {
	return &clientRecord{
		id:              id,
		inbox:           newInbox(),
		nextStreamIndex: 1,
		streams:         make(map[uint32]uuid.UUID),
	}
}

func (c *clientRecord) findQuery(id uuid.UUID) (*query, int) {
	for i, q := range c.queries {
		if q.id == id {
			return q, i
		}
	}
	return nil, -1
}

// Client is the public handle a transport holds for one connection. Its
// id identifies it to every broker operation; Inbox drains messages the
// broker has routed to it.
type Client struct {
	ID    uuid.UUID
	inbox *inbox
}

// Inbox returns the channel a transport should range over to receive
// messages destined for this client.
func (c *Client) Inbox() <-chan Message {
	return c.inbox.recv()
}
