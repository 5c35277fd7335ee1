package auction

import "slices"

// Client is one registered bidder. Outbox is the channel the connection's
// writer goroutine drains; the registry owns it and closes it exactly once,
// on unregister.
type Client struct {
	Username string
	Balance  int
	WonItems []string
	Outbox   chan []byte

	seq int
}

// Registry is the authoritative set of connected bidders, keyed by username.
type Registry struct {
	clients map[string]*Client
	nextSeq int
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[string]*Client)}
}

func (r *Registry) Register(username string, balance int, outbox chan []byte) (*Client, error) {
	if _, exists := r.clients[username]; exists {
		return nil, ErrDuplicateUsername
	}
	c := &Client{
		Username: username,
		Balance:  balance,
		Outbox:   outbox,
		seq:      r.nextSeq,
	}
	r.nextSeq++
	r.clients[username] = c
	return c, nil
}

// Unregister removes a client and closes its outbox. Safe to call for a
// username that is not registered; teardown can race between the reader
// noticing EOF and a broadcast dropping the same client.
func (r *Registry) Unregister(username string) {
	c, exists := r.clients[username]
	if !exists {
		return
	}
	delete(r.clients, username)
	close(c.Outbox)
}

func (r *Registry) Get(username string) (*Client, error) {
	c, exists := r.clients[username]
	if !exists {
		return nil, ErrUnknownClient
	}
	return c, nil
}

func (r *Registry) Len() int { return len(r.clients) }

// Snapshot returns the registered clients in registration order, for roster
// display and broadcast fan-out.
func (r *Registry) Snapshot() []*Client {
	clients := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		clients = append(clients, c)
	}
	slices.SortFunc(clients, func(a, b *Client) int { return a.seq - b.seq })
	return clients
}
