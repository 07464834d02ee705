// Package sse pushes momentum events to connected clients over
// Server-Sent Events.
package sse

import (
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/momentum/pkg/models"
)

const (
	// WriteTimeout bounds a single write so a stale connection cannot stall
	// delivery to the others.
	WriteTimeout = 2 * time.Second

	// KeepAliveInterval is how often an idle stream gets a comment line.
	KeepAliveInterval = 30 * time.Second
)

// ErrClientDetached is returned by writes issued after the stream's handler
// has returned.
var ErrClientDetached = errors.New("sse client detached")

// Client is one open event stream belonging to a user.
type Client struct {
	Writer   http.ResponseWriter
	Flusher  http.Flusher
	Done     chan struct{}
	ID       string
	UserID   string
	mu       sync.Mutex
	once     sync.Once
	detached bool
}

func (c *Client) close() {
	c.once.Do(func() { close(c.Done) })
}

// write serializes writes so keep-alives and events never interleave. Each
// write carries a deadline so a stalled peer releases the lock.
func (c *Client) write(message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.detached {
		return ErrClientDetached
	}
	// Writers without deadline support (recorders, mocks) return an error here
	_ = http.NewResponseController(c.Writer).SetWriteDeadline(time.Now().Add(WriteTimeout))
	if _, err := c.Writer.Write([]byte(message)); err != nil {
		return err
	}
	c.Flusher.Flush()
	return nil
}

// detach waits for any in-flight write and blocks all later ones. After it
// returns the ResponseWriter is never touched again.
func (c *Client) detach() {
	c.mu.Lock()
	c.detached = true
	c.mu.Unlock()
}

// Broadcaster tracks connected clients and routes each event to the
// streams of the user it concerns. It implements engine.Notifier.
type Broadcaster struct {
	clients map[string]*Client
	mu      sync.RWMutex
	nextID  int
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]*Client),
	}
}

// AddClient registers a stream for userID.
func (b *Broadcaster) AddClient(w http.ResponseWriter, userID string) (*Client, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("streaming not supported")
	}

	b.mu.Lock()
	b.nextID++
	client := &Client{
		ID:      fmt.Sprintf("client-%d", b.nextID),
		UserID:  userID,
		Writer:  w,
		Flusher: flusher,
		Done:    make(chan struct{}),
	}
	b.clients[client.ID] = client
	count := len(b.clients)
	b.mu.Unlock()

	log.Debug().
		Str("client_id", client.ID).
		Str("user_id", userID).
		Int("total_clients", count).
		Msg("SSE client connected")
	return client, nil
}

// RemoveClient drops a client. Removing twice is harmless.
func (b *Broadcaster) RemoveClient(client *Client) {
	b.mu.Lock()
	_, existed := b.clients[client.ID]
	delete(b.clients, client.ID)
	count := len(b.clients)
	b.mu.Unlock()

	client.close()
	if existed {
		log.Debug().
			Str("client_id", client.ID).
			Int("total_clients", count).
			Msg("SSE client disconnected")
	}
}

// Notify delivers ev to every stream of ev.UserID. Clients whose writes fail
// or time out are dropped.
func (b *Broadcaster) Notify(ev models.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Error().Err(err).Str("type", string(ev.Type)).Msg("Failed to marshal SSE event")
		return
	}
	message := fmt.Sprintf("event: %s\ndata: %s\n\n", ev.Type, payload)

	b.mu.RLock()
	targets := make([]*Client, 0, 1)
	for _, c := range b.clients {
		if c.UserID == ev.UserID {
			targets = append(targets, c)
		}
	}
	b.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	dead := make(chan *Client, len(targets))
	var wg sync.WaitGroup
	for _, c := range targets {
		wg.Add(1)
		go func(c *Client) {
			defer wg.Done()
			if !b.writeToClient(c, message) {
				dead <- c
			}
		}(c)
	}
	wg.Wait()
	close(dead)

	for c := range dead {
		b.RemoveClient(c)
	}
}

// writeToClient reports whether the message reached the client in time.
func (b *Broadcaster) writeToClient(client *Client, message string) bool {
	result := make(chan error, 1)
	go func() { result <- client.write(message) }()

	select {
	case err := <-result:
		if errors.Is(err, ErrClientDetached) {
			return true
		}
		if err != nil {
			log.Debug().Err(err).Str("client_id", client.ID).Msg("Failed to write to SSE client, removing")
			return false
		}
		return true
	case <-time.After(WriteTimeout):
		log.Warn().
			Str("client_id", client.ID).
			Dur("timeout", WriteTimeout).
			Msg("SSE write timed out, removing client")
		return false
	case <-client.Done:
		return true
	}
}

// CloseAll ends every open stream. Serve returns for each of them.
func (b *Broadcaster) CloseAll() {
	b.mu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()

	for _, c := range clients {
		b.RemoveClient(c)
	}
}

// ClientCount returns the number of connected clients.
func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// UserClientCount returns the number of streams open for userID.
func (b *Broadcaster) UserClientCount(userID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	n := 0
	for _, c := range b.clients {
		if c.UserID == userID {
			n++
		}
	}
	return n
}

// Release unregisters a client and waits for pending writes to its
// ResponseWriter. Handlers must call it before returning.
func (b *Broadcaster) Release(client *Client) {
	b.RemoveClient(client)
	client.detach()
}

// Serve streams userID's events until the request ends.
func (b *Broadcaster) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	client, err := b.AddClient(w, userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer b.Release(client)

	if err := client.write(fmt.Sprintf("event: connected\ndata: {\"client_id\":%q}\n\n", client.ID)); err != nil {
		return
	}

	ticker := time.NewTicker(KeepAliveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-client.Done:
			return
		case <-ticker.C:
			if err := client.write(": keep-alive\n\n"); err != nil {
				return
			}
		}
	}
}
