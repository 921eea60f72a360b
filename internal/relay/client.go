package relay

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	handshakeTimeout = 10 * time.Second
	writeTimeout     = 5 * time.Second
)

// Client is a websocket connection to a single relay. The connection is
// opened lazily on first use and a single read loop demultiplexes incoming
// events to active subscriptions by subscription id.
type Client struct {
	url string

	connMu  sync.Mutex
	conn    *websocket.Conn
	writeMu sync.Mutex

	subMu sync.Mutex
	subs  map[string]*subChannel
}

type subChannel struct {
	events chan RawEvent
	eose   chan struct{}
	done   chan struct{}
}

// Subscription is a live stream of events from one or more relays. Close
// must be called when the consumer is torn down; events stop arriving after
// Close returns.
type Subscription struct {
	Events <-chan RawEvent

	closeOnce sync.Once
	closeFn   func()
}

func (s *Subscription) Close() {
	s.closeOnce.Do(s.closeFn)
}

// NewClient creates a client for one relay URL. No connection is made until
// the first fetch or subscribe.
func NewClient(relayURL string) *Client {
	return &Client{
		url:  relayURL,
		subs: make(map[string]*subChannel),
	}
}

func (c *Client) URL() string { return c.url }

// Host returns the relay's host for rate-limiting purposes.
func (c *Client) Host() string {
	u, err := url.Parse(c.url)
	if err != nil {
		return c.url
	}
	return u.Host
}

func (c *Client) connect(ctx context.Context) (*websocket.Conn, error) {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}

	dialer := websocket.Dialer{
		HandshakeTimeout:  handshakeTimeout,
		EnableCompression: true,
	}

	conn, resp, err := dialer.DialContext(ctx, c.url, nil)
	if resp != nil {
		defer resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial %s (HTTP %d): %w", c.url, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial %s: %w", c.url, err)
	}

	c.conn = conn
	go c.readLoop(conn)
	return conn, nil
}

// Close tears down the connection and all active subscriptions. Only the
// pool (the lifecycle owner) calls this.
func (c *Client) Close() {
	c.connMu.Lock()
	conn := c.conn
	c.conn = nil
	c.connMu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer c.dropConn(conn)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		c.dispatch(data)
	}
}

// dropConn clears the stored connection if it is still the one this read
// loop was started for, and wakes all pending subscriptions.
func (c *Client) dropConn(conn *websocket.Conn) {
	c.connMu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	c.connMu.Unlock()
	conn.Close()

	c.subMu.Lock()
	for id, sub := range c.subs {
		close(sub.eose)
		delete(c.subs, id)
	}
	c.subMu.Unlock()
}

func (c *Client) dispatch(data []byte) {
	var arr []json.RawMessage
	if err := json.Unmarshal(data, &arr); err != nil || len(arr) < 2 {
		return
	}

	var label string
	if err := json.Unmarshal(arr[0], &label); err != nil {
		return
	}

	var subID string
	if err := json.Unmarshal(arr[1], &subID); err != nil {
		return
	}

	c.subMu.Lock()
	sub, ok := c.subs[subID]
	c.subMu.Unlock()
	if !ok {
		return
	}

	switch label {
	case "EVENT":
		if len(arr) < 3 {
			return
		}
		var ev RawEvent
		if err := json.Unmarshal(arr[2], &ev); err != nil {
			return
		}
		select {
		case sub.events <- ev:
		case <-sub.done:
		}
	case "EOSE", "CLOSED":
		select {
		case sub.eose <- struct{}{}:
		case <-sub.done:
		default:
		}
	}
}

func (c *Client) writeJSON(conn *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *Client) openSub(ctx context.Context, filter Filter, buffer int) (string, *subChannel, *websocket.Conn, error) {
	conn, err := c.connect(ctx)
	if err != nil {
		return "", nil, nil, err
	}

	subID := uuid.NewString()[:12]
	sub := &subChannel{
		events: make(chan RawEvent, buffer),
		eose:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}

	c.subMu.Lock()
	c.subs[subID] = sub
	c.subMu.Unlock()

	if err := c.writeJSON(conn, []interface{}{"REQ", subID, filter}); err != nil {
		c.closeSub(conn, subID, sub)
		return "", nil, nil, fmt.Errorf("send REQ to %s: %w", c.url, err)
	}

	return subID, sub, conn, nil
}

func (c *Client) closeSub(conn *websocket.Conn, subID string, sub *subChannel) {
	c.subMu.Lock()
	if _, ok := c.subs[subID]; ok {
		delete(c.subs, subID)
		close(sub.done)
	}
	c.subMu.Unlock()

	// Best effort; the relay also drops the subscription when the
	// connection goes away.
	_ = c.writeJSON(conn, []interface{}{"CLOSE", subID})
}

// Fetch requests all stored events matching filter and returns once the
// relay signals end-of-stored-events or ctx expires. On ctx expiry the
// events received so far are returned along with the context error.
func (c *Client) Fetch(ctx context.Context, filter Filter) ([]RawEvent, error) {
	filter = filter.NormalizeLimit()

	subID, sub, conn, err := c.openSub(ctx, filter, filter.Limit)
	if err != nil {
		return nil, err
	}
	defer c.closeSub(conn, subID, sub)

	events := make([]RawEvent, 0)
	for {
		select {
		case ev := <-sub.events:
			if filter.Matches(ev) {
				events = append(events, ev)
			}
			if len(events) >= filter.Limit {
				return events, nil
			}
		case <-sub.eose:
			// The relay sends stored events before EOSE, but a select
			// picks among ready cases at random; drain what is already
			// buffered before reporting end-of-stored-events.
			for {
				select {
				case ev := <-sub.events:
					if filter.Matches(ev) {
						events = append(events, ev)
					}
					if len(events) >= filter.Limit {
						return events, nil
					}
				default:
					return events, nil
				}
			}
		case <-ctx.Done():
			return events, ctx.Err()
		}
	}
}

// Stream opens a long-lived subscription on this relay. Events continue
// past EOSE until the subscription is closed.
func (c *Client) Stream(ctx context.Context, filter Filter) (*Subscription, error) {
	filter = filter.NormalizeLimit()

	subID, sub, conn, err := c.openSub(ctx, filter, 64)
	if err != nil {
		return nil, err
	}

	out := make(chan RawEvent, 64)
	stop := make(chan struct{})

	go func() {
		defer close(out)
		for {
			select {
			case ev := <-sub.events:
				if !filter.Matches(ev) {
					continue
				}
				select {
				case out <- ev:
				case <-stop:
					return
				}
			case <-stop:
				return
			case <-ctx.Done():
				return
			}
		}
	}()

	return &Subscription{
		Events: out,
		closeFn: func() {
			close(stop)
			c.closeSub(conn, subID, sub)
		},
	}, nil
}
