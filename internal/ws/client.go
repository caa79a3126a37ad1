package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/fathima-sithara/chat-sync/internal/roster"
	"github.com/fathima-sithara/chat-sync/internal/session"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const requestTimeout = 10 * time.Second

// Client represents a single websocket connection and the chat session behind it.
type Client struct {
	ws      *websocket.Conn
	send    chan []byte
	sess    *session.Session
	limiter *rate.Limiter
	log     *zap.SugaredLogger
	ping    time.Duration

	mu     sync.Mutex
	closed bool
}

func newClient(conn *websocket.Conn, rps int, ping time.Duration, log *zap.SugaredLogger) *Client {
	if rps <= 0 {
		rps = 20
	}
	return &Client{
		ws:      conn,
		send:    make(chan []byte, 256),
		limiter: rate.NewLimiter(rate.Limit(rps), rps),
		log:     log,
		ping:    ping,
	}
}

// push queues env for the writer. It never blocks: a client whose buffer is full is closed.
func (c *Client) push(env Envelope) {
	b, err := json.Marshal(env)
	if err != nil {
		c.log.Warnw("marshal envelope", "type", env.Type, "error", err)
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- b:
	default:
		c.log.Warnw("slow consumer, closing connection")
		c.closed = true
		close(c.send)
	}
}

func (c *Client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// readPump reads frames from the connection and routes them to the session.
func (c *Client) readPump(maxSize int64) {
	c.ws.SetReadLimit(maxSize)
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		if !c.limiter.Allow() {
			c.push(Envelope{Type: TypeError, Error: "rate limited"})
			continue
		}
		var in Inbound
		if err := json.Unmarshal(data, &in); err != nil {
			c.push(Envelope{Type: TypeError, Error: "malformed frame"})
			continue
		}
		c.handle(in)
	}
}

func (c *Client) handle(in Inbound) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	switch in.Type {
	case TypeSelect:
		p, err := c.sess.Select(ctx, in.ID)
		if err != nil {
			c.push(Envelope{Type: TypeError, Error: err.Error()})
			return
		}
		c.push(Envelope{Type: TypeSelected, Data: p})

	case TypeDeselect:
		c.sess.Deselect()

	case TypeSend:
		m, err := c.sess.Send(ctx, in.Text)
		if err != nil {
			c.push(Envelope{Type: TypeError, Error: err.Error(), Draft: in.Text})
			return
		}
		c.push(Envelope{Type: TypeSent, Data: m})

	case TypeSearch:
		if roster.LooksLikeID(in.Query) {
			if p, err := c.sess.FindByID(ctx, in.Query); err == nil {
				c.push(Envelope{Type: TypeResults, Data: roster.Snapshot{*p}})
				return
			}
		}
		c.push(Envelope{Type: TypeResults, Data: c.sess.Search(in.Query)})

	case TypeFind:
		p, err := c.sess.FindByID(ctx, in.ID)
		if err != nil {
			c.push(Envelope{Type: TypeError, Error: err.Error()})
			return
		}
		c.push(Envelope{Type: TypeResults, Data: roster.Snapshot{*p}})

	case TypeRefresh:
		if _, err := c.sess.Refresh(ctx); err != nil {
			c.push(Envelope{Type: TypeError, Error: err.Error()})
		}

	default:
		c.push(Envelope{Type: TypeError, Error: "unknown frame type " + in.Type})
	}
}

// writePump writes queued frames to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.ping)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteMessage(websocket.PingMessage, []byte{}); err != nil {
				return
			}
		}
	}
}
