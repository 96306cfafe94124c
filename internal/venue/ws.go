package venue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sugawarayuuta/sonnet"
	"golang.org/x/time/rate"

	"arbflow/config"
	"arbflow/logger"
	"arbflow/models"
)

// WSConnection is the websocket implementation of Connection, used for
// all streaming protocols. A dedicated read goroutine stamps incoming
// frames with the receive time and forwards them to the data handler;
// reconnection, when configured, retries with a fixed delay up to the
// attempt limit and then parks the connection in the error state.
type WSConnection struct {
	cfg config.VenueConfig
	log *logger.Log

	mu      sync.Mutex
	wmu     sync.Mutex // serializes frame writes, gorilla allows one writer
	conn    *websocket.Conn
	state   State
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	subs    map[string]struct{}
	limiter *rate.Limiter

	onData  DataHandler
	onState StateHandler
	onError ErrorHandler
}

// NewWSConnection builds an unconnected websocket connection for cfg.
func NewWSConnection(cfg config.VenueConfig) *WSConnection {
	c := &WSConnection{
		cfg:   cfg,
		log:   logger.GetLogger(),
		state: StateDisconnected,
		subs:  make(map[string]struct{}),
	}
	if cfg.SendRateLimit > 0 {
		burst := cfg.SendRateBurst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.SendRateLimit), burst)
	}
	return c
}

func (c *WSConnection) Protocol() models.Protocol { return c.cfg.Protocol }

func (c *WSConnection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *WSConnection) OnData(h DataHandler)         { c.onData = h }
func (c *WSConnection) OnStateChange(h StateHandler) { c.onState = h }
func (c *WSConnection) OnError(h ErrorHandler)       { c.onError = h }

// setState transitions under the lock and fires the state callback
// outside it so a slow observer cannot stall the connection.
func (c *WSConnection) setState(s State) {
	c.mu.Lock()
	changed := c.state != s
	c.state = s
	handler := c.onState
	c.mu.Unlock()
	if changed && handler != nil {
		handler(s)
	}
}

func (c *WSConnection) emitError(err error) {
	if c.onError != nil {
		c.onError(err)
	}
}

// Connect dials the venue. A connection that previously ended in the
// error state is reusable: Connect resets it and tries fresh.
func (c *WSConnection) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnecting || c.state == StateConnected {
		c.mu.Unlock()
		return fmt.Errorf("connection to %s already active", c.cfg.Protocol)
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	c.setState(StateConnecting)
	conn, err := c.dial()
	if err != nil {
		c.setState(StateError)
		c.emitError(err)
		return fmt.Errorf("connect %s: %w", c.cfg.Protocol, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.setState(StateConnected)

	c.wg.Add(1)
	go c.readLoop()
	if c.cfg.PingInterval > 0 {
		c.wg.Add(1)
		go c.pingLoop()
	}
	return nil
}

func (c *WSConnection) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
		}
		c.mu.Lock()
		conn := c.conn
		state := c.state
		c.mu.Unlock()
		if state != StateConnected || conn == nil {
			continue
		}
		c.wmu.Lock()
		err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
		c.wmu.Unlock()
		if err != nil {
			c.log.WithComponent("ws_connection").WithError(err).WithFields(logger.Fields{
				"protocol": string(c.cfg.Protocol),
			}).Warn("ping failed")
		}
	}
}

func (c *WSConnection) dial() (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	if dialer.HandshakeTimeout <= 0 {
		dialer.HandshakeTimeout = 10 * time.Second
	}
	conn, _, err := dialer.DialContext(c.ctx, c.cfg.URL, nil)
	return conn, err
}

// Disconnect stops the read loop and closes the socket. Idempotent.
func (c *WSConnection) Disconnect() error {
	c.mu.Lock()
	if c.cancel != nil {
		c.cancel()
	}
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		c.wmu.Lock()
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.wmu.Unlock()
		_ = conn.Close()
	}
	c.wg.Wait()
	c.setState(StateDisconnected)
	return nil
}

// Send writes one binary frame, honoring the per-venue send rate limit.
func (c *WSConnection) Send(data []byte) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	ctx := c.ctx
	c.mu.Unlock()

	if state != StateConnected || conn == nil {
		return fmt.Errorf("send to %s: connection %s", c.cfg.Protocol, state)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("send to %s: %w", c.cfg.Protocol, err)
		}
	}
	c.wmu.Lock()
	err := conn.WriteMessage(websocket.BinaryMessage, data)
	c.wmu.Unlock()
	if err != nil {
		return fmt.Errorf("send to %s: %w", c.cfg.Protocol, err)
	}
	return nil
}

type subscribeFrame struct {
	Op      string `json:"op"`
	Channel string `json:"channel"`
}

// Subscribe registers interest in a venue channel. Registered channels
// are replayed after every reconnect.
func (c *WSConnection) Subscribe(channel string) error {
	c.mu.Lock()
	c.subs[channel] = struct{}{}
	c.mu.Unlock()
	return c.sendControl(subscribeFrame{Op: "subscribe", Channel: channel})
}

// Unsubscribe removes interest in a venue channel.
func (c *WSConnection) Unsubscribe(channel string) error {
	c.mu.Lock()
	delete(c.subs, channel)
	c.mu.Unlock()
	return c.sendControl(subscribeFrame{Op: "unsubscribe", Channel: channel})
}

func (c *WSConnection) sendControl(frame subscribeFrame) error {
	c.mu.Lock()
	conn := c.conn
	state := c.state
	c.mu.Unlock()

	if state != StateConnected || conn == nil {
		return fmt.Errorf("%s %s: connection %s", frame.Op, frame.Channel, state)
	}
	payload, err := sonnet.Marshal(frame)
	if err != nil {
		return fmt.Errorf("%s %s: %w", frame.Op, frame.Channel, err)
	}
	c.wmu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, payload)
	c.wmu.Unlock()
	if err != nil {
		return fmt.Errorf("%s %s: %w", frame.Op, frame.Channel, err)
	}
	return nil
}

func (c *WSConnection) resubscribe() {
	c.mu.Lock()
	channels := make([]string, 0, len(c.subs))
	for ch := range c.subs {
		channels = append(channels, ch)
	}
	c.mu.Unlock()

	for _, ch := range channels {
		if err := c.sendControl(subscribeFrame{Op: "subscribe", Channel: ch}); err != nil {
			c.log.WithComponent("ws_connection").WithError(err).Warn("resubscribe failed")
		}
	}
}

func (c *WSConnection) readLoop() {
	defer c.wg.Done()

	log := c.log.WithComponent("ws_connection").WithFields(logger.Fields{
		"protocol": string(c.cfg.Protocol),
	})

	for {
		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			if c.ctx.Err() != nil {
				return // deliberate disconnect
			}
			log.WithError(err).Warn("websocket read failed")
			if !c.cfg.AutoReconnect {
				c.setState(StateError)
				c.emitError(err)
				return
			}
			if !c.reconnect(log) {
				return
			}
			continue
		}

		if c.onData != nil {
			c.onData(models.RawPacket{
				Protocol: c.cfg.Protocol,
				Data:     data,
				Received: time.Now(),
			})
		}
	}
}

// reconnect retries the dial up to the configured attempt limit,
// replaying subscriptions on success. Returns false when the limit is
// exhausted and the connection has moved to the error state.
func (c *WSConnection) reconnect(log *logger.Entry) bool {
	c.setState(StateReconnecting)

	for attempt := 1; attempt <= c.cfg.MaxReconnects; attempt++ {
		select {
		case <-c.ctx.Done():
			return false
		case <-time.After(c.cfg.ReconnectDelay):
		}

		conn, err := c.dial()
		if err != nil {
			log.WithError(err).WithFields(logger.Fields{"attempt": attempt}).Warn("reconnect attempt failed")
			continue
		}

		c.mu.Lock()
		c.conn = conn
		c.mu.Unlock()
		c.setState(StateConnected)
		c.resubscribe()
		log.WithFields(logger.Fields{"attempt": attempt}).Info("reconnected")
		return true
	}

	err := fmt.Errorf("reconnect to %s failed after %d attempts", c.cfg.Protocol, c.cfg.MaxReconnects)
	c.setState(StateError)
	c.emitError(err)
	return false
}
