package venue

import (
	"context"
	"fmt"
	"sync"

	"arbflow/logger"
	"arbflow/models"
)

// Pool holds the connections the engine may route through. Lookup by
// protocol returns the first connected match; callers that need a
// specific instance keep their own reference.
type Pool struct {
	mu    sync.RWMutex
	max   int
	conns []Connection
	log   *logger.Log
}

// NewPool creates a pool that holds at most max connections.
func NewPool(max int) *Pool {
	return &Pool{max: max, log: logger.GetLogger()}
}

// Add registers a connection. Fails when the pool is at capacity.
func (p *Pool) Add(conn Connection) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.conns) >= p.max {
		return fmt.Errorf("connection pool full (max %d)", p.max)
	}
	p.conns = append(p.conns, conn)
	return nil
}

// Get returns the first connected connection for the protocol, or false
// when none is currently connected.
func (p *Pool) Get(protocol models.Protocol) (Connection, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, conn := range p.conns {
		if conn.Protocol() == protocol && conn.State() == StateConnected {
			return conn, true
		}
	}
	return nil, false
}

// Connections returns a snapshot of all held connections.
func (p *Pool) Connections() []Connection {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Connection, len(p.conns))
	copy(out, p.conns)
	return out
}

// ConnectAll dials every connection, collecting the first error but
// attempting all of them.
func (p *Pool) ConnectAll(ctx context.Context) error {
	var firstErr error
	for _, conn := range p.Connections() {
		if err := conn.Connect(ctx); err != nil {
			p.log.WithComponent("connection_pool").WithError(err).WithFields(logger.Fields{
				"protocol": string(conn.Protocol()),
			}).Error("connect failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// DisconnectAll closes every connection.
func (p *Pool) DisconnectAll() {
	for _, conn := range p.Connections() {
		if err := conn.Disconnect(); err != nil {
			p.log.WithComponent("connection_pool").WithError(err).WithFields(logger.Fields{
				"protocol": string(conn.Protocol()),
			}).Warn("disconnect failed")
		}
	}
}
