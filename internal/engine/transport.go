package engine

import (
	"fmt"

	"arbflow/internal/venue"
	"arbflow/models"
)

// PoolTransport routes serialized orders through the venue connection
// pool. An order addressed to a venue with no connected session fails
// immediately rather than queueing.
type PoolTransport struct {
	pool *venue.Pool
}

// NewPoolTransport wraps a connection pool as an order transport.
func NewPoolTransport(pool *venue.Pool) *PoolTransport {
	return &PoolTransport{pool: pool}
}

// Send delivers the payload over the venue's connection.
func (t *PoolTransport) Send(protocol models.Protocol, payload []byte) error {
	conn, ok := t.pool.Get(protocol)
	if !ok {
		return fmt.Errorf("no connected venue for protocol %s", protocol)
	}
	return conn.Send(payload)
}
