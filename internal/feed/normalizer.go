// Package feed turns venue-specific byte payloads into the closed set of
// normalized messages the rest of the pipeline consumes. All endianness
// and framing details stay behind the Parser implementations here.
package feed

import (
	"sync/atomic"

	"arbflow/models"
)

// Parser converts one raw packet into a normalized message. The boolean
// is false for malformed, truncated or unrecognized payloads; such
// packets are dropped, never retried (a truncated packet cannot be
// completed). Implementations must never read past the buffer and must
// tag messages with their own protocol, not one embedded in the payload.
type Parser interface {
	Parse(pkt models.RawPacket) (models.NormalizedMessage, bool)
}

// Registry dispatches raw packets to the parser registered for their
// protocol tag. It is built once at startup and handed to the components
// that need it; there is no process-wide instance.
type Registry struct {
	parsers map[models.Protocol]Parser

	normalized atomic.Uint64
	dropped    atomic.Uint64
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[models.Protocol]Parser)}
}

// Register installs a parser for a protocol. Registering a second parser
// for the same protocol replaces the first. Not safe to call concurrently
// with Normalize; register everything before the feeds start.
func (r *Registry) Register(p models.Protocol, parser Parser) {
	r.parsers[p] = parser
}

// Normalize routes pkt to the matching parser. Unknown protocols and
// parse failures count as drops and return false.
func (r *Registry) Normalize(pkt models.RawPacket) (models.NormalizedMessage, bool) {
	parser, ok := r.parsers[pkt.Protocol]
	if !ok {
		r.dropped.Add(1)
		return nil, false
	}
	msg, ok := parser.Parse(pkt)
	if !ok {
		r.dropped.Add(1)
		return nil, false
	}
	r.normalized.Add(1)
	return msg, true
}

// Stats reports how many packets were normalized and dropped.
func (r *Registry) Stats() (normalized, dropped uint64) {
	return r.normalized.Load(), r.dropped.Load()
}
