package models

// Protocol identifies a venue and the transport used to reach it. It is
// fixed per connection and used as the routing key across the whole
// pipeline: normalizer dispatch, connection-pool lookup and order routing.
type Protocol string

const (
	ProtocolPolyREST     Protocol = "poly_rest"
	ProtocolPolyStream   Protocol = "poly_stream"
	ProtocolKalshiREST   Protocol = "kalshi_rest"
	ProtocolKalshiStream Protocol = "kalshi_stream"
	ProtocolDexStream    Protocol = "dex_stream"
	ProtocolUnknown      Protocol = "unknown"
)

// Valid reports whether p is one of the recognized protocol tags.
func (p Protocol) Valid() bool {
	switch p {
	case ProtocolPolyREST, ProtocolPolyStream, ProtocolKalshiREST,
		ProtocolKalshiStream, ProtocolDexStream:
		return true
	}
	return false
}

// Side is the order or trade aggressor side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Sign returns +1 for a buy and -1 for a sell, used when applying fills
// to signed positions.
func (s Side) Sign() float64 {
	if s == SideBuy {
		return 1
	}
	return -1
}
