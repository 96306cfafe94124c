package feed

import (
	"bytes"
	"encoding/binary"
	"math"

	"arbflow/models"
)

// Binary streaming wire format, shared by the streaming venues:
//
//	offset 0  uint16  message type (big endian)
//	offset 2  uint16  flags
//	offset 4  uint32  sequence number (big endian)
//	offset 8  ...     type-specific payload
//
// Market and order ids are 16-byte fixed strings, zero padded. All
// numeric price/size fields are big-endian IEEE-754 doubles at fixed
// offsets after the id block.
const (
	binHeaderLen = 8
	binIDLen     = 16

	binMsgQuote    = 1
	binMsgSnapshot = 2
	binMsgTrade    = 3
	binMsgFill     = 4
)

// BinaryParser decodes the streaming wire format above. One instance per
// connection protocol; the parser stamps its own protocol tag on every
// message it produces.
type BinaryParser struct {
	protocol models.Protocol
}

// NewBinaryParser returns a parser producing messages tagged with p.
func NewBinaryParser(p models.Protocol) *BinaryParser {
	return &BinaryParser{protocol: p}
}

// Parse implements Parser.
func (b *BinaryParser) Parse(pkt models.RawPacket) (models.NormalizedMessage, bool) {
	buf := pkt.Data
	if len(buf) < binHeaderLen {
		return nil, false
	}
	msgType := binary.BigEndian.Uint16(buf[0:2])
	seq := binary.BigEndian.Uint32(buf[4:8])
	payload := buf[binHeaderLen:]

	switch msgType {
	case binMsgQuote:
		return b.parseQuote(pkt, payload, seq)
	case binMsgSnapshot:
		return b.parseSnapshot(pkt, payload, seq)
	case binMsgTrade:
		return b.parseTrade(pkt, payload)
	case binMsgFill:
		return b.parseFill(pkt, payload)
	}
	return nil, false
}

func fixedString(buf []byte) string {
	return string(bytes.TrimRight(buf, "\x00"))
}

func readFloat(buf []byte, off int) float64 {
	return math.Float64frombits(binary.BigEndian.Uint64(buf[off : off+8]))
}

// quote payload: market id, then bid, ask, bid size, ask size, last
// trade price, 24h volume.
func (b *BinaryParser) parseQuote(pkt models.RawPacket, payload []byte, seq uint32) (models.NormalizedMessage, bool) {
	const want = binIDLen + 6*8
	if len(payload) < want {
		return nil, false
	}
	off := binIDLen
	return models.QuoteUpdate{
		Protocol:  b.protocol,
		MarketID:  fixedString(payload[:binIDLen]),
		BidPrice:  readFloat(payload, off),
		AskPrice:  readFloat(payload, off+8),
		BidSize:   readFloat(payload, off+16),
		AskSize:   readFloat(payload, off+24),
		LastPrice: readFloat(payload, off+32),
		Volume24h: readFloat(payload, off+40),
		Timestamp: pkt.Received,
		Sequence:  uint64(seq),
	}, true
}

// snapshot payload: market id, uint16 bid level count, uint16 ask level
// count, then (price, size) double pairs, bids first.
func (b *BinaryParser) parseSnapshot(pkt models.RawPacket, payload []byte, seq uint32) (models.NormalizedMessage, bool) {
	if len(payload) < binIDLen+4 {
		return nil, false
	}
	marketID := fixedString(payload[:binIDLen])
	nBids := int(binary.BigEndian.Uint16(payload[binIDLen : binIDLen+2]))
	nAsks := int(binary.BigEndian.Uint16(payload[binIDLen+2 : binIDLen+4]))

	levels := payload[binIDLen+4:]
	if len(levels) < (nBids+nAsks)*16 {
		return nil, false
	}

	snap := models.BookSnapshot{
		Protocol:  b.protocol,
		MarketID:  marketID,
		Bids:      make([]models.BookLevel, nBids),
		Asks:      make([]models.BookLevel, nAsks),
		Timestamp: pkt.Received,
		Sequence:  uint64(seq),
	}
	off := 0
	for i := 0; i < nBids; i++ {
		snap.Bids[i] = models.BookLevel{Price: readFloat(levels, off), Size: readFloat(levels, off+8)}
		off += 16
	}
	for i := 0; i < nAsks; i++ {
		snap.Asks[i] = models.BookLevel{Price: readFloat(levels, off), Size: readFloat(levels, off+8)}
		off += 16
	}
	return snap, true
}

// trade payload: market id, trade id, side byte (0 buy, 1 sell), 7 pad
// bytes, price, size.
func (b *BinaryParser) parseTrade(pkt models.RawPacket, payload []byte) (models.NormalizedMessage, bool) {
	const want = 2*binIDLen + 8 + 2*8
	if len(payload) < want {
		return nil, false
	}
	side := models.SideBuy
	if payload[2*binIDLen] == 1 {
		side = models.SideSell
	}
	off := 2*binIDLen + 8
	return models.TradeEvent{
		Protocol:  b.protocol,
		MarketID:  fixedString(payload[:binIDLen]),
		TradeID:   fixedString(payload[binIDLen : 2*binIDLen]),
		Side:      side,
		Price:     readFloat(payload, off),
		Size:      readFloat(payload, off+8),
		Timestamp: pkt.Received,
	}, true
}

// fill payload: order id, market id, side byte, complete byte, 6 pad
// bytes, price, filled size, remaining size.
func (b *BinaryParser) parseFill(pkt models.RawPacket, payload []byte) (models.NormalizedMessage, bool) {
	const want = 2*binIDLen + 8 + 3*8
	if len(payload) < want {
		return nil, false
	}
	side := models.SideBuy
	if payload[2*binIDLen] == 1 {
		side = models.SideSell
	}
	off := 2*binIDLen + 8
	return models.OrderFill{
		Protocol:   b.protocol,
		OrderID:    fixedString(payload[:binIDLen]),
		MarketID:   fixedString(payload[binIDLen : 2*binIDLen]),
		Side:       side,
		Complete:   payload[2*binIDLen+1] == 1,
		Price:      readFloat(payload, off),
		FilledSize: readFloat(payload, off+8),
		Remaining:  readFloat(payload, off+16),
		Timestamp:  pkt.Received,
	}, true
}
