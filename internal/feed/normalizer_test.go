package feed

import (
	"encoding/binary"
	"math"
	"testing"
	"time"

	"arbflow/models"
)

func putFloat(buf []byte, off int, v float64) {
	binary.BigEndian.PutUint64(buf[off:off+8], math.Float64bits(v))
}

func putID(buf []byte, off int, id string) {
	copy(buf[off:off+binIDLen], id)
}

func quotePacket(t *testing.T, market string, bid, ask, bidSz, askSz float64, seq uint32) models.RawPacket {
	t.Helper()
	buf := make([]byte, binHeaderLen+binIDLen+6*8)
	binary.BigEndian.PutUint16(buf[0:2], binMsgQuote)
	binary.BigEndian.PutUint32(buf[4:8], seq)
	putID(buf, binHeaderLen, market)
	off := binHeaderLen + binIDLen
	putFloat(buf, off, bid)
	putFloat(buf, off+8, ask)
	putFloat(buf, off+16, bidSz)
	putFloat(buf, off+24, askSz)
	putFloat(buf, off+32, 0.50)
	putFloat(buf, off+40, 12345)
	return models.RawPacket{Protocol: models.ProtocolPolyStream, Data: buf, Received: time.Now()}
}

func snapshotPacket(t *testing.T, market string, bids, asks []models.BookLevel, seq uint32) models.RawPacket {
	t.Helper()
	buf := make([]byte, binHeaderLen+binIDLen+4+(len(bids)+len(asks))*16)
	binary.BigEndian.PutUint16(buf[0:2], binMsgSnapshot)
	binary.BigEndian.PutUint32(buf[4:8], seq)
	putID(buf, binHeaderLen, market)
	binary.BigEndian.PutUint16(buf[binHeaderLen+binIDLen:], uint16(len(bids)))
	binary.BigEndian.PutUint16(buf[binHeaderLen+binIDLen+2:], uint16(len(asks)))
	off := binHeaderLen + binIDLen + 4
	for _, lvl := range append(append([]models.BookLevel{}, bids...), asks...) {
		putFloat(buf, off, lvl.Price)
		putFloat(buf, off+8, lvl.Size)
		off += 16
	}
	return models.RawPacket{Protocol: models.ProtocolPolyStream, Data: buf, Received: time.Now()}
}

func TestBinaryParserQuote(t *testing.T) {
	p := NewBinaryParser(models.ProtocolPolyStream)
	pkt := quotePacket(t, "MKT-1", 0.48, 0.52, 100, 200, 42)

	msg, ok := p.Parse(pkt)
	if !ok {
		t.Fatalf("parse failed")
	}
	q, ok := msg.(models.QuoteUpdate)
	if !ok {
		t.Fatalf("wrong variant %T", msg)
	}
	if q.MarketID != "MKT-1" || q.BidPrice != 0.48 || q.AskPrice != 0.52 ||
		q.BidSize != 100 || q.AskSize != 200 || q.Sequence != 42 {
		t.Fatalf("bad quote: %+v", q)
	}
	if q.Protocol != models.ProtocolPolyStream {
		t.Fatalf("parser must tag its own protocol, got %s", q.Protocol)
	}
}

func TestBinaryParserSnapshot(t *testing.T) {
	p := NewBinaryParser(models.ProtocolKalshiStream)
	bids := []models.BookLevel{{Price: 0.50, Size: 10}, {Price: 0.49, Size: 20}}
	asks := []models.BookLevel{{Price: 0.52, Size: 15}}
	pkt := snapshotPacket(t, "MKT-2", bids, asks, 7)
	pkt.Protocol = models.ProtocolKalshiStream

	msg, ok := p.Parse(pkt)
	if !ok {
		t.Fatalf("parse failed")
	}
	snap := msg.(models.BookSnapshot)
	if snap.MarketID != "MKT-2" || len(snap.Bids) != 2 || len(snap.Asks) != 1 {
		t.Fatalf("bad snapshot: %+v", snap)
	}
	if snap.Bids[0].Price != 0.50 || snap.Asks[0].Size != 15 {
		t.Fatalf("bad levels: %+v", snap)
	}
}

func TestBinaryParserTruncated(t *testing.T) {
	p := NewBinaryParser(models.ProtocolPolyStream)
	pkt := quotePacket(t, "MKT-1", 0.48, 0.52, 1, 1, 1)

	for _, n := range []int{0, 4, binHeaderLen, binHeaderLen + binIDLen, len(pkt.Data) - 1} {
		trunc := models.RawPacket{Protocol: pkt.Protocol, Data: pkt.Data[:n], Received: pkt.Received}
		if _, ok := p.Parse(trunc); ok {
			t.Errorf("truncated packet of %d bytes parsed", n)
		}
	}
}

func TestBinaryParserSnapshotLevelCountOverrun(t *testing.T) {
	p := NewBinaryParser(models.ProtocolPolyStream)
	pkt := snapshotPacket(t, "MKT-3", []models.BookLevel{{Price: 0.5, Size: 1}}, nil, 1)
	// Claim more levels than the buffer holds.
	binary.BigEndian.PutUint16(pkt.Data[binHeaderLen+binIDLen:], 100)
	if _, ok := p.Parse(pkt); ok {
		t.Fatalf("overrun snapshot parsed")
	}
}

func TestBinaryParserUnknownType(t *testing.T) {
	p := NewBinaryParser(models.ProtocolPolyStream)
	buf := make([]byte, 64)
	binary.BigEndian.PutUint16(buf[0:2], 999)
	if _, ok := p.Parse(models.RawPacket{Protocol: models.ProtocolPolyStream, Data: buf}); ok {
		t.Fatalf("unknown message type parsed")
	}
}

func TestJSONParserVariants(t *testing.T) {
	p := NewJSONParser(models.ProtocolPolyREST)

	cases := []struct {
		payload string
		check   func(t *testing.T, msg models.NormalizedMessage)
	}{
		{
			`{"type":"quote","market_id":"M1","bid":0.45,"ask":0.47,"bid_size":5,"ask_size":9,"sequence":3}`,
			func(t *testing.T, msg models.NormalizedMessage) {
				q := msg.(models.QuoteUpdate)
				if q.MarketID != "M1" || q.BidPrice != 0.45 || q.AskSize != 9 {
					t.Fatalf("bad quote: %+v", q)
				}
			},
		},
		{
			`{"type":"book","market_id":"M1","bids":[[0.45,5],[0.44,3]],"asks":[[0.47,2]]}`,
			func(t *testing.T, msg models.NormalizedMessage) {
				b := msg.(models.BookSnapshot)
				if len(b.Bids) != 2 || b.Bids[1].Price != 0.44 || len(b.Asks) != 1 {
					t.Fatalf("bad book: %+v", b)
				}
			},
		},
		{
			`{"type":"trade","market_id":"M1","trade_id":"T9","side":"sell","price":0.46,"size":4}`,
			func(t *testing.T, msg models.NormalizedMessage) {
				tr := msg.(models.TradeEvent)
				if tr.Side != models.SideSell || tr.Price != 0.46 {
					t.Fatalf("bad trade: %+v", tr)
				}
			},
		},
		{
			`{"type":"fill","market_id":"M1","order_id":"O7","side":"buy","price":0.46,"filled":10,"remaining":0,"complete":true}`,
			func(t *testing.T, msg models.NormalizedMessage) {
				f := msg.(models.OrderFill)
				if f.OrderID != "O7" || !f.Complete || f.FilledSize != 10 {
					t.Fatalf("bad fill: %+v", f)
				}
			},
		},
	}

	for _, c := range cases {
		msg, ok := p.Parse(models.RawPacket{Protocol: models.ProtocolPolyREST, Data: []byte(c.payload), Received: time.Now()})
		if !ok {
			t.Fatalf("parse failed for %s", c.payload)
		}
		c.check(t, msg)
	}
}

func TestJSONParserRejectsGarbage(t *testing.T) {
	p := NewJSONParser(models.ProtocolPolyREST)
	for _, payload := range []string{"", "{", `{"type":"quote"}`, `{"type":"nope","market_id":"M"}`} {
		if _, ok := p.Parse(models.RawPacket{Protocol: models.ProtocolPolyREST, Data: []byte(payload)}); ok {
			t.Errorf("payload %q parsed", payload)
		}
	}
}

func TestRegistryDispatch(t *testing.T) {
	reg := NewRegistry()
	reg.Register(models.ProtocolPolyStream, NewBinaryParser(models.ProtocolPolyStream))
	reg.Register(models.ProtocolPolyREST, NewJSONParser(models.ProtocolPolyREST))

	pkt := quotePacket(t, "MKT-1", 0.4, 0.6, 1, 1, 1)
	if _, ok := reg.Normalize(pkt); !ok {
		t.Fatalf("registered protocol not normalized")
	}

	pkt.Protocol = models.ProtocolDexStream
	if _, ok := reg.Normalize(pkt); ok {
		t.Fatalf("unregistered protocol normalized")
	}

	normalized, dropped := reg.Stats()
	if normalized != 1 || dropped != 1 {
		t.Fatalf("stats = (%d, %d), want (1, 1)", normalized, dropped)
	}
}
