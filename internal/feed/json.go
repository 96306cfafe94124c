package feed

import (
	"time"

	"github.com/sugawarayuuta/sonnet"

	"arbflow/models"
)

// The REST-flavored venues deliver JSON envelopes. Envelope "type"
// selects the variant; unknown types and bad JSON are dropped. The
// embedded protocol-looking fields (venue names etc.) are ignored: the
// parser tags messages with its own protocol.
type jsonEnvelope struct {
	Type     string  `json:"type"`
	MarketID string  `json:"market_id"`
	Symbol   string  `json:"symbol"`
	Bid      float64 `json:"bid"`
	Ask      float64 `json:"ask"`
	BidSize  float64 `json:"bid_size"`
	AskSize  float64 `json:"ask_size"`
	Last     float64 `json:"last"`
	Volume   float64 `json:"volume_24h"`
	Sequence uint64  `json:"sequence"`

	Bids [][2]float64 `json:"bids"`
	Asks [][2]float64 `json:"asks"`

	TradeID string  `json:"trade_id"`
	Side    string  `json:"side"`
	Price   float64 `json:"price"`
	Size    float64 `json:"size"`

	OrderID   string  `json:"order_id"`
	Filled    float64 `json:"filled"`
	Remaining float64 `json:"remaining"`
	Complete  bool    `json:"complete"`

	TimestampMs int64 `json:"timestamp"`
}

// JSONParser decodes the REST-style JSON envelopes.
type JSONParser struct {
	protocol models.Protocol
}

// NewJSONParser returns a parser producing messages tagged with p.
func NewJSONParser(p models.Protocol) *JSONParser {
	return &JSONParser{protocol: p}
}

func (j *JSONParser) timestamp(env jsonEnvelope, pkt models.RawPacket) time.Time {
	if env.TimestampMs > 0 {
		return time.UnixMilli(env.TimestampMs)
	}
	return pkt.Received
}

// Parse implements Parser.
func (j *JSONParser) Parse(pkt models.RawPacket) (models.NormalizedMessage, bool) {
	var env jsonEnvelope
	if err := sonnet.Unmarshal(pkt.Data, &env); err != nil {
		return nil, false
	}
	if env.MarketID == "" {
		return nil, false
	}

	switch env.Type {
	case "quote":
		return models.QuoteUpdate{
			Protocol:  j.protocol,
			MarketID:  env.MarketID,
			Symbol:    env.Symbol,
			BidPrice:  env.Bid,
			AskPrice:  env.Ask,
			BidSize:   env.BidSize,
			AskSize:   env.AskSize,
			LastPrice: env.Last,
			Volume24h: env.Volume,
			Timestamp: j.timestamp(env, pkt),
			Sequence:  env.Sequence,
		}, true

	case "book":
		snap := models.BookSnapshot{
			Protocol:  j.protocol,
			MarketID:  env.MarketID,
			Bids:      make([]models.BookLevel, len(env.Bids)),
			Asks:      make([]models.BookLevel, len(env.Asks)),
			Timestamp: j.timestamp(env, pkt),
			Sequence:  env.Sequence,
		}
		for i, lvl := range env.Bids {
			snap.Bids[i] = models.BookLevel{Price: lvl[0], Size: lvl[1]}
		}
		for i, lvl := range env.Asks {
			snap.Asks[i] = models.BookLevel{Price: lvl[0], Size: lvl[1]}
		}
		return snap, true

	case "trade":
		side := models.SideBuy
		if env.Side == "sell" {
			side = models.SideSell
		}
		return models.TradeEvent{
			Protocol:  j.protocol,
			MarketID:  env.MarketID,
			TradeID:   env.TradeID,
			Side:      side,
			Price:     env.Price,
			Size:      env.Size,
			Timestamp: j.timestamp(env, pkt),
		}, true

	case "fill":
		side := models.SideBuy
		if env.Side == "sell" {
			side = models.SideSell
		}
		return models.OrderFill{
			Protocol:   j.protocol,
			OrderID:    env.OrderID,
			MarketID:   env.MarketID,
			Side:       side,
			Price:      env.Price,
			FilledSize: env.Filled,
			Remaining:  env.Remaining,
			Complete:   env.Complete,
			Timestamp:  j.timestamp(env, pkt),
		}, true
	}
	return nil, false
}
