package okx

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/jlindqvist/scalpd/internal/domain"
)

// wsRequest is the envelope for subscribe/unsubscribe operations.
type wsRequest struct {
	Op   string  `json:"op"`
	Args []wsArg `json:"args"`
}

// wsArg identifies one channel/instrument subscription.
type wsArg struct {
	Channel string `json:"channel"`
	InstID  string `json:"instId"`
}

// wsPush is the outer envelope of every data or event frame the exchange
// sends. Event frames carry Event/Code/Msg; data frames carry Arg, Action,
// and Data.
type wsPush struct {
	Event  string          `json:"event,omitempty"`
	Code   string          `json:"code,omitempty"`
	Msg    string          `json:"msg,omitempty"`
	Arg    wsArg           `json:"arg,omitempty"`
	Action string          `json:"action,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// bookData is one book frame: price levels as string tuples
// [price, size, liquidated orders, order count].
type bookData struct {
	Asks [][]string `json:"asks"`
	Bids [][]string `json:"bids"`
	TS   string     `json:"ts"`
}

// tradeData is one public trade.
type tradeData struct {
	InstID  string `json:"instId"`
	TradeID string `json:"tradeId"`
	Px      string `json:"px"`
	Sz      string `json:"sz"`
	Side    string `json:"side"`
	TS      string `json:"ts"`
}

// tickerData is one ticker frame.
type tickerData struct {
	InstID    string `json:"instId"`
	Last      string `json:"last"`
	BidPx     string `json:"bidPx"`
	AskPx     string `json:"askPx"`
	Vol24h    string `json:"vol24h"`
	VolCcy24h string `json:"volCcy24h"`
	TS        string `json:"ts"`
}

// restResponse is the common REST envelope. Code "0" means success; per-order
// results additionally carry sCode/sMsg.
type restResponse struct {
	Code string `json:"code"`
	Msg  string `json:"msg"`
}

func parseLevels(raw [][]string) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, tuple := range raw {
		if len(tuple) < 2 {
			continue
		}
		price, err1 := strconv.ParseFloat(tuple[0], 64)
		size, err2 := strconv.ParseFloat(tuple[1], 64)
		if err1 != nil || err2 != nil {
			continue
		}
		levels = append(levels, domain.PriceLevel{Price: price, Size: size})
	}
	return levels
}

// parseMillis converts the exchange's millisecond-epoch string timestamps.
// An unparseable value falls back to the current time.
func parseMillis(ts string) time.Time {
	ms, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return time.Now().UTC()
	}
	return time.UnixMilli(ms).UTC()
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}

func (b bookData) toEvent(instID, action string) domain.BookEvent {
	act := domain.BookActionDelta
	if action == "snapshot" {
		act = domain.BookActionSnapshot
	}
	return domain.BookEvent{
		InstID:    instID,
		Action:    act,
		Asks:      parseLevels(b.Asks),
		Bids:      parseLevels(b.Bids),
		Timestamp: parseMillis(b.TS),
	}
}

func (t tradeData) toEvent() domain.TradeEvent {
	side := domain.TradeSideBuy
	if t.Side == "sell" {
		side = domain.TradeSideSell
	}
	return domain.TradeEvent{
		InstID:    t.InstID,
		Side:      side,
		Price:     parseFloat(t.Px),
		Size:      parseFloat(t.Sz),
		Timestamp: parseMillis(t.TS),
	}
}

func (t tickerData) toEvent() domain.TickerEvent {
	return domain.TickerEvent{
		InstID:    t.InstID,
		Last:      parseFloat(t.Last),
		Bid:       parseFloat(t.BidPx),
		Ask:       parseFloat(t.AskPx),
		Volume24h: parseFloat(t.VolCcy24h),
		Timestamp: parseMillis(t.TS),
	}
}
