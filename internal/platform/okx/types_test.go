package okx

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jlindqvist/scalpd/internal/domain"
)

func TestParseLevels(t *testing.T) {
	levels := parseLevels([][]string{
		{"65000.5", "12.5", "0", "3"},
		{"64999", "2"},
		{"bad-price", "1"},   // skipped
		{"65001"},            // too short, skipped
		{"65002", "not-num"}, // skipped
	})

	require.Len(t, levels, 2)
	assert.Equal(t, domain.PriceLevel{Price: 65000.5, Size: 12.5}, levels[0])
	assert.Equal(t, domain.PriceLevel{Price: 64999, Size: 2}, levels[1])
}

func TestParseMillis(t *testing.T) {
	// 2026-03-01T12:00:00Z in milliseconds.
	got := parseMillis("1772366400000")
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), got)

	// Garbage falls back to now rather than the epoch.
	fallback := parseMillis("garbage")
	assert.WithinDuration(t, time.Now().UTC(), fallback, time.Minute)
}

func TestBookDataToEvent(t *testing.T) {
	raw := `{
		"asks": [["65001", "3", "0", "1"], ["65002", "1", "0", "1"]],
		"bids": [["64999", "5", "0", "2"]],
		"ts": "1772366400000"
	}`
	var b bookData
	require.NoError(t, json.Unmarshal([]byte(raw), &b))

	ev := b.toEvent("BTC-USDT-SWAP", "snapshot")
	assert.Equal(t, "BTC-USDT-SWAP", ev.InstID)
	assert.Equal(t, domain.BookActionSnapshot, ev.Action)
	require.Len(t, ev.Asks, 2)
	require.Len(t, ev.Bids, 1)
	assert.Equal(t, 65001.0, ev.Asks[0].Price)
	assert.Equal(t, 5.0, ev.Bids[0].Size)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), ev.Timestamp)

	// Anything other than "snapshot" is an incremental update.
	upd := b.toEvent("BTC-USDT-SWAP", "update")
	assert.Equal(t, domain.BookActionDelta, upd.Action)
}

func TestTradeDataToEvent(t *testing.T) {
	raw := `{"instId":"BTC-USDT-SWAP","tradeId":"123","px":"65000.5","sz":"0.25","side":"sell","ts":"1772366400000"}`
	var td tradeData
	require.NoError(t, json.Unmarshal([]byte(raw), &td))

	ev := td.toEvent()
	assert.Equal(t, "BTC-USDT-SWAP", ev.InstID)
	assert.Equal(t, domain.TradeSideSell, ev.Side)
	assert.Equal(t, 65000.5, ev.Price)
	assert.Equal(t, 0.25, ev.Size)
}

func TestTickerDataToEvent(t *testing.T) {
	raw := `{"instId":"ETH-USDT-SWAP","last":"3000.1","bidPx":"3000","askPx":"3000.2","vol24h":"120000","volCcy24h":"360000000","ts":"1772366400000"}`
	var td tickerData
	require.NoError(t, json.Unmarshal([]byte(raw), &td))

	ev := td.toEvent()
	assert.Equal(t, "ETH-USDT-SWAP", ev.InstID)
	assert.Equal(t, 3000.1, ev.Last)
	assert.Equal(t, 3000.0, ev.Bid)
	assert.Equal(t, 3000.2, ev.Ask)
	// Volume is the quote-currency turnover, not the contract count.
	assert.Equal(t, 360_000_000.0, ev.Volume24h)
}

func TestWsPushEnvelope(t *testing.T) {
	data := `{
		"arg": {"channel": "books", "instId": "BTC-USDT-SWAP"},
		"action": "update",
		"data": [{"asks": [["65001","1","0","1"]], "bids": [], "ts": "1772366400000"}]
	}`
	var push wsPush
	require.NoError(t, json.Unmarshal([]byte(data), &push))

	assert.Empty(t, push.Event)
	assert.Equal(t, "books", push.Arg.Channel)
	assert.Equal(t, "BTC-USDT-SWAP", push.Arg.InstID)
	assert.Equal(t, "update", push.Action)

	var frames []bookData
	require.NoError(t, json.Unmarshal(push.Data, &frames))
	require.Len(t, frames, 1)
	assert.Equal(t, [][]string{{"65001", "1", "0", "1"}}, frames[0].Asks)

	event := `{"event": "subscribe", "arg": {"channel": "tickers", "instId": "BTC-USDT-SWAP"}}`
	var ack wsPush
	require.NoError(t, json.Unmarshal([]byte(event), &ack))
	assert.Equal(t, "subscribe", ack.Event)
	assert.Nil(t, ack.Data)
}

func TestSubscribeRequestShape(t *testing.T) {
	req := wsRequest{Op: "subscribe", Args: []wsArg{{Channel: "books", InstID: "BTC-USDT-SWAP"}}}
	out, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":"subscribe","args":[{"channel":"books","instId":"BTC-USDT-SWAP"}]}`, string(out))
}
