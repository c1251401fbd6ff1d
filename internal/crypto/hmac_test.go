package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadersAtDeterministic(t *testing.T) {
	creds := &Credentials{Key: "test-key", Secret: "test-secret", Passphrase: "test-phrase"}
	at := time.Date(2026, 3, 1, 12, 30, 45, 123_000_000, time.UTC)

	h := creds.HeadersAt("POST", "/api/v5/trade/order", `{"instId":"BTC-USDT-SWAP"}`, at)

	assert.Equal(t, "test-key", h["OK-ACCESS-KEY"])
	assert.Equal(t, "test-phrase", h["OK-ACCESS-PASSPHRASE"])
	assert.Equal(t, "2026-03-01T12:30:45.123Z", h["OK-ACCESS-TIMESTAMP"])

	// The signature is Base64(HMAC-SHA256(secret, ts+method+path+body)).
	mac := hmac.New(sha256.New, []byte("test-secret"))
	mac.Write([]byte(`2026-03-01T12:30:45.123ZPOST/api/v5/trade/order{"instId":"BTC-USDT-SWAP"}`))
	want := base64.StdEncoding.EncodeToString(mac.Sum(nil))
	assert.Equal(t, want, h["OK-ACCESS-SIGN"])

	// Same inputs, same signature.
	again := creds.HeadersAt("POST", "/api/v5/trade/order", `{"instId":"BTC-USDT-SWAP"}`, at)
	assert.Equal(t, h["OK-ACCESS-SIGN"], again["OK-ACCESS-SIGN"])
}

func TestSignatureChangesWithInputs(t *testing.T) {
	creds := &Credentials{Key: "k", Secret: "s", Passphrase: "p"}
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	base := creds.HeadersAt("GET", "/api/v5/account/balance", "", at)
	method := creds.HeadersAt("POST", "/api/v5/account/balance", "", at)
	path := creds.HeadersAt("GET", "/api/v5/account/positions", "", at)
	later := creds.HeadersAt("GET", "/api/v5/account/balance", "", at.Add(time.Millisecond))

	require.NotEmpty(t, base["OK-ACCESS-SIGN"])
	assert.NotEqual(t, base["OK-ACCESS-SIGN"], method["OK-ACCESS-SIGN"])
	assert.NotEqual(t, base["OK-ACCESS-SIGN"], path["OK-ACCESS-SIGN"])
	assert.NotEqual(t, base["OK-ACCESS-SIGN"], later["OK-ACCESS-SIGN"])
}

func TestStringRedactsSecrets(t *testing.T) {
	creds := &Credentials{Key: "abcdef123", Secret: "supersecret"}
	s := creds.String()
	assert.NotContains(t, s, "supersecret")
	assert.NotContains(t, s, "abcdef123")
	assert.Contains(t, s, "abcd****")
}
