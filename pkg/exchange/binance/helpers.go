package binance

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strconv"

	"execution-core/pkg/exchange"
)

func sign(data, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(data))
	return hex.EncodeToString(h.Sum(nil))
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

// slippagePrice bounds a market entry: buys cap at quote*(1+s), sells floor
// at quote*(1-s). Five significant figures keeps the price within the venue's
// price filters.
func slippagePrice(quote, slippage float64, side exchange.Side) float64 {
	px := quote * (1 + slippage)
	if side == exchange.SideSell {
		px = quote * (1 - slippage)
	}
	magnitude := math.Ceil(math.Log10(math.Abs(px)))
	scale := math.Pow(10, 5-magnitude)
	return math.Round(px*scale) / scale
}
