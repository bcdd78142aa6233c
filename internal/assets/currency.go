package assets

import "strings"

var stablecoins = map[string]struct{}{
	"USDC": {}, "USDT": {}, "DAI": {}, "BUSD": {}, "TUSD": {},
	"USDD": {}, "FRAX": {}, "GUSD": {}, "USDP": {}, "LUSD": {},
}

// Coins paid as the chain's gas token; everything else is read as ERC-20.
var nativeCoins = map[string]struct{}{
	"ETH": {}, "BNB": {}, "MATIC": {}, "AVAX": {},
}

var coinDisplayNames = map[string]string{
	"BTC":   "Bitcoin",
	"ETH":   "Ethereum",
	"USDC":  "USD Coin",
	"USDT":  "Tether",
	"DAI":   "Dai",
	"BNB":   "BNB",
	"MATIC": "Polygon",
	"AVAX":  "Avalanche",
	"ARB":   "Arbitrum",
	"OP":    "Optimism",
}

func IsStablecoin(coin string) bool {
	_, ok := stablecoins[strings.ToUpper(strings.TrimSpace(coin))]
	return ok
}

func IsNativeCoin(coin string) bool {
	_, ok := nativeCoins[strings.ToUpper(strings.TrimSpace(coin))]
	return ok
}

// DefaultDestinationCoin suggests USDC for stablecoins and ETH otherwise.
func DefaultDestinationCoin(sourceCoin string) string {
	if IsStablecoin(sourceCoin) {
		return "USDC"
	}
	return "ETH"
}

func CoinDisplayName(coin string) string {
	if name, ok := coinDisplayNames[strings.ToUpper(coin)]; ok {
		return name
	}
	return coin
}
