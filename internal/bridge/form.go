package bridge

import (
	"strings"

	"github.com/ggonzalez94/sideshift-bridge/internal/assets"
	"github.com/ggonzalez94/sideshift-bridge/internal/sideshift"
)

// Form is the editable bridge request. It is owned by whoever drives the
// flow and passed by pointer where it may be mutated.
type Form struct {
	UserAddress   string `json:"user_address"`
	SourceCoin    string `json:"source_coin"`
	SourceNetwork string `json:"source_network"`
	DestCoin      string `json:"dest_coin"`
	DestNetwork   string `json:"dest_network"`
	Amount        string `json:"amount"`
	RefundAddress string `json:"refund_address,omitempty"`
}

// Swap exchanges source and destination coin and network.
func (f *Form) Swap() {
	f.SourceCoin, f.DestCoin = f.DestCoin, f.SourceCoin
	f.SourceNetwork, f.DestNetwork = f.DestNetwork, f.SourceNetwork
}

func (f Form) PairKey() assets.PairKey {
	return assets.PairKey{
		SourceCoin:    strings.TrimSpace(f.SourceCoin),
		DestCoin:      strings.TrimSpace(f.DestCoin),
		SourceNetwork: strings.TrimSpace(f.SourceNetwork),
		DestNetwork:   strings.TrimSpace(f.DestNetwork),
	}
}

func (f Form) request() sideshift.ShiftRequest {
	return sideshift.ShiftRequest{
		UserAddress:   strings.TrimSpace(f.UserAddress),
		Purpose:       sideshift.PurposeBridge,
		SourceCoin:    strings.TrimSpace(f.SourceCoin),
		DestCoin:      strings.TrimSpace(f.DestCoin),
		SourceNetwork: strings.TrimSpace(f.SourceNetwork),
		DestNetwork:   strings.TrimSpace(f.DestNetwork),
		SourceAmount:  strings.TrimSpace(f.Amount),
		RefundAddress: strings.TrimSpace(f.RefundAddress),
	}
}
