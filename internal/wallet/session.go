package wallet

import (
	"fmt"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ggonzalez94/sideshift-bridge/internal/chains"
	clierr "github.com/ggonzalez94/sideshift-bridge/internal/errors"
)

// Session is the connected-wallet state: an address and the chain the
// wallet is currently on.
type Session struct {
	mu      sync.RWMutex
	address common.Address
	chainID int64
	online  bool
}

func NewSession() *Session {
	return &Session{}
}

func (s *Session) Connect(address string, chainID int64) error {
	address = strings.TrimSpace(address)
	if !common.IsHexAddress(address) {
		return clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid wallet address: %s", address))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.address = common.HexToAddress(address)
	s.chainID = chainID
	s.online = true
	return nil
}

func (s *Session) Disconnect() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.address = common.Address{}
	s.chainID = 0
	s.online = false
}

// SwitchChain moves the wallet to chainID. Only chains in the network table
// are accepted.
func (s *Session) SwitchChain(chainID int64) error {
	if _, ok := chains.ByChainID(chainID); !ok {
		return clierr.New(clierr.CodeUnsupported, fmt.Sprintf("unsupported chain id %d", chainID))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.online {
		return clierr.New(clierr.CodeWalletNotConnected, "Please connect your wallet first")
	}
	s.chainID = chainID
	return nil
}

func (s *Session) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.online
}

// Address returns the checksummed address, or "" when disconnected.
func (s *Session) Address() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.online {
		return ""
	}
	return s.address.Hex()
}

func (s *Session) ChainID() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chainID
}
