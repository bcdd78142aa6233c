package wallet

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ggonzalez94/sideshift-bridge/internal/chains"
	clierr "github.com/ggonzalez94/sideshift-bridge/internal/errors"
)

// Reader reads balances on behalf of the connected wallet.
type Reader interface {
	NativeBalance(ctx context.Context, chainID int64, account string) (*big.Int, error)
	TokenBalance(ctx context.Context, chainID int64, contract, account string) (*big.Int, error)
	TokenDecimals(ctx context.Context, chainID int64, contract string) (uint8, error)
}

const erc20BalanceABIJSON = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"account","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

var (
	erc20ABI     abi.ABI
	erc20ABIOnce sync.Once
	erc20ABIErr  error
)

func erc20ABIInstance() (abi.ABI, error) {
	erc20ABIOnce.Do(func() {
		erc20ABI, erc20ABIErr = abi.JSON(strings.NewReader(erc20BalanceABIJSON))
	})
	return erc20ABI, erc20ABIErr
}

// RPCReader implements Reader over JSON-RPC. Clients are dialed lazily per
// chain and checked against the expected chain id once.
type RPCReader struct {
	resolver *chains.RPCResolver
	override string

	mu      sync.Mutex
	clients map[int64]*ethclient.Client
}

// NewRPCReader builds a reader. override, when set, is used for every chain.
func NewRPCReader(resolver *chains.RPCResolver, override string) *RPCReader {
	return &RPCReader{resolver: resolver, override: override, clients: map[int64]*ethclient.Client{}}
}

func (r *RPCReader) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, c := range r.clients {
		c.Close()
		delete(r.clients, id)
	}
}

func (r *RPCReader) NativeBalance(ctx context.Context, chainID int64, account string) (*big.Int, error) {
	addr, err := parseAddress(account)
	if err != nil {
		return nil, err
	}
	client, err := r.client(ctx, chainID)
	if err != nil {
		return nil, err
	}
	bal, err := client.BalanceAt(ctx, addr, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeNetwork, "read native balance", err)
	}
	return bal, nil
}

func (r *RPCReader) TokenBalance(ctx context.Context, chainID int64, contract, account string) (*big.Int, error) {
	addr, err := parseAddress(account)
	if err != nil {
		return nil, err
	}
	parsed, err := erc20ABIInstance()
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "parse erc20 abi", err)
	}
	data, err := parsed.Pack("balanceOf", addr)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeInternal, "pack balanceOf call", err)
	}
	out, err := r.call(ctx, chainID, contract, data)
	if err != nil {
		return nil, err
	}
	values, err := parsed.Unpack("balanceOf", out)
	if err != nil || len(values) == 0 {
		return nil, clierr.Wrap(clierr.CodeNetwork, "decode balanceOf result", err)
	}
	bal, ok := values[0].(*big.Int)
	if !ok {
		return nil, clierr.New(clierr.CodeNetwork, "unexpected balanceOf result type")
	}
	return bal, nil
}

func (r *RPCReader) TokenDecimals(ctx context.Context, chainID int64, contract string) (uint8, error) {
	parsed, err := erc20ABIInstance()
	if err != nil {
		return 0, clierr.Wrap(clierr.CodeInternal, "parse erc20 abi", err)
	}
	data, err := parsed.Pack("decimals")
	if err != nil {
		return 0, clierr.Wrap(clierr.CodeInternal, "pack decimals call", err)
	}
	out, err := r.call(ctx, chainID, contract, data)
	if err != nil {
		return 0, err
	}
	values, err := parsed.Unpack("decimals", out)
	if err != nil || len(values) == 0 {
		return 0, clierr.Wrap(clierr.CodeNetwork, "decode decimals result", err)
	}
	dec, ok := values[0].(uint8)
	if !ok {
		return 0, clierr.New(clierr.CodeNetwork, "unexpected decimals result type")
	}
	return dec, nil
}

func (r *RPCReader) call(ctx context.Context, chainID int64, contract string, data []byte) ([]byte, error) {
	to, err := parseAddress(contract)
	if err != nil {
		return nil, err
	}
	client, err := r.client(ctx, chainID)
	if err != nil {
		return nil, err
	}
	out, err := client.CallContract(ctx, ethereum.CallMsg{To: &to, Data: data}, nil)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeNetwork, "call token contract", err)
	}
	return out, nil
}

func (r *RPCReader) client(ctx context.Context, chainID int64) (*ethclient.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.clients[chainID]; ok {
		return c, nil
	}
	rpcURL, err := r.resolver.Resolve(r.override, chainID)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "resolve rpc url", err)
	}
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeNetwork, "connect rpc", err)
	}
	got, err := c.ChainID(ctx)
	if err != nil {
		c.Close()
		return nil, clierr.Wrap(clierr.CodeNetwork, "read chain id", err)
	}
	if got.Int64() != chainID {
		c.Close()
		return nil, clierr.New(clierr.CodeNetworkMismatch, fmt.Sprintf("rpc endpoint is on chain %d, expected %d", got.Int64(), chainID))
	}
	r.clients[chainID] = c
	return c, nil
}

func parseAddress(v string) (common.Address, error) {
	v = strings.TrimSpace(v)
	if !common.IsHexAddress(v) {
		return common.Address{}, clierr.New(clierr.CodeUsage, fmt.Sprintf("invalid address: %s", v))
	}
	return common.HexToAddress(v), nil
}
