package blockchain

import (
	"bytes"
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pydea-rs/tayadex-backend/pkg/errors"
	"github.com/pydea-rs/tayadex-backend/pkg/logger"
)

type TokenInfo struct {
	Address  common.Address
	Symbol   string
	Decimals uint8
}

type PairInfo struct {
	Token0 TokenInfo
	Token1 TokenInfo
}

type CacheStats struct {
	TokenCacheSize int `json:"token_cache_size"`
	PairCacheSize  int `json:"pair_cache_size"`
}

type contractCall struct {
	to     common.Address
	abi    *abi.ABI
	method string
}

// batchCall sends all eth_calls in one JSON-RPC batch. Only a transport failure is
// retried and returned as err; a reverted element is reported in its slot of errs.
func (c *Client) batchCall(ctx context.Context, calls []contractCall) ([][]byte, []error, error) {
	results := make([]hexutil.Bytes, len(calls))
	elems := make([]rpc.BatchElem, len(calls))
	for i, call := range calls {
		data, err := call.abi.Pack(call.method)
		if err != nil {
			return nil, nil, err
		}
		elems[i] = rpc.BatchElem{
			Method: "eth_call",
			Args: []interface{}{
				map[string]interface{}{"to": call.to, "data": hexutil.Bytes(data)},
				"latest",
			},
			Result: &results[i],
		}
	}

	_, err := withRetry(ctx, c, "eth_call", func(ctx context.Context) (struct{}, error) {
		for i := range elems {
			elems[i].Error = nil
		}
		return struct{}{}, c.rpc.BatchCallContext(ctx, elems)
	})
	if err != nil {
		return nil, nil, err
	}

	out := make([][]byte, len(results))
	errs := make([]error, len(results))
	for i := range results {
		out[i] = results[i]
		if elems[i].Error != nil {
			errs[i] = fmt.Errorf("%s.%s: %w", calls[i].to.Hex(), calls[i].method, elems[i].Error)
		}
	}
	return out, errs, nil
}

func unpackOne(contract *abi.ABI, method string, data []byte) (interface{}, error) {
	values, err := contract.Unpack(method, data)
	if err != nil {
		return nil, err
	}
	if len(values) != 1 {
		return nil, fmt.Errorf("%s: expected 1 value, got %d", method, len(values))
	}
	return values[0], nil
}

// decodeSymbol accepts both string and legacy bytes32 symbols.
func decodeSymbol(data []byte) (string, error) {
	value, err := unpackOne(&erc20ABI, "symbol", data)
	if err == nil {
		if s, ok := value.(string); ok {
			return s, nil
		}
	}
	if len(data) == 32 {
		return string(bytes.TrimRight(data, "\x00")), nil
	}
	if err == nil {
		err = fmt.Errorf("symbol: unexpected type %T", value)
	}
	return "", err
}

func decodeAddress(method string, data []byte, callErr error) (common.Address, error) {
	if callErr != nil {
		return common.Address{}, callErr
	}
	value, err := unpackOne(&pairABI, method, data)
	if err != nil {
		return common.Address{}, err
	}
	addr, ok := value.(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s: unexpected type %T", method, value)
	}
	return addr, nil
}

func decodeDecimals(data []byte, callErr error) (uint8, error) {
	if callErr != nil {
		return 0, callErr
	}
	value, err := unpackOne(&erc20ABI, "decimals", data)
	if err != nil {
		return 0, err
	}
	decimals, ok := value.(uint8)
	if !ok {
		return 0, fmt.Errorf("decimals: unexpected type %T", value)
	}
	return decimals, nil
}

func decodeToken(token common.Address, symbolData []byte, symbolErr error, decimalsData []byte, decimalsErr error) (TokenInfo, error) {
	if symbolErr != nil {
		return TokenInfo{}, symbolErr
	}
	symbol, err := decodeSymbol(symbolData)
	if err != nil {
		return TokenInfo{}, err
	}
	decimals, err := decodeDecimals(decimalsData, decimalsErr)
	if err != nil {
		return TokenInfo{}, err
	}
	return TokenInfo{Address: token, Symbol: symbol, Decimals: decimals}, nil
}

// PairsMetadata 批量获取交易对的代币信息，已缓存的不再请求。
// 调用失败或返回无法解析的地址不是交易对，不出现在结果中；只有 RPC 传输失败才返回错误
func (c *Client) PairsMetadata(ctx context.Context, pairs []common.Address) (map[common.Address]PairInfo, error) {
	result := make(map[common.Address]PairInfo, len(pairs))
	missing := make([]common.Address, 0)

	seen := make(map[common.Address]struct{}, len(pairs))

	c.mu.RLock()
	for _, pair := range pairs {
		if _, ok := seen[pair]; ok {
			continue
		}
		seen[pair] = struct{}{}
		if info, ok := c.pairCache[pair]; ok {
			result[pair] = info
			continue
		}
		missing = append(missing, pair)
	}
	c.mu.RUnlock()

	if len(missing) == 0 {
		return result, nil
	}

	calls := make([]contractCall, 0, 2*len(missing))
	for _, pair := range missing {
		calls = append(calls,
			contractCall{to: pair, abi: &pairABI, method: "token0"},
			contractCall{to: pair, abi: &pairABI, method: "token1"},
		)
	}
	outs, errs, err := c.batchCall(ctx, calls)
	if err != nil {
		return nil, errors.New(errors.ErrTokenMetadata, "获取交易对代币地址失败", err)
	}

	resolved := make(map[common.Address][2]common.Address, len(missing))
	tokenAddrs := make([]common.Address, 0, len(outs))
	for i, pair := range missing {
		var addrs [2]common.Address
		var failed error
		for j := range addrs {
			k := 2*i + j
			addrs[j], failed = decodeAddress(calls[k].method, outs[k], errs[k])
			if failed != nil {
				break
			}
		}
		if failed != nil {
			logger.WithFields(map[string]interface{}{
				"pair":  pair.Hex(),
				"error": failed.Error(),
			}).Warn("地址不是有效交易对，跳过")
			continue
		}
		resolved[pair] = addrs
		tokenAddrs = append(tokenAddrs, addrs[0], addrs[1])
	}
	if len(resolved) == 0 {
		return result, nil
	}

	tokens, err := c.tokensMetadata(ctx, tokenAddrs)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	for _, pair := range missing {
		addrs, ok := resolved[pair]
		if !ok {
			continue
		}
		token0, ok0 := tokens[addrs[0]]
		token1, ok1 := tokens[addrs[1]]
		if !ok0 || !ok1 {
			continue
		}
		info := PairInfo{Token0: token0, Token1: token1}
		c.pairCache[pair] = info
		result[pair] = info
	}
	c.mu.Unlock()

	logger.WithFields(map[string]interface{}{
		"pairs":    len(missing),
		"resolved": len(result),
	}).Debug("加载交易对代币信息")

	return result, nil
}

// tokensMetadata 返回可解析的代币信息，失败的代币只记录日志
func (c *Client) tokensMetadata(ctx context.Context, addrs []common.Address) (map[common.Address]TokenInfo, error) {
	result := make(map[common.Address]TokenInfo, len(addrs))
	missing := make([]common.Address, 0)
	queued := make(map[common.Address]struct{}, len(addrs))

	c.mu.RLock()
	for _, addr := range addrs {
		if info, ok := c.tokenCache[addr]; ok {
			result[addr] = info
			continue
		}
		if _, ok := queued[addr]; ok {
			continue
		}
		queued[addr] = struct{}{}
		missing = append(missing, addr)
	}
	c.mu.RUnlock()

	if len(missing) == 0 {
		return result, nil
	}

	calls := make([]contractCall, 0, 2*len(missing))
	for _, token := range missing {
		calls = append(calls,
			contractCall{to: token, abi: &erc20ABI, method: "symbol"},
			contractCall{to: token, abi: &erc20ABI, method: "decimals"},
		)
	}
	outs, errs, err := c.batchCall(ctx, calls)
	if err != nil {
		return nil, errors.New(errors.ErrTokenMetadata, "获取代币信息失败", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i, token := range missing {
		info, err := decodeToken(token, outs[2*i], errs[2*i], outs[2*i+1], errs[2*i+1])
		if err != nil {
			logger.WithFields(map[string]interface{}{
				"token": token.Hex(),
				"error": err.Error(),
			}).Warn("代币信息解析失败，跳过")
			continue
		}
		c.tokenCache[token] = info
		result[token] = info
	}
	return result, nil
}

// ClearCaches 清空代币和交易对缓存
func (c *Client) ClearCaches() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenCache = make(map[common.Address]TokenInfo)
	c.pairCache = make(map[common.Address]PairInfo)
}

func (c *Client) CacheStats() CacheStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return CacheStats{
		TokenCacheSize: len(c.tokenCache),
		PairCacheSize:  len(c.pairCache),
	}
}
