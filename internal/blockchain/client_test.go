package blockchain

import (
	stderrors "errors"
	"fmt"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/pydea-rs/tayadex-backend/internal/config"
	"github.com/pydea-rs/tayadex-backend/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeToken struct {
	symbol   string
	decimals uint8
}

// fakeEth serves the subset of the eth namespace the client uses.
type fakeEth struct {
	mu          sync.Mutex
	latest      uint64
	finalized   uint64
	logs        []types.Log
	origins     map[common.Hash]common.Address
	pairs       map[common.Address][2]common.Address
	tokens      map[common.Address]fakeToken
	logFailures int
	logCalls    int
	ethCalls    int
	originCalls int
}

func (f *fakeEth) BlockNumber() hexutil.Uint64 {
	return hexutil.Uint64(f.latest)
}

func (f *fakeEth) GetBlockByNumber(tag string, full bool) (map[string]interface{}, error) {
	if tag != "finalized" {
		return nil, fmt.Errorf("unexpected tag %s", tag)
	}
	return map[string]interface{}{"number": hexutil.Uint64(f.finalized)}, nil
}

func (f *fakeEth) GetTransactionByHash(hash common.Hash) (map[string]interface{}, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.originCalls++
	from, ok := f.origins[hash]
	if !ok {
		return nil, nil
	}
	return map[string]interface{}{"hash": hash, "from": from}, nil
}

func (f *fakeEth) GetLogs(crit map[string]interface{}) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logCalls++
	if f.logFailures > 0 {
		f.logFailures--
		return nil, stderrors.New("upstream unavailable")
	}

	from, err := hexutil.DecodeUint64(crit["fromBlock"].(string))
	if err != nil {
		return nil, err
	}
	to, err := hexutil.DecodeUint64(crit["toBlock"].(string))
	if err != nil {
		return nil, err
	}
	wanted := make(map[common.Hash]bool)
	if topics, ok := crit["topics"].([]interface{}); ok && len(topics) > 0 {
		if first, ok := topics[0].([]interface{}); ok {
			for _, topic := range first {
				wanted[common.HexToHash(topic.(string))] = true
			}
		}
	}

	out := make([]types.Log, 0)
	for _, log := range f.logs {
		if log.BlockNumber < from || log.BlockNumber > to {
			continue
		}
		if len(wanted) > 0 && !wanted[log.Topics[0]] {
			continue
		}
		out = append(out, log)
	}
	return out, nil
}

func (f *fakeEth) Call(args map[string]interface{}, block string) (hexutil.Bytes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ethCalls++

	to := common.HexToAddress(args["to"].(string))
	data, err := hexutil.Decode(args["data"].(string))
	if err != nil {
		return nil, err
	}
	if len(data) < 4 {
		return nil, stderrors.New("short calldata")
	}

	revert := stderrors.New("execution reverted")
	pair, isPair := f.pairs[to]
	token, isToken := f.tokens[to]
	switch string(data[:4]) {
	case string(pairABI.Methods["token0"].ID):
		if isPair {
			return pairABI.Methods["token0"].Outputs.Pack(pair[0])
		}
	case string(pairABI.Methods["token1"].ID):
		if isPair {
			return pairABI.Methods["token1"].Outputs.Pack(pair[1])
		}
	case string(erc20ABI.Methods["symbol"].ID):
		if isToken {
			return erc20ABI.Methods["symbol"].Outputs.Pack(token.symbol)
		}
	case string(erc20ABI.Methods["decimals"].ID):
		if isToken {
			return erc20ABI.Methods["decimals"].Outputs.Pack(token.decimals)
		}
	}
	return nil, revert
}

var (
	testToken0 = common.HexToAddress("0x000000000000000000000000000000000000a001")
	testToken1 = common.HexToAddress("0x000000000000000000000000000000000000a002")
)

func newFakeEth() *fakeEth {
	return &fakeEth{
		latest:    120,
		finalized: 100,
		origins:   make(map[common.Hash]common.Address),
		pairs: map[common.Address][2]common.Address{
			testPair: {testToken0, testToken1},
		},
		tokens: map[common.Address]fakeToken{
			testToken0: {symbol: "WMON", decimals: 18},
			testToken1: {symbol: "USDC", decimals: 6},
		},
	}
}

func newTestClient(t *testing.T, fake *fakeEth) *Client {
	t.Helper()
	server := rpc.NewServer()
	require.NoError(t, server.RegisterName("eth", fake))
	t.Cleanup(server.Stop)

	cfg := &config.ChainConfig{ID: 10143, MaxRetries: 3, RetryDelay: 0}
	client := newClient(cfg, rpc.DialInProc(server))
	t.Cleanup(client.Close)
	return client
}

func TestBlockNumbers(t *testing.T) {
	client := newTestClient(t, newFakeEth())

	latest, err := client.LatestBlockNumber(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint64(120), latest)

	finalized, err := client.FinalizedBlockNumber(t.Context())
	require.NoError(t, err)
	assert.Equal(t, uint64(100), finalized)
}

func TestTransactionOrigin(t *testing.T) {
	fake := newFakeEth()
	tx := common.HexToHash("0xabc")
	fake.origins[tx] = testSender
	client := newTestClient(t, fake)

	from, err := client.TransactionOrigin(t.Context(), tx.Hex())
	require.NoError(t, err)
	assert.Equal(t, testSender, from)
}

func TestTransactionOriginNotFoundIsNotRetried(t *testing.T) {
	fake := newFakeEth()
	client := newTestClient(t, fake)

	_, err := client.TransactionOrigin(t.Context(), common.HexToHash("0xdead").Hex())
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrTxOrigin))
	assert.ErrorIs(t, err, ethereum.NotFound)
	assert.Equal(t, 1, fake.originCalls)
}

func TestSwapEventsAttachPairMetadata(t *testing.T) {
	fake := newFakeEth()
	fake.logs = []types.Log{
		swapLog(t, testPair, 10, common.HexToHash("0x10"), testSender, testTo, 1000, 0, 0, 2000),
		swapLog(t, testPair, 11, common.HexToHash("0x11"), testSender, testTo, 0, 3000, 4000, 0),
		swapLog(t, testPair, 30, common.HexToHash("0x30"), testSender, testTo, 1, 0, 0, 1),
		mintLog(t, testPair, 10, common.HexToHash("0x12"), testSender, 5, 5),
	}
	client := newTestClient(t, fake)

	events, err := client.SwapEvents(t.Context(), 10, 20)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, common.HexToHash("0x10").Hex(), events[0].TxHash)
	assert.Equal(t, "WMON", events[0].Token0.Symbol)
	assert.Equal(t, uint8(18), events[0].Token0.Decimals)
	assert.Equal(t, "USDC", events[1].Token1.Symbol)
	assert.Equal(t, uint8(6), events[1].Token1.Decimals)

	assert.Equal(t, CacheStats{TokenCacheSize: 2, PairCacheSize: 1}, client.CacheStats())
	calls := fake.ethCalls

	_, err = client.SwapEvents(t.Context(), 10, 20)
	require.NoError(t, err)
	assert.Equal(t, calls, fake.ethCalls, "cached metadata must not be fetched again")

	client.ClearCaches()
	assert.Equal(t, CacheStats{}, client.CacheStats())
}

func TestLiquidityEventsSplitMintsAndBurns(t *testing.T) {
	fake := newFakeEth()
	fake.logs = []types.Log{
		mintLog(t, testPair, 5, common.HexToHash("0x05"), testSender, 100, 200),
		burnLog(t, testPair, 6, common.HexToHash("0x06"), testSender, testTo, 50, 70),
		swapLog(t, testPair, 6, common.HexToHash("0x07"), testSender, testTo, 1, 0, 0, 1),
	}
	client := newTestClient(t, fake)

	events, err := client.LiquidityEvents(t.Context(), 1, 10)
	require.NoError(t, err)
	require.Len(t, events.Mints, 1)
	require.Len(t, events.Burns, 1)
	assert.Equal(t, testSender, events.Mints[0].To)
	assert.Equal(t, "WMON", events.Mints[0].Token0.Symbol)
	assert.Equal(t, testTo, events.Burns[0].To)
	assert.Equal(t, "USDC", events.Burns[0].Token1.Symbol)
}

func TestLogFetchRetriesTransientFailures(t *testing.T) {
	fake := newFakeEth()
	fake.logFailures = 2
	client := newTestClient(t, fake)

	events, err := client.SwapEvents(t.Context(), 1, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
	assert.Equal(t, 3, fake.logCalls)
}

func TestLogFetchGivesUpAfterMaxRetries(t *testing.T) {
	fake := newFakeEth()
	fake.logFailures = 10
	client := newTestClient(t, fake)

	_, err := client.SwapEvents(t.Context(), 1, 10)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrLogFetch))
	assert.Equal(t, 3, fake.logCalls)
}

func TestNonPairEmitterDoesNotBlockWindow(t *testing.T) {
	fake := newFakeEth()
	unknown := common.HexToAddress("0x00000000000000000000000000000000000000bb")
	fake.logs = []types.Log{
		swapLog(t, testPair, 10, common.HexToHash("0x10"), testSender, testTo, 1000, 0, 0, 2000),
		swapLog(t, unknown, 11, common.HexToHash("0x11"), testSender, testTo, 1, 0, 0, 1),
	}
	client := newTestClient(t, fake)

	for round := 0; round < 3; round++ {
		events, err := client.SwapEvents(t.Context(), 1, 25)
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, common.HexToHash("0x10").Hex(), events[0].TxHash)
		assert.Equal(t, "WMON", events[0].Token0.Symbol)
	}
	assert.Equal(t, 1, client.CacheStats().PairCacheSize)
}

func TestMalformedLogIsSkipped(t *testing.T) {
	fake := newFakeEth()
	broken := swapLog(t, testPair, 12, common.HexToHash("0x12"), testSender, testTo, 1, 0, 0, 1)
	broken.Data = broken.Data[:10]
	fake.logs = []types.Log{
		broken,
		mintLog(t, testPair, 12, common.HexToHash("0x13"), testSender, 5, 5),
		burnLog(t, testPair, 13, common.HexToHash("0x14"), testSender, testTo, 2, 2),
	}
	fake.logs[1].Data = fake.logs[1].Data[:3]
	client := newTestClient(t, fake)

	swaps, err := client.SwapEvents(t.Context(), 1, 20)
	require.NoError(t, err)
	assert.Empty(t, swaps)

	liquidity, err := client.LiquidityEvents(t.Context(), 1, 20)
	require.NoError(t, err)
	assert.Empty(t, liquidity.Mints)
	require.Len(t, liquidity.Burns, 1)
	assert.Equal(t, common.HexToHash("0x14").Hex(), liquidity.Burns[0].TxHash)
}

func TestPairWithBrokenTokenIsLeftOut(t *testing.T) {
	fake := newFakeEth()
	brokenPair := common.HexToAddress("0x00000000000000000000000000000000000000cc")
	noDecimals := common.HexToAddress("0x000000000000000000000000000000000000a003")
	fake.pairs[brokenPair] = [2]common.Address{testToken0, noDecimals}
	client := newTestClient(t, fake)

	meta, err := client.PairsMetadata(t.Context(), []common.Address{testPair, brokenPair})
	require.NoError(t, err)
	require.Contains(t, meta, testPair)
	assert.NotContains(t, meta, brokenPair)
	assert.Equal(t, "USDC", meta[testPair].Token1.Symbol)
}
