package submission

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/stretchr/testify/assert"

	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/profitability"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/rpcfabric"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/types"
	"github.com/MedTrebor/uniswapv2-arbitrage-bot/pkg/util"
)

func sampleCandidate() *types.ArbitrageCandidate {
	base := common.HexToAddress("0x0000000000000000000000000000000000000001")
	mid := common.HexToAddress("0x0000000000000000000000000000000000000002")
	poolA := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	poolB := common.HexToAddress("0x00000000000000000000000000000000000000bb")

	return &types.ArbitrageCandidate{
		Path: &types.Path{
			Hops: []types.Hop{
				{Pool: poolA, TokenIn: base, TokenOut: mid, Zero: true},
				{Pool: poolB, TokenIn: mid, TokenOut: base, Zero: false},
			},
		},
		AmountIn:    big.NewInt(1_000_000),
		AmountOut:   big.NewInt(1_010_000),
		Profit:      big.NewInt(10_000),
		GasEstimate: big.NewInt(250_000),
		GasPrice:    big.NewInt(5_000_000_000),
	}
}

func sampleGasPriceParams() profitability.GasPriceParams {
	return profitability.GasPriceParams{
		LowMultiplier:  big.NewRat(3, 10),
		MidMultiplier:  big.NewRat(5, 10),
		HighMultiplier: big.NewRat(7, 10),
		LowThreshold:   big.NewInt(5_000_000_000),
		MidThreshold:   big.NewInt(10_000_000_000),
		MaxGasPrice:    big.NewInt(20_000_000_000),
		MinGasPrice:    big.NewInt(1),
	}
}

func TestBuildEnvelopePacksCalldataAndChoosesGasLimit(t *testing.T) {
	candidate := sampleCandidate()
	feeOf := func(common.Address) uint16 { return 9975 }
	limits := util.DefaultGasLimitTable()

	env, err := BuildEnvelope(candidate, feeOf, limits, 250_000, 3, big.NewRat(1, 1), sampleGasPriceParams(), nil, false)

	assert.NoError(t, err)
	assert.NotEmpty(t, env.Calldata)
	assert.Equal(t, "01", env.Calldata[:2])
	assert.True(t, env.GasLimit > 0)
	assert.NotNil(t, env.GasPrice)
}

func TestBuildEnvelopeCarriesExplicitBurners(t *testing.T) {
	candidate := sampleCandidate()
	feeOf := func(common.Address) uint16 { return 9975 }
	limits := util.DefaultGasLimitTable()
	burners := []common.Address{
		common.HexToAddress("0x000000000000000000000000000000000000b001"),
		common.HexToAddress("0x000000000000000000000000000000000000b002"),
	}

	env, err := BuildEnvelope(candidate, feeOf, limits, 250_000, 3, big.NewRat(1, 1), sampleGasPriceParams(), burners, true)

	assert.NoError(t, err)
	assert.Equal(t, burners, env.Burners)
	assert.Equal(t, 2, env.BurnerCount)
}

func TestBuildEnvelopeRejectsCandidateThatClearsNoGasPriceTier(t *testing.T) {
	candidate := sampleCandidate()
	candidate.Profit = big.NewInt(0)
	feeOf := func(common.Address) uint16 { return 9975 }
	limits := util.DefaultGasLimitTable()

	_, err := BuildEnvelope(candidate, feeOf, limits, 250_000, 3, big.NewRat(1, 1), sampleGasPriceParams(), nil, false)
	assert.Error(t, err)
}

// estimateGasService is a minimal in-process JSON-RPC "eth" namespace
// backing ethclient.Client.EstimateGas, so EstimateQuorum can be tested
// against real (if trivial) RPC round trips instead of a hand-stubbed
// estimate function.
type estimateGasService struct {
	gas uint64
	err error
}

func (s *estimateGasService) EstimateGas(ctx context.Context, args interface{}) (hexutil.Uint64, error) {
	if s.err != nil {
		return 0, s.err
	}
	return hexutil.Uint64(s.gas), nil
}

func newFakeEstimateNode(t *testing.T, gas uint64, fail bool) *rpcfabric.Node {
	t.Helper()
	server := rpc.NewServer()
	svc := &estimateGasService{gas: gas}
	if fail {
		svc.err = fmt.Errorf("estimate failed")
	}
	if err := server.RegisterName("eth", svc); err != nil {
		t.Fatalf("register eth service: %v", err)
	}
	t.Cleanup(server.Stop)

	rpcClient := rpc.DialInProc(server)
	t.Cleanup(rpcClient.Close)
	return &rpcfabric.Node{Client: ethclient.NewClient(rpcClient), RPC: rpcClient}
}

func TestEstimateQuorumAcceptsWhenEnoughNodesAgree(t *testing.T) {
	nodes := []*rpcfabric.Node{
		newFakeEstimateNode(t, 200_000, false),
		newFakeEstimateNode(t, 210_000, false),
		newFakeEstimateNode(t, 220_000, false),
	}
	fabric := rpcfabric.New(nodes, nil)
	p := &Pipeline{Fabric: fabric}
	env := &Envelope{GasLimit: 200_000, GasPrice: big.NewInt(1)}

	outcome, _, err := p.EstimateQuorum(context.Background(), env, func(gas uint64) bool { return gas < 300_000 }, 2, time.Time{})

	assert.NoError(t, err)
	assert.Equal(t, types.Accepted, outcome)
}

// Two profitable nodes and one error with confirms=2: the profitable
// quorum wins and the transaction goes through.
func TestEstimateQuorumAcceptsDespiteOneErroringNode(t *testing.T) {
	nodes := []*rpcfabric.Node{
		newFakeEstimateNode(t, 150_000, false),
		newFakeEstimateNode(t, 0, true),
		newFakeEstimateNode(t, 180_000, false),
	}
	fabric := rpcfabric.New(nodes, nil)
	p := &Pipeline{Fabric: fabric}
	env := &Envelope{GasLimit: 200_000, GasPrice: big.NewInt(1)}

	outcome, _, err := p.EstimateQuorum(context.Background(), env, func(gas uint64) bool { return gas >= 60_000 }, 2, time.Time{})

	assert.NoError(t, err)
	assert.Equal(t, types.Accepted, outcome)
}

func TestEstimateQuorumRaisesLateTransactionPastDeadline(t *testing.T) {
	nodes := []*rpcfabric.Node{
		newFakeEstimateNode(t, 150_000, false),
		newFakeEstimateNode(t, 180_000, false),
	}
	fabric := rpcfabric.New(nodes, nil)
	p := &Pipeline{Fabric: fabric}
	env := &Envelope{GasLimit: 200_000, GasPrice: big.NewInt(1)}

	outcome, _, err := p.EstimateQuorum(context.Background(), env, func(gas uint64) bool { return true }, 2, time.Now().Add(-time.Second))

	assert.NoError(t, err)
	assert.Equal(t, types.LateTransaction, outcome)
}

func TestEstimateQuorumReportsNotProfitableWhenMajorityDisagrees(t *testing.T) {
	nodes := []*rpcfabric.Node{
		newFakeEstimateNode(t, 400_000, false),
		newFakeEstimateNode(t, 410_000, false),
		newFakeEstimateNode(t, 420_000, false),
	}
	fabric := rpcfabric.New(nodes, nil)
	p := &Pipeline{Fabric: fabric}
	env := &Envelope{GasLimit: 400_000, GasPrice: big.NewInt(1)}

	outcome, _, err := p.EstimateQuorum(context.Background(), env, func(gas uint64) bool { return gas < 100_000 }, 2, time.Time{})

	assert.NoError(t, err)
	assert.Equal(t, types.NotProfitable, outcome)
}

func TestEstimateQuorumPropagatesErrorWhenErrorQuorumReached(t *testing.T) {
	nodes := []*rpcfabric.Node{
		newFakeEstimateNode(t, 0, true),
		newFakeEstimateNode(t, 0, true),
	}
	fabric := rpcfabric.New(nodes, nil)
	p := &Pipeline{Fabric: fabric}
	env := &Envelope{GasLimit: 200_000, GasPrice: big.NewInt(1)}

	outcome, _, err := p.EstimateQuorum(context.Background(), env, func(gas uint64) bool { return true }, 2, time.Time{})

	assert.Error(t, err)
	assert.Equal(t, types.MixedEstimation, outcome)
}

func TestEstimateQuorumReportsMixedWhenNoVerdictReachesConfirms(t *testing.T) {
	nodes := []*rpcfabric.Node{
		newFakeEstimateNode(t, 150_000, false),
		newFakeEstimateNode(t, 30_000, false),
		newFakeEstimateNode(t, 0, true),
	}
	fabric := rpcfabric.New(nodes, nil)
	p := &Pipeline{Fabric: fabric}
	env := &Envelope{GasLimit: 200_000, GasPrice: big.NewInt(1)}

	outcome, results, err := p.EstimateQuorum(context.Background(), env, func(gas uint64) bool { return gas >= 60_000 }, 2, time.Time{})

	assert.NoError(t, err)
	assert.Equal(t, types.MixedEstimation, outcome)
	assert.Len(t, results, 3)
}

func TestNonceManagerReserveRollback(t *testing.T) {
	var m NonceManager
	m.Sync(7)

	n1 := m.Reserve()
	assert.Equal(t, uint64(7), n1)
	assert.Equal(t, uint64(8), m.Reserve())

	// Only the latest reservation can roll back.
	m.Rollback(n1)
	assert.Equal(t, uint64(9), m.Reserve())

	n4 := m.Reserve()
	m.Rollback(n4)
	assert.Equal(t, n4, m.Reserve())
}

func TestIsNonceErrorMatchesDriftMessages(t *testing.T) {
	assert.True(t, IsNonceError(fmt.Errorf("rpc: nonce too low")))
	assert.True(t, IsNonceError(fmt.Errorf("already known")))
	assert.True(t, IsNonceError(fmt.Errorf("replacement transaction underpriced")))
	assert.False(t, IsNonceError(fmt.Errorf("connection refused")))
	assert.False(t, IsNonceError(nil))
}
