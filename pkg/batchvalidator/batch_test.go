package batchvalidator

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
)

func encodeRecord(status Status, profit int64, gas uint32) []byte {
	buf := make([]byte, recordSize)
	buf[0] = byte(status)
	p := big.NewInt(profit).Bytes()
	copy(buf[1+14-len(p):15], p)
	buf[15] = byte(gas >> 24)
	buf[16] = byte(gas >> 16)
	buf[17] = byte(gas >> 8)
	buf[18] = byte(gas)
	return buf
}

func TestDecodeRecordsRoundTrip(t *testing.T) {
	r1 := encodeRecord(StatusSucceeded, 1000, 210_000)
	r2 := encodeRecord(StatusReverted, 0, 21_000)
	packed := append(append([]byte{}, r1...), r2...)

	records, err := DecodeRecords(packed)
	assert.NoError(t, err)
	assert.Len(t, records, 2)
	assert.Equal(t, StatusSucceeded, records[0].Status)
	assert.Equal(t, int64(1000), records[0].Profit.Int64())
	assert.Equal(t, uint32(210_000), records[0].Gas)
	assert.Equal(t, StatusReverted, records[1].Status)

	succ := Successful(records)
	assert.Len(t, succ, 1)
	_, ok := succ[0]
	assert.True(t, ok)
}

func TestDecodeRecordsRejectsBadLength(t *testing.T) {
	_, err := DecodeRecords([]byte{1, 2, 3})
	assert.Error(t, err)
}

type fakeCaller struct {
	failSizes map[int]bool
}

func (f *fakeCaller) CallRaw(ctx context.Context, to common.Address, calldata []byte) ([]byte, error) {
	n := len(calldata) / 32 // fake encoding: one 32-byte "call" per candidate
	if f.failSizes[n] {
		return nil, errors.New("rpc: batch too large")
	}
	buf := bytes.NewBuffer(nil)
	for i := 0; i < n; i++ {
		buf.Write(encodeRecord(StatusSucceeded, int64(i+1), 100_000))
	}
	return buf.Bytes(), nil
}

func TestValidateChunkHalvesOnFailure(t *testing.T) {
	caller := &fakeCaller{failSizes: map[int]bool{4: true}}
	calls := make([][]byte, 4)
	for i := range calls {
		calls[i] = make([]byte, 32)
	}
	chunk := Chunk{Router: common.Address{}, Calldata: calls}

	pack := func(cs [][]byte) []byte {
		buf := bytes.NewBuffer(nil)
		for _, c := range cs {
			buf.Write(c)
		}
		return buf.Bytes()
	}

	records, err := ValidateChunk(context.Background(), caller, pack, chunk)
	assert.NoError(t, err)
	assert.Len(t, records, 4)
}

func TestChunkBySizeSplitsInOrder(t *testing.T) {
	calls := make([][]byte, 5)
	chunks := ChunkBySize(common.Address{}, calls, 2)
	assert.Len(t, chunks, 3)
	assert.Len(t, chunks[0].Calldata, 2)
	assert.Len(t, chunks[2].Calldata, 1)
}

// shortCaller answers every call successfully but returns one record
// fewer than the candidates submitted, the shape a drifted checker
// contract produces.
type shortCaller struct {
	calls int
}

func (f *shortCaller) CallRaw(ctx context.Context, to common.Address, calldata []byte) ([]byte, error) {
	f.calls++
	n := len(calldata)/32 - 1
	buf := bytes.NewBuffer(nil)
	for i := 0; i < n; i++ {
		buf.Write(encodeRecord(StatusSucceeded, 1, 100_000))
	}
	return buf.Bytes(), nil
}

func TestValidateChunkRecordCountMismatchIsNotRetried(t *testing.T) {
	caller := &shortCaller{}
	calls := make([][]byte, 4)
	for i := range calls {
		calls[i] = make([]byte, 32)
	}
	chunk := Chunk{Router: common.Address{}, Calldata: calls}

	pack := func(cs [][]byte) []byte {
		buf := bytes.NewBuffer(nil)
		for _, c := range cs {
			buf.Write(c)
		}
		return buf.Bytes()
	}

	_, err := ValidateChunk(context.Background(), caller, pack, chunk)
	assert.ErrorIs(t, err, ErrRecordCountMismatch)
	// ABI drift must not trigger the halve-and-retry path: one call, no more.
	assert.Equal(t, 1, caller.calls)
}

func TestDecodeRecordsBadLengthIsRecordCountMismatch(t *testing.T) {
	_, err := DecodeRecords([]byte{1, 2, 3})
	assert.ErrorIs(t, err, ErrRecordCountMismatch)
}
