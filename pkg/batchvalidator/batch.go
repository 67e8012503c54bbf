// Package batchvalidator packs candidates into on-chain batch-checker
// calls, decodes the packed 19-byte result records, and retries with a
// halved batch size when an RPC node rejects a batch outright (usually
// because it exceeded the node's call-data or gas-estimation limits).
package batchvalidator

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// recordSize is the packed result width: 1-byte status, 14-byte profit,
// 4-byte gas, all big-endian.
const recordSize = 1 + 14 + 4

// ErrRecordCountMismatch signals that the batch checker returned a
// response whose record count doesn't line up with the submitted
// candidates (or isn't a whole number of records at all). That's not a
// transient RPC failure — it means the deployed checker's ABI has
// drifted from this decoder, and retrying can never fix it.
var ErrRecordCountMismatch = errors.New("batchvalidator: record count mismatch")

// Status is the batch checker's per-candidate verdict byte.
type Status uint8

const (
	StatusReverted Status = iota
	StatusSucceeded
)

// Record is one decoded entry from a batch checker response.
type Record struct {
	Status Status
	Profit *big.Int
	Gas    uint32
}

// DecodeRecords splits packed into fixed-width records and decodes
// each one. It returns an error if packed's length isn't an exact
// multiple of recordSize.
func DecodeRecords(packed []byte) ([]Record, error) {
	if len(packed)%recordSize != 0 {
		return nil, fmt.Errorf("%w: packed length %d is not a multiple of %d", ErrRecordCountMismatch, len(packed), recordSize)
	}

	n := len(packed) / recordSize
	records := make([]Record, n)
	for i := 0; i < n; i++ {
		chunk := packed[i*recordSize : (i+1)*recordSize]
		records[i] = Record{
			Status: Status(chunk[0]),
			Profit: new(big.Int).SetBytes(chunk[1:15]),
			Gas:    uint32(chunk[15])<<24 | uint32(chunk[16])<<16 | uint32(chunk[17])<<8 | uint32(chunk[18]),
		}
	}
	return records, nil
}

// Successful returns the records (with their original index) whose
// status is StatusSucceeded.
func Successful(records []Record) map[int]Record {
	out := make(map[int]Record)
	for i, r := range records {
		if r.Status == StatusSucceeded {
			out[i] = r
		}
	}
	return out
}

// Caller is the minimal RPC surface the validator needs: a raw eth_call
// against the batch-checker contract at router for calldata.
type Caller interface {
	CallRaw(ctx context.Context, to common.Address, calldata []byte) ([]byte, error)
}

// Chunk is one batch-checker call: the router to call and the
// concatenated per-candidate calldata it should validate.
type Chunk struct {
	Router   common.Address
	Calldata [][]byte
}

// ValidateChunk calls the batch checker for chunk and decodes its
// response. If the call itself fails (not a revert inside the checker,
// but the RPC call failing outright — usually too large a batch for
// the node to estimate), it halves the chunk and retries each half
// independently, recombining the decoded records in original order.
// Returns an error only if a chunk of size 1 still fails — except for
// ErrRecordCountMismatch, which is returned immediately without
// halving: a response that decodes to the wrong number of records is
// ABI drift, and re-asking with a smaller batch won't change the shape.
func ValidateChunk(ctx context.Context, caller Caller, packCalldata func(calls [][]byte) []byte, chunk Chunk) ([]Record, error) {
	if len(chunk.Calldata) == 0 {
		return nil, nil
	}

	packed := packCalldata(chunk.Calldata)
	resp, err := caller.CallRaw(ctx, chunk.Router, packed)
	if err == nil {
		records, decodeErr := DecodeRecords(resp)
		if decodeErr != nil {
			return nil, decodeErr
		}
		if len(records) != len(chunk.Calldata) {
			return nil, fmt.Errorf("%w: %d records for %d candidates", ErrRecordCountMismatch, len(records), len(chunk.Calldata))
		}
		return records, nil
	}

	if len(chunk.Calldata) == 1 {
		return nil, fmt.Errorf("batchvalidator: single-candidate batch still failed: %w", err)
	}

	mid := len(chunk.Calldata) / 2
	left := Chunk{Router: chunk.Router, Calldata: chunk.Calldata[:mid]}
	right := Chunk{Router: chunk.Router, Calldata: chunk.Calldata[mid:]}

	leftRecords, err := ValidateChunk(ctx, caller, packCalldata, left)
	if err != nil {
		return nil, err
	}
	rightRecords, err := ValidateChunk(ctx, caller, packCalldata, right)
	if err != nil {
		return nil, err
	}

	return append(leftRecords, rightRecords...), nil
}

// ChunkBySize splits calls into groups of at most size, preserving
// order, matching how the reference batcher caps each on-chain call at
// a fixed candidate count to stay under node call-data limits.
func ChunkBySize(router common.Address, calls [][]byte, size int) []Chunk {
	if size <= 0 {
		size = len(calls)
	}
	var chunks []Chunk
	for i := 0; i < len(calls); i += size {
		end := i + size
		if end > len(calls) {
			end = len(calls)
		}
		chunks = append(chunks, Chunk{Router: router, Calldata: calls[i:end]})
	}
	return chunks
}
