package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain separation prefix for batch identity. Bump the version when the
// canonical form of a batch changes.
const batchDomain = "threadsync/batch/v1"

// Batch is the unit of shipping: every op committed by one transaction, or
// a full-state snapshot.
type Batch struct {
	ID     string `json:"id"`
	Origin string `json:"origin"`
	Ops    []Op   `json:"ops"`
}

// MaxStamp returns the largest op stamp in the batch.
func (b Batch) MaxStamp() ID {
	var top ID
	for _, op := range b.Ops {
		if top.Less(op.Stamp) {
			top = op.Stamp
		}
	}
	return top
}

// Validate checks every op against its schema.
func (b Batch) Validate() error {
	if b.Origin == "" {
		return fmt.Errorf("batch %s: origin is required", b.ID)
	}
	for i, op := range b.Ops {
		if err := op.Validate(); err != nil {
			return fmt.Errorf("batch %s: op[%d]: %w", b.ID, i, err)
		}
	}
	return nil
}

// NewBatch builds a batch with its content-addressed ID filled in.
func NewBatch(origin string, ops []Op) (Batch, error) {
	b := Batch{Origin: origin, Ops: ops}
	id, err := ComputeBatchID(b)
	if err != nil {
		return Batch{}, err
	}
	b.ID = id
	return b, nil
}

// ComputeBatchID derives the content-addressed ID of a batch from its
// origin and ops. The existing ID field is ignored.
//
// The same (origin, ops) always hashes to the same ID, so a batch delivered
// twice is recognised as a duplicate.
func ComputeBatchID(b Batch) (string, error) {
	canonical, err := MarshalCanonical(struct {
		Origin string `json:"origin"`
		Ops    []Op   `json:"ops"`
	}{b.Origin, b.Ops})
	if err != nil {
		return "", fmt.Errorf("canonical batch: %w", err)
	}
	return hashWithDomain(batchDomain, canonical), nil
}

// hashWithDomain computes SHA-256(domain + 0x00 + data), hex encoded.
// The null separator keeps domain and data from running into each other.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Digest hashes any canonically encodable value under the given domain.
func Digest(domain string, v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", err
	}
	return hashWithDomain(domain, canonical), nil
}
