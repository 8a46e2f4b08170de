package store

import (
	"encoding/json"
	"fmt"

	"github.com/roach88/threadsync/internal/ir"
)

// marshalOps converts ops to canonical JSON TEXT for storage, so the batch
// ID can be recomputed from the stored row.
func marshalOps(ops []ir.Op) (string, error) {
	if ops == nil {
		ops = []ir.Op{}
	}
	data, err := ir.MarshalCanonical(ops)
	if err != nil {
		return "", fmt.Errorf("marshal ops: %w", err)
	}
	return string(data), nil
}

func unmarshalOps(s string) ([]ir.Op, error) {
	var ops []ir.Op
	if err := json.Unmarshal([]byte(s), &ops); err != nil {
		return nil, fmt.Errorf("unmarshal ops: %w", err)
	}
	return ops, nil
}

// marshalTree converts a projected tree to canonical JSON TEXT.
func marshalTree(tree []ir.ProjectedComment) (string, error) {
	if tree == nil {
		tree = []ir.ProjectedComment{}
	}
	data, err := ir.MarshalCanonical(tree)
	if err != nil {
		return "", fmt.Errorf("marshal tree: %w", err)
	}
	return string(data), nil
}

func unmarshalTree(s string) ([]ir.ProjectedComment, error) {
	tree := []ir.ProjectedComment{}
	if err := json.Unmarshal([]byte(s), &tree); err != nil {
		return nil, fmt.Errorf("unmarshal tree: %w", err)
	}
	return tree, nil
}
