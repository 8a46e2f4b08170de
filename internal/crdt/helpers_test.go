package crdt

import (
	"time"

	"github.com/roach88/threadsync/internal/ir"
)

var baseTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func nid(seq int64, replica string) ir.ID {
	return ir.ID{Seq: seq, Replica: replica}
}

func createOps(node, container, after ir.ID, text string) []ir.Op {
	return []ir.Op{
		{
			Kind:   ir.OpCreate,
			Stamp:  node,
			Target: node,
			Create: &ir.CreatePayload{
				Author:    ir.Author{ID: "u-" + node.Replica, Name: node.Replica},
				Text:      text,
				CreatedAt: baseTime.Add(time.Duration(node.Seq) * time.Second),
			},
		},
		{
			Kind:   ir.OpInsert,
			Stamp:  node,
			Target: node,
			Insert: &ir.InsertPayload{Container: container, After: after},
		},
	}
}

func setTextOp(stamp, node ir.ID, text string) ir.Op {
	return ir.Op{
		Kind:   ir.OpSetText,
		Stamp:  stamp,
		Target: node,
		SetText: &ir.SetTextPayload{
			Text:      text,
			UpdatedAt: baseTime.Add(time.Duration(stamp.Seq) * time.Minute),
		},
	}
}

func tombstoneOp(stamp, node ir.ID) ir.Op {
	return ir.Op{Kind: ir.OpTombstone, Stamp: stamp, Target: node}
}

func mustApply(s *Store, ops ...ir.Op) {
	if _, err := s.ApplyAll(ops); err != nil {
		panic(err)
	}
}
