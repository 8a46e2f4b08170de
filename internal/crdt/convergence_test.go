package crdt

import (
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/threadsync/internal/ir"
)

// randomHistory simulates replicas editing their own stores and returns
// every batch they produced.
func randomHistory(rng *rand.Rand, replicas []string, steps int) [][]ir.Op {
	stores := make(map[string]*Store)
	clocks := make(map[string]*Clock)
	for _, r := range replicas {
		stores[r] = NewStore()
		clocks[r] = NewClock(r)
	}

	var batches [][]ir.Op
	for i := 0; i < steps; i++ {
		r := replicas[rng.Intn(len(replicas))]
		s, clk := stores[r], clocks[r]

		// Occasionally catch up on another replica's history.
		if rng.Intn(4) == 0 && len(batches) > 0 {
			for _, b := range batches[:rng.Intn(len(batches))+1] {
				mustApply(s, b...)
				for _, op := range b {
					clk.Observe(op.Stamp.Seq)
				}
			}
		}

		nodes := s.allCreated()
		var batch []ir.Op
		switch k := rng.Intn(4); {
		case k == 0 || len(nodes) == 0:
			node := clk.Next()
			container := ir.RootID
			if len(nodes) > 0 && rng.Intn(2) == 0 {
				container = nodes[rng.Intn(len(nodes))]
			}
			batch = createOps(node, container, s.Tail(container), fmt.Sprintf("%s-%d", r, i))
		case k == 1:
			batch = []ir.Op{setTextOp(clk.Next(), nodes[rng.Intn(len(nodes))], fmt.Sprintf("edit-%s-%d", r, i))}
		case k == 2:
			batch = []ir.Op{tombstoneOp(clk.Next(), nodes[rng.Intn(len(nodes))])}
		default:
			at := baseTime.Add(time.Duration(rng.Int63n(int64(24 * time.Hour))))
			batch = []ir.Op{{Kind: ir.OpTouch, Stamp: clk.Next(), Target: nodes[rng.Intn(len(nodes))], Touch: &ir.TouchPayload{At: at}}}
		}
		mustApply(s, batch...)
		batches = append(batches, batch)
	}
	return batches
}

func (s *Store) allCreated() []ir.ID {
	var ids []ir.ID
	for _, id := range sortedIDs(s.nodes) {
		if s.nodes[id].created {
			ids = append(ids, id)
		}
	}
	return ids
}

func digestOf(t *testing.T, s *Store) string {
	t.Helper()
	d, err := s.Digest()
	require.NoError(t, err)
	return d
}

func TestConvergence_AnyDeliveryOrder(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		t.Run(fmt.Sprintf("seed-%d", seed), func(t *testing.T) {
			rng := rand.New(rand.NewSource(seed))
			batches := randomHistory(rng, []string{"a", "b", "c"}, 40)

			reference := NewStore()
			for _, b := range batches {
				mustApply(reference, b...)
			}

			shuffled := NewStore()
			perm := rng.Perm(len(batches))
			for _, i := range perm {
				mustApply(shuffled, batches[i]...)
			}

			assert.Equal(t, digestOf(t, reference), digestOf(t, shuffled))
			assert.Equal(t, reference.Roots(), shuffled.Roots())
		})
	}
}

func TestConvergence_MergeLaws(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	batches := randomHistory(rng, []string{"a", "b", "c"}, 60)

	build := func(idx ...int) *Store {
		s := NewStore()
		for _, i := range idx {
			mustApply(s, batches[i]...)
		}
		return s
	}
	var xs, ys, zs []int
	for i := range batches {
		switch i % 3 {
		case 0:
			xs = append(xs, i)
		case 1:
			ys = append(ys, i)
		default:
			zs = append(zs, i)
		}
	}

	t.Run("commutative", func(t *testing.T) {
		xy := build(xs...)
		_, err := xy.Merge(build(ys...))
		require.NoError(t, err)
		yx := build(ys...)
		_, err = yx.Merge(build(xs...))
		require.NoError(t, err)
		assert.Equal(t, digestOf(t, xy), digestOf(t, yx))
	})

	t.Run("associative", func(t *testing.T) {
		left := build(xs...)
		_, err := left.Merge(build(ys...))
		require.NoError(t, err)
		_, err = left.Merge(build(zs...))
		require.NoError(t, err)

		yz := build(ys...)
		_, err = yz.Merge(build(zs...))
		require.NoError(t, err)
		right := build(xs...)
		_, err = right.Merge(yz)
		require.NoError(t, err)

		assert.Equal(t, digestOf(t, left), digestOf(t, right))
	})

	t.Run("idempotent", func(t *testing.T) {
		once := build(xs...)
		twice := build(xs...)
		changed, err := twice.Merge(build(xs...))
		require.NoError(t, err)
		assert.False(t, changed)
		assert.Equal(t, digestOf(t, once), digestOf(t, twice))
	})
}
