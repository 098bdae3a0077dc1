package encoder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BenJamesbabala/spinn/internal/cache"
	"github.com/BenJamesbabala/spinn/internal/device"
	"github.com/BenJamesbabala/spinn/internal/embed"
	"github.com/BenJamesbabala/spinn/internal/stack"
	"github.com/BenJamesbabala/spinn/internal/vocab"
)

// newTestEncoder builds an encoder whose composition is vector addition
// and whose embedding for token a/b/c/d is {1,10}/{2,20}/{3,30}/{4,40}.
// [PAD] and [UNK] embed as zero.
func newTestEncoder(t *testing.T, batchSize, seqLen int, rootCache cache.VectorCache) *Encoder {
	t.Helper()

	vocabPath := filepath.Join(t.TempDir(), "vocab.txt")
	require.NoError(t, os.WriteFile(vocabPath, []byte("a\nb\nc\nd\n"), 0o644))
	v, err := vocab.Load(vocabPath)
	require.NoError(t, err)
	require.Equal(t, 6, v.Size()) // four words plus [PAD], [UNK]

	spec := stack.ModelSpec{
		ModelDim:       2,
		WordDim:        2,
		BatchSize:      batchSize,
		SeqLength:      seqLen,
		VocabSize:      6,
		NumCombination: 2,
	}

	backend := device.NewCPUBackend()
	table := backend.NewTensor(6, 2, []float32{
		1, 10,
		2, 20,
		3, 30,
		4, 40,
		0, 0,
		0, 0,
	})
	emb, err := embed.New(spec, table, nil, nil, false, backend)
	require.NoError(t, err)

	identity := backend.NewTensor(2, 2, []float32{1, 0, 0, 1})
	machine, err := stack.New(spec, stack.Params{ComposeWL: identity, ComposeWR: identity}, backend)
	require.NoError(t, err)

	enc, err := New(v, emb, machine, rootCache)
	require.NoError(t, err)
	return enc
}

func TestEncodeBatch_LeftBranchingDefault(t *testing.T) {
	enc := newTestEncoder(t, 1, 5, nil)

	// Additive composition over a left-branching tree sums the leaves.
	roots, err := enc.EncodeBatch(context.Background(), []Example{
		{Tokens: []string{"a", "b", "c"}},
	})
	require.NoError(t, err)
	require.Len(t, roots, 1)
	assert.Equal(t, []float32{6, 60}, roots[0])
}

func TestEncodeBatch_ExplicitTransitions(t *testing.T) {
	enc := newTestEncoder(t, 1, 3, nil)

	roots, err := enc.EncodeBatch(context.Background(), []Example{
		{Tokens: []string{"a", "d"}, Transitions: []int32{stack.Shift, stack.Shift, stack.Reduce}},
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{5, 50}, roots[0])
}

func TestEncodeBatch_PaddingIsInert(t *testing.T) {
	// Same example through machines with different sequence lengths.
	short := newTestEncoder(t, 1, 3, nil)
	long := newTestEncoder(t, 1, 9, nil)

	ex := Example{Tokens: []string{"b", "c"}, Transitions: []int32{stack.Shift, stack.Shift, stack.Reduce}}

	a, err := short.EncodeBatch(context.Background(), []Example{ex})
	require.NoError(t, err)
	b, err := long.EncodeBatch(context.Background(), []Example{ex})
	require.NoError(t, err)
	assert.Equal(t, a[0], b[0])
}

func TestEncodeBatch_ChunksAndOrder(t *testing.T) {
	// Three examples through a two-lane machine: two chunks, results in
	// input order, idle lane padded out.
	enc := newTestEncoder(t, 2, 5, nil)

	roots, err := enc.EncodeBatch(context.Background(), []Example{
		{Tokens: []string{"a"}},
		{Tokens: []string{"b", "c"}},
		{Tokens: []string{"d", "d", "d"}},
	})
	require.NoError(t, err)
	require.Len(t, roots, 3)
	assert.Equal(t, []float32{1, 10}, roots[0])
	assert.Equal(t, []float32{5, 50}, roots[1])
	assert.Equal(t, []float32{12, 120}, roots[2])
}

func TestEncodeBatch_CacheRoundTrip(t *testing.T) {
	rootCache := cache.NewRootCache()
	enc := newTestEncoder(t, 1, 5, rootCache)

	examples := []Example{
		{Tokens: []string{"a", "b"}},
		{Tokens: []string{"a", "b"}},
	}

	first, err := enc.EncodeBatch(context.Background(), examples)
	require.NoError(t, err)
	// Identical examples share one cache entry.
	assert.Equal(t, 1, rootCache.Size())

	second, err := enc.EncodeBatch(context.Background(), examples)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestEncodeBatch_UnknownTokenUsesUnk(t *testing.T) {
	enc := newTestEncoder(t, 1, 3, nil)

	// zebra embeds as zero, so the root is just "a"'s embedding.
	roots, err := enc.EncodeBatch(context.Background(), []Example{
		{Tokens: []string{"a", "zebra"}, Transitions: []int32{stack.Shift, stack.Shift, stack.Reduce}},
	})
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 10}, roots[0])
}

func TestEncodeBatch_ContextCancelled(t *testing.T) {
	enc := newTestEncoder(t, 1, 3, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := enc.EncodeBatch(ctx, []Example{{Tokens: []string{"a", "b"},
		Transitions: []int32{stack.Shift, stack.Shift, stack.Reduce}}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
}

func TestEncodeBatch_ConcurrentCallers(t *testing.T) {
	// One machine shared by independent callers. Without memoization
	// every call runs a forward pass, so interleaved passes would hand
	// one caller's roots to the other.
	enc := newTestEncoder(t, 1, 3, nil)

	cases := []struct {
		ex   Example
		want []float32
	}{
		{
			ex:   Example{Tokens: []string{"a", "b"}, Transitions: []int32{stack.Shift, stack.Shift, stack.Reduce}},
			want: []float32{3, 30},
		},
		{
			ex:   Example{Tokens: []string{"c", "d"}, Transitions: []int32{stack.Shift, stack.Shift, stack.Reduce}},
			want: []float32{7, 70},
		},
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(cases))
	for _, tc := range cases {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				roots, err := enc.EncodeBatch(context.Background(), []Example{tc.ex})
				if err != nil {
					errs <- err
					return
				}
				if len(roots) != 1 || len(roots[0]) != 2 ||
					roots[0][0] != tc.want[0] || roots[0][1] != tc.want[1] {
					errs <- fmt.Errorf("iteration %d: got %v, want %v", i, roots, tc.want)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
}

func TestCropAndPad(t *testing.T) {
	t.Run("Pads", func(t *testing.T) {
		out, err := CropAndPad(Example{
			Tokens:      []string{"x", "y"},
			Transitions: []int32{stack.Shift, stack.Shift, stack.Reduce},
		}, 5)
		require.NoError(t, err)
		assert.Equal(t, []string{vocab.PadToken, vocab.PadToken, "x", "y"}, out.Tokens)
		assert.Equal(t, []int32{stack.Shift, stack.Shift, stack.Shift, stack.Shift, stack.Reduce}, out.Transitions)
	})

	t.Run("TokenShiftMismatch", func(t *testing.T) {
		_, err := CropAndPad(Example{
			Tokens:      []string{"x"},
			Transitions: []int32{stack.Shift, stack.Shift, stack.Reduce},
		}, 5)
		require.Error(t, err)
		assert.True(t, errors.Is(err, stack.ErrInvalidTransitions))
	})

	t.Run("OverLength", func(t *testing.T) {
		_, err := CropAndPad(Example{
			Tokens:      []string{"x", "y"},
			Transitions: []int32{stack.Shift, stack.Shift, stack.Reduce},
		}, 2)
		require.Error(t, err)
		assert.True(t, errors.Is(err, stack.ErrInvalidTransitions))
	})
}
