// Package encoder runs batches of shift-reduce examples through a thin
// stack machine: vocabulary lookup, embedding projection, machine-sized
// chunking, and root-vector extraction, with optional memoization.
package encoder

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/BenJamesbabala/spinn/internal/cache"
	"github.com/BenJamesbabala/spinn/internal/embed"
	"github.com/BenJamesbabala/spinn/internal/stack"
	"github.com/BenJamesbabala/spinn/internal/vocab"
)

// Example is one tree to evaluate: its leaf tokens in buffer order and
// its transition sequence. A nil Transitions defaults to a fully
// left-branching tree over the tokens.
type Example struct {
	Tokens      []string `cbor:"tokens"`
	Transitions []int32  `cbor:"transitions,omitempty"`
}

// Encoder owns one machine and everything needed to feed it. It is safe
// for concurrent use: the machine's memories are exclusive, so
// EncodeBatch serializes callers on a single mutex.
type Encoder struct {
	spec  stack.ModelSpec
	vocab *vocab.Vocab
	emb   *embed.Embeddings
	cache cache.VectorCache // nil disables memoization

	mu      sync.Mutex // one forward pass at a time
	machine *stack.ThinStack
}

func New(v *vocab.Vocab, emb *embed.Embeddings, machine *stack.ThinStack, rootCache cache.VectorCache) (*Encoder, error) {
	if v == nil || emb == nil || machine == nil {
		return nil, fmt.Errorf("%w: encoder requires vocab, embeddings and a machine", stack.ErrInvalidSpec)
	}
	spec := machine.Spec()
	if v.Size() > spec.VocabSize {
		return nil, fmt.Errorf("%w: vocab holds %d tokens but machine expects at most %d", stack.ErrInvalidSpec, v.Size(), spec.VocabSize)
	}
	return &Encoder{
		spec:    spec,
		vocab:   v,
		emb:     emb,
		machine: machine,
		cache:   rootCache,
	}, nil
}

// Spec returns the machine's dimensions.
func (e *Encoder) Spec() stack.ModelSpec { return e.spec }

// EncodeBatch evaluates every example and returns one root vector per
// example, in input order. Examples are padded to the machine's sequence
// length, deduplicated against the cache, and run through the machine in
// chunks of its batch size. The context is consulted between chunks
// only; a running forward pass is never interrupted.
func (e *Encoder) EncodeBatch(ctx context.Context, examples []Example) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	results := make([][]float32, len(examples))

	type pending struct {
		idx int
		ex  Example
		key string
	}
	var misses []pending

	for i, ex := range examples {
		padded, err := CropAndPad(ex, e.spec.SeqLength)
		if err != nil {
			return nil, fmt.Errorf("example %d: %w", i, err)
		}
		key := cache.Key(padded.Tokens, padded.Transitions)
		if e.cache != nil {
			if vec, ok := e.cache.Get(key); ok {
				results[i] = vec
				cacheHits.Inc()
				continue
			}
			cacheMisses.Inc()
		}
		misses = append(misses, pending{idx: i, ex: padded, key: key})
	}

	b, t := e.spec.BatchSize, e.spec.SeqLength
	for start := 0; start < len(misses); start += b {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		chunk := misses[start:min(start+b, len(misses))]

		// Time-major layouts: the value for (step k, lane i) sits at
		// k*B+i. Idle lanes run an all-SHIFT padding example.
		ids := make([]int32, t*b)
		trans := make([]int32, t*b)
		for lane := 0; lane < b; lane++ {
			var toks []int32
			var tr []int32
			if lane < len(chunk) {
				toks = e.vocab.IDs(chunk[lane].ex.Tokens)
				tr = chunk[lane].ex.Transitions
			}
			for k := 0; k < t; k++ {
				id := e.vocab.PadID()
				if k < len(toks) {
					id = toks[k]
				}
				ids[k*b+lane] = id
			}
			for step := 0; step < t; step++ {
				v := stack.Shift
				if tr != nil {
					v = tr[step]
				}
				trans[step*b+lane] = v
			}
		}

		embeds, err := e.emb.ProjectIDs(ids)
		if err != nil {
			return nil, err
		}
		if err := e.machine.LoadInputs(embeds, trans); err != nil {
			return nil, err
		}
		if err := e.machine.Forward(ctx); err != nil {
			return nil, err
		}

		for lane, p := range chunk {
			vec := e.machine.Root(lane)
			results[p.idx] = vec
			if e.cache != nil {
				e.cache.Put(p.key, vec)
			}
		}
		examplesEncoded.Add(float64(len(chunk)))
	}

	log.Debug().
		Int("examples", len(examples)).
		Int("evaluated", len(misses)).
		Msg("encoded batch")
	return results, nil
}

// CropAndPad left-pads an example to the machine's sequence length with
// [PAD] tokens and SHIFT transitions. Padding nodes are pushed first and
// never reduced, so they sit inertly below the real tree and the final
// frame still holds the real root. Over-length examples are rejected.
func CropAndPad(ex Example, seqLen int) (Example, error) {
	transitions := ex.Transitions
	if transitions == nil {
		transitions = stack.LeftBranching(len(ex.Tokens))
	}

	shifts := 0
	for _, tr := range transitions {
		if tr == stack.Shift {
			shifts++
		}
	}
	if shifts != len(ex.Tokens) {
		return Example{}, fmt.Errorf("%w: %d tokens but %d shifts", stack.ErrInvalidTransitions, len(ex.Tokens), shifts)
	}
	if len(transitions) > seqLen {
		return Example{}, fmt.Errorf("%w: %d transitions exceed sequence length %d", stack.ErrInvalidTransitions, len(transitions), seqLen)
	}

	pad := seqLen - len(transitions)
	if pad == 0 {
		return Example{Tokens: ex.Tokens, Transitions: transitions}, nil
	}

	tokens := make([]string, 0, shifts+pad)
	padded := make([]int32, 0, seqLen)
	for i := 0; i < pad; i++ {
		tokens = append(tokens, vocab.PadToken)
		padded = append(padded, stack.Shift)
	}
	tokens = append(tokens, ex.Tokens...)
	padded = append(padded, transitions...)

	return Example{Tokens: tokens, Transitions: padded}, nil
}
