package main

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BenJamesbabala/spinn/internal/stack"
)

func buildExampleRecord(t *testing.T, withTransitions bool) arrow.RecordBatch {
	t.Helper()
	mem := memory.NewGoAllocator()

	fields := []arrow.Field{
		{Name: "tokens", Type: arrow.ListOf(arrow.BinaryTypes.String)},
	}
	if withTransitions {
		fields = append(fields, arrow.Field{Name: "transitions", Type: arrow.ListOf(arrow.PrimitiveTypes.Int32)})
	}
	schema := arrow.NewSchema(fields, nil)

	tokensBuilder := array.NewListBuilder(mem, arrow.BinaryTypes.String)
	defer tokensBuilder.Release()
	strBuilder := tokensBuilder.ValueBuilder().(*array.StringBuilder)

	tokensBuilder.Append(true)
	strBuilder.AppendValues([]string{"the", "cat"}, nil)
	tokensBuilder.Append(true)
	strBuilder.AppendValues([]string{"sat"}, nil)

	cols := []arrow.Array{tokensBuilder.NewArray()}
	defer cols[0].Release()

	if withTransitions {
		transBuilder := array.NewListBuilder(mem, arrow.PrimitiveTypes.Int32)
		defer transBuilder.Release()
		intBuilder := transBuilder.ValueBuilder().(*array.Int32Builder)

		transBuilder.Append(true)
		intBuilder.AppendValues([]int32{stack.Shift, stack.Shift, stack.Reduce}, nil)
		transBuilder.AppendNull()

		cols = append(cols, transBuilder.NewArray())
		defer cols[1].Release()
	}

	return array.NewRecordBatch(schema, cols, 2)
}

func TestRecordToExamples(t *testing.T) {
	t.Run("WithTransitions", func(t *testing.T) {
		rec := buildExampleRecord(t, true)
		defer rec.Release()

		examples, err := recordToExamples(rec)
		require.NoError(t, err)
		require.Len(t, examples, 2)

		assert.Equal(t, []string{"the", "cat"}, examples[0].Tokens)
		assert.Equal(t, []int32{stack.Shift, stack.Shift, stack.Reduce}, examples[0].Transitions)

		// A null transitions cell means left-branching by default.
		assert.Equal(t, []string{"sat"}, examples[1].Tokens)
		assert.Nil(t, examples[1].Transitions)
	})

	t.Run("TokensOnly", func(t *testing.T) {
		rec := buildExampleRecord(t, false)
		defer rec.Release()

		examples, err := recordToExamples(rec)
		require.NoError(t, err)
		require.Len(t, examples, 2)
		assert.Nil(t, examples[0].Transitions)
	})

	t.Run("MissingTokensColumn", func(t *testing.T) {
		mem := memory.NewGoAllocator()
		schema := arrow.NewSchema([]arrow.Field{
			{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		}, nil)
		b := array.NewInt64Builder(mem)
		defer b.Release()
		b.AppendValues([]int64{1}, nil)
		arr := b.NewArray()
		defer arr.Release()
		rec := array.NewRecordBatch(schema, []arrow.Array{arr}, 1)
		defer rec.Release()

		_, err := recordToExamples(rec)
		require.Error(t, err)
	})
}

func TestRootFlightServer_Store(t *testing.T) {
	srv := NewRootFlightServer(newTestEncoder(t))

	srv.store("a", [][]float32{{1, 2, 3, 4}})
	srv.store("a", [][]float32{{5, 6, 7, 8}})
	srv.store("b", [][]float32{{9, 9, 9, 9}})

	assert.Equal(t, []int64{0, 1}, srv.datasets["a"].ids)
	assert.Len(t, srv.datasets["a"].roots, 2)
	assert.Equal(t, []int64{0}, srv.datasets["b"].ids)
}
