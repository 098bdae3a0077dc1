package client

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

// RootSchema is the wire layout for published root vectors: a row id
// and a fixed-width float32 vector.
func RootSchema(dim int) *arrow.Schema {
	return arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64},
		{Name: "root", Type: arrow.FixedSizeListOf(int32(dim), arrow.PrimitiveTypes.Float32)},
	}, nil)
}

// BuildRootRecord packs ids and their root vectors into a single
// record batch. Every root must hold exactly dim values. An empty
// input yields a nil record.
func BuildRootRecord(mem memory.Allocator, dim int, ids []int64, roots [][]float32) (arrow.RecordBatch, error) {
	if len(roots) == 0 {
		return nil, nil
	}
	if len(ids) != len(roots) {
		return nil, fmt.Errorf("client: %d ids for %d roots", len(ids), len(roots))
	}

	idBuilder := array.NewInt64Builder(mem)
	defer idBuilder.Release()
	idBuilder.AppendValues(ids, nil)

	listBuilder := array.NewFixedSizeListBuilder(mem, int32(dim), arrow.PrimitiveTypes.Float32)
	defer listBuilder.Release()
	valueBuilder := listBuilder.ValueBuilder().(*array.Float32Builder)

	for i, root := range roots {
		if len(root) != dim {
			return nil, fmt.Errorf("client: root %d has %d values, want %d", i, len(root), dim)
		}
		listBuilder.Append(true)
		valueBuilder.AppendValues(root, nil)
	}

	idArr := idBuilder.NewArray()
	defer idArr.Release()
	rootArr := listBuilder.NewArray()
	defer rootArr.Release()

	return array.NewRecordBatch(RootSchema(dim), []arrow.Array{idArr, rootArr}, int64(len(roots))), nil
}
