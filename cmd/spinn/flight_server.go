package main

import (
	"fmt"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"

	"github.com/BenJamesbabala/spinn/internal/client"
	"github.com/BenJamesbabala/spinn/internal/encoder"
)

// RootFlightServer accepts example batches over Flight DoPut, encodes
// them and serves the accumulated root vectors back over DoGet. Each
// descriptor path is an independent dataset.
type RootFlightServer struct {
	flight.BaseFlightServer
	enc   *encoder.Encoder
	alloc memory.Allocator

	mu       sync.Mutex // guards datasets
	datasets map[string]*rootDataset
}

type rootDataset struct {
	ids   []int64
	roots [][]float32
}

func NewRootFlightServer(enc *encoder.Encoder) *RootFlightServer {
	return &RootFlightServer{
		enc:      enc,
		alloc:    memory.NewGoAllocator(),
		datasets: make(map[string]*rootDataset),
	}
}

func (s *RootFlightServer) DoExchange(stream flight.FlightService_DoExchangeServer) error {
	return fmt.Errorf("DoExchange not implemented")
}

// DoPut expects records with a "tokens" list<utf8> column and an
// optional "transitions" list<int32> column, one example per row.
func (s *RootFlightServer) DoPut(stream flight.FlightService_DoPutServer) error {
	reader, err := flight.NewRecordReader(stream, ipc.WithAllocator(s.alloc))
	if err != nil {
		return err
	}
	defer reader.Release()

	for reader.Next() {
		rec := reader.Record()
		dataset := "default"
		if desc := reader.LatestFlightDescriptor(); desc != nil && len(desc.Path) > 0 {
			dataset = desc.Path[0]
		}

		examples, err := recordToExamples(rec)
		if err != nil {
			log.Warn().Err(err).Msg("Skipping malformed batch")
			continue
		}

		roots, err := s.enc.EncodeBatch(stream.Context(), examples)
		if err != nil {
			return err
		}

		s.store(dataset, roots)
		log.Info().Int("count", len(examples)).Str("dataset", dataset).Msg("DoPut encoded batch")
	}
	return reader.Err()
}

func (s *RootFlightServer) store(dataset string, roots [][]float32) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ds := s.datasets[dataset]
	if ds == nil {
		ds = &rootDataset{}
		s.datasets[dataset] = ds
	}
	for _, root := range roots {
		ds.ids = append(ds.ids, int64(len(ds.ids)))
		ds.roots = append(ds.roots, root)
	}
}

// DoGet streams every root accumulated under the ticket's dataset.
func (s *RootFlightServer) DoGet(tkt *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	dataset := string(tkt.GetTicket())

	s.mu.Lock()
	ds := s.datasets[dataset]
	var ids []int64
	var roots [][]float32
	if ds != nil {
		ids = append(ids, ds.ids...)
		roots = append(roots, ds.roots...)
	}
	s.mu.Unlock()

	if len(roots) == 0 {
		return fmt.Errorf("no roots for dataset %q", dataset)
	}

	dim := s.enc.Spec().ModelDim
	rec, err := client.BuildRootRecord(s.alloc, dim, ids, roots)
	if err != nil {
		return err
	}
	defer rec.Release()

	writer := flight.NewRecordWriter(stream, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

// recordToExamples converts one incoming record into encoder examples.
func recordToExamples(rec arrow.RecordBatch) ([]encoder.Example, error) {
	tokenIdx := rec.Schema().FieldIndices("tokens")
	if len(tokenIdx) == 0 {
		return nil, fmt.Errorf("record has no tokens column")
	}
	tokensCol, ok := rec.Column(tokenIdx[0]).(*array.List)
	if !ok {
		return nil, fmt.Errorf("tokens column is not a list")
	}
	tokenValues, ok := tokensCol.ListValues().(*array.String)
	if !ok {
		return nil, fmt.Errorf("tokens column is not a list of strings")
	}

	var transCol *array.List
	var transValues *array.Int32
	if idx := rec.Schema().FieldIndices("transitions"); len(idx) > 0 {
		transCol, ok = rec.Column(idx[0]).(*array.List)
		if !ok {
			return nil, fmt.Errorf("transitions column is not a list")
		}
		transValues, ok = transCol.ListValues().(*array.Int32)
		if !ok {
			return nil, fmt.Errorf("transitions column is not a list of int32")
		}
	}

	examples := make([]encoder.Example, rec.NumRows())
	for row := 0; row < int(rec.NumRows()); row++ {
		start, end := tokensCol.ValueOffsets(row)
		tokens := make([]string, 0, end-start)
		for i := start; i < end; i++ {
			tokens = append(tokens, tokenValues.Value(int(i)))
		}
		examples[row].Tokens = tokens

		if transCol != nil && transCol.IsValid(row) {
			start, end := transCol.ValueOffsets(row)
			trans := make([]int32, 0, end-start)
			for i := start; i < end; i++ {
				trans = append(trans, transValues.Value(int(i)))
			}
			examples[row].Transitions = trans
		}
	}
	return examples, nil
}

func StartFlightServer(addr string, enc *encoder.Encoder) {
	server := flight.NewFlightServer()
	server.RegisterFlightService(NewRootFlightServer(enc))

	if err := server.Init(addr); err != nil {
		log.Fatal().Err(err).Msg("Failed to init Flight server")
	}

	log.Info().Str("addr", addr).Msg("Starting Flight server")
	if err := server.Serve(); err != nil {
		log.Fatal().Err(err).Msg("Flight server failed")
	}
}
