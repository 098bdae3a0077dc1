// Package client ships encoded root vectors to a vector store over
// Apache Arrow Flight.
package client

import (
	"context"
	"errors"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// ErrCircuitOpen is returned by Publish while the breaker is holding
// the circuit open.
var ErrCircuitOpen = errors.New("client: circuit open")

// Publisher pushes root-vector record batches to a Flight endpoint.
// A circuit breaker guards the connection so that a dead store drops
// batches instead of stalling encoding.
type Publisher struct {
	conn    *grpc.ClientConn
	flight  flight.Client
	mem     memory.Allocator
	dim     int
	breaker *Breaker
}

// NewPublisher connects to the Flight endpoint at addr. dim is the
// width of every published root vector.
func NewPublisher(addr string, dim int) (*Publisher, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	return &Publisher{
		conn:    conn,
		flight:  flight.NewClientFromConn(conn, nil),
		mem:     memory.NewGoAllocator(),
		dim:     dim,
		breaker: NewBreaker(5, 30*time.Second),
	}, nil
}

// Publish writes one record batch of ids and root vectors to the named
// dataset.
func (p *Publisher) Publish(ctx context.Context, dataset string, ids []int64, roots [][]float32) error {
	if !p.breaker.Allow() {
		return ErrCircuitOpen
	}

	rec, err := BuildRootRecord(p.mem, p.dim, ids, roots)
	if err != nil {
		return err
	}
	if rec == nil {
		return nil
	}
	defer rec.Release()

	if err := p.doPut(ctx, dataset, rec); err != nil {
		p.breaker.Failure()
		log.Warn().Err(err).Str("dataset", dataset).Msg("publish failed")
		return err
	}
	p.breaker.Success()
	return nil
}

func (p *Publisher) doPut(ctx context.Context, dataset string, rec arrow.RecordBatch) error {
	stream, err := p.flight.DoPut(ctx)
	if err != nil {
		return err
	}

	writer := flight.NewRecordWriter(stream)
	writer.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{dataset},
	})
	if err := writer.Write(rec); err != nil {
		return err
	}
	return writer.Close()
}

// Close tears down the underlying connection.
func (p *Publisher) Close() error {
	return p.conn.Close()
}
