//go:build ignore

package main

// Pushes a few example batches to a running Flight server and reads the
// accumulated roots back. Usage: go run verify_flight.go [addr].

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	addr := "localhost:9090"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}
	log.Info().Str("addr", addr).Msg("Connecting to Flight server")

	var conn *grpc.ClientConn
	var err error
	for i := 0; i < 10; i++ {
		conn, err = grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err == nil {
			break
		}
		log.Warn().Err(err).Msg("Connection failed, retrying...")
		time.Sleep(1 * time.Second)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect after retries")
	}
	defer conn.Close()
	c := flight.NewClientFromConn(conn, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rec := buildBatch()
	defer rec.Release()

	stream, err := c.DoPut(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("DoPut failed")
	}
	writer := flight.NewRecordWriter(stream)
	writer.SetFlightDescriptor(&flight.FlightDescriptor{
		Type: flight.DescriptorPATH,
		Path: []string{"verify"},
	})
	if err := writer.Write(rec); err != nil {
		log.Fatal().Err(err).Msg("Write failed")
	}
	if err := writer.Close(); err != nil {
		log.Fatal().Err(err).Msg("Close failed")
	}
	log.Info().Int64("rows", rec.NumRows()).Msg("Sent examples")

	getStream, err := c.DoGet(ctx, &flight.Ticket{Ticket: []byte("verify")})
	if err != nil {
		log.Fatal().Err(err).Msg("DoGet failed")
	}
	reader, err := flight.NewRecordReader(getStream)
	if err != nil {
		log.Fatal().Err(err).Msg("Reader failed")
	}
	defer reader.Release()

	var rows int64
	for reader.Next() {
		got := reader.Record()
		rows += got.NumRows()
		log.Info().Int64("rows", got.NumRows()).Str("schema", got.Schema().String()).Msg("Received roots")
	}
	if reader.Err() != nil {
		log.Fatal().Err(reader.Err()).Msg("Stream error")
	}
	if rows < rec.NumRows() {
		log.Fatal().Int64("sent", rec.NumRows()).Int64("got", rows).Msg("Root count mismatch")
	}

	fmt.Println("VERIFICATION PASSED")
}

func buildBatch() arrow.RecordBatch {
	mem := memory.NewGoAllocator()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "tokens", Type: arrow.ListOf(arrow.BinaryTypes.String)},
	}, nil)

	lb := array.NewListBuilder(mem, arrow.BinaryTypes.String)
	defer lb.Release()
	sb := lb.ValueBuilder().(*array.StringBuilder)

	for _, sentence := range [][]string{
		{"the", "cat", "sat"},
		{"flat", "arrays", "hide", "trees"},
		{"roots", "come", "back"},
	} {
		lb.Append(true)
		sb.AppendValues(sentence, nil)
	}

	arr := lb.NewArray()
	defer arr.Release()
	return array.NewRecordBatch(schema, []arrow.Array{arr}, 3)
}
