package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.17.0"

	"github.com/BenJamesbabala/spinn/internal/cache"
	"github.com/BenJamesbabala/spinn/internal/client"
	"github.com/BenJamesbabala/spinn/internal/device"
	"github.com/BenJamesbabala/spinn/internal/embed"
	"github.com/BenJamesbabala/spinn/internal/encoder"
	"github.com/BenJamesbabala/spinn/internal/params"
	"github.com/BenJamesbabala/spinn/internal/stack"
	"github.com/BenJamesbabala/spinn/internal/vocab"
)

var (
	vocabPath   = flag.String("vocab", "vocab.txt", "Path to vocab file (one token per line)")
	weightsPath = flag.String("weights", "", "Path to composition weights file (optional, identity when empty)")
	embedPath   = flag.String("embeddings", "", "Path to embedding table file (optional, random when empty)")
	modelDim    = flag.Int("model-dim", 64, "Stack element width")
	wordDim     = flag.Int("word-dim", 64, "Raw embedding width")
	batchSize   = flag.Int("batch-size", 32, "Lanes evaluated per forward pass")
	seqLength   = flag.Int("seq-length", 64, "Transitions per lane")
	vocabSize   = flag.Int("vocab-size", 0, "Vocabulary capacity (0 sizes to the vocab file)")
	activation  = flag.String("activation", "identity", "Composition activation (identity, relu)")
	cpuProfile  = flag.String("cpuprofile", "", "Write cpu profile to file")
	duration    = flag.Duration("duration", 0, "Run soak test for specified duration (e.g. 10s, 20m)")
	serverAddr  = flag.String("server", "", "Vector store Flight address to publish roots to (e.g. localhost:3000)")
	datasetName = flag.String("dataset", "spinn_roots", "Target dataset name on the vector store")
	listenAddr  = flag.String("listen", "", "Address to listen on for HTTP server (e.g. :8080)")
	flightAddr  = flag.String("flight", "", "Address to listen on for Flight server (e.g. :9090)")
	outPath     = flag.String("out", "", "Write roots as an Arrow IPC stream to this file (default stdout)")

	maxConcurrent = flag.Int("max-concurrent", 16384, "Maximum number of queued examples across requests")
	enableOTel    = flag.Bool("otel", false, "Enable OpenTelemetry tracing (stdout)")
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()

	flag.Parse()

	if *enableOTel {
		shutdown, err := initTracer()
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to initialize tracer")
		}
		defer shutdown(context.Background())
	}

	if *cpuProfile != "" {
		f, err := os.Create(*cpuProfile)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create CPU profile file")
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			log.Fatal().Err(err).Msg("Could not start CPU profile")
		}
		defer pprof.StopCPUProfile()
	}

	enc, err := buildEncoder()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build encoder")
	}
	dim := enc.Spec().ModelDim

	// Server mode.
	if *listenAddr != "" {
		var pub RootPublisher
		if *serverAddr != "" {
			p, err := client.NewPublisher(*serverAddr, dim)
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to create publisher")
			}
			log.Info().Str("addr", *serverAddr).Msg("Connected to vector store")
			pub = p
		}

		go startServer(*listenAddr, NewServer(enc, pub, *datasetName, *maxConcurrent))
		if *flightAddr == "" {
			select {}
		}
	}

	if *flightAddr != "" {
		StartFlightServer(*flightAddr, enc)
		return
	}

	// One-shot mode: encode the sample sentences as left-branching trees.
	examples := sampleExamples()

	if *duration > 0 {
		runSoak(enc, examples)
		return
	}

	start := time.Now()
	roots, err := enc.EncodeBatch(context.Background(), examples)
	if err != nil {
		log.Fatal().Err(err).Msg("Encoding failed")
	}
	elapsed := time.Since(start)
	log.Info().
		Int("count", len(examples)).
		Dur("elapsed", elapsed).
		Int("dim", dim).
		Float64("eps", float64(len(examples))/elapsed.Seconds()).
		Msg("Encoded examples")

	ids := make([]int64, len(roots))
	for i := range ids {
		ids[i] = int64(i)
	}

	if *serverAddr != "" {
		pub, err := client.NewPublisher(*serverAddr, dim)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to vector store")
		}
		defer func() {
			if err := pub.Close(); err != nil {
				log.Warn().Err(err).Msg("Failed to close publisher")
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		defer cancel()
		if err := pub.Publish(ctx, *datasetName, ids, roots); err != nil {
			log.Fatal().Err(err).Msg("Publish failed")
		}
		log.Info().Str("dataset", *datasetName).Msg("Published roots to vector store")
		return
	}

	rec, err := client.BuildRootRecord(memory.NewGoAllocator(), dim, ids, roots)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build record")
	}
	defer rec.Release()

	out := os.Stdout
	if *outPath != "" {
		f, err := os.Create(*outPath)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to create output file")
		}
		defer f.Close()
		out = f
	}
	if err := writeArrowStream(out, rec); err != nil {
		log.Warn().Err(err).Msg("Failed to write arrow stream")
	}
}

// buildEncoder assembles the full pipeline from the command line flags.
func buildEncoder() (*encoder.Encoder, error) {
	backend := device.NewCPUBackend()

	v, err := vocab.Load(*vocabPath)
	if err != nil {
		return nil, fmt.Errorf("load vocab: %w", err)
	}

	capacity := *vocabSize
	if capacity == 0 {
		capacity = v.Size()
	}
	spec := stack.ModelSpec{
		ModelDim:       *modelDim,
		WordDim:        *wordDim,
		BatchSize:      *batchSize,
		SeqLength:      *seqLength,
		VocabSize:      capacity,
		NumCombination: 2,
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	var table device.Tensor
	if *embedPath != "" {
		table, err = params.LoadEmbeddings(*embedPath, spec, backend)
		if err != nil {
			return nil, fmt.Errorf("load embeddings: %w", err)
		}
	} else {
		log.Warn().Msg("No embeddings file, using a random table")
		table = embed.RandomTable(spec.VocabSize, spec.WordDim, backend)
	}

	var projW, projB device.Tensor
	if spec.WordDim != spec.ModelDim {
		projW = embed.RandomTable(spec.ModelDim, spec.WordDim, backend)
	}
	emb, err := embed.New(spec, table, projW, projB, false, backend)
	if err != nil {
		return nil, err
	}

	var p stack.Params
	if *weightsPath != "" {
		p, err = params.Load(*weightsPath, spec, backend)
		if err != nil {
			return nil, fmt.Errorf("load weights: %w", err)
		}
	} else {
		log.Warn().Msg("No weights file, composing with identity matrices")
		p = identityParams(spec, backend)
	}
	switch *activation {
	case "identity":
		p.Activation = stack.ActivationIdentity
	case "relu":
		p.Activation = stack.ActivationReLU
	default:
		return nil, fmt.Errorf("unknown activation %q", *activation)
	}

	machine, err := stack.New(spec, p, backend)
	if err != nil {
		return nil, err
	}
	return encoder.New(v, emb, machine, cache.NewRootCache())
}

func identityParams(spec stack.ModelSpec, backend device.Backend) stack.Params {
	d := spec.ModelDim
	eye := make([]float32, d*d)
	for i := 0; i < d; i++ {
		eye[i*d+i] = 1
	}
	return stack.Params{
		ComposeWL: backend.NewTensor(d, d, eye),
		ComposeWR: backend.NewTensor(d, d, eye),
	}
}

func sampleExamples() []encoder.Example {
	sentences := []string{
		"the cat sat on the mat",
		"a quick brown fox jumps over the lazy dog",
		"recursive structure emerges from flat arrays",
	}
	examples := make([]encoder.Example, len(sentences))
	for i, s := range sentences {
		examples[i] = encoder.Example{Tokens: strings.Fields(s)}
	}
	return examples
}

func runSoak(enc *encoder.Encoder, examples []encoder.Example) {
	log.Info().Str("duration", duration.String()).Msg("Starting soak test")

	startTime := time.Now()
	endTime := startTime.Add(*duration)
	var totalRoots int64
	var iter int

	for time.Now().Before(endTime) {
		// A unique trailing token per iteration defeats memoization.
		salt := fmt.Sprintf("n%d", iter)
		batch := make([]encoder.Example, len(examples))
		for i, ex := range examples {
			batch[i] = encoder.Example{Tokens: append(append([]string{}, ex.Tokens...), salt)}
		}
		if _, err := enc.EncodeBatch(context.Background(), batch); err != nil {
			log.Fatal().Err(err).Msg("Soak iteration failed")
		}
		totalRoots += int64(len(examples))
		iter++

		if iter%100 == 0 {
			elapsed := time.Since(startTime)
			log.Info().
				Str("elapsed", elapsed.Round(time.Second).String()).
				Int("iter", iter).
				Int64("total_roots", totalRoots).
				Float64("eps", float64(totalRoots)/elapsed.Seconds()).
				Msg("Soak test progress")
		}
	}

	totalElapsed := time.Since(startTime)
	log.Info().
		Int64("total_roots", totalRoots).
		Dur("total_time", totalElapsed).
		Float64("avg_eps", float64(totalRoots)/totalElapsed.Seconds()).
		Msg("Soak test complete")
}

func writeArrowStream(w *os.File, rec arrow.RecordBatch) error {
	writer := ipc.NewWriter(w, ipc.WithSchema(rec.Schema()))
	if err := writer.Write(rec); err != nil {
		_ = writer.Close()
		return err
	}
	return writer.Close()
}

func initTracer() (func(context.Context) error, error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceNameKey.String("spinn"),
		)),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	return tp.Shutdown, nil
}
