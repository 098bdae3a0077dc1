//go:build ignore

package main

// Generates a vocab file plus weight and embedding binaries in the
// layout the params loader expects, for exercising the CLI without a
// trained model.

import (
	"bufio"
	"encoding/binary"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
)

func main() {
	modelDim := flag.Int("model-dim", 64, "Stack element width")
	wordDim := flag.Int("word-dim", 64, "Raw embedding width")
	vocabSize := flag.Int("vocab-size", 128, "Number of generated tokens")
	outDir := flag.String("out", ".", "Output directory")
	seed := flag.Int64("seed", 42, "RNG seed")
	flag.Parse()

	rng := rand.New(rand.NewSource(*seed))

	vocabPath := *outDir + "/vocab.txt"
	f, err := os.Create(vocabPath)
	if err != nil {
		log.Fatalf("create vocab: %v", err)
	}
	w := bufio.NewWriter(f)
	for i := 0; i < *vocabSize; i++ {
		fmt.Fprintf(w, "tok%d\n", i)
	}
	if err := w.Flush(); err != nil {
		log.Fatalf("write vocab: %v", err)
	}
	f.Close()

	d := *modelDim
	writeSections(*outDir+"/weights.bin", rng, d*d, d*d, d)
	// [PAD] and [UNK] rows are appended by the vocab loader.
	writeSections(*outDir+"/embeddings.bin", rng, (*vocabSize+2)*(*wordDim))

	log.Printf("wrote %s, weights.bin, embeddings.bin", vocabPath)
}

func writeSections(path string, rng *rand.Rand, sizes ...int) {
	f, err := os.Create(path)
	if err != nil {
		log.Fatalf("create %s: %v", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, n := range sizes {
		vals := make([]float32, n)
		for i := range vals {
			vals[i] = float32(rng.NormFloat64()) * 0.1
		}
		if err := binary.Write(w, binary.LittleEndian, vals); err != nil {
			log.Fatalf("write %s: %v", path, err)
		}
	}
	if err := w.Flush(); err != nil {
		log.Fatalf("flush %s: %v", path, err)
	}
}
