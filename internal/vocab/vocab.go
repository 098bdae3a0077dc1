// Package vocab maps surface tokens to embedding-table ids.
package vocab

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

const (
	PadToken = "[PAD]"
	UnkToken = "[UNK]"
)

// Vocab is an immutable token -> id table. Tokens are normalized (NFD,
// accent marks stripped, lowercased, NFC) before lookup, so the vocab
// file should contain normalized forms.
type Vocab struct {
	ids    map[string]int32
	tokens []string
	padID  int32
	unkID  int32
}

// Load reads a vocab file with one token per line. [PAD] and [UNK] are
// appended if the file does not define them.
func Load(path string) (*Vocab, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("vocab: %w", err)
	}
	defer func() { _ = file.Close() }()

	v := &Vocab{ids: make(map[string]int32), padID: -1, unkID: -1}

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		token := strings.TrimSpace(scanner.Text())
		if token == "" {
			continue
		}
		if _, dup := v.ids[token]; dup {
			continue
		}
		v.add(token)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("vocab: reading %s: %w", path, err)
	}

	if v.padID < 0 {
		v.add(PadToken)
	}
	if v.unkID < 0 {
		v.add(UnkToken)
	}
	if len(v.tokens) == 0 {
		return nil, fmt.Errorf("vocab: %s is empty", path)
	}
	return v, nil
}

func (v *Vocab) add(token string) {
	id := int32(len(v.tokens))
	v.ids[token] = id
	v.tokens = append(v.tokens, token)
	switch token {
	case PadToken:
		v.padID = id
	case UnkToken:
		v.unkID = id
	}
}

var normalizer = transform.Chain(
	norm.NFD,
	runes.Remove(runes.In(unicode.Mn)),
	norm.NFC,
)

// Normalize strips accents and lowercases a token. Bracketed control
// tokens ([PAD], [UNK], ...) pass through untouched.
func Normalize(token string) string {
	if strings.HasPrefix(token, "[") && strings.HasSuffix(token, "]") {
		return token
	}
	out, _, err := transform.String(normalizer, token)
	if err != nil {
		out = token
	}
	return strings.ToLower(out)
}

// ID returns the id for a token, falling back to [UNK].
func (v *Vocab) ID(token string) int32 {
	if id, ok := v.ids[Normalize(token)]; ok {
		return id
	}
	return v.unkID
}

// IDs maps a token sequence.
func (v *Vocab) IDs(tokens []string) []int32 {
	out := make([]int32, len(tokens))
	for i, tok := range tokens {
		out[i] = v.ID(tok)
	}
	return out
}

// Token returns the surface form for an id, or [UNK] if out of range.
func (v *Vocab) Token(id int32) string {
	if id < 0 || int(id) >= len(v.tokens) {
		return UnkToken
	}
	return v.tokens[id]
}

func (v *Vocab) PadID() int32 { return v.padID }
func (v *Vocab) UnkID() int32 { return v.unkID }
func (v *Vocab) Size() int    { return len(v.tokens) }
