package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/fxamacker/cbor/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/BenJamesbabala/spinn/internal/cache"
	"github.com/BenJamesbabala/spinn/internal/device"
	"github.com/BenJamesbabala/spinn/internal/embed"
	"github.com/BenJamesbabala/spinn/internal/encoder"
	"github.com/BenJamesbabala/spinn/internal/stack"
	"github.com/BenJamesbabala/spinn/internal/vocab"
)

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, dataset string, ids []int64, roots [][]float32) error {
	args := m.Called(ctx, dataset, ids, roots)
	return args.Error(0)
}

func (m *mockPublisher) Close() error {
	return nil
}

func newTestEncoder(t *testing.T) *encoder.Encoder {
	t.Helper()

	vocabPath := filepath.Join(t.TempDir(), "vocab.txt")
	require.NoError(t, os.WriteFile(vocabPath, []byte("the\ncat\nsat\n"), 0o644))
	v, err := vocab.Load(vocabPath)
	require.NoError(t, err)

	backend := device.NewCPUBackend()
	spec := stack.ModelSpec{
		ModelDim:       4,
		WordDim:        4,
		BatchSize:      2,
		SeqLength:      8,
		VocabSize:      v.Size(),
		NumCombination: 2,
	}
	emb, err := embed.New(spec, embed.RandomTable(spec.VocabSize, spec.WordDim, backend), nil, nil, false, backend)
	require.NoError(t, err)

	machine, err := stack.New(spec, identityParams(spec, backend), backend)
	require.NoError(t, err)

	enc, err := encoder.New(v, emb, machine, cache.NewRootCache())
	require.NoError(t, err)
	return enc
}

func TestServer_HandleEncode(t *testing.T) {
	enc := newTestEncoder(t)

	t.Run("ForwardsToStore", func(t *testing.T) {
		pub := &mockPublisher{}
		srv := NewServer(enc, pub, "test-dataset", 64)

		examples := []encoder.Example{
			{Tokens: []string{"the", "cat"}},
			{Tokens: []string{"cat", "sat"}},
		}
		data, err := cbor.Marshal(examples)
		require.NoError(t, err)

		pub.On("Publish", mock.Anything, "test-dataset", mock.Anything, mock.Anything).Return(nil)

		req := httptest.NewRequest(http.MethodPost, "/encode", bytes.NewReader(data))
		rr := httptest.NewRecorder()
		srv.handleEncode(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		pub.AssertExpectations(t)

		var roots [][]float32
		require.NoError(t, cbor.Unmarshal(rr.Body.Bytes(), &roots))
		require.Len(t, roots, 2)
		assert.Len(t, roots[0], 4)
	})

	t.Run("RejectsGet", func(t *testing.T) {
		srv := NewServer(enc, nil, "d", 64)
		req := httptest.NewRequest(http.MethodGet, "/encode", nil)
		rr := httptest.NewRecorder()
		srv.handleEncode(rr, req)
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})

	t.Run("RejectsMalformedBody", func(t *testing.T) {
		srv := NewServer(enc, nil, "d", 64)
		req := httptest.NewRequest(http.MethodPost, "/encode", bytes.NewReader([]byte{0xff, 0xff}))
		rr := httptest.NewRecorder()
		srv.handleEncode(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("RejectsBadTransitions", func(t *testing.T) {
		srv := NewServer(enc, nil, "d", 64)
		data, err := cbor.Marshal([]encoder.Example{
			{Tokens: []string{"the"}, Transitions: []int32{stack.Reduce}},
		})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/encode", bytes.NewReader(data))
		rr := httptest.NewRecorder()
		srv.handleEncode(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("EmptyBatch", func(t *testing.T) {
		srv := NewServer(enc, nil, "d", 64)
		data, err := cbor.Marshal([]encoder.Example{})
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodPost, "/encode", bytes.NewReader(data))
		rr := httptest.NewRecorder()
		srv.handleEncode(rr, req)
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestServer_HandleHealth(t *testing.T) {
	srv := NewServer(newTestEncoder(t), nil, "d", 64)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	srv.handleHealth(rr, req)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "OK", rr.Body.String())
}
