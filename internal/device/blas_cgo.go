//go:build cgo

package device

// Registers the netlib BLAS implementation (Accelerate on macOS, OpenBLAS
// on Linux) for float32 products when CGO is available. Without cgo,
// blas32 dispatches to gonum's pure Go kernels.

import (
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/blas/blas32"
	"gonum.org/v1/netlib/blas/netlib"
)

func init() {
	blas32.Use(netlib.Implementation{})
	log.Debug().Msg("CGO/BLAS acceleration enabled (netlib)")
}
