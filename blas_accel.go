//go:build accelerate

package main

import (
	"gonum.org/v1/gonum/blas/blas64"
	netblas "gonum.org/v1/netlib/blas/netlib"
)

// Build with `-tags accelerate` to route gonum's BLAS calls through the
// system BLAS (Accelerate on macOS, OpenBLAS elsewhere).
func init() {
	blas64.Use(netblas.Implementation{})
}
