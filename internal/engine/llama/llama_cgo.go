//go:build llama

package llama

// cgo link directives for the in-process libllama backend.
// - rpath $ORIGIN lets the loader find libllama.so and libggml*.so next to
//   the built binary (./bin).
// - -L${SRCDIR}/../../../bin points the linker at the same directory; the
//   llama.h headers are expected under ./bin/include.

/*
#cgo LDFLAGS: -Wl,-rpath,'$ORIGIN' -L${SRCDIR}/../../../bin -lllama
#cgo CFLAGS: -I${SRCDIR}/../../../bin/include
*/
import "C"
