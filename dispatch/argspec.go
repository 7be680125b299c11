package dispatch

import (
	"strconv"

	"github.com/firi/packio/codec"
)

// Named builds an ArgSpec for a required parameter with no default value.
func Named(name string) codec.ArgSpec {
	return codec.ArgSpec{Name: name}
}

// WithDefault builds an ArgSpec for a parameter that is substituted with
// def when the caller omits it.
func WithDefault(name string, def any) codec.ArgSpec {
	return codec.ArgSpec{Name: name, Default: def, HasDefault: true}
}

// autoSpec builds the auto-generated argument spec list used when a
// caller registers a procedure with an empty spec: parameters are named
// "0", "1", ... with no defaults.
func autoSpec(n int) []codec.ArgSpec {
	spec := make([]codec.ArgSpec, n)
	for i := range spec {
		spec[i] = codec.ArgSpec{Name: strconv.Itoa(i)}
	}
	return spec
}
