// Package shader resolves pipeline bytecode by entry-point name. Backends
// receive opaque byte slices; what they contain is a contract between the
// provider and the device driver.
package shader

import (
	"fmt"

	"github.com/helios-render/helios/layout"
)

// Provider returns the bytecode for a named shader or kernel.
type Provider interface {
	GetShader(name string) ([]byte, error)
}

// The entry points the built-in provider knows about.
var builtinNames = map[string]struct{}{
	layout.ShaderRayGen:          {},
	layout.ShaderMissRange:       {},
	layout.ShaderMissShadow:      {},
	layout.ShaderMissAux:         {},
	layout.KernelBruteForceTrace: {},
	layout.KernelToneMap:         {},
	layout.KernelDenoiseTemporal: {},
}

func init() {
	for _, name := range layout.HitGroupNames {
		builtinNames[name] = struct{}{}
	}
}

// Builtin serves the kernels compiled into the device backends. Its
// bytecode is the entry-point name itself; backends resolving built-in
// kernels dispatch on that name.
type Builtin struct{}

func NewBuiltin() *Builtin {
	return &Builtin{}
}

func (b *Builtin) GetShader(name string) ([]byte, error) {
	if _, ok := builtinNames[name]; !ok {
		return nil, fmt.Errorf("shader: unknown built-in entry point %q", name)
	}
	return []byte(name), nil
}
