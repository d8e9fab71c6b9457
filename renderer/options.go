package renderer

import (
	"github.com/helios-render/helios/log"
	"github.com/helios-render/helios/shader"
)

type Options struct {
	// Frame dims.
	FrameW uint32
	FrameH uint32

	// Force the compute fallback even on devices reporting ray-tracing
	// support.
	ForceFallback bool

	// Shader bytecode source. Defaults to the built-in provider.
	Shaders shader.Provider

	// Renderer logger. Defaults to a no-op logger.
	Logger log.Logger
}

func (o *Options) applyDefaults() {
	if o.FrameW == 0 {
		o.FrameW = 512
	}
	if o.FrameH == 0 {
		o.FrameH = 512
	}
	if o.Shaders == nil {
		o.Shaders = shader.NewBuiltin()
	}
	if o.Logger == nil {
		o.Logger = log.Nop()
	}
}
