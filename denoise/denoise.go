// Package denoise post-processes raw radiance before tone mapping. The
// temporal denoiser accumulates frames against history buffers; spatial
// passes can slot in behind the same interface later.
package denoise

import (
	"fmt"

	"github.com/helios-render/helios/driver"
	"github.com/helios-render/helios/layout"
	"github.com/helios-render/helios/shader"
)

// Denoiser records a denoising pass over the bound radiance and geometry
// buffers. Callers bind images and constants before invoking Record.
type Denoiser interface {
	Record(cmd driver.CmdBuffer, width, height int)
	Release()
}

// Temporal blends each frame toward an exponential history average. The
// blend weight comes from the stabilization factor in the frame constants;
// frame zero always resets the history.
type Temporal struct {
	pipeline driver.Pipeline
}

func NewTemporal(gpu driver.GPU, shaders shader.Provider) (*Temporal, error) {
	code, err := shaders.GetShader(layout.KernelDenoiseTemporal)
	if err != nil {
		return nil, err
	}
	pipeline, err := gpu.NewComputePipeline(driver.ComputeDesc{
		Name:   "denoise-temporal",
		Shader: code,
	})
	if err != nil {
		return nil, fmt.Errorf("denoise: create temporal pipeline: %v", err)
	}
	return &Temporal{pipeline: pipeline}, nil
}

func (t *Temporal) Record(cmd driver.CmdBuffer, width, height int) {
	cmd.SetPipeline(t.pipeline)
	cmd.Dispatch(width, height, 1)
}

func (t *Temporal) Release() {
	if t.pipeline != nil {
		t.pipeline.Destroy()
		t.pipeline = nil
	}
}
