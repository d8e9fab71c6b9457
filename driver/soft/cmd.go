package soft

import (
	"fmt"

	"github.com/helios-render/helios/driver"
)

// cmdBuffer records commands as closures executed in order at Submit. This
// mirrors hardware command lists: a recorded build or dispatch performs no
// work until the buffer reaches the queue.
type cmdBuffer struct {
	gpu       *softGPU
	cmds      []func() error
	recording bool

	// Counts kept for tests and diagnostics.
	barrierCount int
}

func (cb *cmdBuffer) Begin() error {
	if cb.recording {
		return fmt.Errorf("soft device: command buffer already recording")
	}
	cb.cmds = cb.cmds[:0]
	cb.barrierCount = 0
	cb.recording = true
	return nil
}

func (cb *cmdBuffer) End() error {
	if !cb.recording {
		return fmt.Errorf("soft device: command buffer not recording")
	}
	cb.recording = false
	return nil
}

func (cb *cmdBuffer) Destroy() {
	cb.cmds = nil
	cb.gpu = nil
}

// BarrierCount reports the number of barrier commands recorded since the
// last Begin. Exposed for state-tracker tests.
func (cb *cmdBuffer) BarrierCount() int {
	return cb.barrierCount
}

func (cb *cmdBuffer) CopyBuffer(param driver.BufferCopy) {
	from, to := param.From.(*softBuffer), param.To.(*softBuffer)
	fromOff, toOff, size := param.FromOff, param.ToOff, param.Size
	cb.cmds = append(cb.cmds, func() error {
		if from.released || to.released {
			return driver.ErrReleased
		}
		if fromOff+size > len(from.data) || toOff+size > len(to.data) {
			return fmt.Errorf("soft device: copy of %d bytes overflows %s -> %s", size, from.name, to.name)
		}
		copy(to.data[toOff:toOff+size], from.data[fromOff:])
		return nil
	})
}

func (cb *cmdBuffer) CopyImageToBuffer(img driver.Image, buf driver.Buffer) {
	im, dst := img.(*softImage), buf.(*softBuffer)
	cb.cmds = append(cb.cmds, func() error {
		if im.released || dst.released {
			return driver.ErrReleased
		}
		need := im.rowPitch * im.height
		if len(dst.data) < need {
			return fmt.Errorf("soft device: buffer %s (%d bytes) too small for image %s (%d bytes)", dst.name, len(dst.data), im.name, need)
		}
		copy(dst.data, im.data[:need])
		return nil
	})
}

// Barrier updates the tracked state of each resource. The software queue
// executes in order, so the transition itself is a bookkeeping operation.
func (cb *cmdBuffer) Barrier(barriers []driver.Barrier) {
	cb.barrierCount += len(barriers)
	local := make([]driver.Barrier, len(barriers))
	copy(local, barriers)
	cb.cmds = append(cb.cmds, func() error {
		for _, b := range local {
			if buf, ok := b.Resource.(*softBuffer); ok {
				buf.state = b.After
			}
		}
		return nil
	})
}

func (cb *cmdBuffer) BuildBLAS(dst driver.BLAS, input driver.AccelInput, scratch driver.Buffer) {
	blas := dst.(*softBLAS)
	sc, _ := scratch.(*softBuffer)
	cb.cmds = append(cb.cmds, func() error {
		if sc == nil || sc.released {
			return fmt.Errorf("soft device: bottom-level build of %s without live scratch memory", blas.name)
		}
		built, err := buildBLASData(input)
		if err != nil {
			return err
		}
		blas.built = built
		return nil
	})
}

func (cb *cmdBuffer) BuildTLAS(dst driver.TLAS, instances driver.Buffer, count int, scratch driver.Buffer) {
	tlas := dst.(*softTLAS)
	src := instances.(*softBuffer)
	sc, _ := scratch.(*softBuffer)
	gpu := cb.gpu
	cb.cmds = append(cb.cmds, func() error {
		if sc == nil || sc.released {
			return fmt.Errorf("soft device: top-level build of %s without live scratch memory", tlas.name)
		}
		if src.released {
			return driver.ErrReleased
		}
		built, err := buildTLASData(gpu, src.data, count)
		if err != nil {
			return err
		}
		tlas.instances = built
		return nil
	})
}

func (cb *cmdBuffer) SetPipeline(p driver.Pipeline) {
	pl := p.(*softPipeline)
	gpu := cb.gpu
	cb.cmds = append(cb.cmds, func() error {
		gpu.pipeline = pl
		return nil
	})
}

func (cb *cmdBuffer) SetBuffer(slot int, buf driver.Buffer) {
	b := buf.(*softBuffer)
	gpu := cb.gpu
	cb.cmds = append(cb.cmds, func() error {
		gpu.binds.buffers[slot] = b
		return nil
	})
}

func (cb *cmdBuffer) SetImage(slot int, img driver.Image) {
	im := img.(*softImage)
	gpu := cb.gpu
	cb.cmds = append(cb.cmds, func() error {
		gpu.binds.images[slot] = im
		return nil
	})
}

func (cb *cmdBuffer) SetTLAS(slot int, t driver.TLAS) {
	tl := t.(*softTLAS)
	gpu := cb.gpu
	cb.cmds = append(cb.cmds, func() error {
		gpu.binds.tlas[slot] = tl
		return nil
	})
}

func (cb *cmdBuffer) Dispatch(x, y, z int) {
	gpu := cb.gpu
	cb.cmds = append(cb.cmds, func() error {
		return gpu.execCompute(x, y, z)
	})
}

func (cb *cmdBuffer) DispatchRays(width, height int) {
	gpu := cb.gpu
	cb.cmds = append(cb.cmds, func() error {
		return gpu.execRayDispatch(width, height)
	})
}
