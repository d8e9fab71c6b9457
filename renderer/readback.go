package renderer

import (
	"fmt"
	"image"
	"image/color"

	"github.com/helios-render/helios/driver"
)

// Diagnostic fill colors for readback failures. A failed readback never
// fails the frame; it produces a solid frame whose color identifies the
// failure class so broken output is obvious at a glance.
var (
	diagMagenta = color.RGBA{255, 0, 255, 255} // size mismatch between target and staging
	diagCyan    = color.RGBA{0, 255, 255, 255} // zero-sized target
	diagYellow  = color.RGBA{255, 255, 0, 255} // frame came back all zero
)

// ReadbackFrame copies the tone-mapped target into host memory and strips
// the device row padding into a tightly packed RGBA image.
func (r *deviceRenderer) ReadbackFrame() (*image.RGBA, error) {
	if r.closed {
		return nil, ErrClosed
	}
	if r.target == nil || r.width <= 0 || r.height <= 0 {
		return solidFrame(maxInt(r.width, 1), maxInt(r.height, 1), diagCyan), nil
	}

	pitch := r.target.RowPitch()
	staging := pitch * r.height
	if r.readbackBuf == nil || r.readbackBuf.Size() < staging {
		if r.readbackBuf != nil {
			r.tracker.Forget(r.readbackBuf)
			r.readbackBuf.Destroy()
		}
		buf, err := r.gpu.NewBuffer("readback", staging, driver.HeapReadback, driver.StateCopyDst)
		if err != nil {
			return nil, fmt.Errorf("renderer: allocate readback buffer: %v", err)
		}
		r.readbackBuf = buf
		r.tracker.Track(buf, driver.StateCopyDst)
	}
	if r.readbackBuf.Size() < staging {
		r.logger.Errorf("readback buffer %d bytes cannot hold %d byte frame", r.readbackBuf.Size(), staging)
		return solidFrame(r.width, r.height, diagMagenta), nil
	}

	cmd, err := r.gpu.NewCmdBuffer()
	if err != nil {
		return nil, fmt.Errorf("renderer: create readback command buffer: %v", err)
	}
	defer cmd.Destroy()
	if err := cmd.Begin(); err != nil {
		return nil, err
	}
	r.tracker.Transition(cmd, r.target, driver.StateCopySrc)
	r.tracker.Transition(cmd, r.readbackBuf, driver.StateCopyDst)
	cmd.CopyImageToBuffer(r.target, r.readbackBuf)
	if err := cmd.End(); err != nil {
		return nil, err
	}
	if err := r.gpu.Submit(cmd); err != nil {
		return nil, fmt.Errorf("renderer: submit readback: %v", err)
	}
	if err := r.gpu.WaitIdle(); err != nil {
		return nil, err
	}

	raw := make([]byte, staging)
	if err := r.readbackBuf.Read(raw, 0); err != nil {
		r.logger.Errorf("readback copy failed: %v", err)
		return solidFrame(r.width, r.height, diagMagenta), nil
	}

	// Strip row padding into a tight image.
	out := image.NewRGBA(image.Rect(0, 0, r.width, r.height))
	rowBytes := r.width * 4
	allZero := true
	for y := 0; y < r.height; y++ {
		row := raw[y*pitch : y*pitch+rowBytes]
		copy(out.Pix[y*out.Stride:], row)
		if allZero {
			for _, b := range row {
				if b != 0 {
					allZero = false
					break
				}
			}
		}
	}
	if allZero {
		r.logger.Warning("readback returned an all-zero frame")
		return solidFrame(r.width, r.height, diagYellow), nil
	}
	return out, nil
}

func solidFrame(width, height int, c color.RGBA) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i+0] = c.R
		img.Pix[i+1] = c.G
		img.Pix[i+2] = c.B
		img.Pix[i+3] = c.A
	}
	return img
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
