package soft

import (
	"fmt"

	"github.com/helios-render/helios/driver"
	"github.com/helios-render/helios/layout"
)

// Image rows are padded to this alignment, mirroring the row-pitch rules of
// hardware copy engines. The readback path must strip it.
const rowPitchAlignment = 256

// Acceleration structure sizing constants. The software representation does
// not live in the result buffer, but sizing still follows the hardware
// contract: callers request sizes, allocate, then build.
const (
	accelHeaderSize   = 128
	accelBytesPerItem = 64
	scratchPerItem    = 32
)

type softGPU struct {
	drv      *softDriver
	features driver.Features

	// Monotonic virtual address allocator for BLAS handles.
	nextAddr uint64

	// Live structures by virtual address.
	blasByAddr map[uint64]*softBLAS

	// Execution-time binding state, mutated by recorded commands.
	binds     bindTable
	pipeline  *softPipeline
	destroyed bool
}

type bindTable struct {
	buffers map[int]*softBuffer
	images  map[int]*softImage
	tlas    map[int]*softTLAS
}

func newGPU(drv *softDriver) *softGPU {
	tier := 0
	if drv.rayTracing {
		tier = 1
	}
	return &softGPU{
		drv: drv,
		features: driver.Features{
			DeviceName:     "helios software rasterizer",
			RayTracing:     drv.rayTracing,
			RayTracingTier: tier,
		},
		nextAddr:   0x1000,
		blasByAddr: make(map[uint64]*softBLAS),
		binds: bindTable{
			buffers: make(map[int]*softBuffer),
			images:  make(map[int]*softImage),
			tlas:    make(map[int]*softTLAS),
		},
	}
}

func (g *softGPU) Driver() driver.Driver {
	return g.drv
}

func (g *softGPU) Features() driver.Features {
	return g.features
}

func (g *softGPU) NewBuffer(name string, size int, heap driver.Heap, initial driver.State) (driver.Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("soft device: buffer %s requires a positive size; got %d", name, size)
	}
	return &softBuffer{
		name:  name,
		heap:  heap,
		data:  make([]byte, size),
		state: initial,
	}, nil
}

func (g *softGPU) NewImage(name string, width, height int, format driver.PixelFmt, initial driver.State) (driver.Image, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("soft device: image %s requires positive dimensions; got %dx%d", name, width, height)
	}
	pitch := alignUp(width*format.PixelSize(), rowPitchAlignment)
	return &softImage{
		name:     name,
		width:    width,
		height:   height,
		format:   format,
		rowPitch: pitch,
		data:     make([]byte, pitch*height),
	}, nil
}

func (g *softGPU) NewCmdBuffer() (driver.CmdBuffer, error) {
	return &cmdBuffer{gpu: g}, nil
}

func (g *softGPU) NewComputePipeline(desc driver.ComputeDesc) (driver.Pipeline, error) {
	kernel := string(desc.Shader)
	switch kernel {
	case layout.KernelBruteForceTrace, layout.KernelToneMap, layout.KernelDenoiseTemporal:
	default:
		return nil, fmt.Errorf("soft device: unknown compute kernel %q for pipeline %s", kernel, desc.Name)
	}
	return &softPipeline{name: desc.Name, compute: true, kernel: kernel}, nil
}

func (g *softGPU) NewRTPipeline(desc driver.RTDesc) (driver.Pipeline, error) {
	if !g.features.RayTracing {
		return nil, driver.ErrNoRayTracing
	}
	if string(desc.RayGen) != layout.ShaderRayGen {
		return nil, fmt.Errorf("soft device: unknown ray generation shader %q for pipeline %s", desc.RayGen, desc.Name)
	}
	// The hit-group table shape is part of the dispatch contract:
	// procedural groups at [0,3), triangle groups at [3,6).
	if len(desc.HitGroups) != len(layout.HitGroupNames) {
		return nil, fmt.Errorf("soft device: pipeline %s requires %d hit groups; got %d", desc.Name, len(layout.HitGroupNames), len(desc.HitGroups))
	}
	for i, hg := range desc.HitGroups {
		wantKind := driver.GeometryAABBs
		if i >= layout.HitGroupOffsetMesh {
			wantKind = driver.GeometryTriangles
		}
		if hg.Kind != wantKind {
			return nil, fmt.Errorf("soft device: pipeline %s hit group %d (%s) has wrong geometry kind", desc.Name, i, hg.Name)
		}
	}
	return &softPipeline{name: desc.Name, compute: false, kernel: string(desc.RayGen)}, nil
}

func (g *softGPU) AccelSizes(input driver.AccelInput) (driver.AccelSizes, error) {
	if !g.features.RayTracing {
		return driver.AccelSizes{}, driver.ErrNoRayTracing
	}
	var count int
	switch input.Kind {
	case driver.GeometryAABBs:
		count = input.AABBCount
	case driver.GeometryTriangles:
		count = input.IndexCount / 3
	}
	if count <= 0 {
		return driver.AccelSizes{}, fmt.Errorf("soft device: acceleration structure sizing over empty geometry")
	}
	return driver.AccelSizes{
		Result:  accelHeaderSize + count*accelBytesPerItem,
		Scratch: accelHeaderSize + count*scratchPerItem,
	}, nil
}

func (g *softGPU) TLASSizes(instanceCount int) (driver.AccelSizes, error) {
	if !g.features.RayTracing {
		return driver.AccelSizes{}, driver.ErrNoRayTracing
	}
	if instanceCount <= 0 {
		return driver.AccelSizes{}, fmt.Errorf("soft device: top-level sizing over empty instance set")
	}
	return driver.AccelSizes{
		Result:  accelHeaderSize + instanceCount*accelBytesPerItem,
		Scratch: accelHeaderSize + instanceCount*scratchPerItem,
	}, nil
}

func (g *softGPU) NewBLAS(name string, size int) (driver.BLAS, error) {
	if !g.features.RayTracing {
		return nil, driver.ErrNoRayTracing
	}
	if size <= 0 {
		return nil, fmt.Errorf("soft device: bottom-level structure %s requires a positive size", name)
	}
	b := &softBLAS{name: name, size: size, addr: g.nextAddr, gpu: g}
	g.nextAddr += uint64(alignUp(size, 256))
	g.blasByAddr[b.addr] = b
	return b, nil
}

func (g *softGPU) NewTLAS(name string, size int) (driver.TLAS, error) {
	if !g.features.RayTracing {
		return nil, driver.ErrNoRayTracing
	}
	if size <= 0 {
		return nil, fmt.Errorf("soft device: top-level structure %s requires a positive size", name)
	}
	return &softTLAS{name: name, size: size}, nil
}

// Submit executes the recorded commands in order. The software queue is
// synchronous; callers still observe the driver contract because nothing
// is guaranteed complete before WaitIdle returns.
func (g *softGPU) Submit(cb driver.CmdBuffer) error {
	rec, ok := cb.(*cmdBuffer)
	if !ok {
		return fmt.Errorf("soft device: submit of foreign command buffer")
	}
	if rec.recording {
		return fmt.Errorf("soft device: submit of command buffer still recording")
	}
	for _, cmd := range rec.cmds {
		if err := cmd(); err != nil {
			return err
		}
	}
	rec.cmds = nil
	return nil
}

func (g *softGPU) WaitIdle() error {
	if g.destroyed {
		return driver.ErrReleased
	}
	return nil
}

func (g *softGPU) Destroy() {
	g.blasByAddr = nil
	g.binds = bindTable{}
	g.destroyed = true
}

// Buffer implementation.
type softBuffer struct {
	name     string
	heap     driver.Heap
	data     []byte
	state    driver.State
	released bool
}

func (b *softBuffer) Name() string      { return b.name }
func (b *softBuffer) Size() int         { return len(b.data) }
func (b *softBuffer) Heap() driver.Heap { return b.heap }

func (b *softBuffer) Write(data []byte, offset int) error {
	if b.released {
		return driver.ErrReleased
	}
	if b.heap != driver.HeapUpload {
		return fmt.Errorf("soft device: write to non-upload buffer %s (%s heap)", b.name, b.heap)
	}
	if offset < 0 || offset+len(data) > len(b.data) {
		return fmt.Errorf("soft device: write of %d bytes at %d overflows buffer %s (%d bytes)", len(data), offset, b.name, len(b.data))
	}
	copy(b.data[offset:], data)
	return nil
}

func (b *softBuffer) Read(dst []byte, offset int) error {
	if b.released {
		return driver.ErrReleased
	}
	if b.heap != driver.HeapReadback {
		return fmt.Errorf("soft device: read from non-readback buffer %s (%s heap)", b.name, b.heap)
	}
	if offset < 0 || offset+len(dst) > len(b.data) {
		return fmt.Errorf("soft device: read of %d bytes at %d overflows buffer %s (%d bytes)", len(dst), offset, b.name, len(b.data))
	}
	copy(dst, b.data[offset:])
	return nil
}

func (b *softBuffer) Destroy() {
	b.data = nil
	b.released = true
}

// Image implementation.
type softImage struct {
	name     string
	width    int
	height   int
	format   driver.PixelFmt
	rowPitch int
	data     []byte
	released bool
}

func (im *softImage) Name() string            { return im.name }
func (im *softImage) Width() int              { return im.width }
func (im *softImage) Height() int             { return im.height }
func (im *softImage) Format() driver.PixelFmt { return im.format }
func (im *softImage) RowPitch() int           { return im.rowPitch }

func (im *softImage) Destroy() {
	im.data = nil
	im.released = true
}

// BLAS/TLAS implementations. The built field holds the CPU hierarchy; it is
// nil until a recorded build executes.
type softBLAS struct {
	name  string
	size  int
	addr  uint64
	gpu   *softGPU
	built *blasData
}

func (b *softBLAS) Name() string    { return b.name }
func (b *softBLAS) Address() uint64 { return b.addr }
func (b *softBLAS) Size() int       { return b.size }

func (b *softBLAS) Destroy() {
	if b.gpu != nil && b.gpu.blasByAddr != nil {
		delete(b.gpu.blasByAddr, b.addr)
	}
	b.built = nil
	b.gpu = nil
}

type softTLAS struct {
	name      string
	size      int
	instances []tlasInstance
}

func (t *softTLAS) Name() string { return t.name }
func (t *softTLAS) Size() int    { return t.size }

func (t *softTLAS) Destroy() {
	t.instances = nil
}

// Pipeline implementation.
type softPipeline struct {
	name    string
	compute bool
	kernel  string
}

func (p *softPipeline) Name() string { return p.name }
func (p *softPipeline) Destroy()     {}

func alignUp(v, align int) int {
	return (v + align - 1) / align * align
}
