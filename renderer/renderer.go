// Package renderer orchestrates frame rendering on top of a device
// backend. It probes device capabilities once at construction and then
// drives one of two paths: the ray-traced path built on acceleration
// structures, or a brute-force compute fallback for devices without
// ray-tracing support. Both paths share the same scene, frame constants
// and tone-mapping stage, so the caller cannot tell them apart except
// through Stats.
package renderer

import (
	"fmt"
	"image"
	"time"

	"github.com/helios-render/helios/accel"
	"github.com/helios-render/helios/denoise"
	"github.com/helios-render/helios/driver"
	"github.com/helios-render/helios/layout"
	"github.com/helios-render/helios/log"
	"github.com/helios-render/helios/scene"
)

// The render path selected at construction.
type Path int

const (
	PathHardware Path = iota
	PathFallback
)

func (p Path) String() string {
	switch p {
	case PathHardware:
		return "hardware"
	case PathFallback:
		return "fallback"
	}
	return "unknown"
}

type Renderer interface {
	// Render frame.
	Render() error

	// Copy the rendered frame back to host memory.
	ReadbackFrame() (*image.RGBA, error)

	// Force acceleration structure rebuilds on the next frame even if
	// no scene counts changed.
	MarkDirty()

	// Render path selected at construction.
	RenderPath() Path

	// Get render statistics.
	Stats() FrameStats

	// Shutdown renderer and release all device resources.
	Close()
}

type deviceRenderer struct {
	gpu    driver.GPU
	scene  *scene.Scene
	opts   Options
	logger log.Logger
	path   Path

	accel    *accel.Manager
	tracker  *driver.StateTracker
	denoiser *denoise.Temporal

	width, height int

	diffuse      driver.Image
	specular     driver.Image
	histDiffuse  driver.Image
	histSpecular driver.Image
	gbNormal     driver.Image
	gbDepth      driver.Image
	gbMotion     driver.Image
	target       driver.Image

	constBuf    driver.Buffer
	lightBuf    driver.Buffer
	meshMatBuf  driver.Buffer
	readbackBuf driver.Buffer

	// Fallback-path flattened tables.
	sphereBuf driver.Buffer
	planeBuf  driver.Buffer
	boxBuf    driver.Buffer
	infoBuf   driver.Buffer
	triBuf    driver.Buffer

	rtPipeline      driver.Pipeline
	brutePipeline   driver.Pipeline
	toneMapPipeline driver.Pipeline

	// Change detection. Structures rebuild when any count differs from
	// the previous frame or when MarkDirty was called.
	lastObjects   int
	lastInstances int
	lastMeshes    int
	dirty         bool

	frameIndex uint32
	stats      FrameStats
	closed     bool
}

// Create a renderer for the given scene. The device capability probe
// happens exactly once, here; the selected path never changes for the
// lifetime of the renderer.
func New(gpu driver.GPU, sc *scene.Scene, opts Options) (Renderer, error) {
	if sc == nil {
		return nil, ErrSceneNotDefined
	}
	opts.applyDefaults()

	r := &deviceRenderer{
		gpu:     gpu,
		scene:   sc,
		opts:    opts,
		logger:  opts.Logger,
		tracker: driver.NewStateTracker(),
		width:   int(opts.FrameW),
		height:  int(opts.FrameH),
		dirty:   true,
	}

	feats := gpu.Features()
	if feats.RayTracing && !opts.ForceFallback {
		r.path = PathHardware
	} else {
		r.path = PathFallback
	}
	r.logger.Noticef("device %q: ray tracing tier %d; using %s path", feats.DeviceName, feats.RayTracingTier, r.path)

	if err := r.createResources(); err != nil {
		r.Close()
		return nil, err
	}
	if err := r.createPipelines(); err != nil {
		r.Close()
		return nil, err
	}
	if r.path == PathHardware {
		r.accel = accel.NewManager(gpu, r.logger)
	}
	return r, nil
}

func (r *deviceRenderer) createResources() error {
	type imageSpec struct {
		dst    *driver.Image
		name   string
		format driver.PixelFmt
	}
	specs := []imageSpec{
		{&r.diffuse, "radiance-diffuse", driver.FormatRGBA32Float},
		{&r.specular, "radiance-specular", driver.FormatRGBA32Float},
		{&r.histDiffuse, "history-diffuse", driver.FormatRGBA32Float},
		{&r.histSpecular, "history-specular", driver.FormatRGBA32Float},
		{&r.gbNormal, "gbuffer-normal", driver.FormatRGBA32Float},
		{&r.gbDepth, "gbuffer-depth", driver.FormatR32Float},
		{&r.gbMotion, "gbuffer-motion", driver.FormatRG32Float},
		{&r.target, "target", driver.FormatRGBA8Unorm},
	}
	for _, s := range specs {
		img, err := r.gpu.NewImage(s.name, r.width, r.height, s.format, driver.StateUnorderedAccess)
		if err != nil {
			return fmt.Errorf("renderer: create image %s: %v", s.name, err)
		}
		r.tracker.Track(img, driver.StateUnorderedAccess)
		*s.dst = img
	}

	constSize := len(layout.Encode(layout.FrameConstants{}))
	buf, err := r.gpu.NewBuffer("frame-constants", constSize, driver.HeapUpload, driver.StateCommon)
	if err != nil {
		return fmt.Errorf("renderer: create frame constants: %v", err)
	}
	r.tracker.Track(buf, driver.StateCommon)
	r.constBuf = buf
	return nil
}

func (r *deviceRenderer) createPipelines() error {
	tm, err := r.opts.Shaders.GetShader(layout.KernelToneMap)
	if err != nil {
		return err
	}
	r.toneMapPipeline, err = r.gpu.NewComputePipeline(driver.ComputeDesc{Name: "tone-map", Shader: tm})
	if err != nil {
		return fmt.Errorf("renderer: create tone map pipeline: %v", err)
	}

	if r.path == PathFallback {
		bf, err := r.opts.Shaders.GetShader(layout.KernelBruteForceTrace)
		if err != nil {
			return err
		}
		r.brutePipeline, err = r.gpu.NewComputePipeline(driver.ComputeDesc{Name: "brute-force-trace", Shader: bf})
		if err != nil {
			return fmt.Errorf("renderer: create brute force pipeline: %v", err)
		}
		return nil
	}

	rayGen, err := r.opts.Shaders.GetShader(layout.ShaderRayGen)
	if err != nil {
		return err
	}
	missNames := []string{layout.ShaderMissRange, layout.ShaderMissShadow, layout.ShaderMissAux}
	miss := make([][]byte, 0, len(missNames))
	for _, name := range missNames {
		code, err := r.opts.Shaders.GetShader(name)
		if err != nil {
			return err
		}
		miss = append(miss, code)
	}
	groups := make([]driver.HitGroupDesc, 0, len(layout.HitGroupNames))
	for i, name := range layout.HitGroupNames {
		code, err := r.opts.Shaders.GetShader(name)
		if err != nil {
			return err
		}
		kind := driver.GeometryAABBs
		if i >= layout.HitGroupOffsetMesh {
			kind = driver.GeometryTriangles
		}
		groups = append(groups, driver.HitGroupDesc{Name: name, Kind: kind, Shader: code})
	}
	r.rtPipeline, err = r.gpu.NewRTPipeline(driver.RTDesc{
		Name:      "path-trace",
		RayGen:    rayGen,
		Miss:      miss,
		HitGroups: groups,
	})
	if err != nil {
		return fmt.Errorf("renderer: create ray tracing pipeline: %v", err)
	}

	r.denoiser, err = denoise.NewTemporal(r.gpu, r.opts.Shaders)
	if err != nil {
		return err
	}
	return nil
}

func (r *deviceRenderer) Render() error {
	if r.closed {
		return ErrClosed
	}
	if r.scene == nil {
		return ErrSceneNotDefined
	}
	if r.scene.Camera == nil {
		return ErrCameraNotDefined
	}
	start := time.Now()

	r.scene.Camera.SetupProjection(float32(r.width) / float32(r.height))

	cmd, err := r.gpu.NewCmdBuffer()
	if err != nil {
		return fmt.Errorf("renderer: create command buffer: %v", err)
	}
	defer cmd.Destroy()
	if err := cmd.Begin(); err != nil {
		return err
	}

	rebuilt := false
	var renderErr error
	if r.path == PathHardware {
		rebuilt, renderErr = r.recordHardware(cmd)
	} else {
		renderErr = r.recordFallback(cmd)
	}
	if renderErr != nil {
		return renderErr
	}

	r.recordToneMap(cmd)

	if err := cmd.End(); err != nil {
		return err
	}
	if err := r.gpu.Submit(cmd); err != nil {
		return fmt.Errorf("renderer: submit frame %d: %v", r.frameIndex, err)
	}
	if err := r.gpu.WaitIdle(); err != nil {
		return err
	}
	if r.accel != nil {
		// Scratch outgrown during recording only becomes reclaimable
		// once the device has drained.
		r.accel.ReleaseRetiredScratch()
	}

	r.frameIndex++
	r.stats = FrameStats{
		Path:         r.path,
		RenderTime:   time.Since(start),
		AccelRebuilt: rebuilt,
		Frames:       r.frameIndex,
	}
	if r.accel != nil {
		r.stats.Instances = r.accel.InstanceCount()
	}
	return nil
}

// Upload frame constants and record the binds shared by both paths.
func (r *deviceRenderer) recordCommon(cmd driver.CmdBuffer, counts shapeCounts) error {
	set := r.scene.Settings
	set.Sanitize()
	cam := r.scene.Camera

	fc := layout.FrameConstants{
		FrustumTL: cam.Frustum[0],
		FrustumTR: cam.Frustum[1],
		FrustumBL: cam.Frustum[2],
		FrustumBR: cam.Frustum[3],
		EyePos:    cam.Position.Vec4(0),
		BgColor:   r.scene.BgColor.Vec4(0),

		SphereCount:   uint32(counts.spheres),
		PlaneCount:    uint32(counts.planes),
		BoxCount:      uint32(counts.boxes),
		LightCount:    uint32(len(r.scene.Lights)),
		TriangleCount: uint32(counts.triangles),

		SamplesPerPixel: set.SamplesPerPixel,
		NumBounces:      set.NumBounces,
		FrameIndex:      r.frameIndex,
		Seed:            r.frameIndex*9781 + 1,

		Exposure:       set.Exposure,
		Gamma:          set.Gamma,
		ShadowStrength: set.ShadowStrength,
		ToneMapOp:      uint32(set.ToneMap),
		Stabilization:  set.DenoiserStabilization,
	}
	if err := r.constBuf.Write(layout.Encode(fc), 0); err != nil {
		return fmt.Errorf("renderer: upload frame constants: %v", err)
	}

	if len(r.scene.Lights) > 0 {
		lights := make([]layout.PackedLight, len(r.scene.Lights))
		for i, l := range r.scene.Lights {
			lights[i] = layout.PackedLight{
				PositionRadius: l.Position.Vec4(l.Radius),
				ColorIntensity: l.Color.Vec4(l.Intensity),
			}
		}
		data := layout.Encode(lights)
		var err error
		if r.lightBuf, err = r.ensureUpload(r.lightBuf, "lights", data); err != nil {
			return err
		}
		cmd.SetBuffer(layout.SlotLights, r.lightBuf)
	}

	cmd.SetBuffer(layout.SlotConstants, r.constBuf)
	cmd.SetImage(layout.SlotDiffuseRadiance, r.diffuse)
	cmd.SetImage(layout.SlotSpecularRadiance, r.specular)
	cmd.SetImage(layout.SlotTarget, r.target)
	return nil
}

func (r *deviceRenderer) recordToneMap(cmd driver.CmdBuffer) {
	// Radiance writes must land before the tone map reads them, and the
	// target must be writable again after any readback copy moved it to
	// the copy-source state.
	r.tracker.FlushWrite(cmd, r.diffuse)
	r.tracker.FlushWrite(cmd, r.specular)
	r.tracker.Transition(cmd, r.target, driver.StateUnorderedAccess)
	cmd.SetPipeline(r.toneMapPipeline)
	cmd.Dispatch(r.width, r.height, 1)
}

type shapeCounts struct {
	spheres, planes, boxes, triangles int
}

// Grow-only upload buffer helper, mirrored from the structure manager.
func (r *deviceRenderer) ensureUpload(buf driver.Buffer, name string, data []byte) (driver.Buffer, error) {
	if buf == nil || buf.Size() < len(data) {
		if buf != nil {
			buf.Destroy()
		}
		var err error
		buf, err = r.gpu.NewBuffer(name, len(data), driver.HeapUpload, driver.StateCommon)
		if err != nil {
			return nil, fmt.Errorf("renderer: allocate %s (%d bytes): %v", name, len(data), err)
		}
	}
	if err := buf.Write(data, 0); err != nil {
		return nil, fmt.Errorf("renderer: upload %s: %v", name, err)
	}
	return buf, nil
}

func (r *deviceRenderer) MarkDirty() {
	r.dirty = true
}

func (r *deviceRenderer) RenderPath() Path {
	return r.path
}

func (r *deviceRenderer) Stats() FrameStats {
	return r.stats
}

func (r *deviceRenderer) Close() {
	if r.closed {
		return
	}
	r.closed = true
	r.gpu.WaitIdle()

	if r.accel != nil {
		r.accel.Release()
	}
	if r.denoiser != nil {
		r.denoiser.Release()
	}
	for _, p := range []driver.Pipeline{r.rtPipeline, r.brutePipeline, r.toneMapPipeline} {
		if p != nil {
			p.Destroy()
		}
	}
	images := []driver.Image{
		r.diffuse, r.specular, r.histDiffuse, r.histSpecular,
		r.gbNormal, r.gbDepth, r.gbMotion, r.target,
	}
	for _, img := range images {
		if img != nil {
			img.Destroy()
		}
	}
	buffers := []driver.Buffer{
		r.constBuf, r.lightBuf, r.meshMatBuf, r.readbackBuf,
		r.sphereBuf, r.planeBuf, r.boxBuf, r.infoBuf, r.triBuf,
	}
	for _, buf := range buffers {
		if buf != nil {
			buf.Destroy()
		}
	}
}
