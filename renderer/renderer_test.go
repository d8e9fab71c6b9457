package renderer

import (
	"image"
	"testing"

	"github.com/helios-render/helios/driver"
	"github.com/helios-render/helios/driver/soft"
	"github.com/helios-render/helios/scene"
	"github.com/helios-render/helios/types"
)

const testDim = 64

func openTestGPU(t *testing.T, rayTracing bool) driver.GPU {
	t.Helper()
	drv := soft.NewDriver(rayTracing)
	gpu, err := drv.Open()
	if err != nil {
		t.Fatalf("open device: %v", err)
	}
	t.Cleanup(drv.Close)
	return gpu
}

// A scene whose output is exactly predictable: one sphere dead ahead, no
// lights, one sample per pixel and an identity tone-mapping chain. Hit
// pixels shade to black, missed pixels shade to the sky gradient.
func sphereTestScene() *scene.Scene {
	sc := scene.NewScene()
	sc.SetCamera(scene.NewCamera(45))
	sc.AddObject(scene.NewSphere(types.Vec3{0, 0, -5}, 1, scene.NewDiffuseMaterial(types.Vec3{0.8, 0.8, 0.8})))
	sc.Settings.SamplesPerPixel = 1
	sc.Settings.NumBounces = 1
	sc.Settings.ToneMap = scene.ToneMapNone
	sc.Settings.Exposure = 1
	sc.Settings.Gamma = 1
	return sc
}

func newTestRenderer(t *testing.T, rayTracing bool, sc *scene.Scene, opts Options) Renderer {
	t.Helper()
	opts.FrameW, opts.FrameH = testDim, testDim
	r, err := New(openTestGPU(t, rayTracing), sc, opts)
	if err != nil {
		t.Fatalf("create renderer: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func lerp(a, b types.Vec3, t float32) types.Vec3 {
	return a.Mul(1 - t).Add(b.Mul(t))
}

// The sky color seen through pixel (px, py), computed the same way the
// device kernels do: interpolated frustum corner rays and a vertical
// white-to-blue gradient.
func expectedSky(cam *scene.Camera, px, py int) [3]byte {
	u := (float32(px) + 0.5) / testDim
	v := (float32(py) + 0.5) / testDim
	top := lerp(cam.Frustum[0].Vec3(), cam.Frustum[1].Vec3(), u)
	bottom := lerp(cam.Frustum[2].Vec3(), cam.Frustum[3].Vec3(), u)
	dir := lerp(top, bottom, v).Normalize()

	grad := 0.5 * (dir[1] + 1)
	col := lerp(types.Vec3{1, 1, 1}, types.Vec3{0.5, 0.7, 1.0}, grad)
	var out [3]byte
	for i := 0; i < 3; i++ {
		c := col[i]
		if c > 1 {
			c = 1
		}
		out[i] = byte(c*255 + 0.5)
	}
	return out
}

func pixelAt(img *image.RGBA, px, py int) [4]byte {
	off := img.PixOffset(px, py)
	return [4]byte{img.Pix[off], img.Pix[off+1], img.Pix[off+2], img.Pix[off+3]}
}

func absDiff(a, b byte) int {
	d := int(a) - int(b)
	if d < 0 {
		return -d
	}
	return d
}

func TestRenderSphereScene(t *testing.T) {
	for _, path := range []Path{PathHardware, PathFallback} {
		t.Run(path.String(), func(t *testing.T) {
			sc := sphereTestScene()
			r := newTestRenderer(t, path == PathHardware, sc, Options{})
			if r.RenderPath() != path {
				t.Fatalf("expected %s path; got %s", path, r.RenderPath())
			}

			if err := r.Render(); err != nil {
				t.Fatalf("render failed: %v", err)
			}
			frame, err := r.ReadbackFrame()
			if err != nil {
				t.Fatalf("readback failed: %v", err)
			}
			if got := frame.Bounds(); got.Dx() != testDim || got.Dy() != testDim {
				t.Fatalf("expected %dx%d frame; got %v", testDim, testDim, got)
			}

			// The unlit sphere fills the frame center and shades to
			// black.
			center := pixelAt(frame, testDim/2, testDim/2)
			if center != [4]byte{0, 0, 0, 255} {
				t.Fatalf("expected black center pixel; got %v", center)
			}

			// The corners miss and shade to the sky gradient.
			want := expectedSky(sc.Camera, 0, 0)
			corner := pixelAt(frame, 0, 0)
			for i := 0; i < 3; i++ {
				if absDiff(corner[i], want[i]) > 1 {
					t.Fatalf("expected sky corner %v; got %v", want, corner)
				}
			}
			if corner[3] != 255 {
				t.Fatalf("expected opaque alpha; got %d", corner[3])
			}
		})
	}
}

func TestRenderEmissiveMeshInstance(t *testing.T) {
	sc := sphereTestScene()
	sc.Objects = sc.Objects[:0]

	// A quad facing the camera, shaded purely by its emissive term.
	quad := scene.NewMeshCacheEntry(
		[]scene.MeshVertex{
			{Position: types.Vec4{-2, -2, 0, 0}},
			{Position: types.Vec4{2, -2, 0, 0}},
			{Position: types.Vec4{2, 2, 0, 0}},
			{Position: types.Vec4{-2, 2, 0, 0}},
		},
		[]uint32{0, 1, 2, 0, 2, 3},
	)
	if err := sc.SetMeshCacheEntry("quad", quad); err != nil {
		t.Fatalf("register mesh: %v", err)
	}
	mat := scene.NewDiffuseMaterial(types.Vec3{1, 1, 1})
	mat.Emissive = types.Vec3{1, 0.25, 0.25}
	sc.ReplaceMeshInstances([]scene.MeshInstance{
		scene.NewMeshInstance("quad", types.Vec3{0, 0, -5}, mat),
	})

	r := newTestRenderer(t, true, sc, Options{})
	if err := r.Render(); err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if got := r.Stats().Instances; got != 1 {
		t.Fatalf("expected 1 placed instance; got %d", got)
	}

	frame, err := r.ReadbackFrame()
	if err != nil {
		t.Fatalf("readback failed: %v", err)
	}
	center := pixelAt(frame, testDim/2, testDim/2)
	want := [4]byte{255, 64, 64, 255}
	for i := range want {
		if absDiff(center[i], want[i]) > 1 {
			t.Fatalf("expected emissive center %v; got %v", want, center)
		}
	}
}

func TestRenderSkipsUnregisteredMeshInstance(t *testing.T) {
	sc := sphereTestScene()
	sc.Objects = sc.Objects[:0]
	sc.ReplaceMeshInstances([]scene.MeshInstance{
		scene.NewMeshInstance("ghost", types.Vec3{0, 0, -5}, scene.NewDiffuseMaterial(types.Vec3{1, 1, 1})),
	})

	r := newTestRenderer(t, true, sc, Options{})
	if err := r.Render(); err != nil {
		t.Fatalf("expected the frame to fail soft; got %v", err)
	}
	if got := r.Stats().Instances; got != 0 {
		t.Fatalf("expected no placed instances; got %d", got)
	}

	// The frame still renders: every ray misses into the sky.
	frame, err := r.ReadbackFrame()
	if err != nil {
		t.Fatalf("readback failed: %v", err)
	}
	center := pixelAt(frame, testDim/2, testDim/2)
	if center == [4]byte{0, 0, 0, 255} {
		t.Fatal("expected a sky-shaded frame, not black")
	}
}

func TestForceFallbackOverridesCapability(t *testing.T) {
	r := newTestRenderer(t, true, sphereTestScene(), Options{ForceFallback: true})
	if r.RenderPath() != PathFallback {
		t.Fatalf("expected fallback path; got %s", r.RenderPath())
	}
	if err := r.Render(); err != nil {
		t.Fatalf("render failed: %v", err)
	}
}

func TestChangeDetection(t *testing.T) {
	sc := sphereTestScene()
	r := newTestRenderer(t, true, sc, Options{})

	if err := r.Render(); err != nil {
		t.Fatalf("frame 1 failed: %v", err)
	}
	if !r.Stats().AccelRebuilt {
		t.Fatal("expected structures to build on the first frame")
	}

	if err := r.Render(); err != nil {
		t.Fatalf("frame 2 failed: %v", err)
	}
	if r.Stats().AccelRebuilt {
		t.Fatal("expected an unchanged scene to reuse structures")
	}

	sc.AddObject(scene.NewSphere(types.Vec3{3, 0, -5}, 1, scene.NewDiffuseMaterial(types.Vec3{1, 0, 0})))
	if err := r.Render(); err != nil {
		t.Fatalf("frame 3 failed: %v", err)
	}
	if !r.Stats().AccelRebuilt {
		t.Fatal("expected an object count change to trigger a rebuild")
	}

	if err := r.Render(); err != nil {
		t.Fatalf("frame 4 failed: %v", err)
	}
	if r.Stats().AccelRebuilt {
		t.Fatal("expected the rebuilt scene to settle")
	}

	// In-place mutations do not change counts; MarkDirty is the escape
	// hatch that forces the next frame to rebuild.
	sc.Objects[0].Origin[0] = 2
	r.MarkDirty()
	if err := r.Render(); err != nil {
		t.Fatalf("frame 5 failed: %v", err)
	}
	if !r.Stats().AccelRebuilt {
		t.Fatal("expected a marked-dirty scene to rebuild")
	}
}

func TestRenderErrors(t *testing.T) {
	gpu := openTestGPU(t, true)
	if _, err := New(gpu, nil, Options{}); err != ErrSceneNotDefined {
		t.Fatalf("expected %v; got %v", ErrSceneNotDefined, err)
	}

	sc := sphereTestScene()
	sc.Camera = nil
	r, err := New(gpu, sc, Options{FrameW: testDim, FrameH: testDim})
	if err != nil {
		t.Fatalf("create renderer: %v", err)
	}
	if err := r.Render(); err != ErrCameraNotDefined {
		t.Fatalf("expected %v; got %v", ErrCameraNotDefined, err)
	}

	r.Close()
	if err := r.Render(); err != ErrClosed {
		t.Fatalf("expected %v after close; got %v", ErrClosed, err)
	}
	if _, err := r.ReadbackFrame(); err != ErrClosed {
		t.Fatalf("expected %v after close; got %v", ErrClosed, err)
	}
}

func TestDenoiserAccumulates(t *testing.T) {
	sc := sphereTestScene()
	sc.Settings.DenoiserEnabled = true
	sc.Settings.DenoiserStabilization = 0.5

	r := newTestRenderer(t, true, sc, Options{})
	for i := 0; i < 3; i++ {
		if err := r.Render(); err != nil {
			t.Fatalf("frame %d failed: %v", i+1, err)
		}
	}
	frame, err := r.ReadbackFrame()
	if err != nil {
		t.Fatalf("readback failed: %v", err)
	}
	// A static scene accumulates to the same stable image.
	center := pixelAt(frame, testDim/2, testDim/2)
	if center != [4]byte{0, 0, 0, 255} {
		t.Fatalf("expected stable black center; got %v", center)
	}
}

func TestRenderMixedGeometryFrame(t *testing.T) {
	// Five procedural shapes and one small mesh recorded into the same
	// frame: the procedural build demands more scratch than the mesh
	// build, so the frame exercises scratch growth between builds that
	// are both still in flight.
	sc := sphereTestScene()
	sc.Objects = sc.Objects[:0]
	mat := scene.NewDiffuseMaterial(types.Vec3{0.8, 0.8, 0.8})
	for i := 0; i < 5; i++ {
		sc.AddObject(scene.NewSphere(types.Vec3{float32(i)*2 - 4, 5, -8}, 0.5, mat))
	}

	tri := scene.NewMeshCacheEntry(
		[]scene.MeshVertex{
			{Position: types.Vec4{-2, -2, 0, 0}},
			{Position: types.Vec4{2, -2, 0, 0}},
			{Position: types.Vec4{0, 2, 0, 0}},
		},
		[]uint32{0, 1, 2},
	)
	if err := sc.SetMeshCacheEntry("tri", tri); err != nil {
		t.Fatalf("register mesh: %v", err)
	}
	emissive := scene.NewDiffuseMaterial(types.Vec3{1, 1, 1})
	emissive.Emissive = types.Vec3{0.25, 1, 0.25}
	sc.ReplaceMeshInstances([]scene.MeshInstance{
		scene.NewMeshInstance("tri", types.Vec3{0, 0, -5}, emissive),
	})

	r := newTestRenderer(t, true, sc, Options{})
	if err := r.Render(); err != nil {
		t.Fatalf("render failed: %v", err)
	}
	// One procedural instance plus one mesh instance.
	if got := r.Stats().Instances; got != 2 {
		t.Fatalf("expected 2 placed instances; got %d", got)
	}

	frame, err := r.ReadbackFrame()
	if err != nil {
		t.Fatalf("readback failed: %v", err)
	}
	center := pixelAt(frame, testDim/2, testDim/2)
	want := [4]byte{64, 255, 64, 255}
	for i := range want {
		if absDiff(center[i], want[i]) > 1 {
			t.Fatalf("expected emissive center %v; got %v", want, center)
		}
	}

	// An unchanged second frame reuses the structures.
	if err := r.Render(); err != nil {
		t.Fatalf("second frame failed: %v", err)
	}
	if r.Stats().AccelRebuilt {
		t.Fatal("expected an unchanged scene to reuse structures")
	}
}

func TestRenderSkipsInvalidMeshGeometry(t *testing.T) {
	// A mesh whose index count is not a multiple of three passes the
	// scene boundary but cannot be built. Its instances place nothing;
	// the rest of the frame renders.
	sc := sphereTestScene()
	sc.Objects = sc.Objects[:0]
	bent := scene.NewMeshCacheEntry(
		[]scene.MeshVertex{
			{Position: types.Vec4{-2, -2, 0, 0}},
			{Position: types.Vec4{2, -2, 0, 0}},
			{Position: types.Vec4{0, 2, 0, 0}},
		},
		[]uint32{0, 1, 2, 0},
	)
	if err := sc.SetMeshCacheEntry("bent", bent); err != nil {
		t.Fatalf("register mesh: %v", err)
	}
	sc.ReplaceMeshInstances([]scene.MeshInstance{
		scene.NewMeshInstance("bent", types.Vec3{0, 0, -3}, scene.NewDiffuseMaterial(types.Vec3{1, 1, 1})),
	})

	r := newTestRenderer(t, true, sc, Options{})
	if err := r.Render(); err != nil {
		t.Fatalf("expected the defective mesh to be skipped; got %v", err)
	}
	if got := r.Stats().Instances; got != 0 {
		t.Fatalf("expected no placed instances; got %d", got)
	}

	// The frame still renders: every ray misses into the sky.
	frame, err := r.ReadbackFrame()
	if err != nil {
		t.Fatalf("readback failed: %v", err)
	}
	if center := pixelAt(frame, testDim/2, testDim/2); center == [4]byte{0, 0, 0, 255} {
		t.Fatal("expected a sky-shaded frame, not black")
	}
}

func TestTrackerFollowsTargetAcrossFrames(t *testing.T) {
	r := newTestRenderer(t, true, sphereTestScene(), Options{})
	dr := r.(*deviceRenderer)

	if err := r.Render(); err != nil {
		t.Fatalf("render failed: %v", err)
	}
	if s, ok := dr.tracker.StateOf(dr.target); !ok || s != driver.StateUnorderedAccess {
		t.Fatalf("expected writable target after render; got (%d, %v)", s, ok)
	}

	if _, err := r.ReadbackFrame(); err != nil {
		t.Fatalf("readback failed: %v", err)
	}
	if s, _ := dr.tracker.StateOf(dr.target); s != driver.StateCopySrc {
		t.Fatalf("expected copy-source target after readback; got %d", s)
	}
	if s, ok := dr.tracker.StateOf(dr.readbackBuf); !ok || s != driver.StateCopyDst {
		t.Fatalf("expected copy-destination staging; got (%d, %v)", s, ok)
	}

	// The next frame's tone map must move the target back before
	// writing to it.
	if err := r.Render(); err != nil {
		t.Fatalf("second render failed: %v", err)
	}
	if s, _ := dr.tracker.StateOf(dr.target); s != driver.StateUnorderedAccess {
		t.Fatalf("expected writable target after second render; got %d", s)
	}
}
