package accel

import (
	"errors"
	"fmt"
	"testing"

	"github.com/helios-render/helios/driver"
	"github.com/helios-render/helios/layout"
	"github.com/helios-render/helios/scene"
	"github.com/helios-render/helios/types"
)

// A recording GPU fake. Builds and destroys append to an event log so
// tests can assert ordering invariants; buffers accept writes regardless
// of heap so recorded build inputs can be inspected.
type fakeGPU struct {
	events      []string
	nextAddr    uint64
	scratchSize int

	lastBLASInput driver.AccelInput
	lastTLASData  []byte
	lastTLASCount int
}

func newFakeGPU() *fakeGPU {
	return &fakeGPU{nextAddr: 0x1000, scratchSize: 512}
}

func (g *fakeGPU) log(format string, args ...interface{}) {
	g.events = append(g.events, fmt.Sprintf(format, args...))
}

func (g *fakeGPU) Driver() driver.Driver     { return nil }
func (g *fakeGPU) Features() driver.Features { return driver.Features{RayTracing: true, RayTracingTier: 1} }

func (g *fakeGPU) NewBuffer(name string, size int, heap driver.Heap, initial driver.State) (driver.Buffer, error) {
	return &fakeBuffer{gpu: g, name: name, heap: heap, data: make([]byte, size)}, nil
}

func (g *fakeGPU) NewImage(name string, w, h int, f driver.PixelFmt, s driver.State) (driver.Image, error) {
	return nil, fmt.Errorf("not used")
}

func (g *fakeGPU) NewCmdBuffer() (driver.CmdBuffer, error) {
	return &fakeCmd{gpu: g}, nil
}

func (g *fakeGPU) NewComputePipeline(driver.ComputeDesc) (driver.Pipeline, error) {
	return nil, fmt.Errorf("not used")
}

func (g *fakeGPU) NewRTPipeline(driver.RTDesc) (driver.Pipeline, error) {
	return nil, fmt.Errorf("not used")
}

func (g *fakeGPU) AccelSizes(input driver.AccelInput) (driver.AccelSizes, error) {
	return driver.AccelSizes{Result: 1024, Scratch: g.scratchSize}, nil
}

func (g *fakeGPU) TLASSizes(count int) (driver.AccelSizes, error) {
	return driver.AccelSizes{Result: 1024, Scratch: g.scratchSize}, nil
}

func (g *fakeGPU) NewBLAS(name string, size int) (driver.BLAS, error) {
	b := &fakeBLAS{gpu: g, name: name, addr: g.nextAddr}
	g.nextAddr += 0x1000
	return b, nil
}

func (g *fakeGPU) NewTLAS(name string, size int) (driver.TLAS, error) {
	return &fakeTLAS{gpu: g, name: name}, nil
}

func (g *fakeGPU) Submit(driver.CmdBuffer) error { return nil }
func (g *fakeGPU) WaitIdle() error               { return nil }
func (g *fakeGPU) Destroy()                      {}

type fakeBuffer struct {
	gpu  *fakeGPU
	name string
	heap driver.Heap
	data []byte
}

func (b *fakeBuffer) Name() string      { return b.name }
func (b *fakeBuffer) Size() int         { return len(b.data) }
func (b *fakeBuffer) Heap() driver.Heap { return b.heap }
func (b *fakeBuffer) Destroy()          { b.gpu.log("destroy-buf:%s", b.name) }

func (b *fakeBuffer) Write(data []byte, offset int) error {
	copy(b.data[offset:], data)
	return nil
}

func (b *fakeBuffer) Read(dst []byte, offset int) error {
	copy(dst, b.data[offset:])
	return nil
}

type fakeBLAS struct {
	gpu  *fakeGPU
	name string
	addr uint64
}

func (b *fakeBLAS) Name() string    { return b.name }
func (b *fakeBLAS) Address() uint64 { return b.addr }
func (b *fakeBLAS) Size() int       { return 1024 }
func (b *fakeBLAS) Destroy()        { b.gpu.log("destroy-blas:%s", b.name) }

type fakeTLAS struct {
	gpu  *fakeGPU
	name string
}

func (t *fakeTLAS) Name() string { return t.name }
func (t *fakeTLAS) Size() int    { return 1024 }
func (t *fakeTLAS) Destroy()     { t.gpu.log("destroy-tlas:%s", t.name) }

type fakeCmd struct {
	gpu *fakeGPU
}

func (c *fakeCmd) Begin() error                    { return nil }
func (c *fakeCmd) End() error                      { return nil }
func (c *fakeCmd) Destroy()                        {}
func (c *fakeCmd) CopyBuffer(p driver.BufferCopy) {
	from, to := p.From.(*fakeBuffer), p.To.(*fakeBuffer)
	copy(to.data[p.ToOff:p.ToOff+p.Size], from.data[p.FromOff:])
}
func (c *fakeCmd) CopyImageToBuffer(driver.Image, driver.Buffer) {}
func (c *fakeCmd) Barrier([]driver.Barrier)        {}
func (c *fakeCmd) SetPipeline(driver.Pipeline)     {}
func (c *fakeCmd) SetBuffer(int, driver.Buffer)    {}
func (c *fakeCmd) SetImage(int, driver.Image)      {}
func (c *fakeCmd) SetTLAS(int, driver.TLAS)        {}
func (c *fakeCmd) Dispatch(x, y, z int)            {}
func (c *fakeCmd) DispatchRays(w, h int)           {}

func (c *fakeCmd) BuildBLAS(dst driver.BLAS, input driver.AccelInput, scratch driver.Buffer) {
	c.gpu.lastBLASInput = input
	c.gpu.log("build-blas:%s", dst.Name())
}

func (c *fakeCmd) BuildTLAS(dst driver.TLAS, instances driver.Buffer, count int, scratch driver.Buffer) {
	src := instances.(*fakeBuffer)
	c.gpu.lastTLASData = append([]byte(nil), src.data...)
	c.gpu.lastTLASCount = count
	c.gpu.log("build-tlas:%s", dst.Name())
}

func testMeshEntry() *scene.MeshCacheEntry {
	return scene.NewMeshCacheEntry(
		[]scene.MeshVertex{
			{Position: types.Vec4{0, 0, 0, 0}},
			{Position: types.Vec4{1, 0, 0, 0}},
			{Position: types.Vec4{0, 1, 0, 0}},
		},
		[]uint32{0, 1, 2},
	)
}

func mixedObjects() []scene.Object {
	mat := scene.NewDiffuseMaterial(types.Vec3{1, 0, 0})
	return []scene.Object{
		scene.NewPlane(types.Vec3{0, -1, 0}, types.Vec3{0, 1, 0}, mat),
		scene.NewSphere(types.Vec3{0, 0, -5}, 1, mat),
		scene.NewAxisAlignedBox(types.Vec3{3, 0, -5}, types.Vec3{1, 1, 1}, mat),
		scene.NewSphere(types.Vec3{2, 0, -5}, 0.5, mat),
	}
}

func TestProceduralBuildPartitionsByType(t *testing.T) {
	gpu := newFakeGPU()
	m := NewManager(gpu, nil)
	cmd, _ := gpu.NewCmdBuffer()

	if err := m.BuildProceduralBLAS(cmd, mixedObjects()); err != nil {
		t.Fatalf("build failed: %v", err)
	}

	spheres, planes, boxes := m.Counts()
	if spheres != 2 || planes != 1 || boxes != 1 {
		t.Fatalf("expected counts (2, 1, 1); got (%d, %d, %d)", spheres, planes, boxes)
	}
	if gpu.lastBLASInput.Kind != driver.GeometryAABBs {
		t.Fatalf("expected procedural geometry kind; got %d", gpu.lastBLASInput.Kind)
	}
	if gpu.lastBLASInput.AABBCount != 4 {
		t.Fatalf("expected 4 bounding volumes; got %d", gpu.lastBLASInput.AABBCount)
	}

	// Slot records must list spheres, then planes, then boxes.
	info := make([]layout.PackedInstanceInfo, 4)
	raw := m.infoBuf.(*fakeBuffer).data
	if err := layout.Decode(raw[:len(layout.Encode(info))], &info); err != nil {
		t.Fatalf("decode slot records: %v", err)
	}
	wantTags := []uint32{layout.TagSphere, layout.TagSphere, layout.TagPlane, layout.TagBox}
	for i, want := range wantTags {
		if info[i].Tag != want {
			t.Fatalf("slot %d: expected tag %d; got %d", i, want, info[i].Tag)
		}
	}
	if info[0].Index != 0 || info[1].Index != 1 {
		t.Fatalf("expected sphere slots to index 0, 1; got %d, %d", info[0].Index, info[1].Index)
	}
}

func TestEmptyProceduralBuildIsTerminal(t *testing.T) {
	gpu := newFakeGPU()
	m := NewManager(gpu, nil)
	cmd, _ := gpu.NewCmdBuffer()

	if err := m.BuildProceduralBLAS(cmd, mixedObjects()); err != nil {
		t.Fatalf("build failed: %v", err)
	}
	if _, err := m.BuildCombinedTLAS(cmd, nil); err != nil {
		t.Fatalf("top-level build failed: %v", err)
	}
	if m.GetTLAS() == nil {
		t.Fatal("expected a live top-level structure")
	}

	gpu.events = nil
	if err := m.BuildProceduralBLAS(cmd, nil); err != nil {
		t.Fatalf("empty build failed: %v", err)
	}
	if m.GetTLAS() != nil {
		t.Fatal("expected top-level structure to be released")
	}
	spheres, planes, boxes := m.Counts()
	if spheres+planes+boxes != 0 {
		t.Fatalf("expected zero counts; got (%d, %d, %d)", spheres, planes, boxes)
	}

	// The top level must go before the bottom level it references.
	want := []string{"destroy-tlas:combined-tlas", "destroy-blas:procedural-blas"}
	if len(gpu.events) != len(want) {
		t.Fatalf("expected events %v; got %v", want, gpu.events)
	}
	for i := range want {
		if gpu.events[i] != want[i] {
			t.Fatalf("expected events %v; got %v", want, gpu.events)
		}
	}
}

func TestMeshRebuildInvalidatesTopLevelFirst(t *testing.T) {
	gpu := newFakeGPU()
	m := NewManager(gpu, nil)
	cmd, _ := gpu.NewCmdBuffer()

	if err := m.BuildMeshBLAS(cmd, "bunny", testMeshEntry()); err != nil {
		t.Fatalf("mesh build failed: %v", err)
	}
	instances := []scene.MeshInstance{
		scene.NewMeshInstance("bunny", types.Vec3{0, 0, -5}, scene.NewDiffuseMaterial(types.Vec3{1, 1, 1})),
	}
	if _, err := m.BuildCombinedTLAS(cmd, instances); err != nil {
		t.Fatalf("top-level build failed: %v", err)
	}

	gpu.events = nil
	if err := m.BuildMeshBLAS(cmd, "bunny", testMeshEntry()); err != nil {
		t.Fatalf("mesh rebuild failed: %v", err)
	}
	if len(gpu.events) < 2 {
		t.Fatalf("expected destroy and rebuild events; got %v", gpu.events)
	}
	if gpu.events[0] != "destroy-tlas:combined-tlas" {
		t.Fatalf("expected top-level destroy first; got %v", gpu.events)
	}
	if gpu.events[1] != "destroy-blas:mesh-blas-bunny" {
		t.Fatalf("expected mesh structure destroy second; got %v", gpu.events)
	}
}

func TestRemoveStaleMeshBLAS(t *testing.T) {
	gpu := newFakeGPU()
	m := NewManager(gpu, nil)
	cmd, _ := gpu.NewCmdBuffer()

	for _, name := range []string{"keep", "drop"} {
		if err := m.BuildMeshBLAS(cmd, name, testMeshEntry()); err != nil {
			t.Fatalf("mesh build %q failed: %v", name, err)
		}
	}
	if _, err := m.BuildCombinedTLAS(cmd, []scene.MeshInstance{
		scene.NewMeshInstance("keep", types.Vec3{}, scene.NewDiffuseMaterial(types.Vec3{1, 1, 1})),
	}); err != nil {
		t.Fatalf("top-level build failed: %v", err)
	}
	if m.GetTLAS() == nil {
		t.Fatal("expected a live top-level structure before eviction")
	}

	gpu.events = nil
	evicted := m.RemoveStaleMeshBLAS(map[string]struct{}{"keep": {}})
	if evicted != 1 {
		t.Fatalf("expected 1 eviction; got %d", evicted)
	}
	if !m.HasMeshBLAS("keep") || m.HasMeshBLAS("drop") {
		t.Fatal("expected only the valid entry to survive")
	}
	if m.GetTLAS() != nil {
		t.Fatal("expected top-level structure to be invalidated")
	}
	if gpu.events[0] != "destroy-tlas:combined-tlas" {
		t.Fatalf("expected top-level destroy before eviction; got %v", gpu.events)
	}

	// A valid set covering everything evicts nothing and keeps whatever
	// top level is live.
	if m.RemoveStaleMeshBLAS(map[string]struct{}{"keep": {}}) != 0 {
		t.Fatal("expected no evictions on second pass")
	}
}

func TestClearMeshBLAS(t *testing.T) {
	gpu := newFakeGPU()
	m := NewManager(gpu, nil)
	cmd, _ := gpu.NewCmdBuffer()

	if err := m.BuildMeshBLAS(cmd, "bunny", testMeshEntry()); err != nil {
		t.Fatalf("mesh build failed: %v", err)
	}
	if _, err := m.BuildCombinedTLAS(cmd, []scene.MeshInstance{
		scene.NewMeshInstance("bunny", types.Vec3{}, scene.NewDiffuseMaterial(types.Vec3{1, 1, 1})),
	}); err != nil {
		t.Fatalf("top-level build failed: %v", err)
	}

	m.ClearMeshBLAS()
	if m.HasMeshBLAS("bunny") {
		t.Fatal("expected mesh cache to be empty")
	}
	if m.GetTLAS() != nil {
		t.Fatal("expected top-level structure to be released")
	}
}

func TestCombinedTLASInstanceOrdering(t *testing.T) {
	gpu := newFakeGPU()
	m := NewManager(gpu, nil)
	cmd, _ := gpu.NewCmdBuffer()

	if err := m.BuildProceduralBLAS(cmd, mixedObjects()); err != nil {
		t.Fatalf("procedural build failed: %v", err)
	}
	if err := m.BuildMeshBLAS(cmd, "bunny", testMeshEntry()); err != nil {
		t.Fatalf("mesh build failed: %v", err)
	}

	mat := scene.NewDiffuseMaterial(types.Vec3{1, 1, 1})
	instances := []scene.MeshInstance{
		scene.NewMeshInstance("missing", types.Vec3{9, 9, 9}, mat),
		scene.NewMeshInstance("bunny", types.Vec3{1, 2, 3}, mat),
	}
	placed, err := m.BuildCombinedTLAS(cmd, instances)
	if err != nil {
		t.Fatalf("top-level build failed: %v", err)
	}
	if len(placed) != 1 || placed[0].MeshName != "bunny" {
		t.Fatalf("expected only the registered mesh to place; got %v", placed)
	}
	if gpu.lastTLASCount != 2 {
		t.Fatalf("expected 2 encoded instances; got %d", gpu.lastTLASCount)
	}

	proc, procAddr := driver.DecodeInstanceDesc(gpu.lastTLASData)
	if proc.InstanceID != 0 {
		t.Fatalf("expected procedural instance id 0; got %d", proc.InstanceID)
	}
	if proc.HitGroupOffset != layout.HitGroupOffsetProcedural {
		t.Fatalf("expected procedural hit group offset %d; got %d", layout.HitGroupOffsetProcedural, proc.HitGroupOffset)
	}
	wantIdentity := [12]float32{1, 0, 0, 0, 0, 1, 0, 0, 0, 0, 1, 0}
	if proc.Transform != wantIdentity {
		t.Fatalf("expected identity transform; got %v", proc.Transform)
	}
	if procAddr != m.procBLAS.Address() {
		t.Fatalf("expected procedural structure address %#x; got %#x", m.procBLAS.Address(), procAddr)
	}

	mesh, meshAddr := driver.DecodeInstanceDesc(gpu.lastTLASData[driver.InstanceDescSize:])
	if mesh.InstanceID != 0 {
		t.Fatalf("expected first mesh instance id 0; got %d", mesh.InstanceID)
	}
	if mesh.HitGroupOffset != layout.HitGroupOffsetMesh {
		t.Fatalf("expected mesh hit group offset %d; got %d", layout.HitGroupOffsetMesh, mesh.HitGroupOffset)
	}
	if meshAddr != m.GetMeshBLAS("bunny").Address() {
		t.Fatalf("expected mesh structure address %#x; got %#x", m.GetMeshBLAS("bunny").Address(), meshAddr)
	}
	// Translation lands in the last column of the row-major transform.
	if mesh.Transform[3] != 1 || mesh.Transform[7] != 2 || mesh.Transform[11] != 3 {
		t.Fatalf("expected translation (1, 2, 3); got transform %v", mesh.Transform)
	}
}

func TestCombinedTLASEmptyIsTerminal(t *testing.T) {
	gpu := newFakeGPU()
	m := NewManager(gpu, nil)
	cmd, _ := gpu.NewCmdBuffer()

	placed, err := m.BuildCombinedTLAS(cmd, []scene.MeshInstance{
		scene.NewMeshInstance("missing", types.Vec3{}, scene.NewDiffuseMaterial(types.Vec3{1, 1, 1})),
	})
	if err != nil {
		t.Fatalf("expected success; got %v", err)
	}
	if len(placed) != 0 {
		t.Fatalf("expected nothing placed; got %v", placed)
	}
	if m.GetTLAS() != nil {
		t.Fatal("expected no top-level structure")
	}
}

func TestBoundingVolumesStageToDeviceMemory(t *testing.T) {
	gpu := newFakeGPU()
	m := NewManager(gpu, nil)
	cmd, _ := gpu.NewCmdBuffer()

	if err := m.BuildProceduralBLAS(cmd, mixedObjects()); err != nil {
		t.Fatalf("build failed: %v", err)
	}

	staging := m.aabbStaging.(*fakeBuffer)
	device := m.aabbBuf.(*fakeBuffer)
	if staging.heap != driver.HeapUpload {
		t.Fatalf("expected host-visible staging buffer; got heap %d", staging.heap)
	}
	if device.heap != driver.HeapDevice {
		t.Fatalf("expected device-local bounding volume buffer; got heap %d", device.heap)
	}
	if gpu.lastBLASInput.AABBBuf != m.aabbBuf {
		t.Fatal("expected the build to read the device-local copy")
	}

	// The recorded copy moves the encoded volumes into device memory.
	volumes := make([]layout.PackedAABB, 4)
	if err := layout.Decode(device.data, &volumes); err != nil {
		t.Fatalf("decode device copy: %v", err)
	}
	// Slot 0 is the first sphere: center (0, 0, -5), radius 1.
	if volumes[0].MinX != -1 || volumes[0].MaxX != 1 || volumes[0].MinZ != -6 {
		t.Fatalf("unexpected first bounding volume: %+v", volumes[0])
	}
}

func TestScratchIsPerBuildKind(t *testing.T) {
	gpu := newFakeGPU()
	m := NewManager(gpu, nil)
	cmd, _ := gpu.NewCmdBuffer()

	if err := m.BuildProceduralBLAS(cmd, mixedObjects()); err != nil {
		t.Fatalf("procedural build failed: %v", err)
	}
	if err := m.BuildMeshBLAS(cmd, "bunny", testMeshEntry()); err != nil {
		t.Fatalf("mesh build failed: %v", err)
	}
	if _, err := m.BuildCombinedTLAS(cmd, []scene.MeshInstance{
		scene.NewMeshInstance("bunny", types.Vec3{}, scene.NewDiffuseMaterial(types.Vec3{1, 1, 1})),
	}); err != nil {
		t.Fatalf("top-level build failed: %v", err)
	}

	// Builds recorded into one command buffer must never share scratch:
	// they may all be in flight at once.
	if m.procScratch == nil || m.meshScratch == nil || m.tlasScratch == nil {
		t.Fatal("expected a scratch buffer per build kind")
	}
	if m.procScratch == m.meshScratch || m.procScratch == m.tlasScratch || m.meshScratch == m.tlasScratch {
		t.Fatal("expected distinct scratch buffers per build kind")
	}
}

func TestOutgrownScratchRetainedUntilSync(t *testing.T) {
	gpu := newFakeGPU()
	m := NewManager(gpu, nil)
	cmd, _ := gpu.NewCmdBuffer()

	if err := m.BuildMeshBLAS(cmd, "bunny", testMeshEntry()); err != nil {
		t.Fatalf("mesh build failed: %v", err)
	}
	small := m.meshScratch

	// A larger build recorded into the same frame outgrows the scratch.
	// The old buffer is still referenced by the earlier recorded build,
	// so it must survive until the device has drained.
	gpu.scratchSize = 2048
	gpu.events = nil
	if err := m.BuildMeshBLAS(cmd, "dragon", testMeshEntry()); err != nil {
		t.Fatalf("mesh build failed: %v", err)
	}
	if m.meshScratch == small {
		t.Fatal("expected scratch to be replaced by a larger buffer")
	}
	if m.meshScratch.Size() != 2048 {
		t.Fatalf("expected 2048 byte scratch; got %d", m.meshScratch.Size())
	}
	for _, ev := range gpu.events {
		if ev == "destroy-buf:accel-scratch-mesh" {
			t.Fatalf("outgrown scratch destroyed during recording; events %v", gpu.events)
		}
	}

	m.ReleaseRetiredScratch()
	found := false
	for _, ev := range gpu.events {
		if ev == "destroy-buf:accel-scratch-mesh" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected retired scratch to be destroyed after sync; events %v", gpu.events)
	}
}

func TestBuildMeshBLASFlagsDataDefects(t *testing.T) {
	gpu := newFakeGPU()
	m := NewManager(gpu, nil)
	cmd, _ := gpu.NewCmdBuffer()

	verts := []scene.MeshVertex{
		{Position: types.Vec4{0, 0, 0, 0}},
		{Position: types.Vec4{1, 0, 0, 0}},
		{Position: types.Vec4{0, 1, 0, 0}},
	}
	cases := []struct {
		name  string
		entry *scene.MeshCacheEntry
	}{
		{"nil entry", nil},
		{"no indices", scene.NewMeshCacheEntry(verts, nil)},
		{"not a triangle list", scene.NewMeshCacheEntry(verts, []uint32{0, 1, 2, 0})},
	}
	for _, tc := range cases {
		err := m.BuildMeshBLAS(cmd, "bad", tc.entry)
		if err == nil {
			t.Fatalf("%s: expected an error", tc.name)
		}
		if !errors.Is(err, ErrInvalidMeshData) {
			t.Fatalf("%s: expected a data defect; got %v", tc.name, err)
		}
	}
	if m.HasMeshBLAS("bad") {
		t.Fatal("expected no structure cached for rejected geometry")
	}

	// Allocation-class failures are not data defects.
	if err := m.BuildMeshBLAS(cmd, "", testMeshEntry()); errors.Is(err, ErrInvalidMeshData) {
		t.Fatalf("missing name misclassified as a data defect: %v", err)
	}
}
