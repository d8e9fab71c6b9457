package driver

// GPU is the main interface to a device implementation. It creates resources
// and executes recorded command buffers. Command execution is asynchronous
// relative to recording: a recorded build or dispatch only starts executing
// at Submit, and only WaitIdle guarantees completion.
type GPU interface {
	// Driver returns the Driver that owns the GPU.
	Driver() Driver

	// Features returns the static device capabilities. They are
	// immutable for the lifetime of the GPU.
	Features() Features

	// NewBuffer allocates a buffer on the given heap, declared to be
	// in the given initial state.
	NewBuffer(name string, size int, heap Heap, initial State) (Buffer, error)

	// NewImage allocates a 2D image on the device heap. Row pitch is
	// implementation-defined and may exceed width*pixel size.
	NewImage(name string, width, height int, format PixelFmt, initial State) (Image, error)

	// NewCmdBuffer creates a new command buffer.
	NewCmdBuffer() (CmdBuffer, error)

	// NewComputePipeline creates a compute pipeline from shader bytecode.
	NewComputePipeline(desc ComputeDesc) (Pipeline, error)

	// NewRTPipeline creates a ray tracing pipeline. Fails with
	// ErrNoRayTracing on devices without hardware ray tracing.
	NewRTPipeline(desc RTDesc) (Pipeline, error)

	// AccelSizes reports the result and scratch memory required to
	// build a bottom-level structure over the given geometry. Callers
	// must request sizing before allocating result/scratch buffers.
	AccelSizes(input AccelInput) (AccelSizes, error)

	// TLASSizes reports the result and scratch memory required to
	// build a top-level structure over instanceCount instances.
	TLASSizes(instanceCount int) (AccelSizes, error)

	// NewBLAS allocates an empty bottom-level structure of the given
	// result size. The structure content is undefined until a recorded
	// BuildBLAS targeting it completes on the GPU.
	NewBLAS(name string, size int) (BLAS, error)

	// NewTLAS allocates an empty top-level structure of the given
	// result size.
	NewTLAS(name string, size int) (TLAS, error)

	// Submit hands a recorded command buffer to the device queue for
	// execution. The command buffer cannot be re-recorded until the
	// work completes.
	Submit(cb CmdBuffer) error

	// WaitIdle blocks until all submitted work has completed. This is
	// the only full synchronization point the driver offers.
	WaitIdle() error

	// Destroy releases the device and everything it still owns.
	Destroy()
}

// Destroyer is the interface that wraps the Destroy method. Types that
// implement it hold memory outside the Go heap and must be released
// explicitly.
type Destroyer interface {
	Destroy()
}

// Resource is implemented by every GPU-visible object that participates in
// state transitions.
type Resource interface {
	Name() string
}

// Buffer is a linear allocation on one of the device heaps. Write and Read
// are only legal on host-visible heaps (upload and readback respectively).
type Buffer interface {
	Resource
	Destroyer

	// Size returns the allocated size in bytes.
	Size() int

	// Heap returns the heap the buffer lives on.
	Heap() Heap

	// Write copies host data into the buffer at the given byte offset.
	// Only legal on HeapUpload buffers.
	Write(data []byte, offset int) error

	// Read copies buffer content into the host slice starting at the
	// given byte offset. Only legal on HeapReadback buffers.
	Read(dst []byte, offset int) error
}

// Image is a 2D texture-like resource on the device heap.
type Image interface {
	Resource
	Destroyer

	Width() int
	Height() int
	Format() PixelFmt

	// RowPitch returns the aligned byte stride between image rows as
	// laid out in device memory and in buffer copies.
	RowPitch() int
}

// BLAS is a bottom-level acceleration structure handle.
type BLAS interface {
	Resource
	Destroyer

	// Address returns the device address used to reference this
	// structure from a top-level instance record.
	Address() uint64

	// Size returns the structure result size in bytes.
	Size() int
}

// TLAS is a top-level acceleration structure handle.
type TLAS interface {
	Resource
	Destroyer

	// Size returns the structure result size in bytes.
	Size() int
}

// Pipeline is a compiled compute or ray tracing pipeline.
type Pipeline interface {
	Resource
	Destroyer
}

// CmdBuffer records device commands for later execution. Recording starts
// with Begin and finishes with End; the buffer is then handed to GPU.Submit.
type CmdBuffer interface {
	Destroyer

	// Begin prepares the command buffer for recording.
	Begin() error

	// CopyBuffer copies a byte range between buffers.
	CopyBuffer(param BufferCopy)

	// CopyImageToBuffer copies a whole image into a buffer using the
	// image's row pitch for each destination row.
	CopyImageToBuffer(img Image, buf Buffer)

	// Barrier inserts resource state transitions. A barrier with equal
	// before/after states still orders prior writes against later
	// reads of the resource.
	Barrier(b []Barrier)

	// BuildBLAS records a bottom-level structure build. The scratch
	// buffer must stay alive until the build completes on the GPU.
	BuildBLAS(dst BLAS, input AccelInput, scratch Buffer)

	// BuildTLAS records a top-level structure build over count encoded
	// instance records (see EncodeInstanceDescs) read from instances.
	BuildTLAS(dst TLAS, instances Buffer, count int, scratch Buffer)

	// SetPipeline sets the active pipeline for subsequent dispatches.
	SetPipeline(p Pipeline)

	// SetBuffer binds a buffer to a shader-visible slot.
	SetBuffer(slot int, buf Buffer)

	// SetImage binds an image to a shader-visible slot.
	SetImage(slot int, img Image)

	// SetTLAS binds a top-level structure to a shader-visible slot.
	SetTLAS(slot int, t TLAS)

	// Dispatch dispatches compute thread groups.
	Dispatch(x, y, z int)

	// DispatchRays dispatches one ray-generation invocation per pixel
	// of a width x height grid.
	DispatchRays(width, height int)

	// End finishes recording.
	End() error
}

// BufferCopy describes the parameters of a buffer-to-buffer copy.
type BufferCopy struct {
	From    Buffer
	FromOff int
	To      Buffer
	ToOff   int
	Size    int
}

// Heap selects the memory class a buffer is allocated from.
type Heap uint8

const (
	// Device-local memory; not host-visible.
	HeapDevice Heap = iota

	// Host-visible upload memory for CPU to GPU transfers.
	HeapUpload

	// Host-visible readback memory for GPU to CPU transfers.
	HeapReadback
)

func (h Heap) String() string {
	switch h {
	case HeapDevice:
		return "device"
	case HeapUpload:
		return "upload"
	case HeapReadback:
		return "readback"
	}
	return "unknown"
}

// State is the GPU execution state a resource is in. Transitions between
// states require a barrier.
type State uint8

const (
	StateCommon State = iota
	StateCopySrc
	StateCopyDst
	StateShaderRead
	StateUnorderedAccess
	StateAccelBuild
	StateAccelRead
)

func (s State) String() string {
	switch s {
	case StateCommon:
		return "common"
	case StateCopySrc:
		return "copy-src"
	case StateCopyDst:
		return "copy-dst"
	case StateShaderRead:
		return "shader-read"
	case StateUnorderedAccess:
		return "unordered-access"
	case StateAccelBuild:
		return "accel-build"
	case StateAccelRead:
		return "accel-read"
	}
	return "unknown"
}

// Barrier represents a single resource state transition.
type Barrier struct {
	Resource Resource
	Before   State
	After    State
}

// PixelFmt selects an image pixel format.
type PixelFmt uint8

const (
	FormatRGBA8Unorm PixelFmt = iota
	FormatRGBA32Float
	FormatRG32Float
	FormatR32Float
)

// PixelSize returns the byte size of one pixel.
func (f PixelFmt) PixelSize() int {
	switch f {
	case FormatRGBA8Unorm:
		return 4
	case FormatRGBA32Float:
		return 16
	case FormatRG32Float:
		return 8
	case FormatR32Float:
		return 4
	}
	return 0
}

// Features describes static device capabilities.
type Features struct {
	// Device display name.
	DeviceName string

	// True when the device supports hardware ray tracing at the
	// minimum required tier.
	RayTracing bool

	// Hardware ray tracing tier; 0 when unsupported.
	RayTracingTier int
}

// BuildFlags bias acceleration structure builds.
type BuildFlags uint8

const (
	// Bias the build toward fastest possible tracing.
	BuildPreferFastTrace BuildFlags = 1 << iota

	// Mark all geometry opaque, skipping any-hit shading.
	BuildOpaque
)

// GeometryKind selects the geometry class of a BLAS build.
type GeometryKind uint8

const (
	// Procedural axis-aligned bounding boxes intersected by a custom
	// intersection shader.
	GeometryAABBs GeometryKind = iota

	// Opaque triangle geometry using fixed-function intersection.
	GeometryTriangles
)

// AccelInput describes the geometry a bottom-level structure is built over.
// Exactly one of the AABB or triangle field groups is meaningful, selected
// by Kind.
type AccelInput struct {
	Kind  GeometryKind
	Flags BuildFlags

	// Procedural input: Count AABBs of 6 float32 each, read from
	// AABBBuf at the given stride.
	AABBBuf    Buffer
	AABBCount  int
	AABBStride int

	// Triangle input: interleaved vertices with a float3 position at
	// offset 0 of each stride, plus a uint32 index list.
	VertexBuf    Buffer
	VertexCount  int
	VertexStride int
	IndexBuf     Buffer
	IndexCount   int
}

// AccelSizes reports prebuild sizing for an acceleration structure.
type AccelSizes struct {
	// Result is the size of the structure buffer itself.
	Result int

	// Scratch is the transient memory required during the build. The
	// scratch allocation must outlive the asynchronous build; it is
	// valid to release only after the next full-device synchronization
	// point following the build that used it.
	Scratch int
}
