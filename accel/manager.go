package accel

import (
	"fmt"

	"github.com/helios-render/helios/driver"
	"github.com/helios-render/helios/log"
)

// Manager owns every acceleration structure of a renderer instance and the
// upload memory feeding their builds. It is not safe for concurrent use;
// the renderer drives it from its frame loop.
type Manager struct {
	gpu     driver.GPU
	logger  log.Logger
	tracker *driver.StateTracker

	// Procedural geometry state.
	procBLAS    driver.BLAS
	sphereCount int
	planeCount  int
	boxCount    int

	// Shape tables uploaded alongside the procedural build; the renderer
	// binds these for shading lookups.
	sphereBuf driver.Buffer
	planeBuf  driver.Buffer
	boxBuf    driver.Buffer
	infoBuf   driver.Buffer

	// Bounding volumes stage through host-visible memory into the
	// device-local buffer the build reads.
	aabbStaging driver.Buffer
	aabbBuf     driver.Buffer

	// Mesh structure cache, keyed by mesh name.
	meshBLAS map[string]*meshEntry

	// Combined top-level structure.
	tlas          driver.TLAS
	instanceCount int
	instanceBuf   driver.Buffer

	// Build scratch, one buffer per build kind so the procedural, mesh
	// and top-level builds recorded into one frame never share scratch
	// memory. Grown on demand; an outgrown buffer is parked on the
	// retired list instead of destroyed, because builds recorded earlier
	// in the frame still reference it until the next full-device sync.
	procScratch driver.Buffer
	meshScratch driver.Buffer
	tlasScratch driver.Buffer
	retired     []driver.Buffer
}

type meshEntry struct {
	blas      driver.BLAS
	triCount  int
	vertexBuf driver.Buffer
	indexBuf  driver.Buffer
}

func NewManager(gpu driver.GPU, logger log.Logger) *Manager {
	if logger == nil {
		logger = log.Nop()
	}
	return &Manager{
		gpu:      gpu,
		logger:   logger,
		tracker:  driver.NewStateTracker(),
		meshBLAS: make(map[string]*meshEntry),
	}
}

// The live top-level structure, or nil when nothing has been built or
// every structure has been invalidated.
func (m *Manager) GetTLAS() driver.TLAS {
	return m.tlas
}

// Number of instances in the live top-level structure.
func (m *Manager) InstanceCount() int {
	if m.tlas == nil {
		return 0
	}
	return m.instanceCount
}

// Shape counts captured by the last procedural build.
func (m *Manager) Counts() (spheres, planes, boxes int) {
	return m.sphereCount, m.planeCount, m.boxCount
}

// Shape table accessors for shading-time binds. Nil until the first
// procedural build uploads them.
func (m *Manager) SphereBuf() driver.Buffer       { return m.sphereBuf }
func (m *Manager) PlaneBuf() driver.Buffer        { return m.planeBuf }
func (m *Manager) BoxBuf() driver.Buffer          { return m.boxBuf }
func (m *Manager) InstanceInfoBuf() driver.Buffer { return m.infoBuf }

// Release destroys every structure and buffer the manager owns. The top
// level goes first so no released bottom level is ever referenced.
func (m *Manager) Release() {
	m.releaseTLAS()
	if m.procBLAS != nil {
		m.procBLAS.Destroy()
		m.procBLAS = nil
	}
	for name, entry := range m.meshBLAS {
		entry.release()
		delete(m.meshBLAS, name)
	}
	m.ReleaseRetiredScratch()
	for _, buf := range []driver.Buffer{
		m.sphereBuf, m.planeBuf, m.boxBuf, m.infoBuf,
		m.aabbStaging, m.aabbBuf, m.instanceBuf,
		m.procScratch, m.meshScratch, m.tlasScratch,
	} {
		if buf != nil {
			buf.Destroy()
		}
	}
	m.sphereBuf, m.planeBuf, m.boxBuf, m.infoBuf = nil, nil, nil, nil
	m.aabbStaging, m.aabbBuf, m.instanceBuf = nil, nil, nil
	m.procScratch, m.meshScratch, m.tlasScratch = nil, nil, nil
}

func (m *Manager) releaseTLAS() {
	if m.tlas == nil {
		return
	}
	m.tlas.Destroy()
	m.tlas = nil
	m.instanceCount = 0
}

func (e *meshEntry) release() {
	if e.blas != nil {
		e.blas.Destroy()
	}
	if e.vertexBuf != nil {
		e.vertexBuf.Destroy()
	}
	if e.indexBuf != nil {
		e.indexBuf.Destroy()
	}
}

// Grow-only upload helper: reuse the buffer when it still fits, otherwise
// release and reallocate. Returns the buffer to store back.
func (m *Manager) ensureUpload(buf driver.Buffer, name string, size int, data []byte) (driver.Buffer, error) {
	if buf == nil || buf.Size() < size {
		if buf != nil {
			buf.Destroy()
		}
		var err error
		buf, err = m.gpu.NewBuffer(name, size, driver.HeapUpload, driver.StateCommon)
		if err != nil {
			return nil, fmt.Errorf("accel: allocate %s (%d bytes): %v", name, size, err)
		}
	}
	if data != nil {
		if err := buf.Write(data, 0); err != nil {
			return nil, fmt.Errorf("accel: upload %s: %v", name, err)
		}
	}
	return buf, nil
}

// Grow-only device-local buffer helper for build inputs copied up from
// staging memory.
func (m *Manager) ensureDevice(buf driver.Buffer, name string, size int) (driver.Buffer, error) {
	if buf != nil && buf.Size() >= size {
		return buf, nil
	}
	if buf != nil {
		m.tracker.Forget(buf)
		buf.Destroy()
	}
	buf, err := m.gpu.NewBuffer(name, size, driver.HeapDevice, driver.StateCopyDst)
	if err != nil {
		return nil, fmt.Errorf("accel: allocate %s (%d bytes): %v", name, size, err)
	}
	m.tracker.Track(buf, driver.StateCopyDst)
	return buf, nil
}

// Scratch memory for a recorded build. Grown on demand, never shrunk. An
// outgrown buffer cannot be destroyed here: builds recorded earlier in
// the same frame still reference it, and the build itself is asynchronous
// relative to recording. It is retired instead and released by
// ReleaseRetiredScratch after the next full-device sync.
func (m *Manager) ensureScratch(slot *driver.Buffer, name string, size int) (driver.Buffer, error) {
	if *slot != nil && (*slot).Size() >= size {
		return *slot, nil
	}
	if *slot != nil {
		m.retired = append(m.retired, *slot)
		*slot = nil
	}
	buf, err := m.gpu.NewBuffer(name, size, driver.HeapDevice, driver.StateUnorderedAccess)
	if err != nil {
		return nil, fmt.Errorf("accel: allocate %s (%d bytes): %v", name, size, err)
	}
	*slot = buf
	return buf, nil
}

// ReleaseRetiredScratch destroys scratch buffers outgrown during
// recording. Only legal after a full-device synchronization point, when
// no recorded build can still reference them; the renderer calls it once
// its frame submission has drained.
func (m *Manager) ReleaseRetiredScratch() {
	for _, buf := range m.retired {
		buf.Destroy()
	}
	m.retired = nil
}
