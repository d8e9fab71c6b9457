package accel

import (
	"errors"
	"fmt"

	"github.com/helios-render/helios/driver"
	"github.com/helios-render/helios/layout"
	"github.com/helios-render/helios/scene"
)

// ErrInvalidMeshData marks cache entries whose geometry cannot be built
// into a structure. It is a per-mesh data defect: callers skip the mesh
// and keep the frame alive instead of aborting, unlike allocation or
// capability failures.
var ErrInvalidMeshData = errors.New("invalid mesh geometry")

// BuildMeshBLAS records a build for the named mesh and caches the result.
// Rebuilding an existing name invalidates the top level first and then
// replaces the cached structure. Geometry buffers stay owned by the cache
// entry for the structure's lifetime.
func (m *Manager) BuildMeshBLAS(cmd driver.CmdBuffer, name string, entry *scene.MeshCacheEntry) error {
	if name == "" {
		return fmt.Errorf("accel: mesh structure requires a name")
	}
	if entry == nil || len(entry.Vertices) == 0 || len(entry.Indices) < 3 {
		return fmt.Errorf("accel: mesh %q has no buildable geometry: %w", name, ErrInvalidMeshData)
	}
	if len(entry.Indices)%3 != 0 {
		return fmt.Errorf("accel: mesh %q index count %d is not a triangle list: %w", name, len(entry.Indices), ErrInvalidMeshData)
	}

	if old, ok := m.meshBLAS[name]; ok {
		m.releaseTLAS()
		old.release()
		delete(m.meshBLAS, name)
	}

	vtxData := layout.Encode(entry.Vertices)
	idxData := layout.Encode(entry.Indices)
	vertexBuf, err := m.gpu.NewBuffer("mesh-vtx-"+name, len(vtxData), driver.HeapUpload, driver.StateCommon)
	if err != nil {
		return fmt.Errorf("accel: allocate vertices for mesh %q: %v", name, err)
	}
	if err := vertexBuf.Write(vtxData, 0); err != nil {
		vertexBuf.Destroy()
		return fmt.Errorf("accel: upload vertices for mesh %q: %v", name, err)
	}
	indexBuf, err := m.gpu.NewBuffer("mesh-idx-"+name, len(idxData), driver.HeapUpload, driver.StateCommon)
	if err != nil {
		vertexBuf.Destroy()
		return fmt.Errorf("accel: allocate indices for mesh %q: %v", name, err)
	}
	if err := indexBuf.Write(idxData, 0); err != nil {
		vertexBuf.Destroy()
		indexBuf.Destroy()
		return fmt.Errorf("accel: upload indices for mesh %q: %v", name, err)
	}

	input := driver.AccelInput{
		Kind:         driver.GeometryTriangles,
		Flags:        driver.BuildPreferFastTrace | driver.BuildOpaque,
		VertexBuf:    vertexBuf,
		VertexCount:  len(entry.Vertices),
		VertexStride: scene.MeshVertexStride,
		IndexBuf:     indexBuf,
		IndexCount:   len(entry.Indices),
	}
	sizes, err := m.gpu.AccelSizes(input)
	if err != nil {
		vertexBuf.Destroy()
		indexBuf.Destroy()
		return fmt.Errorf("accel: size mesh %q: %v", name, err)
	}
	scratch, err := m.ensureScratch(&m.meshScratch, "accel-scratch-mesh", sizes.Scratch)
	if err != nil {
		vertexBuf.Destroy()
		indexBuf.Destroy()
		return err
	}
	blas, err := m.gpu.NewBLAS("mesh-blas-"+name, sizes.Result)
	if err != nil {
		vertexBuf.Destroy()
		indexBuf.Destroy()
		return fmt.Errorf("accel: allocate mesh %q: %v", name, err)
	}

	m.tracker.Transition(cmd, vertexBuf, driver.StateAccelBuild)
	m.tracker.Transition(cmd, indexBuf, driver.StateAccelBuild)
	cmd.BuildBLAS(blas, input, scratch)
	m.tracker.FlushWrite(cmd, blas)

	m.meshBLAS[name] = &meshEntry{
		blas:      blas,
		triCount:  len(entry.Indices) / 3,
		vertexBuf: vertexBuf,
		indexBuf:  indexBuf,
	}
	m.logger.Debugf("recorded mesh build %q: %d triangles", name, len(entry.Indices)/3)
	return nil
}

// HasMeshBLAS reports whether a structure is cached under name.
func (m *Manager) HasMeshBLAS(name string) bool {
	_, ok := m.meshBLAS[name]
	return ok
}

// GetMeshBLAS returns the cached structure for name, or nil.
func (m *Manager) GetMeshBLAS(name string) driver.BLAS {
	entry, ok := m.meshBLAS[name]
	if !ok {
		return nil
	}
	return entry.blas
}

// RemoveStaleMeshBLAS evicts every cached mesh structure whose name is not
// in the valid set. When anything is evicted the top level is invalidated
// first, before any bottom level is released.
func (m *Manager) RemoveStaleMeshBLAS(valid map[string]struct{}) int {
	var stale []string
	for name := range m.meshBLAS {
		if _, ok := valid[name]; !ok {
			stale = append(stale, name)
		}
	}
	if len(stale) == 0 {
		return 0
	}

	m.releaseTLAS()
	for _, name := range stale {
		m.meshBLAS[name].release()
		delete(m.meshBLAS, name)
		m.logger.Debugf("evicted stale mesh structure %q", name)
	}
	return len(stale)
}

// ClearMeshBLAS evicts the whole mesh cache. Top level first, as above.
func (m *Manager) ClearMeshBLAS() {
	if len(m.meshBLAS) == 0 {
		return
	}
	m.releaseTLAS()
	for name, entry := range m.meshBLAS {
		entry.release()
		delete(m.meshBLAS, name)
	}
}
