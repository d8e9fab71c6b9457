package renderer

import (
	"errors"

	"github.com/helios-render/helios/accel"
	"github.com/helios-render/helios/driver"
	"github.com/helios-render/helios/layout"
	"github.com/helios-render/helios/scene"
)

// The ray-traced path. Acceleration structures rebuild only when scene
// counts changed since the previous frame or when the caller marked the
// scene dirty; everything else reuses the live structures.
func (r *deviceRenderer) recordHardware(cmd driver.CmdBuffer) (bool, error) {
	rebuilt := false
	if r.needsRebuild() {
		if err := r.rebuildAccel(cmd); err != nil {
			return false, err
		}
		rebuilt = true
	}

	spheres, planes, boxes := r.accel.Counts()
	counts := shapeCounts{spheres: spheres, planes: planes, boxes: boxes}
	if err := r.recordCommon(cmd, counts); err != nil {
		return rebuilt, err
	}

	if tlas := r.accel.GetTLAS(); tlas != nil {
		cmd.SetTLAS(layout.SlotTLAS, tlas)
	}
	if buf := r.accel.SphereBuf(); buf != nil && spheres > 0 {
		cmd.SetBuffer(layout.SlotSpheres, buf)
	}
	if buf := r.accel.PlaneBuf(); buf != nil && planes > 0 {
		cmd.SetBuffer(layout.SlotPlanes, buf)
	}
	if buf := r.accel.BoxBuf(); buf != nil && boxes > 0 {
		cmd.SetBuffer(layout.SlotBoxes, buf)
	}
	if buf := r.accel.InstanceInfoBuf(); buf != nil && spheres+planes+boxes > 0 {
		cmd.SetBuffer(layout.SlotInstanceInfo, buf)
	}
	if r.meshMatBuf != nil {
		cmd.SetBuffer(layout.SlotMeshMaterials, r.meshMatBuf)
	}

	cmd.SetImage(layout.SlotGBufferNormal, r.gbNormal)
	cmd.SetImage(layout.SlotGBufferDepth, r.gbDepth)
	cmd.SetImage(layout.SlotGBufferMotion, r.gbMotion)
	cmd.SetImage(layout.SlotHistoryDiffuse, r.histDiffuse)
	cmd.SetImage(layout.SlotHistorySpecular, r.histSpecular)

	cmd.SetPipeline(r.rtPipeline)
	cmd.DispatchRays(r.width, r.height)

	if r.scene.Settings.DenoiserEnabled {
		r.denoiser.Record(cmd, r.width, r.height)
	}
	return rebuilt, nil
}

func (r *deviceRenderer) needsRebuild() bool {
	return r.dirty ||
		r.lastObjects != len(r.scene.Objects) ||
		r.lastInstances != len(r.scene.MeshInstances) ||
		r.lastMeshes != len(r.scene.MeshCache)
}

// Full structure refresh: evict stale mesh structures, build missing ones,
// rebuild the procedural bottom level and place the combined top level.
// Per-instance shading data is uploaded for exactly the instances placed.
func (r *deviceRenderer) rebuildAccel(cmd driver.CmdBuffer) error {
	evicted := r.accel.RemoveStaleMeshBLAS(r.scene.ValidMeshNames())
	if evicted > 0 {
		r.logger.Debugf("evicted %d stale mesh structures", evicted)
	}

	for name, entry := range r.scene.MeshCache {
		if r.accel.HasMeshBLAS(name) {
			continue
		}
		if err := r.accel.BuildMeshBLAS(cmd, name, entry); err != nil {
			// A data defect in one mesh is recovered locally: its
			// instances place nothing. Allocation and capability
			// failures still abort the frame.
			if errors.Is(err, accel.ErrInvalidMeshData) {
				r.logger.Warningf("skipping mesh %q: %v", name, err)
				continue
			}
			return err
		}
	}

	if err := r.accel.BuildProceduralBLAS(cmd, r.scene.Objects); err != nil {
		return err
	}
	placed, err := r.accel.BuildCombinedTLAS(cmd, r.scene.MeshInstances)
	if err != nil {
		return err
	}

	// Mesh material table, indexed by instance identifier within the
	// triangle hit group.
	mats := make([]layout.PackedMaterial, len(placed))
	for i := range placed {
		mats[i] = packInstanceMaterial(&placed[i])
	}
	if len(mats) == 0 {
		// Keep the binding valid when no mesh is placed.
		mats = make([]layout.PackedMaterial, 1)
	}
	data := layout.Encode(mats)
	if r.meshMatBuf, err = r.ensureUpload(r.meshMatBuf, "mesh-materials", data); err != nil {
		return err
	}

	r.lastObjects = len(r.scene.Objects)
	r.lastInstances = len(r.scene.MeshInstances)
	r.lastMeshes = len(r.scene.MeshCache)
	r.dirty = false
	return nil
}

func packInstanceMaterial(inst *scene.MeshInstance) layout.PackedMaterial {
	m := inst.Material
	return layout.NewPackedMaterial(m.Albedo, m.Roughness, m.Emissive, m.Metallic)
}
