package accel

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/helios-render/helios/driver"
	"github.com/helios-render/helios/layout"
	"github.com/helios-render/helios/scene"
)

// BuildCombinedTLAS records a rebuild of the top-level structure covering
// the procedural bottom level plus one instance per placed mesh.
//
// Instance ordering is part of the shading contract: when procedural
// geometry exists it is always instance 0, with identity transform,
// instance identifier 0 and the procedural hit-group offset. Mesh
// instances follow in input order with sequential identifiers starting at
// 0 within the triangle hit group, so the identifier doubles as an index
// into the per-instance material table. An instance naming a mesh with no
// cached structure is logged and skipped; it does not consume an
// identifier and does not fail the build.
//
// The returned slice lists the mesh instances actually placed, in
// identifier order. Callers use it to upload per-instance shading data.
//
// An empty instance set (no procedural structure and no placeable mesh)
// releases the top level and records nothing; GetTLAS then returns nil.
func (m *Manager) BuildCombinedTLAS(cmd driver.CmdBuffer, instances []scene.MeshInstance) ([]scene.MeshInstance, error) {
	descs := make([]driver.InstanceDesc, 0, len(instances)+1)
	if m.procBLAS != nil {
		descs = append(descs, driver.InstanceDesc{
			Transform:      identityTransform(),
			InstanceID:     0,
			Mask:           layout.MaskAll,
			HitGroupOffset: layout.HitGroupOffsetProcedural,
			BLAS:           m.procBLAS,
		})
	}

	placed := make([]scene.MeshInstance, 0, len(instances))
	nextID := uint32(0)
	for i := range instances {
		inst := &instances[i]
		entry, ok := m.meshBLAS[inst.MeshName]
		if !ok {
			m.logger.Warningf("mesh instance references unregistered mesh %q; skipping", inst.MeshName)
			continue
		}
		descs = append(descs, driver.InstanceDesc{
			Transform:      InstanceTransform(inst),
			InstanceID:     nextID,
			Mask:           layout.MaskAll,
			HitGroupOffset: layout.HitGroupOffsetMesh,
			BLAS:           entry.blas,
		})
		placed = append(placed, *inst)
		nextID++
	}

	m.releaseTLAS()
	if len(descs) == 0 {
		m.logger.Debug("no instances to place; released top-level structure")
		return placed, nil
	}

	data := driver.EncodeInstanceDescs(descs)
	var err error
	if m.instanceBuf, err = m.ensureUpload(m.instanceBuf, "accel-instances", len(data), data); err != nil {
		return nil, err
	}

	sizes, err := m.gpu.TLASSizes(len(descs))
	if err != nil {
		return nil, fmt.Errorf("accel: size top-level structure: %v", err)
	}
	scratch, err := m.ensureScratch(&m.tlasScratch, "accel-scratch-tlas", sizes.Scratch)
	if err != nil {
		return nil, err
	}
	tlas, err := m.gpu.NewTLAS("combined-tlas", sizes.Result)
	if err != nil {
		return nil, fmt.Errorf("accel: allocate top-level structure: %v", err)
	}

	m.tracker.Transition(cmd, m.instanceBuf, driver.StateAccelBuild)
	cmd.BuildTLAS(tlas, m.instanceBuf, len(descs), scratch)
	m.tracker.FlushWrite(cmd, tlas)

	m.tlas = tlas
	m.instanceCount = len(descs)
	m.logger.Debugf("recorded top-level build: %d instances (%d mesh)", len(descs), len(placed))
	return placed, nil
}

// InstanceTransform is the world transform of a mesh instance as a
// row-major 3x4 matrix: translate, then rotate, then scale. Rotation
// applies the Euler angles in intrinsic roll-pitch-yaw order. Shared with
// the compute fallback, which flattens geometry with the same placement.
func InstanceTransform(inst *scene.MeshInstance) [12]float32 {
	rot := mgl32.HomogRotate3DY(mgl32.DegToRad(inst.Rotation[1])).
		Mul4(mgl32.HomogRotate3DX(mgl32.DegToRad(inst.Rotation[0]))).
		Mul4(mgl32.HomogRotate3DZ(mgl32.DegToRad(inst.Rotation[2])))
	world := mgl32.Translate3D(inst.Position[0], inst.Position[1], inst.Position[2]).
		Mul4(rot).
		Mul4(mgl32.Scale3D(inst.Scale[0], inst.Scale[1], inst.Scale[2]))

	var t [12]float32
	for r := 0; r < 3; r++ {
		for c := 0; c < 4; c++ {
			t[r*4+c] = world.At(r, c)
		}
	}
	return t
}

func identityTransform() [12]float32 {
	var t [12]float32
	t[0], t[5], t[10] = 1, 1, 1
	return t
}
