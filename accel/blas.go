package accel

import (
	"fmt"

	"github.com/helios-render/helios/driver"
	"github.com/helios-render/helios/layout"
	"github.com/helios-render/helios/scene"
)

// BuildProceduralBLAS records a rebuild of the bottom-level structure
// covering every procedural shape in the scene. Objects are partitioned by
// kind so each type occupies a contiguous range of bounding-volume slots:
// spheres first, then planes, then boxes. The top-level structure is
// invalidated before the old bottom level is touched so no top level ever
// references a released structure.
//
// An empty object list is a valid terminal state: all procedural
// structures are released and no build is recorded.
func (m *Manager) BuildProceduralBLAS(cmd driver.CmdBuffer, objects []scene.Object) error {
	m.releaseTLAS()

	var spheres []layout.PackedSphere
	var planes []layout.PackedPlane
	var boxes []layout.PackedBox
	for i := range objects {
		obj := &objects[i]
		switch obj.Kind {
		case scene.SphereObject:
			spheres = append(spheres, layout.PackedSphere{
				CenterRadius: obj.Origin.Vec4(obj.Radius),
				Material:     packMaterial(obj.Material),
			})
		case scene.PlaneObject:
			planes = append(planes, layout.PackedPlane{
				NormalDist: obj.Normal.Vec4(obj.Normal.Dot(obj.Origin)),
				Anchor:     obj.Origin.Vec4(0),
				Material:   packMaterial(obj.Material),
			})
		case scene.BoxObject:
			boxes = append(boxes, layout.PackedBox{
				Center:   obj.Origin.Vec4(0),
				Axis0:    obj.Axis[0].Vec4(obj.HalfExtents[0]),
				Axis1:    obj.Axis[1].Vec4(obj.HalfExtents[1]),
				Axis2:    obj.Axis[2].Vec4(obj.HalfExtents[2]),
				Material: packMaterial(obj.Material),
			})
		}
	}

	m.sphereCount, m.planeCount, m.boxCount = len(spheres), len(planes), len(boxes)
	total := len(spheres) + len(planes) + len(boxes)
	if total == 0 {
		if m.procBLAS != nil {
			m.procBLAS.Destroy()
			m.procBLAS = nil
		}
		m.logger.Debug("procedural geometry empty; released bottom-level structure")
		return nil
	}

	// Bounding volumes and slot-to-shape records, in slot order.
	aabbs := make([]layout.PackedAABB, 0, total)
	info := make([]layout.PackedInstanceInfo, 0, total)
	appendShape := func(obj *scene.Object, tag, index uint32) error {
		bounds, err := ObjectBounds(obj)
		if err != nil {
			return err
		}
		aabbs = append(aabbs, layout.PackedAABB{
			MinX: bounds.Min[0], MinY: bounds.Min[1], MinZ: bounds.Min[2],
			MaxX: bounds.Max[0], MaxY: bounds.Max[1], MaxZ: bounds.Max[2],
		})
		info = append(info, layout.PackedInstanceInfo{Tag: tag, Index: index})
		return nil
	}
	for i := range objects {
		switch objects[i].Kind {
		case scene.SphereObject, scene.PlaneObject, scene.BoxObject:
		default:
			return fmt.Errorf("accel: unsupported object kind %d", objects[i].Kind)
		}
	}
	// Slot order is by type, not scene order.
	counters := [3]uint32{}
	for pass, wantKind := range []scene.ObjectKind{scene.SphereObject, scene.PlaneObject, scene.BoxObject} {
		tag := uint32(pass)
		for i := range objects {
			obj := &objects[i]
			if obj.Kind != wantKind {
				continue
			}
			if err := appendShape(obj, tag, counters[tag]); err != nil {
				return err
			}
			counters[tag]++
		}
	}

	var err error
	if len(spheres) > 0 {
		data := layout.Encode(spheres)
		if m.sphereBuf, err = m.ensureUpload(m.sphereBuf, "accel-spheres", len(data), data); err != nil {
			return err
		}
	}
	if len(planes) > 0 {
		data := layout.Encode(planes)
		if m.planeBuf, err = m.ensureUpload(m.planeBuf, "accel-planes", len(data), data); err != nil {
			return err
		}
	}
	if len(boxes) > 0 {
		data := layout.Encode(boxes)
		if m.boxBuf, err = m.ensureUpload(m.boxBuf, "accel-boxes", len(data), data); err != nil {
			return err
		}
	}
	infoData := layout.Encode(info)
	if m.infoBuf, err = m.ensureUpload(m.infoBuf, "accel-instance-info", len(infoData), infoData); err != nil {
		return err
	}
	// Bounding volumes go to device-local memory through a staging
	// buffer; the build reads the device copy.
	aabbData := layout.Encode(aabbs)
	if m.aabbStaging, err = m.ensureUpload(m.aabbStaging, "accel-aabb-staging", len(aabbData), aabbData); err != nil {
		return err
	}
	if m.aabbBuf, err = m.ensureDevice(m.aabbBuf, "accel-aabbs", len(aabbData)); err != nil {
		return err
	}
	m.tracker.Transition(cmd, m.aabbBuf, driver.StateCopyDst)
	cmd.CopyBuffer(driver.BufferCopy{From: m.aabbStaging, To: m.aabbBuf, Size: len(aabbData)})

	input := driver.AccelInput{
		Kind:       driver.GeometryAABBs,
		Flags:      driver.BuildPreferFastTrace,
		AABBBuf:    m.aabbBuf,
		AABBCount:  total,
		AABBStride: layout.PackedAABBStride,
	}
	sizes, err := m.gpu.AccelSizes(input)
	if err != nil {
		return fmt.Errorf("accel: size procedural structure: %v", err)
	}
	scratch, err := m.ensureScratch(&m.procScratch, "accel-scratch-proc", sizes.Scratch)
	if err != nil {
		return err
	}

	if m.procBLAS != nil {
		m.procBLAS.Destroy()
	}
	m.procBLAS, err = m.gpu.NewBLAS("procedural-blas", sizes.Result)
	if err != nil {
		return fmt.Errorf("accel: allocate procedural structure: %v", err)
	}

	m.tracker.Transition(cmd, m.aabbBuf, driver.StateAccelBuild)
	cmd.BuildBLAS(m.procBLAS, input, scratch)
	m.tracker.FlushWrite(cmd, m.procBLAS)

	m.logger.Debugf("recorded procedural build: %d spheres, %d planes, %d boxes", len(spheres), len(planes), len(boxes))
	return nil
}

func packMaterial(mat scene.Material) layout.PackedMaterial {
	return layout.NewPackedMaterial(mat.Albedo, mat.Roughness, mat.Emissive, mat.Metallic)
}
