package renderer

import (
	"github.com/go-gl/mathgl/mgl32"

	"github.com/helios-render/helios/accel"
	"github.com/helios-render/helios/driver"
	"github.com/helios-render/helios/layout"
	"github.com/helios-render/helios/scene"
	"github.com/helios-render/helios/types"
)

// The compute fallback. No acceleration structures exist on this path;
// the scene is flattened into typed shape tables and a world-space
// triangle list every frame, and a brute-force kernel tests each shape
// per pixel. Planes are unbounded here, unlike the ray-traced path where
// they are clipped to proxy volumes.
func (r *deviceRenderer) recordFallback(cmd driver.CmdBuffer) error {
	var sphereTable []layout.PackedSphere
	var planeTable []layout.PackedPlane
	var boxTable []layout.PackedBox
	var info []layout.PackedInstanceInfo

	for i := range r.scene.Objects {
		obj := &r.scene.Objects[i]
		mat := layout.NewPackedMaterial(obj.Material.Albedo, obj.Material.Roughness, obj.Material.Emissive, obj.Material.Metallic)
		switch obj.Kind {
		case scene.SphereObject:
			info = append(info, layout.PackedInstanceInfo{Tag: layout.TagSphere, Index: uint32(len(sphereTable))})
			sphereTable = append(sphereTable, layout.PackedSphere{
				CenterRadius: obj.Origin.Vec4(obj.Radius),
				Material:     mat,
			})
		case scene.PlaneObject:
			info = append(info, layout.PackedInstanceInfo{Tag: layout.TagPlane, Index: uint32(len(planeTable))})
			planeTable = append(planeTable, layout.PackedPlane{
				NormalDist: obj.Normal.Vec4(obj.Normal.Dot(obj.Origin)),
				Anchor:     obj.Origin.Vec4(0),
				Material:   mat,
			})
		case scene.BoxObject:
			info = append(info, layout.PackedInstanceInfo{Tag: layout.TagBox, Index: uint32(len(boxTable))})
			boxTable = append(boxTable, layout.PackedBox{
				Center:   obj.Origin.Vec4(0),
				Axis0:    obj.Axis[0].Vec4(obj.HalfExtents[0]),
				Axis1:    obj.Axis[1].Vec4(obj.HalfExtents[1]),
				Axis2:    obj.Axis[2].Vec4(obj.HalfExtents[2]),
				Material: mat,
			})
		}
	}

	triangles := r.flattenMeshes()
	counts := shapeCounts{
		spheres:   len(sphereTable),
		planes:    len(planeTable),
		boxes:     len(boxTable),
		triangles: len(triangles),
	}
	if err := r.recordCommon(cmd, counts); err != nil {
		return err
	}

	var err error
	if len(sphereTable) > 0 {
		if r.sphereBuf, err = r.ensureUpload(r.sphereBuf, "fallback-spheres", layout.Encode(sphereTable)); err != nil {
			return err
		}
		cmd.SetBuffer(layout.SlotSpheres, r.sphereBuf)
	}
	if len(planeTable) > 0 {
		if r.planeBuf, err = r.ensureUpload(r.planeBuf, "fallback-planes", layout.Encode(planeTable)); err != nil {
			return err
		}
		cmd.SetBuffer(layout.SlotPlanes, r.planeBuf)
	}
	if len(boxTable) > 0 {
		if r.boxBuf, err = r.ensureUpload(r.boxBuf, "fallback-boxes", layout.Encode(boxTable)); err != nil {
			return err
		}
		cmd.SetBuffer(layout.SlotBoxes, r.boxBuf)
	}
	if len(info) > 0 {
		if r.infoBuf, err = r.ensureUpload(r.infoBuf, "fallback-instance-info", layout.Encode(info)); err != nil {
			return err
		}
		cmd.SetBuffer(layout.SlotInstanceInfo, r.infoBuf)
	}
	if len(triangles) > 0 {
		if r.triBuf, err = r.ensureUpload(r.triBuf, "fallback-triangles", layout.Encode(triangles)); err != nil {
			return err
		}
		cmd.SetBuffer(layout.SlotTriangles, r.triBuf)
	}

	cmd.SetPipeline(r.brutePipeline)
	cmd.Dispatch(r.width, r.height, 1)
	return nil
}

// Transform every placed mesh into world-space triangles. Instances
// naming unregistered meshes are logged and skipped, matching the
// ray-traced path's placement rules.
func (r *deviceRenderer) flattenMeshes() []layout.PackedTriangle {
	var out []layout.PackedTriangle
	for i := range r.scene.MeshInstances {
		inst := &r.scene.MeshInstances[i]
		entry, ok := r.scene.MeshCache[inst.MeshName]
		if !ok {
			r.logger.Warningf("mesh instance references unregistered mesh %q; skipping", inst.MeshName)
			continue
		}

		t := accel.InstanceTransform(inst)
		var world mgl32.Mat4
		for row := 0; row < 3; row++ {
			for col := 0; col < 4; col++ {
				world.Set(row, col, t[row*4+col])
			}
		}
		world.Set(3, 3, 1)

		mat := packInstanceMaterial(inst)
		for tri := 0; tri+2 < len(entry.Indices); tri += 3 {
			v0 := transformPoint(world, entry.Vertices[entry.Indices[tri]].Position.Vec3())
			v1 := transformPoint(world, entry.Vertices[entry.Indices[tri+1]].Position.Vec3())
			v2 := transformPoint(world, entry.Vertices[entry.Indices[tri+2]].Position.Vec3())
			normal := v1.Sub(v0).Cross(v2.Sub(v0)).Normalize()
			out = append(out, layout.PackedTriangle{
				V0:       v0.Vec4(0),
				V1:       v1.Vec4(0),
				V2:       v2.Vec4(0),
				Normal:   normal.Vec4(0),
				Material: mat,
			})
		}
	}
	return out
}

func transformPoint(m mgl32.Mat4, p types.Vec3) types.Vec3 {
	v := m.Mul4x1(mgl32.Vec4{p[0], p[1], p[2], 1})
	return types.Vec3{v[0], v[1], v[2]}
}
