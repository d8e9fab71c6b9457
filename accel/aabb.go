// Package accel manages the acceleration structures behind the ray-traced
// render path: one bottom-level structure for all procedural shapes, a
// name-keyed cache of triangle-mesh structures, and the combined top-level
// structure instancing both. Builds are recorded into command buffers and
// execute when the caller submits; the package tracks which structures are
// live and keeps the top level consistent with the bottom levels beneath it.
package accel

import (
	"fmt"

	"github.com/helios-render/helios/scene"
	"github.com/helios-render/helios/types"
)

// Half extent of the proxy volume standing in for an infinite plane.
// Bounding volumes must be finite, so planes are clipped to this cube
// around their anchor point; rays only register plane hits inside it.
const planeProxyHalfExtent = 1000

// Bounding volume of a procedural shape in world space.
func ObjectBounds(obj *scene.Object) (types.AABB, error) {
	switch obj.Kind {
	case scene.SphereObject:
		r := types.Vec3{obj.Radius, obj.Radius, obj.Radius}
		return types.AABB{Min: obj.Origin.Sub(r), Max: obj.Origin.Add(r)}, nil

	case scene.PlaneObject:
		h := types.Vec3{planeProxyHalfExtent, planeProxyHalfExtent, planeProxyHalfExtent}
		return types.AABB{Min: obj.Origin.Sub(h), Max: obj.Origin.Add(h)}, nil

	case scene.BoxObject:
		// Project each oriented axis onto the world axes; the sum of
		// absolute components bounds the rotated box.
		var ext types.Vec3
		for i := 0; i < 3; i++ {
			a := obj.Axis[i].Abs().Mul(obj.HalfExtents[i])
			ext = ext.Add(a)
		}
		return types.AABB{Min: obj.Origin.Sub(ext), Max: obj.Origin.Add(ext)}, nil
	}
	return types.AABB{}, fmt.Errorf("accel: no bounding volume for object kind %d", obj.Kind)
}
