package scene

import "github.com/helios-render/helios/types"

type ObjectKind uint8

// The closed set of procedural object kinds. Triangle meshes are handled
// separately via MeshInstance.
const (
	SphereObject ObjectKind = iota
	PlaneObject
	BoxObject
)

func (k ObjectKind) String() string {
	switch k {
	case SphereObject:
		return "sphere"
	case PlaneObject:
		return "plane"
	case BoxObject:
		return "box"
	}
	return "unknown"
}

// A procedural scene object. Object is a tagged variant: Kind selects which
// of the shape parameter groups below is meaningful. All kinds share the
// material payload.
type Object struct {
	Kind ObjectKind

	// Shape origin. Sphere/box center or the plane anchor point.
	Origin types.Vec3

	// Sphere radius.
	Radius float32

	// Plane unit normal.
	Normal types.Vec3

	// Box half extents along each local axis.
	HalfExtents types.Vec3

	// Box orthonormal local axes.
	Axis [3]types.Vec3

	// Surface material.
	Material Material
}

// Create a new sphere object.
func NewSphere(center types.Vec3, radius float32, material Material) Object {
	return Object{
		Kind:     SphereObject,
		Origin:   center,
		Radius:   radius,
		Material: material,
	}
}

// Create a new plane object. The plane is conceptually infinite; its
// bounding proxy is bounded (see the acceleration structure builder).
func NewPlane(anchor, normal types.Vec3, material Material) Object {
	return Object{
		Kind:     PlaneObject,
		Origin:   anchor,
		Normal:   normal.Normalize(),
		Material: material,
	}
}

// Create a new oriented box object. Axes are re-normalized defensively; a
// zero-length axis collapses to the zero vector and contributes no extent,
// so callers must supply non-degenerate axes.
func NewBox(center, halfExtents types.Vec3, axis [3]types.Vec3, material Material) Object {
	return Object{
		Kind:        BoxObject,
		Origin:      center,
		HalfExtents: halfExtents,
		Axis: [3]types.Vec3{
			axis[0].Normalize(),
			axis[1].Normalize(),
			axis[2].Normalize(),
		},
		Material: material,
	}
}

// Create a new axis-aligned box object.
func NewAxisAlignedBox(center, halfExtents types.Vec3, material Material) Object {
	return NewBox(center, halfExtents, [3]types.Vec3{
		{1, 0, 0},
		{0, 1, 0},
		{0, 0, 1},
	}, material)
}
