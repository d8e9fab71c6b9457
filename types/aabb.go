package types

import "math"

// An axis-aligned bounding box described by its min/max corners. Boxes are
// derived data; they are recomputed whenever their source geometry changes.
// A valid box satisfies Min <= Max component-wise; zero-volume boxes are
// legal for planar inputs.
type AABB struct {
	Min Vec3
	Max Vec3
}

// Create an inverted box suitable as the seed value for Extend loops.
func NewAABB() AABB {
	return AABB{
		Min: Vec3{math.MaxFloat32, math.MaxFloat32, math.MaxFloat32},
		Max: Vec3{-math.MaxFloat32, -math.MaxFloat32, -math.MaxFloat32},
	}
}

// Get the box center point.
func (b AABB) Center() Vec3 {
	return b.Min.Add(b.Max).Mul(0.5)
}

// Grow the box so that it contains the given point.
func (b AABB) ExtendPoint(p Vec3) AABB {
	return AABB{
		Min: MinVec3(b.Min, p),
		Max: MaxVec3(b.Max, p),
	}
}

// Grow the box so that it contains the other box.
func (b AABB) Extend(other AABB) AABB {
	return AABB{
		Min: MinVec3(b.Min, other.Min),
		Max: MaxVec3(b.Max, other.Max),
	}
}

// Check whether the box contains the given point. Points on the box
// surface are treated as contained.
func (b AABB) ContainsPoint(p Vec3) bool {
	for axis := 0; axis < 3; axis++ {
		if p[axis] < b.Min[axis] || p[axis] > b.Max[axis] {
			return false
		}
	}
	return true
}

// Check that Min <= Max holds on every axis.
func (b AABB) Valid() bool {
	return b.Min[0] <= b.Max[0] && b.Min[1] <= b.Max[1] && b.Min[2] <= b.Max[2]
}
