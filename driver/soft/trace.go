package soft

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/helios-render/helios/types"
)

const (
	rayEpsilon = 1e-4
	noHitDist  = float32(math.MaxFloat32)
)

type softRay struct {
	origin types.Vec3
	dir    types.Vec3
}

// A resolved closest hit against the top-level structure. For procedural
// structures, prim is the bounding-volume slot; the caller decides how
// the enclosed shape responds. For triangle structures, prim names the
// triangle and normal carries the object-space face normal.
type traceHit struct {
	t        float32
	instance int
	prim     int32
	normal   types.Vec3
}

// Procedural leaf callback. Given the bounding-volume slot of a candidate
// item it reports the hit distance along the object-space ray, or false
// when the contained shape is missed. The returned normal is object-space.
type intersectShapeFn func(inst *tlasInstance, slot int32, ray softRay, tMax float32) (float32, types.Vec3, bool)

// Walk the top-level structure and return the closest accepted hit.
// Instances whose visibility mask does not overlap rayMask are skipped
// without testing their geometry.
func traceClosest(instances []tlasInstance, ray softRay, rayMask uint8, tMax float32, shapeFn intersectShapeFn) (traceHit, bool) {
	best := traceHit{t: tMax, instance: -1}
	for i := range instances {
		inst := &instances[i]
		if inst.mask&rayMask == 0 {
			continue
		}
		objRay := transformRay(ray, inst.invWorld)
		traceBLAS(inst, objRay, best.t, shapeFn, func(t float32, prim int32, normal types.Vec3) {
			if t < best.t {
				best = traceHit{t: t, instance: i, prim: prim, normal: normal}
			}
		})
	}
	if best.instance < 0 {
		return traceHit{}, false
	}
	return best, true
}

// Report whether any geometry blocks the ray before tMax. Used for shadow
// rays, which accept the first hit instead of the closest one.
func traceOccluded(instances []tlasInstance, ray softRay, rayMask uint8, tMax float32, shapeFn intersectShapeFn) bool {
	for i := range instances {
		inst := &instances[i]
		if inst.mask&rayMask == 0 {
			continue
		}
		objRay := transformRay(ray, inst.invWorld)
		blocked := false
		traceBLAS(inst, objRay, tMax, shapeFn, func(t float32, prim int32, normal types.Vec3) {
			blocked = true
		})
		if blocked {
			return true
		}
	}
	return false
}

// Walk one bottom-level hierarchy. The ray parameter t is shared between
// object and world space because the object-space direction keeps the
// world-space scale instead of being renormalized.
func traceBLAS(inst *tlasInstance, ray softRay, tMax float32, shapeFn intersectShapeFn, accept func(t float32, prim int32, normal types.Vec3)) {
	data := inst.blas.built
	if data == nil || len(data.nodes) == 0 {
		return
	}

	invDir := types.Vec3{1 / ray.dir[0], 1 / ray.dir[1], 1 / ray.dir[2]}
	var stack [64]int32
	stack[0] = 0
	top := 1

	for top > 0 {
		top--
		node := &data.nodes[stack[top]]
		if !slabTest(node.bounds, ray.origin, invDir, tMax) {
			continue
		}
		if node.count == 0 {
			stack[top] = node.left
			stack[top+1] = node.right
			top += 2
			continue
		}
		for i := node.start; i < node.start+node.count; i++ {
			item := data.items[i]
			if len(data.tris) != 0 {
				tri := &data.tris[item]
				if t, ok := intersectTriangle(tri, ray, tMax); ok {
					accept(t, item, tri.normal)
					if t < tMax {
						tMax = t
					}
				}
				continue
			}
			if shapeFn == nil {
				continue
			}
			if t, normal, ok := shapeFn(inst, item, ray, tMax); ok {
				accept(t, item, normal)
				if t < tMax {
					tMax = t
				}
			}
		}
	}
}

func transformRay(ray softRay, inv mgl32.Mat4) softRay {
	o := inv.Mul4x1(mgl32.Vec4{ray.origin[0], ray.origin[1], ray.origin[2], 1})
	d := inv.Mul4x1(mgl32.Vec4{ray.dir[0], ray.dir[1], ray.dir[2], 0})
	return softRay{
		origin: types.Vec3{o[0], o[1], o[2]},
		dir:    types.Vec3{d[0], d[1], d[2]},
	}
}

func slabTest(box types.AABB, origin, invDir types.Vec3, tMax float32) bool {
	tMin := float32(rayEpsilon)
	for axis := 0; axis < 3; axis++ {
		t0 := (box.Min[axis] - origin[axis]) * invDir[axis]
		t1 := (box.Max[axis] - origin[axis]) * invDir[axis]
		if t0 > t1 {
			t0, t1 = t1, t0
		}
		if t0 > tMin {
			tMin = t0
		}
		if t1 < tMax {
			tMax = t1
		}
		if tMin > tMax {
			return false
		}
	}
	return true
}

// Moeller-Trumbore intersection against a single triangle.
func intersectTriangle(tri *softTriangle, ray softRay, tMax float32) (float32, bool) {
	e1 := tri.v1.Sub(tri.v0)
	e2 := tri.v2.Sub(tri.v0)
	p := ray.dir.Cross(e2)
	det := e1.Dot(p)
	if det > -1e-8 && det < 1e-8 {
		return 0, false
	}
	invDet := 1 / det
	s := ray.origin.Sub(tri.v0)
	u := s.Dot(p) * invDet
	if u < 0 || u > 1 {
		return 0, false
	}
	q := s.Cross(e1)
	v := ray.dir.Dot(q) * invDet
	if v < 0 || u+v > 1 {
		return 0, false
	}
	t := e2.Dot(q) * invDet
	if t < rayEpsilon || t >= tMax {
		return 0, false
	}
	return t, true
}

// Sphere intersection in object space, returning the near positive root.
func intersectSphere(center types.Vec3, radius float32, ray softRay, tMax float32) (float32, types.Vec3, bool) {
	oc := ray.origin.Sub(center)
	a := ray.dir.Dot(ray.dir)
	halfB := oc.Dot(ray.dir)
	c := oc.Dot(oc) - radius*radius
	disc := halfB*halfB - a*c
	if disc < 0 {
		return 0, types.Vec3{}, false
	}
	sq := float32(math.Sqrt(float64(disc)))
	t := (-halfB - sq) / a
	if t < rayEpsilon {
		t = (-halfB + sq) / a
	}
	if t < rayEpsilon || t >= tMax {
		return 0, types.Vec3{}, false
	}
	point := ray.origin.Add(ray.dir.Mul(t))
	return t, point.Sub(center).Normalize(), true
}

// Plane intersection. bounded limits acceptance to hits whose point lies
// inside the supplied proxy box; the brute-force path passes bounded=false
// and treats the plane as infinite.
func intersectPlane(normal types.Vec3, dist float32, bounded bool, proxy types.AABB, ray softRay, tMax float32) (float32, types.Vec3, bool) {
	denom := normal.Dot(ray.dir)
	if denom > -1e-8 && denom < 1e-8 {
		return 0, types.Vec3{}, false
	}
	t := (dist - normal.Dot(ray.origin)) / denom
	if t < rayEpsilon || t >= tMax {
		return 0, types.Vec3{}, false
	}
	if bounded {
		point := ray.origin.Add(ray.dir.Mul(t))
		if !proxy.ContainsPoint(point) {
			return 0, types.Vec3{}, false
		}
	}
	n := normal
	if denom > 0 {
		n = n.Mul(-1)
	}
	return t, n, true
}

// Oriented box intersection via a slab test in the box's own frame.
func intersectBox(center types.Vec3, axis [3]types.Vec3, halfExtents types.Vec3, ray softRay, tMax float32) (float32, types.Vec3, bool) {
	rel := ray.origin.Sub(center)
	var localO, localD types.Vec3
	for i := 0; i < 3; i++ {
		localO[i] = rel.Dot(axis[i])
		localD[i] = ray.dir.Dot(axis[i])
	}

	tMin := float32(rayEpsilon)
	tFar := tMax
	hitAxis, hitSign := 0, float32(1)
	for i := 0; i < 3; i++ {
		if localD[i] > -1e-8 && localD[i] < 1e-8 {
			if localO[i] < -halfExtents[i] || localO[i] > halfExtents[i] {
				return 0, types.Vec3{}, false
			}
			continue
		}
		inv := 1 / localD[i]
		t0 := (-halfExtents[i] - localO[i]) * inv
		t1 := (halfExtents[i] - localO[i]) * inv
		sign := float32(-1)
		if t0 > t1 {
			t0, t1 = t1, t0
			sign = 1
		}
		if t0 > tMin {
			tMin = t0
			hitAxis = i
			hitSign = sign
		}
		if t1 < tFar {
			tFar = t1
		}
		if tMin > tFar {
			return 0, types.Vec3{}, false
		}
	}
	if tMin <= rayEpsilon || tMin >= tMax {
		return 0, types.Vec3{}, false
	}
	return tMin, axis[hitAxis].Mul(hitSign), true
}
