package soft

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/helios-render/helios/driver"
	"github.com/helios-render/helios/types"
)

// The builder stops splitting below this item count.
const minLeafItems = 2

// Split candidates evaluated per axis when scoring a partition.
const splitCandidates = 16

// The CPU-side content of a built bottom-level structure.
type blasData struct {
	kind   driver.GeometryKind
	bounds types.AABB

	// Procedural leaves: one box per bounding-volume slot, in batch
	// order. The slot index is what intersection kernels use to find
	// the originating shape.
	boxes []types.AABB

	// Triangle leaves in object space.
	tris []softTriangle

	nodes []bvhNode

	// Leaf item indices into boxes/tris, referenced by node ranges.
	items []int32
}

type softTriangle struct {
	v0, v1, v2 types.Vec3
	normal     types.Vec3
}

// One hierarchy node. Interior nodes hold child indices; leaves hold a
// range into blasData.items (count > 0 marks a leaf).
type bvhNode struct {
	bounds      types.AABB
	left, right int32
	start       int32
	count       int32
}

// One decoded top-level instance.
type tlasInstance struct {
	blas           *softBLAS
	instanceID     uint32
	mask           uint8
	hitGroupOffset uint32
	world          mgl32.Mat4
	invWorld       mgl32.Mat4
}

// Build the CPU hierarchy for a bottom-level structure from its recorded
// geometry input.
func buildBLASData(input driver.AccelInput) (*blasData, error) {
	data := &blasData{kind: input.Kind}

	switch input.Kind {
	case driver.GeometryAABBs:
		src, ok := input.AABBBuf.(*softBuffer)
		if !ok || src.released {
			return nil, fmt.Errorf("soft device: procedural build without a live bounds buffer")
		}
		if input.AABBCount <= 0 {
			return nil, fmt.Errorf("soft device: procedural build over %d boxes", input.AABBCount)
		}
		stride := input.AABBStride
		if stride <= 0 {
			stride = 24
		}
		if input.AABBCount*stride > len(src.data) {
			return nil, fmt.Errorf("soft device: bounds buffer %s too small for %d boxes", src.name, input.AABBCount)
		}
		data.boxes = make([]types.AABB, input.AABBCount)
		for i := 0; i < input.AABBCount; i++ {
			rec := src.data[i*stride:]
			data.boxes[i] = types.AABB{
				Min: types.Vec3{f32At(rec, 0), f32At(rec, 4), f32At(rec, 8)},
				Max: types.Vec3{f32At(rec, 12), f32At(rec, 16), f32At(rec, 20)},
			}
		}

	case driver.GeometryTriangles:
		verts, ok := input.VertexBuf.(*softBuffer)
		if !ok || verts.released {
			return nil, fmt.Errorf("soft device: triangle build without a live vertex buffer")
		}
		idx, ok := input.IndexBuf.(*softBuffer)
		if !ok || idx.released {
			return nil, fmt.Errorf("soft device: triangle build without a live index buffer")
		}
		if input.IndexCount < 3 || input.IndexCount%3 != 0 {
			return nil, fmt.Errorf("soft device: triangle build with %d indices", input.IndexCount)
		}
		triCount := input.IndexCount / 3
		data.tris = make([]softTriangle, triCount)
		for t := 0; t < triCount; t++ {
			var corner [3]types.Vec3
			for c := 0; c < 3; c++ {
				vi := binary.LittleEndian.Uint32(idx.data[(t*3+c)*4:])
				if int(vi) >= input.VertexCount {
					return nil, fmt.Errorf("soft device: triangle %d references vertex %d outside %d", t, vi, input.VertexCount)
				}
				rec := verts.data[int(vi)*input.VertexStride:]
				corner[c] = types.Vec3{f32At(rec, 0), f32At(rec, 4), f32At(rec, 8)}
			}
			e1 := corner[1].Sub(corner[0])
			e2 := corner[2].Sub(corner[0])
			data.tris[t] = softTriangle{
				v0:     corner[0],
				v1:     corner[1],
				v2:     corner[2],
				normal: e1.Cross(e2).Normalize(),
			}
		}
	}

	data.build()
	return data, nil
}

// Decode encoded instance records and resolve their structure references.
func buildTLASData(gpu *softGPU, raw []byte, count int) ([]tlasInstance, error) {
	if count*driver.InstanceDescSize > len(raw) {
		return nil, fmt.Errorf("soft device: instance buffer too small for %d instances", count)
	}
	out := make([]tlasInstance, 0, count)
	for i := 0; i < count; i++ {
		desc, addr := driver.DecodeInstanceDesc(raw[i*driver.InstanceDescSize:])
		blas, ok := gpu.blasByAddr[addr]
		if !ok || blas.built == nil {
			return nil, fmt.Errorf("soft device: instance %d references unknown or unbuilt structure at %#x", i, addr)
		}
		var world mgl32.Mat4
		for r := 0; r < 3; r++ {
			for c := 0; c < 4; c++ {
				world.Set(r, c, desc.Transform[r*4+c])
			}
		}
		world.Set(3, 3, 1)
		out = append(out, tlasInstance{
			blas:           blas,
			instanceID:     desc.InstanceID,
			mask:           desc.Mask,
			hitGroupOffset: desc.HitGroupOffset,
			world:          world,
			invWorld:       world.Inv(),
		})
	}
	return out, nil
}

// Partition the structure's leaves into a hierarchy. Grounded on an SAH
// sweep: a split is taken only when its surface-area score beats keeping
// the node as a leaf.
func (d *blasData) build() {
	itemCount := len(d.boxes)
	if d.kind == driver.GeometryTriangles {
		itemCount = len(d.tris)
	}

	d.items = make([]int32, itemCount)
	for i := range d.items {
		d.items[i] = int32(i)
	}
	d.nodes = d.nodes[:0]
	root := d.partition(0, itemCount, 0)
	d.bounds = d.nodes[root].bounds
}

func (d *blasData) itemBounds(item int32) types.AABB {
	if d.kind == driver.GeometryTriangles {
		tri := d.tris[item]
		b := types.NewAABB()
		b = b.ExtendPoint(tri.v0)
		b = b.ExtendPoint(tri.v1)
		return b.ExtendPoint(tri.v2)
	}
	return d.boxes[item]
}

func (d *blasData) partition(start, count, depth int) int32 {
	bounds := types.NewAABB()
	for i := start; i < start+count; i++ {
		bounds = bounds.Extend(d.itemBounds(d.items[i]))
	}

	nodeIndex := int32(len(d.nodes))
	d.nodes = append(d.nodes, bvhNode{bounds: bounds, start: int32(start), count: int32(count)})
	if count <= minLeafItems || depth > 48 {
		return nodeIndex
	}

	side := bounds.Max.Sub(bounds.Min)
	bestScore := float32(count) * halfArea(side)
	bestAxis, bestSplit := -1, float32(0)

	for axis := 0; axis < 3; axis++ {
		if side[axis] < 1e-5 {
			continue
		}
		step := side[axis] / float32(splitCandidates)
		for splitPoint := bounds.Min[axis] + step; splitPoint < bounds.Max[axis]; splitPoint += step {
			score, ok := d.scoreSplit(start, count, axis, splitPoint)
			if ok && score < bestScore {
				bestScore = score
				bestAxis = axis
				bestSplit = splitPoint
			}
		}
	}

	// No split improves on the leaf score.
	if bestAxis < 0 {
		return nodeIndex
	}

	mid := start
	for i := start; i < start+count; i++ {
		if d.itemBounds(d.items[i]).Center()[bestAxis] < bestSplit {
			d.items[mid], d.items[i] = d.items[i], d.items[mid]
			mid++
		}
	}
	if mid == start || mid == start+count {
		return nodeIndex
	}

	d.nodes[nodeIndex].count = 0
	left := d.partition(start, mid-start, depth+1)
	right := d.partition(mid, start+count-mid, depth+1)
	d.nodes[nodeIndex].left = left
	d.nodes[nodeIndex].right = right
	return nodeIndex
}

// Score a split candidate: item count times bounding area on each side.
func (d *blasData) scoreSplit(start, count, axis int, splitPoint float32) (float32, bool) {
	lBounds, rBounds := types.NewAABB(), types.NewAABB()
	lCount, rCount := 0, 0
	for i := start; i < start+count; i++ {
		b := d.itemBounds(d.items[i])
		if b.Center()[axis] < splitPoint {
			lCount++
			lBounds = lBounds.Extend(b)
		} else {
			rCount++
			rBounds = rBounds.Extend(b)
		}
	}
	if lCount == 0 || rCount == 0 {
		return math.MaxFloat32, false
	}
	lSide := lBounds.Max.Sub(lBounds.Min)
	rSide := rBounds.Max.Sub(rBounds.Min)
	return float32(lCount)*halfArea(lSide) + float32(rCount)*halfArea(rSide), true
}

func halfArea(side types.Vec3) float32 {
	return side[0]*side[1] + side[1]*side[2] + side[0]*side[2]
}

func f32At(b []byte, off int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b[off:]))
}
