package scene

import (
	"github.com/helios-render/helios/types"
)

// A single interleaved mesh vertex. Position and normal are padded to
// Vec4 so the layout matches the fixed 32-byte stride the GPU side expects.
type MeshVertex struct {
	Position types.Vec4
	Normal   types.Vec4
}

// The stride of MeshVertex in bytes.
const MeshVertexStride = 32

// A mesh asset registered with the scene, keyed by a stable name. Entries
// are inserted by the host when an asset loads and persist until the scene
// is cleared or the name drops out of the valid set. The acceleration
// structure builder reads entries but never mutates them.
type MeshCacheEntry struct {
	// Interleaved vertex data.
	Vertices []MeshVertex

	// Triangle index list; three indices per triangle.
	Indices []uint32

	// Object-space bounds.
	Bounds types.AABB
}

// Create a mesh cache entry, deriving its bounds from the vertex set.
func NewMeshCacheEntry(vertices []MeshVertex, indices []uint32) *MeshCacheEntry {
	bounds := types.NewAABB()
	for _, v := range vertices {
		bounds = bounds.ExtendPoint(v.Position.Vec3())
	}
	return &MeshCacheEntry{
		Vertices: vertices,
		Indices:  indices,
		Bounds:   bounds,
	}
}

// A placed instance of a cached mesh. Many instances may reference the same
// MeshCacheEntry. The instance list is replaced wholesale on every scene
// update; the mesh BLAS cache persists independently.
type MeshInstance struct {
	// Name of the MeshCacheEntry this instance references.
	MeshName string

	// World placement. Rotation is Euler angles in degrees applied in
	// intrinsic roll-pitch-yaw order.
	Position types.Vec3
	Rotation types.Vec3
	Scale    types.Vec3

	// Surface material.
	Material Material
}

// Create a mesh instance with unit scale and no rotation.
func NewMeshInstance(meshName string, position types.Vec3, material Material) MeshInstance {
	return MeshInstance{
		MeshName: meshName,
		Position: position,
		Scale:    types.Vec3{1, 1, 1},
		Material: material,
	}
}
