// Package layout defines the GPU-visible data layout shared between the
// renderer and device backends: packed buffer records, shader binding slots
// and the built-in kernel names. Every packed struct is composed solely of
// 4-byte fields so its in-memory layout matches its encoded layout.
package layout

import (
	"bytes"
	"encoding/binary"

	"github.com/helios-render/helios/types"
)

// Shader binding slots. The renderer binds resources to these well-known
// slots; kernels read them back by number.
const (
	SlotConstants = iota
	SlotTLAS
	SlotDiffuseRadiance
	SlotSpheres
	SlotPlanes
	SlotBoxes
	SlotInstanceInfo
	SlotLights
	SlotMeshMaterials
	SlotTarget
	SlotGBufferNormal
	SlotGBufferDepth
	SlotGBufferMotion
	SlotHistoryDiffuse
	SlotTriangles
	SlotSpecularRadiance
	SlotHistorySpecular
)

// Built-in kernel and shader-table entry names. Backends resolve pipeline
// bytecode to these names; the shader provider returns the bytecode for a
// given name.
const (
	ShaderRayGen     = "rayGen"
	ShaderMissRange  = "missPrimary"
	ShaderMissShadow = "missShadow"
	ShaderMissAux    = "missAux"

	KernelBruteForceTrace = "bruteForceTrace"
	KernelToneMap         = "toneMap"
	KernelDenoiseTemporal = "denoiseTemporal"
)

// Hit-group table entry names, in table order. Procedural hit groups occupy
// offsets [0,3), triangle-mesh hit groups [3,6); shader dispatch is indexed
// by hit group, so this ordering is load-bearing.
var HitGroupNames = [6]string{
	"procPrimary", "procShadow", "procAux",
	"meshPrimary", "meshShadow", "meshAux",
}

// Hit-group contribution offsets per geometry category.
const (
	HitGroupOffsetProcedural = 0
	HitGroupOffsetMesh       = 3
)

// Tone-map operator identifiers carried in FrameConstants. Values match
// scene.ToneMapOp.
const (
	ToneMapNone = iota
	ToneMapReinhard
	ToneMapACES
)

// Ray-type visibility masks.
const (
	MaskPrimary = 0x01
	MaskShadow  = 0x02
	MaskAll     = 0xff
)

// Object type tags stored in instance-info records. Values match
// scene.ObjectKind.
const (
	TagSphere = 0
	TagPlane  = 1
	TagBox    = 2
)

// Per-frame constants, uploaded once per frame before dispatch.
type FrameConstants struct {
	// Frustum corner rays: top-left, top-right, bottom-left,
	// bottom-right. W unused.
	FrustumTL types.Vec4
	FrustumTR types.Vec4
	FrustumBL types.Vec4
	FrustumBR types.Vec4

	// Camera eye position. W unused.
	EyePos types.Vec4

	// Background color below the sky gradient horizon. W unused.
	BgColor types.Vec4

	SphereCount   uint32
	PlaneCount    uint32
	BoxCount      uint32
	LightCount    uint32
	TriangleCount uint32

	SamplesPerPixel uint32
	NumBounces      uint32
	FrameIndex      uint32
	Seed            uint32

	Exposure       float32
	Gamma          float32
	ShadowStrength float32
	ToneMapOp      uint32

	Stabilization float32
	_             [2]uint32
}

// Shared packed material payload: albedo with roughness in W, emissive with
// metalness in W.
type PackedMaterial struct {
	Albedo   types.Vec4
	Emissive types.Vec4
}

// Pack material parameters into the shared GPU material payload.
func NewPackedMaterial(albedo types.Vec3, roughness float32, emissive types.Vec3, metallic float32) PackedMaterial {
	return PackedMaterial{
		Albedo:   albedo.Vec4(roughness),
		Emissive: emissive.Vec4(metallic),
	}
}

// One procedural sphere: center with radius in W.
type PackedSphere struct {
	CenterRadius types.Vec4
	Material     PackedMaterial
}

// One procedural plane: unit normal with plane distance in W, plus the
// anchor point.
type PackedPlane struct {
	NormalDist types.Vec4
	Anchor     types.Vec4
	Material   PackedMaterial
}

// One procedural oriented box: center, per-axis half extents in the W lanes
// of the three axis vectors.
type PackedBox struct {
	Center   types.Vec4
	Axis0    types.Vec4
	Axis1    types.Vec4
	Axis2    types.Vec4
	Material PackedMaterial
}

// One point light: position with radius in W, color with intensity in W.
type PackedLight struct {
	PositionRadius types.Vec4
	ColorIntensity types.Vec4
}

// Maps a bounding-volume slot index back to the typed shape buffer that
// produced it: Tag selects the buffer, Index the offset within it. Records
// are positional: record i describes AABB i of the procedural batch.
type PackedInstanceInfo struct {
	Tag   uint32
	Index uint32
}

// One world-space triangle of the fallback path's flattened geometry.
type PackedTriangle struct {
	V0       types.Vec4
	V1       types.Vec4
	V2       types.Vec4
	Normal   types.Vec4
	Material PackedMaterial
}

// Six float32 bounds record consumed by procedural BLAS builds.
type PackedAABB struct {
	MinX, MinY, MinZ float32
	MaxX, MaxY, MaxZ float32
}

// PackedAABBStride is the byte stride of PackedAABB records.
const PackedAABBStride = 24

// Encode a packed record (or slice of records) into its little-endian wire
// form. Only fixed-size types are legal inputs.
func Encode(data any) []byte {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.LittleEndian, data); err != nil {
		panic("layout: encode of non-fixed-size value: " + err.Error())
	}
	return buf.Bytes()
}

// Decode a little-endian wire form back into a packed record pointer (or
// slice of records).
func Decode(raw []byte, out any) error {
	return binary.Read(bytes.NewReader(raw), binary.LittleEndian, out)
}
