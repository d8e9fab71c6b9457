package driver

import (
	"encoding/binary"
	"math"
)

// InstanceDesc describes one top-level structure instance: an affine
// transform applied to a referenced bottom-level structure, plus the shader
// dispatch metadata consumed at hit time.
type InstanceDesc struct {
	// Row-major 3x4 object-to-world transform.
	Transform [12]float32

	// Opaque identifier surfaced to the hit shader; 24 bits.
	InstanceID uint32

	// Ray-type visibility mask.
	Mask uint8

	// Offset into the hit-group table selecting the shader programs
	// that handle intersections against this instance; 24 bits.
	HitGroupOffset uint32

	// The referenced bottom-level structure.
	BLAS BLAS
}

// InstanceDescSize is the encoded size of one instance record.
const InstanceDescSize = 64

// EncodeInstanceDescs packs instance records into the wire layout every
// backend consumes: 12 little-endian float32 transform entries, a packed
// id/mask word, a packed hit-group word, then the 8-byte BLAS address.
func EncodeInstanceDescs(descs []InstanceDesc) []byte {
	out := make([]byte, len(descs)*InstanceDescSize)
	for i, d := range descs {
		rec := out[i*InstanceDescSize:]
		for j, f := range d.Transform {
			binary.LittleEndian.PutUint32(rec[j*4:], math.Float32bits(f))
		}
		binary.LittleEndian.PutUint32(rec[48:], d.InstanceID&0xffffff|uint32(d.Mask)<<24)
		binary.LittleEndian.PutUint32(rec[52:], d.HitGroupOffset&0xffffff)
		var addr uint64
		if d.BLAS != nil {
			addr = d.BLAS.Address()
		}
		binary.LittleEndian.PutUint64(rec[56:], addr)
	}
	return out
}

// DecodeInstanceDesc unpacks one encoded instance record. The BLAS field is
// left nil; backends resolve the returned address themselves.
func DecodeInstanceDesc(rec []byte) (desc InstanceDesc, blasAddr uint64) {
	for j := range desc.Transform {
		desc.Transform[j] = math.Float32frombits(binary.LittleEndian.Uint32(rec[j*4:]))
	}
	idMask := binary.LittleEndian.Uint32(rec[48:])
	desc.InstanceID = idMask & 0xffffff
	desc.Mask = uint8(idMask >> 24)
	desc.HitGroupOffset = binary.LittleEndian.Uint32(rec[52:]) & 0xffffff
	blasAddr = binary.LittleEndian.Uint64(rec[56:])
	return desc, blasAddr
}

// ComputeDesc describes a compute pipeline.
type ComputeDesc struct {
	Name   string
	Shader []byte
}

// HitGroupDesc describes one hit-group table entry of a ray tracing
// pipeline.
type HitGroupDesc struct {
	Name   string
	Kind   GeometryKind
	Shader []byte
}

// RTDesc describes a ray tracing pipeline. The hit-group slice is the
// dispatch table indexed by each instance's HitGroupOffset plus the
// per-ray-type contribution.
type RTDesc struct {
	Name      string
	RayGen    []byte
	Miss      [][]byte
	HitGroups []HitGroupDesc
}
