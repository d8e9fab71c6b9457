package layout

import (
	"encoding/binary"
	"testing"

	"github.com/helios-render/helios/types"
)

func TestRecordSizes(t *testing.T) {
	cases := []struct {
		name string
		rec  any
		want int
	}{
		{"aabb", PackedAABB{}, PackedAABBStride},
		{"instance-info", PackedInstanceInfo{}, 8},
		{"material", PackedMaterial{}, 32},
		{"sphere", PackedSphere{}, 48},
		{"plane", PackedPlane{}, 64},
		{"box", PackedBox{}, 96},
		{"light", PackedLight{}, 32},
		{"triangle", PackedTriangle{}, 96},
	}
	for _, tc := range cases {
		if got := binary.Size(tc.rec); got != tc.want {
			t.Fatalf("%s: expected %d byte records; got %d", tc.name, tc.want, got)
		}
	}

	// Frame constants must stay 16-byte aligned for constant-buffer reads.
	if got := binary.Size(FrameConstants{}); got%16 != 0 {
		t.Fatalf("expected 16-byte aligned frame constants; got %d bytes", got)
	}
}

func TestFrameConstantsRoundTrip(t *testing.T) {
	fc := FrameConstants{
		FrustumTL:       types.Vec4{-1, 1, -1, 0},
		EyePos:          types.Vec4{0, 2, 5, 0},
		SphereCount:     3,
		TriangleCount:   12,
		SamplesPerPixel: 4,
		Seed:            9782,
		Exposure:        1.5,
		Gamma:           2.2,
		ToneMapOp:       ToneMapACES,
		Stabilization:   0.8,
	}
	raw := Encode(fc)
	if len(raw) != binary.Size(fc) {
		t.Fatalf("expected %d encoded bytes; got %d", binary.Size(fc), len(raw))
	}

	var out FrameConstants
	if err := Decode(raw, &out); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if out != fc {
		t.Fatalf("expected round trip to preserve constants; got %+v", out)
	}
}

func TestToneMapOpValuesMatchSceneOperators(t *testing.T) {
	// FrameConstants carries scene.ToneMapOp values verbatim; the
	// identifier blocks must agree.
	if ToneMapNone != 0 || ToneMapReinhard != 1 || ToneMapACES != 2 {
		t.Fatalf("unexpected operator values: %d %d %d", ToneMapNone, ToneMapReinhard, ToneMapACES)
	}
}

func TestHitGroupTableShape(t *testing.T) {
	if len(HitGroupNames) != 6 {
		t.Fatalf("expected 6 hit groups; got %d", len(HitGroupNames))
	}
	if HitGroupOffsetProcedural != 0 || HitGroupOffsetMesh != 3 {
		t.Fatalf("unexpected hit group offsets: %d %d", HitGroupOffsetProcedural, HitGroupOffsetMesh)
	}
}
