package scene

import (
	"fmt"

	"github.com/go-gl/mathgl/mgl32"

	"github.com/helios-render/helios/types"
)

// Stores the ray directions at the four corners of the camera frustum. It is
// used as a shortcut for generating per-pixel rays via interpolation of the
// corner rays. The W coordinate is unused; Vec4 keeps the GPU-side layout
// aligned to float4.
type Frustum [4]types.Vec4

func (fr Frustum) String() string {
	return fmt.Sprintf(
		"Frustum Rays:\nTL : (%3.3f, %3.3f, %3.3f)\nTR : (%3.3f, %3.3f, %3.3f)\nBL : (%3.3f, %3.3f, %3.3f)\nBR : (%3.3f, %3.3f, %3.3f)",
		fr[0][0], fr[0][1], fr[0][2],
		fr[1][0], fr[1][1], fr[1][2],
		fr[2][0], fr[2][1], fr[2][2],
		fr[3][0], fr[3][1], fr[3][2],
	)
}

// The camera type controls the scene viewpoint.
type Camera struct {
	Position types.Vec3
	LookAt   types.Vec3
	Up       types.Vec3

	ViewMat mgl32.Mat4
	ProjMat mgl32.Mat4
	Frustum Frustum

	// Vertical field of view in degrees.
	FOV float32

	// Adjust the frustum so that Y is inverted.
	InvertY bool
}

func NewCamera(fov float32) *Camera {
	return &Camera{
		ViewMat:  mgl32.Ident4(),
		ProjMat:  mgl32.Ident4(),
		Position: types.Vec3{0, 0, 0},
		LookAt:   types.Vec3{0, 0, -1},
		Up:       types.Vec3{0, 1, 0},
		FOV:      fov,
	}
}

// Setup camera projection matrix for the given aspect ratio.
func (c *Camera) SetupProjection(aspect float32) {
	c.ProjMat = mgl32.Perspective(mgl32.DegToRad(c.FOV), aspect, 1, 1000)
	c.Update()
}

// Update the view matrix and frustum corner rays from the current
// position/look-at pair.
func (c *Camera) Update() {
	c.ViewMat = mgl32.LookAtV(
		mgl32.Vec3(c.Position),
		mgl32.Vec3(c.LookAt),
		mgl32.Vec3(c.Up),
	)
	c.updateFrustum()
}

func (c *Camera) InvViewProjMat() mgl32.Mat4 {
	return c.ProjMat.Mul4(c.ViewMat).Inv()
}

// Generate a ray vector for each corner of the camera frustum by
// multiplying clip space vectors for each corner with the inverse proj/view
// matrix, applying perspective and subtracting the camera eye position.
func (c *Camera) updateFrustum() {
	invProjViewMat := c.InvViewProjMat()

	var yUp float32 = 1.0
	if c.InvertY {
		yUp = -1.0
	}

	corners := [4]mgl32.Vec4{
		{-1, yUp, -1, 1},
		{1, yUp, -1, 1},
		{-1, -yUp, -1, 1},
		{1, -yUp, -1, 1},
	}

	for i, corner := range corners {
		v := invProjViewMat.Mul4x1(corner)
		v = v.Mul(1.0 / v.W())
		dir := types.Vec3{v.X(), v.Y(), v.Z()}.Sub(c.Position)
		c.Frustum[i] = dir.Vec4(0)
	}
}
