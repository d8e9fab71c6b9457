package renderer

import "time"

type FrameStats struct {
	// Render path taken for the frame.
	Path Path

	// Total render time for entire frame.
	RenderTime time.Duration

	// True when this frame rebuilt acceleration structures.
	AccelRebuilt bool

	// Instances placed in the top-level structure.
	Instances int

	// Frames rendered so far.
	Frames uint32
}
