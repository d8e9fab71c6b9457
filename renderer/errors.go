package renderer

import "errors"

var (
	ErrSceneNotDefined  = errors.New("renderer: no scene defined")
	ErrCameraNotDefined = errors.New("renderer: no camera defined")
	ErrClosed           = errors.New("renderer: closed")
)
