package urcell

import "errors"

// Request validation errors. Task methods return these before commanding
// any motion so a half-built request never moves the arm.
var (
	ErrMissingSource  = errors.New("source pose is required")
	ErrMissingTarget  = errors.New("target pose is required")
	ErrMissingBit     = errors.New("driver bit pose is required")
	ErrMissingHexKey  = errors.New("hex key holder pose is required")
	ErrMissingTipRack = errors.New("tip rack pose is required")
	ErrMissingDock    = errors.New("tool dock pose is required")
	ErrMissingProgram = errors.New("program name is required")
)

// ErrProgramTimeout reports that an on-controller program did not settle
// within the configured deadline.
var ErrProgramTimeout = errors.New("program did not finish in time")

// ErrCameraNotConfigured reports that a vision task ran before UseCamera
// installed a frame source and detector.
var ErrCameraNotConfigured = errors.New("camera is not configured")
