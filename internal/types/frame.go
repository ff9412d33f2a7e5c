package types

import "time"

// Frame is one captured camera image with the pose at capture time.
//
// IMMUTABILITY CONTRACT: once published by a camera provider, a Frame and
// its Data must not be mutated. Providers that reuse buffers must copy
// before publishing. Consumers may hold the Frame only for the duration
// of the call that handed it over.
type Frame struct {
	// Data is packed RGB24, row-major, len = Width*Height*3.
	Data []byte

	// Width and Height are the native dimensions in pixels.
	Width  int
	Height int

	// Seq increases by one per captured frame, first frame is 1.
	Seq uint64

	// TraceID correlates this frame across log lines and events.
	TraceID string

	// Timestamp is the capture time.
	Timestamp time.Time

	// Pose is the camera pose at capture time.
	Pose Pose
}

// Vec3 is a position in meters, right-handed.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quat is an orientation quaternion.
type Quat struct {
	X float64 `json:"qx"`
	Y float64 `json:"qy"`
	Z float64 `json:"qz"`
	W float64 `json:"qw"`
}

// Pose is a camera position/orientation snapshot. The zero value is not
// a valid orientation; use IdentityPose for "no rotation".
type Pose struct {
	Position    Vec3 `json:"position"`
	Orientation Quat `json:"orientation"`
}

// IdentityPose returns a pose at the origin with no rotation.
func IdentityPose() Pose {
	return Pose{Orientation: Quat{W: 1}}
}
