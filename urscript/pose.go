package urscript

import (
	"fmt"
	"math"
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/spatialmath"
)

// Pose is a UR tool pose: x, y, z in meters followed by an rx, ry, rz
// rotation vector in radians, matching the controller's p[...] literal.
type Pose [6]float64

// Joints holds the six joint angles in radians, base to wrist 3.
type Joints [6]float64

// Axis names a Cartesian approach direction for pick and place moves.
// The leading '-' flips the sign of the offset.
type Axis string

const (
	AxisX    Axis = "x"
	AxisNegX Axis = "-x"
	AxisY    Axis = "y"
	AxisNegY Axis = "-y"
	AxisZ    Axis = "z"
)

// ErrUnknownAxis is returned for approach axes outside x, -x, y, -y, z.
var ErrUnknownAxis = errors.New("unknown approach axis")

// ParseAxis normalizes an axis string. An empty string defaults to z,
// the usual top-down approach.
func ParseAxis(s string) (Axis, error) {
	switch a := Axis(strings.ToLower(strings.TrimSpace(s))); a {
	case "":
		return AxisZ, nil
	case AxisX, AxisNegX, AxisY, AxisNegY, AxisZ:
		return a, nil
	default:
		return "", errors.Wrapf(ErrUnknownAxis, "%q", s)
	}
}

// Above returns a copy of p offset by distance (meters) along the approach
// axis, keeping orientation. For negative axes the offset is subtracted, so
// the result is always on the approach side of p.
func (p Pose) Above(axis Axis, distance float64) (Pose, error) {
	above := p
	switch axis {
	case AxisZ:
		above[2] += distance
	case AxisY:
		above[1] += distance
	case AxisNegY:
		above[1] -= distance
	case AxisX:
		above[0] += distance
	case AxisNegX:
		above[0] -= distance
	default:
		return Pose{}, errors.Wrapf(ErrUnknownAxis, "%q", string(axis))
	}
	return above, nil
}

// IsZero reports whether the pose is entirely unset. Deck positions always
// have a nonzero component, so the zero value doubles as "not provided".
func (p Pose) IsZero() bool {
	return p == Pose{}
}

// Point returns the translation as a vector in meters.
func (p Pose) Point() r3.Vector {
	return r3.Vector{X: p[0], Y: p[1], Z: p[2]}
}

// Literal renders the pose as a URScript pose literal.
func (p Pose) Literal() string {
	return fmt.Sprintf("p[%f, %f, %f, %f, %f, %f]", p[0], p[1], p[2], p[3], p[4], p[5])
}

func (p Pose) String() string { return p.Literal() }

// Spatial converts the pose to a spatialmath.Pose with translation in
// millimeters, the unit spatialmath expects.
func (p Pose) Spatial() spatialmath.Pose {
	pt := r3.Vector{X: p[0] * 1000.0, Y: p[1] * 1000.0, Z: p[2] * 1000.0}
	theta := math.Sqrt(p[3]*p[3] + p[4]*p[4] + p[5]*p[5])
	if theta < 1e-9 {
		return spatialmath.NewPoseFromPoint(pt)
	}
	return spatialmath.NewPose(pt, &spatialmath.R4AA{
		Theta: theta,
		RX:    p[3] / theta,
		RY:    p[4] / theta,
		RZ:    p[5] / theta,
	})
}

// Literal renders the joint set as a URScript array literal.
func (j Joints) Literal() string {
	return fmt.Sprintf("[%f, %f, %f, %f, %f, %f]", j[0], j[1], j[2], j[3], j[4], j[5])
}

func (j Joints) String() string { return j.Literal() }

// IsZero reports whether all joint angles are unset.
func (j Joints) IsZero() bool {
	return j == Joints{}
}

// Rounded returns the joints with each angle rounded to two decimals,
// the granularity used to decide whether the arm has stopped moving.
func (j Joints) Rounded() Joints {
	var out Joints
	for i, v := range j {
		out[i] = math.Round(v*100) / 100
	}
	return out
}
