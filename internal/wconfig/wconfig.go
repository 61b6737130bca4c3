// Package wconfig loads workcell connection settings from a JSON file.
package wconfig

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/benchcell/urcell/urscript"
)

// Workcell holds the connection details and taught positions for one UR
// workcell.
type Workcell struct {
	Host string `json:"host"`

	// SSH credentials for program transfer onto the controller.
	SSHUser     string `json:"ssh_user"`
	SSHPassword string `json:"ssh_password"`

	// Poses and Joints are named deck positions taught for this cell.
	// Names here shadow the built-in deck defaults.
	Poses  map[string][6]float64 `json:"poses,omitempty"`
	Joints map[string][6]float64 `json:"joints,omitempty"`
}

// Load reads and parses a workcell config from a JSON file.
func Load(path string) (*Workcell, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading workcell config: %w", err)
	}
	var w Workcell
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("parsing workcell config: %w", err)
	}
	if w.Host == "" {
		return nil, fmt.Errorf("workcell config %s: host is required", path)
	}
	return &w, nil
}

// Pose looks up a taught pose by name.
func (w *Workcell) Pose(name string) (urscript.Pose, bool) {
	v, ok := w.Poses[name]
	return urscript.Pose(v), ok
}

// JointSet looks up taught joint angles by name.
func (w *Workcell) JointSet(name string) (urscript.Joints, bool) {
	v, ok := w.Joints[name]
	return urscript.Joints(v), ok
}
