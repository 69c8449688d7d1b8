package visibility

import (
	"errors"
	"fmt"
	"strings"

	"churchcal/internal/model"
)

// TargetMode selects which direct children receive an explicit target link.
type TargetMode string

const (
	TargetNone   TargetMode = "none"
	TargetAll    TargetMode = "all"
	TargetGroup  TargetMode = "group"
	TargetSelect TargetMode = "select"
)

var ErrInvalidTargetMode = errors.New("visibility: invalid target mode")

type TargetSpec struct {
	Mode TargetMode `json:"mode"`
	// Group is the child group label for TargetGroup.
	Group string `json:"group,omitempty"`
	// RoomIDs are the hand-picked children for TargetSelect.
	RoomIDs []string `json:"room_ids,omitempty"`
}

// SelectTargets resolves spec against the acting room's direct children and
// returns the chosen room IDs. IDs that are not direct children are ignored.
func SelectTargets(children []model.Room, spec TargetSpec) ([]string, error) {
	var out []string

	switch TargetMode(strings.ToLower(string(spec.Mode))) {
	case "", TargetNone:
		return nil, nil
	case TargetAll:
		for _, c := range children {
			out = append(out, c.ID)
		}
	case TargetGroup:
		group := strings.TrimSpace(spec.Group)
		if group == "" {
			return nil, fmt.Errorf("%w: group mode needs a group", ErrInvalidTargetMode)
		}
		for _, c := range children {
			if c.Group == group {
				out = append(out, c.ID)
			}
		}
	case TargetSelect:
		isChild := make(map[string]bool, len(children))
		for _, c := range children {
			isChild[c.ID] = true
		}
		seen := make(map[string]bool, len(spec.RoomIDs))
		for _, id := range spec.RoomIDs {
			if !isChild[id] || seen[id] {
				continue
			}
			seen[id] = true
			out = append(out, id)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidTargetMode, spec.Mode)
	}
	return out, nil
}
