// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package tasks

import (
	"fmt"
	"slices"
	"strings"

	"github.com/jllopis/reasoningbank/pkg/errors"
)

// Simplification names understood by the simulator.
const (
	TeleportAction         = "teleportAction"
	OpenDoors              = "openDoors"
	SelfWateringFlowerPots = "selfWateringFlowerPots"
	NoElectricalAction     = "noElectricalAction"
	OpenContainers         = "openContainers"

	// PresetEasy expands to the standard set of simplifications.
	PresetEasy = "easy"
)

var presets = map[string][]string{
	PresetEasy: {TeleportAction, OpenDoors, SelfWateringFlowerPots, NoElectricalAction},
}

var known = map[string]bool{
	PresetEasy:             true,
	TeleportAction:         true,
	OpenDoors:              true,
	SelfWateringFlowerPots: true,
	NoElectricalAction:     true,
	OpenContainers:         true,
}

// electricalTasks need electrical actions and so never run with
// noElectricalAction.
var electricalTasks = map[string]bool{
	"3-1": true,
	"3-2": true,
	"3-3": true,
	"3-4": true,
}

// IsElectrical reports whether taskID is in the electrical exception table.
func IsElectrical(taskID string) bool { return electricalTasks[taskID] }

// ValidateSimplifications checks a preset name or a comma-separated list.
func ValidateSimplifications(s string) error {
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" && !known[part] {
			return errors.New(errors.CodeConfig,
				fmt.Sprintf("invalid simplification %q", part), nil).
				WithContext("valid", KnownSimplifications())
		}
	}
	return nil
}

// KnownSimplifications lists every accepted name, presets included.
func KnownSimplifications() []string {
	out := make([]string, 0, len(known))
	for k := range known {
		out = append(out, k)
	}
	slices.Sort(out)
	return out
}

// ParseSimplifications expands a preset or splits a comma-separated list,
// then applies the electrical exception for taskID (which may be empty).
func ParseSimplifications(s, taskID string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var out []string
	if p, ok := presets[s]; ok {
		out = slices.Clone(p)
	} else {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	if IsElectrical(taskID) {
		out = slices.DeleteFunc(out, func(v string) bool { return v == NoElectricalAction })
	}
	return out
}
