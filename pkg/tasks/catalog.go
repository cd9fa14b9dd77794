// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

// Package tasks holds the task catalog, simplification presets and the
// identifier rules shared by the scheduler, the environment and config.
package tasks

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/reasoningbank/pkg/errors"
)

// Task is one catalog entry.
type Task struct {
	ID   string `yaml:"id" json:"id"`
	Name string `yaml:"name" json:"name"`
}

// Topic returns the numeric topic prefix of the task ID, or 0.
func (t Task) Topic() int {
	head, _, _ := strings.Cut(t.ID, "-")
	n, err := strconv.Atoi(head)
	if err != nil {
		return 0
	}
	return n
}

// Catalog is an ordered set of tasks addressable by ID and by name.
type Catalog struct {
	tasks  []Task
	byID   map[string]int
	byName map[string]int
}

var defaultTasks = []Task{
	{"1-1", "boil"},
	{"1-2", "melt"},
	{"1-3", "freeze"},
	{"1-4", "change-the-state-of-matter-of"},
	{"2-1", "use-thermometer"},
	{"2-2", "measure-melting-point-known-substance"},
	{"2-3", "measure-melting-point-unknown-substance"},
	{"3-1", "power-component"},
	{"3-2", "power-component-renewable-vs-nonrenewable-energy"},
	{"3-3", "test-conductivity"},
	{"3-4", "test-conductivity-of-unknown-substances"},
	{"4-1", "find-living-thing"},
	{"4-2", "find-non-living-thing"},
	{"4-3", "find-plant"},
	{"4-4", "find-animal"},
	{"5-1", "grow-plant"},
	{"5-2", "grow-fruit"},
	{"6-1", "chemistry-mix"},
	{"6-2", "chemistry-mix-paint-secondary-color"},
	{"6-3", "chemistry-mix-paint-tertiary-color"},
	{"7-1", "lifespan-longest-lived"},
	{"7-2", "lifespan-shortest-lived"},
	{"7-3", "lifespan-longest-lived-then-shortest-lived"},
	{"8-1", "identify-life-stages-1"},
	{"8-2", "identify-life-stages-2"},
	{"9-1", "inclined-plane-determine-angle"},
	{"9-2", "inclined-plane-friction-named-surfaces"},
	{"9-3", "inclined-plane-friction-unnamed-surfaces"},
	{"10-1", "mendelian-genetics-known-plant"},
	{"10-2", "mendelian-genetics-unknown-plant"},
}

var taskIDPattern = regexp.MustCompile(`^\d+-\d+$`)

// Default returns the built-in catalog of 30 tasks.
func Default() *Catalog {
	c, _ := NewCatalog(defaultTasks)
	return c
}

// NewCatalog builds a catalog preserving the given order. Duplicate IDs or
// names and malformed IDs are rejected.
func NewCatalog(list []Task) (*Catalog, error) {
	c := &Catalog{
		tasks:  make([]Task, 0, len(list)),
		byID:   make(map[string]int, len(list)),
		byName: make(map[string]int, len(list)),
	}
	for _, t := range list {
		if !ValidID(t.ID) {
			return nil, errors.New(errors.CodeConfig, fmt.Sprintf("invalid task ID format %q", t.ID), nil)
		}
		if t.Name == "" {
			return nil, errors.New(errors.CodeConfig, fmt.Sprintf("task %s has no name", t.ID), nil)
		}
		if _, dup := c.byID[t.ID]; dup {
			return nil, errors.New(errors.CodeConfig, fmt.Sprintf("duplicate task ID %q", t.ID), nil)
		}
		if _, dup := c.byName[t.Name]; dup {
			return nil, errors.New(errors.CodeConfig, fmt.Sprintf("duplicate task name %q", t.Name), nil)
		}
		c.byID[t.ID] = len(c.tasks)
		c.byName[t.Name] = len(c.tasks)
		c.tasks = append(c.tasks, t)
	}
	return c, nil
}

type catalogFile struct {
	Tasks []Task `yaml:"tasks"`
}

// LoadCatalog reads a YAML catalog of the form:
//
//	tasks:
//	  - id: "1-1"
//	    name: boil
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.New(errors.CodeConfig, "read task catalog", err).WithContext("path", path)
	}
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.New(errors.CodeConfig, "parse task catalog", err).WithContext("path", path)
	}
	if len(f.Tasks) == 0 {
		return nil, errors.New(errors.CodeConfig, "task catalog is empty", nil).WithContext("path", path)
	}
	return NewCatalog(f.Tasks)
}

// Tasks returns the catalog entries in order.
func (c *Catalog) Tasks() []Task {
	out := make([]Task, len(c.tasks))
	copy(out, c.tasks)
	return out
}

// Len returns the number of tasks.
func (c *Catalog) Len() int { return len(c.tasks) }

// Lookup returns the task with the given ID.
func (c *Catalog) Lookup(id string) (Task, bool) {
	i, ok := c.byID[id]
	if !ok {
		return Task{}, false
	}
	return c.tasks[i], true
}

// IDForName maps a simulator task name back to its ID.
func (c *Catalog) IDForName(name string) (string, bool) {
	i, ok := c.byName[name]
	if !ok {
		return "", false
	}
	return c.tasks[i].ID, true
}

// Name returns the task name for id, or "unknown".
func (c *Catalog) Name(id string) string {
	if t, ok := c.Lookup(id); ok {
		return t.Name
	}
	return "unknown"
}

// Select returns the tasks named by ids in the given order, or the whole
// catalog when ids is empty. Unknown IDs are returned separately so callers
// can warn and continue.
func (c *Catalog) Select(ids []string) (selected []Task, unknown []string) {
	if len(ids) == 0 {
		return c.Tasks(), nil
	}
	for _, id := range ids {
		if t, ok := c.Lookup(id); ok {
			selected = append(selected, t)
		} else {
			unknown = append(unknown, id)
		}
	}
	return selected, unknown
}

// ValidID reports whether id has the "<topic>-<n>" shape.
func ValidID(id string) bool {
	return taskIDPattern.MatchString(id)
}

// ValidateIDs rejects malformed task identifiers.
func ValidateIDs(ids []string) error {
	var bad []string
	for _, id := range ids {
		if !ValidID(id) {
			bad = append(bad, id)
		}
	}
	if len(bad) > 0 {
		sort.Strings(bad)
		return errors.New(errors.CodeConfig,
			fmt.Sprintf("invalid task ID format: %s (expected like '1-1')", strings.Join(bad, ", ")), nil)
	}
	return nil
}
