// Package template provides the project template catalog: matching a
// template to project requirements, planning its file list without writes,
// and rendering it into a workspace.
package template

import (
	"errors"
	"strconv"
	"strings"
)

// ErrNoMatchingTemplate is returned when no catalog template fits the
// requested language and framework.
var ErrNoMatchingTemplate = errors.New("no template matches the requested language and framework")

// FileSpec is one file in a template manifest. Path and Content are
// text/template bodies evaluated against the project requirements.
type FileSpec struct {
	Path    string `yaml:"path"`
	Group   string `yaml:"group"`
	Content string `yaml:"content"`
}

// Template describes one scaffolding template.
type Template struct {
	ID        string     `yaml:"id"`
	Name      string     `yaml:"name"`
	Language  string     `yaml:"language"`
	Framework string     `yaml:"framework"`
	Version   string     `yaml:"version"`
	Files     []FileSpec `yaml:"files"`
}

// FileGroups returns the distinct file groups in manifest order.
func (t Template) FileGroups() []string {
	seen := map[string]bool{}
	var groups []string
	for _, f := range t.Files {
		group := f.Group
		if group == "" {
			group = "core"
		}
		if !seen[group] {
			seen[group] = true
			groups = append(groups, group)
		}
	}
	return groups
}

// PlannedFile is one file a template would produce, computed without
// touching the filesystem.
type PlannedFile struct {
	Path  string `json:"path"`
	Group string `json:"group"`
}

// compareVersions compares dotted numeric versions, returning
// -1, 0 or 1. Non-numeric segments compare lexically.
func compareVersions(a, b string) int {
	as := strings.Split(a, ".")
	bs := strings.Split(b, ".")
	for i := 0; i < len(as) || i < len(bs); i++ {
		var av, bv string
		if i < len(as) {
			av = as[i]
		}
		if i < len(bs) {
			bv = bs[i]
		}
		ai, aerr := strconv.Atoi(av)
		bi, berr := strconv.Atoi(bv)
		if aerr == nil && berr == nil {
			if ai != bi {
				if ai < bi {
					return -1
				}
				return 1
			}
			continue
		}
		if av != bv {
			if av < bv {
				return -1
			}
			return 1
		}
	}
	return 0
}
