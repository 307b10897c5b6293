// Package requirements extracts structured project requirements from
// natural-language scaffolding requests.
package requirements

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoProjectName is returned when no project name can be determined
// from the request text.
var ErrNoProjectName = errors.New("could not determine a project name from the request")

// namePattern validates normalized project names for repository and
// filesystem safety.
var namePattern = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]*$`)

// ProjectRequirements is the structured form of a scaffolding request.
type ProjectRequirements struct {
	Name        string          `json:"name"`
	Language    string          `json:"language"`
	Framework   string          `json:"framework,omitempty"`
	Runtime     string          `json:"runtime,omitempty"`
	Description string          `json:"description"`
	Features    map[string]bool `json:"features,omitempty"`
}

// HasFeature reports whether the named feature flag is set.
func (r ProjectRequirements) HasFeature(name string) bool {
	return r.Features[name]
}

// Validate checks the requirements for completeness.
func (r ProjectRequirements) Validate() error {
	if r.Name == "" {
		return ErrNoProjectName
	}
	if !namePattern.MatchString(r.Name) {
		return fmt.Errorf("invalid project name %q: must be lowercase alphanumeric with dots, hyphens or underscores", r.Name)
	}
	if r.Language == "" {
		return fmt.Errorf("no language specified for project %q", r.Name)
	}
	return nil
}

// NormalizeName lowercases a candidate name and replaces whitespace with hyphens.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	return strings.Join(strings.Fields(name), "-")
}

// Extractor turns free-form request text into project requirements.
type Extractor interface {
	Extract(ctx context.Context, text string) (ProjectRequirements, error)
}
