package template

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	texttemplate "text/template"

	"github.com/spf13/afero"

	"github.com/fyrsmithlabs/scaffoldd/internal/requirements"
)

// Engine is the templating collaborator contract used by the plan builder
// and the step executor.
type Engine interface {
	// Match returns candidate templates ordered best-first.
	Match(req requirements.ProjectRequirements) ([]Template, error)

	// Select returns the single best template, or ErrNoMatchingTemplate.
	Select(req requirements.ProjectRequirements) (Template, error)

	// Plan computes the files the template would produce, without writes.
	Plan(tmpl Template, req requirements.ProjectRequirements) ([]PlannedFile, error)

	// Render writes one file group into the workspace filesystem and
	// returns the written paths.
	Render(ctx context.Context, fs afero.Fs, tmpl Template, req requirements.ProjectRequirements, group string) ([]string, error)
}

// rank orders candidates: exact language+framework match beats
// language-only match; ties broken by version, highest first.
func rank(templates []Template, req requirements.ProjectRequirements) []Template {
	var exact, partial []Template
	for _, t := range templates {
		if t.Language != req.Language {
			continue
		}
		if req.Framework != "" && t.Framework == req.Framework {
			exact = append(exact, t)
		} else if t.Framework == "" || req.Framework == "" {
			partial = append(partial, t)
		}
	}
	byVersionDesc := func(ts []Template) {
		sort.SliceStable(ts, func(i, j int) bool {
			if c := compareVersions(ts[i].Version, ts[j].Version); c != 0 {
				return c > 0
			}
			return ts[i].ID < ts[j].ID
		})
	}
	byVersionDesc(exact)
	byVersionDesc(partial)
	return append(exact, partial...)
}

// renderString evaluates a text/template body against the requirements.
func renderString(name, body string, req requirements.ProjectRequirements) (string, error) {
	t, err := texttemplate.New(name).Parse(body)
	if err != nil {
		return "", fmt.Errorf("failed to parse template %s: %w", name, err)
	}
	var buf bytes.Buffer
	if err := t.Execute(&buf, req); err != nil {
		return "", fmt.Errorf("failed to render template %s: %w", name, err)
	}
	return buf.String(), nil
}

// planFiles resolves all file paths for the template.
func planFiles(tmpl Template, req requirements.ProjectRequirements) ([]PlannedFile, error) {
	planned := make([]PlannedFile, 0, len(tmpl.Files))
	for _, f := range tmpl.Files {
		p, err := renderString(tmpl.ID+":"+f.Path, f.Path, req)
		if err != nil {
			return nil, err
		}
		group := f.Group
		if group == "" {
			group = "core"
		}
		planned = append(planned, PlannedFile{Path: path.Clean(p), Group: group})
	}
	return planned, nil
}

// renderGroup writes the files belonging to one group.
func renderGroup(fs afero.Fs, tmpl Template, req requirements.ProjectRequirements, group string) ([]string, error) {
	var written []string
	for _, f := range tmpl.Files {
		fileGroup := f.Group
		if fileGroup == "" {
			fileGroup = "core"
		}
		if fileGroup != group {
			continue
		}
		target, err := renderString(tmpl.ID+":"+f.Path, f.Path, req)
		if err != nil {
			return written, err
		}
		target = path.Clean(target)
		content, err := renderString(tmpl.ID+":"+f.Path+":content", f.Content, req)
		if err != nil {
			return written, err
		}
		if dir := path.Dir(target); dir != "." {
			if err := fs.MkdirAll(dir, 0o755); err != nil {
				return written, fmt.Errorf("failed to create %s: %w", dir, err)
			}
		}
		if err := afero.WriteFile(fs, target, []byte(content), 0o644); err != nil {
			return written, fmt.Errorf("failed to write %s: %w", target, err)
		}
		written = append(written, target)
	}
	return written, nil
}
