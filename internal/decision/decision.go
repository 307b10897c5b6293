// Package decision provides an append-only log of architecture decision
// records produced by compliance modules during scaffolding.
package decision

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

// Alternative is one option a module considered and rejected.
type Alternative struct {
	Option string `json:"option"`
	Reason string `json:"reason"`
}

// Decision is one architecture decision record.
type Decision struct {
	Seq          int           `json:"seq"`
	Title        string        `json:"title"`
	Context      string        `json:"context"`
	Decision     string        `json:"decision"`
	Rationale    string        `json:"rationale"`
	Category     string        `json:"category"`
	Alternatives []Alternative `json:"alternatives,omitempty"`
	Consequences []string      `json:"consequences,omitempty"`
	RelatedFiles []string      `json:"related_files,omitempty"`
	RecordedAt   time.Time     `json:"recorded_at"`
}

// Log is an append-only, ordered decision record. Entries are never
// edited or removed; sequence numbers increase strictly from 1.
type Log struct {
	mu      sync.Mutex
	entries []Decision
}

// NewLog creates an empty decision log.
func NewLog() *Log {
	return &Log{}
}

// Append records a decision and returns it with its assigned sequence number.
func (l *Log) Append(d Decision) Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	d.Seq = len(l.entries) + 1
	if d.RecordedAt.IsZero() {
		d.RecordedAt = time.Now().UTC()
	}
	l.entries = append(l.entries, d)
	return d
}

// Entries returns a copy of all recorded decisions in append order.
func (l *Log) Entries() []Decision {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Decision, len(l.entries))
	copy(out, l.entries)
	return out
}

// Len returns the number of recorded decisions.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Filename returns the ADR file name for a decision, e.g.
// "0003-default-branch-protection.md".
func Filename(d Decision) string {
	slug := strings.ToLower(d.Title)
	slug = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r == ' ', r == '-', r == '_':
			return '-'
		default:
			return -1
		}
	}, slug)
	slug = strings.Trim(slug, "-")
	return fmt.Sprintf("%04d-%s.md", d.Seq, slug)
}

// RenderMarkdown produces the ADR document body for a decision.
func RenderMarkdown(d Decision) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# %d. %s\n\n", d.Seq, d.Title)
	fmt.Fprintf(&sb, "Date: %s\n\nStatus: Accepted\n\n", d.RecordedAt.Format("2006-01-02"))
	fmt.Fprintf(&sb, "## Context\n\n%s\n\n", d.Context)
	fmt.Fprintf(&sb, "## Decision\n\n%s\n\n", d.Decision)
	if d.Rationale != "" {
		fmt.Fprintf(&sb, "## Rationale\n\n%s\n\n", d.Rationale)
	}
	if len(d.Alternatives) > 0 {
		sb.WriteString("## Alternatives Considered\n\n")
		for _, a := range d.Alternatives {
			fmt.Fprintf(&sb, "- **%s** — %s\n", a.Option, a.Reason)
		}
		sb.WriteString("\n")
	}
	if len(d.Consequences) > 0 {
		sb.WriteString("## Consequences\n\n")
		for _, c := range d.Consequences {
			fmt.Fprintf(&sb, "- %s\n", c)
		}
		sb.WriteString("\n")
	}
	return sb.String()
}
