package requirements

import (
	"context"
	"regexp"
	"strings"
)

// backtickName captures a `quoted-name` in the request text.
var backtickName = regexp.MustCompile("`([^`]+)`")

// namedPhrase captures "named foo" / "called foo" phrasing.
var namedPhrase = regexp.MustCompile(`(?i)\b(?:named|called)\s+([A-Za-z0-9._-]+)`)

// languageKeywords maps request keywords to canonical language names.
// Order matters: more specific entries are checked first.
var languageKeywords = []struct{ keyword, language string }{
	{"typescript", "typescript"},
	{"javascript", "javascript"},
	{"python", "python"},
	{"golang", "go"},
	{" go ", "go"},
	{"java", "java"},
	{"c#", "csharp"},
	{"csharp", "csharp"},
	{"dotnet", "csharp"},
	{".net", "csharp"},
	{"rust", "rust"},
}

// frameworkKeywords maps request keywords to canonical framework names.
var frameworkKeywords = []struct{ keyword, framework string }{
	{"fastapi", "fastapi"},
	{"flask", "flask"},
	{"django", "django"},
	{"express", "express"},
	{"nestjs", "nestjs"},
	{"spring", "spring"},
	{"gin", "gin"},
	{"echo", "echo"},
	{"chi", "chi"},
	{"actix", "actix"},
	{"asp.net", "aspnet"},
	{"aspnet", "aspnet"},
}

// featureKeywords maps request keywords to feature flags.
var featureKeywords = []struct{ keyword, feature string }{
	{"database", "database"},
	{"postgres", "database"},
	{"mysql", "database"},
	{"sqlite", "database"},
	{"docker", "docker"},
	{"container", "docker"},
	{"auth", "auth"},
	{"login", "auth"},
	{"sbom", "sbom"},
	{"rest api", "rest"},
	{"rest ", "rest"},
	{"http api", "rest"},
	{"cli", "cli"},
	{"command line", "cli"},
}

// HeuristicExtractor derives requirements from keyword and pattern scans.
// It is the fallback when no completion provider is configured or the
// provider fails.
type HeuristicExtractor struct{}

// NewHeuristicExtractor creates a keyword-based extractor.
func NewHeuristicExtractor() *HeuristicExtractor {
	return &HeuristicExtractor{}
}

// Extract scans the request text for a project name, language, framework
// and feature flags.
func (e *HeuristicExtractor) Extract(_ context.Context, text string) (ProjectRequirements, error) {
	req := ProjectRequirements{
		Description: strings.TrimSpace(text),
		Features:    map[string]bool{},
	}

	// Padded so boundary keywords like " go " match at the edges.
	lower := " " + strings.ToLower(text) + " "

	if m := backtickName.FindStringSubmatch(text); m != nil {
		req.Name = NormalizeName(m[1])
	} else if m := namedPhrase.FindStringSubmatch(text); m != nil {
		req.Name = NormalizeName(m[1])
	}

	for _, kw := range languageKeywords {
		if strings.Contains(lower, kw.keyword) {
			req.Language = kw.language
			break
		}
	}
	for _, kw := range frameworkKeywords {
		if strings.Contains(lower, kw.keyword) {
			req.Framework = kw.framework
			break
		}
	}
	for _, kw := range featureKeywords {
		if strings.Contains(lower, kw.keyword) {
			req.Features[kw.feature] = true
		}
	}

	if err := req.Validate(); err != nil {
		return ProjectRequirements{}, err
	}
	return req, nil
}
