// Package policy evaluates governance rules against a proposed execution
// plan. Evaluation is a pure function of the requirements, the selected
// template and the planned files; rules never have side effects.
package policy

import (
	"strings"

	"github.com/fyrsmithlabs/scaffoldd/internal/requirements"
	"github.com/fyrsmithlabs/scaffoldd/internal/template"
)

// Outcome classifies a verdict.
type Outcome string

const (
	OutcomePass    Outcome = "pass"
	OutcomeFail    Outcome = "fail"
	OutcomeWarning Outcome = "warning"
)

// Verdict is the result of one rule against the plan inputs.
type Verdict struct {
	RuleID  string  `json:"rule_id"`
	Outcome Outcome `json:"outcome"`
	Message string  `json:"message"`
}

// Input carries everything a rule may inspect.
type Input struct {
	Requirements requirements.ProjectRequirements
	Template     template.Template
	PlannedFiles []template.PlannedFile
}

// Rule is one governance rule.
type Rule interface {
	ID() string
	Evaluate(in Input) Verdict
}

// Engine runs a fixed rule set in order.
type Engine struct {
	rules []Rule
}

// NewEngine creates an engine over the given rules.
func NewEngine(rules ...Rule) *Engine {
	return &Engine{rules: rules}
}

// Evaluate runs every rule and returns verdicts in rule order.
func (e *Engine) Evaluate(in Input) []Verdict {
	verdicts := make([]Verdict, 0, len(e.rules))
	for _, r := range e.rules {
		verdicts = append(verdicts, r.Evaluate(in))
	}
	return verdicts
}

// AnyFailed reports whether any verdict has a fail outcome.
func AnyFailed(verdicts []Verdict) bool {
	for _, v := range verdicts {
		if v.Outcome == OutcomeFail {
			return true
		}
	}
	return false
}

// Failures returns only the failing verdicts.
func Failures(verdicts []Verdict) []Verdict {
	var failed []Verdict
	for _, v := range verdicts {
		if v.Outcome == OutcomeFail {
			failed = append(failed, v)
		}
	}
	return failed
}

// DefaultRules returns the built-in rule set. allowedLanguages may be
// empty to allow every language.
func DefaultRules(allowedLanguages []string) []Rule {
	return []Rule{
		NamingRule{},
		LanguageAllowListRule{Allowed: allowedLanguages},
		RequiredFilesRule{Required: []string{"README.md", ".gitignore"}},
		DatabaseMigrationsRule{},
	}
}

// NamingRule requires a repository-safe project name. The requirements
// extractor already normalizes names, so a failure here means the request
// produced something unusable.
type NamingRule struct{}

func (NamingRule) ID() string { return "naming-convention" }

func (r NamingRule) Evaluate(in Input) Verdict {
	if err := in.Requirements.Validate(); err != nil {
		return Verdict{RuleID: r.ID(), Outcome: OutcomeFail, Message: err.Error()}
	}
	return Verdict{RuleID: r.ID(), Outcome: OutcomePass, Message: "project name is repository-safe"}
}

// LanguageAllowListRule fails plans whose language is outside the
// organization allow-list. An empty list allows everything with a warning.
type LanguageAllowListRule struct {
	Allowed []string
}

func (LanguageAllowListRule) ID() string { return "language-allow-list" }

func (r LanguageAllowListRule) Evaluate(in Input) Verdict {
	if len(r.Allowed) == 0 {
		return Verdict{RuleID: r.ID(), Outcome: OutcomeWarning, Message: "no language allow-list configured; all languages accepted"}
	}
	for _, lang := range r.Allowed {
		if strings.EqualFold(lang, in.Requirements.Language) {
			return Verdict{RuleID: r.ID(), Outcome: OutcomePass, Message: "language " + in.Requirements.Language + " is allowed"}
		}
	}
	return Verdict{RuleID: r.ID(), Outcome: OutcomeFail, Message: "language " + in.Requirements.Language + " is not in the organization allow-list"}
}

// RequiredFilesRule checks that the planned file list carries the
// organization's baseline files.
type RequiredFilesRule struct {
	Required []string
}

func (RequiredFilesRule) ID() string { return "required-files" }

func (r RequiredFilesRule) Evaluate(in Input) Verdict {
	planned := map[string]bool{}
	for _, f := range in.PlannedFiles {
		planned[f.Path] = true
	}
	var missing []string
	for _, path := range r.Required {
		if !planned[path] {
			missing = append(missing, path)
		}
	}
	if len(missing) > 0 {
		return Verdict{RuleID: r.ID(), Outcome: OutcomeFail, Message: "template is missing required files: " + strings.Join(missing, ", ")}
	}
	return Verdict{RuleID: r.ID(), Outcome: OutcomePass, Message: "all required baseline files are planned"}
}

// DatabaseMigrationsRule warns when a database-backed project plans no
// migrations group.
type DatabaseMigrationsRule struct{}

func (DatabaseMigrationsRule) ID() string { return "database-migrations" }

func (r DatabaseMigrationsRule) Evaluate(in Input) Verdict {
	if !in.Requirements.HasFeature("database") {
		return Verdict{RuleID: r.ID(), Outcome: OutcomePass, Message: "no database feature requested"}
	}
	for _, f := range in.PlannedFiles {
		if f.Group == "migrations" {
			return Verdict{RuleID: r.ID(), Outcome: OutcomePass, Message: "migrations file group planned"}
		}
	}
	return Verdict{RuleID: r.ID(), Outcome: OutcomeWarning, Message: "database feature requested but the template plans no migrations group"}
}
