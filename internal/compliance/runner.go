package compliance

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
)

// PipelineReport aggregates the outcome of one pipeline run.
type PipelineReport struct {
	Results      []ModuleResult
	FilesTouched []string
}

// Failed returns the IDs of modules that did not succeed.
func (r PipelineReport) Failed() []string {
	var failed []string
	for _, res := range r.Results {
		if !res.Success {
			failed = append(failed, res.ModuleID)
		}
	}
	return failed
}

// Runner executes compliance modules sequentially in declared order.
type Runner struct {
	modules []Module
	logger  *zap.Logger
}

// NewRunner creates a runner over the given modules.
func NewRunner(logger *zap.Logger, modules ...Module) *Runner {
	return &Runner{modules: modules, logger: logger}
}

// Applicable returns the modules that apply to the project, sorted by
// (order, id). The plan builder uses this to enumerate module steps.
func (r *Runner) Applicable(pc *ProjectContext) []Module {
	var applicable []Module
	for _, m := range r.modules {
		if m.Applies(pc) {
			applicable = append(applicable, m)
		}
	}
	sort.SliceStable(applicable, func(i, j int) bool {
		if applicable[i].Order() != applicable[j].Order() {
			return applicable[i].Order() < applicable[j].Order()
		}
		return applicable[i].ID() < applicable[j].ID()
	})
	return applicable
}

// RunModule executes one module, converting any returned error into a
// failed ModuleResult. Partial success is allowed: a failed module never
// stops later modules from running.
func (r *Runner) RunModule(ctx context.Context, m Module, pc *ProjectContext) ModuleResult {
	start := time.Now()
	result, err := m.Execute(ctx, pc)
	result.ModuleID = m.ID()
	result.Duration = time.Since(start)
	if err != nil {
		result.Success = false
		result.Error = err.Error()
		r.logger.Warn("compliance module failed",
			zap.String("module", m.ID()),
			zap.Error(err))
		return result
	}
	result.Success = true
	r.logger.Debug("compliance module completed",
		zap.String("module", m.ID()),
		zap.Duration("duration", result.Duration),
		zap.Int("files_created", len(result.FilesCreated)))
	return result
}

// Run executes every applicable module sequentially and aggregates results.
func (r *Runner) Run(ctx context.Context, pc *ProjectContext) PipelineReport {
	var report PipelineReport
	for _, m := range r.Applicable(pc) {
		result := r.RunModule(ctx, m, pc)
		report.Results = append(report.Results, result)
		report.FilesTouched = append(report.FilesTouched, result.FilesCreated...)
		report.FilesTouched = append(report.FilesTouched, result.FilesModified...)
	}
	return report
}
