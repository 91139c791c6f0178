// Package analysis provides the work functions executed for each analysis
// type. An analysis is a pipeline of named stages run in order; progress is
// reported after every stage and the pipeline stops at the first stage error
// or when its context is cancelled.
//
// The stage bodies shipped here are placeholders. The statistical routines
// themselves live outside this service and are plugged in with Register.
package analysis

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/phrazzld/analyze/internal/domain"
	"github.com/phrazzld/analyze/internal/task"
)

// StageFunc computes one stage of an analysis. Its output is stored in the
// task result under the stage name.
type StageFunc func(ctx context.Context, spec domain.AnalysisSpec) (any, error)

// Stage is a named step of an analysis pipeline.
type Stage struct {
	Name string
	Run  StageFunc

	// VisualizationOnly stages are skipped unless the request asked for
	// visualizations.
	VisualizationOnly bool
}

// Config holds configuration for the built-in pipelines
type Config struct {
	// StageDelay is how long each placeholder stage takes.
	StageDelay time.Duration
}

// DefaultConfig returns a Config with reasonable defaults
func DefaultConfig() Config {
	return Config{
		StageDelay: 500 * time.Millisecond,
	}
}

// Registry maps analysis types to pipelines. It implements task.WorkFactory.
type Registry struct {
	mu        sync.RWMutex
	pipelines map[domain.AnalysisType][]Stage
	logger    *slog.Logger
}

var _ task.WorkFactory = (*Registry)(nil)

// NewRegistry creates a Registry preloaded with the built-in pipelines.
func NewRegistry(config Config, logger *slog.Logger) *Registry {
	r := &Registry{
		pipelines: make(map[domain.AnalysisType][]Stage),
		logger:    logger.With("component", "analysis_registry"),
	}

	load := Stage{Name: "load", Run: placeholder(config.StageDelay, "dataset loaded")}
	profile := Stage{Name: "descriptive", Run: placeholder(config.StageDelay, "summary statistics computed")}
	tests := Stage{Name: "statistical", Run: placeholder(config.StageDelay, "hypothesis tests evaluated")}
	charts := Stage{Name: "visualization", Run: placeholder(config.StageDelay, "charts rendered"), VisualizationOnly: true}
	report := Stage{Name: "report", Run: placeholder(config.StageDelay, "report assembled")}

	r.Register(domain.AnalysisDescriptive, load, profile, charts, report)
	r.Register(domain.AnalysisStatistical, load, tests, charts, report)
	r.Register(domain.AnalysisComprehensive, load, profile, tests, charts, report)

	return r
}

// Register installs the pipeline for an analysis type, replacing any
// previous one.
func (r *Registry) Register(t domain.AnalysisType, stages ...Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pipelines[t] = append([]Stage(nil), stages...)
}

// WorkFor returns the work function for spec.
func (r *Registry) WorkFor(spec domain.AnalysisSpec) (task.WorkFunc, error) {
	r.mu.RLock()
	pipeline, ok := r.pipelines[spec.AnalysisType]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.NewValidationError("analysis_type", "has no registered pipeline", nil)
	}

	stages := make([]Stage, 0, len(pipeline))
	for _, s := range pipeline {
		if s.VisualizationOnly && !spec.IncludeVisualization {
			continue
		}
		stages = append(stages, s)
	}

	return func(ctx context.Context, progress task.Progress) (map[string]any, error) {
		return r.run(ctx, spec, stages, progress)
	}, nil
}

func (r *Registry) run(ctx context.Context, spec domain.AnalysisSpec, stages []Stage, progress task.Progress) (map[string]any, error) {
	logger := r.logger.With("dataset_name", spec.DatasetName, "analysis_type", spec.AnalysisType)

	result := map[string]any{
		"dataset_name":          spec.DatasetName,
		"analysis_type":         string(spec.AnalysisType),
		"include_visualization": spec.IncludeVisualization,
	}
	completed := make([]string, 0, len(stages))

	for i, stage := range stages {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("analysis interrupted before stage %s: %w", stage.Name, err)
		}

		logger.Debug("running analysis stage", "stage", stage.Name)
		out, err := stage.Run(ctx, spec)
		if err != nil {
			return nil, fmt.Errorf("stage %s failed: %w", stage.Name, err)
		}

		result[stage.Name] = out
		completed = append(completed, stage.Name)
		progress.Report((i + 1) * 100 / len(stages))
	}

	result["stages"] = completed
	return result, nil
}

// placeholder returns a stage body that waits for delay and reports a
// fixed summary.
func placeholder(delay time.Duration, summary string) StageFunc {
	return func(ctx context.Context, spec domain.AnalysisSpec) (any, error) {
		if delay > 0 {
			timer := time.NewTimer(delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		return map[string]any{"summary": summary}, nil
	}
}
