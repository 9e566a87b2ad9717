package domain

import (
	"errors"
	"fmt"
	"slices"
)

// WorkflowStage is one step of the production pipeline
type WorkflowStage struct {
	StageID                 string   `yaml:"id" bson:"stageId" json:"stageId"`
	Name                    string   `yaml:"name" bson:"name" json:"name"`
	Sequence                int      `yaml:"sequence" bson:"sequence" json:"sequence"`
	RequiredRole            string   `yaml:"required_role" bson:"requiredRole" json:"requiredRole"`
	EstimatedMinutes        float64  `yaml:"estimated_minutes" bson:"estimatedMinutes" json:"estimatedMinutes"`
	MinWorkers              int      `yaml:"min_workers" bson:"minWorkers" json:"minWorkers"`
	MaxWorkers              int      `yaml:"max_workers" bson:"maxWorkers" json:"maxWorkers"`
	AllowsParallel          bool     `yaml:"allows_parallel" bson:"allowsParallel" json:"allowsParallel"`
	RequiresQualityCheck    bool     `yaml:"requires_quality_check" bson:"requiresQualityCheck" json:"requiresQualityCheck"`
	AutoStart               bool     `yaml:"auto_start" bson:"autoStart" json:"autoStart"`
	AutoComplete            bool     `yaml:"auto_complete" bson:"autoComplete" json:"autoComplete"`
	IsCritical              bool     `yaml:"is_critical" bson:"isCritical" json:"isCritical"`
	RequiredForProductTypes []string `yaml:"required_for_product_types" bson:"requiredForProductTypes" json:"requiredForProductTypes,omitempty"`
}

// Skippable reports whether the stage may be skipped for productType
func (s WorkflowStage) Skippable(productType string) bool {
	if s.IsCritical {
		return false
	}
	return productType == "" || !slices.Contains(s.RequiredForProductTypes, productType)
}

// Pipeline is an immutable, sequence-ordered set of stages
type Pipeline struct {
	stages []WorkflowStage
	index  map[string]int
}

// NewPipeline validates stages and orders them by sequence
func NewPipeline(stages []WorkflowStage) (*Pipeline, error) {
	if len(stages) == 0 {
		return nil, errors.New("pipeline must define at least one stage")
	}

	sorted := slices.Clone(stages)
	slices.SortFunc(sorted, func(a, b WorkflowStage) int { return a.Sequence - b.Sequence })

	p := &Pipeline{stages: sorted, index: make(map[string]int, len(sorted))}
	seen := make(map[int]string, len(sorted))
	var errs []error
	for i, s := range sorted {
		if s.StageID == "" {
			errs = append(errs, fmt.Errorf("stage at sequence %d has no id", s.Sequence))
			continue
		}
		if _, dup := p.index[s.StageID]; dup {
			errs = append(errs, fmt.Errorf("stage %s is defined twice", s.StageID))
		}
		if other, dup := seen[s.Sequence]; dup {
			errs = append(errs, fmt.Errorf("stages %s and %s share sequence %d", other, s.StageID, s.Sequence))
		}
		if s.RequiredRole == "" {
			errs = append(errs, fmt.Errorf("stage %s has no required role", s.StageID))
		}
		if s.EstimatedMinutes <= 0 {
			errs = append(errs, fmt.Errorf("stage %s must have positive estimated minutes", s.StageID))
		}
		if s.MaxWorkers > 0 && s.MinWorkers > s.MaxWorkers {
			errs = append(errs, fmt.Errorf("stage %s has min workers above max workers", s.StageID))
		}
		p.index[s.StageID] = i
		seen[s.Sequence] = s.StageID
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return p, nil
}

// Stages returns the stages ordered by sequence
func (p *Pipeline) Stages() []WorkflowStage {
	return slices.Clone(p.stages)
}

// Len is the number of stages
func (p *Pipeline) Len() int { return len(p.stages) }

// Get looks up a stage by id
func (p *Pipeline) Get(stageID string) (WorkflowStage, error) {
	i, ok := p.index[stageID]
	if !ok {
		return WorkflowStage{}, fmt.Errorf("%w: %s", ErrStageNotFound, stageID)
	}
	return p.stages[i], nil
}

// First is the lowest-sequence stage
func (p *Pipeline) First() WorkflowStage { return p.stages[0] }

// Final is the highest-sequence stage
func (p *Pipeline) Final() WorkflowStage { return p.stages[len(p.stages)-1] }

// IsFinal reports whether stageID is the last stage
func (p *Pipeline) IsFinal(stageID string) bool {
	return p.Final().StageID == stageID
}

// Next returns the stage after stageID in sequence order
func (p *Pipeline) Next(stageID string) (WorkflowStage, bool) {
	i, ok := p.index[stageID]
	if !ok || i+1 >= len(p.stages) {
		return WorkflowStage{}, false
	}
	return p.stages[i+1], true
}

// Predecessors returns every stage with a lower sequence
func (p *Pipeline) Predecessors(stageID string) []WorkflowStage {
	i, ok := p.index[stageID]
	if !ok {
		return nil
	}
	return slices.Clone(p.stages[:i])
}

// TotalEstimatedMinutes sums the estimates of every stage
func (p *Pipeline) TotalEstimatedMinutes() float64 {
	total := 0.0
	for _, s := range p.stages {
		total += s.EstimatedMinutes
	}
	return total
}
