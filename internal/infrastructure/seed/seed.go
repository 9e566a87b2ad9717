// Package seed loads catalog, stock and worker reference data from YAML.
package seed

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/atelier-platform/production-engine/internal/domain"
)

// File is the seed document
type File struct {
	Products    []domain.Product               `yaml:"products"`
	BOM         []domain.BOMEntry              `yaml:"bill_of_materials"`
	Materials   []domain.Material              `yaml:"materials"`
	Assignments []domain.WorkerStageAssignment `yaml:"assignments"`
}

// Summary counts what Apply wrote
type Summary struct {
	Products    int
	BOMEntries  int
	Materials   int
	Assignments int
}

// Writer is the persistence Apply writes through
type Writer interface {
	UpsertProduct(ctx context.Context, product *domain.Product) error
	UpsertBOMEntry(ctx context.Context, entry domain.BOMEntry) error
	UpsertMaterial(ctx context.Context, material *domain.Material) error
	UpsertAssignment(ctx context.Context, assignment *domain.WorkerStageAssignment) error
}

// Parse decodes and validates a seed document
func Parse(data []byte) (*File, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var f File
	if err := dec.Decode(&f); err != nil {
		return nil, fmt.Errorf("failed to decode seed file: %w", err)
	}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// ParseFile reads and parses path
func ParseFile(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read seed file: %w", err)
	}
	return Parse(data)
}

// Validate checks references between sections and the quantity rules
func (f *File) Validate() error {
	var errs []error

	products := make(map[string]bool, len(f.Products))
	for _, p := range f.Products {
		if p.ProductID == "" {
			errs = append(errs, errors.New("product without id"))
			continue
		}
		if products[p.ProductID] {
			errs = append(errs, fmt.Errorf("product %s listed twice", p.ProductID))
		}
		products[p.ProductID] = true
	}

	materials := make(map[string]bool, len(f.Materials))
	for _, m := range f.Materials {
		if m.MaterialID == "" {
			errs = append(errs, errors.New("material without id"))
			continue
		}
		if m.OnHand < 0 || m.UnitCost < 0 {
			errs = append(errs, fmt.Errorf("material %s: on hand and unit cost must not be negative", m.MaterialID))
		}
		materials[m.MaterialID] = true
	}

	for _, b := range f.BOM {
		if !products[b.ProductID] {
			errs = append(errs, fmt.Errorf("bill of materials references unknown product %s", b.ProductID))
		}
		if !materials[b.MaterialID] {
			errs = append(errs, fmt.Errorf("bill of materials references unknown material %s", b.MaterialID))
		}
		if b.QuantityPerUnit <= 0 || b.WastePercentage < 0 {
			errs = append(errs, fmt.Errorf("bill of materials %s/%s: quantity must be positive and waste not negative", b.ProductID, b.MaterialID))
		}
	}

	for _, a := range f.Assignments {
		if a.WorkerID == "" || a.StageID == "" {
			errs = append(errs, errors.New("assignment needs worker_id and stage_id"))
		}
		if a.MaxConcurrentTasks < 1 {
			errs = append(errs, fmt.Errorf("assignment %s/%s: max_concurrent_tasks must be at least 1", a.WorkerID, a.StageID))
		}
	}
	return errors.Join(errs...)
}

// CheckStages rejects assignments to stages the pipeline does not define
func (f *File) CheckStages(p *domain.Pipeline) error {
	var errs []error
	for _, a := range f.Assignments {
		if _, err := p.Get(a.StageID); err != nil {
			errs = append(errs, fmt.Errorf("assignment %s references unknown stage %s", a.WorkerID, a.StageID))
		}
	}
	for _, b := range f.BOM {
		if b.StageID == "" {
			continue
		}
		if _, err := p.Get(b.StageID); err != nil {
			errs = append(errs, fmt.Errorf("bill of materials %s/%s references unknown stage %s", b.ProductID, b.MaterialID, b.StageID))
		}
	}
	return errors.Join(errs...)
}

// Apply upserts the document, materials first so bill of materials lines
// never point at a missing row
func (f *File) Apply(ctx context.Context, w Writer) (Summary, error) {
	var s Summary
	for i := range f.Materials {
		if err := w.UpsertMaterial(ctx, &f.Materials[i]); err != nil {
			return s, err
		}
		s.Materials++
	}
	for i := range f.Products {
		if err := w.UpsertProduct(ctx, &f.Products[i]); err != nil {
			return s, err
		}
		s.Products++
	}
	for _, b := range f.BOM {
		if err := w.UpsertBOMEntry(ctx, b); err != nil {
			return s, err
		}
		s.BOMEntries++
	}
	for i := range f.Assignments {
		a := &f.Assignments[i]
		if a.AvailabilityStatus == "" {
			a.AvailabilityStatus = domain.AvailabilityAvailable
		}
		if a.EfficiencyRating == 0 {
			a.EfficiencyRating = 1
		}
		if err := w.UpsertAssignment(ctx, a); err != nil {
			return s, err
		}
		s.Assignments++
	}
	return s, nil
}
