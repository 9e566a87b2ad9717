package seed

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atelier-platform/production-engine/internal/domain"
	"github.com/atelier-platform/production-engine/internal/infrastructure/registry"
)

type recordingWriter struct {
	order       []string
	assignments []*domain.WorkerStageAssignment
	failOn      string
}

func (w *recordingWriter) note(kind string) error {
	w.order = append(w.order, kind)
	if kind == w.failOn {
		return errors.New("write failed")
	}
	return nil
}

func (w *recordingWriter) UpsertProduct(context.Context, *domain.Product) error {
	return w.note("product")
}

func (w *recordingWriter) UpsertBOMEntry(context.Context, domain.BOMEntry) error {
	return w.note("bom")
}

func (w *recordingWriter) UpsertMaterial(context.Context, *domain.Material) error {
	return w.note("material")
}

func (w *recordingWriter) UpsertAssignment(_ context.Context, a *domain.WorkerStageAssignment) error {
	w.assignments = append(w.assignments, a)
	return w.note("assignment")
}

const small = `
products:
  - id: SHIRT
    name: Dress shirt
materials:
  - id: POPLIN
    unit: m
    unit_cost: 12
    on_hand: 30
bill_of_materials:
  - product_id: SHIRT
    material_id: POPLIN
    quantity_per_unit: 1.8
    waste_percentage: 8
assignments:
  - worker_id: W-1
    stage_id: cutting
    role: cutter
    max_concurrent_tasks: 2
`

func TestParseAndApply(t *testing.T) {
	f, err := Parse([]byte(small))
	require.NoError(t, err)

	w := &recordingWriter{}
	summary, err := f.Apply(context.Background(), w)
	require.NoError(t, err)

	assert.Equal(t, Summary{Products: 1, BOMEntries: 1, Materials: 1, Assignments: 1}, summary)
	assert.Equal(t, []string{"material", "product", "bom", "assignment"}, w.order)

	require.Len(t, w.assignments, 1)
	assert.Equal(t, domain.AvailabilityAvailable, w.assignments[0].AvailabilityStatus)
	assert.Equal(t, 1.0, w.assignments[0].EfficiencyRating)
}

func TestApply_StopsOnError(t *testing.T) {
	f, err := Parse([]byte(small))
	require.NoError(t, err)

	w := &recordingWriter{failOn: "product"}
	summary, err := f.Apply(context.Background(), w)
	require.Error(t, err)
	assert.Equal(t, 1, summary.Materials)
	assert.Zero(t, summary.Products)
	assert.NotContains(t, w.order, "bom")
}

func TestParse_Rejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "products:\n  - id: A\n    price: 3\n"},
		{"unknown product in bom", "materials:\n  - id: M\nbill_of_materials:\n  - product_id: X\n    material_id: M\n    quantity_per_unit: 1\n"},
		{"unknown material in bom", "products:\n  - id: A\nbill_of_materials:\n  - product_id: A\n    material_id: M\n    quantity_per_unit: 1\n"},
		{"zero quantity", "products:\n  - id: A\nmaterials:\n  - id: M\nbill_of_materials:\n  - product_id: A\n    material_id: M\n    quantity_per_unit: 0\n"},
		{"negative stock", "materials:\n  - id: M\n    on_hand: -1\n"},
		{"no capacity", "assignments:\n  - worker_id: W\n    stage_id: cutting\n"},
		{"duplicate product", "products:\n  - id: A\n  - id: A\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestRepositorySeed_MatchesRegistry(t *testing.T) {
	f, err := ParseFile(filepath.Join("..", "..", "..", "config", "seed.yaml"))
	require.NoError(t, err)

	p, err := registry.ParseFile(filepath.Join("..", "..", "..", "config", "stages.yaml"))
	require.NoError(t, err)
	assert.NoError(t, f.CheckStages(p))

	f.Assignments = append(f.Assignments, domain.WorkerStageAssignment{WorkerID: "W-X", StageID: "dyeing", MaxConcurrentTasks: 1})
	assert.Error(t, f.CheckStages(p))
}
