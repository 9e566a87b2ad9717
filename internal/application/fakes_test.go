package application

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/atelier-platform/production-engine/pkg/logging"
	"github.com/atelier-platform/production-engine/pkg/metrics"
	pkgtesting "github.com/atelier-platform/production-engine/pkg/testing"

	"github.com/atelier-platform/production-engine/internal/domain"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

// memStore is an in-memory implementation of every repository. It stores
// copies, checks versions like the Mongo repositories and rolls back a unit
// of work that fails.
type memStore struct {
	mu sync.Mutex

	orders       map[string]*domain.Order
	progress     map[string]*domain.OrderStageProgress
	transitions  []*domain.StageTransition
	materials    map[string]*domain.Material
	reservations map[string]*domain.MaterialReservation
	products     map[string]*domain.Product
	bom          map[string][]domain.BOMEntry
	assignments  map[string]*domain.WorkerStageAssignment
	performance  map[string]*domain.WorkerPerformance

	// orderSaveHook runs before every order save; an error aborts the save
	orderSaveHook func(o *domain.Order) error
	transactions  int
	rollbacks     int
}

func newMemStore() *memStore {
	return &memStore{
		orders:       make(map[string]*domain.Order),
		progress:     make(map[string]*domain.OrderStageProgress),
		materials:    make(map[string]*domain.Material),
		reservations: make(map[string]*domain.MaterialReservation),
		products:     make(map[string]*domain.Product),
		bom:          make(map[string][]domain.BOMEntry),
		assignments:  make(map[string]*domain.WorkerStageAssignment),
		performance:  make(map[string]*domain.WorkerPerformance),
	}
}

func (m *memStore) repositories() Repositories {
	return Repositories{
		Orders:       memOrders{m},
		Progress:     memProgress{m},
		Transitions:  memTransitions{m},
		Materials:    memMaterials{m},
		Reservations: memReservations{m},
		Catalog:      memCatalog{m},
		Assignments:  memAssignments{m},
		Performance:  memPerformance{m},
		UnitOfWork:   memUnitOfWork{m},
	}
}

func copyOrder(o *domain.Order) *domain.Order {
	c := *o
	c.Items = slices.Clone(o.Items)
	c.DomainEvents = nil
	return &c
}

func copyRow(r *domain.OrderStageProgress) *domain.OrderStageProgress {
	c := *r
	c.MaterialUsage = maps.Clone(r.MaterialUsage)
	c.DomainEvents = nil
	return &c
}

func copyMaterial(x *domain.Material) *domain.Material { c := *x; return &c }

func copyReservation(r *domain.MaterialReservation) *domain.MaterialReservation {
	c := *r
	c.DomainEvents = nil
	return &c
}

func copyAssignment(a *domain.WorkerStageAssignment) *domain.WorkerStageAssignment {
	c := *a
	return &c
}

type memSnapshot struct {
	orders       map[string]*domain.Order
	progress     map[string]*domain.OrderStageProgress
	transitions  []*domain.StageTransition
	materials    map[string]*domain.Material
	reservations map[string]*domain.MaterialReservation
	assignments  map[string]*domain.WorkerStageAssignment
	performance  map[string]*domain.WorkerPerformance
}

func cloneMap[V any](in map[string]*V, cp func(*V) *V) map[string]*V {
	out := make(map[string]*V, len(in))
	for k, v := range in {
		out[k] = cp(v)
	}
	return out
}

func (m *memStore) snapshot() memSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return memSnapshot{
		orders:       cloneMap(m.orders, copyOrder),
		progress:     cloneMap(m.progress, copyRow),
		transitions:  slices.Clone(m.transitions),
		materials:    cloneMap(m.materials, copyMaterial),
		reservations: cloneMap(m.reservations, copyReservation),
		assignments:  cloneMap(m.assignments, copyAssignment),
		performance:  cloneMap(m.performance, func(p *domain.WorkerPerformance) *domain.WorkerPerformance { c := *p; return &c }),
	}
}

func (m *memStore) restore(s memSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders, m.progress, m.transitions = s.orders, s.progress, s.transitions
	m.materials, m.reservations = s.materials, s.reservations
	m.assignments, m.performance = s.assignments, s.performance
}

type memUnitOfWork struct{ m *memStore }

func (u memUnitOfWork) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	snap := u.m.snapshot()
	u.m.transactions++
	if err := fn(ctx); err != nil {
		u.m.restore(snap)
		u.m.rollbacks++
		return err
	}
	return nil
}

type memOrders struct{ m *memStore }

func (r memOrders) Create(_ context.Context, o *domain.Order) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.orders[o.OrderID]; ok {
		return fmt.Errorf("%w: %s", domain.ErrOrderExists, o.OrderID)
	}
	r.m.orders[o.OrderID] = copyOrder(o)
	return nil
}

func (r memOrders) Save(_ context.Context, o *domain.Order) error {
	if r.m.orderSaveHook != nil {
		if err := r.m.orderSaveHook(o); err != nil {
			return err
		}
	}
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	stored, ok := r.m.orders[o.OrderID]
	if !ok {
		return domain.ErrOrderNotFound
	}
	if stored.Version != o.Version {
		return domain.ErrConcurrentModification
	}
	o.Version++
	r.m.orders[o.OrderID] = copyOrder(o)
	return nil
}

func (r memOrders) FindByID(_ context.Context, orderID string) (*domain.Order, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	o, ok := r.m.orders[orderID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrOrderNotFound, orderID)
	}
	return copyOrder(o), nil
}

func (r memOrders) List(_ context.Context, f domain.OrderFilter, offset, limit int64) ([]*domain.Order, int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var all []*domain.Order
	for _, o := range r.m.orders {
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.CustomerID != "" && o.CustomerID != f.CustomerID {
			continue
		}
		all = append(all, copyOrder(o))
	}
	sort.Slice(all, func(i, j int) bool { return all[i].OrderID < all[j].OrderID })
	total := int64(len(all))
	if offset >= total {
		return []*domain.Order{}, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

type memProgress struct{ m *memStore }

func (r memProgress) CreateAll(_ context.Context, rows []*domain.OrderStageProgress) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, row := range rows {
		if _, ok := r.m.progress[row.ProgressID]; ok {
			return fmt.Errorf("duplicate progress %s", row.ProgressID)
		}
		r.m.progress[row.ProgressID] = copyRow(row)
	}
	return nil
}

func (r memProgress) Save(_ context.Context, row *domain.OrderStageProgress) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	stored, ok := r.m.progress[row.ProgressID]
	if !ok {
		return domain.ErrProgressNotFound
	}
	if stored.Version != row.Version {
		return domain.ErrConcurrentModification
	}
	row.Version++
	r.m.progress[row.ProgressID] = copyRow(row)
	return nil
}

func (r memProgress) FindByOrder(_ context.Context, orderID string) ([]*domain.OrderStageProgress, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*domain.OrderStageProgress
	for _, row := range r.m.progress {
		if row.OrderID == orderID {
			out = append(out, copyRow(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Sequence < out[j].Sequence })
	return out, nil
}

func within(t *time.Time, from, to time.Time) bool {
	return t != nil && !t.Before(from) && t.Before(to)
}

func (r memProgress) FindByWorker(_ context.Context, workerID string, from, to time.Time) ([]*domain.OrderStageProgress, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*domain.OrderStageProgress
	for _, row := range r.m.progress {
		current := row.WorkerID == workerID && (within(row.AssignedAt, from, to) || within(row.CompletedAt, from, to))
		previous := row.PreviousWorkerID == workerID && within(row.PreviousAssignedAt, from, to)
		if current || previous {
			out = append(out, copyRow(row))
		}
	}
	return out, nil
}

func (r memProgress) FindWorkersAssignedBetween(_ context.Context, from, to time.Time) ([]string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	seen := make(map[string]bool)
	for _, row := range r.m.progress {
		if row.WorkerID != "" && within(row.AssignedAt, from, to) {
			seen[row.WorkerID] = true
		}
		if row.PreviousWorkerID != "" && within(row.PreviousAssignedAt, from, to) {
			seen[row.PreviousWorkerID] = true
		}
	}
	return slices.Sorted(maps.Keys(seen)), nil
}

type memTransitions struct{ m *memStore }

func (r memTransitions) Append(_ context.Context, ts ...*domain.StageTransition) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, t := range ts {
		c := *t
		r.m.transitions = append(r.m.transitions, &c)
	}
	return nil
}

func (r memTransitions) FindByOrder(_ context.Context, orderID string) ([]*domain.StageTransition, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*domain.StageTransition
	for _, t := range r.m.transitions {
		if t.OrderID == orderID {
			c := *t
			out = append(out, &c)
		}
	}
	return out, nil
}

type memMaterials struct{ m *memStore }

func (r memMaterials) FindByID(_ context.Context, id string) (*domain.Material, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	x, ok := r.m.materials[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrMaterialNotFound, id)
	}
	return copyMaterial(x), nil
}

func (r memMaterials) FindByIDs(_ context.Context, ids []string) (map[string]*domain.Material, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make(map[string]*domain.Material)
	for _, id := range ids {
		if x, ok := r.m.materials[id]; ok {
			out[id] = copyMaterial(x)
		}
	}
	return out, nil
}

func (r memMaterials) List(_ context.Context) ([]*domain.Material, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*domain.Material
	for _, id := range slices.Sorted(maps.Keys(r.m.materials)) {
		out = append(out, copyMaterial(r.m.materials[id]))
	}
	return out, nil
}

func (r memMaterials) apply(id string, fn func(*domain.Material) error) (*domain.Material, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	x, ok := r.m.materials[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrMaterialNotFound, id)
	}
	c := copyMaterial(x)
	if err := fn(c); err != nil {
		return nil, err
	}
	r.m.materials[id] = c
	return copyMaterial(c), nil
}

func (r memMaterials) Reserve(_ context.Context, id string, q float64) (*domain.Material, error) {
	return r.apply(id, func(x *domain.Material) error { return x.Reserve(q) })
}

func (r memMaterials) Consume(_ context.Context, id string, reserved, actual float64) (*domain.Material, error) {
	return r.apply(id, func(x *domain.Material) error { return x.Consume(reserved, actual) })
}

func (r memMaterials) Release(_ context.Context, id string, q float64) (*domain.Material, error) {
	return r.apply(id, func(x *domain.Material) error { return x.Release(q) })
}

func (r memMaterials) SetReserved(_ context.Context, id string, reserved float64, expectedVersion int64) error {
	_, err := r.apply(id, func(x *domain.Material) error {
		if x.Version != expectedVersion {
			return domain.ErrConcurrentModification
		}
		x.Reserved = reserved
		x.Version++
		return nil
	})
	return err
}

func (r memMaterials) Upsert(_ context.Context, x *domain.Material) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.materials[x.MaterialID] = copyMaterial(x)
	return nil
}

type memReservations struct{ m *memStore }

func (r memReservations) CreateAll(_ context.Context, rs []*domain.MaterialReservation) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, x := range rs {
		r.m.reservations[x.ReservationID] = copyReservation(x)
	}
	return nil
}

func (r memReservations) Save(_ context.Context, x *domain.MaterialReservation) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	stored, ok := r.m.reservations[x.ReservationID]
	if !ok {
		return domain.ErrReservationNotFound
	}
	if stored.Version != x.Version {
		return domain.ErrConcurrentModification
	}
	x.Version++
	r.m.reservations[x.ReservationID] = copyReservation(x)
	return nil
}

func (r memReservations) FindByID(_ context.Context, id string) (*domain.MaterialReservation, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	x, ok := r.m.reservations[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", domain.ErrReservationNotFound, id)
	}
	return copyReservation(x), nil
}

func (r memReservations) filter(keep func(*domain.MaterialReservation) bool) []*domain.MaterialReservation {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*domain.MaterialReservation
	for _, x := range r.m.reservations {
		if keep(x) {
			out = append(out, copyReservation(x))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].MaterialID != out[j].MaterialID {
			return out[i].MaterialID < out[j].MaterialID
		}
		return out[i].ReservationID < out[j].ReservationID
	})
	return out
}

func (r memReservations) FindByOrder(_ context.Context, orderID string) ([]*domain.MaterialReservation, error) {
	return r.filter(func(x *domain.MaterialReservation) bool { return x.OrderID == orderID }), nil
}

func (r memReservations) FindActiveByMaterial(_ context.Context, materialID string) ([]*domain.MaterialReservation, error) {
	return r.filter(func(x *domain.MaterialReservation) bool { return x.MaterialID == materialID && x.IsActive() }), nil
}

func (r memReservations) FindExpired(_ context.Context, before time.Time, limit int) ([]*domain.MaterialReservation, error) {
	out := r.filter(func(x *domain.MaterialReservation) bool { return x.IsExpired(before) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r memReservations) PinByOrder(_ context.Context, orderID string) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for _, x := range r.m.reservations {
		if x.OrderID == orderID && x.IsActive() && x.ExpiresAt != nil {
			x.Pin()
			x.Version++
			n++
		}
	}
	return n, nil
}

type memCatalog struct{ m *memStore }

func (r memCatalog) FindProducts(_ context.Context, ids []string) (map[string]*domain.Product, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make(map[string]*domain.Product)
	for _, id := range ids {
		if p, ok := r.m.products[id]; ok {
			c := *p
			out[id] = &c
		}
	}
	return out, nil
}

func (r memCatalog) FindBOM(_ context.Context, ids []string) (map[string][]domain.BOMEntry, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make(map[string][]domain.BOMEntry)
	for _, id := range ids {
		if entries, ok := r.m.bom[id]; ok {
			out[id] = slices.Clone(entries)
		}
	}
	return out, nil
}

func (r memCatalog) UpsertProduct(_ context.Context, p *domain.Product) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c := *p
	r.m.products[p.ProductID] = &c
	return nil
}

func (r memCatalog) UpsertBOMEntry(_ context.Context, e domain.BOMEntry) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	entries := slices.DeleteFunc(r.m.bom[e.ProductID], func(x domain.BOMEntry) bool { return x.MaterialID == e.MaterialID })
	r.m.bom[e.ProductID] = append(entries, e)
	return nil
}

type memAssignments struct{ m *memStore }

func assignmentKey(workerID, stageID string) string { return workerID + "/" + stageID }

func (r memAssignments) FindByStage(_ context.Context, stageID string) ([]*domain.WorkerStageAssignment, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*domain.WorkerStageAssignment
	for _, a := range r.m.assignments {
		if a.StageID == stageID {
			out = append(out, copyAssignment(a))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkerID < out[j].WorkerID })
	return out, nil
}

func (r memAssignments) FindByWorker(_ context.Context, workerID string) ([]*domain.WorkerStageAssignment, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []*domain.WorkerStageAssignment
	for _, a := range r.m.assignments {
		if a.WorkerID == workerID {
			out = append(out, copyAssignment(a))
		}
	}
	return out, nil
}

func (r memAssignments) Find(_ context.Context, workerID, stageID string) (*domain.WorkerStageAssignment, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	a, ok := r.m.assignments[assignmentKey(workerID, stageID)]
	if !ok {
		return nil, domain.ErrWorkerNotFound
	}
	return copyAssignment(a), nil
}

// Save expects the version the caller loaded plus the one TakeTask/ReleaseTask added
func (r memAssignments) Save(_ context.Context, a *domain.WorkerStageAssignment) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key := assignmentKey(a.WorkerID, a.StageID)
	stored, ok := r.m.assignments[key]
	if !ok {
		return domain.ErrWorkerNotFound
	}
	if stored.Version != a.Version-1 {
		return domain.ErrConcurrentModification
	}
	r.m.assignments[key] = copyAssignment(a)
	return nil
}

func (r memAssignments) Upsert(_ context.Context, a *domain.WorkerStageAssignment) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	r.m.assignments[assignmentKey(a.WorkerID, a.StageID)] = copyAssignment(a)
	return nil
}

func (r memAssignments) UpdateEfficiencyRating(_ context.Context, workerID string, rating float64) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, a := range r.m.assignments {
		if a.WorkerID == workerID {
			a.EfficiencyRating = rating
		}
	}
	return nil
}

type memPerformance struct{ m *memStore }

func performanceKey(workerID string, from, to time.Time) string {
	return workerID + "|" + from.Format(time.RFC3339) + "|" + to.Format(time.RFC3339)
}

func (r memPerformance) Upsert(_ context.Context, p *domain.WorkerPerformance) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	c := *p
	r.m.performance[performanceKey(p.WorkerID, p.PeriodStart, p.PeriodEnd)] = &c
	return nil
}

func (r memPerformance) Find(_ context.Context, workerID string, from, to time.Time) (*domain.WorkerPerformance, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	p, ok := r.m.performance[performanceKey(workerID, from, to)]
	if !ok {
		return nil, domain.ErrWorkerNotFound
	}
	c := *p
	return &c, nil
}

// recordingEvents keeps every recorded event type in order and hands the
// events on to next when set
type recordingEvents struct {
	mu    sync.Mutex
	types []string
	next  EventRecorder
}

func (r *recordingEvents) Record(ctx context.Context, orderID string, events ...domain.DomainEvent) error {
	r.mu.Lock()
	for _, e := range events {
		r.types = append(r.types, e.EventType())
	}
	next := r.next
	r.mu.Unlock()
	if next != nil {
		return next.Record(ctx, orderID, events...)
	}
	return nil
}

func (r *recordingEvents) recorded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.types)
}

type staticRegistry struct{ p *domain.Pipeline }

func (r staticRegistry) Pipeline() *domain.Pipeline { return r.p }

// harness wires the services over one memStore with a fixed clock
type harness struct {
	store        *memStore
	events       *recordingEvents
	clock        *pkgtesting.FixedClock
	pipeline     *domain.Pipeline
	reservations *ReservationService
	costs        *CostService
	workflow     *WorkflowService
	performance  *PerformanceService
}

var testRates = domain.CostRates{DefaultLaborCost: 120, LaborHourlyRate: 30, OverheadRate: 0.15, Tolerance: 0.15}

// tailoringPipeline is cutting, sewing, an optional embroidery stage and a
// final pressing stage that needs a quality check
func tailoringPipeline(t *testing.T) *domain.Pipeline {
	t.Helper()
	p, err := domain.NewPipeline([]domain.WorkflowStage{
		{StageID: "cutting", Name: "Cutting", Sequence: 1, RequiredRole: "cutter", EstimatedMinutes: 60, IsCritical: true},
		{StageID: "sewing", Name: "Sewing", Sequence: 2, RequiredRole: "tailor", EstimatedMinutes: 120, IsCritical: true},
		{StageID: "embroidery", Name: "Embroidery", Sequence: 3, RequiredRole: "embroiderer", EstimatedMinutes: 45},
		{StageID: "pressing", Name: "Pressing", Sequence: 4, RequiredRole: "presser", EstimatedMinutes: 30, IsCritical: true, RequiresQualityCheck: true},
	})
	require.NoError(t, err)
	return p
}

func newHarnessWith(t *testing.T, pipeline *domain.Pipeline) *harness {
	t.Helper()
	store := newMemStore()
	events := &recordingEvents{}
	clock := pkgtesting.NewFixedClock(t0)
	logger := logging.NewNop()
	m := metrics.New(metrics.DefaultConfig("test"))
	repos := store.repositories()
	registry := staticRegistry{p: pipeline}

	reservations := NewReservationService(repos, events, 72*time.Hour, m, logger)
	costs := NewCostService(repos, registry, testRates, logger)
	workflow := NewWorkflowService(repos, registry, reservations, costs, events, WorkflowConfig{
		DefaultCurrency: "USD",
		CostTolerance:   0.15,
		Ranking:         domain.DefaultRanking,
		Performance:     domain.DefaultPerformanceWeights(),
		CancelRetries:   3,
		RetryDelay:      time.Millisecond,
	}, m, logger).WithClock(clock.Now)
	performance := NewPerformanceService(repos, domain.DefaultPerformanceWeights(), logger).WithClock(clock.Now)

	h := &harness{
		store:        store,
		events:       events,
		clock:        clock,
		pipeline:     pipeline,
		reservations: reservations,
		costs:        costs,
		workflow:     workflow,
		performance:  performance,
	}
	h.seedCatalog()
	return h
}

func newHarness(t *testing.T) *harness {
	return newHarnessWith(t, tailoringPipeline(t))
}

// seedCatalog stocks a jacket made of wool, lining and buttons, and one
// qualified worker per stage
func (h *harness) seedCatalog() {
	labor := 200.0
	h.store.products["JACKET"] = &domain.Product{ProductID: "JACKET", Name: "Jacket", ProductType: "suit", LaborCost: &labor}
	h.store.bom["JACKET"] = []domain.BOMEntry{
		{ProductID: "JACKET", MaterialID: "WOOL", QuantityPerUnit: 2, WastePercentage: 10},
		{ProductID: "JACKET", MaterialID: "LINING", QuantityPerUnit: 1.5},
		{ProductID: "JACKET", MaterialID: "BUTTON", QuantityPerUnit: 4, StageID: "pressing"},
	}
	h.store.materials["WOOL"] = &domain.Material{MaterialID: "WOOL", Name: "Wool", Unit: "m", UnitCost: 25, OnHand: 100, LowStockThreshold: 5}
	h.store.materials["LINING"] = &domain.Material{MaterialID: "LINING", Name: "Lining", Unit: "m", UnitCost: 8, OnHand: 50}
	h.store.materials["BUTTON"] = &domain.Material{MaterialID: "BUTTON", Name: "Button", Unit: "pc", UnitCost: 0.5, OnHand: 200}

	for _, a := range []domain.WorkerStageAssignment{
		{WorkerID: "W-CUT", StageID: "cutting", Role: "cutter", MaxConcurrentTasks: 2},
		{WorkerID: "W-SEW", StageID: "sewing", Role: "tailor", MaxConcurrentTasks: 1},
		{WorkerID: "W-EMB", StageID: "embroidery", Role: "embroiderer", MaxConcurrentTasks: 1},
		{WorkerID: "W-PRS", StageID: "pressing", Role: "presser", MaxConcurrentTasks: 3},
	} {
		a.AvailabilityStatus = domain.AvailabilityAvailable
		a.SkillLevel = 3
		a.EfficiencyRating = 1
		h.store.assignments[assignmentKey(a.WorkerID, a.StageID)] = copyAssignment(&a)
	}
}

var ctx = context.Background()

// createOrder creates an order for quantity jackets
func (h *harness) createOrder(t *testing.T, orderID string, quantity int) {
	t.Helper()
	_, err := h.workflow.CreateOrder(ctx, CreateOrderCommand{
		OrderID:      orderID,
		CustomerID:   "C-1",
		ProductType:  "suit",
		Priority:     "normal",
		SellingPrice: 900,
		Items:        []OrderItemCommand{{ProductID: "JACKET", Quantity: quantity}},
		Actor:        "intake",
	})
	require.NoError(t, err)
}

// reservedOrder creates, accepts and reserves an order
func (h *harness) reservedOrder(t *testing.T, orderID string, quantity int) {
	t.Helper()
	h.createOrder(t, orderID, quantity)
	_, err := h.workflow.AcceptOrder(ctx, OrderActionCommand{OrderID: orderID, Actor: "manager"})
	require.NoError(t, err)
	_, err = h.workflow.ReserveMaterials(ctx, OrderActionCommand{OrderID: orderID, Actor: "manager"})
	require.NoError(t, err)
}

// runStage assigns, starts and completes a stage with the given minutes
func (h *harness) runStage(t *testing.T, orderID, stageID string, minutes float64) *StageProgressDTO {
	t.Helper()
	_, err := h.workflow.AssignStage(ctx, AssignStageCommand{OrderID: orderID, StageID: stageID})
	require.NoError(t, err)
	_, err = h.workflow.StartStage(ctx, StageCommand{OrderID: orderID, StageID: stageID})
	require.NoError(t, err)
	h.clock.Advance(time.Duration(minutes) * time.Minute)
	dto, err := h.workflow.CompleteStage(ctx, CompleteStageCommand{OrderID: orderID, StageID: stageID, ActualMinutes: &minutes})
	require.NoError(t, err)
	return dto
}

func (h *harness) material(id string) *domain.Material {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	return copyMaterial(h.store.materials[id])
}

func (h *harness) assignment(workerID, stageID string) *domain.WorkerStageAssignment {
	h.store.mu.Lock()
	defer h.store.mu.Unlock()
	return copyAssignment(h.store.assignments[assignmentKey(workerID, stageID)])
}

func (h *harness) order(t *testing.T, orderID string) *domain.Order {
	t.Helper()
	o, err := h.store.repositories().Orders.FindByID(ctx, orderID)
	require.NoError(t, err)
	return o
}
