package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	"pharmsync/internal/domain"
	"pharmsync/internal/events"
	"pharmsync/internal/models"
	"pharmsync/internal/registry"

	"github.com/rs/zerolog"
)

type fakeBackends struct {
	byID map[int64]*models.Backend
}

func (f *fakeBackends) GetBackend(_ context.Context, id int64) (*models.Backend, error) {
	b, ok := f.byID[id]
	if !ok {
		return nil, fmt.Errorf("backend %d: not found", id)
	}
	return b, nil
}

func (f *fakeBackends) GetBackendByName(_ context.Context, name string) (*models.Backend, error) {
	for _, b := range f.byID {
		if b.Name == name {
			return b, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeBackends) ListActiveBackends(context.Context) ([]*models.Backend, error) {
	var out []*models.Backend
	for _, b := range f.byID {
		if b.Active {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeBackends) SaveBackend(_ context.Context, b *models.Backend) error {
	f.byID[b.ID] = b
	return nil
}

type fakeWatermarks struct {
	mu     sync.Mutex
	values map[string]time.Time
	writes int
}

func newFakeWatermarks() *fakeWatermarks {
	return &fakeWatermarks{values: make(map[string]time.Time)}
}

func wmKey(backendID int64, entity models.EntityInfo) string {
	return fmt.Sprintf("%d/%s", backendID, entity.WatermarkKey)
}

func (f *fakeWatermarks) GetWatermark(_ context.Context, backendID int64, entity models.EntityInfo) (time.Time, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[wmKey(backendID, entity)]
	return v, ok, nil
}

func (f *fakeWatermarks) SetWatermark(_ context.Context, backendID int64, entity models.EntityInfo, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[wmKey(backendID, entity)] = at
	f.writes++
	return nil
}

func (f *fakeWatermarks) ResetWatermark(_ context.Context, backendID int64, entity models.EntityInfo) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.values, wmKey(backendID, entity))
	return nil
}

type fakeBindings struct {
	bindings []*models.Binding
}

func (f *fakeBindings) GetBinding(_ context.Context, backendID int64, entity models.EntityType, remoteID string) (*models.Binding, error) {
	for _, b := range f.bindings {
		if b.BackendID == backendID && b.Entity == entity && b.RemoteID == remoteID {
			return b, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeBindings) UpsertBinding(_ context.Context, b *models.Binding) error {
	f.bindings = append(f.bindings, b)
	return nil
}

func (f *fakeBindings) ListBindings(_ context.Context, entity models.EntityType) ([]*models.Binding, error) {
	var out []*models.Binding
	for _, b := range f.bindings {
		if b.Entity == entity {
			out = append(out, b)
		}
	}
	return out, nil
}

// remoteRecord is a row in the fake remote table.
type remoteRecord struct {
	id     string
	fields map[string]any
}

type searchCall struct {
	entity models.EntityType
	filter models.Filter
}

// fakeRemote serves every entity from in-memory rows and records calls.
type fakeRemote struct {
	mu     sync.Mutex
	rows   map[models.EntityType][]remoteRecord
	calls  []searchCall
	failOn func(entity models.EntityType, filter models.Filter) error
}

func newFakeRemote() *fakeRemote {
	return &fakeRemote{rows: make(map[models.EntityType][]remoteRecord)}
}

func (f *fakeRemote) add(entity models.EntityType, id string, fields map[string]any) {
	f.rows[entity] = append(f.rows[entity], remoteRecord{id: id, fields: fields})
}

func (f *fakeRemote) callsFor(entity models.EntityType) []searchCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []searchCall
	for _, c := range f.calls {
		if c.entity == entity {
			out = append(out, c)
		}
	}
	return out
}

func matches(rec remoteRecord, filter models.Filter) bool {
	for _, c := range filter.Conditions {
		v, ok := rec.fields[c.Field]
		if !ok {
			return false
		}
		switch want := c.Value.(type) {
		case time.Time:
			got := v.(time.Time)
			switch c.Op {
			case models.OpGte:
				if got.Before(want) {
					return false
				}
			case models.OpLt:
				if !got.Before(want) {
					return false
				}
			case models.OpGt:
				if !got.After(want) {
					return false
				}
			case models.OpLte:
				if got.After(want) {
					return false
				}
			case models.OpEq:
				if !got.Equal(want) {
					return false
				}
			}
		default:
			if fmt.Sprint(v) != fmt.Sprint(want) {
				return false
			}
		}
	}
	return true
}

type entityAdapter struct {
	remote *fakeRemote
	entity models.EntityType
}

func (a entityAdapter) Search(_ context.Context, _ *models.Backend, filter models.Filter) ([]string, error) {
	f := a.remote
	f.mu.Lock()
	f.calls = append(f.calls, searchCall{entity: a.entity, filter: filter})
	failOn := f.failOn
	f.mu.Unlock()

	if failOn != nil {
		if err := failOn(a.entity, filter); err != nil {
			return nil, err
		}
	}
	var ids []string
	for _, rec := range f.rows[a.entity] {
		if matches(rec, filter) {
			ids = append(ids, rec.id)
		}
	}
	return ids, nil
}

func (a entityAdapter) Read(_ context.Context, _ *models.Backend, remoteID string, _ []string) (map[string]any, error) {
	for _, rec := range a.remote.rows[a.entity] {
		if rec.id == remoteID {
			return rec.fields, nil
		}
	}
	return nil, errors.New("not found")
}

type fakeRunner struct {
	mu    sync.Mutex
	tasks []*models.ImportTask
	err   error
}

func (f *fakeRunner) Submit(_ context.Context, task *models.ImportTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.tasks = append(f.tasks, task)
	return nil
}

func (f *fakeRunner) remoteIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.tasks))
	for _, t := range f.tasks {
		ids = append(ids, t.RemoteID)
	}
	return ids
}

type fakeImporter struct {
	mu       sync.Mutex
	imported []*models.ImportTask
	err      error
}

func (f *fakeImporter) ImportRecord(_ context.Context, task *models.ImportTask) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.imported = append(f.imported, task)
	return nil
}

type recordedEvents struct {
	mu     sync.Mutex
	events []*events.Event
}

func (r *recordedEvents) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.Type)
	}
	return out
}

type harness struct {
	scheduler  *Scheduler
	backend    *models.Backend
	backends   *fakeBackends
	watermarks *fakeWatermarks
	bindings   *fakeBindings
	remote     *fakeRemote
	runner     *fakeRunner
	importer   *fakeImporter
	events     *recordedEvents
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func newHarness(t *testing.T, locker domain.PassLocker) *harness {
	t.Helper()
	remote := newFakeRemote()
	remote.add(models.EntityStore, "1", map[string]any{"name": "main street"})

	reg, err := registry.Default(nil, func(info models.EntityInfo) domain.RemoteAdapter {
		return entityAdapter{remote: remote, entity: info.Type}
	})
	if err != nil {
		t.Fatalf("registry: %v", err)
	}

	backend := models.NewBackend("main")
	backend.ID = 1
	backend.Driver = models.DriverSQLite
	backend.Server = "remote.db"
	backend.DateDataStart = date(2020, 1, 1)
	backend.ImportInverse = false

	h := &harness{
		backend:    backend,
		backends:   &fakeBackends{byID: map[int64]*models.Backend{1: backend}},
		watermarks: newFakeWatermarks(),
		bindings:   &fakeBindings{},
		remote:     remote,
		runner:     &fakeRunner{},
		importer:   &fakeImporter{},
		events:     &recordedEvents{},
	}

	bus := events.NewEventBus()
	for _, typ := range []string{events.EventImportPassCompleted, events.EventImportPassFailed, events.EventResyncRequested} {
		bus.Subscribe(typ, func(e *events.Event) error {
			h.events.mu.Lock()
			h.events.events = append(h.events.events, e)
			h.events.mu.Unlock()
			return nil
		})
	}

	logger := zerolog.Nop()
	h.scheduler = New(Deps{
		Backends:   h.backends,
		Watermarks: h.watermarks,
		Bindings:   h.bindings,
		Registry:   reg,
		Runner:     h.runner,
		Importer:   h.importer,
		Locker:     locker,
		Events:     bus,
	}, Options{}, &logger)
	h.scheduler.SetClock(func() time.Time { return date(2020, 3, 15) })
	return h
}

func (h *harness) info(entity models.EntityType) models.EntityInfo {
	info, _ := h.scheduler.Registry().Info(entity)
	return info
}
