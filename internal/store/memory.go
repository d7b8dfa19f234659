package store

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/weavehq/weave/pkg/schema"
)

// MemoryStore is an in-memory Store used in tests. It mirrors the
// conditional-update semantics of the libSQL implementation, including
// the status-guarded node-state patch.
type MemoryStore struct {
	mu            sync.Mutex
	graphs        map[string]*GraphRecord
	runs          map[string]*Run
	events        map[string][]*Event // keyed by run ID
	webhookCfgs   map[string]*WebhookConfig // keyed by ID
	webhookEvents map[string]*WebhookEvent
	entities      map[string]*Entity
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		graphs:        make(map[string]*GraphRecord),
		runs:          make(map[string]*Run),
		events:        make(map[string][]*Event),
		webhookCfgs:   make(map[string]*WebhookConfig),
		webhookEvents: make(map[string]*WebhookEvent),
		entities:      make(map[string]*Entity),
	}
}

func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }
func (s *MemoryStore) Vacuum(ctx context.Context) error  { return nil }
func (s *MemoryStore) Close() error                      { return nil }

// --- Graphs ---

func (s *MemoryStore) CreateGraph(ctx context.Context, g *GraphRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *g
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	s.graphs[g.ID] = &cp
	return nil
}

func (s *MemoryStore) GetGraph(ctx context.Context, id string) (*GraphRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.graphs[id]
	if !ok {
		return nil, storeNotFound("graph", id)
	}
	cp := *g
	return &cp, nil
}

// --- Runs ---

func (s *MemoryStore) CreateRun(ctx context.Context, run *Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := cloneRun(run)
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = now
	}
	s.runs[run.ID] = cp
	return nil
}

func (s *MemoryStore) GetRun(ctx context.Context, id string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, storeNotFound("run", id)
	}
	return cloneRun(run), nil
}

func (s *MemoryStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return storeNotFound("run", id)
	}
	if update.Status != nil {
		run.Status = *update.Status
	}
	if update.EntityID != nil {
		run.EntityID = *update.EntityID
	}
	run.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var runs []*Run
	for _, run := range s.runs {
		if filter.Status != nil && run.Status != *filter.Status {
			continue
		}
		if filter.CanvasID != "" && run.CanvasID != filter.CanvasID {
			continue
		}
		if filter.Since != nil && run.CreatedAt.Before(*filter.Since) {
			continue
		}
		runs = append(runs, cloneRun(run))
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if filter.Offset > 0 {
		if filter.Offset >= len(runs) {
			return nil, nil
		}
		runs = runs[filter.Offset:]
	}
	if filter.Limit > 0 && len(runs) > filter.Limit {
		runs = runs[:filter.Limit]
	}
	return runs, nil
}

func (s *MemoryStore) UpdateNodeState(ctx context.Context, runID, nodeID string, patch NodeStatePatch) (*Run, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return nil, false, storeNotFound("run", runID)
	}
	ns, ok := run.NodeStates[nodeID]
	if !ok {
		return nil, false, storeNotFound("node_state", runID+"/"+nodeID)
	}

	applied := patch.ExpectStatus == nil || ns.Status == *patch.ExpectStatus
	if applied {
		if err := schema.GuardTransition(nodeID, ns.Status, patch.Status); err != nil {
			return nil, false, err
		}
		now := time.Now().UTC()
		ns.Status = patch.Status
		if patch.Input != nil {
			ns.Input = append(json.RawMessage(nil), patch.Input...)
		}
		if patch.Output != nil {
			ns.Output = append(json.RawMessage(nil), patch.Output...)
		}
		if patch.Error != "" {
			ns.Error = patch.Error
		}
		switch patch.Status {
		case schema.NodeStatusRunning, schema.NodeStatusWaitingForUser:
			if ns.StartedAt == nil {
				ns.StartedAt = &now
			}
		case schema.NodeStatusCompleted, schema.NodeStatusFailed:
			ns.CompletedAt = &now
		}
		run.UpdatedAt = now
	}
	return cloneRun(run), applied, nil
}

func (s *MemoryStore) InitNodeState(ctx context.Context, runID, nodeID string, ns *NodeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[runID]
	if !ok {
		return storeNotFound("run", runID)
	}
	if _, exists := run.NodeStates[nodeID]; exists {
		return nil
	}
	cp := *ns
	run.NodeStates[nodeID] = &cp
	return nil
}

// --- Events ---

func (s *MemoryStore) AppendEvent(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	list := s.events[event.RunID]
	event.Sequence = int64(len(list) + 1)
	event.ID = event.Sequence
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	cp := *event
	s.events[event.RunID] = append(list, &cp)
	return nil
}

func (s *MemoryStore) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Event
	for _, e := range s.events[runID] {
		if e.Sequence > since {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- Webhook configs ---

func (s *MemoryStore) UpsertWebhookConfig(ctx context.Context, cfg *WebhookConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *cfg
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.webhookCfgs[cfg.ID] = &cp
	return nil
}

func (s *MemoryStore) GetWebhookConfigBySlug(ctx context.Context, slug string) (*WebhookConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cfg := range s.webhookCfgs {
		if cfg.EndpointSlug == slug {
			cp := *cfg
			return &cp, nil
		}
	}
	return nil, storeNotFound("webhook_config", slug)
}

// --- Webhook events ---

func (s *MemoryStore) CreateWebhookEvent(ctx context.Context, ev *WebhookEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *ev
	now := time.Now().UTC()
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	if cp.UpdatedAt.IsZero() {
		cp.UpdatedAt = now
	}
	s.webhookEvents[ev.ID] = &cp
	return nil
}

func (s *MemoryStore) GetWebhookEvent(ctx context.Context, id string) (*WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.webhookEvents[id]
	if !ok {
		return nil, storeNotFound("webhook_event", id)
	}
	cp := *ev
	return &cp, nil
}

func (s *MemoryStore) UpdateWebhookEvent(ctx context.Context, id string, update WebhookEventUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.webhookEvents[id]
	if !ok {
		return storeNotFound("webhook_event", id)
	}
	if update.Status != nil {
		ev.Status = *update.Status
	}
	if update.EntityID != nil {
		ev.EntityID = *update.EntityID
	}
	if update.RunID != nil {
		ev.RunID = *update.RunID
	}
	if update.Error != nil {
		ev.Error = *update.Error
	}
	ev.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) ListWebhookEvents(ctx context.Context, filter WebhookEventFilter) ([]*WebhookEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*WebhookEvent
	for _, ev := range s.webhookEvents {
		if filter.WebhookConfigID != "" && ev.WebhookConfigID != filter.WebhookConfigID {
			continue
		}
		if filter.Status != nil && ev.Status != *filter.Status {
			continue
		}
		if filter.Before != nil && !ev.CreatedAt.Before(*filter.Before) {
			continue
		}
		cp := *ev
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) DeleteWebhookEventsBefore(ctx context.Context, filter WebhookEventFilter) (int64, error) {
	if filter.Before == nil {
		return 0, schema.NewError(schema.ErrCodeValidation, "retention delete requires a cutoff time")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, ev := range s.webhookEvents {
		if ev.CreatedAt.Before(*filter.Before) {
			delete(s.webhookEvents, id)
			n++
		}
	}
	return n, nil
}

// --- Entities ---

func (s *MemoryStore) UpsertEntity(ctx context.Context, e *Entity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := s.entities[e.ID]; ok {
		existing.Name = e.Name
		existing.Email = e.Email
		existing.EntityType = e.EntityType
		existing.Metadata = append(json.RawMessage(nil), e.Metadata...)
		existing.UpdatedAt = now
		return nil
	}
	cp := *e
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = now
	}
	cp.UpdatedAt = now
	s.entities[e.ID] = &cp
	return nil
}

func (s *MemoryStore) GetEntity(ctx context.Context, id string) (*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[id]
	if !ok {
		return nil, storeNotFound("entity", id)
	}
	cp := *e
	return &cp, nil
}

func (s *MemoryStore) FindEntityByEmail(ctx context.Context, canvasID, email string) (*Entity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entities {
		if e.CanvasID == canvasID && e.Email == email && email != "" {
			cp := *e
			return &cp, nil
		}
	}
	return nil, storeNotFound("entity", canvasID+"/"+email)
}

func (s *MemoryStore) PlaceEntity(ctx context.Context, entityID, position string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entities[entityID]
	if !ok {
		return storeNotFound("entity", entityID)
	}
	e.Position = position
	e.UpdatedAt = time.Now().UTC()
	return nil
}

func cloneRun(run *Run) *Run {
	cp := *run
	cp.NodeStates = make(map[string]*NodeState, len(run.NodeStates))
	for id, ns := range run.NodeStates {
		nsCp := *ns
		cp.NodeStates[id] = &nsCp
	}
	return &cp
}
