package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/weavehq/weave/pkg/schema"
)

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db}, nil
}

// DB returns the underlying *sql.DB for advanced usage.
func (s *LibSQLStore) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// --- Graphs ---

func (s *LibSQLStore) CreateGraph(ctx context.Context, g *GraphRecord) error {
	def, err := json.Marshal(g.Definition)
	if err != nil {
		return fmt.Errorf("marshal graph definition: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO graphs (id, canvas_id, name, definition, created_at) VALUES (?, ?, ?, ?, ?)`,
		g.ID, g.CanvasID, nullStr(g.Name), string(def), timeOrNow(g.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetGraph(ctx context.Context, id string) (*GraphRecord, error) {
	g := &GraphRecord{}
	var name sql.NullString
	var defJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, canvas_id, name, definition, created_at FROM graphs WHERE id = ?`, id,
	).Scan(&g.ID, &g.CanvasID, &name, &defJSON, &g.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("graph", id)
	}
	if err != nil {
		return nil, err
	}
	g.Name = name.String
	if err := json.Unmarshal([]byte(defJSON), &g.Definition); err != nil {
		return nil, fmt.Errorf("unmarshal graph definition: %w", err)
	}
	return g, nil
}

// --- Runs ---

func (s *LibSQLStore) CreateRun(ctx context.Context, run *Run) error {
	trigger, err := json.Marshal(run.Trigger)
	if err != nil {
		return fmt.Errorf("marshal trigger: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (id, graph_id, canvas_id, entity_id, trigger, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.GraphID, run.CanvasID, nullStr(run.EntityID),
		string(trigger), string(run.Status), timeOrNow(run.CreatedAt), timeOrNow(run.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}

	for nodeID, ns := range run.NodeStates {
		if err := insertNodeState(ctx, tx, run.ID, nodeID, ns); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func insertNodeState(ctx context.Context, tx *sql.Tx, runID, nodeID string, ns *NodeState) error {
	_, err := tx.ExecContext(ctx,
		`INSERT INTO run_node_states (run_id, node_id, status, input, output, error, started_at, completed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(run_id, node_id) DO NOTHING`,
		runID, nodeID, string(ns.Status),
		nullRaw(ns.Input), nullRaw(ns.Output), nullStr(ns.Error),
		nullTime(ns.StartedAt), nullTime(ns.CompletedAt),
	)
	if err != nil {
		return fmt.Errorf("insert node state %s: %w", nodeID, err)
	}
	return nil
}

func (s *LibSQLStore) GetRun(ctx context.Context, id string) (*Run, error) {
	run := &Run{}
	var entityID sql.NullString
	var triggerJSON, status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, graph_id, canvas_id, entity_id, trigger, status, created_at, updated_at
		 FROM runs WHERE id = ?`, id,
	).Scan(&run.ID, &run.GraphID, &run.CanvasID, &entityID, &triggerJSON, &status, &run.CreatedAt, &run.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("run", id)
	}
	if err != nil {
		return nil, err
	}
	run.EntityID = entityID.String
	run.Status = schema.RunStatus(status)
	if err := json.Unmarshal([]byte(triggerJSON), &run.Trigger); err != nil {
		return nil, fmt.Errorf("unmarshal trigger: %w", err)
	}

	run.NodeStates, err = s.loadNodeStates(ctx, id)
	if err != nil {
		return nil, err
	}
	return run, nil
}

func (s *LibSQLStore) loadNodeStates(ctx context.Context, runID string) (map[string]*NodeState, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT node_id, status, input, output, error, started_at, completed_at
		 FROM run_node_states WHERE run_id = ?`, runID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	states := make(map[string]*NodeState)
	for rows.Next() {
		var nodeID, status string
		var input, output, errStr sql.NullString
		var startedAt, completedAt sql.NullTime
		if err := rows.Scan(&nodeID, &status, &input, &output, &errStr, &startedAt, &completedAt); err != nil {
			return nil, err
		}
		ns := &NodeState{
			Status: schema.NodeStatus(status),
			Input:  rawOrNil(input),
			Output: rawOrNil(output),
			Error:  errStr.String,
		}
		if startedAt.Valid {
			ns.StartedAt = &startedAt.Time
		}
		if completedAt.Valid {
			ns.CompletedAt = &completedAt.Time
		}
		states[nodeID] = ns
	}
	return states, rows.Err()
}

func (s *LibSQLStore) UpdateRun(ctx context.Context, id string, update RunUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.EntityID != nil {
		sets = append(sets, "entity_id = ?")
		args = append(args, nullStr(*update.EntityID))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE runs SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "run", id)
}

func (s *LibSQLStore) ListRuns(ctx context.Context, filter RunFilter) ([]*Run, error) {
	var where []string
	var args []any

	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.CanvasID != "" {
		where = append(where, "canvas_id = ?")
		args = append(args, filter.CanvasID)
	}
	if filter.Since != nil {
		where = append(where, "created_at >= ?")
		args = append(args, *filter.Since)
	}

	query := `SELECT id, graph_id, canvas_id, entity_id, trigger, status, created_at, updated_at FROM runs`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*Run
	for rows.Next() {
		run := &Run{}
		var entityID sql.NullString
		var triggerJSON, status string
		if err := rows.Scan(&run.ID, &run.GraphID, &run.CanvasID, &entityID, &triggerJSON, &status, &run.CreatedAt, &run.UpdatedAt); err != nil {
			return nil, err
		}
		run.EntityID = entityID.String
		run.Status = schema.RunStatus(status)
		if err := json.Unmarshal([]byte(triggerJSON), &run.Trigger); err != nil {
			return nil, fmt.Errorf("unmarshal trigger: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Listing returns run rows without node states; callers needing full
	// state use GetRun.
	return runs, nil
}

// UpdateNodeState atomically applies patch to a single node-state row.
// The status-guarded UPDATE is the serialization point that makes
// concurrent parallel completions and duplicate deliveries safe.
func (s *LibSQLStore) UpdateNodeState(ctx context.Context, runID, nodeID string, patch NodeStatePatch) (*Run, bool, error) {
	// Check legality before touching the row. With an expected status the
	// guarded UPDATE only fires from that status, so the pair is exact;
	// without one the current status is read first.
	if patch.ExpectStatus != nil {
		if err := schema.GuardTransition(nodeID, *patch.ExpectStatus, patch.Status); err != nil {
			return nil, false, err
		}
	} else {
		var cur string
		err := s.db.QueryRowContext(ctx,
			`SELECT status FROM run_node_states WHERE run_id = ? AND node_id = ?`, runID, nodeID).Scan(&cur)
		if err == sql.ErrNoRows {
			return nil, false, storeNotFound("node_state", runID+"/"+nodeID)
		}
		if err != nil {
			return nil, false, err
		}
		if err := schema.GuardTransition(nodeID, schema.NodeStatus(cur), patch.Status); err != nil {
			return nil, false, err
		}
	}

	sets := []string{"status = ?"}
	args := []any{string(patch.Status)}

	if patch.Input != nil {
		sets = append(sets, "input = ?")
		args = append(args, string(patch.Input))
	}
	if patch.Output != nil {
		sets = append(sets, "output = ?")
		args = append(args, string(patch.Output))
	}
	if patch.Error != "" {
		sets = append(sets, "error = ?")
		args = append(args, patch.Error)
	}
	switch patch.Status {
	case schema.NodeStatusRunning, schema.NodeStatusWaitingForUser:
		sets = append(sets, "started_at = COALESCE(started_at, CURRENT_TIMESTAMP)")
	case schema.NodeStatusCompleted, schema.NodeStatusFailed:
		sets = append(sets, "completed_at = CURRENT_TIMESTAMP")
	}

	query := fmt.Sprintf("UPDATE run_node_states SET %s WHERE run_id = ? AND node_id = ?", strings.Join(sets, ", "))
	args = append(args, runID, nodeID)
	if patch.ExpectStatus != nil {
		query += " AND status = ?"
		args = append(args, string(*patch.ExpectStatus))
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, false, err
	}
	applied := n > 0

	if applied {
		_, _ = s.db.ExecContext(ctx, `UPDATE runs SET updated_at = CURRENT_TIMESTAMP WHERE id = ?`, runID)
	}

	run, err := s.GetRun(ctx, runID)
	if err != nil {
		return nil, applied, err
	}
	if _, ok := run.NodeStates[nodeID]; !ok {
		return run, false, storeNotFound("node_state", runID+"/"+nodeID)
	}
	return run, applied, nil
}

// InitNodeState inserts a node-state row if absent. Used when a splitter
// materializes parallel instances after run creation.
func (s *LibSQLStore) InitNodeState(ctx context.Context, runID, nodeID string, ns *NodeState) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()
	if err := insertNodeState(ctx, tx, runID, nodeID, ns); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Events ---

func (s *LibSQLStore) AppendEvent(ctx context.Context, event *Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	// Get next sequence number for this run
	var seq int64
	err = tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(sequence), 0) + 1 FROM events WHERE run_id = ?`, event.RunID,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("get next sequence: %w", err)
	}
	event.Sequence = seq

	_, err = tx.ExecContext(ctx,
		`INSERT INTO events (run_id, node_id, event_type, payload, timestamp, sequence)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		event.RunID, nullStr(event.NodeID), event.Type, nullRaw(event.Payload), timeOrNow(event.Timestamp), seq,
	)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit event: %w", err)
	}
	return nil
}

func (s *LibSQLStore) GetEvents(ctx context.Context, runID string, since int64) ([]*Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, node_id, event_type, payload, timestamp, sequence
		 FROM events WHERE run_id = ? AND sequence > ? ORDER BY sequence ASC`,
		runID, since,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		e := &Event{}
		var nodeID, payload sql.NullString
		if err := rows.Scan(&e.ID, &e.RunID, &nodeID, &e.Type, &payload, &e.Timestamp, &e.Sequence); err != nil {
			return nil, err
		}
		e.NodeID = nodeID.String
		e.Payload = rawOrNil(payload)
		events = append(events, e)
	}
	return events, rows.Err()
}

// --- Webhook configs ---

func (s *LibSQLStore) UpsertWebhookConfig(ctx context.Context, cfg *WebhookConfig) error {
	mapping, err := nullableMapJSON(cfg.EntityMapping)
	if err != nil {
		return fmt.Errorf("marshal entity_mapping: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO webhook_configs (id, canvas_id, source, endpoint_slug, secret, require_signature, active, graph_id, entry_edge_id, entity_mapping, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   canvas_id=excluded.canvas_id, source=excluded.source, endpoint_slug=excluded.endpoint_slug,
		   secret=excluded.secret, require_signature=excluded.require_signature, active=excluded.active,
		   graph_id=excluded.graph_id, entry_edge_id=excluded.entry_edge_id,
		   entity_mapping=excluded.entity_mapping, updated_at=CURRENT_TIMESTAMP`,
		cfg.ID, cfg.CanvasID, cfg.Source, cfg.EndpointSlug, nullStr(cfg.Secret),
		boolInt(cfg.RequireSignature), boolInt(cfg.Active),
		cfg.GraphID, cfg.EntryEdgeID, mapping,
		timeOrNow(cfg.CreatedAt), timeOrNow(cfg.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetWebhookConfigBySlug(ctx context.Context, slug string) (*WebhookConfig, error) {
	cfg := &WebhookConfig{}
	var secret, mapping sql.NullString
	var requireSig, active int
	err := s.db.QueryRowContext(ctx,
		`SELECT id, canvas_id, source, endpoint_slug, secret, require_signature, active, graph_id, entry_edge_id, entity_mapping, created_at, updated_at
		 FROM webhook_configs WHERE endpoint_slug = ?`, slug,
	).Scan(&cfg.ID, &cfg.CanvasID, &cfg.Source, &cfg.EndpointSlug, &secret, &requireSig, &active,
		&cfg.GraphID, &cfg.EntryEdgeID, &mapping, &cfg.CreatedAt, &cfg.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("webhook_config", slug)
	}
	if err != nil {
		return nil, err
	}
	cfg.Secret = secret.String
	cfg.RequireSignature = requireSig != 0
	cfg.Active = active != 0
	if mapping.Valid && mapping.String != "" {
		if err := json.Unmarshal([]byte(mapping.String), &cfg.EntityMapping); err != nil {
			return nil, fmt.Errorf("unmarshal entity_mapping: %w", err)
		}
	}
	return cfg, nil
}

// --- Webhook events ---

func (s *LibSQLStore) CreateWebhookEvent(ctx context.Context, ev *WebhookEvent) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhook_events (id, webhook_config_id, payload, entity_id, run_id, status, error, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.ID, ev.WebhookConfigID, nullRaw(ev.Payload),
		nullStr(ev.EntityID), nullStr(ev.RunID), string(ev.Status), nullStr(ev.Error),
		timeOrNow(ev.CreatedAt), timeOrNow(ev.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetWebhookEvent(ctx context.Context, id string) (*WebhookEvent, error) {
	ev := &WebhookEvent{}
	var payload, entityID, runID, errStr sql.NullString
	var status string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, webhook_config_id, payload, entity_id, run_id, status, error, created_at, updated_at
		 FROM webhook_events WHERE id = ?`, id,
	).Scan(&ev.ID, &ev.WebhookConfigID, &payload, &entityID, &runID, &status, &errStr, &ev.CreatedAt, &ev.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("webhook_event", id)
	}
	if err != nil {
		return nil, err
	}
	ev.Payload = rawOrNil(payload)
	ev.EntityID = entityID.String
	ev.RunID = runID.String
	ev.Status = WebhookEventStatus(status)
	ev.Error = errStr.String
	return ev, nil
}

func (s *LibSQLStore) UpdateWebhookEvent(ctx context.Context, id string, update WebhookEventUpdate) error {
	var sets []string
	var args []any

	if update.Status != nil {
		sets = append(sets, "status = ?")
		args = append(args, string(*update.Status))
	}
	if update.EntityID != nil {
		sets = append(sets, "entity_id = ?")
		args = append(args, nullStr(*update.EntityID))
	}
	if update.RunID != nil {
		sets = append(sets, "run_id = ?")
		args = append(args, nullStr(*update.RunID))
	}
	if update.Error != nil {
		sets = append(sets, "error = ?")
		args = append(args, nullStr(*update.Error))
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = CURRENT_TIMESTAMP")
	args = append(args, id)

	query := fmt.Sprintf("UPDATE webhook_events SET %s WHERE id = ?", strings.Join(sets, ", "))
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "webhook_event", id)
}

func (s *LibSQLStore) ListWebhookEvents(ctx context.Context, filter WebhookEventFilter) ([]*WebhookEvent, error) {
	var where []string
	var args []any

	if filter.WebhookConfigID != "" {
		where = append(where, "webhook_config_id = ?")
		args = append(args, filter.WebhookConfigID)
	}
	if filter.Status != nil {
		where = append(where, "status = ?")
		args = append(args, string(*filter.Status))
	}
	if filter.Before != nil {
		where = append(where, "created_at < ?")
		args = append(args, *filter.Before)
	}

	query := `SELECT id, webhook_config_id, payload, entity_id, run_id, status, error, created_at, updated_at FROM webhook_events`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*WebhookEvent
	for rows.Next() {
		ev := &WebhookEvent{}
		var payload, entityID, runID, errStr sql.NullString
		var status string
		if err := rows.Scan(&ev.ID, &ev.WebhookConfigID, &payload, &entityID, &runID, &status, &errStr, &ev.CreatedAt, &ev.UpdatedAt); err != nil {
			return nil, err
		}
		ev.Payload = rawOrNil(payload)
		ev.EntityID = entityID.String
		ev.RunID = runID.String
		ev.Status = WebhookEventStatus(status)
		ev.Error = errStr.String
		events = append(events, ev)
	}
	return events, rows.Err()
}

func (s *LibSQLStore) DeleteWebhookEventsBefore(ctx context.Context, filter WebhookEventFilter) (int64, error) {
	if filter.Before == nil {
		return 0, schema.NewError(schema.ErrCodeValidation, "retention delete requires a cutoff time")
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM webhook_events WHERE created_at < ?`, *filter.Before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// --- Entities ---

func (s *LibSQLStore) UpsertEntity(ctx context.Context, e *Entity) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO entities (id, canvas_id, name, email, entity_type, metadata, position, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name=excluded.name, email=excluded.email, entity_type=excluded.entity_type,
		   metadata=excluded.metadata, updated_at=CURRENT_TIMESTAMP`,
		e.ID, e.CanvasID, e.Name, nullStr(e.Email), e.EntityType,
		nullRaw(e.Metadata), nullStr(e.Position),
		timeOrNow(e.CreatedAt), timeOrNow(e.UpdatedAt),
	)
	return err
}

func (s *LibSQLStore) GetEntity(ctx context.Context, id string) (*Entity, error) {
	return s.scanEntity(s.db.QueryRowContext(ctx,
		`SELECT id, canvas_id, name, email, entity_type, metadata, position, created_at, updated_at
		 FROM entities WHERE id = ?`, id), "entity", id)
}

func (s *LibSQLStore) FindEntityByEmail(ctx context.Context, canvasID, email string) (*Entity, error) {
	return s.scanEntity(s.db.QueryRowContext(ctx,
		`SELECT id, canvas_id, name, email, entity_type, metadata, position, created_at, updated_at
		 FROM entities WHERE canvas_id = ? AND email = ?`, canvasID, email), "entity", canvasID+"/"+email)
}

func (s *LibSQLStore) scanEntity(row *sql.Row, resource, id string) (*Entity, error) {
	e := &Entity{}
	var email, metadata, position sql.NullString
	err := row.Scan(&e.ID, &e.CanvasID, &e.Name, &email, &e.EntityType, &metadata, &position, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound(resource, id)
	}
	if err != nil {
		return nil, err
	}
	e.Email = email.String
	e.Metadata = rawOrNil(metadata)
	e.Position = position.String
	return e, nil
}

func (s *LibSQLStore) PlaceEntity(ctx context.Context, entityID, position string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE entities SET position = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`,
		position, entityID,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "entity", entityID)
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.WeaveError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullRaw(r json.RawMessage) any {
	if len(r) == 0 {
		return nil
	}
	return string(r)
}

func rawOrNil(ns sql.NullString) json.RawMessage {
	if !ns.Valid || ns.String == "" {
		return nil
	}
	return json.RawMessage(ns.String)
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableMapJSON(m map[string]string) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}
