package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteStore implements Store on the graph_* tables.
//
// Nodes and edges are rows: a module row's device_id is its "contains"
// edge, and task/service edges live in graph_relations.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store on an open, migrated database.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Define implements Store.
func (s *SQLiteStore) Define(ctx context.Context, def Definition) error {
	if err := validateDefinition(def); err != nil {
		return err
	}

	return s.inTx(ctx, "define", func(tx *sql.Tx) error {
		for _, class := range def.DeviceClasses {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO graph_types (name, kind) VALUES (?, 'device')`, class); err != nil {
				return fmt.Errorf("declaring class %s: %w", class, err)
			}
		}

		for _, a := range def.Attributes {
			var existing string
			err := tx.QueryRowContext(ctx,
				`SELECT value_type FROM graph_types WHERE kind = 'attribute' AND name = ?`, a.Name,
			).Scan(&existing)
			switch {
			case errors.Is(err, sql.ErrNoRows):
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO graph_types (name, kind, value_type) VALUES (?, 'attribute', ?)`,
					a.Name, string(a.Type)); err != nil {
					return fmt.Errorf("declaring attribute %s: %w", a.Name, err)
				}
			case err != nil:
				return fmt.Errorf("reading attribute %s: %w", a.Name, err)
			case ValueType(existing) != a.Type:
				return fmt.Errorf("%w: %s is %s, not %s", ErrTypeConflict, a.Name, existing, a.Type)
			}
		}

		for _, m := range def.Modules {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO graph_types (name, kind) VALUES (?, 'module')`, m.Name); err != nil {
				return fmt.Errorf("declaring module %s: %w", m.Name, err)
			}
			for _, attr := range m.Owns {
				if _, err := tx.ExecContext(ctx,
					`INSERT OR IGNORE INTO graph_ownerships (module_type, attribute_type) VALUES (?, ?)`,
					m.Name, attr); err != nil {
					return fmt.Errorf("declaring %s owns %s: %w", m.Name, attr, err)
				}
			}
		}
		return nil
	})
}

// Insert implements Store.
func (s *SQLiteStore) Insert(ctx context.Context, ins Insertion) error {
	if err := validateInsertion(ins); err != nil {
		return err
	}

	return s.inTx(ctx, "insert", func(tx *sql.Tx) error {
		for _, d := range ins.Devices {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO graph_devices (id, class, timestamp) VALUES (?, ?, ?)`,
				d.ID, d.Class, formatTime(d.Timestamp)); err != nil {
				return fmt.Errorf("inserting device %s: %w", d.ID, err)
			}
		}

		for _, m := range ins.Modules {
			if err := deviceExists(ctx, tx, m.DeviceID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO graph_modules (device_id, module) VALUES (?, ?)`,
				m.DeviceID, m.Module); err != nil {
				return fmt.Errorf("inserting module %s/%s: %w", m.DeviceID, m.Module, err)
			}
			if err := upsertValues(ctx, tx, m.DeviceID, m.Module, m.Values); err != nil {
				return err
			}
		}

		for _, r := range ins.Relations {
			if err := deviceExists(ctx, tx, r.DeviceID); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO graph_relations (kind, entity, device_id) VALUES (?, ?, ?)`,
				string(r.Kind), r.Entity, r.DeviceID); err != nil {
				return fmt.Errorf("inserting relation %s %s: %w", r.Kind, r.Entity, err)
			}
		}
		return nil
	})
}

// Update implements Store.
func (s *SQLiteStore) Update(ctx context.Context, upd Update) error {
	return s.inTx(ctx, "update", func(tx *sql.Tx) error {
		if err := deviceExists(ctx, tx, upd.DeviceID); err != nil {
			return err
		}

		for module, values := range upd.Values {
			var one int
			err := tx.QueryRowContext(ctx,
				`SELECT 1 FROM graph_modules WHERE device_id = ? AND module = ?`,
				upd.DeviceID, module,
			).Scan(&one)
			if errors.Is(err, sql.ErrNoRows) {
				return fmt.Errorf("%w: module %s/%s", ErrNotFound, upd.DeviceID, module)
			}
			if err != nil {
				return fmt.Errorf("reading module %s/%s: %w", upd.DeviceID, module, err)
			}
			if err := upsertValues(ctx, tx, upd.DeviceID, module, values); err != nil {
				return err
			}
		}

		if !upd.Timestamp.IsZero() {
			if _, err := tx.ExecContext(ctx,
				`UPDATE graph_devices SET timestamp = ? WHERE id = ?`,
				formatTime(upd.Timestamp), upd.DeviceID); err != nil {
				return fmt.Errorf("updating timestamp: %w", err)
			}
		}
		return nil
	})
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, del Deletion) error {
	return s.inTx(ctx, "delete", func(tx *sql.Tx) error {
		for _, id := range del.DeviceIDs {
			for _, stmt := range []string{
				`DELETE FROM graph_relations WHERE device_id = ?`,
				`DELETE FROM graph_attribute_values WHERE device_id = ?`,
				`DELETE FROM graph_modules WHERE device_id = ?`,
				`DELETE FROM graph_devices WHERE id = ?`,
			} {
				if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
					return fmt.Errorf("deleting device %s: %w", id, err)
				}
			}
		}
		return nil
	})
}

// Match implements Store.
func (s *SQLiteStore) Match(ctx context.Context, q Query) ([]Binding, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	var (
		bindings []Binding
		err      error
	)
	switch q.Target {
	case MatchDevices:
		bindings, err = s.matchDevices(ctx, q.Class)
	case MatchRelations:
		bindings, err = s.matchRelations(ctx, q.DeviceID)
	case MatchAttributes:
		bindings, err = s.matchAttributes(ctx, q.DeviceID)
	}
	if err != nil {
		return nil, storeError("match "+q.Target.String(), err)
	}
	return bindings, nil
}

func (s *SQLiteStore) matchDevices(ctx context.Context, class string) ([]Binding, error) {
	query := `SELECT id, class, timestamp FROM graph_devices`
	var args []any
	if class != "" {
		query += ` WHERE class = ?`
		args = append(args, class)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying devices: %w", err)
	}
	defer rows.Close()

	var out []Binding
	for rows.Next() {
		var node DeviceNode
		var ts sql.NullString
		if err := rows.Scan(&node.ID, &node.Class, &ts); err != nil {
			return nil, fmt.Errorf("scanning device: %w", err)
		}
		node.Timestamp = parseTime(ts)
		out = append(out, Binding{Device: &node})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) matchRelations(ctx context.Context, deviceID string) ([]Binding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, entity, device_id FROM graph_relations WHERE device_id = ? ORDER BY kind, entity`,
		deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying relations: %w", err)
	}
	defer rows.Close()

	var out []Binding
	for rows.Next() {
		var r Relation
		var kind string
		if err := rows.Scan(&kind, &r.Entity, &r.DeviceID); err != nil {
			return nil, fmt.Errorf("scanning relation: %w", err)
		}
		r.Kind = RelationKind(kind)
		out = append(out, Binding{Relation: &r})
	}
	return out, rows.Err()
}

func (s *SQLiteStore) matchAttributes(ctx context.Context, deviceID string) ([]Binding, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT module, attribute, value_type, value FROM graph_attribute_values
		WHERE device_id = ? ORDER BY module, attribute`,
		deviceID)
	if err != nil {
		return nil, fmt.Errorf("querying attributes: %w", err)
	}
	defer rows.Close()

	var out []Binding
	for rows.Next() {
		av := AttributeValue{DeviceID: deviceID}
		var valueType, literal string
		if err := rows.Scan(&av.Module, &av.Attribute, &valueType, &literal); err != nil {
			return nil, fmt.Errorf("scanning attribute: %w", err)
		}
		av.Value, err = ParseLiteral(ValueType(valueType), literal)
		if err != nil {
			return nil, err
		}
		out = append(out, Binding{Attribute: &av})
	}
	return out, rows.Err()
}

// Seed implements Seeder. Existing rows are kept; entity descriptions are
// refreshed.
func (s *SQLiteStore) Seed(ctx context.Context, topo Topology) error {
	if err := topo.Validate(); err != nil {
		return err
	}

	return s.inTx(ctx, "seed", func(tx *sql.Tx) error {
		entities := []struct {
			kind string
			list []Entity
		}{{entityTask, topo.Tasks}, {entityService, topo.Services}}
		for _, group := range entities {
			for _, e := range group.list {
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO graph_entities (name, kind, description) VALUES (?, ?, ?)
					ON CONFLICT (kind, name) DO UPDATE SET description = excluded.description`,
					e.Name, group.kind, e.Description); err != nil {
					return fmt.Errorf("seeding %s %s: %w", group.kind, e.Name, err)
				}
			}
		}

		for _, d := range topo.Devices {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO graph_types (name, kind) VALUES (?, 'device')`, d.Class); err != nil {
				return fmt.Errorf("seeding class %s: %w", d.Class, err)
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO graph_devices (id, class) VALUES (?, ?)`, d.ID, d.Class); err != nil {
				return fmt.Errorf("seeding device %s: %w", d.ID, err)
			}
			for _, r := range d.Relations() {
				if _, err := tx.ExecContext(ctx,
					`INSERT OR IGNORE INTO graph_relations (kind, entity, device_id) VALUES (?, ?, ?)`,
					string(r.Kind), r.Entity, r.DeviceID); err != nil {
					return fmt.Errorf("seeding relation %s %s: %w", r.Kind, r.Entity, err)
				}
			}
		}
		return nil
	})
}

// inTx runs fn in a transaction and maps failures onto the store errors.
func (s *SQLiteStore) inTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeError(op, fmt.Errorf("starting transaction: %w", err))
	}
	defer tx.Rollback() //nolint:errcheck // Rollback is no-op after commit

	if err := fn(tx); err != nil {
		return storeError(op, err)
	}
	if err := tx.Commit(); err != nil {
		return storeError(op, fmt.Errorf("committing: %w", err))
	}
	return nil
}

func deviceExists(ctx context.Context, tx *sql.Tx, id string) error {
	var one int
	err := tx.QueryRowContext(ctx, `SELECT 1 FROM graph_devices WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: device %s", ErrNotFound, id)
	}
	if err != nil {
		return fmt.Errorf("reading device %s: %w", id, err)
	}
	return nil
}

func upsertValues(ctx context.Context, tx *sql.Tx, deviceID, module string, values map[string]Value) error {
	for attr, v := range values {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO graph_attribute_values (device_id, module, attribute, value_type, value)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT (device_id, module, attribute)
			DO UPDATE SET value_type = excluded.value_type, value = excluded.value`,
			deviceID, module, attr, string(v.Type), v.Literal(-1)); err != nil {
			return fmt.Errorf("writing %s/%s/%s: %w", deviceID, module, attr, err)
		}
	}
	return nil
}

// storeError passes domain errors through and classifies the rest as
// timeouts or failed transactions.
func storeError(op string, err error) error {
	for _, domain := range []error{ErrTypeConflict, ErrNotFound, ErrInvalidQuery, ErrTimeout, ErrTransaction} {
		if errors.Is(err, domain) {
			return err
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s: %w", ErrTimeout, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrTransaction, op, err)
}

func formatTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, _ := time.Parse(time.RFC3339Nano, s.String) //nolint:errcheck // Format is controlled
	return t
}
