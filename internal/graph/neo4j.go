package graph

import (
	"context"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// SessionOpener hands out Neo4j sessions on the target database.
type SessionOpener interface {
	Session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext
}

// Neo4jStore implements Store in Cypher.
//
// Graph shape:
//
//	(:DeviceClass {name})
//	(:ModuleType {name})-[:OWNS]->(:AttributeType {name, value_type})
//	(:Device {id, class, timestamp})-[:CONTAINS]->(:Module {type})-[:HAS]->(:Attribute {name, value_type, value})
//	(:Task {name})-[:NEEDS]->(:Device)-[:FULFILS]->(:Service {name})
//
// Attribute values are stored as literals and parsed back on read so all
// backends round-trip identically.
type Neo4jStore struct {
	sessions SessionOpener
}

// NewNeo4jStore creates a store over an open connection.
func NewNeo4jStore(sessions SessionOpener) *Neo4jStore {
	return &Neo4jStore{sessions: sessions}
}

// Define implements Store.
func (s *Neo4jStore) Define(ctx context.Context, def Definition) error {
	if err := validateDefinition(def); err != nil {
		return err
	}

	return s.write(ctx, "define", func(tx neo4j.ManagedTransaction) error {
		for _, class := range def.DeviceClasses {
			if err := run(ctx, tx, `MERGE (:DeviceClass {name: $name})`, map[string]any{"name": class}); err != nil {
				return fmt.Errorf("declaring class %s: %w", class, err)
			}
		}

		for _, a := range def.Attributes {
			result, err := tx.Run(ctx, `
				MERGE (a:AttributeType {name: $name})
				ON CREATE SET a.value_type = $type
				RETURN a.value_type AS value_type`,
				map[string]any{"name": a.Name, "type": string(a.Type)})
			if err != nil {
				return fmt.Errorf("declaring attribute %s: %w", a.Name, err)
			}
			record, err := result.Single(ctx)
			if err != nil {
				return fmt.Errorf("declaring attribute %s: %w", a.Name, err)
			}
			if existing := recordString(record, "value_type"); existing != "" && ValueType(existing) != a.Type {
				return fmt.Errorf("%w: %s is %s, not %s", ErrTypeConflict, a.Name, existing, a.Type)
			}
		}

		for _, m := range def.Modules {
			if err := run(ctx, tx, `
				MERGE (m:ModuleType {name: $name})
				WITH m
				UNWIND $owns AS attr
				MERGE (a:AttributeType {name: attr})
				MERGE (m)-[:OWNS]->(a)`,
				map[string]any{"name": m.Name, "owns": stringsToAny(m.Owns)}); err != nil {
				return fmt.Errorf("declaring module %s: %w", m.Name, err)
			}
		}
		return nil
	})
}

// Insert implements Store.
func (s *Neo4jStore) Insert(ctx context.Context, ins Insertion) error {
	if err := validateInsertion(ins); err != nil {
		return err
	}

	return s.write(ctx, "insert", func(tx neo4j.ManagedTransaction) error {
		for _, d := range ins.Devices {
			n, err := count(ctx, tx, `MATCH (d:Device {id: $id}) RETURN count(d) AS n`, map[string]any{"id": d.ID})
			if err != nil {
				return err
			}
			if n > 0 {
				return fmt.Errorf("%w: device %s already exists", ErrTransaction, d.ID)
			}
			if err := run(ctx, tx, `CREATE (:Device {id: $id, class: $class, timestamp: $ts})`,
				map[string]any{"id": d.ID, "class": d.Class, "ts": formatTime(d.Timestamp)}); err != nil {
				return fmt.Errorf("inserting device %s: %w", d.ID, err)
			}
		}

		for _, m := range ins.Modules {
			n, err := count(ctx, tx, `MATCH (d:Device {id: $id}) RETURN count(d) AS n`, map[string]any{"id": m.DeviceID})
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("%w: device %s", ErrNotFound, m.DeviceID)
			}
			n, err = count(ctx, tx, `MATCH (:Device {id: $id})-[:CONTAINS]->(m:Module {type: $module}) RETURN count(m) AS n`,
				map[string]any{"id": m.DeviceID, "module": m.Module})
			if err != nil {
				return err
			}
			if n > 0 {
				return fmt.Errorf("%w: module %s/%s already exists", ErrTransaction, m.DeviceID, m.Module)
			}
			if err := run(ctx, tx, `
				MATCH (d:Device {id: $id})
				CREATE (d)-[:CONTAINS]->(m:Module {type: $module})
				WITH m
				UNWIND $values AS v
				CREATE (m)-[:HAS]->(:Attribute {name: v.name, value_type: v.type, value: v.value})`,
				map[string]any{"id": m.DeviceID, "module": m.Module, "values": valueParams(m.Values)}); err != nil {
				return fmt.Errorf("inserting module %s/%s: %w", m.DeviceID, m.Module, err)
			}
		}

		for _, r := range ins.Relations {
			cypher := `MATCH (d:Device {id: $id}) MERGE (e:Task {name: $entity}) MERGE (e)-[:NEEDS]->(d) RETURN count(d) AS n`
			if r.Kind == Fulfils {
				cypher = `MATCH (d:Device {id: $id}) MERGE (e:Service {name: $entity}) MERGE (d)-[:FULFILS]->(e) RETURN count(d) AS n`
			}
			n, err := count(ctx, tx, cypher, map[string]any{"id": r.DeviceID, "entity": r.Entity})
			if err != nil {
				return fmt.Errorf("inserting relation %s %s: %w", r.Kind, r.Entity, err)
			}
			if n == 0 {
				return fmt.Errorf("%w: device %s", ErrNotFound, r.DeviceID)
			}
		}
		return nil
	})
}

// Update implements Store.
func (s *Neo4jStore) Update(ctx context.Context, upd Update) error {
	return s.write(ctx, "update", func(tx neo4j.ManagedTransaction) error {
		n, err := count(ctx, tx, `
			MATCH (d:Device {id: $id})
			SET d.timestamp = coalesce($ts, d.timestamp)
			RETURN count(d) AS n`,
			map[string]any{"id": upd.DeviceID, "ts": formatTime(upd.Timestamp)})
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("%w: device %s", ErrNotFound, upd.DeviceID)
		}

		for module, values := range upd.Values {
			n, err := count(ctx, tx, `
				MATCH (:Device {id: $id})-[:CONTAINS]->(m:Module {type: $module})
				RETURN count(m) AS n`,
				map[string]any{"id": upd.DeviceID, "module": module})
			if err != nil {
				return err
			}
			if n == 0 {
				return fmt.Errorf("%w: module %s/%s", ErrNotFound, upd.DeviceID, module)
			}
			if err := run(ctx, tx, `
				MATCH (:Device {id: $id})-[:CONTAINS]->(m:Module {type: $module})
				UNWIND $values AS v
				MERGE (m)-[:HAS]->(a:Attribute {name: v.name})
				SET a.value_type = v.type, a.value = v.value`,
				map[string]any{"id": upd.DeviceID, "module": module, "values": valueParams(values)}); err != nil {
				return fmt.Errorf("updating %s/%s: %w", upd.DeviceID, module, err)
			}
		}
		return nil
	})
}

// Delete implements Store.
func (s *Neo4jStore) Delete(ctx context.Context, del Deletion) error {
	return s.write(ctx, "delete", func(tx neo4j.ManagedTransaction) error {
		return run(ctx, tx, `
			MATCH (d:Device) WHERE d.id IN $ids
			OPTIONAL MATCH (d)-[:CONTAINS]->(m:Module)
			OPTIONAL MATCH (m)-[:HAS]->(a:Attribute)
			DETACH DELETE a, m, d`,
			map[string]any{"ids": stringsToAny(del.DeviceIDs)})
	})
}

// Match implements Store.
func (s *Neo4jStore) Match(ctx context.Context, q Query) ([]Binding, error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	session := s.sessions.Session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx) //nolint:errcheck // Session close errors are not actionable

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		switch q.Target {
		case MatchRelations:
			return matchRelationsCypher(ctx, tx, q.DeviceID)
		case MatchAttributes:
			return matchAttributesCypher(ctx, tx, q.DeviceID)
		default:
			return matchDevicesCypher(ctx, tx, q.Class)
		}
	})
	if err != nil {
		return nil, storeError("match "+q.Target.String(), err)
	}
	bindings, _ := out.([]Binding)
	return bindings, nil
}

// Seed implements Seeder.
func (s *Neo4jStore) Seed(ctx context.Context, topo Topology) error {
	if err := topo.Validate(); err != nil {
		return err
	}

	return s.write(ctx, "seed", func(tx neo4j.ManagedTransaction) error {
		for _, e := range topo.Tasks {
			if err := run(ctx, tx, `MERGE (t:Task {name: $name}) SET t.description = $desc`,
				map[string]any{"name": e.Name, "desc": e.Description}); err != nil {
				return fmt.Errorf("seeding task %s: %w", e.Name, err)
			}
		}
		for _, e := range topo.Services {
			if err := run(ctx, tx, `MERGE (s:Service {name: $name}) SET s.description = $desc`,
				map[string]any{"name": e.Name, "desc": e.Description}); err != nil {
				return fmt.Errorf("seeding service %s: %w", e.Name, err)
			}
		}
		for _, d := range topo.Devices {
			if err := run(ctx, tx, `
				MERGE (:DeviceClass {name: $class})
				MERGE (d:Device {id: $id})
				ON CREATE SET d.class = $class
				WITH d
				UNWIND $tasks AS task
				MATCH (t:Task {name: task})
				MERGE (t)-[:NEEDS]->(d)`,
				map[string]any{"id": d.ID, "class": d.Class, "tasks": stringsToAny(d.NeededBy)}); err != nil {
				return fmt.Errorf("seeding device %s: %w", d.ID, err)
			}
			if err := run(ctx, tx, `
				MATCH (d:Device {id: $id})
				UNWIND $services AS service
				MATCH (s:Service {name: service})
				MERGE (d)-[:FULFILS]->(s)`,
				map[string]any{"id": d.ID, "services": stringsToAny(d.Fulfils)}); err != nil {
				return fmt.Errorf("seeding device %s: %w", d.ID, err)
			}
		}
		return nil
	})
}

func (s *Neo4jStore) write(ctx context.Context, op string, fn func(tx neo4j.ManagedTransaction) error) error {
	session := s.sessions.Session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx) //nolint:errcheck // Session close errors are not actionable

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(tx)
	})
	if err != nil {
		return storeError(op, err)
	}
	return nil
}

func matchDevicesCypher(ctx context.Context, tx neo4j.ManagedTransaction, class string) ([]Binding, error) {
	result, err := tx.Run(ctx, `
		MATCH (d:Device) WHERE $class = '' OR d.class = $class
		RETURN d.id AS id, d.class AS class, d.timestamp AS timestamp
		ORDER BY d.id`,
		map[string]any{"class": class})
	if err != nil {
		return nil, err
	}

	var out []Binding
	for result.Next(ctx) {
		record := result.Record()
		node := DeviceNode{
			ID:    recordString(record, "id"),
			Class: recordString(record, "class"),
		}
		if ts := recordString(record, "timestamp"); ts != "" {
			node.Timestamp, _ = time.Parse(time.RFC3339Nano, ts) //nolint:errcheck // Format is controlled
		}
		out = append(out, Binding{Device: &node})
	}
	return out, result.Err()
}

func matchRelationsCypher(ctx context.Context, tx neo4j.ManagedTransaction, deviceID string) ([]Binding, error) {
	result, err := tx.Run(ctx, `
		MATCH (t:Task)-[:NEEDS]->(:Device {id: $id}) RETURN 'needs' AS kind, t.name AS entity
		UNION
		MATCH (:Device {id: $id})-[:FULFILS]->(s:Service) RETURN 'fulfils' AS kind, s.name AS entity`,
		map[string]any{"id": deviceID})
	if err != nil {
		return nil, err
	}

	var out []Binding
	for result.Next(ctx) {
		record := result.Record()
		out = append(out, Binding{Relation: &Relation{
			Kind:     RelationKind(recordString(record, "kind")),
			Entity:   recordString(record, "entity"),
			DeviceID: deviceID,
		}})
	}
	if err := result.Err(); err != nil {
		return nil, err
	}
	sortRelations(out)
	return out, nil
}

func matchAttributesCypher(ctx context.Context, tx neo4j.ManagedTransaction, deviceID string) ([]Binding, error) {
	result, err := tx.Run(ctx, `
		MATCH (:Device {id: $id})-[:CONTAINS]->(m:Module)-[:HAS]->(a:Attribute)
		RETURN m.type AS module, a.name AS attribute, a.value_type AS value_type, a.value AS value
		ORDER BY module, attribute`,
		map[string]any{"id": deviceID})
	if err != nil {
		return nil, err
	}

	var out []Binding
	for result.Next(ctx) {
		record := result.Record()
		v, err := ParseLiteral(ValueType(recordString(record, "value_type")), recordString(record, "value"))
		if err != nil {
			return nil, err
		}
		out = append(out, Binding{Attribute: &AttributeValue{
			DeviceID:  deviceID,
			Module:    recordString(record, "module"),
			Attribute: recordString(record, "attribute"),
			Value:     v,
		}})
	}
	return out, result.Err()
}

func run(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) error {
	result, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return err
	}
	_, err = result.Consume(ctx)
	return err
}

func count(ctx context.Context, tx neo4j.ManagedTransaction, cypher string, params map[string]any) (int64, error) {
	result, err := tx.Run(ctx, cypher, params)
	if err != nil {
		return 0, err
	}
	record, err := result.Single(ctx)
	if err != nil {
		return 0, err
	}
	n, _ := record.Get("n")
	c, _ := n.(int64)
	return c, nil
}

func recordString(record *neo4j.Record, key string) string {
	v, ok := record.Get(key)
	if !ok || v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func valueParams(values map[string]Value) []any {
	out := make([]any, 0, len(values))
	for name, v := range values {
		out = append(out, map[string]any{
			"name":  name,
			"type":  string(v.Type),
			"value": v.Literal(-1),
		})
	}
	return out
}

func stringsToAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
