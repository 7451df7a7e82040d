// Package graph defines the typed store the knowledge graph lives in.
//
// The store speaks five verbs: Define (schema), Insert, Update, Delete
// and Match. Every call is one transaction. Three backends implement it:
//
//   - SQLiteStore: rows in the graph_* tables of the agent database
//   - Neo4jStore: a property graph queried with Cypher
//   - MemoryStore: maps guarded by a mutex, for tests and throwaway runs
//
// Values travel as typed Value structs and are persisted in literal form
// (fixed-precision numbers, quoted strings, lowercase booleans), so every
// backend reads back exactly what it was given.
//
// Seeder loads the deployment's tasks, services and pre-existing devices
// from a topology file before telemetry starts flowing.
package graph
