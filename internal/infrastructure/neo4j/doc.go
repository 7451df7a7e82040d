// Package neo4j wraps the official Neo4j Go driver for the Cypher graph
// store backend.
//
//	neo4j:
//	  uri: "neo4j://localhost:7687"
//	  username: "neo4j"
//	  password: ""          # prefer KGAGENT_NEO4J_PASSWORD
//	  database: "neo4j"
//
// The package only manages the driver lifecycle; queries live in
// internal/graph.
package neo4j
