// Package kg is the consistency and integration engine of the agent.
//
// It keeps a knowledge graph of devices, their modules and the tasks and
// services they serve consistent with the telemetry the fleet publishes,
// and places newly seen devices in the graph next to the device they
// most resemble.
//
// # Pipeline
//
// The Agent receives raw bus payloads, parses them with package message
// and hands them to Engine.Handle one at a time. For a DATA message the
// engine:
//
//  1. resolves the class description (package sdf) and grows the corpus
//  2. validates the reported values against it
//  3. creates the device on first sight (SchemaPending)
//  4. declares and instantiates missing modules (Sync), then Buffering
//  5. integrates the device once it has buffered Threshold samples
//  6. writes the sample to the graph and the registry buffers
//
// # Integration
//
// Integrate runs four steps against the registry and the corpus:
//
//	Resolve-Class     attribute rows vote for the most similar classes
//	Resolve-Instance  closest subsequence match among integrated devices
//	Replicate         the winner's task and service edges are copied
//	Retire-If-Stale   a winner silent for StaleFactor periods is removed
//
// The scatter-gather steps run on bounded errgroup pools and merge in a
// fixed order, so the same inputs always produce the same decision.
//
// # Observability
//
// Every store call passes through an instrumented wrapper that records
// latency in Metrics and switches the StateTracker to Querying. Dump
// writes the registry and the tracker to disk.
package kg
