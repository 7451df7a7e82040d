// Package sdf resolves device class descriptions written in the Semantic
// Definition Format.
//
// A class lives in <dir>/<class>.sdf.json. Cross-file references (sdfRef)
// are inlined, the document is optionally validated, and the result is
// returned both as a structured Schema (modules and typed attributes) and
// as flat Rows, one per attribute, which feed the similarity corpus.
//
//	r, err := sdf.NewResolver(cfg.Schema.Dir, sdf.WithValidation())
//	schema, rows, err := r.Resolve("AirQualityModified")
package sdf
