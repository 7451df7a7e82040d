// Package similarity holds the two scoring functions entity resolution is
// built on: a bounded text similarity between attribute descriptions and a
// subsequence distance between telemetry series.
package similarity
