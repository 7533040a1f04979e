// Package outputs implements the output registry: a bounded, most-recent-first
// history of the artifacts each feature produced, from which other features
// pick what to import.
package outputs
