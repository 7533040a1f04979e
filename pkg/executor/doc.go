// Package executor is the single entry point every mutating user action flows
// through. It assigns the Interaction, deduplicates concurrent calls on the
// same entity, applies the reversibility contract, and reports the outcome to
// the notifier, the audit sink, metrics and tracing.
package executor
