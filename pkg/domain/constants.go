package domain

// Field constants for intent maps and mapstructure tags.
const (
	// KeyEntityKey is the intent key naming the entity an interaction targets.
	// Executor deduplication and scheduler supersession are keyed on it.
	KeyEntityKey = "entity_key"

	// KeyReason is an optional free-text reason carried in audit entries.
	KeyReason = "reason"
)
