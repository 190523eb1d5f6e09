// Package codec converts plans to and from their transportable forms: the
// JSON plan document used for export, import and file persistence, and the
// Markdown todo checklist. It is independent of the engine's in-memory
// representation so that format changes never touch the state machine.
package codec
