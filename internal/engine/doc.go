// Package engine provides the plan execution orchestrator. It owns every plan
// in a registry guarded by one lock per plan, applies step status
// transitions, resolves the current step while honoring breakpoints, derives
// progress and performance figures from step timestamps, and writes plan
// snapshots behind to a durable store. It never performs step work itself.
package engine
