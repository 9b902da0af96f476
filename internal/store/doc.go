// Package store provides SQLite persistence for workflows, checkpoints,
// validation results, and recommendations. Every mutation is committed
// immediately; nothing is staged in memory.
package store
