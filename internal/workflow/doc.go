// Package workflow implements lifecycle management for long-running
// content-validation workflows: a state machine with cooperative
// pause/resume/cancel, per-type step executors, progress reporting, and
// checkpoint-based recovery.
package workflow
