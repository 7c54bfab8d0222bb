// Package async provides goroutine primitives for fire-and-forget work:
// SafeGo for one-off background tasks (audit writes) and WorkerPool for a
// bounded queue of tasks with graceful drain. Both recover panics and
// enforce per-task timeouts.
package async
