// Package runner implements the task runner core: schedule persistence and
// evaluation, task start/reap, the watchdog liveness gate, and the reload
// protocol that ties them together on a single cooperative work queue.
package runner
