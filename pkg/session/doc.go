/*
Package session implements per-session mutual exclusion.

Every orchestrator operation that mutates a session runs inside
Manager.WithLock, combining a local ref-counted mutex with an optional
distributed lock so that concurrent callers, in one process or across
replicas, see one read-modify-write at a time per session.
*/
package session
