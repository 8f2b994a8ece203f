// Package campaign implements campaign execution.
//
// The Runner drives one campaign from its last checkpoint to completion, or
// until it is paused by quota exhaustion or stopped because the campaign was
// disabled. Progress is persisted after every batch so a restarted process
// picks up where the previous one left off. The Service wraps the Runner with
// per-campaign locking and exposes the operations the scheduler and the HTTP
// binding call.
//
// Repository implementations live in repository/postgres/ and repository/memory/.
package campaign
