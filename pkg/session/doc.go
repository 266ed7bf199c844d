// Package session owns the per-client conversational state machine and its
// durable history.
//
// A Session is keyed by a stable id and survives transport disconnects. At
// most one query runs per session at a time; the query loop assigns every
// emitted envelope a strictly increasing sequence number and retains a
// bounded replay buffer so a reconnecting client can resume from its last
// seen sequence.
//
// Invariants:
//   - A busy session has exactly one active query; an idle session has none.
//   - Cancellation is cooperative: the loop checks the flag before each
//     model call and each tool invocation, never mid-invocation.
//   - Tool failures are folded into tool results and never terminate the
//     query; only a provider failure does.
//   - The terminal envelope of one query is flushed before the next query
//     emits anything.
package session
