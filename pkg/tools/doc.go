// Package tools defines the capability contract the agent loop invokes.
//
// Invariants:
//   - Tool inputs are validated against the tool's JSON schema before
//     invocation.
//   - Tool failures are folded into the Result payload, never propagated as
//     invocation errors, so the model can react to them.
//   - At most one tool invocation is in flight per query.
package tools
