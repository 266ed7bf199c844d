// Package agent defines the model capability contract the session loop
// drives: submit accumulated history plus tool declarations, receive one
// model turn (text, tool calls, usage).
//
// Invariants:
//   - Providers are stateless; conversation state lives in the session.
//   - Transient provider failures are retried with exponential backoff;
//     permanent failures abort the current query only.
package agent
