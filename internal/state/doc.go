// Package state tracks delivery statistics for a request manager.
//
// # Overview
//
// Store implements requests.Observer. The manager calls Observe once per
// delivered response, from its own goroutines, while readers such as the
// progress reporter take copies with Snapshot:
//
//	Manager (writer)               Reporter (reader)
//	┌──────────────────┐           ┌──────────────────┐
//	│ deliver response │           │ ticker fires     │
//	│        ↓         │           │        ↓         │
//	│ store.Observe()  │──(mutex)─→│ store.Snapshot() │
//	└──────────────────┘           └──────────────────┘
//
// # Counting
//
// Every outcome increments Completed and exactly one of Succeeded, Failed or
// Killed. Killed requests never reached a verdict, so they do not count as
// failures and leave ConsecutiveFailures untouched. A success resets it.
//
// # Metrics
//
// Register attaches Prometheus collectors under the infinario namespace:
//
//   - infinario_requests_total{status}
//   - infinario_request_duration_seconds
//   - infinario_response_bytes_total
//   - infinario_requests_pending
//
// Without Register the Store only keeps the in-memory snapshot.
//
// # Snapshots
//
// Snapshot returns a value copy. LastError is rewrapped so callers never
// share the stored error value.
package state
