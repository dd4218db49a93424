// Package dispatch runs the per-worker command loop.
//
// One Dispatcher goroutine serves every channel endpoint registered for a
// worker. It waits for readiness on all endpoints at once with poll(2),
// then, in endpoint order, reads one framed command from each ready
// endpoint, runs the worker's handler and writes the result back on the
// same endpoint.
//
// Key properties:
//   - Endpoints are snapshotted when the dispatcher is created; later
//     registrations are not observed
//   - Commands on one endpoint are handled in the order they were sent
//   - Endpoints are served strictly one at a time, so a slow handler delays
//     every endpoint of its worker
//   - No server-side timeout: a handler that never returns wedges its worker
//   - An interrupted poll is retried; any other failure ends the loop with
//     an integrity violation (see package fault)
//
// The loop only stops on context cancellation or on a fault. Start hands
// faults to the host's fault.Policy, which aborts the process.
package dispatch
