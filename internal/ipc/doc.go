// Package ipc is the caller side of the worker command channels.
//
// Usage:
//
//  1. While workers are being assembled, each caller obtains a Handle with
//     Client.Register(worker). This must happen before the worker's
//     dispatcher starts; endpoints registered later are never serviced.
//  2. The worker's dispatcher is started (see package dispatch).
//  3. The caller issues Handle.Send or Handle.Sendf and blocks for the
//     worker's Result.
//
// A Handle belongs to the goroutine that first uses it. Goroutines that
// need to talk to the same worker register a Handle each; sharing one is
// detected by the ownership guard and treated as an integrity violation.
package ipc
