// Package jetstream implements the persistent-stream subsystem layered
// on top of the core client: admin RPCs against $JS.API.*, streams,
// pull-mode consumers, acknowledgement encoding, scheduled delivery,
// and a stream-backed key-value bucket.
package jetstream
