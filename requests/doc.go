// Package requests queues HTTP POSTs and runs them one at a time over a
// single transport.
//
// # Overview
//
// A Manager accepts requests from any goroutine through Enqueue and executes
// them strictly in enqueue order. Each request ends in exactly one
// Response, delivered to its Callback:
//
//   - Success when the whole body has been read.
//   - SendRequestError when the transport refused the POST.
//   - ReceiveHeaderError when no usable response header arrived.
//   - ReceiveBodyError when reading the body failed part way.
//   - KilledError when the manager was closed first.
//
// Failures are terminal. Nothing is retried and the next request starts
// right away.
//
// # Reading bodies
//
// The announced content length is used as the first read size. When the
// server does not announce one the manager reads DefaultChunkSize bytes at
// a time, and grows its expectation whenever a later chunk carries a larger
// length hint.
//
// # Draining and shutdown
//
// SetDrainCallback registers a function that runs each time the queue
// becomes empty after a completion. Close closes the transport and answers
// every outstanding request with KilledError before it returns; the drain
// callback is not invoked for teardown.
//
// Callbacks run on transport goroutines. They may call Enqueue and the
// drain-callback setters. They must not call Close.
package requests
