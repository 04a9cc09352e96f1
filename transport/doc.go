// Package transport provides the HTTP collaborator used by the request
// manager.
//
// # Overview
//
// A Transport performs exactly one POST at a time and never blocks its
// caller. Progress is reported through two notifications:
//
//   - Post delivers a Header once the response headers arrive (or the
//     exchange fails before that point).
//   - Read delivers a Chunk with up to n more body bytes, and reports when
//     the body is complete.
//
// Content length is only a hint. A server using chunked transfer encoding
// gives none, in which case Header.ContentLength is 0 and the caller has to
// guess a read size and keep reading until Chunk.Finished is set.
//
// # Implementation
//
// HTTP is built on a single github.com/imroc/req/v3 client with automatic
// response reading disabled, so the body is streamed through Read instead of
// being buffered by the client. Each operation runs on its own goroutine.
// Close cancels whatever is outstanding and suppresses any notification that
// has not started yet.
//
// # Proxies
//
// HTTP implements ProxySetter. SetProxy accepts host:port or a full URL;
// ClearProxy disables proxying entirely.
package transport
