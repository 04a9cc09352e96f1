// Package app wires configuration, identity storage, delivery statistics and
// a Tracker into a Session for the command line.
//
// # Lifecycle
//
//	Open()      Validate config, load or derive the cookie, build the tracker
//	Identify()  ┐
//	Update()    ├ Queue commands; each prints one line when it completes
//	Track()     ┘
//	Wait()      Block until nothing is outstanding, logging progress
//	Close()     Kill leftovers, persist the confirmed identity
//
// # Identity
//
// The cookie is read from the identity file when present and derived from the
// host otherwise, then written back immediately so later runs stay anonymous
// under the same cookie. Close stores the customer id the collector
// confirmed; an Identify that was rejected or killed leaves the stored id
// untouched.
//
// # Progress
//
// While Wait blocks, StartReporter hands a state.Snapshot to the session
// every ReportEvery (default 2 seconds), which logs it. Two failures in a row
// switch the report to a warning carrying the last error.
//
// # Errors
//
// Open fails on invalid configuration. Wait fails only when its context ends
// first. Close combines tracker and identity errors with go-multierror.
package app
