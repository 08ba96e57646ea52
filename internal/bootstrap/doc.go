// Package bootstrap provisions a local PostgreSQL server for runs that are
// not given a connect URI.
//
// A [Lifecycle] is created once by the caller and moves idle → started →
// stopped. Starting twice fails with [ErrAlreadyStarted]; a file lock next to
// the runtime directory keeps two processes from sharing one server.
package bootstrap
