// Package app assembles the runtime of the scribe processes from
// configuration: storage, broker and the worker loop. cmd/server and
// cmd/worker share it so both see the same backends.
package app
