// Package memory provides in-process implementations of the job store, the
// object store and the queue broker. They back single-process development
// runs and tests; state is lost when the process exits.
package memory
