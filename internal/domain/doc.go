// Package domain contains the job entity, its status state machine, the
// typed patch used to mutate it, and the queue message that hands a job from
// the API to the workers. It is independent of any storage or transport.
package domain
