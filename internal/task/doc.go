// Package task runs queued jobs inside worker processes. An Executor turns
// one queue delivery into one pipeline run and one terminal write, a
// WorkerPool runs several consumers against the broker, and a Sweeper
// reconciles jobs whose worker disappeared or whose message was lost.
package task
