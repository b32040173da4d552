// Package store defines the persistence contracts for job records and job
// artifacts, the sentinel errors every implementation returns, and the
// object key layout shared by the API and the workers.
package store
