// Package service contains the application-level use cases of the job API.
// It coordinates the job store, the object store and the event emitter so
// that delivery mechanisms (the HTTP API) never touch infrastructure
// directly.
//
// Error handling:
//   - Expected conditions are returned as the sentinel errors in errors.go.
//   - Unexpected failures are wrapped in *JobServiceError.
//   - The API layer maps both to HTTP status codes.
package service
