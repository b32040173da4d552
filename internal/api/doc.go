// Package api handles incoming HTTP requests, routing, request validation,
// and response formatting. It translates HTTP concerns into JobService
// operations and maps service errors back to status codes.
package api
