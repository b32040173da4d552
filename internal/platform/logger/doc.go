// Package logger sets up the process-wide slog JSON logger and carries
// request and job scoped loggers through context.Context.
package logger
