// Package service holds the use cases behind the HTTP surface: submitting
// requests, notifying assignees and deciding in bulk.
package service

// Logger interface for minimal logging dependency
type Logger interface {
	Info(msg string, keysAndValues ...interface{})
	Error(msg string, keysAndValues ...interface{})
}
