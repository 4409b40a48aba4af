package app

import "errors"

var (
	ErrEmptyMessage = errors.New("message required")
	ErrInvalidEmail = errors.New("invalid email")
	ErrInvalidPhone = errors.New("invalid phone number")
	// ErrSessionNotFound indicates the session id is unknown to this server.
	ErrSessionNotFound = errors.New("session not found")
	ErrQuoteNotFound   = errors.New("quote not found")
	// ErrQuotesDisabled indicates the document store is not configured.
	ErrQuotesDisabled = errors.New("quote storage not configured")
	// ErrUploadsDisabled indicates object storage is not configured.
	ErrUploadsDisabled = errors.New("file uploads not configured")
)
