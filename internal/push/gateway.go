// Package push delivers notifications to devices identified by push tokens.
package push

import (
	"context"
)

// Notification is the payload shown on the device plus the data handed to the app
type Notification struct {
	Title string
	Body  string
	Data  map[string]string
}

// BatchResult summarizes a multi-recipient delivery
type BatchResult struct {
	SuccessCount int
	FailureCount int
	// FailedTokens lists the tokens whose delivery failed
	FailedTokens []string
}

// Gateway submits notifications to a push provider
type Gateway interface {
	Send(ctx context.Context, token string, n Notification) (string, error)
	SendMulticast(ctx context.Context, tokens []string, n Notification) (BatchResult, error)
}
