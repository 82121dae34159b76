// Package interact - errors.go
// Defines manager-level errors.

package interact

import "errors"

var (
	ErrNotInitialized = errors.New("interaction manager not initialized")
	ErrNotConfigured  = errors.New("no handler provided and no default connection saved")
	ErrNotConnected   = errors.New("handler not connected")
	ErrNoConversation = errors.New("no conversation started")
	ErrNoMessage      = errors.New("no message sent or received yet")
	ErrNoRAGData      = errors.New("no RAG data available")
	ErrUnknownRole    = errors.New("unknown connection role")
)
