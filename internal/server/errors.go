package server

import "errors"

// Server-specific errors
var (
	ErrServerClosed         = errors.New("server is closed")
	ErrServerAlreadyRunning = errors.New("server is already running")
	ErrSessionNotFound      = errors.New("session not found")
	ErrBusy                 = errors.New("logic loop busy")
	ErrInvalidConfig        = errors.New("invalid server configuration")
)
