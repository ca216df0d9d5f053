package services

import "errors"

var (
	// ErrPairingFailed means the pairing-code retry budget was exhausted
	ErrPairingFailed = errors.New("pairing failed after all retries")

	// ErrInvalidState means the operation is not allowed in the session's
	// current state
	ErrInvalidState = errors.New("operation not allowed in current bot state")

	// ErrBotExists means a bot with the same phone number already exists
	ErrBotExists = errors.New("bot with this phone number already exists")

	// ErrHandlerPanic marks a command handler that panicked
	ErrHandlerPanic = errors.New("command handler panicked")

	// ErrQRTimeout means the transport never produced a QR payload
	ErrQRTimeout = errors.New("timed out waiting for QR code")
)
