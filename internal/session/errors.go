package session

import "errors"

var (
	// ErrNotFound is returned for operations on an absent session.
	ErrNotFound = errors.New("session not found")
	// ErrInvalid is returned for malformed input.
	ErrInvalid = errors.New("invalid request")
	// ErrNotConnected is returned when a send needs a live connection.
	ErrNotConnected = errors.New("session not connected")
	// ErrNoPairingCode is returned when no pairing code is pending.
	ErrNoPairingCode = errors.New("no pairing code available")
)
