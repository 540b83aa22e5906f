package robot

import "errors"

var (
	// ErrAlreadyConnected is returned by Connect on a connected driver.
	ErrAlreadyConnected = errors.New("already connected")
	// ErrNotConnected is returned when a driver is used before Connect.
	ErrNotConnected = errors.New("not connected")
	// ErrUnknownDriverKind is returned by Registry.New for an unregistered kind.
	ErrUnknownDriverKind = errors.New("unknown driver kind")
)
