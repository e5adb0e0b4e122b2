package transport

import (
	"errors"
	"fmt"

	"mini-wsrpc/connection"
)

var (
	// ErrInvalidConnection is the class of every error handed to pending
	// callbacks when the connection errors, closes or is reset.
	ErrInvalidConnection = errors.New("transport: invalid connection")
	// ErrInvalidResponse marks received text that could not be decoded.
	ErrInvalidResponse = errors.New("transport: invalid response")
	// ErrNoCorrelationID is returned by Send when a callback is given for a
	// payload that carries no id.
	ErrNoCorrelationID = errors.New("transport: payload has no id to correlate a reply with")
)

// ConnectionError fails pending work after a connection error, close or reset.
// It matches ErrInvalidConnection.
type ConnectionError struct {
	Cause error                  // Underlying error, if any
	Close *connection.CloseEvent // Set when the session closed
}

func (e *ConnectionError) Error() string {
	switch {
	case e.Close != nil:
		return fmt.Sprintf("%v: connection closed (code %d) %s", ErrInvalidConnection, e.Close.Code, e.Close.Reason)
	case e.Cause != nil:
		return fmt.Sprintf("%v: %v", ErrInvalidConnection, e.Cause)
	default:
		return ErrInvalidConnection.Error()
	}
}

func (e *ConnectionError) Is(target error) bool { return target == ErrInvalidConnection }

func (e *ConnectionError) Unwrap() error { return e.Cause }

// InvalidResponseError fails pending work when received text can never be
// decoded. It matches both ErrInvalidResponse and ErrInvalidConnection, since
// after a corrupt stream no outstanding reply can be trusted to arrive.
type InvalidResponseError struct {
	Text string
	Err  error
}

func (e *InvalidResponseError) Error() string {
	return fmt.Sprintf("%v: %v", ErrInvalidResponse, e.Err)
}

func (e *InvalidResponseError) Is(target error) bool {
	return target == ErrInvalidResponse || target == ErrInvalidConnection
}

func (e *InvalidResponseError) Unwrap() error { return e.Err }
