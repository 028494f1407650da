package domain

import "fmt"

// MalformedEventError is returned when an event lacks a required field or
// carries one with the wrong type.
type MalformedEventError struct {
	Field  string
	Reason string
}

func (e *MalformedEventError) Error() string {
	return fmt.Sprintf("malformed event: field %q %s", e.Field, e.Reason)
}

// MalformedMessageError is returned when a broker message envelope cannot be
// decoded.
type MalformedMessageError struct {
	Reason string
	Err    error
}

func (e *MalformedMessageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("malformed message: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("malformed message: %s", e.Reason)
}

func (e *MalformedMessageError) Unwrap() error { return e.Err }

// TransportOptionsError is returned when the broker transport options are
// not a valid JSON object.
type TransportOptionsError struct {
	Raw string
	Err error
}

func (e *TransportOptionsError) Error() string {
	return fmt.Sprintf("error parsing broker transport options from JSON %q: %v", e.Raw, e.Err)
}

func (e *TransportOptionsError) Unwrap() error { return e.Err }

// InvalidTimezoneError is returned when the timezone override is unknown.
type InvalidTimezoneError struct {
	Name string
	Err  error
}

func (e *InvalidTimezoneError) Error() string {
	return fmt.Sprintf("invalid timezone %q: %v", e.Name, e.Err)
}

func (e *InvalidTimezoneError) Unwrap() error { return e.Err }
