package transport

import (
	"errors"
	"fmt"
)

// ErrNotLoopback is returned when asked to bind a non-loopback host.
var ErrNotLoopback = errors.New("host is not a loopback address")

// BindError means a listener could not bind its address. It is
// recoverable: the manager schedules one delayed restart.
type BindError struct {
	Kind Kind
	Addr string
	Err  error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("%s listener: bind %s: %v", e.Kind, e.Addr, e.Err)
}

func (e *BindError) Unwrap() error { return e.Err }

// CertificateError means certificate material could not be loaded or
// generated. It disables the secure listener only.
type CertificateError struct {
	Err error
}

func (e *CertificateError) Error() string {
	return fmt.Sprintf("secure listener disabled: %v", e.Err)
}

func (e *CertificateError) Unwrap() error { return e.Err }
