package common

import (
	"errors"
	"fmt"
)

// Failure kinds of the update pipeline. Match with errors.Is.
var (
	ErrNetwork        = errors.New("network error")
	ErrDecode         = errors.New("decode error")
	ErrFilesystem     = errors.New("filesystem error")
	ErrNoDownloadURL  = errors.New("no download url")
	ErrInstallerSpawn = errors.New("installer spawn error")
	ErrChecksum       = errors.New("checksum mismatch")
)

// UpdateError carries the failure kind, the operation that failed and the cause.
type UpdateError struct {
	Kind error
	Op   string
	Err  error
}

func (e *UpdateError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %v", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v: %v", e.Op, e.Kind, e.Err)
}

func (e *UpdateError) Unwrap() error { return e.Err }

// Is reports whether target is the kind of this error.
func (e *UpdateError) Is(target error) bool { return e.Kind == target }

// NewError wraps err with a failure kind and operation name.
func NewError(kind error, op string, err error) *UpdateError {
	return &UpdateError{Kind: kind, Op: op, Err: err}
}

// NetworkError wraps a transport or HTTP status failure.
func NetworkError(op string, err error) error { return NewError(ErrNetwork, op, err) }

// DecodeError wraps a malformed feed payload.
func DecodeError(op string, err error) error { return NewError(ErrDecode, op, err) }

// FilesystemError wraps a local file operation failure.
func FilesystemError(op string, err error) error { return NewError(ErrFilesystem, op, err) }

// InstallerSpawnError wraps a failure to launch or hand off to the installer.
func InstallerSpawnError(op string, err error) error { return NewError(ErrInstallerSpawn, op, err) }

// KindOf returns the failure kind of err, or nil when err is not an update error.
func KindOf(err error) error {
	var ue *UpdateError
	if errors.As(err, &ue) {
		return ue.Kind
	}
	return nil
}
