package core

import "errors"

var (
	ErrAlready       = errors.New("already in requested state")
	ErrNoSupport     = errors.New("operation not supported")
	ErrInvalid       = errors.New("invalid argument")
	ErrNoMem         = errors.New("out of grant memory")
	ErrBusy          = errors.New("grant record already entered")
	ErrNoSuchProcess = errors.New("no such process")
)

// Status codes carried in alarm_result messages
const (
	StatusSuccess       = 0
	StatusFail          = 1
	StatusBusy          = 2
	StatusAlready       = 3
	StatusInvalid       = 6
	StatusNoMem         = 7
	StatusNoSupport     = 8
	StatusNoSuchProcess = 9
)

// StatusOf maps an error to its wire status code
func StatusOf(err error) uint8 {
	switch {
	case err == nil:
		return StatusSuccess
	case errors.Is(err, ErrAlready):
		return StatusAlready
	case errors.Is(err, ErrNoSupport):
		return StatusNoSupport
	case errors.Is(err, ErrInvalid):
		return StatusInvalid
	case errors.Is(err, ErrNoMem):
		return StatusNoMem
	case errors.Is(err, ErrBusy):
		return StatusBusy
	case errors.Is(err, ErrNoSuchProcess):
		return StatusNoSuchProcess
	default:
		return StatusFail
	}
}

// ErrorOf is the inverse of StatusOf, used by host code
func ErrorOf(status uint8) error {
	switch status {
	case StatusSuccess:
		return nil
	case StatusAlready:
		return ErrAlready
	case StatusNoSupport:
		return ErrNoSupport
	case StatusInvalid:
		return ErrInvalid
	case StatusNoMem:
		return ErrNoMem
	case StatusBusy:
		return ErrBusy
	case StatusNoSuchProcess:
		return ErrNoSuchProcess
	default:
		return errors.New("alarm command failed: status " + utoa(uint32(status)))
	}
}
