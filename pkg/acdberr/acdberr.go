// Package acdberr defines the logical error-code taxonomy shared by every
// ACDB runtime component (spec §6/§7) and a typed error wrapper that carries
// a code, the originating component, and an optional cause.
package acdberr

import "fmt"

// Code is the logical (not wire) error code returned by runtime operations.
type Code int32

const (
	EOK Code = iota
	EFAILED
	EBADPARAM
	EHANDLE
	ENOMEMORY
	ENORESOURCE
	EUNSUPPORTED
	ETIMEOUT
	EIODATA
	EABORTED
	ESUBSYSRESET
	ENEEDMORE
	EALREADY
	ENOTEXIST
	EDUPLICATE
	ENOTREADY
)

func (c Code) String() string {
	switch c {
	case EOK:
		return "EOK"
	case EFAILED:
		return "EFAILED"
	case EBADPARAM:
		return "EBADPARAM"
	case EHANDLE:
		return "EHANDLE"
	case ENOMEMORY:
		return "ENOMEMORY"
	case ENORESOURCE:
		return "ENORESOURCE"
	case EUNSUPPORTED:
		return "EUNSUPPORTED"
	case ETIMEOUT:
		return "ETIMEOUT"
	case EIODATA:
		return "EIODATA"
	case EABORTED:
		return "EABORTED"
	case ESUBSYSRESET:
		return "ESUBSYSRESET"
	case ENEEDMORE:
		return "ENEEDMORE"
	case EALREADY:
		return "EALREADY"
	case ENOTEXIST:
		return "ENOTEXIST"
	case EDUPLICATE:
		return "EDUPLICATE"
	case ENOTREADY:
		return "ENOTREADY"
	default:
		return fmt.Sprintf("Code(%d)", int32(c))
	}
}

// Err is the error type returned across runtime component boundaries.
type Err struct {
	Code      Code
	Component string
	Cause     error
}

func (e *Err) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Component, e.Code, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Component, e.Code)
}

func (e *Err) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, acdberr.EFOO) work by comparing codes through a
// sentinel *Err with no component/cause.
func (e *Err) Is(target error) bool {
	t, ok := target.(*Err)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// New builds an *Err for component reporting code with no wrapped cause.
func New(component string, code Code) *Err {
	return &Err{Code: code, Component: component}
}

// Wrap builds an *Err for component reporting code, wrapping cause.
func Wrap(component string, code Code, cause error) *Err {
	return &Err{Code: code, Component: component, Cause: cause}
}

// CodeOf extracts the Code carried by err, or EFAILED if err is not an *Err.
func CodeOf(err error) Code {
	if err == nil {
		return EOK
	}
	var e *Err
	if ok := asErr(err, &e); ok {
		return e.Code
	}
	return EFAILED
}

func asErr(err error, target **Err) bool {
	for err != nil {
		if e, ok := err.(*Err); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
