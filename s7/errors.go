package s7

import "fmt"

// ErrorKind identifies the class of failure a Client operation can report,
// reshaped into an idiomatic Go error type so callers can use
// errors.Is/errors.As across the full job-level taxonomy, not just the
// response error byte.
type ErrorKind int

const (
	ErrConnect ErrorKind = iota
	ErrIO
	ErrIsoConnect
	ErrNegotiatingPdu
	ErrMalformedFrame
	ErrInvalidPdu
	ErrInvalidDataSize
	ErrCpuError
	ErrConversion
	ErrInvalidCpuStatus
	ErrLock
)

func (k ErrorKind) String() string {
	switch k {
	case ErrConnect:
		return "connect"
	case ErrIO:
		return "io"
	case ErrIsoConnect:
		return "iso-connect"
	case ErrNegotiatingPdu:
		return "negotiating-pdu"
	case ErrMalformedFrame:
		return "malformed-frame"
	case ErrInvalidPdu:
		return "invalid-pdu"
	case ErrInvalidDataSize:
		return "invalid-data-size"
	case ErrCpuError:
		return "cpu-error"
	case ErrConversion:
		return "conversion"
	case ErrInvalidCpuStatus:
		return "invalid-cpu-status"
	case ErrLock:
		return "lock"
	default:
		return "unknown"
	}
}

// Error is the error type returned by every exported Client/Transport
// operation. Code carries the raw CPU error byte when Kind == ErrCpuError,
// or a frame length when Kind is ErrMalformedFrame.
type Error struct {
	Kind ErrorKind
	Code int
	Msg  string
	err  error // wrapped cause, if any
}

func (e *Error) Error() string {
	switch e.Kind {
	case ErrCpuError:
		return fmt.Sprintf("s7: cpu error: %s", cpuErrorText(e.Code))
	case ErrMalformedFrame:
		return fmt.Sprintf("s7: malformed frame (length %d)", e.Code)
	default:
		if e.Msg != "" {
			return fmt.Sprintf("s7: %s: %s", e.Kind, e.Msg)
		}
		return fmt.Sprintf("s7: %s", e.Kind)
	}
}

func (e *Error) Unwrap() error { return e.err }

// Is makes errors.Is(err, &Error{Kind: X}) match any *Error with the same Kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

func newErr(kind ErrorKind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func wrapErr(kind ErrorKind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, err: cause}
}

func cpuErr(code int) *Error {
	return &Error{Kind: ErrCpuError, Code: code}
}

// CPU response code space.
const (
	code7AddressOutOfRange     = 5
	code7InvalidTransportSize  = 6
	code7WriteDataSizeMismatch = 7
	code7ItemNotAvailable      = 10
	code7ItemNotAvailableAlt   = 53769
	code7InvalidValue          = 56321
	code7NeedPassword          = 53825
	code7InvalidPassword       = 54786
	code7NoPasswordToClear     = 54788
	code7NoPasswordToSet       = 54789
	code7FunctionNotAvailable  = 33028
	code7DataOverPdu           = 34048
)

// cpuErrorText maps a raw CPU error byte/code to a human-readable string.
// Callers should branch on ErrorKind, not this text.
func cpuErrorText(code int) string {
	switch code {
	case code7AddressOutOfRange:
		return "address out of range"
	case code7InvalidTransportSize:
		return "invalid transport size"
	case code7WriteDataSizeMismatch:
		return "write data size mismatch"
	case code7ItemNotAvailable, code7ItemNotAvailableAlt:
		return "item not available"
	case code7DataOverPdu:
		return "size over pdu"
	case code7InvalidValue:
		return "invalid value supplied"
	case code7FunctionNotAvailable:
		return "function not available"
	case code7NeedPassword:
		return "function not authorized for current protection level"
	case code7InvalidPassword:
		return "invalid password"
	case code7NoPasswordToSet, code7NoPasswordToClear:
		return "no password to set or clear"
	default:
		return fmt.Sprintf("function refused by CPU (code %d)", code)
	}
}
