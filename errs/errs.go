// Package errs implements the §7 error taxonomy: a small set of typed
// errors that every layer of the motion core funnels failures into, each
// carrying the HTTP-style status code the (out-of-scope) control surface
// would report it as.
package errs

import "fmt"

// Code is the HTTP-style status the control surface would report.
type Code int

// Status codes named in spec §6/§7.
const (
	CodeInvalidArgument     Code = 400
	CodeResourceUnavailable Code = 503
	CodeBusy                Code = 409
)

// Kind identifies which branch of the §7 taxonomy an error belongs to.
type Kind string

// Taxonomy kinds from §7.
const (
	KindNotReady            Kind = "not_ready"
	KindInvalidArgument     Kind = "invalid_argument"
	KindBadFile             Kind = "bad_file"
	KindResourceUnavailable Kind = "resource_unavailable"
	KindBusy                Kind = "busy"
)

// Error is a taxonomy-tagged error. Callers that need to distinguish
// kinds use errors.As against *Error, or the Is* helpers below.
type Error struct {
	Kind Kind
	Code Code
	Msg  string
	err  error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.err)
	}
	return e.Msg
}

func (e *Error) Unwrap() error { return e.err }

// NotReady reports a movement requested before homing, or before rig
// geometry (topDistance) has been calibrated.
func NotReady(msg string) error {
	return &Error{Kind: KindNotReady, Code: CodeResourceUnavailable, Msg: msg}
}

// InvalidArgument reports out-of-range XY, a non-positive speed, or a
// malformed config value.
func InvalidArgument(msg string) error {
	return &Error{Kind: KindInvalidArgument, Code: CodeInvalidArgument, Msg: msg}
}

// InvalidArgumentf is InvalidArgument with formatting.
func InvalidArgumentf(format string, args ...interface{}) error {
	return InvalidArgument(fmt.Sprintf(format, args...))
}

// BadFile reports a command file missing its header lines, or truncated.
func BadFile(msg string, cause error) error {
	return &Error{Kind: KindBadFile, Code: CodeInvalidArgument, Msg: msg, err: cause}
}

// ResourceUnavailable reports persistence or a file store not mounted.
func ResourceUnavailable(msg string, cause error) error {
	return &Error{Kind: KindResourceUnavailable, Code: CodeResourceUnavailable, Msg: msg, err: cause}
}

// Busy reports an upload or start attempted while the runner is active.
func Busy(msg string) error {
	return &Error{Kind: KindBusy, Code: CodeBusy, Msg: msg}
}

// KindOf extracts the taxonomy Kind of err, if it (or something it wraps)
// is an *Error. The second return is false for plain errors.
func KindOf(err error) (Kind, bool) {
	for err != nil {
		if e, ok := err.(*Error); ok {
			return e.Kind, true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			break
		}
		err = u.Unwrap()
	}
	return "", false
}
