package common

import (
	"errors"
	"strings"
)

// Kind classifies the failures a contributor can see when talking to the
// coordinator or computing a contribution.
type Kind int

const (
	KindUnknown Kind = iota
	// CoordinatorRejected means the coordinator refused the operation.
	CoordinatorRejected
	// UnknownContributor means the coordinator does not know the public key.
	UnknownContributor
	// UnknownTask means the task is not in the contributor's pending list.
	UnknownTask
	// TransportFailure means the request or response was lost or garbled.
	TransportFailure
	// ComputationFailure means the contribution could not be computed.
	ComputationFailure
)

var kindNames = map[Kind]string{
	KindUnknown:         "Unknown",
	CoordinatorRejected: "CoordinatorRejected",
	UnknownContributor:  "UnknownContributor",
	UnknownTask:         "UnknownTask",
	TransportFailure:    "TransportFailure",
	ComputationFailure:  "ComputationFailure",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return kindNames[KindUnknown]
}

// ParseKind is the inverse of Kind.String. Unrecognised names map to
// CoordinatorRejected since they can only come from a coordinator response.
func ParseKind(s string) Kind {
	for k, name := range kindNames {
		if name == s && k != KindUnknown {
			return k
		}
	}
	return CoordinatorRejected
}

// Sentinel errors, one per Kind, usable with errors.Is on any *Error.
var (
	ErrCoordinatorRejected = errors.New("coordinator rejected the operation")
	ErrUnknownContributor  = errors.New("unknown contributor")
	ErrUnknownTask         = errors.New("unknown task")
	ErrTransportFailure    = errors.New("transport failure")
	ErrComputationFailure  = errors.New("computation failure")
)

var sentinels = map[Kind]error{
	CoordinatorRejected: ErrCoordinatorRejected,
	UnknownContributor:  ErrUnknownContributor,
	UnknownTask:         ErrUnknownTask,
	TransportFailure:    ErrTransportFailure,
	ComputationFailure:  ErrComputationFailure,
}

// Error is a classified failure of a named operation.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// NewError returns an error of the given kind for op with a message.
func NewError(kind Kind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// WrapError classifies err as kind for op.
func WrapError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is the sentinel of e's kind.
func (e *Error) Is(target error) bool {
	s, ok := sentinels[e.Kind]
	return ok && s == target
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsRetryable reports whether the operation that produced err may be retried
// as is. Only transport failures qualify.
func IsRetryable(err error) bool {
	return KindOf(err) == TransportFailure
}

// IsOwnershipFailure reports whether err means the contributor lost the
// work it was doing and should go back to the queue.
func IsOwnershipFailure(err error) bool {
	switch KindOf(err) {
	case CoordinatorRejected, UnknownTask:
		return true
	default:
		return false
	}
}

// Plain text prefixes used by coordinators that do not send structured errors.
const (
	legacyRejectedPrefix    = "Coordinator failed: "
	legacyContributorPrefix = "Could not find contributor with public key "
	legacyTaskPrefix        = "Could not find the provided Task "
)

// LegacyText renders e the way the plain text error bodies are worded.
func (e *Error) LegacyText() string {
	msg := e.Msg
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	switch e.Kind {
	case UnknownContributor:
		return legacyContributorPrefix + msg
	case UnknownTask:
		return legacyTaskPrefix + msg + " in coordinator state"
	default:
		return legacyRejectedPrefix + msg
	}
}

// ErrorFromText classifies a plain text error body. Anything that is not
// recognised is a rejection.
func ErrorFromText(op, body string) *Error {
	body = strings.TrimSpace(body)
	switch {
	case strings.HasPrefix(body, legacyContributorPrefix):
		return NewError(UnknownContributor, op, strings.TrimPrefix(body, legacyContributorPrefix))
	case strings.HasPrefix(body, legacyTaskPrefix):
		msg := strings.TrimSuffix(strings.TrimPrefix(body, legacyTaskPrefix), " in coordinator state")
		return NewError(UnknownTask, op, msg)
	default:
		return NewError(CoordinatorRejected, op, strings.TrimPrefix(body, legacyRejectedPrefix))
	}
}
