package jobs

import "errors"

// Kind is the error taxonomy from the error handling design: a closed set
// of classes the worker runtime dispatches retry/dead-letter/requeue
// decisions on. It deliberately isn't a Go error type hierarchy — just an
// attribute any error can carry via Classify.
type Kind int

const (
	// KindUnknown is the zero value; ClassifyOf returns it for an error
	// that never passed through Classify.
	KindUnknown Kind = iota
	KindTransient
	KindRateLimited
	KindPermanent
	KindInvalidPayload
	KindCancelled
	KindPartialFailure
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "Transient"
	case KindRateLimited:
		return "RateLimited"
	case KindPermanent:
		return "Permanent"
	case KindInvalidPayload:
		return "InvalidPayload"
	case KindCancelled:
		return "Cancelled"
	case KindPartialFailure:
		return "PartialFailure"
	case KindFatal:
		return "Fatal"
	default:
		return "Unknown"
	}
}

// ErrInvalidPayload is returned by the codec when a job payload violates
// its schema.
var ErrInvalidPayload = errors.New("invalid job payload")

// ErrNoReviewsFound is the Permanent error the label processor returns
// when none of the requested review ids resolve.
var ErrNoReviewsFound = errors.New("no reviews found")

// classifiedError pairs an error with the Kind the worker runtime should
// treat it as.
type classifiedError struct {
	kind Kind
	err  error
}

func (c *classifiedError) Error() string { return c.err.Error() }
func (c *classifiedError) Unwrap() error { return c.err }

// Classify wraps err so ClassifyOf(err) returns k.
func Classify(k Kind, err error) error {
	if err == nil {
		return nil
	}
	return &classifiedError{kind: k, err: err}
}

// ClassifyOf returns the Kind attached to err via Classify, or
// KindUnknown if err was never classified.
func ClassifyOf(err error) Kind {
	var c *classifiedError
	if errors.As(err, &c) {
		return c.kind
	}
	return KindUnknown
}

// Retryable reports whether a job that failed with this Kind should be
// retried (vs. immediately dead-lettered).
func (k Kind) Retryable() bool {
	switch k {
	case KindTransient, KindRateLimited:
		return true
	default:
		return false
	}
}
