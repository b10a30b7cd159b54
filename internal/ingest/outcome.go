package ingest

import "time"

// OutcomeKind enumerates the closed set of queue decisions a handler can make.
type OutcomeKind string

// Supported outcome kinds.
const (
	OutcomeAck        OutcomeKind = "ack"
	OutcomeRetry      OutcomeKind = "retry"
	OutcomeDeadLetter OutcomeKind = "dead_letter"
)

// Outcome is the handler's decision for a delivered job. The queue runtime
// owns delivery mechanics; handlers stay pure decision functions.
type Outcome struct {
	Kind   OutcomeKind
	Delay  time.Duration
	Reason string
}

// Ack acknowledges the delivery.
func Ack() Outcome {
	return Outcome{Kind: OutcomeAck}
}

// RetryAfter requests redelivery after an explicit delay.
func RetryAfter(delay time.Duration) Outcome {
	return Outcome{Kind: OutcomeRetry, Delay: delay}
}

// DeadLetter marks the job permanently failed; it will not be retried.
func DeadLetter(reason string) Outcome {
	return Outcome{Kind: OutcomeDeadLetter, Reason: reason}
}

// Apply settles the delivery according to the outcome.
func (o Outcome) Apply(d Delivery) {
	switch o.Kind {
	case OutcomeRetry:
		d.Retry(o.Delay)
	case OutcomeDeadLetter:
		d.DeadLetter(o.Reason)
	default:
		d.Ack()
	}
}
