package domain

// Outcome is how a delivery was settled
type Outcome string

const (
	OutcomeAck        Outcome = "ack"
	OutcomeRetry      Outcome = "retry"
	OutcomeRequeue    Outcome = "requeue"
	OutcomeDeadLetter Outcome = "dead_letter"
)
