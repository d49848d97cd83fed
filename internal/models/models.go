package models

import (
	"time"
)

// Provenance tells whether a candidate came from the first generation call or a refinement.
type Provenance string

const (
	ProvenanceInitial Provenance = "initial"
	ProvenanceRefined Provenance = "refined"
)

// FailureReason classifies why a run (or a single verification) did not succeed.
type FailureReason string

const (
	ToolchainUnavailable  FailureReason = "ToolchainUnavailable"
	GenerationError       FailureReason = "GenerationError"
	VerificationTimeout   FailureReason = "VerificationTimeout"
	VerificationRejected  FailureReason = "VerificationRejected"
	VerificationExhausted FailureReason = "VerificationExhausted"
	TransportError        FailureReason = "TransportError"
)

type Candidate struct {
	Text       string     `json:"text"`
	Attempt    int        `json:"attempt"`
	Provenance Provenance `json:"provenance"`
}

// VerificationOutcome is produced once per verifier call. Failure is empty when Accepted.
type VerificationOutcome struct {
	Accepted   bool          `json:"accepted"`
	Diagnostic string        `json:"diagnostic"`
	Elapsed    time.Duration `json:"elapsed"`
	Failure    FailureReason `json:"failure,omitempty"`
}

type AttemptRecord struct {
	Candidate Candidate           `json:"candidate"`
	Outcome   VerificationOutcome `json:"outcome"`
}

// Report is the terminal result of one orchestration run.
type Report struct {
	Success        bool            `json:"success"`
	FinalCandidate *Candidate      `json:"final_candidate,omitempty"`
	AttemptHistory []AttemptRecord `json:"attempt_history"`
	FailureReason  FailureReason   `json:"failure_reason,omitempty"`
	// Detail carries the underlying message for FailureReason (generation error text, last diagnostic).
	Detail string `json:"detail,omitempty"`
}

// LastCandidate returns the final candidate on success, otherwise the most recently verified one.
func (r *Report) LastCandidate() *Candidate {
	if r.FinalCandidate != nil {
		return r.FinalCandidate
	}
	if n := len(r.AttemptHistory); n > 0 {
		c := r.AttemptHistory[n-1].Candidate
		return &c
	}
	return nil
}

type EventType string

const (
	EventStatus         EventType = "status"
	EventProofStart     EventType = "proof_start"
	EventProofChunk     EventType = "proof_chunk"
	EventProofEnd       EventType = "proof_end"
	EventSuccess        EventType = "success"
	EventError          EventType = "error"
	EventHeartbeat      EventType = "heartbeat"
	EventComplete       EventType = "complete"
	EventKnowledgeChunk EventType = "knowledge_chunk"
)

type StreamEvent struct {
	Type    EventType `json:"type"`
	Content string    `json:"content"`
}

// Session is the persisted record linking a statement to its eventual result.
type Session struct {
	ID        int64     `json:"id"`
	Title     string    `json:"title"`
	Statement string    `json:"statement"`
	Result    *string   `json:"result"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
