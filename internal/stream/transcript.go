package stream

import (
	"strings"

	"github.com/example/lean-prover/internal/models"
)

// Transcript is the ordered record of what one encoder run delivered.
type Transcript struct {
	Events []models.StreamEvent
}

func (t *Transcript) add(ev models.StreamEvent) {
	t.Events = append(t.Events, ev)
}

// Proof concatenates the proof_chunk contents.
func (t *Transcript) Proof() string {
	var b strings.Builder
	for _, ev := range t.Events {
		if ev.Type == models.EventProofChunk {
			b.WriteString(ev.Content)
		}
	}
	return b.String()
}

// Succeeded reports whether a success verdict was delivered.
func (t *Transcript) Succeeded() bool {
	for _, ev := range t.Events {
		if ev.Type == models.EventSuccess {
			return true
		}
	}
	return false
}

// String assembles the delivered content as it reads to a user: status lines, the proof
// body, then the verdict. Heartbeats and empty markers are skipped.
func (t *Transcript) String() string {
	var b strings.Builder
	newline := func() {
		if b.Len() > 0 && !strings.HasSuffix(b.String(), "\n") {
			b.WriteByte('\n')
		}
	}
	openBody := false
	for _, ev := range t.Events {
		switch ev.Type {
		case models.EventProofChunk:
			if openBody {
				newline()
				openBody = false
			}
			b.WriteString(ev.Content)
		case models.EventStatus, models.EventKnowledgeChunk, models.EventProofStart,
			models.EventSuccess, models.EventError:
			if ev.Content != "" {
				newline()
				b.WriteString(ev.Content)
			}
			openBody = ev.Type == models.EventProofStart
		}
	}
	return b.String()
}
