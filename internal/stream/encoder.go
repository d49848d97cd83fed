// Package stream turns proof progress into the ordered event protocol:
// status+, proof_start, proof_chunk*, proof_end, success|error, complete.
package stream

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/example/lean-prover/internal/metrics"
	"github.com/example/lean-prover/internal/models"
)

var (
	// ErrTransport means the consumer went away; nothing more is written.
	ErrTransport = errors.New("stream: consumer disconnected")
	// ErrOutOfOrder is returned when a producer emits an event its phase does not allow.
	ErrOutOfOrder = errors.New("stream: event out of order")
)

// Sink delivers one event to the consumer.
type Sink interface {
	Send(ev models.StreamEvent) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ev models.StreamEvent) error

func (f SinkFunc) Send(ev models.StreamEvent) error { return f(ev) }

// KnowledgeSource looks up reference material related to a statement. Results are
// forwarded as knowledge_chunk events before the proof section.
type KnowledgeSource interface {
	Related(ctx context.Context, statement string) ([]string, error)
}

// TokenFeed pushes fragments into yield until the upstream ends. A non-nil error from
// yield must abort the feed.
type TokenFeed func(yield func(fragment string) error) error

// Verdict is the producer's conclusion, delivered as success or error.
type Verdict struct {
	Success bool
	Message string
}

// Producer drives one run through the emitter.
type Producer func(ctx context.Context, em *Emitter) (Verdict, error)

const (
	defaultStatus     = "Starting proof..."
	defaultProofStart = "Proof:\n"
)

// Encoder holds the per-deployment knobs. Runs share nothing but these values.
type Encoder struct {
	HeartbeatEvery int
	ChunkThreshold int
	Pacing         time.Duration
	Sleep          func(ctx context.Context, d time.Duration) error
	Logger         *zap.Logger
	Metrics        *metrics.Metrics
}

func NewEncoder(heartbeatEvery, chunkThreshold int, pacing time.Duration, logger *zap.Logger, m *metrics.Metrics) *Encoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Encoder{
		HeartbeatEvery: heartbeatEvery,
		ChunkThreshold: chunkThreshold,
		Pacing:         pacing,
		Logger:         logger,
		Metrics:        m,
	}
}

type phase int

const (
	phaseOpen phase = iota
	phaseStatus
	phaseProof
	phaseProofDone
	phaseVerdict
	phaseClosed
)

// Emitter is handed to a Producer for the duration of one Run.
type Emitter struct {
	enc        *Encoder
	ctx        context.Context
	sink       Sink
	logger     *zap.Logger
	phase      phase
	transcript *Transcript
	transport  error
}

// Run executes produce and guarantees the ordering contract on the sink: whatever the
// producer does, including panicking, the run ends with exactly one verdict followed by
// complete. The only exception is a transport failure, after which nothing is written
// and an error wrapping ErrTransport is returned.
func (e *Encoder) Run(ctx context.Context, sink Sink, produce Producer) (*Transcript, error) {
	logger := e.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	em := &Emitter{enc: e, ctx: ctx, sink: sink, logger: logger, transcript: &Transcript{}}

	verdict, err := em.safeProduce(produce)
	if em.transport != nil {
		logger.Warn("stream abandoned", zap.Error(em.transport))
		e.Metrics.RecordDisconnect()
		return em.transcript, em.transport
	}
	if err != nil {
		logger.Error("proof stream failed", zap.Error(err))
		verdict = Verdict{Message: err.Error()}
	}
	em.finish(verdict)
	if em.transport != nil {
		e.Metrics.RecordDisconnect()
		return em.transcript, em.transport
	}
	return em.transcript, nil
}

func (em *Emitter) safeProduce(produce Producer) (v Verdict, err error) {
	defer func() {
		if p := recover(); p != nil {
			em.logger.Error("producer panic", zap.Any("panic", p), zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("internal error: %v", p)
		}
	}()
	return produce(em.ctx, em)
}

// finish closes whatever section is open, sends the verdict, then complete.
func (em *Emitter) finish(v Verdict) {
	if em.phase >= phaseVerdict {
		return
	}
	if em.phase == phaseOpen {
		em.send(models.EventStatus, defaultStatus)
	}
	if em.phase < phaseProof {
		em.send(models.EventProofStart, defaultProofStart)
	}
	if em.phase == phaseProof {
		em.send(models.EventProofEnd, "")
	}
	kind := models.EventError
	if v.Success {
		kind = models.EventSuccess
	}
	em.send(kind, v.Message)
	em.send(models.EventComplete, "")
}

// send writes one event unless the transport has already failed.
func (em *Emitter) send(t models.EventType, content string) error {
	if em.transport != nil {
		return em.transport
	}
	if err := em.ctx.Err(); err != nil {
		em.transport = fmt.Errorf("%w: %w", ErrTransport, err)
		return em.transport
	}
	ev := models.StreamEvent{Type: t, Content: content}
	if err := em.sink.Send(ev); err != nil {
		em.transport = fmt.Errorf("%w: %w", ErrTransport, err)
		return em.transport
	}
	em.enc.Metrics.RecordEvent(t)
	if t != models.EventHeartbeat {
		em.transcript.add(ev)
	}
	switch t {
	case models.EventStatus:
		em.phase = phaseStatus
	case models.EventProofStart:
		em.phase = phaseProof
	case models.EventProofEnd:
		em.phase = phaseProofDone
	case models.EventSuccess, models.EventError:
		em.phase = phaseVerdict
	case models.EventComplete:
		em.phase = phaseClosed
	}
	return nil
}

func (em *Emitter) beforeProof(t models.EventType) error {
	if em.phase > phaseStatus {
		return fmt.Errorf("%w: %s after proof_start", ErrOutOfOrder, t)
	}
	return nil
}

// Status sends a progress line. Only allowed before the proof section.
func (em *Emitter) Status(msg string) error {
	if err := em.beforeProof(models.EventStatus); err != nil {
		return err
	}
	return em.send(models.EventStatus, msg)
}

// Knowledge forwards one piece of reference material before the proof section.
func (em *Emitter) Knowledge(content string) error {
	if err := em.beforeProof(models.EventKnowledgeChunk); err != nil {
		return err
	}
	return em.send(models.EventKnowledgeChunk, content)
}

func (em *Emitter) openProof(label string) error {
	if err := em.beforeProof(models.EventProofStart); err != nil {
		return err
	}
	if em.phase == phaseOpen {
		if err := em.send(models.EventStatus, defaultStatus); err != nil {
			return err
		}
	}
	if label == "" {
		label = defaultProofStart
	}
	return em.send(models.EventProofStart, label)
}

// Tokens opens the proof section and forwards each fragment of feed as a proof_chunk,
// with an empty heartbeat after every HeartbeatEvery fragments. It returns the
// concatenated text. On a feed error the section is left open for Run to close.
func (em *Emitter) Tokens(label string, feed TokenFeed) (string, error) {
	if err := em.openProof(label); err != nil {
		return "", err
	}
	every := em.enc.HeartbeatEvery
	if every < 1 {
		every = 50
	}
	var b strings.Builder
	forwarded := 0
	err := feed(func(fragment string) error {
		if fragment == "" {
			return nil
		}
		if err := em.send(models.EventProofChunk, fragment); err != nil {
			return err
		}
		b.WriteString(fragment)
		forwarded++
		if forwarded%every == 0 {
			return em.send(models.EventHeartbeat, "")
		}
		return nil
	})
	if em.transport != nil {
		return b.String(), em.transport
	}
	if err != nil {
		return b.String(), err
	}
	return b.String(), em.send(models.EventProofEnd, "")
}

// Buffered opens the proof section and delivers text in sentence-grouped chunks with a
// pacing delay between them.
func (em *Emitter) Buffered(label, text string) error {
	if err := em.openProof(label); err != nil {
		return err
	}
	sleep := em.enc.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	threshold := em.enc.ChunkThreshold
	if threshold < 1 {
		threshold = 200
	}
	for i, chunk := range SplitChunks(text, threshold) {
		if i > 0 && em.enc.Pacing > 0 {
			if err := sleep(em.ctx, em.enc.Pacing); err != nil {
				em.transport = fmt.Errorf("%w: %w", ErrTransport, err)
				return em.transport
			}
		}
		if err := em.send(models.EventProofChunk, chunk); err != nil {
			return err
		}
	}
	return em.send(models.EventProofEnd, "")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
