package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
)

// Publisher is the single shared pub/sub publisher (§4.2, §5: "the pub/sub
// publisher connection is process-wide, owned exclusively by the publisher
// subsystem"). It holds its own dedicated connection — separate from the
// pooled control-database connections used for transactional writes — so a
// slow or blocked publish can never starve pipeline transactions, mirroring
// the teacher's "own duplicated connection" note in spec.md §4.2.
type Publisher struct {
	conn *pgx.Conn

	readyOnce sync.Once
	ready     chan struct{}
}

// NewPublisher opens the dedicated connection and resolves the ready
// barrier once the first connection succeeds, per spec.md's "a 'ready'
// barrier is awaited (resolved by the first successful connection event)".
func NewPublisher(ctx context.Context, dsn string) (*Publisher, error) {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect publisher: %w", err)
	}
	p := &Publisher{conn: conn, ready: make(chan struct{})}
	p.readyOnce.Do(func() { close(p.ready) })
	return p, nil
}

// Ready returns a channel that is closed once the publisher is usable.
func (p *Publisher) Ready() <-chan struct{} {
	return p.ready
}

// Close releases the dedicated connection.
func (p *Publisher) Close(ctx context.Context) error {
	return p.conn.Close(ctx)
}

// publish writes one row to stream_events and fires a NOTIFY on the
// stream's own channel name, so both a live LISTEN-ing subscriber and a
// reconnecting one (via catch-up SELECT) observe it. Callers must not await
// subscriber acknowledgment — fire-and-forget (§4.2).
func (p *Publisher) publish(ctx context.Context, streamID string, v any) error {
	<-p.ready
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal stream message: %w", err)
	}
	if _, err := p.conn.Exec(ctx, `INSERT INTO stream_events (stream_id, payload) VALUES ($1, $2)`, streamID, payload); err != nil {
		return fmt.Errorf("insert stream event: %w", err)
	}
	if _, err := p.conn.Exec(ctx, `SELECT pg_notify($1, $2)`, channelName(streamID), string(payload)); err != nil {
		return fmt.Errorf("notify stream channel: %w", err)
	}
	return nil
}

func channelName(streamID string) string {
	return "stream_" + streamID
}

// PublishProgress emits a non-terminal progress update. progressPercent
// must be in [0,100]; publish ordering on a single channel is preserved by
// the underlying LISTEN/NOTIFY delivery (§5, §8 I9).
func (p *Publisher) PublishProgress(ctx context.Context, streamID, message string, progressPercent int) {
	if progressPercent < 0 {
		progressPercent = 0
	} else if progressPercent > 100 {
		progressPercent = 100
	}
	if err := p.publish(ctx, streamID, ProgressMessage{Message: message, Progress: progressPercent}); err != nil {
		slog.Warn("Failed to publish progress", "stream_id", streamID, "error", err)
	}
}

// PublishSuccess emits the terminal success message (§4.2, §8 I1).
func (p *Publisher) PublishSuccess(ctx context.Context, streamID, content string) {
	if err := p.publish(ctx, streamID, TerminalMessage{Complete: true, Content: content, IsError: false}); err != nil {
		slog.Warn("Failed to publish success", "stream_id", streamID, "error", err)
	}
}

// PublishError emits the terminal failure message.
func (p *Publisher) PublishError(ctx context.Context, streamID, content string) {
	if err := p.publish(ctx, streamID, TerminalMessage{Complete: true, Content: content, IsError: true}); err != nil {
		slog.Warn("Failed to publish error", "stream_id", streamID, "error", err)
	}
}

// PublishTyped emits a structured non-terminal message (apiBlueprint,
// deployment_triggered, deployment_complete).
func (p *Publisher) PublishTyped(ctx context.Context, streamID string, msg TypedMessage) {
	if err := p.publish(ctx, streamID, msg); err != nil {
		slog.Warn("Failed to publish typed message", "stream_id", streamID, "type", msg.Type, "error", err)
	}
}

// PublishLLMChunk streams one chunk of raw LLM text on llm-stream-<jobId>.
func (p *Publisher) PublishLLMChunk(ctx context.Context, jobID, chunk string) {
	msg := LLMChunkMessage{JobID: jobID, Chunk: chunk, Done: false, Timestamp: time.Now().Unix()}
	if err := p.publish(ctx, llmStreamChannel(jobID), msg); err != nil {
		slog.Warn("Failed to publish llm chunk", "job_id", jobID, "error", err)
	}
}

// PublishLLMDone closes an llm-stream-<jobId> channel.
func (p *Publisher) PublishLLMDone(ctx context.Context, jobID string, streamErr error) {
	msg := LLMDoneMessage{JobID: jobID, Done: true, Timestamp: time.Now().Unix()}
	if streamErr != nil {
		msg.Error = streamErr.Error()
	}
	if err := p.publish(ctx, llmStreamChannel(jobID), msg); err != nil {
		slog.Warn("Failed to publish llm done", "job_id", jobID, "error", err)
	}
}

func llmStreamChannel(jobID string) string {
	return "llm-stream-" + jobID
}
