package ingest

import (
	"context"
	"encoding/json"

	"github.com/ethpandaops/reportoor/pkg/model"
	"github.com/ethpandaops/reportoor/pkg/reader"
	"github.com/ethpandaops/reportoor/pkg/resultfile"
)

type visit struct {
	apply func(sink reader.Visitor) error
	done  chan error
}

// queue hands every visitor call to a single goroutine that owns the sink.
// Callers block until their call is applied, so a reader's scoped
// resources stay alive for the duration of the call.
type queue struct {
	ctx    context.Context //nolint:containedctx // bounds submissions of one ingest
	visits chan visit
}

// Ensure interface compliance.
var _ reader.Visitor = (*queue)(nil)

func newQueue(ctx context.Context) *queue {
	return &queue{
		ctx:    ctx,
		visits: make(chan visit),
	}
}

// run applies queued calls to sink until the queue is closed.
func (q *queue) run(sink reader.Visitor) {
	for v := range q.visits {
		v.done <- v.apply(sink)
	}
}

func (q *queue) close() {
	close(q.visits)
}

func (q *queue) submit(apply func(sink reader.Visitor) error) error {
	v := visit{apply: apply, done: make(chan error, 1)}

	select {
	case q.visits <- v:
	case <-q.ctx.Done():
		return q.ctx.Err()
	}

	// Once accepted the call runs to completion; wait for it regardless of
	// cancellation so the caller's resources outlive it.
	return <-v.done
}

func (q *queue) VisitTestResult(raw *model.RawTestResult, rc reader.Context) error {
	return q.submit(func(sink reader.Visitor) error {
		return sink.VisitTestResult(raw, rc)
	})
}

func (q *queue) VisitTestFixtureResult(raw *model.RawFixtureResult, rc reader.Context) error {
	return q.submit(func(sink reader.Visitor) error {
		return sink.VisitTestFixtureResult(raw, rc)
	})
}

func (q *queue) VisitAttachmentFile(file resultfile.File, rc reader.Context) error {
	return q.submit(func(sink reader.Visitor) error {
		return sink.VisitAttachmentFile(file, rc)
	})
}

func (q *queue) VisitMetadata(key string, data json.RawMessage, rc reader.Context) error {
	return q.submit(func(sink reader.Visitor) error {
		return sink.VisitMetadata(key, data, rc)
	})
}
