package events

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/forged/internal/pipeline"
)

// ErrNilConn indicates the emitter was handed no connection.
var ErrNilConn = errors.New("nats connection cannot be nil")

// SubjectPrefix is the root of every run event subject. The full subject
// is forged.runs.<workflow>.
const SubjectPrefix = "forged.runs"

// Connect dials NATS with the reconnect behavior used across deployments.
func Connect(url string) (*nats.Conn, error) {
	return nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
	)
}

// NATSEmitter publishes events as JSON to per-workflow subjects.
type NATSEmitter struct {
	nc     *nats.Conn
	logger *zap.Logger
}

// NewNATSEmitter wraps an existing connection. The caller owns the
// connection's lifecycle.
func NewNATSEmitter(nc *nats.Conn, logger *zap.Logger) (*NATSEmitter, error) {
	if nc == nil {
		return nil, ErrNilConn
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSEmitter{nc: nc, logger: logger}, nil
}

func (e *NATSEmitter) RunStarted(runID string, workflow pipeline.WorkflowType, domain string) {
	e.publish(Event{
		Type:     TypeRunStarted,
		RunID:    runID,
		Workflow: string(workflow),
		Domain:   domain,
	})
}

func (e *NATSEmitter) StageCompleted(runID string, workflow pipeline.WorkflowType, stage string, iteration int, took time.Duration) {
	e.publish(Event{
		Type:      TypeStageCompleted,
		RunID:     runID,
		Workflow:  string(workflow),
		Stage:     stage,
		Iteration: iteration,
		TookMs:    took.Milliseconds(),
	})
}

func (e *NATSEmitter) Compacted(runID string, workflow pipeline.WorkflowType, beforeRatio, afterRatio float64) {
	e.publish(Event{
		Type:     TypeCompacted,
		RunID:    runID,
		Workflow: string(workflow),
		Before:   beforeRatio,
		After:    afterRatio,
	})
}

func (e *NATSEmitter) RunFinished(runID string, workflow pipeline.WorkflowType, kind string, score float64, iterations int) {
	e.publish(Event{
		Type:      TypeRunFinished,
		RunID:     runID,
		Workflow:  string(workflow),
		Kind:      kind,
		Score:     score,
		Iteration: iterations,
	})
}

// publish marshals and sends one event. Failures are logged and dropped;
// observers are not on the run's critical path.
func (e *NATSEmitter) publish(ev Event) {
	ev.At = time.Now().UTC()

	data, err := json.Marshal(ev)
	if err != nil {
		e.logger.Warn("marshaling event", zap.String("type", ev.Type), zap.Error(err))
		return
	}

	subject := SubjectPrefix + "." + ev.Workflow
	if err := e.nc.Publish(subject, data); err != nil {
		e.logger.Warn("publishing event",
			zap.String("subject", subject),
			zap.String("type", ev.Type),
			zap.Error(err),
		)
	}
}

var _ Emitter = (*NATSEmitter)(nil)
