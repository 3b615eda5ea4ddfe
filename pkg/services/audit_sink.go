package services

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/ekaya-inc/paygap-engine/pkg/logging"
	"github.com/ekaya-inc/paygap-engine/pkg/metrics"
	"github.com/ekaya-inc/paygap-engine/pkg/models"
)

// Audit delivery results recorded in metrics.
const (
	auditResultPublished = "published"
	auditResultLogged    = "logged"
	auditResultDropped   = "dropped"
)

// AuditSink records audit events without ever blocking or failing the caller.
type AuditSink interface {
	// Emit queues the event. When the buffer is full the event is dropped.
	Emit(ctx context.Context, event models.AuditEvent)
	// Close drains queued events until ctx expires.
	Close(ctx context.Context) error
}

// AuditPublisher is the transport events are published on. *nats.Conn satisfies it.
type AuditPublisher interface {
	Publish(subject string, data []byte) error
}

type auditSink struct {
	events    chan models.AuditEvent
	publisher AuditPublisher
	subject   string
	metrics   *metrics.Metrics
	logger    *zap.Logger

	closeOnce sync.Once
	done      chan struct{}
}

// NewAuditSink starts the background delivery loop. publisher may be nil, in
// which case events are only logged.
func NewAuditSink(publisher AuditPublisher, subject string, bufferSize int, m *metrics.Metrics, logger *zap.Logger) AuditSink {
	if bufferSize < 1 {
		bufferSize = 1
	}
	s := &auditSink{
		events:    make(chan models.AuditEvent, bufferSize),
		publisher: publisher,
		subject:   subject,
		metrics:   m,
		logger:    logger.Named("audit"),
		done:      make(chan struct{}),
	}
	go s.run()
	return s
}

var _ AuditSink = (*auditSink)(nil)

func (s *auditSink) Emit(ctx context.Context, event models.AuditEvent) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	if event.Actor == "" {
		event.Actor = models.ActorFromContext(ctx)
	}

	defer func() {
		// send on a closed channel after Close
		if recover() != nil {
			s.metrics.AuditEvent(auditResultDropped)
		}
	}()

	select {
	case s.events <- event:
	default:
		s.metrics.AuditEvent(auditResultDropped)
		s.logger.Warn("Audit buffer full, dropping event",
			zap.String("action", event.Action),
			zap.String("org_id", event.OrgID.String()))
	}
}

func (s *auditSink) run() {
	defer close(s.done)
	for event := range s.events {
		s.deliver(event)
	}
}

func (s *auditSink) deliver(event models.AuditEvent) {
	s.logger.Info("Audit event",
		zap.String("org_id", event.OrgID.String()),
		zap.String("actor", event.Actor),
		zap.String("action", event.Action),
		zap.String("entity_type", event.EntityType),
		zap.String("entity_id", event.EntityID.String()),
		zap.Any("details", event.Details))

	if s.publisher == nil {
		s.metrics.AuditEvent(auditResultLogged)
		return
	}

	data, err := json.Marshal(event)
	if err != nil {
		s.logger.Error("Failed to encode audit event", zap.String("action", event.Action), zap.Error(err))
		s.metrics.AuditEvent(auditResultLogged)
		return
	}
	if err := s.publisher.Publish(s.subject, data); err != nil {
		s.logger.Warn("Failed to publish audit event",
			zap.String("subject", s.subject),
			zap.String("action", event.Action),
			zap.Error(err))
		s.metrics.AuditEvent(auditResultLogged)
		return
	}
	s.metrics.AuditEvent(auditResultPublished)
}

func (s *auditSink) Close(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.events) })
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("audit sink close: %w", ctx.Err())
	}
}

// ConnectAuditNATS dials the NATS server events are published to.
func ConnectAuditNATS(url string, logger *zap.Logger) (*nats.Conn, error) {
	logger = logger.Named("audit-nats")
	nc, err := nats.Connect(url,
		nats.Name("paygap-engine"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", logging.ErrorField(err))
				return
			}
			logger.Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", logging.SanitizeURL(nc.ConnectedUrl())))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return nc, nil
}
