// Package audit provides the append-only audit trail for the oversight
// service. Task lifecycle steps and capability token operations are emitted
// as events to configured sinks (log, webhook, Kafka).
//
// Usage:
//
//	svc := audit.NewService(logger)
//	svc.Configure(cfg.Audit)
//	svc.Emit(ctx, &audit.Event{...})
//	svc.Close()
package audit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	cfgpkg "github.com/arbitra-ai/oversight/pkg/config"
	"github.com/arbitra-ai/oversight/pkg/metrics"
)

// Service manages the audit sinks and event emission. Emission is
// asynchronous: events pass through a buffered queue drained by a single
// worker so that a slow sink never blocks the escalation or token paths.
type Service struct {
	logger *zap.Logger

	mu      sync.RWMutex
	sink    Sink
	enabled bool

	queue chan *Event
	done  chan struct{}
	wg    sync.WaitGroup
}

const queueSize = 1024

// NewService creates a new audit Service. It is disabled until Configure is
// called with an enabled config.
func NewService(logger *zap.Logger) *Service {
	s := &Service{
		logger: logger.Named("audit-service"),
		queue:  make(chan *Event, queueSize),
		done:   make(chan struct{}),
	}
	s.wg.Add(1)
	go s.drain()
	return s
}

// Configure builds sinks from config and enables the service. A nil or
// disabled config turns auditing off.
func (s *Service) Configure(cfg cfgpkg.Audit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closeSinkLocked()

	if !cfg.Enabled {
		s.enabled = false
		s.logger.Info("audit system disabled")
		return nil
	}

	var sinks []Sink
	for _, sinkCfg := range cfg.Sinks {
		sink, err := s.buildSink(sinkCfg)
		if err != nil {
			s.logger.Warn("failed to build audit sink, skipping",
				zap.String("name", sinkCfg.Name),
				zap.String("type", sinkCfg.Type),
				zap.String("error", err.Error()))
			continue
		}
		sinks = append(sinks, sink)
	}
	if len(sinks) == 0 {
		// Always keep at least the structured log trail when auditing is on.
		sinks = append(sinks, NewLogSink(s.logger))
	}

	s.sink = NewMultiSink(sinks, s.logger)
	s.enabled = true
	s.logger.Info("audit system configured", zap.Int("sinks", len(sinks)))
	return nil
}

func (s *Service) buildSink(sinkCfg cfgpkg.AuditSink) (Sink, error) {
	switch sinkCfg.Type {
	case "log", "":
		return NewLogSink(s.logger), nil
	case "webhook":
		return NewWebhookSink(WebhookSinkConfig{
			Name:    sinkCfg.Name,
			URL:     sinkCfg.URL,
			Headers: sinkCfg.Headers,
			Timeout: time.Duration(sinkCfg.TimeoutSeconds) * time.Second,
		}, s.logger), nil
	case "kafka":
		return NewKafkaSink(KafkaSinkConfig{
			Name:    sinkCfg.Name,
			Brokers: sinkCfg.Brokers,
			Topic:   sinkCfg.Topic,
		}, s.logger)
	default:
		return nil, errUnknownSinkType(sinkCfg.Type)
	}
}

type errUnknownSinkType string

func (e errUnknownSinkType) Error() string { return "unknown sink type: " + string(e) }

// Emit sends an audit event asynchronously. Events are dropped (with a
// warning) when the queue is full rather than blocking the caller.
func (s *Service) Emit(_ context.Context, event *Event) {
	s.mu.RLock()
	enabled := s.enabled
	s.mu.RUnlock()
	if !enabled || event == nil {
		return
	}

	metrics.AuditEventsEmitted.WithLabelValues(string(event.Type)).Inc()
	select {
	case s.queue <- event:
	default:
		s.logger.Warn("audit queue full, dropping event",
			zap.String("event_id", event.ID),
			zap.String("event_type", string(event.Type)))
	}
}

// IsEnabled returns whether auditing is currently enabled.
func (s *Service) IsEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.enabled
}

func (s *Service) drain() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			// Flush whatever is left before exiting.
			for {
				select {
				case event := <-s.queue:
					s.writeEvent(event)
				default:
					return
				}
			}
		case event := <-s.queue:
			s.writeEvent(event)
		}
	}
}

func (s *Service) writeEvent(event *Event) {
	s.mu.RLock()
	sink := s.sink
	s.mu.RUnlock()
	if sink == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = sink.Write(ctx, event)
}

// Close shuts down the audit service, flushing queued events.
func (s *Service) Close() error {
	close(s.done)
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeSinkLocked()
	s.enabled = false
	s.logger.Info("audit service closed")
	return nil
}

// closeSinkLocked closes the active sink. Caller must hold s.mu.
func (s *Service) closeSinkLocked() {
	if s.sink == nil {
		return
	}
	if err := s.sink.Close(); err != nil {
		s.logger.Warn("failed to close audit sink",
			zap.String("sink", s.sink.Name()),
			zap.String("error", err.Error()))
	}
	s.sink = nil
}
