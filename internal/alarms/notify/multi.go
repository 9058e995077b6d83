package notify

import (
	"context"
	"log"

	alarms "ngsi-gateway/internal/alarms/domain"
	"ngsi-gateway/internal/observability/metrics"
)

// MultiNotifier dispatches alarm events to multiple notifiers.
type MultiNotifier struct {
	notifiers []alarms.Notifier
}

// NewMultiNotifier constructs a MultiNotifier.
func NewMultiNotifier(notifiers ...alarms.Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Notify forwards events to all notifiers.
func (m *MultiNotifier) Notify(ctx context.Context, event alarms.Event) {
	if m == nil {
		return
	}
	for _, notifier := range m.notifiers {
		if notifier != nil {
			notifier.Notify(ctx, event)
		}
	}
}

// LogNotifier writes transitions to a logger.
type LogNotifier struct {
	logger *log.Logger
}

// NewLogNotifier constructs a LogNotifier; nil uses log.Default().
func NewLogNotifier(logger *log.Logger) *LogNotifier {
	if logger == nil {
		logger = log.Default()
	}
	return &LogNotifier{logger: logger}
}

// Notify implements alarms.Notifier.
func (l *LogNotifier) Notify(_ context.Context, event alarms.Event) {
	switch event.Type {
	case alarms.EventRaised:
		l.logger.Printf("alarm: raised: key=%s detail=%q", event.Key, event.Detail)
	default:
		l.logger.Printf("alarm: %s: key=%s failures=%d", event.Type, event.Key, event.Failures)
	}
}

// MetricsNotifier mirrors transitions into the alarm gauges.
type MetricsNotifier struct{}

// Notify implements alarms.Notifier.
func (MetricsNotifier) Notify(_ context.Context, event alarms.Event) {
	metrics.SetAlarmActive(event.Key, event.Type == alarms.EventRaised)
	metrics.IncAlarmEvent(event.Type)
}
