package notify

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"log"
	"sync"
	"time"

	alarms "ngsi-gateway/internal/alarms/domain"
)

// Clock provides time for cooldown checks.
type Clock interface {
	Now() time.Time
}

type sendRecord struct {
	at   time.Time
	hash string
}

// Notifier renders alarm transitions and sends them via a channel.
type Notifier struct {
	channel        Channel
	template       *Template
	instance       string
	clock          Clock
	logger         *log.Logger
	mu             sync.Mutex
	sent           map[string]sendRecord
	cooldown       time.Duration
	dedupeWindow   time.Duration
	requestTimeout time.Duration
}

// Option configures the notifier.
type Option func(*Notifier)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(n *Notifier) {
		if clock != nil {
			n.clock = clock
		}
	}
}

// WithInstance names the gateway instance in notifications.
func WithInstance(name string) Option {
	return func(n *Notifier) {
		n.instance = name
	}
}

// WithLogger sets the logger for delivery failures.
func WithLogger(logger *log.Logger) Option {
	return func(n *Notifier) {
		if logger != nil {
			n.logger = logger
		}
	}
}

// WithRequestTimeout bounds each delivery.
func WithRequestTimeout(timeout time.Duration) Option {
	return func(n *Notifier) {
		if timeout > 0 {
			n.requestTimeout = timeout
		}
	}
}

// WithCooldown sets a minimum interval between notifications for the same alarm and event.
func WithCooldown(interval time.Duration) Option {
	return func(n *Notifier) {
		if interval > 0 {
			n.cooldown = interval
		}
	}
}

// WithDedupeWindow suppresses identical notifications within the window.
func WithDedupeWindow(window time.Duration) Option {
	return func(n *Notifier) {
		if window > 0 {
			n.dedupeWindow = window
		}
	}
}

// NewNotifier constructs an alarm notifier.
func NewNotifier(channel Channel, template *Template, opts ...Option) (*Notifier, error) {
	if channel == nil {
		return nil, errors.New("alarm notifier: nil channel")
	}
	if template == nil {
		defaultTemplate, err := NewTemplate("")
		if err != nil {
			return nil, err
		}
		template = defaultTemplate
	}
	n := &Notifier{
		channel:        channel,
		template:       template,
		clock:          systemClock{},
		logger:         log.Default(),
		sent:           make(map[string]sendRecord),
		requestTimeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n, nil
}

// Notify implements alarms.Notifier.
func (n *Notifier) Notify(ctx context.Context, event alarms.Event) {
	if n == nil || n.channel == nil {
		return
	}
	content, err := n.template.Render(n.buildTemplateData(event))
	if err != nil {
		n.logger.Printf("alarm notifier: render: key=%s err=%v", event.Key, err)
		return
	}
	if !n.shouldSend(event.Key, event.Type, content) {
		return
	}
	if n.requestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, n.requestTimeout)
		defer cancel()
	}
	if err := n.channel.Send(ctx, content); err != nil {
		n.logger.Printf("alarm notifier: send: key=%s err=%v", event.Key, err)
		return
	}
	n.markSent(event.Key, event.Type, content)
}

func (n *Notifier) buildTemplateData(event alarms.Event) TemplateData {
	at := event.At
	if at.IsZero() {
		at = n.clock.Now()
	}
	return TemplateData{
		Key:        event.Key,
		Detail:     event.Detail,
		Time:       at.UTC().Format(time.RFC3339),
		Failures:   event.Failures,
		Instance:   n.instance,
		Event:      event.Type,
		EventLabel: eventLabel(event.Type),
	}
}

func eventLabel(event string) string {
	switch event {
	case alarms.EventRaised:
		return "Raised"
	case alarms.EventReleased:
		return "Released"
	default:
		return event
	}
}

func (n *Notifier) shouldSend(key, eventType, content string) bool {
	if n.cooldown <= 0 && n.dedupeWindow <= 0 {
		return true
	}
	now := n.clock.Now().UTC()
	hash := hashContent(content)

	n.mu.Lock()
	record, ok := n.sent[notificationKey(key, eventType)]
	n.mu.Unlock()
	if !ok {
		return true
	}
	if n.cooldown > 0 && now.Sub(record.at) < n.cooldown {
		return false
	}
	if n.dedupeWindow > 0 && record.hash == hash && now.Sub(record.at) < n.dedupeWindow {
		return false
	}
	return true
}

func (n *Notifier) markSent(key, eventType, content string) {
	n.mu.Lock()
	n.sent[notificationKey(key, eventType)] = sendRecord{
		at:   n.clock.Now().UTC(),
		hash: hashContent(content),
	}
	n.mu.Unlock()
}

func notificationKey(key, eventType string) string {
	return key + "|" + eventType
}

func hashContent(content string) string {
	sum := sha1.Sum([]byte(content))
	return hex.EncodeToString(sum[:8])
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }
