package telemetry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event represents a telemetry event in the Capstan system.
type Event struct {
	// ID is the unique identifier for this event.
	ID string `json:"id"`

	// Timestamp is when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type is the event type.
	Type string `json:"type"`

	// Source identifies where the event originated.
	Source string `json:"source"`

	// SessionID is the associated session ID, if applicable.
	SessionID string `json:"session_id,omitempty"`

	// Capability is the associated capability ID, if applicable.
	Capability string `json:"capability,omitempty"`

	// TargetID is the associated target ID, if applicable.
	TargetID string `json:"target_id,omitempty"`

	// Message is a human-readable event message.
	Message string `json:"message"`

	// Level is the event severity level (info, warning, error).
	Level string `json:"level"`

	// Data contains additional event-specific data.
	Data map[string]interface{} `json:"data,omitempty"`
}

// EventType constants for common event types.
const (
	EventTypeSessionStarted      = "session.started"
	EventTypeSessionCompleted    = "session.completed"
	EventTypeTargetProfiled      = "target.profiled"
	EventTypeResolutionStarted   = "resolution.started"
	EventTypeResolutionCached    = "resolution.cached"
	EventTypeResolutionCompleted = "resolution.completed"
	EventTypeResolutionFailed    = "resolution.failed"
	EventTypeInstallStarted      = "install.started"
	EventTypeInstallCompleted    = "install.completed"
	EventTypeInstallFailed       = "install.failed"
	EventTypePolicyViolation     = "policy.violation"
	EventTypeError               = "error"
)

// EventLevel constants for event severity.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// EventSubscriber is a function that handles events.
type EventSubscriber func(event Event)

// EventFilter determines if an event should be processed.
type EventFilter func(event Event) bool

// EventPublisher manages event publishing and subscriptions.
type EventPublisher struct {
	config      EventsConfig
	buffer      chan Event
	subscribers []subscriberEntry
	filters     []EventFilter
	wg          sync.WaitGroup
	mu          sync.RWMutex
	ctx         context.Context
	cancel      context.CancelFunc
}

type subscriberEntry struct {
	subscriber EventSubscriber
	filter     EventFilter
}

// NewEventPublisher creates a new event publisher with the given configuration.
func NewEventPublisher(cfg EventsConfig) (*EventPublisher, error) {
	if !cfg.Enabled {
		return &EventPublisher{config: cfg}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())

	ep := &EventPublisher{
		config:      cfg,
		buffer:      make(chan Event, cfg.BufferSize),
		subscribers: make([]subscriberEntry, 0),
		filters:     make([]EventFilter, 0),
		ctx:         ctx,
		cancel:      cancel,
	}

	// Start the event processing goroutine
	if cfg.EnableAsync {
		ep.wg.Add(1)
		go ep.processEvents()
	}

	// Start the periodic flush goroutine
	if cfg.FlushInterval > 0 {
		ep.wg.Add(1)
		go ep.periodicFlush()
	}

	return ep, nil
}

// Publish publishes an event to all subscribers.
func (ep *EventPublisher) Publish(event Event) error {
	if !ep.config.Enabled {
		return nil
	}

	// Set ID and timestamp if not already set
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	// Apply global filters
	ep.mu.RLock()
	for _, filter := range ep.filters {
		if !filter(event) {
			ep.mu.RUnlock()
			return nil // Event filtered out
		}
	}
	ep.mu.RUnlock()

	// Send to buffer if async, otherwise process immediately
	if ep.config.EnableAsync {
		select {
		case ep.buffer <- event:
			return nil
		case <-ep.ctx.Done():
			return fmt.Errorf("event publisher stopped")
		default:
			// Buffer full, drop event or log warning
			return fmt.Errorf("event buffer full, event dropped")
		}
	}

	// Synchronous publishing
	ep.deliverEvent(event)
	return nil
}

// PublishSessionStarted publishes a session started event.
func (ep *EventPublisher) PublishSessionStarted(sessionID string, targetCount int) error {
	return ep.Publish(Event{
		Type:      EventTypeSessionStarted,
		Source:    "engine",
		SessionID: sessionID,
		Message:   fmt.Sprintf("Session %s started against %d targets", sessionID, targetCount),
		Level:     EventLevelInfo,
		Data: map[string]interface{}{
			"target_count": targetCount,
		},
	})
}

// PublishSessionCompleted publishes a session completed event.
func (ep *EventPublisher) PublishSessionCompleted(sessionID, status string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:      EventTypeSessionCompleted,
		Source:    "engine",
		SessionID: sessionID,
		Message:   fmt.Sprintf("Session %s completed with status: %s", sessionID, status),
		Level:     EventLevelInfo,
		Data: map[string]interface{}{
			"status":   status,
			"duration": duration.Seconds(),
		},
	})
}

// PublishTargetProfiled publishes a target profiled event.
func (ep *EventPublisher) PublishTargetProfiled(targetID, family, version, arch string) error {
	return ep.Publish(Event{
		Type:     EventTypeTargetProfiled,
		Source:   "targets",
		TargetID: targetID,
		Message:  fmt.Sprintf("Target %s profiled: %s %s (%s)", targetID, family, version, arch),
		Level:    EventLevelInfo,
		Data: map[string]interface{}{
			"family":  family,
			"version": version,
			"arch":    arch,
		},
	})
}

// PublishResolutionStarted publishes a resolution started event.
func (ep *EventPublisher) PublishResolutionStarted(sessionID, capability, targetID string) error {
	return ep.Publish(Event{
		Type:       EventTypeResolutionStarted,
		Source:     "engine",
		SessionID:  sessionID,
		Capability: capability,
		TargetID:   targetID,
		Message:    fmt.Sprintf("Resolving %s on target %s", capability, targetID),
		Level:      EventLevelInfo,
	})
}

// PublishResolutionCompleted publishes a resolution completed event.
func (ep *EventPublisher) PublishResolutionCompleted(sessionID, capability, targetID, variant string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:       EventTypeResolutionCompleted,
		Source:     "engine",
		SessionID:  sessionID,
		Capability: capability,
		TargetID:   targetID,
		Message:    fmt.Sprintf("Resolved %s on target %s via %s", capability, targetID, variant),
		Level:      EventLevelInfo,
		Data: map[string]interface{}{
			"variant":  variant,
			"duration": duration.Seconds(),
		},
	})
}

// PublishResolutionFailed publishes a resolution failed event.
func (ep *EventPublisher) PublishResolutionFailed(sessionID, capability, targetID, kind, reason string) error {
	return ep.Publish(Event{
		Type:       EventTypeResolutionFailed,
		Source:     "engine",
		SessionID:  sessionID,
		Capability: capability,
		TargetID:   targetID,
		Message:    fmt.Sprintf("Resolution of %s on target %s failed: %s", capability, targetID, reason),
		Level:      EventLevelError,
		Data: map[string]interface{}{
			"kind":   kind,
			"reason": reason,
		},
	})
}

// PublishInstallStarted publishes an install started event.
func (ep *EventPublisher) PublishInstallStarted(sessionID, capability, targetID, strategy string) error {
	return ep.Publish(Event{
		Type:       EventTypeInstallStarted,
		Source:     "engine",
		SessionID:  sessionID,
		Capability: capability,
		TargetID:   targetID,
		Message:    fmt.Sprintf("Installing %s on target %s via %s", capability, targetID, strategy),
		Level:      EventLevelInfo,
		Data: map[string]interface{}{
			"strategy": strategy,
		},
	})
}

// PublishInstallCompleted publishes an install completed event.
func (ep *EventPublisher) PublishInstallCompleted(sessionID, capability, targetID, strategy string, duration time.Duration) error {
	return ep.Publish(Event{
		Type:       EventTypeInstallCompleted,
		Source:     "engine",
		SessionID:  sessionID,
		Capability: capability,
		TargetID:   targetID,
		Message:    fmt.Sprintf("Installed %s on target %s", capability, targetID),
		Level:      EventLevelInfo,
		Data: map[string]interface{}{
			"strategy": strategy,
			"duration": duration.Seconds(),
		},
	})
}

// PublishInstallFailed publishes an install failed event.
func (ep *EventPublisher) PublishInstallFailed(sessionID, capability, targetID, strategy, reason string) error {
	return ep.Publish(Event{
		Type:       EventTypeInstallFailed,
		Source:     "engine",
		SessionID:  sessionID,
		Capability: capability,
		TargetID:   targetID,
		Message:    fmt.Sprintf("Installation of %s on target %s failed: %s", capability, targetID, reason),
		Level:      EventLevelError,
		Data: map[string]interface{}{
			"strategy": strategy,
			"reason":   reason,
		},
	})
}

// PublishPolicyViolation publishes a policy violation event.
func (ep *EventPublisher) PublishPolicyViolation(targetID, policyName, reason string) error {
	return ep.Publish(Event{
		Type:     EventTypePolicyViolation,
		Source:   "policy_engine",
		TargetID: targetID,
		Message:  fmt.Sprintf("Policy violation on target %s: %s - %s", targetID, policyName, reason),
		Level:    EventLevelError,
		Data: map[string]interface{}{
			"policy": policyName,
			"reason": reason,
		},
	})
}

// Subscribe adds a new event subscriber.
func (ep *EventPublisher) Subscribe(subscriber EventSubscriber, filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.subscribers = append(ep.subscribers, subscriberEntry{
		subscriber: subscriber,
		filter:     filter,
	})
}

// AddFilter adds a global event filter.
func (ep *EventPublisher) AddFilter(filter EventFilter) {
	ep.mu.Lock()
	defer ep.mu.Unlock()

	ep.filters = append(ep.filters, filter)
}

// processEvents processes events from the buffer asynchronously.
func (ep *EventPublisher) processEvents() {
	defer ep.wg.Done()

	batch := make([]Event, 0, ep.config.MaxBatchSize)

	for {
		select {
		case event := <-ep.buffer:
			batch = append(batch, event)

			// Flush batch if it reaches max size
			if len(batch) >= ep.config.MaxBatchSize {
				ep.flushBatch(batch)
				batch = make([]Event, 0, ep.config.MaxBatchSize)
			}

		case <-ep.ctx.Done():
			// Flush remaining events before shutting down
			if len(batch) > 0 {
				ep.flushBatch(batch)
			}
			return
		}
	}
}

// periodicFlush flushes events periodically.
func (ep *EventPublisher) periodicFlush() {
	defer ep.wg.Done()

	ticker := time.NewTicker(ep.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			// Trigger flush by draining buffer
			// This is handled by the processEvents goroutine
		case <-ep.ctx.Done():
			return
		}
	}
}

// flushBatch delivers a batch of events to subscribers.
func (ep *EventPublisher) flushBatch(events []Event) {
	for _, event := range events {
		ep.deliverEvent(event)
	}
}

// deliverEvent delivers an event to all subscribers.
func (ep *EventPublisher) deliverEvent(event Event) {
	ep.mu.RLock()
	defer ep.mu.RUnlock()

	for _, entry := range ep.subscribers {
		// Apply subscriber-specific filter
		if entry.filter != nil && !entry.filter(event) {
			continue
		}

		// Call subscriber in a goroutine to avoid blocking
		go entry.subscriber(event)
	}
}

// Shutdown gracefully shuts down the event publisher.
func (ep *EventPublisher) Shutdown(ctx context.Context) error {
	if !ep.config.Enabled {
		return nil
	}

	// Signal shutdown
	ep.cancel()

	// Wait for processing to complete with timeout
	done := make(chan struct{})
	go func() {
		ep.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("event publisher shutdown timeout")
	}
}

// Common event filters.

// FilterByLevel creates a filter that only allows events of a specific level or higher.
func FilterByLevel(minLevel string) EventFilter {
	levels := map[string]int{
		EventLevelInfo:    0,
		EventLevelWarning: 1,
		EventLevelError:   2,
	}

	minLevelValue := levels[minLevel]

	return func(event Event) bool {
		return levels[event.Level] >= minLevelValue
	}
}

// FilterByType creates a filter that only allows events of specific types.
func FilterByType(types ...string) EventFilter {
	typeSet := make(map[string]bool)
	for _, t := range types {
		typeSet[t] = true
	}

	return func(event Event) bool {
		return typeSet[event.Type]
	}
}

// FilterBySessionID creates a filter that only allows events for a specific session.
func FilterBySessionID(sessionID string) EventFilter {
	return func(event Event) bool {
		return event.SessionID == sessionID
	}
}

// FilterByTargetID creates a filter that only allows events for a specific target.
func FilterByTargetID(targetID string) EventFilter {
	return func(event Event) bool {
		return event.TargetID == targetID
	}
}
