// Package events carries domain events from the scan pipeline to in-process
// subscribers (websocket hub) and, optionally, to an AMQP exchange.
package events

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// ===============================
// EVENT INTERFACE
// ===============================

// Event represents a domain event
type Event interface {
	GetEventID() string
	GetEventType() string
	GetTimestamp() time.Time
	GetUserID() string
}

// BaseEvent provides common event functionality
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	UserID    string    `json:"user_id"`
}

func (e *BaseEvent) GetEventID() string      { return e.EventID }
func (e *BaseEvent) GetEventType() string    { return e.EventType }
func (e *BaseEvent) GetTimestamp() time.Time { return e.Timestamp }
func (e *BaseEvent) GetUserID() string       { return e.UserID }

// ===============================
// EVENT BUS INTERFACE
// ===============================

// EventBus defines the event publishing and subscription interface
type EventBus interface {
	Publish(ctx context.Context, event Event) error
	PublishAsync(ctx context.Context, event Event) error

	Subscribe(eventType string, handler EventHandler) error
	SubscribePattern(pattern string, handler EventHandler) error
	Unsubscribe(eventType string, handler EventHandler) error

	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Health() error
	Stats() *EventBusStats
}

// EventHandler represents an event handler
type EventHandler interface {
	Handle(ctx context.Context, event Event) error
	GetHandlerID() string
}

// EventHandlerFunc adapts a function to EventHandler
type EventHandlerFunc struct {
	ID   string
	Func func(ctx context.Context, event Event) error
}

func (f EventHandlerFunc) Handle(ctx context.Context, event Event) error { return f.Func(ctx, event) }
func (f EventHandlerFunc) GetHandlerID() string                          { return f.ID }

// NewEventHandlerFunc creates an EventHandler from a function
func NewEventHandlerFunc(id string, fn func(ctx context.Context, event Event) error) EventHandler {
	return EventHandlerFunc{ID: id, Func: fn}
}

// EventBusStats represents event bus statistics
type EventBusStats struct {
	EventsPublished int64         `json:"events_published"`
	EventsProcessed int64         `json:"events_processed"`
	EventsFailed    int64         `json:"events_failed"`
	HandlersCount   int           `json:"handlers_count"`
	QueueDepth      int           `json:"queue_depth"`
	Uptime          time.Duration `json:"uptime"`
}

// EventBusConfig holds configuration for the event bus
type EventBusConfig struct {
	BufferSize     int
	WorkerCount    int
	HandlerTimeout time.Duration
}

// DefaultEventBusConfig returns default configuration
func DefaultEventBusConfig() *EventBusConfig {
	return &EventBusConfig{
		BufferSize:     1000,
		WorkerCount:    4,
		HandlerTimeout: 10 * time.Second,
	}
}

// ===============================
// IN-MEMORY EVENT BUS
// ===============================

var ErrQueueFull = errors.New("event queue is full")

type inMemoryEventBus struct {
	mu              sync.RWMutex
	handlers        map[string][]EventHandler
	patternHandlers map[string][]EventHandler
	queue           chan eventMessage
	logger          *zap.Logger
	startTime       time.Time
	ctx             context.Context
	cancel          context.CancelFunc
	wg              sync.WaitGroup
	config          EventBusConfig
	started         atomic.Bool

	published, processed, failed int64
}

type eventMessage struct {
	ctx   context.Context
	event Event
}

// NewEventBus creates a new in-memory event bus
func NewEventBus(config *EventBusConfig, logger *zap.Logger) EventBus {
	if config == nil {
		config = DefaultEventBusConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 1000
	}
	if config.WorkerCount <= 0 {
		config.WorkerCount = 1
	}
	if config.HandlerTimeout <= 0 {
		config.HandlerTimeout = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &inMemoryEventBus{
		handlers:        make(map[string][]EventHandler),
		patternHandlers: make(map[string][]EventHandler),
		queue:           make(chan eventMessage, config.BufferSize),
		logger:          logger,
		startTime:       time.Now(),
		ctx:             ctx,
		cancel:          cancel,
		config:          *config,
	}
}

// Publish delivers an event to every handler before returning
func (b *inMemoryEventBus) Publish(ctx context.Context, event Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}
	atomic.AddInt64(&b.published, 1)

	if err := b.processEvent(ctx, event); err != nil {
		atomic.AddInt64(&b.failed, 1)
		b.logger.Error("Failed to process event",
			zap.String("event_id", event.GetEventID()),
			zap.String("event_type", event.GetEventType()),
			zap.Error(err),
		)
		return err
	}
	atomic.AddInt64(&b.processed, 1)
	return nil
}

// PublishAsync queues an event for the workers. The request context is
// detached so handlers still run after the request returns.
func (b *inMemoryEventBus) PublishAsync(ctx context.Context, event Event) error {
	if event == nil {
		return fmt.Errorf("event cannot be nil")
	}

	select {
	case b.queue <- eventMessage{ctx: context.WithoutCancel(ctx), event: event}:
		atomic.AddInt64(&b.published, 1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	default:
		return ErrQueueFull
	}
}

// Subscribe subscribes to events of a specific type
func (b *inMemoryEventBus) Subscribe(eventType string, handler EventHandler) error {
	if eventType == "" {
		return fmt.Errorf("event type cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], handler)

	b.logger.Info("Handler subscribed",
		zap.String("event_type", eventType),
		zap.String("handler_id", handler.GetHandlerID()),
	)
	return nil
}

// SubscribePattern subscribes to events matching "*" or a "prefix.*" pattern
func (b *inMemoryEventBus) SubscribePattern(pattern string, handler EventHandler) error {
	if pattern == "" {
		return fmt.Errorf("pattern cannot be empty")
	}
	if handler == nil {
		return fmt.Errorf("handler cannot be nil")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.patternHandlers[pattern] = append(b.patternHandlers[pattern], handler)

	b.logger.Info("Pattern handler subscribed",
		zap.String("pattern", pattern),
		zap.String("handler_id", handler.GetHandlerID()),
	)
	return nil
}

// Unsubscribe removes a handler for a specific event type
func (b *inMemoryEventBus) Unsubscribe(eventType string, handler EventHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	handlers := b.handlers[eventType]
	for i, h := range handlers {
		if h.GetHandlerID() == handler.GetHandlerID() {
			b.handlers[eventType] = append(handlers[:i:i], handlers[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("handler not found")
}

// Start starts the event bus workers
func (b *inMemoryEventBus) Start(_ context.Context) error {
	if !b.started.CompareAndSwap(false, true) {
		return nil
	}
	b.logger.Info("Starting event bus", zap.Int("worker_count", b.config.WorkerCount))
	for i := 0; i < b.config.WorkerCount; i++ {
		b.wg.Add(1)
		go b.worker(i)
	}
	return nil
}

// Stop drains queued events and stops the workers
func (b *inMemoryEventBus) Stop(ctx context.Context) error {
	b.logger.Info("Stopping event bus")
	b.cancel()

	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		b.logger.Info("Event bus stopped")
		return nil
	case <-ctx.Done():
		b.logger.Warn("Event bus stop timeout")
		return ctx.Err()
	}
}

// Health reports a stopped bus or a queue above 80% capacity
func (b *inMemoryEventBus) Health() error {
	select {
	case <-b.ctx.Done():
		return fmt.Errorf("event bus is stopped")
	default:
	}

	depth := len(b.queue)
	if depth > b.config.BufferSize*80/100 {
		return fmt.Errorf("event queue is %d%% full", depth*100/b.config.BufferSize)
	}
	return nil
}

// Stats returns event bus statistics
func (b *inMemoryEventBus) Stats() *EventBusStats {
	b.mu.RLock()
	count := 0
	for _, hs := range b.handlers {
		count += len(hs)
	}
	for _, hs := range b.patternHandlers {
		count += len(hs)
	}
	b.mu.RUnlock()

	return &EventBusStats{
		EventsPublished: atomic.LoadInt64(&b.published),
		EventsProcessed: atomic.LoadInt64(&b.processed),
		EventsFailed:    atomic.LoadInt64(&b.failed),
		HandlersCount:   count,
		QueueDepth:      len(b.queue),
		Uptime:          time.Since(b.startTime),
	}
}

func (b *inMemoryEventBus) worker(workerID int) {
	defer b.wg.Done()

	for {
		select {
		case msg := <-b.queue:
			b.handleQueued(workerID, msg)
		case <-b.ctx.Done():
			// drain what is already queued
			for {
				select {
				case msg := <-b.queue:
					b.handleQueued(workerID, msg)
				default:
					return
				}
			}
		}
	}
}

func (b *inMemoryEventBus) handleQueued(workerID int, msg eventMessage) {
	if err := b.processEvent(msg.ctx, msg.event); err != nil {
		atomic.AddInt64(&b.failed, 1)
		b.logger.Error("Failed to process event",
			zap.Int("worker_id", workerID),
			zap.String("event_id", msg.event.GetEventID()),
			zap.String("event_type", msg.event.GetEventType()),
			zap.Error(err),
		)
		return
	}
	atomic.AddInt64(&b.processed, 1)
}

func (b *inMemoryEventBus) processEvent(ctx context.Context, event Event) error {
	eventType := event.GetEventType()

	b.mu.RLock()
	var all []EventHandler
	all = append(all, b.handlers[eventType]...)
	for pattern, handlers := range b.patternHandlers {
		if matchesPattern(eventType, pattern) {
			all = append(all, handlers...)
		}
	}
	b.mu.RUnlock()

	var failed int
	for _, handler := range all {
		if err := b.executeHandler(ctx, handler, event); err != nil {
			failed++
			b.logger.Warn("Event handler failed",
				zap.String("handler_id", handler.GetHandlerID()),
				zap.String("event_type", eventType),
				zap.Error(err),
			)
		}
	}
	if failed > 0 {
		return fmt.Errorf("failed to execute %d out of %d handlers", failed, len(all))
	}
	return nil
}

func (b *inMemoryEventBus) executeHandler(ctx context.Context, handler EventHandler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Handler panicked",
				zap.String("handler_id", handler.GetHandlerID()),
				zap.String("event_type", event.GetEventType()),
				zap.Any("panic", r),
			)
			err = fmt.Errorf("handler %s panicked: %v", handler.GetHandlerID(), r)
		}
	}()

	handlerCtx, cancel := context.WithTimeout(ctx, b.config.HandlerTimeout)
	defer cancel()
	return handler.Handle(handlerCtx, event)
}

func matchesPattern(eventType, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if prefix, ok := strings.CutSuffix(pattern, "*"); ok {
		return strings.HasPrefix(eventType, prefix)
	}
	return eventType == pattern
}
