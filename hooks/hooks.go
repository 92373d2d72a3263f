package hooks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/INLOpen/bitcask/core"
)

// EventType identifies a store lifecycle event.
type EventType string

const (
	EventPreOpenStore    EventType = "PreOpenStore"
	EventPostOpenStore   EventType = "PostOpenStore"
	EventPostKeyDirReady EventType = "PostKeyDirReady"

	EventPrePut     EventType = "PrePut"
	EventPostPut    EventType = "PostPut"
	EventPreDelete  EventType = "PreDelete"
	EventPostDelete EventType = "PostDelete"
	EventPostGet    EventType = "PostGet"

	EventPostLogFileRotate EventType = "PostLogFileRotate"

	EventPreCloseStore  EventType = "PreCloseStore"
	EventPostCloseStore EventType = "PostCloseStore"
)

// HookManager dispatches events to registered listeners.
type HookManager interface {
	Register(eventType EventType, listener HookListener)
	// Trigger runs the listeners for event. For Pre* events a listener error
	// aborts the operation and is returned.
	Trigger(ctx context.Context, event HookEvent) error
	// Stop waits for in-flight asynchronous listeners.
	Stop()
}

type HookEvent interface {
	Type() EventType
	Payload() interface{}
}

type BaseEvent struct {
	eventType EventType
	payload   interface{}
}

func (e *BaseEvent) Type() EventType      { return e.eventType }
func (e *BaseEvent) Payload() interface{} { return e.payload }

// HookListener receives events.
type HookListener interface {
	OnEvent(ctx context.Context, event HookEvent) error
	// Priority orders listeners; lower runs first.
	Priority() int
	// IsAsync requests background execution. Ignored for Pre* events.
	IsAsync() bool
}

type PreOpenStorePayload struct {
	Dir       string
	ReadWrite bool
}

func NewPreOpenStoreEvent(payload PreOpenStorePayload) HookEvent {
	return &BaseEvent{eventType: EventPreOpenStore, payload: payload}
}

type PostOpenStorePayload struct {
	Dir       string
	ReadWrite bool
	Keys      int
}

func NewPostOpenStoreEvent(payload PostOpenStorePayload) HookEvent {
	return &BaseEvent{eventType: EventPostOpenStore, payload: payload}
}

// KeyDirReadyPayload is sent by the store that performed the warm-up scan.
type KeyDirReadyPayload struct {
	Dir      string
	Files    int
	Keys     int
	Duration time.Duration
}

func NewPostKeyDirReadyEvent(payload KeyDirReadyPayload) HookEvent {
	return &BaseEvent{eventType: EventPostKeyDirReady, payload: payload}
}

// PrePutPayload carries pointers so listeners may rewrite the key or value.
type PrePutPayload struct {
	Key   *[]byte
	Value *[]byte
}

func NewPrePutEvent(payload PrePutPayload) HookEvent {
	return &BaseEvent{eventType: EventPrePut, payload: payload}
}

type PostPutPayload struct {
	Key       []byte
	ValueSize int
	Entry     core.IndexEntry
	Error     error
}

func NewPostPutEvent(payload PostPutPayload) HookEvent {
	return &BaseEvent{eventType: EventPostPut, payload: payload}
}

type PreDeletePayload struct {
	Key *[]byte
}

func NewPreDeleteEvent(payload PreDeletePayload) HookEvent {
	return &BaseEvent{eventType: EventPreDelete, payload: payload}
}

type PostDeletePayload struct {
	Key   []byte
	Error error
}

func NewPostDeleteEvent(payload PostDeletePayload) HookEvent {
	return &BaseEvent{eventType: EventPostDelete, payload: payload}
}

type PostGetPayload struct {
	Key   []byte
	Found bool
	Error error
}

func NewPostGetEvent(payload PostGetPayload) HookEvent {
	return &BaseEvent{eventType: EventPostGet, payload: payload}
}

// LogFileRotatePayload describes a write file being sealed and replaced.
type LogFileRotatePayload struct {
	OldFileID uint32
	OldPath   string
	OldSize   uint64
	NewFileID uint32
	NewPath   string
}

func NewPostLogFileRotateEvent(payload LogFileRotatePayload) HookEvent {
	return &BaseEvent{eventType: EventPostLogFileRotate, payload: payload}
}

type PreCloseStorePayload struct {
	Dir string
}

func NewPreCloseStoreEvent(payload PreCloseStorePayload) HookEvent {
	return &BaseEvent{eventType: EventPreCloseStore, payload: payload}
}

type PostCloseStorePayload struct {
	Dir   string
	Error error
}

func NewPostCloseStoreEvent(payload PostCloseStorePayload) HookEvent {
	return &BaseEvent{eventType: EventPostCloseStore, payload: payload}
}

type listenerWithPriority struct {
	listener HookListener
	priority int
}

// DefaultHookManager is a concrete implementation of HookManager.
type DefaultHookManager struct {
	// Slices are kept sorted by priority.
	listeners map[EventType][]*listenerWithPriority
	mu        sync.RWMutex
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// NewHookManager creates a new DefaultHookManager.
func NewHookManager(logger *slog.Logger) HookManager {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &DefaultHookManager{
		listeners: make(map[EventType][]*listenerWithPriority),
		logger:    logger,
	}
}

// Register adds a listener for a specific event type, maintaining priority
// order. Listeners of equal priority run in registration order.
func (m *DefaultHookManager) Register(eventType EventType, listener HookListener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	item := &listenerWithPriority{
		listener: listener,
		priority: listener.Priority(),
	}

	l := m.listeners[eventType]
	idx := sort.Search(len(l), func(i int) bool {
		return l[i].priority > item.priority
	})
	l = append(l, nil)
	copy(l[idx+1:], l[idx:])
	l[idx] = item

	m.listeners[eventType] = l
}

// Trigger fires all registered listeners for a given event in priority order.
func (m *DefaultHookManager) Trigger(ctx context.Context, event HookEvent) error {
	m.mu.RLock()
	listeners := m.listeners[event.Type()]
	m.mu.RUnlock()

	if len(listeners) == 0 {
		return nil
	}

	isPreHook := strings.HasPrefix(string(event.Type()), "Pre")

	for _, item := range listeners {
		isListenerAsync := item.listener.IsAsync()

		if isPreHook || !isListenerAsync {
			if isPreHook && isListenerAsync {
				m.logger.Warn("Listener for Pre-hook requested async execution, but Pre-hooks are always synchronous.", "event", event.Type(), "priority", item.priority)
			}

			if err := item.listener.OnEvent(ctx, event); err != nil {
				if isPreHook {
					return fmt.Errorf("pre-hook for event %s (priority %d) failed: %w", event.Type(), item.priority, err)
				}
				m.logger.Error("Error from synchronous post-hook listener", "event", event.Type(), "priority", item.priority, "error", err)
			}
			continue
		}

		m.wg.Add(1)
		go func(currentItem *listenerWithPriority) {
			defer m.wg.Done()
			if err := currentItem.listener.OnEvent(ctx, event); err != nil {
				m.logger.Error("Error from asynchronous post-hook listener", "event", event.Type(), "priority", currentItem.priority, "error", err)
			}
		}(item)
	}
	return nil
}

// Stop waits for all asynchronous listeners to complete.
func (m *DefaultHookManager) Stop() {
	m.wg.Wait()
}
