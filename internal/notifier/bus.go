package notifier

import (
	"sync"

	"go.uber.org/zap"
)

// Handler consumes one notification. Errors inside a handler are the
// subscriber's responsibility; a panic is recovered and logged so a broken
// subscriber cannot reach the router.
type Handler func(name string, payload map[string]any)

// Bus is an in-process fan-out notifier. Subscribers registered for a name
// receive every notification with that name; subscribers registered with
// SubscribeAll receive everything.
type Bus struct {
	logger *zap.Logger

	mu     sync.RWMutex
	byName map[string][]Handler
	all    []Handler
}

// NewBus creates an empty bus.
func NewBus(logger *zap.Logger) *Bus {
	return &Bus{
		logger: logger,
		byName: map[string][]Handler{},
	}
}

// Subscribe registers a handler for one notification name.
func (b *Bus) Subscribe(name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byName[name] = append(b.byName[name], h)
}

// SubscribeAll registers a handler for every notification.
func (b *Bus) SubscribeAll(h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.all = append(b.all, h)
}

// Emit delivers the notification to all matching subscribers, synchronously,
// in registration order.
func (b *Bus) Emit(name string, payload map[string]any) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.byName[name])+len(b.all))
	handlers = append(handlers, b.byName[name]...)
	handlers = append(handlers, b.all...)
	b.mu.RUnlock()

	for _, h := range handlers {
		b.call(name, payload, h)
	}
}

func (b *Bus) call(name string, payload map[string]any, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("notification subscriber panicked",
				zap.String("notification", name),
				zap.Any("panic", r),
			)
		}
	}()
	h(name, payload)
}
