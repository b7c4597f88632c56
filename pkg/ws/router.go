package ws

import (
	"sort"
	"sync"
)

type Handler interface {
	Handle(data string)
}

type HandlerFunc func(data string)

func (f HandlerFunc) Handle(data string) {
	f(data)
}

// Router хранит таблицу обработчиков по имени события.
// Register и Dispatch можно вызывать конкурентно.
type Router struct {
	handlers map[string]Handler
	mu       sync.RWMutex
}

func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]Handler),
	}
}

// Register регистрирует обработчик; повторная регистрация того же события
// заменяет предыдущий обработчик.
func (r *Router) Register(event string, handler Handler) {
	if handler == nil {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[event] = handler
}

func (r *Router) getHandler(event string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[event]
	return h, ok
}

// Dispatch вызывает обработчик события. Для незарегистрированного события
// ничего не делает и возвращает false.
func (r *Router) Dispatch(event, data string) bool {
	h, ok := r.getHandler(event)
	if !ok {
		return false
	}

	h.Handle(data)

	return true
}

func (r *Router) Events() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	events := make([]string, 0, len(r.handlers))
	for event := range r.handlers {
		events = append(events, event)
	}

	sort.Strings(events)

	return events
}
