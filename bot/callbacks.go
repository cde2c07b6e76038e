package bot

import (
	"reflect"
	"runtime"
	"sync"
)

// callbackRegistry keeps the ordered handler lists for one connection.
// Handlers run in registration order; registration is always additive.
type callbackRegistry struct {
	mu         sync.RWMutex
	message    []MessageHandler
	notice     []NoticeHandler
	join       []JoinHandler
	part       []PartHandler
	quit       []QuitHandler
	numeric    []NumericHandler
	raw        []RawHandler
	disconnect []DisconnectHandler
}

func newCallbackRegistry() *callbackRegistry {
	return &callbackRegistry{}
}

// register files a handler under kind. It accepts both the named handler
// types and plain funcs with the matching signature, and reports whether
// the handler was accepted.
func (r *callbackRegistry) register(kind EventKind, handler any) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch kind {
	case EventMessage:
		switch h := handler.(type) {
		case MessageHandler:
			r.message = append(r.message, h)
		case func(*Conn, string, string, string, string):
			r.message = append(r.message, h)
		default:
			return false
		}
	case EventNotice:
		switch h := handler.(type) {
		case NoticeHandler:
			r.notice = append(r.notice, h)
		case func(*Conn, string, string, string, string):
			r.notice = append(r.notice, h)
		default:
			return false
		}
	case EventJoin:
		switch h := handler.(type) {
		case JoinHandler:
			r.join = append(r.join, h)
		case func(*Conn, string, string, string):
			r.join = append(r.join, h)
		default:
			return false
		}
	case EventPart:
		switch h := handler.(type) {
		case PartHandler:
			r.part = append(r.part, h)
		case func(*Conn, string, string, string):
			r.part = append(r.part, h)
		default:
			return false
		}
	case EventQuit:
		switch h := handler.(type) {
		case QuitHandler:
			r.quit = append(r.quit, h)
		case func(*Conn, string, string):
			r.quit = append(r.quit, h)
		default:
			return false
		}
	case EventNumeric:
		switch h := handler.(type) {
		case NumericHandler:
			r.numeric = append(r.numeric, h)
		case func(*Conn, int, string, string):
			r.numeric = append(r.numeric, h)
		default:
			return false
		}
	case EventRaw:
		switch h := handler.(type) {
		case RawHandler:
			r.raw = append(r.raw, h)
		case func(*Conn, string):
			r.raw = append(r.raw, h)
		default:
			return false
		}
	case EventDisconnect:
		switch h := handler.(type) {
		case DisconnectHandler:
			r.disconnect = append(r.disconnect, h)
		case func(*Conn):
			r.disconnect = append(r.disconnect, h)
		default:
			return false
		}
	default:
		return false
	}
	return true
}

// count returns how many handlers are registered for kind.
func (r *callbackRegistry) count(kind EventKind) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	switch kind {
	case EventMessage:
		return len(r.message)
	case EventNotice:
		return len(r.notice)
	case EventJoin:
		return len(r.join)
	case EventPart:
		return len(r.part)
	case EventQuit:
		return len(r.quit)
	case EventNumeric:
		return len(r.numeric)
	case EventRaw:
		return len(r.raw)
	case EventDisconnect:
		return len(r.disconnect)
	}
	return 0
}

// dispatch runs every handler registered for the event's kind, in
// registration order. A panicking handler is logged and skipped without
// disturbing the handlers after it.
func (r *callbackRegistry) dispatch(c *Conn, ev Event) {
	switch ev.Kind {
	case EventMessage:
		r.mu.RLock()
		handlers := make([]MessageHandler, len(r.message))
		copy(handlers, r.message)
		r.mu.RUnlock()
		for _, h := range handlers {
			r.safeCall(c, ev.Kind, h, func() {
				h(c, ev.Sender, ev.IdentHost, ev.Target, ev.Text)
			})
		}
	case EventNotice:
		r.mu.RLock()
		handlers := make([]NoticeHandler, len(r.notice))
		copy(handlers, r.notice)
		r.mu.RUnlock()
		for _, h := range handlers {
			r.safeCall(c, ev.Kind, h, func() {
				h(c, ev.Sender, ev.IdentHost, ev.Target, ev.Text)
			})
		}
	case EventJoin:
		r.mu.RLock()
		handlers := make([]JoinHandler, len(r.join))
		copy(handlers, r.join)
		r.mu.RUnlock()
		for _, h := range handlers {
			r.safeCall(c, ev.Kind, h, func() {
				h(c, ev.Sender, ev.IdentHost, ev.Channel)
			})
		}
	case EventPart:
		r.mu.RLock()
		handlers := make([]PartHandler, len(r.part))
		copy(handlers, r.part)
		r.mu.RUnlock()
		for _, h := range handlers {
			r.safeCall(c, ev.Kind, h, func() {
				h(c, ev.Sender, ev.Channel, ev.IdentHost)
			})
		}
	case EventQuit:
		r.mu.RLock()
		handlers := make([]QuitHandler, len(r.quit))
		copy(handlers, r.quit)
		r.mu.RUnlock()
		for _, h := range handlers {
			r.safeCall(c, ev.Kind, h, func() {
				h(c, ev.Sender, ev.IdentHost)
			})
		}
	case EventNumeric:
		r.mu.RLock()
		handlers := make([]NumericHandler, len(r.numeric))
		copy(handlers, r.numeric)
		r.mu.RUnlock()
		for _, h := range handlers {
			r.safeCall(c, ev.Kind, h, func() {
				h(c, ev.Code, ev.Target, ev.Params)
			})
		}
	case EventRaw:
		r.mu.RLock()
		handlers := make([]RawHandler, len(r.raw))
		copy(handlers, r.raw)
		r.mu.RUnlock()
		for _, h := range handlers {
			r.safeCall(c, ev.Kind, h, func() {
				h(c, ev.Raw)
			})
		}
	case EventDisconnect:
		r.mu.RLock()
		handlers := make([]DisconnectHandler, len(r.disconnect))
		copy(handlers, r.disconnect)
		r.mu.RUnlock()
		for _, h := range handlers {
			r.safeCall(c, ev.Kind, h, func() {
				h(c)
			})
		}
	}
}

// safeCall invokes fn, recovering and logging any panic so one broken
// handler cannot take down the reader.
func (r *callbackRegistry) safeCall(c *Conn, kind EventKind, handler any, fn func()) {
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Printf("PANIC in %s handler %s: %v", kind, handlerName(handler), rec)
			c.noteHandlerPanic(kind)
		}
	}()
	fn()
}

// handlerName resolves a handler function's name for log messages.
func handlerName(handler any) string {
	fn := runtime.FuncForPC(reflect.ValueOf(handler).Pointer())
	if fn == nil {
		return "unknown"
	}
	return fn.Name()
}
