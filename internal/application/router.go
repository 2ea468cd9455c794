package application

import (
	"sync"
	"sync/atomic"

	"webcam-capture/internal/domain"
)

// bufferSink получатель буферов записи
type bufferSink interface {
	AppendVideo(buf domain.SampleBuffer)
	AppendAudio(buf domain.SampleBuffer)
}

// routes маршрутизация буферов; заменяется целиком после коммита транзакции
type routes struct {
	mode     domain.Mode
	device   domain.CaptureDevice
	strategy deviceStrategy
}

// bufferRouter раздает буферы из контекста доставки: превью получает видео всегда,
// запись получает видео и звук только в режиме видео.
// Никогда не блокируется на очереди сессии.
type bufferRouter struct {
	current  atomic.Pointer[routes]
	snapshot func() *domain.SessionSnapshot
	sink     bufferSink

	mu     sync.RWMutex
	nextID int
	subs   map[int]subscription
}

type subscription struct {
	position domain.Position
	fn       domain.BufferHandler
}

func newBufferRouter(sink bufferSink, snapshot func() *domain.SessionSnapshot) *bufferRouter {
	return &bufferRouter{
		sink:     sink,
		snapshot: snapshot,
		subs:     make(map[int]subscription),
	}
}

func (r *bufferRouter) publish(rt *routes) {
	r.current.Store(rt)
}

func (r *bufferRouter) handle(buf domain.SampleBuffer) {
	rt := r.current.Load()
	if rt == nil {
		return
	}

	if buf.Kind == domain.BufferVideo {
		r.mu.RLock()
		for _, sub := range r.subs {
			if sub.position == domain.PositionUnspecified || sub.position == buf.Position {
				sub.fn(buf)
			}
		}
		r.mu.RUnlock()
	}

	if rt.mode != domain.ModeVideo || r.sink == nil {
		return
	}
	switch buf.Kind {
	case domain.BufferVideo:
		if rt.strategy.records(rt.device, buf.DeviceID) {
			r.sink.AppendVideo(buf)
		}
	case domain.BufferAudio:
		r.sink.AppendAudio(buf)
	}
}

// Subscribe реализует domain.SessionHandle
func (r *bufferRouter) Subscribe(position domain.Position, fn domain.BufferHandler) func() {
	r.mu.Lock()
	id := r.nextID
	r.nextID++
	r.subs[id] = subscription{position: position, fn: fn}
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.subs, id)
			r.mu.Unlock()
		})
	}
}

// Snapshot реализует domain.SessionHandle
func (r *bufferRouter) Snapshot() *domain.SessionSnapshot {
	return r.snapshot()
}
