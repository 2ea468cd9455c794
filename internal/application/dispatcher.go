package application

import (
	"sync"
)

// Dispatcher доставляет события единственному наблюдателю в порядке их возникновения.
// Доставка идет из отдельной горутины, поэтому медленный наблюдатель не тормозит очередь сессии.
// Без наблюдателя события отбрасываются: очереди и повтора нет.
type Dispatcher struct {
	mu       sync.Mutex
	observer Observer
	mask     EventMask
	pending  []delivery
	wake     chan struct{}
	closed   bool
	done     chan struct{}
	logger   Logger
}

type delivery struct {
	observer Observer
	event    Event
}

// NewDispatcher создает диспетчер событий
func NewDispatcher(logger Logger) *Dispatcher {
	d := &Dispatcher{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
	go d.loop()
	return d
}

// SetObserver регистрирует наблюдателя; nil снимает регистрацию
func (d *Dispatcher) SetObserver(o Observer) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.observer = o
	d.mask = 0
	if o != nil {
		d.mask = o.Events() | MandatoryEvents
	}
}

// Wants сообщает, будет ли событие доставлено текущему наблюдателю
func (d *Dispatcher) Wants(kind EventKind) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.observer != nil && d.mask&kind != 0
}

// Emit ставит событие в очередь доставки
func (d *Dispatcher) Emit(ev Event) {
	d.mu.Lock()
	if d.closed || d.observer == nil || d.mask&ev.Kind == 0 {
		d.mu.Unlock()
		return
	}
	d.pending = append(d.pending, delivery{observer: d.observer, event: ev})
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Close доставляет уже поставленные события и останавливает горутину
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		<-d.done
		return
	}
	d.closed = true
	d.mu.Unlock()

	select {
	case d.wake <- struct{}{}:
	default:
	}
	<-d.done
}

func (d *Dispatcher) loop() {
	defer close(d.done)
	for range d.wake {
		for {
			d.mu.Lock()
			if len(d.pending) == 0 {
				closed := d.closed
				d.mu.Unlock()
				if closed {
					return
				}
				break
			}
			batch := d.pending
			d.pending = nil
			d.mu.Unlock()

			for _, item := range batch {
				d.deliver(item)
			}
		}
	}
}

func (d *Dispatcher) deliver(item delivery) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Паника в наблюдателе при событии %s: %v", item.event.Kind, r)
		}
	}()
	item.observer.HandleEvent(item.event)
}
