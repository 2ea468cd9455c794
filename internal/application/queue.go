package application

import (
	"sync"

	"webcam-capture/internal/domain"
)

// sessionQueue последовательный контекст выполнения сессии.
// Все структурные операции и регулировки выполняются здесь строго по одной, в порядке поступления.
type sessionQueue struct {
	tasks  chan func()
	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

func newSessionQueue(size int) *sessionQueue {
	if size <= 0 {
		size = 64
	}
	q := &sessionQueue{
		tasks: make(chan func(), size),
		done:  make(chan struct{}),
	}
	go q.run()
	return q
}

func (q *sessionQueue) run() {
	defer close(q.done)
	for task := range q.tasks {
		task()
	}
}

// async ставит задачу в очередь и не ждет ее выполнения
func (q *sessionQueue) async(task func()) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return domain.ErrSessionClosed
	}
	q.tasks <- task
	return nil
}

// sync выполняет задачу в очереди и ждет результата.
// Нельзя вызывать из задачи, которая сама выполняется в очереди.
func (q *sessionQueue) sync(task func()) error {
	finished := make(chan struct{})
	if err := q.async(func() {
		defer close(finished)
		task()
	}); err != nil {
		return err
	}
	<-finished
	return nil
}

// close дожидается выполнения уже поставленных задач
func (q *sessionQueue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		<-q.done
		return
	}
	q.closed = true
	close(q.tasks)
	q.mu.Unlock()
	<-q.done
}
