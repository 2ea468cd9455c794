package application

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"webcam-capture/internal/domain"
)

const defaultIngestQueueSize = 256

// RecordingStateMachine управляет сессией записи:
// Idle -> Recording <-> Paused -> Finalizing -> Finished, из любого состояния -> Failed.
//
// AppendVideo/AppendAudio вызываются из контекста доставки буферов и никогда не блокируются:
// проверка состояния, корректировка метки времени и постановка в очередь выполняются под mu,
// а запись в контейнер идет в отдельной горутине.
type RecordingStateMachine struct {
	writers    domain.WriterFactory
	clock      domain.Clock
	dispatcher *Dispatcher
	logger     Logger
	queueSize  int

	mu    sync.Mutex
	state domain.RecordState
	rec   *recording
	// opening true, пока открывается писатель
	opening bool
}

// recording одна сессия записи от Start до терминального результата
type recording struct {
	id       string
	dest     string
	writer   domain.MediaWriter
	hasAudio bool

	ingest     chan ingestItem
	ingestDone bool

	// шкала времени, защищена RecordingStateMachine.mu
	offset    time.Duration
	pausedAt  time.Duration
	resumedAt time.Duration
	resumed   bool
	anchored  bool
	anchor    time.Duration
	pending   []domain.SampleBuffer
	last      [2]time.Duration
	hasLast   [2]bool
	dropped   int
	failure   error
	committed bool

	result domain.RecordResult
	done   chan struct{}
}

type ingestItem struct {
	kind domain.BufferKind
	buf  domain.SampleBuffer
}

// trackStats принадлежит горутине записи
type trackStats struct {
	samples int
	first   time.Duration
	end     time.Duration
}

func (s *trackStats) add(buf domain.SampleBuffer) {
	if s.samples == 0 {
		s.first = buf.Timestamp
	}
	s.samples++
	if end := buf.Timestamp + buf.Duration; end > s.end {
		s.end = end
	}
}

func (s *trackStats) duration() time.Duration {
	if s.samples == 0 {
		return 0
	}
	return s.end - s.first
}

// NewRecordingStateMachine создает машину состояний записи
func NewRecordingStateMachine(writers domain.WriterFactory, clock domain.Clock, dispatcher *Dispatcher, logger Logger, queueSize int) *RecordingStateMachine {
	if queueSize <= 0 {
		queueSize = defaultIngestQueueSize
	}
	return &RecordingStateMachine{
		writers:    writers,
		clock:      clock,
		dispatcher: dispatcher,
		logger:     logger,
		queueSize:  queueSize,
		state:      domain.RecordIdle,
	}
}

// State текущее состояние записи
func (m *RecordingStateMachine) State() domain.RecordState {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Start открывает писатель и начинает запись. Возвращает идентификатор сессии записи.
func (m *RecordingStateMachine) Start(dest string, tracks []domain.TrackSpec) (string, error) {
	m.mu.Lock()
	if m.state.InProgress() || m.opening {
		m.mu.Unlock()
		return "", &domain.RecordingError{Op: "start", Err: domain.ErrAlreadyRecording}
	}
	m.opening = true
	m.mu.Unlock()

	id := uuid.NewString()
	writer, err := m.writers.Open(dest, tracks)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.opening = false
	if err != nil {
		m.logger.Error("Не удалось открыть писатель для %s: %v", dest, err)
		return "", &domain.RecordingError{SessionID: id, Op: "start", Err: err}
	}

	rec := &recording{
		id:     id,
		dest:   dest,
		writer: writer,
		ingest: make(chan ingestItem, m.queueSize),
		done:   make(chan struct{}),
	}
	for _, t := range tracks {
		if t.Kind == domain.BufferAudio {
			rec.hasAudio = true
		}
	}
	m.rec = rec
	go m.drain(rec)

	m.setState(domain.RecordRecording)
	m.logger.Info("Запись %s начата: %s", id, dest)
	return id, nil
}

// Pause приостанавливает запись; буферы до Resume отбрасываются
func (m *RecordingStateMachine) Pause() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case domain.RecordPaused:
		return nil
	case domain.RecordRecording:
	default:
		return m.notRecording("pause")
	}
	m.rec.pausedAt = m.clock.Now()
	m.setState(domain.RecordPaused)
	m.logger.Info("Запись %s приостановлена", m.rec.id)
	return nil
}

// Resume продолжает запись, добавляя длительность паузы к накопленному смещению
func (m *RecordingStateMachine) Resume() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch m.state {
	case domain.RecordRecording:
		return nil
	case domain.RecordPaused:
	default:
		return m.notRecording("resume")
	}
	rec := m.rec
	now := m.clock.Now()
	if now > rec.pausedAt {
		rec.offset += now - rec.pausedAt
	}
	rec.resumedAt = now
	rec.resumed = true
	m.setState(domain.RecordRecording)
	m.logger.Info("Запись %s продолжена, смещение %s", rec.id, rec.offset)
	return nil
}

// Stop начинает финализацию. Повторный вызов ничего не делает.
// Буферы, уже поставленные в очередь, дописываются до закрытия дорожек.
func (m *RecordingStateMachine) Stop() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != domain.RecordRecording && m.state != domain.RecordPaused {
		return nil
	}
	m.closeIngest(m.rec)
	m.setState(domain.RecordFinalizing)
	m.logger.Info("Запись %s финализируется", m.rec.id)
	return nil
}

// Fail переводит запись в Failed. После этого буферы не пишутся,
// частичный результат отбрасывается, наблюдатель получает ошибку.
func (m *RecordingStateMachine) Fail(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failLocked(err)
}

func (m *RecordingStateMachine) failLocked(err error) {
	rec := m.rec
	if rec == nil || !m.state.InProgress() || rec.committed || rec.failure != nil {
		return
	}
	if err == nil {
		err = errors.New("запись прервана")
	}
	rec.failure = err
	m.closeIngest(rec)
	m.setState(domain.RecordFailed)
	m.logger.Error("Запись %s прервана: %v", rec.id, err)
}

// Wait ждет терминального результата текущей сессии записи
func (m *RecordingStateMachine) Wait(ctx context.Context) (domain.RecordResult, error) {
	m.mu.Lock()
	rec := m.rec
	m.mu.Unlock()
	if rec == nil {
		return domain.RecordResult{}, &domain.RecordingError{Op: "wait", Err: domain.ErrNotRecording}
	}
	select {
	case <-rec.done:
		return rec.result, nil
	case <-ctx.Done():
		return domain.RecordResult{}, ctx.Err()
	}
}

// AppendVideo принимает видеобуфер; вне Recording ничего не делает
func (m *RecordingStateMachine) AppendVideo(buf domain.SampleBuffer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != domain.RecordRecording {
		return
	}
	rec := m.rec
	adjusted, ok := m.adjust(rec, domain.BufferVideo, buf)
	if !ok {
		return
	}

	if !rec.anchored {
		rec.anchored = true
		rec.anchor = adjusted.Timestamp
		m.enqueue(rec, domain.BufferVideo, adjusted)
		// звук, пришедший раньше первого кадра, дописывается, если он не раньше кадра
		for _, a := range rec.pending {
			if a.Timestamp >= rec.anchor {
				m.enqueue(rec, domain.BufferAudio, a)
			}
		}
		rec.pending = nil
		return
	}
	m.enqueue(rec, domain.BufferVideo, adjusted)
}

// AppendAudio принимает аудиобуфер; вне Recording ничего не делает
func (m *RecordingStateMachine) AppendAudio(buf domain.SampleBuffer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != domain.RecordRecording || !m.rec.hasAudio {
		return
	}
	rec := m.rec
	adjusted, ok := m.adjust(rec, domain.BufferAudio, buf)
	if !ok {
		return
	}
	if !rec.anchored {
		// до первого кадра держим не больше очереди записи
		if len(rec.pending) >= m.queueSize {
			rec.dropped++
			m.logger.Debug("Нет видеокадров, звуковой буфер %s отброшен", adjusted.Timestamp)
			return
		}
		rec.pending = append(rec.pending, adjusted)
		return
	}
	if adjusted.Timestamp < rec.anchor {
		rec.dropped++
		return
	}
	m.enqueue(rec, domain.BufferAudio, adjusted)
}

// adjust вычитает смещение паузы и отбрасывает буферы, нарушающие возрастание меток
func (m *RecordingStateMachine) adjust(rec *recording, k domain.BufferKind, buf domain.SampleBuffer) (domain.SampleBuffer, bool) {
	if rec.resumed && buf.Timestamp < rec.resumedAt {
		// снят во время паузы, доставлен после нее
		return buf, false
	}
	ts := buf.Timestamp - rec.offset
	if rec.hasLast[k] && ts <= rec.last[k] {
		rec.dropped++
		m.logger.Debug("Буфер %s с меткой %s отброшен: не возрастает", k, ts)
		return buf, false
	}
	rec.last[k] = ts
	rec.hasLast[k] = true
	return buf.WithTimestamp(ts), true
}

func (m *RecordingStateMachine) enqueue(rec *recording, kind domain.BufferKind, buf domain.SampleBuffer) {
	select {
	case rec.ingest <- ingestItem{kind: kind, buf: buf}:
	default:
		rec.dropped++
		m.logger.Debug("Очередь записи переполнена, буфер %s отброшен", kind)
	}
}

// drain пишет буферы в контейнер и доставляет терминальный результат
func (m *RecordingStateMachine) drain(rec *recording) {
	var video, audio trackStats
	for item := range rec.ingest {
		if m.failed(rec) {
			continue
		}
		if err := rec.writer.Append(item.kind, item.buf); err != nil {
			m.mu.Lock()
			m.failLocked(&domain.RecordingError{SessionID: rec.id, Op: "append", Err: err})
			m.mu.Unlock()
			continue
		}
		if item.kind == domain.BufferVideo {
			video.add(item.buf)
		} else {
			audio.add(item.buf)
		}
	}

	m.mu.Lock()
	failure := rec.failure
	if failure == nil {
		rec.committed = true
	}
	dropped := rec.dropped
	m.mu.Unlock()

	result := domain.RecordResult{
		SessionID:     rec.id,
		VideoDuration: video.duration(),
		AudioDuration: audio.duration(),
		VideoSamples:  video.samples,
		AudioSamples:  audio.samples,
		Dropped:       dropped,
	}

	if failure != nil {
		m.cancelWriter(rec)
		result.Err = asRecordingError(rec.id, "record", failure)
		m.finish(rec, result, domain.RecordFailed)
		return
	}

	if video.samples == 0 {
		m.cancelWriter(rec)
		result.Err = &domain.RecordingError{SessionID: rec.id, Op: "finish", Err: errors.New("нет ни одного видеокадра")}
		m.finish(rec, result, domain.RecordFailed)
		return
	}

	location, err := rec.writer.Finish()
	if err != nil {
		m.cancelWriter(rec)
		result.Err = &domain.RecordingError{SessionID: rec.id, Op: "finish", Err: err}
		m.finish(rec, result, domain.RecordFailed)
		return
	}
	result.Location = location
	result.Success = true
	m.finish(rec, result, domain.RecordFinished)
}

func (m *RecordingStateMachine) failed(rec *recording) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return rec.failure != nil
}

// finish доставляет единственный RecordResult сессии
func (m *RecordingStateMachine) finish(rec *recording, result domain.RecordResult, state domain.RecordState) {
	m.mu.Lock()
	rec.result = result
	if m.rec == rec && m.state != state {
		m.setState(state)
	}
	if result.Success {
		m.logger.Info("Запись %s завершена: %s, видео %s, звук %s, отброшено %d",
			rec.id, result.Location, result.VideoDuration, result.AudioDuration, result.Dropped)
	} else {
		m.logger.Error("Запись %s завершилась ошибкой: %v", rec.id, result.Err)
	}
	m.dispatcher.Emit(Event{Kind: EventRecordResult, Record: &result})
	m.mu.Unlock()
	close(rec.done)
}

// cancelWriter удаляет частичную запись
func (m *RecordingStateMachine) cancelWriter(rec *recording) {
	if err := rec.writer.Cancel(); err != nil {
		m.logger.Error("Не удалось удалить частичную запись %s: %v", rec.id, err)
	}
}

func (m *RecordingStateMachine) closeIngest(rec *recording) {
	if rec.ingestDone {
		return
	}
	rec.ingestDone = true
	close(rec.ingest)
}

// setState вызывается под mu
func (m *RecordingStateMachine) setState(state domain.RecordState) {
	m.state = state
	m.dispatcher.Emit(Event{Kind: EventRecordState, RecordState: state})
}

func (m *RecordingStateMachine) notRecording(op string) error {
	if m.state == domain.RecordFinalizing {
		return &domain.RecordingError{SessionID: m.rec.id, Op: op, Err: domain.ErrRecordingFinalizing}
	}
	return &domain.RecordingError{Op: op, Err: domain.ErrNotRecording}
}

func asRecordingError(id, op string, err error) error {
	var rerr *domain.RecordingError
	if errors.As(err, &rerr) {
		return err
	}
	return &domain.RecordingError{SessionID: id, Op: op, Err: err}
}
