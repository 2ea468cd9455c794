package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"webcam-capture/internal/domain"
	"webcam-capture/internal/infrastructure/logger"
)

func testLogger() Logger { return logger.NewNop() }

// errorLog запоминает сообщения уровня Error
type errorLog struct {
	mu     sync.Mutex
	errors []string
}

func (l *errorLog) Info(string, ...interface{})  {}
func (l *errorLog) Debug(string, ...interface{}) {}

func (l *errorLog) Error(msg string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.errors = append(l.errors, fmt.Sprintf(msg, args...))
}

func (l *errorLog) messages() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.errors...)
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Duration
}

func (c *fakeClock) Now() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(d time.Duration) {
	c.mu.Lock()
	c.now = d
	c.mu.Unlock()
}

type fakeControl struct {
	mu    sync.Mutex
	zooms []float64
	focus domain.FocusMode
	flash domain.FlashMode
	ev    float64
}

func (c *fakeControl) SetZoom(factor float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zooms = append(c.zooms, factor)
	return nil
}

func (c *fakeControl) SetFocus(mode domain.FocusMode, _ *domain.Point) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.focus = mode
	return nil
}

func (c *fakeControl) SetExposure(domain.ExposureMode, *domain.Point) error { return nil }

func (c *fakeControl) SetFlash(mode domain.FlashMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flash = mode
	return nil
}

func (c *fakeControl) SetExposureBias(ev float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ev = ev
	return nil
}

func (c *fakeControl) Zooms() []float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]float64(nil), c.zooms...)
}

// fakeSession сессия захвата в памяти
type fakeSession struct {
	mu sync.Mutex

	inputs  map[string]domain.CaptureDevice
	outputs map[domain.OutputKind]bool
	preset  domain.Preset
	running bool
	commits int

	failAddOutput map[domain.OutputKind]error
	unsupported   map[domain.Preset]bool
	startErr      error
	// commitErr отклоняет коммит; сессия возвращается к состоянию на BeginConfiguration
	commitErr error
	saved     *fakeWiring

	controls   map[string]*fakeControl
	handler    domain.BufferHandler
	errHandler func(error)

	// photo возвращает результат снимка; если hold, колбэки копятся до release
	photo   func(deviceID string) (domain.Photo, error)
	hold    bool
	held    []func()
	capture int
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		inputs:        map[string]domain.CaptureDevice{},
		outputs:       map[domain.OutputKind]bool{},
		failAddOutput: map[domain.OutputKind]error{},
		unsupported:   map[domain.Preset]bool{},
		controls:      map[string]*fakeControl{},
		photo: func(id string) (domain.Photo, error) {
			return domain.Photo{DeviceID: id, Data: []byte(id), Format: "jpeg"}, nil
		},
	}
}

type fakeWiring struct {
	inputs  map[string]domain.CaptureDevice
	outputs map[domain.OutputKind]bool
	preset  domain.Preset
}

func (s *fakeSession) BeginConfiguration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	w := &fakeWiring{
		inputs:  make(map[string]domain.CaptureDevice, len(s.inputs)),
		outputs: make(map[domain.OutputKind]bool, len(s.outputs)),
		preset:  s.preset,
	}
	for id, d := range s.inputs {
		w.inputs[id] = d
	}
	for o, v := range s.outputs {
		w.outputs[o] = v
	}
	s.saved = w
}

func (s *fakeSession) CommitConfiguration() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.commits++
	saved := s.saved
	s.saved = nil
	if s.commitErr != nil {
		if saved != nil {
			s.inputs, s.outputs, s.preset = saved.inputs, saved.outputs, saved.preset
		}
		return s.commitErr
	}
	return nil
}

func (s *fakeSession) commitCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.commits
}

func (s *fakeSession) AddInput(device domain.CaptureDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inputs[device.ID]; ok {
		return errors.New("input already added")
	}
	s.inputs[device.ID] = device
	if device.Kind == domain.KindVideo {
		if _, ok := s.controls[device.ID]; !ok {
			s.controls[device.ID] = &fakeControl{}
		}
	}
	return nil
}

func (s *fakeSession) RemoveInput(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.inputs[id]; !ok {
		return errors.New("no such input")
	}
	delete(s.inputs, id)
	return nil
}

func (s *fakeSession) AddOutput(o domain.OutputKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failAddOutput[o]; err != nil {
		return err
	}
	s.outputs[o] = true
	return nil
}

func (s *fakeSession) RemoveOutput(o domain.OutputKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.outputs, o)
	return nil
}

func (s *fakeSession) CanSetPreset(p domain.Preset) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.unsupported[p]
}

func (s *fakeSession) SetPreset(p domain.Preset) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preset = p
	return nil
}

func (s *fakeSession) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return s.startErr
	}
	s.running = true
	return nil
}

func (s *fakeSession) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

func (s *fakeSession) SetBufferHandler(h domain.BufferHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

func (s *fakeSession) SetRuntimeErrorHandler(h func(err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errHandler = h
}

func (s *fakeSession) Control(id string) (domain.DeviceControl, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.controls[id]
	if !ok {
		return nil, errors.New("device not attached")
	}
	return c, nil
}

func (s *fakeSession) CapturePhoto(id string, _ domain.PhotoSettings, done func(domain.Photo, error)) {
	s.mu.Lock()
	s.capture++
	photo, err := s.photo(id)
	if s.hold {
		s.held = append(s.held, func() { done(photo, err) })
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	go done(photo, err)
}

func (s *fakeSession) release() {
	s.mu.Lock()
	held := s.held
	s.held = nil
	s.hold = false
	s.mu.Unlock()
	for _, fn := range held {
		fn()
	}
}

func (s *fakeSession) deliver(buf domain.SampleBuffer) {
	s.mu.Lock()
	h := s.handler
	s.mu.Unlock()
	h(buf)
}

func (s *fakeSession) inputIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.inputs))
	for id := range s.inputs {
		ids = append(ids, id)
	}
	return ids
}

func (s *fakeSession) hasOutput(o domain.OutputKind) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.outputs[o]
}

func (s *fakeSession) control(id string) *fakeControl {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.controls[id]
}

type fakeHardware struct {
	devices  []domain.CaptureDevice
	multiCam bool
	authErr  error
	session  *fakeSession
	clock    *fakeClock
}

func (h *fakeHardware) Authorize(context.Context) error { return h.authErr }

func (h *fakeHardware) Devices(context.Context) ([]domain.CaptureDevice, error) {
	return h.devices, nil
}

func (h *fakeHardware) MultiCamSupported() bool { return h.multiCam }

func (h *fakeHardware) NewSession() (domain.CaptureSession, error) { return h.session, nil }

func (h *fakeHardware) Clock() domain.Clock { return h.clock }

func testCaps() domain.Capabilities {
	return domain.Capabilities{
		MinZoom:         1,
		MaxZoom:         4,
		FocusModes:      []domain.FocusMode{domain.FocusContinuousAuto},
		ExposureModes:   []domain.ExposureMode{domain.ExposureContinuousAuto},
		MinExposureBias: -2,
		MaxExposureBias: 2,
	}
}

func testCamera(id string, position domain.Position) domain.CaptureDevice {
	return domain.CaptureDevice{ID: id, Label: id, Kind: domain.KindVideo, Position: position, Capabilities: testCaps()}
}

func testMicrophone(id string) domain.CaptureDevice {
	return domain.CaptureDevice{ID: id, Label: id, Kind: domain.KindAudio}
}

func newFakeHardware() *fakeHardware {
	return &fakeHardware{
		devices: []domain.CaptureDevice{
			testCamera("back-cam", domain.PositionBack),
			testCamera("front-cam", domain.PositionFront),
			testMicrophone("mic"),
		},
		session: newFakeSession(),
		clock:   &fakeClock{},
	}
}

type appended struct {
	kind domain.BufferKind
	buf  domain.SampleBuffer
}

type fakeWriter struct {
	mu        sync.Mutex
	appended  []appended
	appendErr error
	finishErr error
	cancelErr error
	finished  bool
	canceled  bool
	location  string

	// если заданы, Append и Finish ждут закрытия канала
	appendGate chan struct{}
	finishGate chan struct{}
}

func (w *fakeWriter) Append(kind domain.BufferKind, buf domain.SampleBuffer) error {
	if w.appendGate != nil {
		<-w.appendGate
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.appendErr != nil {
		return w.appendErr
	}
	w.appended = append(w.appended, appended{kind: kind, buf: buf})
	return nil
}

func (w *fakeWriter) Finish() (string, error) {
	if w.finishGate != nil {
		<-w.finishGate
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.finishErr != nil {
		return "", w.finishErr
	}
	w.finished = true
	return w.location, nil
}

func (w *fakeWriter) Cancel() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.canceled = true
	return w.cancelErr
}

func (w *fakeWriter) timestamps(kind domain.BufferKind) []time.Duration {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []time.Duration
	for _, a := range w.appended {
		if a.kind == kind {
			out = append(out, a.buf.Timestamp)
		}
	}
	return out
}

type fakeWriterFactory struct {
	mu         sync.Mutex
	writer     *fakeWriter
	openErr    error
	appendErr  error
	cancelErr  error
	appendGate chan struct{}
	finishGate chan struct{}
	dest       string
	tracks     []domain.TrackSpec
}

func (f *fakeWriterFactory) Open(dest string, tracks []domain.TrackSpec) (domain.MediaWriter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	f.dest = dest
	f.tracks = tracks
	f.writer = &fakeWriter{
		location:   dest + ".h264",
		appendErr:  f.appendErr,
		cancelErr:  f.cancelErr,
		appendGate: f.appendGate,
		finishGate: f.finishGate,
	}
	return f.writer, nil
}

func (f *fakeWriterFactory) current() *fakeWriter {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.writer
}

// eventLog наблюдатель, запоминающий все события
type eventLog struct {
	mu     sync.Mutex
	mask   EventMask
	events []Event
}

func newEventLog(mask EventMask) *eventLog { return &eventLog{mask: mask} }

func (l *eventLog) Events() EventMask { return l.mask }

func (l *eventLog) HandleEvent(ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) all() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Event(nil), l.events...)
}

func (l *eventLog) of(kind EventKind) []Event {
	var out []Event
	for _, ev := range l.all() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func (l *eventLog) waitFor(t *testing.T, kind EventKind, n int) []Event {
	t.Helper()
	require.Eventually(t, func() bool { return len(l.of(kind)) >= n }, 2*time.Second, 5*time.Millisecond,
		"ожидалось событие %s", kind)
	return l.of(kind)
}

// testRig сервис поверх фейкового оборудования
type testRig struct {
	hw      *fakeHardware
	writers *fakeWriterFactory
	events  *eventLog
	service *CameraService
}

func newTestRig(t *testing.T, opts Options) *testRig {
	t.Helper()
	rig := &testRig{
		hw:      newFakeHardware(),
		writers: &fakeWriterFactory{},
		events:  newEventLog(AllEvents),
	}
	if opts.OutputDir == "" {
		opts.OutputDir = t.TempDir()
	}
	rig.service = NewCameraService(rig.hw, rig.writers, testLogger(), opts)
	rig.service.SetObserver(rig.events)
	t.Cleanup(rig.service.Close)
	return rig
}

func (r *testRig) configure(t *testing.T, cfg domain.SessionConfig) {
	t.Helper()
	res := r.service.RequestSession(context.Background(), cfg)
	require.True(t, res.OK(), "настройка: %v", res.Err)
}

func (r *testRig) startVideo(t *testing.T) {
	t.Helper()
	r.configure(t, domain.SessionConfig{Position: domain.PositionBack, Mode: domain.ModeVideo})
	require.NoError(t, r.service.Start())
}

func videoBuf(ts time.Duration, deviceID string) domain.SampleBuffer {
	return domain.SampleBuffer{
		Kind:      domain.BufferVideo,
		Timestamp: ts,
		Duration:  33 * time.Millisecond,
		Data:      []byte{0x01},
		DeviceID:  deviceID,
		Position:  domain.PositionBack,
	}
}

func audioBuf(ts time.Duration) domain.SampleBuffer {
	return domain.SampleBuffer{
		Kind:      domain.BufferAudio,
		Timestamp: ts,
		Duration:  20 * time.Millisecond,
		Data:      []byte{0x02},
		DeviceID:  "mic",
	}
}
