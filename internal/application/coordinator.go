package application

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/go-playground/validator/v10"

	"webcam-capture/internal/domain"
)

// recordingControl то, что координатору нужно от машины состояний записи
type recordingControl interface {
	bufferSink
	State() domain.RecordState
	Stop() error
	Fail(err error)
}

// SessionCoordinator владеет сессией захвата и сериализует все структурные изменения.
// Поля, помеченные как принадлежащие очереди, меняются только из задач sessionQueue.
type SessionCoordinator struct {
	hardware   domain.Hardware
	selector   *DeviceSelector
	recorder   recordingControl
	dispatcher *Dispatcher
	logger     Logger
	validate   *validator.Validate

	queue  *sessionQueue
	router *bufferRouter

	snapshot atomic.Pointer[domain.SessionSnapshot]

	// принадлежат очереди
	session   domain.CaptureSession
	state     domain.SessionState
	config    domain.SessionConfig
	selection Selection
	wired     wiring
}

// NewSessionCoordinator создает координатор сессии
func NewSessionCoordinator(hardware domain.Hardware, selector *DeviceSelector, recorder recordingControl, dispatcher *Dispatcher, logger Logger, queueSize int) *SessionCoordinator {
	c := &SessionCoordinator{
		hardware:   hardware,
		selector:   selector,
		recorder:   recorder,
		dispatcher: dispatcher,
		logger:     logger,
		validate:   validator.New(),
		queue:      newSessionQueue(queueSize),
		state:      domain.SessionUnconfigured,
	}
	c.router = newBufferRouter(recorder, c.Snapshot)
	c.snapshot.Store(&domain.SessionSnapshot{State: domain.SessionUnconfigured})
	return c
}

// Snapshot возвращает последнее опубликованное состояние; безопасно из любого контекста
func (c *SessionCoordinator) Snapshot() *domain.SessionSnapshot {
	return c.snapshot.Load()
}

// Handle возвращает дескриптор сессии для поверхности превью
func (c *SessionCoordinator) Handle() domain.SessionHandle {
	return c.router
}

// Configure выполняет первичную настройку сессии
func (c *SessionCoordinator) Configure(ctx context.Context, cfg domain.SessionConfig) domain.SetupResult {
	var result domain.SetupResult
	if err := c.queue.sync(func() {
		if c.state != domain.SessionUnconfigured {
			result = c.reconfigure(ctx, cfg)
		} else {
			result = c.configure(ctx, cfg)
		}
		c.dispatcher.Emit(Event{Kind: EventSessionSetup, Setup: result})
	}); err != nil {
		result = configurationFailed("configure", err)
		c.dispatcher.Emit(Event{Kind: EventSessionSetup, Setup: result})
	}
	if !result.OK() {
		c.reportError(result.Err)
	}
	return result
}

// Reconfigure применяет новую конфигурацию к уже настроенной сессии
func (c *SessionCoordinator) Reconfigure(ctx context.Context, cfg domain.SessionConfig) domain.SetupResult {
	var result domain.SetupResult
	if err := c.queue.sync(func() {
		result = c.reconfigure(ctx, cfg)
	}); err != nil {
		result = configurationFailed("reconfigure", err)
	}
	if !result.OK() {
		c.reportError(result.Err)
	}
	return result
}

// Start запускает поток кадров. Повторный запуск ничего не делает.
func (c *SessionCoordinator) Start() error {
	var err error
	if qerr := c.queue.sync(func() { err = c.start() }); qerr != nil {
		err = qerr
	}
	if err != nil {
		c.reportError(err)
	}
	return err
}

// Stop останавливает поток кадров. Повторная остановка ничего не делает.
func (c *SessionCoordinator) Stop() error {
	var err error
	if qerr := c.queue.sync(func() { err = c.stop(nil) }); qerr != nil {
		if errors.Is(qerr, domain.ErrSessionClosed) {
			return nil
		}
		err = qerr
	}
	if err != nil {
		c.reportError(err)
	}
	return err
}

// ChangePosition переключает камеру на другую позицию
func (c *SessionCoordinator) ChangePosition(ctx context.Context, position domain.Position) error {
	return c.change(ctx, "change-position", func(cfg domain.SessionConfig) domain.SessionConfig {
		return cfg.WithPosition(position)
	}, func() {
		c.logger.Info("Камера переключена на %s", position)
		c.dispatcher.Emit(Event{Kind: EventPositionChanged, Position: position})
	})
}

// ChangeDeviceType переключает одиночную/двойную камеру
func (c *SessionCoordinator) ChangeDeviceType(ctx context.Context, deviceType domain.DeviceType) error {
	return c.change(ctx, "change-device-type", func(cfg domain.SessionConfig) domain.SessionConfig {
		return cfg.WithType(deviceType)
	}, func() {
		c.logger.Info("Тип устройства переключен на %s", deviceType)
	})
}

func (c *SessionCoordinator) change(ctx context.Context, op string, next func(domain.SessionConfig) domain.SessionConfig, changed func()) error {
	var err error
	if qerr := c.queue.sync(func() {
		if c.state == domain.SessionUnconfigured {
			err = &domain.ConfigurationError{Op: op, Err: domain.ErrSessionNotConfigured}
			return
		}
		cfg := next(c.config)
		if cfg.Position == c.config.Position && cfg.Type == c.config.Type {
			return
		}
		res := c.reconfigure(ctx, cfg)
		if !res.OK() {
			err = res.Err
			return
		}
		changed()
	}); qerr != nil {
		err = qerr
	}
	if err != nil {
		c.logger.Error("Операция %s не выполнена: %v", op, err)
		c.reportError(err)
	}
	return err
}

// do выполняет задачу в очереди сессии
func (c *SessionCoordinator) do(task func()) error {
	return c.queue.sync(task)
}

// Close останавливает сессию и очередь
func (c *SessionCoordinator) Close() {
	_ = c.Stop()
	c.queue.close()
}

func (c *SessionCoordinator) configure(ctx context.Context, cfg domain.SessionConfig) domain.SetupResult {
	if err := c.validateConfig(cfg); err != nil {
		return configurationFailed("configure", err)
	}

	if err := c.hardware.Authorize(ctx); err != nil {
		c.logger.Error("Доступ к камере не получен: %v", err)
		return domain.SetupResult{
			Status: domain.SetupAuthorizationDenied,
			Err:    &domain.AuthorizationError{Op: "configure", Err: errors.Join(domain.ErrAuthorizationDenied, err)},
		}
	}

	c.setState(domain.SessionConfiguring)

	sel, err := c.selector.Select(ctx, cfg)
	if err != nil {
		c.setState(domain.SessionUnconfigured)
		return domain.SetupResult{Status: domain.SetupConfigurationFailed, Err: err}
	}

	session, err := c.hardware.NewSession()
	if err != nil {
		c.setState(domain.SessionUnconfigured)
		return configurationFailed("configure", fmt.Errorf("создание сессии: %w", err))
	}
	session.SetBufferHandler(c.router.handle)
	session.SetRuntimeErrorHandler(c.handleRuntimeError)

	target := targetWiring(cfg, sel)
	tx := planTransaction(wiring{}, target)
	if err := applyTransaction(session, tx, c.logger); err != nil {
		c.setState(domain.SessionUnconfigured)
		return configurationFailed("configure", err)
	}

	c.session = session
	c.commit(cfg, sel, target, domain.SessionStopped, true)
	c.logger.Info("Сессия настроена: камера %s, режим %s, пресет %s", sel.Device.ID, cfg.Mode, target.preset)
	return domain.SetupResult{Status: domain.SetupSuccess}
}

// reconfigure выполняется в очереди сессии
func (c *SessionCoordinator) reconfigure(ctx context.Context, cfg domain.SessionConfig) domain.SetupResult {
	if c.state == domain.SessionUnconfigured || c.session == nil {
		return configurationFailed("reconfigure", domain.ErrSessionNotConfigured)
	}
	if err := c.validateConfig(cfg); err != nil {
		return configurationFailed("reconfigure", err)
	}
	if c.recorder.State().InProgress() {
		return configurationFailed("reconfigure", domain.ErrReconfigureDuringRecording)
	}

	prevState := c.state
	c.setState(domain.SessionConfiguring)

	sel, err := c.selector.Select(ctx, cfg)
	if err != nil {
		c.setState(prevState)
		return domain.SetupResult{Status: domain.SetupConfigurationFailed, Err: err}
	}

	target := targetWiring(cfg, sel)
	tx := planTransaction(c.wired, target)
	if err := applyTransaction(c.session, tx, c.logger); err != nil {
		c.setState(prevState)
		c.logger.Error("Перенастройка отменена, сессия возвращена в прежнее состояние: %v", err)
		return configurationFailed("reconfigure", err)
	}

	deviceChanged := sel.Device.ID != c.selection.Device.ID
	c.commit(cfg, sel, target, prevState, deviceChanged)
	c.logger.Info("Сессия перенастроена: камера %s, режим %s, пресет %s", sel.Device.ID, cfg.Mode, target.preset)
	return domain.SetupResult{Status: domain.SetupSuccess}
}

func (c *SessionCoordinator) start() error {
	switch c.state {
	case domain.SessionUnconfigured:
		return &domain.ConfigurationError{Op: "start", Err: domain.ErrSessionNotConfigured}
	case domain.SessionRunning:
		return nil
	}
	if err := c.session.Start(); err != nil {
		return &domain.ConfigurationError{Op: "start", Err: err}
	}
	c.setState(domain.SessionRunning)
	c.logger.Info("Захват запущен")
	c.dispatcher.Emit(Event{Kind: EventStarted})
	return nil
}

func (c *SessionCoordinator) stop(cause error) error {
	if c.state != domain.SessionRunning {
		return nil
	}
	if c.recorder.State().InProgress() {
		if cause != nil {
			c.recorder.Fail(cause)
		} else {
			_ = c.recorder.Stop()
		}
	}
	err := c.session.Stop()
	c.setState(domain.SessionStopped)
	c.logger.Info("Захват остановлен")
	if cause == nil && err != nil {
		cause = err
	}
	c.dispatcher.Emit(Event{Kind: EventStopped, Err: cause})
	if err != nil {
		return &domain.ConfigurationError{Op: "stop", Err: err}
	}
	return nil
}

// handleRuntimeError вызывается оборудованием из собственного контекста
func (c *SessionCoordinator) handleRuntimeError(err error) {
	c.logger.Error("Ошибка оборудования во время работы: %v", err)
	// запись прекращается сразу, не дожидаясь очереди
	if c.recorder.State().InProgress() {
		c.recorder.Fail(err)
	}
	_ = c.queue.async(func() {
		_ = c.stop(err)
	})
}

func (c *SessionCoordinator) validateConfig(cfg domain.SessionConfig) error {
	if err := c.validate.Struct(cfg); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	if cfg.Preset != "" {
		if _, _, ok := cfg.Preset.Dimensions(); !ok {
			return fmt.Errorf("%w: неизвестный пресет %q", domain.ErrInvalidConfig, cfg.Preset)
		}
	}
	return nil
}

// commit фиксирует новое состояние и публикует снимок и маршруты
func (c *SessionCoordinator) commit(cfg domain.SessionConfig, sel Selection, w wiring, state domain.SessionState, deviceChanged bool) {
	prev := c.snapshot.Load()

	c.config = cfg
	c.selection = sel
	c.wired = w
	c.state = state

	next := &domain.SessionSnapshot{
		State:      state,
		Config:     cfg,
		Device:     sel.Device,
		Microphone: sel.Microphone,
		Preset:     w.preset,
		Outputs:    append([]domain.OutputKind(nil), w.outputs...),
		Zoom:       prev.Zoom,
		Flash:      prev.Flash,
		EV:         prev.EV,
	}
	if deviceChanged {
		next.Zoom = clamp(1, sel.Device.Capabilities.MinZoom, sel.Device.Capabilities.MaxZoom)
		next.EV = 0
	}
	c.snapshot.Store(next)
	c.router.publish(&routes{mode: cfg.Mode, device: sel.Device, strategy: sel.strategy})
}

// update публикует измененную копию снимка; выполняется в очереди
func (c *SessionCoordinator) update(fn func(s *domain.SessionSnapshot)) {
	next := *c.snapshot.Load()
	fn(&next)
	c.snapshot.Store(&next)
}

func (c *SessionCoordinator) setState(state domain.SessionState) {
	c.state = state
	c.update(func(s *domain.SessionSnapshot) { s.State = state })
}

func (c *SessionCoordinator) reportError(err error) {
	if err == nil {
		return
	}
	c.dispatcher.Emit(Event{Kind: EventError, Err: err})
}

// targetWiring входы и выходы для конфигурации
func targetWiring(cfg domain.SessionConfig, sel Selection) wiring {
	w := wiring{
		inputs:  sel.strategy.inputs(sel.Device),
		outputs: []domain.OutputKind{domain.OutputVideoData},
		preset:  cfg.EffectivePreset(),
	}
	switch cfg.Mode {
	case domain.ModePhoto:
		w.outputs = append(w.outputs, domain.OutputPhoto)
	case domain.ModeVideo:
		if sel.Microphone != nil {
			w.inputs = append(w.inputs, *sel.Microphone)
			w.outputs = append(w.outputs, domain.OutputAudioData)
		}
	}
	return w
}

func configurationFailed(op string, err error) domain.SetupResult {
	var cerr *domain.ConfigurationError
	if !errors.As(err, &cerr) {
		err = &domain.ConfigurationError{Op: op, Err: err}
	}
	return domain.SetupResult{Status: domain.SetupConfigurationFailed, Err: err}
}

func clamp(v, lo, hi float64) float64 {
	if hi < lo {
		hi = lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
