package application

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"webcam-capture/internal/domain"
)

// Options параметры сервиса камеры
type Options struct {
	QueueSize        int
	IngestQueueSize  int
	ZoomRampDuration time.Duration
	ZoomRampSteps    int
	OutputDir        string
	VideoCodec       string
	AudioChannels    uint16
	Stitcher         domain.PhotoStitcher
}

// CameraService сервис для работы с камерой: настройка сессии, регулировки, снимки и запись
type CameraService struct {
	hardware   domain.Hardware
	selector   *DeviceSelector
	dispatcher *Dispatcher
	recorder   *RecordingStateMachine
	coord      *SessionCoordinator
	adjust     *AdjustmentController
	mode       *ModeController
	photo      *PhotoCapturePipeline
	logger     Logger
	opts       Options
}

// NewCameraService создает сервис и связывает компоненты между собой
func NewCameraService(hardware domain.Hardware, writers domain.WriterFactory, logger Logger, opts Options) *CameraService {
	if opts.VideoCodec == "" {
		opts.VideoCodec = "h264"
	}
	if opts.AudioChannels == 0 {
		opts.AudioChannels = 1
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "."
	}

	dispatcher := NewDispatcher(logger)
	selector := NewDeviceSelector(hardware, logger)
	recorder := NewRecordingStateMachine(writers, hardware.Clock(), dispatcher, logger, opts.IngestQueueSize)
	coord := NewSessionCoordinator(hardware, selector, recorder, dispatcher, logger, opts.QueueSize)

	return &CameraService{
		hardware:   hardware,
		selector:   selector,
		dispatcher: dispatcher,
		recorder:   recorder,
		coord:      coord,
		adjust:     NewAdjustmentController(coord, dispatcher, logger, opts.ZoomRampDuration, opts.ZoomRampSteps),
		mode:       NewModeController(coord, recorder, dispatcher, logger),
		photo:      NewPhotoCapturePipeline(coord, dispatcher, logger, opts.Stitcher),
		logger:     logger,
		opts:       opts,
	}
}

// SetObserver регистрирует наблюдателя событий; nil снимает регистрацию
func (s *CameraService) SetObserver(o Observer) {
	s.dispatcher.SetObserver(o)
}

// ListDevices возвращает список доступных устройств захвата
func (s *CameraService) ListDevices(ctx context.Context) ([]domain.CaptureDevice, error) {
	devices, err := s.selector.ListDevices(ctx)
	if err != nil {
		s.logger.Error("Ошибка получения списка устройств: %v", err)
		return nil, err
	}
	return devices, nil
}

// MultiCamSupported сообщает, поддерживается ли двойная камера
func (s *CameraService) MultiCamSupported() bool {
	return s.hardware.MultiCamSupported()
}

// RequestSession настраивает сессию (или перенастраивает уже настроенную)
func (s *CameraService) RequestSession(ctx context.Context, cfg domain.SessionConfig) domain.SetupResult {
	return s.coord.Configure(ctx, cfg)
}

// Start запускает захват
func (s *CameraService) Start() error { return s.coord.Start() }

// Stop останавливает захват; идущая запись финализируется
func (s *CameraService) Stop() error { return s.coord.Stop() }

// ChangePosition переключает камеру
func (s *CameraService) ChangePosition(ctx context.Context, position domain.Position) error {
	return s.coord.ChangePosition(ctx, position)
}

// ChangeDeviceType переключает одиночную/двойную камеру
func (s *CameraService) ChangeDeviceType(ctx context.Context, deviceType domain.DeviceType) error {
	return s.coord.ChangeDeviceType(ctx, deviceType)
}

// ChangeMode переключает режим фото/видео
func (s *CameraService) ChangeMode(ctx context.Context, mode domain.Mode, preset domain.Preset) error {
	return s.mode.ChangeMode(ctx, mode, preset)
}

// Mode текущий режим
func (s *CameraService) Mode() domain.Mode { return s.mode.Mode() }

// SetZoom устанавливает зум и возвращает примененное значение
func (s *CameraService) SetZoom(factor float64, animated bool) (float64, error) {
	return s.adjust.SetZoom(factor, animated)
}

// Focus устанавливает фокус
func (s *CameraService) Focus(mode domain.FocusMode, point *domain.Point) error {
	return s.adjust.Focus(mode, point)
}

// Exposure устанавливает экспозицию
func (s *CameraService) Exposure(mode domain.ExposureMode, point *domain.Point) error {
	return s.adjust.Exposure(mode, point)
}

// SetFlash устанавливает вспышку
func (s *CameraService) SetFlash(mode domain.FlashMode) error {
	return s.adjust.SetFlash(mode)
}

// SetEV устанавливает компенсацию экспозиции
func (s *CameraService) SetEV(ev float64) (float64, error) {
	return s.adjust.SetEV(ev)
}

// Zoom текущий зум
func (s *CameraService) Zoom() float64 { return s.coord.Snapshot().Zoom }

// MinZoom нижняя граница зума активного устройства
func (s *CameraService) MinZoom() float64 { return s.coord.Snapshot().Device.Capabilities.MinZoom }

// MaxZoom верхняя граница зума активного устройства
func (s *CameraService) MaxZoom() float64 { return s.coord.Snapshot().Device.Capabilities.MaxZoom }

// TakePhoto делает снимок; результат приходит в канал и событием EventPhoto
func (s *CameraService) TakePhoto(ctx context.Context, settings domain.PhotoSettings) (<-chan domain.PhotoResult, error) {
	return s.photo.Capture(ctx, settings)
}

// StartRecord начинает запись. Пустой dest означает файл в OutputDir.
func (s *CameraService) StartRecord(dest string) (string, error) {
	var (
		id  string
		err error
	)
	if qerr := s.coord.do(func() {
		snap := s.coord.Snapshot()
		if snap.Mode() != domain.ModeVideo {
			err = &domain.RecordingError{Op: "start", Err: domain.ErrNotInVideoMode}
			return
		}
		if snap.State != domain.SessionRunning {
			err = &domain.RecordingError{Op: "start", Err: domain.ErrSessionNotConfigured}
			return
		}
		if dest == "" {
			dest = filepath.Join(s.opts.OutputDir, "record-"+time.Now().Format("20060102-150405"))
		}
		id, err = s.recorder.Start(dest, s.tracks(snap))
	}); qerr != nil {
		err = &domain.RecordingError{Op: "start", Err: qerr}
	}
	if err != nil {
		s.logger.Error("Запись не начата: %v", err)
		s.coord.reportError(err)
	}
	return id, err
}

// PauseRecord приостанавливает запись
func (s *CameraService) PauseRecord() error { return s.recorder.Pause() }

// ResumeRecord продолжает запись
func (s *CameraService) ResumeRecord() error { return s.recorder.Resume() }

// StopRecord завершает запись; повторный вызов ничего не делает
func (s *CameraService) StopRecord() error { return s.recorder.Stop() }

// RecordState текущее состояние записи
func (s *CameraService) RecordState() domain.RecordState { return s.recorder.State() }

// WaitRecord ждет результата текущей записи
func (s *CameraService) WaitRecord(ctx context.Context) (domain.RecordResult, error) {
	return s.recorder.Wait(ctx)
}

// Snapshot последнее опубликованное состояние сессии
func (s *CameraService) Snapshot() *domain.SessionSnapshot { return s.coord.Snapshot() }

// Handle дескриптор сессии для превью
func (s *CameraService) Handle() domain.SessionHandle { return s.coord.Handle() }

// AttachPreview подключает поверхность превью к сессии
func (s *CameraService) AttachPreview(surface domain.PreviewSurface) {
	surface.Attach(s.coord.Handle())
}

// Close останавливает сессию и доставку событий
func (s *CameraService) Close() {
	s.coord.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if s.recorder.State() == domain.RecordFinalizing {
		if _, err := s.recorder.Wait(ctx); err != nil {
			s.logger.Error("Запись не завершилась до закрытия: %v", err)
		}
	}
	s.dispatcher.Close()
}

func (s *CameraService) tracks(snap *domain.SessionSnapshot) []domain.TrackSpec {
	tracks := []domain.TrackSpec{{Kind: domain.BufferVideo, Codec: s.opts.VideoCodec, ClockRate: 90000}}
	if snap.Microphone != nil {
		tracks = append(tracks, domain.TrackSpec{Kind: domain.BufferAudio, Codec: "opus", ClockRate: 48000, Channels: s.opts.AudioChannels})
	}
	return tracks
}

func (s *CameraService) String() string {
	snap := s.coord.Snapshot()
	return fmt.Sprintf("%s %s %s zoom=%.2f", snap.State, snap.Mode(), snap.Device.ID, snap.Zoom)
}
