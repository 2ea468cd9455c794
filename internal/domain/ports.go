package domain

import (
	"context"
	"time"
)

// Clock часы оборудования; в той же шкале, что и метки времени SampleBuffer
type Clock interface {
	Now() time.Duration
}

// BufferHandler получает сэмплы из контекста доставки буферов
type BufferHandler func(buf SampleBuffer)

// Hardware интерфейс оборудования захвата
type Hardware interface {
	// Authorize проверяет доступ к камере и микрофону
	Authorize(ctx context.Context) error

	// Devices возвращает все физические устройства (камеры и микрофоны)
	Devices(ctx context.Context) ([]CaptureDevice, error)

	// MultiCamSupported сообщает, может ли оборудование работать с двумя камерами одновременно
	MultiCamSupported() bool

	// NewSession создает сессию захвата
	NewSession() (CaptureSession, error)

	// Clock возвращает часы, по которым размечаются сэмплы
	Clock() Clock
}

// CaptureSession живая связка устройств с выходами.
// Изменения между BeginConfiguration и CommitConfiguration применяются атомарно при коммите.
type CaptureSession interface {
	BeginConfiguration()
	// CommitConfiguration применяет подготовленные изменения. При ошибке сессия сама
	// возвращается к последней примененной конфигурации.
	CommitConfiguration() error

	AddInput(device CaptureDevice) error
	RemoveInput(deviceID string) error
	AddOutput(output OutputKind) error
	RemoveOutput(output OutputKind) error
	CanSetPreset(preset Preset) bool
	SetPreset(preset Preset) error

	Start() error
	Stop() error

	SetBufferHandler(h BufferHandler)
	SetRuntimeErrorHandler(h func(err error))

	// Control возвращает управление параметрами подключенной камеры
	Control(deviceID string) (DeviceControl, error)

	// CapturePhoto запускает снимок; done вызывается ровно один раз из контекста завершения
	CapturePhoto(deviceID string, settings PhotoSettings, done func(Photo, error))
}

// DeviceControl управление параметрами камеры
type DeviceControl interface {
	SetZoom(factor float64) error
	SetFocus(mode FocusMode, point *Point) error
	SetExposure(mode ExposureMode, point *Point) error
	SetFlash(mode FlashMode) error
	SetExposureBias(ev float64) error
}

// WriterFactory открывает писатель медиаконтейнера
type WriterFactory interface {
	Open(destination string, tracks []TrackSpec) (MediaWriter, error)
}

// MediaWriter писатель контейнера. Должен допускать небольшой разброс порядка Append
// во время дренажа при остановке.
type MediaWriter interface {
	Append(track BufferKind, buf SampleBuffer) error
	Finish() (string, error)
	// Cancel отбрасывает частично записанный результат
	Cancel() error
}

// SessionHandle то, что получает поверхность превью
type SessionHandle interface {
	Subscribe(position Position, fn BufferHandler) (unsubscribe func())
	Snapshot() *SessionSnapshot
}

// PreviewSurface отображает кадры сессии
type PreviewSurface interface {
	Attach(handle SessionHandle)
	Detach()
}

// PhotoStitcher склеивает снимки с нескольких камер
type PhotoStitcher interface {
	Stitch(photos []Photo) (Photo, error)
}
