package domain

import (
	"fmt"
	"time"
)

// Position положение камеры на устройстве
type Position int

const (
	PositionUnspecified Position = iota
	PositionBack
	PositionFront
)

func (p Position) String() string {
	switch p {
	case PositionBack:
		return "back"
	case PositionFront:
		return "front"
	default:
		return "unspecified"
	}
}

// Opposite возвращает противоположную позицию
func (p Position) Opposite() Position {
	switch p {
	case PositionBack:
		return PositionFront
	case PositionFront:
		return PositionBack
	default:
		return PositionUnspecified
	}
}

// ParsePosition разбирает позицию из строки конфигурации
func ParsePosition(s string) (Position, error) {
	switch s {
	case "back", "":
		return PositionBack, nil
	case "front":
		return PositionFront, nil
	}
	return PositionUnspecified, fmt.Errorf("неизвестная позиция камеры: %q", s)
}

// DeviceKind тип физического устройства захвата
type DeviceKind int

const (
	KindVideo DeviceKind = iota
	KindAudio
)

// DeviceType одиночная камера или связка из двух камер
type DeviceType int

const (
	SingleDevice DeviceType = iota
	DualDevice
)

func (t DeviceType) String() string {
	if t == DualDevice {
		return "dual"
	}
	return "single"
}

// ParseDeviceType разбирает тип устройства из строки конфигурации
func ParseDeviceType(s string) (DeviceType, error) {
	switch s {
	case "single", "":
		return SingleDevice, nil
	case "dual":
		return DualDevice, nil
	}
	return SingleDevice, fmt.Errorf("неизвестный тип устройства: %q", s)
}

// Mode режим работы камеры
type Mode int

const (
	ModePhoto Mode = iota
	ModeVideo
	ModeUnspecified
)

func (m Mode) String() string {
	switch m {
	case ModePhoto:
		return "photo"
	case ModeVideo:
		return "video"
	default:
		return "unspecified"
	}
}

// ParseMode разбирает режим из строки конфигурации
func ParseMode(s string) (Mode, error) {
	switch s {
	case "photo", "":
		return ModePhoto, nil
	case "video":
		return ModeVideo, nil
	}
	return ModeUnspecified, fmt.Errorf("неизвестный режим: %q", s)
}

// Preset пресет качества сессии
type Preset string

const (
	PresetPhoto     Preset = "photo"
	PresetHigh      Preset = "high"
	PresetMedium    Preset = "medium"
	Preset640x480   Preset = "640x480"
	Preset1280x720  Preset = "1280x720"
	Preset1920x1080 Preset = "1920x1080"
)

// Dimensions возвращает размер кадра для пресета
func (p Preset) Dimensions() (width, height int, ok bool) {
	switch p {
	case Preset640x480, PresetMedium:
		return 640, 480, true
	case Preset1280x720, PresetHigh:
		return 1280, 720, true
	case Preset1920x1080, PresetPhoto:
		return 1920, 1080, true
	}
	return 0, 0, false
}

// DefaultPreset пресет по умолчанию для режима
func DefaultPreset(m Mode) Preset {
	if m == ModeVideo {
		return PresetHigh
	}
	return PresetPhoto
}

// FocusMode режим фокусировки
type FocusMode int

const (
	FocusLocked FocusMode = iota
	FocusAuto
	FocusContinuousAuto
)

// ExposureMode режим экспозиции
type ExposureMode int

const (
	ExposureLocked ExposureMode = iota
	ExposureAuto
	ExposureContinuousAuto
	ExposureCustom
)

// FlashMode режим вспышки
type FlashMode int

const (
	FlashOff FlashMode = iota
	FlashOn
	FlashAuto
)

// Point нормализованная точка интереса (0..1 по обеим осям)
type Point struct {
	X float64
	Y float64
}

// Capabilities диапазоны и режимы, поддерживаемые устройством
type Capabilities struct {
	MinZoom                 float64
	MaxZoom                 float64
	FocusModes              []FocusMode
	FocusPointOfInterest    bool
	ExposureModes           []ExposureMode
	ExposurePointOfInterest bool
	HasFlash                bool
	MinExposureBias         float64
	MaxExposureBias         float64
}

// SupportsFocus проверяет поддержку режима фокусировки
func (c Capabilities) SupportsFocus(m FocusMode) bool {
	for _, fm := range c.FocusModes {
		if fm == m {
			return true
		}
	}
	return false
}

// SupportsExposure проверяет поддержку режима экспозиции
func (c Capabilities) SupportsExposure(m ExposureMode) bool {
	for _, em := range c.ExposureModes {
		if em == m {
			return true
		}
	}
	return false
}

// CaptureDevice неизменяемый снимок выбранного устройства захвата.
// Для DualDevice поле Members содержит физические камеры, первая из них основная.
type CaptureDevice struct {
	ID           string
	Label        string
	Kind         DeviceKind
	Position     Position
	Type         DeviceType
	Capabilities Capabilities
	Members      []CaptureDevice
}

// Physical возвращает физические камеры, из которых состоит устройство
func (d CaptureDevice) Physical() []CaptureDevice {
	if d.Type == DualDevice && len(d.Members) > 0 {
		return d.Members
	}
	return []CaptureDevice{d}
}

// Primary возвращает основную физическую камеру
func (d CaptureDevice) Primary() CaptureDevice {
	return d.Physical()[0]
}

// PreviewGeometry размещение превью для конкретной позиции
type PreviewGeometry struct {
	X      int
	Y      int
	Width  int `validate:"gte=0"`
	Height int `validate:"gte=0"`
}

// SessionConfig желаемая конфигурация сессии. Не изменяется на месте:
// любое изменение порождает новый SessionConfig и транзакцию перенастройки.
type SessionConfig struct {
	Preset   Preset
	Position Position                     `validate:"oneof=1 2"`
	Type     DeviceType                   `validate:"oneof=0 1"`
	Mode     Mode                         `validate:"oneof=0 1"`
	Previews map[Position]PreviewGeometry `validate:"dive"`
}

// WithMode возвращает копию конфигурации с другим режимом и пресетом
func (c SessionConfig) WithMode(m Mode, preset Preset) SessionConfig {
	next := c.clone()
	next.Mode = m
	next.Preset = preset
	return next
}

// WithPosition возвращает копию конфигурации с другой позицией
func (c SessionConfig) WithPosition(p Position) SessionConfig {
	next := c.clone()
	next.Position = p
	return next
}

// WithType возвращает копию конфигурации с другим типом устройства
func (c SessionConfig) WithType(t DeviceType) SessionConfig {
	next := c.clone()
	next.Type = t
	return next
}

// EffectivePreset пресет с учетом значения по умолчанию для режима
func (c SessionConfig) EffectivePreset() Preset {
	if c.Preset == "" {
		return DefaultPreset(c.Mode)
	}
	return c.Preset
}

func (c SessionConfig) clone() SessionConfig {
	next := c
	if c.Previews != nil {
		next.Previews = make(map[Position]PreviewGeometry, len(c.Previews))
		for k, v := range c.Previews {
			next.Previews[k] = v
		}
	}
	return next
}

// OutputKind выход сессии захвата
type OutputKind int

const (
	OutputVideoData OutputKind = iota
	OutputAudioData
	OutputPhoto
)

func (o OutputKind) String() string {
	switch o {
	case OutputVideoData:
		return "video-data"
	case OutputAudioData:
		return "audio-data"
	case OutputPhoto:
		return "photo"
	default:
		return "unknown"
	}
}

// BufferKind тип сэмпла
type BufferKind int

const (
	BufferVideo BufferKind = iota
	BufferAudio
)

func (k BufferKind) String() string {
	if k == BufferAudio {
		return "audio"
	}
	return "video"
}

// SampleBuffer сэмпл с меткой времени от оборудования. Никогда не изменяется, только передается дальше.
type SampleBuffer struct {
	Kind      BufferKind
	Timestamp time.Duration // по часам оборудования
	Duration  time.Duration
	Data      []byte
	DeviceID  string
	Position  Position
}

// WithTimestamp возвращает копию сэмпла с другой меткой времени
func (b SampleBuffer) WithTimestamp(ts time.Duration) SampleBuffer {
	b.Timestamp = ts
	return b
}

// Control регулируемый параметр устройства
type Control int

const (
	ControlFocus Control = iota
	ControlExposure
	ControlZoom
	ControlFlash
	ControlEV
)

func (c Control) String() string {
	switch c {
	case ControlFocus:
		return "focus"
	case ControlExposure:
		return "exposure"
	case ControlZoom:
		return "zoom"
	case ControlFlash:
		return "flash"
	case ControlEV:
		return "ev"
	default:
		return "unknown"
	}
}

// AdjustmentRequest запрос на изменение параметра активного устройства
type AdjustmentRequest struct {
	Control      Control
	Value        float64
	Point        *Point
	FocusMode    FocusMode
	ExposureMode ExposureMode
	FlashMode    FlashMode
	Animated     bool
}

// PhotoSettings параметры одного снимка
type PhotoSettings struct {
	Flash FlashMode
}

// Photo результат снимка с одной камеры
type Photo struct {
	DeviceID string
	Position Position
	Data     []byte
	Format   string
	Width    int
	Height   int
	Metadata map[string]string
}

// PhotoResult терминальный результат запроса на снимок
type PhotoResult struct {
	RequestID string
	Photos    []Photo
	Combined  *Photo
	Err       error
}

// RecordState состояние сессии записи
type RecordState int

const (
	RecordIdle RecordState = iota
	RecordRecording
	RecordPaused
	RecordFinalizing
	RecordFinished
	RecordFailed
)

func (s RecordState) String() string {
	switch s {
	case RecordIdle:
		return "idle"
	case RecordRecording:
		return "recording"
	case RecordPaused:
		return "paused"
	case RecordFinalizing:
		return "finalizing"
	case RecordFinished:
		return "finished"
	case RecordFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// InProgress true, пока сессия записи не завершена
func (s RecordState) InProgress() bool {
	return s == RecordRecording || s == RecordPaused || s == RecordFinalizing
}

// RecordResult терминальный результат сессии записи, доставляется ровно один раз
type RecordResult struct {
	SessionID     string
	Location      string
	Success       bool
	Err           error
	VideoDuration time.Duration
	AudioDuration time.Duration
	VideoSamples  int
	AudioSamples  int
	Dropped       int
}

// TrackSpec описание дорожки для писателя
type TrackSpec struct {
	Kind      BufferKind
	Codec     string
	ClockRate uint32
	Channels  uint16
}

// SetupStatus итог настройки сессии
type SetupStatus int

const (
	SetupSuccess SetupStatus = iota
	SetupAuthorizationDenied
	SetupConfigurationFailed
)

func (s SetupStatus) String() string {
	switch s {
	case SetupSuccess:
		return "success"
	case SetupAuthorizationDenied:
		return "authorization-denied"
	case SetupConfigurationFailed:
		return "configuration-failed"
	default:
		return "unknown"
	}
}

// SetupResult результат configure/reconfigure
type SetupResult struct {
	Status SetupStatus
	Err    error
}

// OK true при успешной настройке
func (r SetupResult) OK() bool { return r.Status == SetupSuccess }

// SessionState состояние сессии захвата
type SessionState int

const (
	SessionUnconfigured SessionState = iota
	SessionConfiguring
	SessionRunning
	SessionStopped
)

func (s SessionState) String() string {
	switch s {
	case SessionUnconfigured:
		return "unconfigured"
	case SessionConfiguring:
		return "configuring"
	case SessionRunning:
		return "running"
	case SessionStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// SessionSnapshot неизменяемый снимок состояния, публикуется после коммита транзакции
type SessionSnapshot struct {
	State      SessionState
	Config     SessionConfig
	Device     CaptureDevice
	Microphone *CaptureDevice
	Preset     Preset
	Outputs    []OutputKind
	Zoom       float64
	Flash      FlashMode
	EV         float64
}

// Mode текущий режим; ModeUnspecified до первой настройки
func (s *SessionSnapshot) Mode() Mode {
	if s == nil || s.State == SessionUnconfigured {
		return ModeUnspecified
	}
	return s.Config.Mode
}
