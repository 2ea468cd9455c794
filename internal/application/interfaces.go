package application

import (
	"webcam-capture/internal/domain"
)

// Logger интерфейс для логирования
type Logger interface {
	Info(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
}

// EventKind тип события для наблюдателя
type EventKind uint32

const (
	EventSessionSetup EventKind = 1 << iota
	EventStarted
	EventStopped
	EventPhoto
	EventRecordResult
	EventPositionChanged
	EventModeChanged
	EventFocusChanged
	EventZoomChanged
	EventExposureChanged
	EventFlashChanged
	EventEVChanged
	EventWillCapturePhoto
	EventRecordState
	EventError
)

// EventMask набор событий, которые реализует наблюдатель
type EventMask = EventKind

// MandatoryEvents события жизненного цикла и терминальные результаты.
// Доставляются любому зарегистрированному наблюдателю независимо от маски.
const MandatoryEvents = EventSessionSetup | EventStarted | EventStopped | EventPhoto | EventRecordResult

// AllEvents маска со всеми событиями
const AllEvents EventMask = 1<<15 - 1

func (k EventKind) String() string {
	switch k {
	case EventSessionSetup:
		return "session-setup"
	case EventStarted:
		return "started"
	case EventStopped:
		return "stopped"
	case EventPhoto:
		return "photo"
	case EventRecordResult:
		return "record-result"
	case EventPositionChanged:
		return "position"
	case EventModeChanged:
		return "mode"
	case EventFocusChanged:
		return "focus"
	case EventZoomChanged:
		return "zoom"
	case EventExposureChanged:
		return "exposure"
	case EventFlashChanged:
		return "flash"
	case EventEVChanged:
		return "ev"
	case EventWillCapturePhoto:
		return "will-capture-photo"
	case EventRecordState:
		return "record-state"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event событие сессии. Заполнены только поля, относящиеся к Kind.
type Event struct {
	Kind EventKind

	Setup        domain.SetupResult
	Position     domain.Position
	Mode         domain.Mode
	Point        *domain.Point
	FocusMode    domain.FocusMode
	ExposureMode domain.ExposureMode
	FlashMode    domain.FlashMode
	Value        float64
	RecordState  domain.RecordState
	Photo        *domain.PhotoResult
	Record       *domain.RecordResult
	Err          error
}

// Observer единственный наблюдатель сессии.
// Events сообщает, какие необязательные события ему нужны.
type Observer interface {
	Events() EventMask
	HandleEvent(ev Event)
}

// ObserverFunc адаптер функции к Observer
type ObserverFunc struct {
	Mask EventMask
	Fn   func(ev Event)
}

// Events реализует Observer
func (o ObserverFunc) Events() EventMask { return o.Mask }

// HandleEvent реализует Observer
func (o ObserverFunc) HandleEvent(ev Event) { o.Fn(ev) }
