package domain

import (
	"errors"
	"fmt"
)

// Причины ошибок. Проверяются через errors.Is.
var (
	ErrAuthorizationDenied = errors.New("доступ к камере запрещен")

	ErrNoMatchingDevice      = errors.New("нет устройства для запрошенной позиции и типа")
	ErrUnsupportedDeviceType = errors.New("тип устройства не поддерживается оборудованием")
	ErrNoMicrophone          = errors.New("микрофон не найден")

	ErrInvalidConfig              = errors.New("некорректная конфигурация сессии")
	ErrPresetNotSupported         = errors.New("пресет не поддерживается устройством")
	ErrSessionNotConfigured       = errors.New("сессия не настроена")
	ErrSessionClosed              = errors.New("сессия закрыта")
	ErrModeChangeDuringRecording  = errors.New("нельзя сменить режим во время записи")
	ErrReconfigureDuringRecording = errors.New("нельзя перенастроить сессию во время записи")

	ErrNoActiveDevice              = errors.New("нет активного устройства")
	ErrPointOfInterestNotSupported = errors.New("режим или точка интереса не поддерживается устройством")
	ErrFlashNotSupported           = errors.New("вспышка не поддерживается устройством")
	ErrValueOutOfRange             = errors.New("значение вне допустимого диапазона")

	ErrCaptureAlreadyInProgress = errors.New("снимок уже выполняется")
	ErrNotInPhotoMode           = errors.New("камера не в режиме фото")

	ErrNotInVideoMode      = errors.New("камера не в режиме видео")
	ErrAlreadyRecording    = errors.New("запись уже идет")
	ErrNotRecording        = errors.New("запись не идет")
	ErrRecordingFinalizing = errors.New("запись завершается")
	ErrDeviceDisconnected  = errors.New("устройство отключено")
)

// AuthorizationError нет разрешения на доступ к устройству. Фатальна для настройки.
type AuthorizationError struct {
	Op  string
	Err error
}

func (e *AuthorizationError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *AuthorizationError) Unwrap() error { return e.Err }

// DeviceError запрошенное устройство недоступно
type DeviceError struct {
	Op       string
	Position Position
	Type     DeviceType
	Err      error
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("%s (%s/%s): %v", e.Op, e.Position, e.Type, e.Err)
}
func (e *DeviceError) Unwrap() error { return e.Err }

// ConfigurationError транзакция не применена, сессия откатилась к прежнему состоянию
type ConfigurationError struct {
	Op  string
	Err error
}

func (e *ConfigurationError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }
func (e *ConfigurationError) Unwrap() error { return e.Err }

// AdjustmentError значение отклонено; сессия продолжает работу
type AdjustmentError struct {
	Control Control
	Err     error
}

func (e *AdjustmentError) Error() string { return fmt.Sprintf("adjust %s: %v", e.Control, e.Err) }
func (e *AdjustmentError) Unwrap() error { return e.Err }

// CaptureError ошибка конкретного запроса на снимок
type CaptureError struct {
	RequestID string
	Err       error
}

func (e *CaptureError) Error() string {
	if e.RequestID == "" {
		return fmt.Sprintf("capture: %v", e.Err)
	}
	return fmt.Sprintf("capture %s: %v", e.RequestID, e.Err)
}
func (e *CaptureError) Unwrap() error { return e.Err }

// RecordingError ошибка писателя или буфера; терминальна для текущей сессии записи
type RecordingError struct {
	SessionID string
	Op        string
	Err       error
}

func (e *RecordingError) Error() string {
	if e.SessionID == "" {
		return fmt.Sprintf("record %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("record %s [%s]: %v", e.Op, e.SessionID, e.Err)
}
func (e *RecordingError) Unwrap() error { return e.Err }
