package application

import (
	"context"

	"webcam-capture/internal/domain"
)

// ModeController переключает режим фото/видео.
// Перенастройку выполняет координатор; после коммита маршрутизация буферов
// отдает видео и звук записи только в режиме видео.
type ModeController struct {
	coord      *SessionCoordinator
	recorder   recordingControl
	dispatcher *Dispatcher
	logger     Logger
}

// NewModeController создает контроллер режима
func NewModeController(coord *SessionCoordinator, recorder recordingControl, dispatcher *Dispatcher, logger Logger) *ModeController {
	return &ModeController{coord: coord, recorder: recorder, dispatcher: dispatcher, logger: logger}
}

// Mode текущий режим
func (m *ModeController) Mode() domain.Mode {
	return m.coord.Snapshot().Mode()
}

// ChangeMode переключает режим. Пустой presetOverride означает пресет по умолчанию для режима.
// Во время записи переключение отклоняется, запись продолжается.
func (m *ModeController) ChangeMode(ctx context.Context, target domain.Mode, presetOverride domain.Preset) error {
	var err error
	if qerr := m.coord.do(func() {
		if m.coord.state == domain.SessionUnconfigured {
			err = &domain.ConfigurationError{Op: "change-mode", Err: domain.ErrSessionNotConfigured}
			return
		}
		if m.recorder.State().InProgress() {
			err = &domain.ConfigurationError{Op: "change-mode", Err: domain.ErrModeChangeDuringRecording}
			return
		}
		current := m.coord.config
		if current.Mode == target && (presetOverride == "" || presetOverride == current.Preset) {
			return
		}
		res := m.coord.reconfigure(ctx, current.WithMode(target, presetOverride))
		if !res.OK() {
			err = res.Err
			return
		}
		m.logger.Info("Режим переключен на %s", target)
		m.dispatcher.Emit(Event{Kind: EventModeChanged, Mode: target})
	}); qerr != nil {
		err = qerr
	}

	if err != nil {
		m.logger.Error("Не удалось переключить режим на %s: %v", target, err)
		m.coord.reportError(err)
	}
	return err
}
