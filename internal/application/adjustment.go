package application

import (
	"fmt"
	"time"

	"webcam-capture/internal/domain"
)

const (
	defaultZoomRampDuration = 300 * time.Millisecond
	defaultZoomRampSteps    = 10
)

// AdjustmentController меняет параметры активного устройства.
// Все изменения выполняются в очереди сессии и не пересекаются с перенастройкой.
type AdjustmentController struct {
	coord      *SessionCoordinator
	dispatcher *Dispatcher
	logger     Logger

	rampDuration time.Duration
	rampSteps    int

	// принадлежит очереди; новый запрос зума отменяет идущую анимацию
	rampGen uint64
}

// NewAdjustmentController создает контроллер регулировок
func NewAdjustmentController(coord *SessionCoordinator, dispatcher *Dispatcher, logger Logger, rampDuration time.Duration, rampSteps int) *AdjustmentController {
	if rampDuration <= 0 {
		rampDuration = defaultZoomRampDuration
	}
	if rampSteps <= 0 {
		rampSteps = defaultZoomRampSteps
	}
	return &AdjustmentController{
		coord:        coord,
		dispatcher:   dispatcher,
		logger:       logger,
		rampDuration: rampDuration,
		rampSteps:    rampSteps,
	}
}

// Adjust применяет запрос и возвращает фактически примененное значение
func (a *AdjustmentController) Adjust(req domain.AdjustmentRequest) (float64, error) {
	var (
		applied float64
		err     error
	)
	if qerr := a.coord.do(func() {
		applied, err = a.adjust(req)
	}); qerr != nil {
		err = &domain.AdjustmentError{Control: req.Control, Err: qerr}
	}
	if err != nil {
		a.logger.Error("Регулировка %s отклонена: %v", req.Control, err)
		a.coord.reportError(err)
	}
	return applied, err
}

// SetZoom устанавливает зум; значение вне диапазона приводится к границе
func (a *AdjustmentController) SetZoom(factor float64, animated bool) (float64, error) {
	return a.Adjust(domain.AdjustmentRequest{Control: domain.ControlZoom, Value: factor, Animated: animated})
}

// Focus устанавливает режим фокусировки и, опционально, точку интереса
func (a *AdjustmentController) Focus(mode domain.FocusMode, point *domain.Point) error {
	_, err := a.Adjust(domain.AdjustmentRequest{Control: domain.ControlFocus, FocusMode: mode, Point: point})
	return err
}

// Exposure устанавливает режим экспозиции и, опционально, точку интереса
func (a *AdjustmentController) Exposure(mode domain.ExposureMode, point *domain.Point) error {
	_, err := a.Adjust(domain.AdjustmentRequest{Control: domain.ControlExposure, ExposureMode: mode, Point: point})
	return err
}

// SetFlash устанавливает режим вспышки
func (a *AdjustmentController) SetFlash(mode domain.FlashMode) error {
	_, err := a.Adjust(domain.AdjustmentRequest{Control: domain.ControlFlash, FlashMode: mode})
	return err
}

// SetEV устанавливает компенсацию экспозиции
func (a *AdjustmentController) SetEV(ev float64) (float64, error) {
	return a.Adjust(domain.AdjustmentRequest{Control: domain.ControlEV, Value: ev})
}

// adjust выполняется в очереди сессии
func (a *AdjustmentController) adjust(req domain.AdjustmentRequest) (float64, error) {
	snap := a.coord.Snapshot()
	if snap.State == domain.SessionUnconfigured || a.coord.session == nil {
		return 0, &domain.AdjustmentError{Control: req.Control, Err: domain.ErrNoActiveDevice}
	}
	device := snap.Device
	caps := device.Capabilities

	control, err := a.coord.session.Control(device.Primary().ID)
	if err != nil {
		return 0, &domain.AdjustmentError{Control: req.Control, Err: fmt.Errorf("%w: %v", domain.ErrNoActiveDevice, err)}
	}

	switch req.Control {
	case domain.ControlZoom:
		return a.zoom(control, snap, req)

	case domain.ControlFocus:
		if !caps.SupportsFocus(req.FocusMode) || (req.Point != nil && !caps.FocusPointOfInterest) {
			return 0, &domain.AdjustmentError{Control: req.Control, Err: domain.ErrPointOfInterestNotSupported}
		}
		if err := control.SetFocus(req.FocusMode, req.Point); err != nil {
			return 0, &domain.AdjustmentError{Control: req.Control, Err: err}
		}
		a.logger.Debug("Фокус: режим %d, точка %v", req.FocusMode, req.Point)
		a.dispatcher.Emit(Event{Kind: EventFocusChanged, FocusMode: req.FocusMode, Point: req.Point})
		return 0, nil

	case domain.ControlExposure:
		if !caps.SupportsExposure(req.ExposureMode) || (req.Point != nil && !caps.ExposurePointOfInterest) {
			return 0, &domain.AdjustmentError{Control: req.Control, Err: domain.ErrPointOfInterestNotSupported}
		}
		if err := control.SetExposure(req.ExposureMode, req.Point); err != nil {
			return 0, &domain.AdjustmentError{Control: req.Control, Err: err}
		}
		a.logger.Debug("Экспозиция: режим %d, точка %v", req.ExposureMode, req.Point)
		a.dispatcher.Emit(Event{Kind: EventExposureChanged, ExposureMode: req.ExposureMode, Point: req.Point})
		return 0, nil

	case domain.ControlFlash:
		if !caps.HasFlash && req.FlashMode != domain.FlashOff {
			return 0, &domain.AdjustmentError{Control: req.Control, Err: domain.ErrFlashNotSupported}
		}
		if err := control.SetFlash(req.FlashMode); err != nil {
			return 0, &domain.AdjustmentError{Control: req.Control, Err: err}
		}
		a.coord.update(func(s *domain.SessionSnapshot) { s.Flash = req.FlashMode })
		a.dispatcher.Emit(Event{Kind: EventFlashChanged, FlashMode: req.FlashMode})
		return float64(req.FlashMode), nil

	case domain.ControlEV:
		if req.Value < caps.MinExposureBias || req.Value > caps.MaxExposureBias {
			return 0, &domain.AdjustmentError{
				Control: req.Control,
				Err:     fmt.Errorf("%w: %.2f вне [%.2f, %.2f]", domain.ErrValueOutOfRange, req.Value, caps.MinExposureBias, caps.MaxExposureBias),
			}
		}
		if err := control.SetExposureBias(req.Value); err != nil {
			return 0, &domain.AdjustmentError{Control: req.Control, Err: err}
		}
		a.coord.update(func(s *domain.SessionSnapshot) { s.EV = req.Value })
		a.dispatcher.Emit(Event{Kind: EventEVChanged, Value: req.Value})
		return req.Value, nil
	}

	return 0, &domain.AdjustmentError{Control: req.Control, Err: fmt.Errorf("неизвестный параметр %d", req.Control)}
}

func (a *AdjustmentController) zoom(control domain.DeviceControl, snap *domain.SessionSnapshot, req domain.AdjustmentRequest) (float64, error) {
	caps := snap.Device.Capabilities
	target := clamp(req.Value, caps.MinZoom, caps.MaxZoom)
	if target != req.Value {
		a.logger.Debug("Зум %.2f приведен к %.2f", req.Value, target)
	}

	a.rampGen++
	gen := a.rampGen

	if !req.Animated || target == snap.Zoom {
		if err := a.applyZoom(control, target); err != nil {
			return 0, err
		}
		a.dispatcher.Emit(Event{Kind: EventZoomChanged, Value: target})
		return target, nil
	}

	from := snap.Zoom
	deviceID := snap.Device.ID
	interval := a.rampDuration / time.Duration(a.rampSteps)
	var step func(i int)
	step = func(i int) {
		// анимацию отменяет новый запрос или смена устройства
		if a.rampGen != gen || a.coord.Snapshot().Device.ID != deviceID {
			return
		}
		z := from + (target-from)*float64(i)/float64(a.rampSteps)
		if i == a.rampSteps {
			z = target
		}
		if err := a.applyZoom(control, z); err != nil {
			a.logger.Error("Анимация зума прервана: %v", err)
			a.coord.reportError(err)
			return
		}
		if i == a.rampSteps {
			a.dispatcher.Emit(Event{Kind: EventZoomChanged, Value: target})
			return
		}
		time.AfterFunc(interval, func() {
			_ = a.coord.queue.async(func() { step(i + 1) })
		})
	}
	step(1)
	return target, nil
}

func (a *AdjustmentController) applyZoom(control domain.DeviceControl, z float64) error {
	if err := control.SetZoom(z); err != nil {
		return &domain.AdjustmentError{Control: domain.ControlZoom, Err: err}
	}
	a.coord.update(func(s *domain.SessionSnapshot) { s.Zoom = z })
	return nil
}
