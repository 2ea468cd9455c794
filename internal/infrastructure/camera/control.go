package camera

import (
	"sync"

	"webcam-capture/internal/application"
	"webcam-capture/internal/domain"
)

// deviceControl хранит параметры камеры. Драйверы mediadevices не дают управлять
// оптикой веб-камер, поэтому значения применяются к метаданным снимков.
type deviceControl struct {
	device domain.CaptureDevice
	logger application.Logger

	mu           sync.Mutex
	zoom         float64
	focusMode    domain.FocusMode
	focusPoint   *domain.Point
	exposureMode domain.ExposureMode
	exposurePt   *domain.Point
	flash        domain.FlashMode
	bias         float64
}

func newDeviceControl(device domain.CaptureDevice, logger application.Logger) *deviceControl {
	return &deviceControl{
		device:       device,
		logger:       logger,
		zoom:         1,
		focusMode:    domain.FocusContinuousAuto,
		exposureMode: domain.ExposureContinuousAuto,
	}
}

func (c *deviceControl) SetZoom(factor float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.zoom = factor
	c.logger.Debug("Камера %s: зум %.2f", c.device.ID, factor)
	return nil
}

func (c *deviceControl) SetFocus(mode domain.FocusMode, point *domain.Point) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.focusMode = mode
	c.focusPoint = point
	return nil
}

func (c *deviceControl) SetExposure(mode domain.ExposureMode, point *domain.Point) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.exposureMode = mode
	c.exposurePt = point
	return nil
}

func (c *deviceControl) SetFlash(mode domain.FlashMode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flash = mode
	return nil
}

func (c *deviceControl) SetExposureBias(ev float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bias = ev
	c.logger.Debug("Камера %s: EV %.2f", c.device.ID, ev)
	return nil
}

// Zoom текущий зум
func (c *deviceControl) Zoom() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.zoom
}
