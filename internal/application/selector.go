package application

import (
	"context"
	"fmt"

	"webcam-capture/internal/domain"
)

// DeviceSelector выбирает физическое устройство по позиции и типу.
// Выбор не затрагивает живую сессию: подключением занимается координатор.
type DeviceSelector struct {
	hardware domain.Hardware
	logger   Logger
}

// NewDeviceSelector создает селектор устройств
func NewDeviceSelector(hardware domain.Hardware, logger Logger) *DeviceSelector {
	return &DeviceSelector{hardware: hardware, logger: logger}
}

// Selection выбранное устройство вместе со стратегией работы с ним
type Selection struct {
	Device     domain.CaptureDevice
	Microphone *domain.CaptureDevice
	strategy   deviceStrategy
}

// ListDevices возвращает все доступные устройства
func (s *DeviceSelector) ListDevices(ctx context.Context) ([]domain.CaptureDevice, error) {
	devices, err := s.hardware.Devices(ctx)
	if err != nil {
		return nil, fmt.Errorf("перечисление устройств: %w", err)
	}
	return devices, nil
}

// SelectDevice выбирает камеру для позиции и типа
func (s *DeviceSelector) SelectDevice(ctx context.Context, position domain.Position, deviceType domain.DeviceType) (domain.CaptureDevice, error) {
	sel, err := s.selectCamera(ctx, position, deviceType)
	if err != nil {
		return domain.CaptureDevice{}, err
	}
	return sel.Device, nil
}

// Select выбирает камеру, микрофон (для режима видео) и стратегию
func (s *DeviceSelector) Select(ctx context.Context, cfg domain.SessionConfig) (Selection, error) {
	sel, err := s.selectCamera(ctx, cfg.Position, cfg.Type)
	if err != nil {
		return Selection{}, err
	}
	if cfg.Mode == domain.ModeVideo {
		mic, err := s.selectMicrophone(ctx)
		if err != nil {
			s.logger.Info("Микрофон недоступен, запись будет без звука: %v", err)
		} else {
			sel.Microphone = &mic
		}
	}
	return sel, nil
}

func (s *DeviceSelector) selectCamera(ctx context.Context, position domain.Position, deviceType domain.DeviceType) (Selection, error) {
	devices, err := s.ListDevices(ctx)
	if err != nil {
		return Selection{}, &domain.DeviceError{Op: "select", Position: position, Type: deviceType, Err: err}
	}

	switch deviceType {
	case domain.SingleDevice:
		cam, ok := findCamera(devices, position)
		if !ok {
			return Selection{}, &domain.DeviceError{Op: "select", Position: position, Type: deviceType, Err: domain.ErrNoMatchingDevice}
		}
		cam.Type = domain.SingleDevice
		s.logger.Debug("Выбрана камера %s (%s)", cam.ID, position)
		return Selection{Device: cam, strategy: singleDeviceStrategy{}}, nil

	case domain.DualDevice:
		if !s.hardware.MultiCamSupported() {
			return Selection{}, &domain.DeviceError{Op: "select", Position: position, Type: deviceType, Err: domain.ErrUnsupportedDeviceType}
		}
		primary, ok := findCamera(devices, position)
		if !ok {
			return Selection{}, &domain.DeviceError{Op: "select", Position: position, Type: deviceType, Err: domain.ErrNoMatchingDevice}
		}
		secondary, ok := findCamera(devices, position.Opposite())
		if !ok {
			return Selection{}, &domain.DeviceError{Op: "select", Position: position, Type: deviceType, Err: domain.ErrNoMatchingDevice}
		}
		dual := domain.CaptureDevice{
			ID:           primary.ID + "+" + secondary.ID,
			Label:        primary.Label + " + " + secondary.Label,
			Kind:         domain.KindVideo,
			Position:     position,
			Type:         domain.DualDevice,
			Capabilities: primary.Capabilities,
			Members:      []domain.CaptureDevice{primary, secondary},
		}
		s.logger.Debug("Выбрана пара камер %s", dual.ID)
		return Selection{Device: dual, strategy: dualDeviceStrategy{}}, nil
	}

	return Selection{}, &domain.DeviceError{Op: "select", Position: position, Type: deviceType, Err: domain.ErrUnsupportedDeviceType}
}

func (s *DeviceSelector) selectMicrophone(ctx context.Context) (domain.CaptureDevice, error) {
	devices, err := s.ListDevices(ctx)
	if err != nil {
		return domain.CaptureDevice{}, err
	}
	for _, d := range devices {
		if d.Kind == domain.KindAudio {
			return d, nil
		}
	}
	return domain.CaptureDevice{}, domain.ErrNoMicrophone
}

func findCamera(devices []domain.CaptureDevice, position domain.Position) (domain.CaptureDevice, bool) {
	for _, d := range devices {
		if d.Kind == domain.KindVideo && d.Position == position {
			return d, true
		}
	}
	return domain.CaptureDevice{}, false
}

// deviceStrategy поведение, зависящее от одиночной или двойной камеры
type deviceStrategy interface {
	// inputs камеры, которые нужно подключить к сессии
	inputs(device domain.CaptureDevice) []domain.CaptureDevice
	// photoTargets камеры, с которых снимается фото
	photoTargets(device domain.CaptureDevice) []domain.CaptureDevice
	// records сообщает, пишется ли видео с этой камеры
	records(device domain.CaptureDevice, deviceID string) bool
}

type singleDeviceStrategy struct{}

func (singleDeviceStrategy) inputs(device domain.CaptureDevice) []domain.CaptureDevice {
	return []domain.CaptureDevice{device}
}

func (singleDeviceStrategy) photoTargets(device domain.CaptureDevice) []domain.CaptureDevice {
	return []domain.CaptureDevice{device}
}

func (singleDeviceStrategy) records(device domain.CaptureDevice, deviceID string) bool {
	return device.ID == deviceID
}

type dualDeviceStrategy struct{}

func (dualDeviceStrategy) inputs(device domain.CaptureDevice) []domain.CaptureDevice {
	return device.Physical()
}

func (dualDeviceStrategy) photoTargets(device domain.CaptureDevice) []domain.CaptureDevice {
	return device.Physical()
}

// в двойной конфигурации пишется только основная камера
func (dualDeviceStrategy) records(device domain.CaptureDevice, deviceID string) bool {
	return device.Primary().ID == deviceID
}
