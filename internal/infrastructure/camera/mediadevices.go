package camera

import (
	"context"
	"strings"
	"time"

	"github.com/pion/mediadevices"
	_ "github.com/pion/mediadevices/pkg/driver/camera"     // Регистрируем драйвер камеры
	_ "github.com/pion/mediadevices/pkg/driver/microphone" // Регистрируем драйвер микрофона

	"webcam-capture/internal/application"
	"webcam-capture/internal/domain"
)

// Config параметры оборудования и захвата
type Config struct {
	FrontLabel       string
	BackLabel        string
	AllowMultiCam    bool
	Width            int
	Height           int
	FrameRate        int
	BitRate          int
	KeyFrameInterval int
	AudioBitRate     int
	MaxZoom          float64
	// VideoCodec кодек видео: h264 (по умолчанию) или vp8
	VideoCodec string
}

// MediaDevicesHardware реализация domain.Hardware с использованием библиотеки mediadevices
type MediaDevicesHardware struct {
	logger    application.Logger
	config    Config
	clock     monotonicClock
	enumerate func() []mediadevices.MediaDeviceInfo
}

// NewMediaDevicesHardware создает оборудование поверх mediadevices
func NewMediaDevicesHardware(config Config, logger application.Logger) *MediaDevicesHardware {
	if config.MaxZoom < 1 {
		config.MaxZoom = 1
	}
	if config.FrameRate <= 0 {
		config.FrameRate = 30
	}
	return &MediaDevicesHardware{
		logger:    logger,
		config:    config,
		clock:     monotonicClock{start: time.Now()},
		enumerate: mediadevices.EnumerateDevices,
	}
}

// monotonicClock время от создания оборудования
type monotonicClock struct {
	start time.Time
}

// Now реализует domain.Clock
func (c monotonicClock) Now() time.Duration {
	return time.Since(c.start)
}

// Clock реализует domain.Hardware
func (h *MediaDevicesHardware) Clock() domain.Clock {
	return h.clock
}

// Authorize реализует domain.Hardware. На настольных системах доступ определяется
// правами на устройство и проверяется при открытии, поэтому здесь проверяется только,
// что система вообще отдает устройства захвата.
func (h *MediaDevicesHardware) Authorize(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, d := range h.enumerate() {
		if d.Kind == mediadevices.VideoInput {
			return nil
		}
	}
	return domain.ErrAuthorizationDenied
}

// Devices возвращает список доступных устройств захвата
func (h *MediaDevicesHardware) Devices(ctx context.Context) ([]domain.CaptureDevice, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	infos := h.enumerate()
	result := make([]domain.CaptureDevice, 0, len(infos))

	var cameras []int
	for _, info := range infos {
		switch info.Kind {
		case mediadevices.VideoInput:
			result = append(result, domain.CaptureDevice{
				ID:           info.DeviceID,
				Label:        info.Label,
				Kind:         domain.KindVideo,
				Position:     h.positionByLabel(info.Label),
				Capabilities: h.capabilities(),
			})
			cameras = append(cameras, len(result)-1)
		case mediadevices.AudioInput:
			result = append(result, domain.CaptureDevice{
				ID:    info.DeviceID,
				Label: info.Label,
				Kind:  domain.KindAudio,
			})
		}
	}

	assignPositions(result, cameras)
	h.logger.Debug("Найдено устройств: %d (камер %d)", len(result), len(cameras))
	return result, nil
}

// MultiCamSupported реализует domain.Hardware
func (h *MediaDevicesHardware) MultiCamSupported() bool {
	if !h.config.AllowMultiCam {
		return false
	}
	n := 0
	for _, d := range h.enumerate() {
		if d.Kind == mediadevices.VideoInput {
			n++
		}
	}
	return n >= 2
}

// NewSession реализует domain.Hardware
func (h *MediaDevicesHardware) NewSession() (domain.CaptureSession, error) {
	return newMediaSession(h), nil
}

func (h *MediaDevicesHardware) positionByLabel(label string) domain.Position {
	l := strings.ToLower(label)
	if h.config.FrontLabel != "" && strings.Contains(l, strings.ToLower(h.config.FrontLabel)) {
		return domain.PositionFront
	}
	if h.config.BackLabel != "" && strings.Contains(l, strings.ToLower(h.config.BackLabel)) {
		return domain.PositionBack
	}
	return domain.PositionUnspecified
}

func (h *MediaDevicesHardware) capabilities() domain.Capabilities {
	return domain.Capabilities{
		MinZoom:         1,
		MaxZoom:         h.config.MaxZoom,
		FocusModes:      []domain.FocusMode{domain.FocusContinuousAuto},
		ExposureModes:   []domain.ExposureMode{domain.ExposureContinuousAuto},
		MinExposureBias: -2,
		MaxExposureBias: 2,
	}
}

// assignPositions раздает позиции камерам без метки: первая свободная задняя, следующая фронтальная
func assignPositions(devices []domain.CaptureDevice, cameras []int) {
	taken := map[domain.Position]bool{}
	for _, i := range cameras {
		if p := devices[i].Position; p != domain.PositionUnspecified {
			taken[p] = true
		}
	}
	for _, i := range cameras {
		if devices[i].Position != domain.PositionUnspecified {
			continue
		}
		for _, p := range []domain.Position{domain.PositionBack, domain.PositionFront} {
			if !taken[p] {
				devices[i].Position = p
				taken[p] = true
				break
			}
		}
	}
}
