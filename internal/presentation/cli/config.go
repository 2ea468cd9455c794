package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"webcam-capture/internal/domain"
)

// Config представляет конфигурацию приложения
type Config struct {
	Session    SessionSection    `mapstructure:"session"`
	Capture    CaptureSection    `mapstructure:"capture"`
	Recording  RecordingSection  `mapstructure:"recording"`
	Adjustment AdjustmentSection `mapstructure:"adjustment"`
	Preview    PreviewSection    `mapstructure:"preview"`
	Devices    DevicesSection    `mapstructure:"devices"`

	// только из флагов
	ConfigFile  string `mapstructure:"-"`
	Debug       bool   `mapstructure:"-"`
	ListDevices bool   `mapstructure:"-"`
}

// SessionSection начальная конфигурация сессии
type SessionSection struct {
	Preset     string `mapstructure:"preset" validate:"omitempty,oneof=photo high medium 640x480 1280x720 1920x1080"`
	Position   string `mapstructure:"position" validate:"oneof=back front"`
	DeviceType string `mapstructure:"device_type" validate:"oneof=single dual"`
	Mode       string `mapstructure:"mode" validate:"oneof=photo video"`
}

// CaptureSection параметры захвата и кодирования
type CaptureSection struct {
	Width            int    `mapstructure:"width" validate:"gte=0"`
	Height           int    `mapstructure:"height" validate:"gte=0"`
	FPS              int    `mapstructure:"fps" validate:"gt=0,lte=120"`
	BitRate          int    `mapstructure:"bitrate" validate:"gt=0"`
	KeyFrameInterval int    `mapstructure:"gop" validate:"gte=0"`
	AudioBitRate     int    `mapstructure:"audio_bitrate" validate:"gte=0"`
	AudioChannels    int    `mapstructure:"audio_channels" validate:"oneof=1 2"`
	VideoCodec       string `mapstructure:"video_codec" validate:"oneof=h264 vp8"`
}

// RecordingSection параметры записи
type RecordingSection struct {
	OutputDir       string `mapstructure:"output_dir" validate:"required"`
	IngestQueueSize int    `mapstructure:"ingest_queue_size" validate:"gte=0"`
}

// AdjustmentSection параметры регулировок
type AdjustmentSection struct {
	ZoomRampDuration time.Duration `mapstructure:"zoom_ramp_duration" validate:"gte=0"`
	ZoomRampSteps    int           `mapstructure:"zoom_ramp_steps" validate:"gte=0"`
	MaxZoom          float64       `mapstructure:"max_zoom" validate:"gte=1"`
}

// PreviewSection параметры удаленного превью
type PreviewSection struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr" validate:"required_if=Enabled true"`
}

// DevicesSection сопоставление камер и позиций
type DevicesSection struct {
	FrontLabel    string `mapstructure:"front_label"`
	BackLabel     string `mapstructure:"back_label"`
	AllowMultiCam bool   `mapstructure:"allow_multi_cam"`
}

// LoadConfig читает конфигурацию из файла (если указан), переменных окружения WEBCAM_*
// и значений по умолчанию, затем проверяет ее
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("WEBCAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefault(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("чтение конфигурации %s: %w", path, err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("разбор конфигурации: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(&config); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidConfig, err)
	}
	config.ConfigFile = path
	return &config, nil
}

func setDefault(v *viper.Viper) {
	v.SetDefault("session.preset", "")
	v.SetDefault("session.position", "back")
	v.SetDefault("session.device_type", "single")
	v.SetDefault("session.mode", "photo")

	v.SetDefault("capture.width", 640)
	v.SetDefault("capture.height", 480)
	v.SetDefault("capture.fps", 30)
	v.SetDefault("capture.bitrate", 1_000_000)
	v.SetDefault("capture.gop", 60) // Keyframe каждые 2 секунды при 30 fps
	v.SetDefault("capture.audio_bitrate", 64_000)
	v.SetDefault("capture.audio_channels", 1)
	v.SetDefault("capture.video_codec", "h264")

	v.SetDefault("recording.output_dir", "recordings")
	v.SetDefault("recording.ingest_queue_size", 256)

	v.SetDefault("adjustment.zoom_ramp_duration", "300ms")
	v.SetDefault("adjustment.zoom_ramp_steps", 10)
	v.SetDefault("adjustment.max_zoom", 4.0)

	v.SetDefault("preview.enabled", false)
	v.SetDefault("preview.addr", "localhost:8080")

	v.SetDefault("devices.front_label", "")
	v.SetDefault("devices.back_label", "")
	v.SetDefault("devices.allow_multi_cam", false)
}

// SessionConfig начальная конфигурация сессии
func (c *Config) SessionConfig() (domain.SessionConfig, error) {
	position, err := domain.ParsePosition(c.Session.Position)
	if err != nil {
		return domain.SessionConfig{}, err
	}
	deviceType, err := domain.ParseDeviceType(c.Session.DeviceType)
	if err != nil {
		return domain.SessionConfig{}, err
	}
	mode, err := domain.ParseMode(c.Session.Mode)
	if err != nil {
		return domain.SessionConfig{}, err
	}
	return domain.SessionConfig{
		Preset:   domain.Preset(c.Session.Preset),
		Position: position,
		Type:     deviceType,
		Mode:     mode,
	}, nil
}
