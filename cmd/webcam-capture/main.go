package main

import (
	"fmt"
	"log"

	"webcam-capture/internal/application"
	"webcam-capture/internal/domain"
	"webcam-capture/internal/infrastructure/camera"
	"webcam-capture/internal/infrastructure/logger"
	"webcam-capture/internal/infrastructure/streaming"
	"webcam-capture/internal/infrastructure/writer"
	"webcam-capture/internal/presentation/cli"
)

func main() {
	// Создаем CLI интерфейс для парсинга флагов
	cliApp := cli.NewCLI(nil, nil, nil)

	// Парсим флаги и загружаем конфигурацию
	config, err := cliApp.ParseFlags()
	if err != nil {
		log.Fatalf("Ошибка конфигурации: %v", err)
	}

	// Инициализируем логгер
	zapLogger, err := logger.NewZapLogger(config.Debug)
	if err != nil {
		log.Fatalf("Ошибка инициализации логгера: %v", err)
	}
	defer zapLogger.Sync()

	// Инициализируем инфраструктурные компоненты
	hardware := camera.NewMediaDevicesHardware(camera.Config{
		FrontLabel:       config.Devices.FrontLabel,
		BackLabel:        config.Devices.BackLabel,
		AllowMultiCam:    config.Devices.AllowMultiCam,
		Width:            config.Capture.Width,
		Height:           config.Capture.Height,
		FrameRate:        config.Capture.FPS,
		BitRate:          config.Capture.BitRate,
		KeyFrameInterval: config.Capture.KeyFrameInterval,
		AudioBitRate:     config.Capture.AudioBitRate,
		MaxZoom:          config.Adjustment.MaxZoom,
		VideoCodec:       config.Capture.VideoCodec,
	}, zapLogger)
	writers := writer.NewFactory(zapLogger)

	var preview domain.PreviewSurface
	if config.Preview.Enabled {
		preview = streaming.NewWebSocketPreview(fmt.Sprintf("ws://%s/ws", config.Preview.Addr), zapLogger, config.Debug)
	}

	// Инициализируем сервис приложения
	service := application.NewCameraService(hardware, writers, zapLogger, application.Options{
		IngestQueueSize:  config.Recording.IngestQueueSize,
		ZoomRampDuration: config.Adjustment.ZoomRampDuration,
		ZoomRampSteps:    config.Adjustment.ZoomRampSteps,
		OutputDir:        config.Recording.OutputDir,
		VideoCodec:       config.Capture.VideoCodec,
		AudioChannels:    uint16(config.Capture.AudioChannels),
	})

	// Внедряем сервис в CLI без повторного парсинга флагов
	cliApp = cli.NewCLI(service, preview, zapLogger)
	cliApp.SetConfig(config)

	// Запускаем CLI
	if err := cliApp.Run(); err != nil {
		zapLogger.Error("Ошибка: %v", err)
		zapLogger.Sync()
		log.Fatalf("Ошибка: %v", err)
	}
}
