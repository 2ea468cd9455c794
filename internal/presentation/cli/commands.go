package cli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"webcam-capture/internal/application"
	"webcam-capture/internal/domain"
)

var errQuit = errors.New("quit")

// CLI представляет CLI интерфейс приложения
type CLI struct {
	service *application.CameraService
	preview domain.PreviewSurface
	logger  application.Logger
	config  *Config
	in      io.Reader
	out     io.Writer
}

// NewCLI создает новый CLI интерфейс; preview может быть nil
func NewCLI(service *application.CameraService, preview domain.PreviewSurface, logger application.Logger) *CLI {
	return &CLI{
		service: service,
		preview: preview,
		logger:  logger,
		in:      os.Stdin,
		out:     os.Stdout,
	}
}

// SetConfig устанавливает конфигурацию напрямую
func (c *CLI) SetConfig(config *Config) {
	c.config = config
}

// ParseFlags парсит аргументы командной строки и загружает конфигурацию
func (c *CLI) ParseFlags() (*Config, error) {
	configFile := flag.String("config", "", "файл конфигурации (yaml, json, toml)")
	debug := flag.Bool("debug", false, "включить отладочные сообщения")
	listDevices := flag.Bool("list-devices", false, "показать список доступных устройств и выйти")
	flag.Parse()

	config, err := LoadConfig(*configFile)
	if err != nil {
		return nil, err
	}
	config.Debug = *debug
	config.ListDevices = *listDevices

	c.config = config
	return config, nil
}

// Run запускает CLI
func (c *CLI) Run() error {
	ctx := context.Background()

	// Если нужно вывести список устройств
	if c.config.ListDevices {
		return c.listDevices(ctx)
	}

	// Настраиваем обработку сигналов завершения
	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)
	defer signal.Stop(interrupt)

	c.service.SetObserver(application.ObserverFunc{Mask: application.AllEvents, Fn: c.printEvent})
	defer c.service.Close()

	sessionConfig, err := c.config.SessionConfig()
	if err != nil {
		return err
	}
	if res := c.service.RequestSession(ctx, sessionConfig); !res.OK() {
		return fmt.Errorf("%s: %w", res.Status, res.Err)
	}
	if err := c.service.Start(); err != nil {
		return err
	}
	if c.preview != nil {
		c.service.AttachPreview(c.preview)
		defer c.preview.Detach()
	}

	c.printHelp()

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(c.in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	for {
		select {
		case <-interrupt:
			c.logger.Info("Прерывание получено, закрытие...")
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			cmd, err := parseCommand(line)
			if err != nil {
				fmt.Fprintf(c.out, "ошибка: %v\n", err)
				continue
			}
			if cmd.name == "" {
				continue
			}
			if err := c.execute(ctx, cmd); err != nil {
				if errors.Is(err, errQuit) {
					return nil
				}
				fmt.Fprintf(c.out, "ошибка: %v\n", err)
			}
		}
	}
}

// command разобранная команда
type command struct {
	name string
	args []string
}

var commandArgs = map[string][2]int{
	"help":     {0, 0},
	"status":   {0, 0},
	"start":    {0, 0},
	"stop":     {0, 0},
	"photo":    {0, 1},
	"mode":     {1, 2},
	"flip":     {0, 0},
	"dual":     {1, 1},
	"zoom":     {1, 2},
	"focus":    {0, 2},
	"exposure": {0, 2},
	"ev":       {1, 1},
	"flash":    {1, 1},
	"record":   {0, 1},
	"pause":    {0, 0},
	"resume":   {0, 0},
	"finish":   {0, 0},
	"quit":     {0, 0},
}

func parseCommand(line string) (command, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return command{}, nil
	}
	cmd := command{name: strings.ToLower(fields[0]), args: fields[1:]}
	bounds, ok := commandArgs[cmd.name]
	if !ok {
		return command{}, fmt.Errorf("неизвестная команда %q", cmd.name)
	}
	if len(cmd.args) < bounds[0] || len(cmd.args) > bounds[1] {
		return command{}, fmt.Errorf("%s: ожидается от %d до %d аргументов", cmd.name, bounds[0], bounds[1])
	}
	return cmd, nil
}

func (c *CLI) execute(ctx context.Context, cmd command) error {
	switch cmd.name {
	case "help":
		c.printHelp()
	case "quit":
		return errQuit
	case "status":
		snap := c.service.Snapshot()
		fmt.Fprintf(c.out, "сессия: %s, режим: %s, камера: %s (%s), пресет: %s\n",
			snap.State, snap.Mode(), snap.Device.Label, snap.Device.Position, snap.Preset)
		fmt.Fprintf(c.out, "зум: %.2f [%.2f..%.2f], EV: %.2f, запись: %s\n",
			c.service.Zoom(), c.service.MinZoom(), c.service.MaxZoom(), snap.EV, c.service.RecordState())
	case "start":
		return c.service.Start()
	case "stop":
		return c.service.Stop()
	case "photo":
		return c.takePhoto(ctx, cmd.args)
	case "mode":
		mode, err := domain.ParseMode(cmd.args[0])
		if err != nil {
			return err
		}
		var preset domain.Preset
		if len(cmd.args) == 2 {
			preset = domain.Preset(cmd.args[1])
		}
		return c.service.ChangeMode(ctx, mode, preset)
	case "flip":
		return c.service.ChangePosition(ctx, c.service.Snapshot().Config.Position.Opposite())
	case "dual":
		deviceType := domain.SingleDevice
		switch cmd.args[0] {
		case "on":
			deviceType = domain.DualDevice
		case "off":
		default:
			return fmt.Errorf("dual: ожидается on или off")
		}
		return c.service.ChangeDeviceType(ctx, deviceType)
	case "zoom":
		factor, err := strconv.ParseFloat(cmd.args[0], 64)
		if err != nil {
			return fmt.Errorf("zoom: %w", err)
		}
		animated := len(cmd.args) == 2 && cmd.args[1] == "anim"
		applied, err := c.service.SetZoom(factor, animated)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "зум: %.2f\n", applied)
	case "focus", "exposure":
		point, err := parsePoint(cmd.args)
		if err != nil {
			return err
		}
		if cmd.name == "focus" {
			mode := domain.FocusContinuousAuto
			if point != nil {
				mode = domain.FocusAuto
			}
			return c.service.Focus(mode, point)
		}
		mode := domain.ExposureContinuousAuto
		if point != nil {
			mode = domain.ExposureAuto
		}
		return c.service.Exposure(mode, point)
	case "ev":
		ev, err := strconv.ParseFloat(cmd.args[0], 64)
		if err != nil {
			return fmt.Errorf("ev: %w", err)
		}
		_, err = c.service.SetEV(ev)
		return err
	case "flash":
		mode, err := parseFlash(cmd.args[0])
		if err != nil {
			return err
		}
		return c.service.SetFlash(mode)
	case "record":
		dest := ""
		if len(cmd.args) == 1 {
			dest = cmd.args[0]
		}
		id, err := c.service.StartRecord(dest)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.out, "запись %s начата\n", id)
	case "pause":
		return c.service.PauseRecord()
	case "resume":
		return c.service.ResumeRecord()
	case "finish":
		if err := c.service.StopRecord(); err != nil {
			return err
		}
		waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		result, err := c.service.WaitRecord(waitCtx)
		if err != nil {
			return err
		}
		if !result.Success {
			return result.Err
		}
		fmt.Fprintf(c.out, "запись сохранена: %s (%s)\n", result.Location, result.VideoDuration)
	}
	return nil
}

func (c *CLI) takePhoto(ctx context.Context, args []string) error {
	settings := domain.PhotoSettings{}
	if len(args) == 1 {
		flash, err := parseFlash(args[0])
		if err != nil {
			return err
		}
		settings.Flash = flash
	}
	results, err := c.service.TakePhoto(ctx, settings)
	if err != nil {
		return err
	}
	result := <-results
	if result.Err != nil {
		return result.Err
	}

	dir := c.config.Recording.OutputDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	photos := result.Photos
	if result.Combined != nil {
		photos = []domain.Photo{*result.Combined}
	}
	for i, photo := range photos {
		path := filepath.Join(dir, fmt.Sprintf("photo_%s_%d.%s", result.RequestID[:8], i, photo.Format))
		if err := os.WriteFile(path, photo.Data, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(c.out, "снимок сохранен: %s (%dx%d)\n", path, photo.Width, photo.Height)
	}
	return nil
}

func parsePoint(args []string) (*domain.Point, error) {
	if len(args) == 0 {
		return nil, nil
	}
	if len(args) != 2 {
		return nil, fmt.Errorf("точка задается двумя координатами")
	}
	x, err := strconv.ParseFloat(args[0], 64)
	if err != nil {
		return nil, err
	}
	y, err := strconv.ParseFloat(args[1], 64)
	if err != nil {
		return nil, err
	}
	if x < 0 || x > 1 || y < 0 || y > 1 {
		return nil, fmt.Errorf("координаты точки должны быть в диапазоне 0..1")
	}
	return &domain.Point{X: x, Y: y}, nil
}

func parseFlash(s string) (domain.FlashMode, error) {
	switch s {
	case "off":
		return domain.FlashOff, nil
	case "on":
		return domain.FlashOn, nil
	case "auto":
		return domain.FlashAuto, nil
	}
	return domain.FlashOff, fmt.Errorf("неизвестный режим вспышки %q", s)
}

func (c *CLI) printEvent(ev application.Event) {
	switch ev.Kind {
	case application.EventSessionSetup:
		c.logger.Info("Настройка сессии: %s", ev.Setup.Status)
	case application.EventRecordState:
		c.logger.Info("Запись: %s", ev.RecordState)
	case application.EventRecordResult:
		if ev.Record.Success {
			c.logger.Info("Запись готова: %s", ev.Record.Location)
		} else {
			c.logger.Error("Запись не удалась: %v", ev.Record.Err)
		}
	case application.EventError:
		c.logger.Debug("Ошибка: %v", ev.Err)
	case application.EventZoomChanged, application.EventEVChanged:
		c.logger.Debug("%s: %.2f", ev.Kind, ev.Value)
	default:
		c.logger.Debug("Событие: %s", ev.Kind)
	}
}

func (c *CLI) printHelp() {
	fmt.Fprintln(c.out, `Команды:
  status                      состояние сессии
  start | stop                запуск и остановка захвата
  photo [off|on|auto]         снимок
  mode photo|video [пресет]   переключение режима
  flip                        другая камера
  dual on|off                 двойная камера
  zoom <x> [anim]             зум
  focus [x y]                 фокус (без точки - непрерывный)
  exposure [x y]              экспозиция
  ev <v>                      компенсация экспозиции
  flash off|on|auto           вспышка
  record [путь]               начать запись
  pause | resume | finish     управление записью
  quit                        выход`)
}

// listDevices выводит список доступных устройств
func (c *CLI) listDevices(ctx context.Context) error {
	devices, err := c.service.ListDevices(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintln(c.out, "Доступные устройства:")
	for i, device := range devices {
		kind := "камера"
		if device.Kind == domain.KindAudio {
			kind = "микрофон"
		}
		fmt.Fprintf(c.out, "[%d] %s (%s, %s) id=%s\n", i, device.Label, kind, device.Position, device.ID)
	}
	fmt.Fprintf(c.out, "Двойная камера: %v\n", c.service.MultiCamSupported())
	return nil
}
