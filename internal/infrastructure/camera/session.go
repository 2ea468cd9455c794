package camera

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"sync"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec"
	"github.com/pion/mediadevices/pkg/codec/opus"
	"github.com/pion/mediadevices/pkg/codec/vpx"
	"github.com/pion/mediadevices/pkg/codec/x264"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"

	"webcam-capture/internal/domain"
)

const (
	x264MimeType = webrtc.MimeTypeH264
	vp8MimeType  = webrtc.MimeTypeVP8
	opusMimeType = webrtc.MimeTypeOpus
)

// videoMimeType MIME-тип закодированного видео для кодека из конфигурации
func videoMimeType(videoCodec string) (string, error) {
	switch videoCodec {
	case "", "h264":
		return x264MimeType, nil
	case "vp8":
		return vp8MimeType, nil
	default:
		return "", fmt.Errorf("видеокодек %q не поддерживается", videoCodec)
	}
}

// videoEncoder параметры видеокодера из конфигурации
func videoEncoder(cfg Config) (codec.VideoEncoderBuilder, error) {
	if cfg.VideoCodec == "vp8" {
		vp8Params, err := vpx.NewVP8Params()
		if err != nil {
			return nil, fmt.Errorf("параметры vp8: %w", err)
		}
		if cfg.BitRate > 0 {
			vp8Params.BitRate = cfg.BitRate
		}
		if cfg.KeyFrameInterval > 0 {
			vp8Params.KeyFrameInterval = cfg.KeyFrameInterval
		}
		return &vp8Params, nil
	}

	x264Params, err := x264.NewParams()
	if err != nil {
		return nil, fmt.Errorf("параметры x264: %w", err)
	}
	if cfg.BitRate > 0 {
		x264Params.BitRate = cfg.BitRate
	}
	x264Params.Preset = x264.PresetUltrafast
	if cfg.KeyFrameInterval > 0 {
		x264Params.KeyFrameInterval = cfg.KeyFrameInterval
	}
	return &x264Params, nil
}

// wiring входы и выходы сессии
type wiring struct {
	inputs  map[string]domain.CaptureDevice
	order   []string
	outputs map[domain.OutputKind]bool
	preset  domain.Preset
}

func (w wiring) clone() wiring {
	next := wiring{
		inputs:  make(map[string]domain.CaptureDevice, len(w.inputs)),
		order:   append([]string(nil), w.order...),
		outputs: make(map[domain.OutputKind]bool, len(w.outputs)),
		preset:  w.preset,
	}
	for k, v := range w.inputs {
		next.inputs[k] = v
	}
	for k, v := range w.outputs {
		next.outputs[k] = v
	}
	return next
}

// mediaSession сессия захвата: каждое подключенное устройство открывается
// через GetUserMedia и читается в своей горутине
type mediaSession struct {
	hw *MediaDevicesHardware

	mu          sync.Mutex
	committed   wiring
	staged      *wiring
	running     bool
	handler     domain.BufferHandler
	onError     func(error)
	streams     map[string]*deviceStream
	controls    map[string]*deviceControl
	stopReading chan struct{}
	wg          sync.WaitGroup
}

// deviceStream открытое устройство
type deviceStream struct {
	device domain.CaptureDevice
	track  mediadevices.Track
	width  int
	height int
}

func newMediaSession(hw *MediaDevicesHardware) *mediaSession {
	return &mediaSession{
		hw: hw,
		committed: wiring{
			inputs:  map[string]domain.CaptureDevice{},
			outputs: map[domain.OutputKind]bool{},
		},
		streams:  map[string]*deviceStream{},
		controls: map[string]*deviceControl{},
	}
}

func (s *mediaSession) BeginConfiguration() {
	s.mu.Lock()
	defer s.mu.Unlock()
	staged := s.committed.clone()
	s.staged = &staged
}

func (s *mediaSession) CommitConfiguration() error {
	s.mu.Lock()
	if s.staged == nil {
		s.mu.Unlock()
		return errors.New("конфигурация не начата")
	}
	prev := s.committed
	s.committed = *s.staged
	s.staged = nil
	running := s.running
	s.mu.Unlock()

	if !running {
		return nil
	}
	// открытые устройства переоткрываются под новую конфигурацию
	s.stopStreams()
	if err := s.startStreams(); err != nil {
		s.hw.logger.Error("Не удалось применить конфигурацию, возврат к прежней: %v", err)
		s.stopStreams()
		s.mu.Lock()
		s.committed = prev
		s.mu.Unlock()
		if rerr := s.startStreams(); rerr != nil {
			return errors.Join(err, rerr)
		}
		return err
	}
	return nil
}

func (s *mediaSession) stagedLocked() (*wiring, error) {
	if s.staged == nil {
		return nil, errors.New("изменение вне BeginConfiguration")
	}
	return s.staged, nil
}

func (s *mediaSession) AddInput(device domain.CaptureDevice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.stagedLocked()
	if err != nil {
		return err
	}
	if _, ok := w.inputs[device.ID]; ok {
		return fmt.Errorf("устройство %s уже подключено", device.ID)
	}
	w.inputs[device.ID] = device
	w.order = append(w.order, device.ID)
	if device.Kind == domain.KindVideo {
		if _, ok := s.controls[device.ID]; !ok {
			s.controls[device.ID] = newDeviceControl(device, s.hw.logger)
		}
	}
	return nil
}

func (s *mediaSession) RemoveInput(deviceID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.stagedLocked()
	if err != nil {
		return err
	}
	if _, ok := w.inputs[deviceID]; !ok {
		return fmt.Errorf("устройство %s не подключено", deviceID)
	}
	delete(w.inputs, deviceID)
	for i, id := range w.order {
		if id == deviceID {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *mediaSession) AddOutput(output domain.OutputKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.stagedLocked()
	if err != nil {
		return err
	}
	if w.outputs[output] {
		return fmt.Errorf("выход %s уже подключен", output)
	}
	w.outputs[output] = true
	return nil
}

func (s *mediaSession) RemoveOutput(output domain.OutputKind) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.stagedLocked()
	if err != nil {
		return err
	}
	if !w.outputs[output] {
		return fmt.Errorf("выход %s не подключен", output)
	}
	delete(w.outputs, output)
	return nil
}

func (s *mediaSession) CanSetPreset(preset domain.Preset) bool {
	_, _, ok := preset.Dimensions()
	return ok
}

func (s *mediaSession) SetPreset(preset domain.Preset) error {
	if !s.CanSetPreset(preset) {
		return domain.ErrPresetNotSupported
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	w, err := s.stagedLocked()
	if err != nil {
		return err
	}
	w.preset = preset
	return nil
}

func (s *mediaSession) SetBufferHandler(h domain.BufferHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handler = h
}

func (s *mediaSession) SetRuntimeErrorHandler(h func(err error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onError = h
}

func (s *mediaSession) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = true
	s.mu.Unlock()

	if err := s.startStreams(); err != nil {
		s.stopStreams()
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *mediaSession) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()
	s.stopStreams()
	return nil
}

func (s *mediaSession) Control(deviceID string) (domain.DeviceControl, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.controls[deviceID]
	if !ok || !s.committed.hasInput(deviceID) {
		return nil, fmt.Errorf("устройство %s не подключено", deviceID)
	}
	return c, nil
}

func (w wiring) hasInput(id string) bool {
	_, ok := w.inputs[id]
	return ok
}

// startStreams открывает все подключенные устройства и запускает чтение
func (s *mediaSession) startStreams() error {
	s.mu.Lock()
	w := s.committed.clone()
	s.stopReading = make(chan struct{})
	stop := s.stopReading
	s.mu.Unlock()

	width, height, _ := w.preset.Dimensions()
	cfg := s.hw.config
	// именованные пресеты качества уступают размеру из конфигурации
	switch w.preset {
	case domain.PresetPhoto, domain.PresetHigh, domain.PresetMedium, "":
		if cfg.Width > 0 && cfg.Height > 0 {
			width, height = cfg.Width, cfg.Height
		}
	}

	for _, id := range w.order {
		device := w.inputs[id]
		var (
			stream *deviceStream
			err    error
		)
		switch device.Kind {
		case domain.KindVideo:
			if !w.outputs[domain.OutputVideoData] && !w.outputs[domain.OutputPhoto] {
				continue
			}
			stream, err = s.openVideo(device, width, height)
		case domain.KindAudio:
			if !w.outputs[domain.OutputAudioData] {
				continue
			}
			stream, err = s.openAudio(device)
		}
		if err != nil {
			return fmt.Errorf("открытие %s: %w", device.ID, err)
		}

		s.mu.Lock()
		s.streams[id] = stream
		s.mu.Unlock()

		if device.Kind == domain.KindVideo && !w.outputs[domain.OutputVideoData] {
			continue
		}
		if err := s.read(stream, stop); err != nil {
			return err
		}
	}
	s.hw.logger.Info("Открыто устройств: %d, разрешение %dx%d", len(w.order), width, height)
	return nil
}

func (s *mediaSession) stopStreams() {
	s.mu.Lock()
	if s.stopReading != nil {
		close(s.stopReading)
		s.stopReading = nil
	}
	streams := s.streams
	s.streams = map[string]*deviceStream{}
	s.mu.Unlock()

	for _, st := range streams {
		if err := st.track.Close(); err != nil {
			s.hw.logger.Error("Ошибка закрытия трека %s: %v", st.device.ID, err)
		}
	}
	s.wg.Wait()
}

func (s *mediaSession) openVideo(device domain.CaptureDevice, width, height int) (*deviceStream, error) {
	cfg := s.hw.config
	encoder, err := videoEncoder(cfg)
	if err != nil {
		return nil, err
	}

	constraints := mediadevices.MediaStreamConstraints{
		Video: func(c *mediadevices.MediaTrackConstraints) {
			c.DeviceID = prop.String(device.ID)
			if width > 0 && height > 0 {
				c.Width = prop.Int(width)
				c.Height = prop.Int(height)
			}
			c.FrameRate = prop.Float(float32(cfg.FrameRate))
		},
		Codec: mediadevices.NewCodecSelector(
			mediadevices.WithVideoEncoders(encoder),
		),
	}

	stream, err := mediadevices.GetUserMedia(constraints)
	if err != nil {
		s.hw.logger.Error("Ошибка с исходными ограничениями: %v", err)
		s.hw.logger.Info("Пробуем с минимальными ограничениями...")
		constraints.Video = func(c *mediadevices.MediaTrackConstraints) {
			c.DeviceID = prop.String(device.ID)
		}
		stream, err = mediadevices.GetUserMedia(constraints)
		if err != nil {
			return nil, err
		}
	}

	tracks := stream.GetVideoTracks()
	if len(tracks) == 0 {
		return nil, errors.New("видеотрек не обнаружен")
	}
	return &deviceStream{device: device, track: tracks[0], width: width, height: height}, nil
}

func (s *mediaSession) openAudio(device domain.CaptureDevice) (*deviceStream, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("параметры opus: %w", err)
	}
	if s.hw.config.AudioBitRate > 0 {
		opusParams.BitRate = s.hw.config.AudioBitRate
	}

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(c *mediadevices.MediaTrackConstraints) {
			c.DeviceID = prop.String(device.ID)
		},
		Codec: mediadevices.NewCodecSelector(
			mediadevices.WithAudioEncoders(&opusParams),
		),
	})
	if err != nil {
		return nil, err
	}
	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, errors.New("аудиотрек не обнаружен")
	}
	return &deviceStream{device: device, track: tracks[0]}, nil
}

// read запускает горутину, которая превращает закодированные кадры в SampleBuffer
func (s *mediaSession) read(stream *deviceStream, stop <-chan struct{}) error {
	kind := domain.BufferVideo
	codecName, err := videoMimeType(s.hw.config.VideoCodec)
	if err != nil {
		return err
	}
	if stream.device.Kind == domain.KindAudio {
		kind = domain.BufferAudio
		codecName = opusMimeType
	}

	reader, err := stream.track.NewEncodedReader(codecName)
	if err != nil {
		return fmt.Errorf("ридер %s: %w", stream.device.ID, err)
	}

	frameDuration := time.Second / time.Duration(s.hw.config.FrameRate)
	clock := s.hw.clock

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer reader.Close()
		for {
			buf, release, err := reader.Read()
			if err != nil {
				select {
				case <-stop:
				default:
					if err != io.EOF {
						s.runtimeError(fmt.Errorf("%w: %s: %v", domain.ErrDeviceDisconnected, stream.device.ID, err))
					}
				}
				return
			}

			data := make([]byte, len(buf.Data))
			copy(data, buf.Data)
			release()

			duration := frameDuration
			if kind == domain.BufferAudio && buf.Samples > 0 {
				duration = time.Duration(buf.Samples) * time.Second / 48000
			}

			s.mu.Lock()
			handler := s.handler
			s.mu.Unlock()
			if handler != nil {
				handler(domain.SampleBuffer{
					Kind:      kind,
					Timestamp: clock.Now(),
					Duration:  duration,
					Data:      data,
					DeviceID:  stream.device.ID,
					Position:  stream.device.Position,
				})
			}

			select {
			case <-stop:
				return
			default:
			}
		}
	}()
	return nil
}

func (s *mediaSession) runtimeError(err error) {
	s.mu.Lock()
	h := s.onError
	s.mu.Unlock()
	s.hw.logger.Error("Ошибка чтения устройства: %v", err)
	if h != nil {
		h(err)
	}
}

// CapturePhoto снимает один кадр с камеры и кодирует его в JPEG
func (s *mediaSession) CapturePhoto(deviceID string, settings domain.PhotoSettings, done func(domain.Photo, error)) {
	s.mu.Lock()
	stream, ok := s.streams[deviceID]
	photoWired := s.committed.outputs[domain.OutputPhoto]
	control := s.controls[deviceID]
	s.mu.Unlock()

	if !ok || !photoWired {
		go done(domain.Photo{}, fmt.Errorf("камера %s не готова к снимку", deviceID))
		return
	}
	videoTrack, ok := stream.track.(*mediadevices.VideoTrack)
	if !ok {
		go done(domain.Photo{}, fmt.Errorf("трек %s не является видеотреком", deviceID))
		return
	}

	go func() {
		reader := videoTrack.NewReader(false)
		img, release, err := reader.Read()
		if err != nil {
			done(domain.Photo{}, fmt.Errorf("чтение кадра: %w", err))
			return
		}
		photo, err := encodePhoto(img, stream.device)
		release()
		if err != nil {
			done(domain.Photo{}, err)
			return
		}
		photo.Metadata["flash"] = fmt.Sprint(settings.Flash)
		if control != nil {
			photo.Metadata["zoom"] = fmt.Sprintf("%.2f", control.Zoom())
		}
		done(photo, nil)
	}()
}

func encodePhoto(img image.Image, device domain.CaptureDevice) (domain.Photo, error) {
	var out bytes.Buffer
	if err := jpeg.Encode(&out, img, &jpeg.Options{Quality: 90}); err != nil {
		return domain.Photo{}, fmt.Errorf("кодирование jpeg: %w", err)
	}
	b := img.Bounds()
	return domain.Photo{
		DeviceID: device.ID,
		Position: device.Position,
		Data:     out.Bytes(),
		Format:   "jpeg",
		Width:    b.Dx(),
		Height:   b.Dy(),
		Metadata: map[string]string{"label": device.Label},
	}, nil
}
