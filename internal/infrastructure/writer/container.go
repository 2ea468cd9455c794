package writer

import (
	"errors"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/pion/rtp"
	"github.com/pion/rtp/codecs"
	"github.com/pion/webrtc/v4/pkg/media/h264writer"
	"github.com/pion/webrtc/v4/pkg/media/ivfwriter"
	"github.com/pion/webrtc/v4/pkg/media/oggwriter"

	"webcam-capture/internal/application"
	"webcam-capture/internal/domain"
)

// DefaultMTU размер RTP-пакета, на который режутся кадры перед записью
const DefaultMTU = 1200

// rtpSink контейнер, принимающий RTP-пакеты
type rtpSink interface {
	WriteRTP(packet *rtp.Packet) error
	Close() error
}

// Factory открывает писатели контейнеров поверх медиаписателей pion
type Factory struct {
	logger application.Logger
	mtu    int
}

// NewFactory создает фабрику писателей
func NewFactory(logger application.Logger) *Factory {
	return &Factory{logger: logger, mtu: DefaultMTU}
}

// Open реализует domain.WriterFactory. destination задает путь без расширения;
// каждая дорожка пишется в свой файл: .ivf (vp8), .h264 (h264), .ogg (opus).
func (f *Factory) Open(destination string, tracks []domain.TrackSpec) (domain.MediaWriter, error) {
	if len(tracks) == 0 {
		return nil, errors.New("нет дорожек для записи")
	}
	if dir := filepath.Dir(destination); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("не удалось создать директорию: %w", err)
		}
	}
	base := strings.TrimSuffix(destination, filepath.Ext(destination))

	w := &containerWriter{
		logger: f.logger,
		mtu:    f.mtu,
		tracks: map[domain.BufferKind]*track{},
	}
	for i, spec := range tracks {
		t, err := openTrack(base, spec, uint8(96+i))
		if err != nil {
			_ = w.Cancel()
			return nil, err
		}
		if _, dup := w.tracks[spec.Kind]; dup {
			_ = t.sink.Close()
			_ = os.Remove(t.path)
			_ = w.Cancel()
			return nil, fmt.Errorf("дорожка %s указана дважды", spec.Kind)
		}
		w.tracks[spec.Kind] = t
		w.order = append(w.order, t)
		f.logger.Debug("Дорожка %s (%s) пишется в %s", spec.Kind, spec.Codec, t.path)
	}
	f.logger.Info("Запись в файл: %s", w.location())
	return w, nil
}

// track одна дорожка контейнера
type track struct {
	spec        domain.TrackSpec
	path        string
	sink        rtpSink
	payloader   rtp.Payloader
	sequencer   rtp.Sequencer
	ssrc        uint32
	payloadType uint8
}

func openTrack(base string, spec domain.TrackSpec, pt uint8) (*track, error) {
	t := &track{
		spec:        spec,
		sequencer:   rtp.NewRandomSequencer(),
		ssrc:        rand.Uint32(),
		payloadType: pt,
	}
	var err error
	switch strings.ToLower(spec.Codec) {
	case "vp8":
		t.path = base + ".ivf"
		t.payloader = &codecs.VP8Payloader{}
		t.sink, err = ivfwriter.New(t.path)
	case "h264":
		t.path = base + ".h264"
		t.payloader = &codecs.H264Payloader{}
		t.sink, err = h264writer.New(t.path)
	case "opus":
		channels := spec.Channels
		if channels == 0 {
			channels = 1
		}
		rate := spec.ClockRate
		if rate == 0 {
			rate = 48000
		}
		t.path = base + ".ogg"
		t.payloader = &codecs.OpusPayloader{}
		t.sink, err = oggwriter.New(t.path, rate, channels)
	default:
		return nil, fmt.Errorf("неподдерживаемый кодек %q", spec.Codec)
	}
	if err != nil {
		return nil, fmt.Errorf("не удалось создать файл %s: %w", t.path, err)
	}
	return t, nil
}

// containerWriter реализует domain.MediaWriter. Метки времени всех дорожек
// отсчитываются от первого записанного сэмпла, чтобы дорожки оставались синхронными.
type containerWriter struct {
	logger application.Logger
	mtu    int

	mu      sync.Mutex
	tracks  map[domain.BufferKind]*track
	order   []*track
	base    time.Duration
	hasBase bool
	closed  bool
}

func (w *containerWriter) Append(kind domain.BufferKind, buf domain.SampleBuffer) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("писатель закрыт")
	}
	t, ok := w.tracks[kind]
	if !ok {
		return fmt.Errorf("нет дорожки %s", kind)
	}
	if len(buf.Data) == 0 {
		return nil
	}
	if !w.hasBase {
		w.base = buf.Timestamp
		w.hasBase = true
	}
	// небольшой разброс порядка во время дренажа прижимается к началу шкалы
	rel := buf.Timestamp - w.base
	if rel < 0 {
		rel = 0
	}
	ts := uint32(int64(rel) * int64(t.clockRate()) / int64(time.Second))

	payloads := t.payloader.Payload(uint16(w.mtu-12), buf.Data)
	for i, payload := range payloads {
		packet := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				Marker:         i == len(payloads)-1,
				PayloadType:    t.payloadType,
				SequenceNumber: t.sequencer.NextSequenceNumber(),
				Timestamp:      ts,
				SSRC:           t.ssrc,
			},
			Payload: payload,
		}
		if err := t.sink.WriteRTP(packet); err != nil {
			return fmt.Errorf("запись %s: %w", t.path, err)
		}
	}
	return nil
}

func (t *track) clockRate() uint32 {
	if t.spec.ClockRate != 0 {
		return t.spec.ClockRate
	}
	if t.spec.Kind == domain.BufferAudio {
		return 48000
	}
	return 90000
}

// Finish закрывает дорожки и возвращает путь к видеофайлу
func (w *containerWriter) Finish() (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return "", errors.New("писатель уже закрыт")
	}
	w.closed = true

	var errs []error
	for _, t := range w.order {
		if err := t.sink.Close(); err != nil {
			errs = append(errs, fmt.Errorf("закрытие %s: %w", t.path, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return "", err
	}
	return w.location(), nil
}

// Cancel закрывает дорожки и удаляет частично записанные файлы
func (w *containerWriter) Cancel() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var errs []error
	for _, t := range w.order {
		if !w.closed {
			_ = t.sink.Close()
		}
		if err := os.Remove(t.path); err != nil && !os.IsNotExist(err) {
			errs = append(errs, err)
		}
	}
	w.closed = true
	return errors.Join(errs...)
}

func (w *containerWriter) location() string {
	if t, ok := w.tracks[domain.BufferVideo]; ok {
		return t.path
	}
	if len(w.order) > 0 {
		return w.order[0].path
	}
	return ""
}
