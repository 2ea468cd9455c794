package streaming

import (
	"context"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"webcam-capture/internal/application"
	"webcam-capture/internal/domain"
)

// GeometryMessage текстовое сообщение с размещением превью
type GeometryMessage struct {
	Type     string `json:"type"`
	Position string `json:"position"`
	X        int    `json:"x"`
	Y        int    `json:"y"`
	Width    int    `json:"width"`
	Height   int    `json:"height"`
}

// WebSocketPreview поверхность превью, которая отправляет кадры активной камеры по WebSocket.
// Кадры передаются через ограниченную очередь: если соединение не успевает, кадр отбрасывается.
type WebSocketPreview struct {
	url       string
	logger    application.Logger
	debugMode bool
	dialer    *websocket.Dialer

	mutex        sync.Mutex
	conn         *websocket.Conn
	unsubscribe  func()
	frames       chan []byte
	cancel       context.CancelFunc
	done         chan struct{}
	frameCounter int
	dropped      int
	startTime    time.Time
}

// NewWebSocketPreview создает поверхность превью
func NewWebSocketPreview(streamingURL string, logger application.Logger, debugMode bool) *WebSocketPreview {
	return &WebSocketPreview{
		url:       streamingURL,
		logger:    logger,
		debugMode: debugMode,
		dialer:    websocket.DefaultDialer,
	}
}

// Attach реализует domain.PreviewSurface
func (p *WebSocketPreview) Attach(handle domain.SessionHandle) {
	p.Detach()

	u, err := url.Parse(p.url)
	if err != nil {
		p.logger.Error("Некорректный URL стриминга: %v", err)
		return
	}

	p.logger.Info("Подключение к %s", u.String())
	conn, _, err := p.dialer.Dial(u.String(), nil)
	if err != nil {
		p.logger.Error("Ошибка подключения к серверу: %v", err)
		return
	}
	p.logger.Info("Подключено к серверу")

	ctx, cancel := context.WithCancel(context.Background())
	frames := make(chan []byte, 8)
	done := make(chan struct{})

	p.mutex.Lock()
	p.conn = conn
	p.frames = frames
	p.cancel = cancel
	p.done = done
	p.frameCounter = 0
	p.dropped = 0
	p.startTime = time.Now()
	p.mutex.Unlock()

	if snap := handle.Snapshot(); snap != nil {
		pos := snap.Config.Position
		if g, ok := snap.Config.Previews[pos]; ok {
			msg := GeometryMessage{Type: "geometry", Position: pos.String(), X: g.X, Y: g.Y, Width: g.Width, Height: g.Height}
			if err := conn.WriteJSON(msg); err != nil {
				p.logger.Error("Ошибка отправки геометрии превью: %v", err)
			}
		}
	}

	go p.send(ctx, conn, frames, done)

	unsubscribe := handle.Subscribe(domain.PositionUnspecified, func(buf domain.SampleBuffer) {
		// показывается только текущая камера; при двух камерах основная
		if snap := handle.Snapshot(); snap != nil && buf.DeviceID != snap.Device.Primary().ID {
			return
		}
		select {
		case frames <- buf.Data:
		default:
			p.mutex.Lock()
			p.dropped++
			p.mutex.Unlock()
		}
	})

	p.mutex.Lock()
	p.unsubscribe = unsubscribe
	p.mutex.Unlock()
}

// Detach реализует domain.PreviewSurface
func (p *WebSocketPreview) Detach() {
	p.mutex.Lock()
	unsubscribe, cancel, done, conn := p.unsubscribe, p.cancel, p.done, p.conn
	p.unsubscribe, p.cancel, p.done, p.conn = nil, nil, nil, nil
	p.mutex.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
	if cancel != nil {
		cancel()
		<-done
	}
	if conn == nil {
		return
	}

	// Отправляем сообщение о закрытии
	err := conn.WriteMessage(
		websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
	)
	if err != nil {
		p.logger.Error("Ошибка закрытия WebSocket: %v", err)
	}
	conn.Close()
	p.logger.Info("Стриминг остановлен")
}

// IsConnected возвращает статус подключения
func (p *WebSocketPreview) IsConnected() bool {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	return p.conn != nil
}

func (p *WebSocketPreview) send(ctx context.Context, conn *websocket.Conn, frames <-chan []byte, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-frames:
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				p.logger.Error("Ошибка отправки кадра: %v", err)
				return
			}
			p.countFrame(len(data))
		}
	}
}

func (p *WebSocketPreview) countFrame(size int) {
	p.mutex.Lock()
	defer p.mutex.Unlock()
	p.frameCounter++

	// Отладочная информация
	if p.debugMode && p.frameCounter%30 == 0 {
		elapsed := time.Since(p.startTime).Seconds()
		fps := float64(p.frameCounter) / elapsed
		p.logger.Debug("Отправлено фреймов: %d, FPS: %.2f, отброшено: %d, размер последнего фрейма: %d байт",
			p.frameCounter, fps, p.dropped, size)
	}
}
