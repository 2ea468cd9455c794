package streaming

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"webcam-capture/internal/application"
)

// PreviewReceiver принимает поток превью по WebSocket и сохраняет кадры в файл
type PreviewReceiver struct {
	outputDir string
	logger    application.Logger
	upgrader  websocket.Upgrader

	mutex   sync.Mutex
	clients map[string]*FrameFile
}

// NewPreviewReceiver создает приемник превью
func NewPreviewReceiver(outputDir string, logger application.Logger) *PreviewReceiver {
	return &PreviewReceiver{
		outputDir: outputDir,
		logger:    logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Разрешаем все подключения
			},
		},
		clients: map[string]*FrameFile{},
	}
}

// Clients количество подключенных клиентов
func (r *PreviewReceiver) Clients() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return len(r.clients)
}

// ServeHTTP обработчик WebSocket подключений
func (r *PreviewReceiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("Ошибка при апгрейде до WebSocket: %v", err)
		return
	}
	defer conn.Close()

	// Создаем файл для сохранения потока
	file, err := NewFrameFile(r.outputDir)
	if err != nil {
		r.logger.Error("Не удалось создать запись: %v", err)
		return
	}
	defer file.Close()

	clientAddr := conn.RemoteAddr().String()
	r.logger.Info("Клиент подключен: %s, запись в %s", clientAddr, file.Path())
	r.mutex.Lock()
	r.clients[clientAddr] = file
	r.mutex.Unlock()
	defer func() {
		r.mutex.Lock()
		delete(r.clients, clientAddr)
		r.mutex.Unlock()
	}()

	// Обработка входящих сообщений
	for {
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				r.logger.Error("Ошибка чтения: %v", err)
			}
			break
		}

		switch messageType {
		case websocket.BinaryMessage:
			// закодированные видеоданные
			if err := file.Write(message); err != nil {
				r.logger.Error("Ошибка записи данных: %v", err)
				return
			}
		case websocket.TextMessage:
			var g GeometryMessage
			if err := json.Unmarshal(message, &g); err != nil {
				r.logger.Error("Некорректное служебное сообщение: %v", err)
				continue
			}
			r.logger.Info("Превью %s: %dx%d в (%d, %d)", g.Position, g.Width, g.Height, g.X, g.Y)
		}
	}

	r.logger.Info("Клиент отключен: %s, кадров %d", clientAddr, file.Frames())
}

// FrameFile управляет сохранением потока H.264 в файл
type FrameFile struct {
	mutex      sync.Mutex
	outputFile *os.File
	filePath   string
	frames     int
}

// NewFrameFile создает файл для потока в outputDir
func NewFrameFile(outputDir string) (*FrameFile, error) {
	// Создаем директорию, если она не существует
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию: %w", err)
	}

	// Генерируем имя файла на основе текущего времени
	timestamp := time.Now().Format("2006-01-02_15-04-05.000000")
	filePath := filepath.Join(outputDir, fmt.Sprintf("preview_%s.h264", timestamp))

	file, err := os.Create(filePath)
	if err != nil {
		return nil, fmt.Errorf("не удалось создать файл: %w", err)
	}
	return &FrameFile{outputFile: file, filePath: filePath}, nil
}

// Write записывает кадр в файл
func (f *FrameFile) Write(data []byte) error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.outputFile == nil {
		return os.ErrClosed
	}
	if _, err := f.outputFile.Write(data); err != nil {
		return err
	}
	f.frames++
	return nil
}

// Path путь к файлу
func (f *FrameFile) Path() string { return f.filePath }

// Frames количество записанных кадров
func (f *FrameFile) Frames() int {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	return f.frames
}

// Close закрывает файл
func (f *FrameFile) Close() error {
	f.mutex.Lock()
	defer f.mutex.Unlock()
	if f.outputFile != nil {
		err := f.outputFile.Close()
		f.outputFile = nil
		return err
	}
	return nil
}
