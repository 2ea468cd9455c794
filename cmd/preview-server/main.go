package main

import (
	"flag"
	"fmt"
	"log"
	"net/http"

	"webcam-capture/internal/infrastructure/logger"
	"webcam-capture/internal/infrastructure/streaming"
)

func main() {
	// Парсинг флагов командной строки
	port := flag.Int("port", 8080, "порт для запуска сервера")
	outputDir := flag.String("output", "previews", "директория для сохранения потока превью")
	debug := flag.Bool("debug", false, "включить отладочные сообщения")
	flag.Parse()

	zapLogger, err := logger.NewZapLogger(*debug)
	if err != nil {
		log.Fatalf("Ошибка инициализации логгера: %v", err)
	}
	defer zapLogger.Sync()

	receiver := streaming.NewPreviewReceiver(*outputDir, zapLogger)

	mux := http.NewServeMux()
	mux.Handle("/ws", receiver)

	// Простая страница-статус
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprintf(w, `
		<!DOCTYPE html>
		<html>
		<head>
			<title>Сервер превью камеры</title>
			<style>
				body { font-family: Arial, sans-serif; margin: 40px; }
				.status { padding: 20px; background-color: #e0f7fa; border-radius: 5px; }
			</style>
		</head>
		<body>
			<h1>Сервер превью камеры</h1>
			<div class="status">
				<p>Сервер запущен и принимает соединения</p>
				<p>Подключено клиентов: %d</p>
				<p>Директория для записей: <code>%s</code></p>
			</div>
		</body>
		</html>
		`, receiver.Clients(), *outputDir)
	})

	// Запускаем HTTP-сервер
	addr := fmt.Sprintf(":%d", *port)
	zapLogger.Info("Запуск сервера на порту %d...", *port)
	zapLogger.Info("Статус сервера доступен по адресу http://localhost%s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		zapLogger.Error("Сервер остановлен: %v", err)
	}
}
