package application

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"webcam-capture/internal/domain"
)

// PhotoCapturePipeline выполняет одиночные снимки. Одновременно обрабатывается один запрос.
type PhotoCapturePipeline struct {
	coord      *SessionCoordinator
	dispatcher *Dispatcher
	logger     Logger
	stitcher   domain.PhotoStitcher

	mu      sync.Mutex
	pending string
}

// NewPhotoCapturePipeline создает конвейер снимков; stitcher может быть nil
func NewPhotoCapturePipeline(coord *SessionCoordinator, dispatcher *Dispatcher, logger Logger, stitcher domain.PhotoStitcher) *PhotoCapturePipeline {
	return &PhotoCapturePipeline{coord: coord, dispatcher: dispatcher, logger: logger, stitcher: stitcher}
}

type shot struct {
	photo domain.Photo
	err   error
}

// Capture запускает снимок. Результат приходит в канал ровно один раз
// и дублируется наблюдателю событием EventPhoto.
func (p *PhotoCapturePipeline) Capture(ctx context.Context, settings domain.PhotoSettings) (<-chan domain.PhotoResult, error) {
	out := make(chan domain.PhotoResult, 1)
	var err error

	if qerr := p.coord.do(func() {
		err = p.issue(ctx, settings, out)
	}); qerr != nil {
		err = &domain.CaptureError{Err: qerr}
	}
	if err != nil {
		p.logger.Error("Снимок не запущен: %v", err)
		p.coord.reportError(err)
		return nil, err
	}
	return out, nil
}

// issue выполняется в очереди сессии
func (p *PhotoCapturePipeline) issue(ctx context.Context, settings domain.PhotoSettings, out chan<- domain.PhotoResult) error {
	snap := p.coord.Snapshot()
	if snap.State == domain.SessionUnconfigured || p.coord.session == nil {
		return &domain.CaptureError{Err: domain.ErrSessionNotConfigured}
	}
	if snap.Mode() != domain.ModePhoto {
		return &domain.CaptureError{Err: domain.ErrNotInPhotoMode}
	}
	if settings.Flash != domain.FlashOff && !snap.Device.Capabilities.HasFlash {
		return &domain.CaptureError{Err: domain.ErrFlashNotSupported}
	}

	p.mu.Lock()
	if p.pending != "" {
		id := p.pending
		p.mu.Unlock()
		return &domain.CaptureError{RequestID: id, Err: domain.ErrCaptureAlreadyInProgress}
	}
	id := uuid.NewString()
	p.pending = id
	p.mu.Unlock()

	sel := p.coord.selection
	targets := sel.strategy.photoTargets(sel.Device)

	p.dispatcher.Emit(Event{Kind: EventWillCapturePhoto})
	p.logger.Debug("Снимок %s: камер %d", id, len(targets))

	results := make([]chan shot, len(targets))
	for i, t := range targets {
		ch := make(chan shot, 1)
		results[i] = ch
		p.coord.session.CapturePhoto(t.ID, settings, func(photo domain.Photo, err error) {
			ch <- shot{photo: photo, err: err}
		})
	}

	go p.collect(ctx, id, targets, results, out)
	return nil
}

// collect ждет по одному результату с каждой камеры; первая ошибка отменяет весь запрос
func (p *PhotoCapturePipeline) collect(ctx context.Context, id string, targets []domain.CaptureDevice, results []chan shot, out chan<- domain.PhotoResult) {
	photos := make([]domain.Photo, len(results))
	g, gctx := errgroup.WithContext(ctx)
	for i := range results {
		i := i
		g.Go(func() error {
			select {
			case r := <-results[i]:
				if r.err != nil {
					return fmt.Errorf("камера %s: %w", targets[i].ID, r.err)
				}
				photos[i] = r.photo
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}

	result := domain.PhotoResult{RequestID: id}
	if err := g.Wait(); err != nil {
		result.Err = &domain.CaptureError{RequestID: id, Err: err}
	} else {
		result.Photos = photos
		if len(photos) > 1 && p.stitcher != nil {
			combined, err := p.stitcher.Stitch(photos)
			if err != nil {
				result.Photos = nil
				result.Err = &domain.CaptureError{RequestID: id, Err: fmt.Errorf("склейка: %w", err)}
			} else {
				result.Combined = &combined
			}
		} else if len(photos) == 1 {
			result.Combined = &photos[0]
		}
	}

	if result.Err != nil {
		p.logger.Error("Снимок %s не удался: %v", id, result.Err)
	} else {
		p.logger.Info("Снимок %s готов: %d изображений", id, len(result.Photos))
	}

	p.mu.Lock()
	p.pending = ""
	p.mu.Unlock()

	out <- result
	close(out)
	p.dispatcher.Emit(Event{Kind: EventPhoto, Photo: &result})
}
