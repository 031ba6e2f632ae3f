package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ifuryst/lolify/internal/config"
	"github.com/ifuryst/lolify/internal/service/graph"
)

// ErrQueueFull is returned by Submit when the publish queue has no room.
var ErrQueueFull = errors.New("publish queue is full")

// PostPublisher is the part of graph.Publisher the worker drives.
type PostPublisher interface {
	MakePost(ctx context.Context, c graph.Container) (*graph.Result, error)
}

// PublishJob is one reel waiting to be republished. ID is also the token
// holding Hash in the in-flight guard.
type PublishJob struct {
	ID         string
	Hash       string
	URL        string
	Caption    string
	Kind       graph.MediaKind
	SenderID   string
	EnqueuedAt time.Time
}

func NewPublishJob(hash, url, caption string, kind graph.MediaKind, senderID string) PublishJob {
	return PublishJob{
		ID:         uuid.NewString(),
		Hash:       hash,
		URL:        url,
		Caption:    caption,
		Kind:       kind,
		SenderID:   senderID,
		EnqueuedAt: time.Now(),
	}
}

// PublishWorker takes publish jobs off the request path. A single consumer
// runs them one at a time; the in-flight guard for a job's hash is released
// when the job ends, whatever the outcome.
type PublishWorker struct {
	async     bool
	publisher PostPublisher
	store     *PostStore
	guard     InflightGuard
	logger    *zap.Logger
	queue     chan PublishJob
	stopCh    chan struct{}
	stopOnce  sync.Once
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

func NewPublishWorker(cfg *config.PublisherConfig, publisher PostPublisher, store *PostStore, guard InflightGuard, logger *zap.Logger) *PublishWorker {
	size := cfg.QueueSize
	if size <= 0 {
		size = 1
	}
	return &PublishWorker{
		async:     cfg.Async,
		publisher: publisher,
		store:     store,
		guard:     guard,
		logger:    logger,
		queue:     make(chan PublishJob, size),
		stopCh:    make(chan struct{}),
	}
}

func (w *PublishWorker) Start(ctx context.Context) {
	if !w.async {
		w.logger.Info("Publish worker runs inline on the request path")
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	w.logger.Info("Starting publish worker", zap.Int("queue_size", cap(w.queue)))

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case job := <-w.queue:
				_ = w.run(runCtx, job)
			case <-w.stopCh:
				w.logger.Info("Publish worker stopped")
				return
			case <-runCtx.Done():
				w.logger.Info("Publish worker context cancelled")
				return
			}
		}
	}()
}

// Stop cancels the running job and waits for the worker to exit. Queued
// jobs are dropped and their hashes released.
func (w *PublishWorker) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		if w.cancel != nil {
			w.cancel()
		}
		w.wg.Wait()

		for {
			select {
			case job := <-w.queue:
				w.logger.Warn("Dropping queued publish job", zap.String("job_id", job.ID), zap.String("hash", job.Hash))
				w.release(context.Background(), job)
			default:
				w.logger.Info("Publish worker shutdown completed")
				return
			}
		}
	})
}

// Submit hands job to the worker. In inline mode the job runs before Submit
// returns and only infrastructure errors are reported.
func (w *PublishWorker) Submit(ctx context.Context, job PublishJob) error {
	if !w.async {
		return w.run(ctx, job)
	}

	select {
	case w.queue <- job:
		w.logger.Info("Queued publish job",
			zap.String("job_id", job.ID),
			zap.String("hash", job.Hash),
			zap.Int("queue_depth", len(w.queue)))
		return nil
	default:
		return ErrQueueFull
	}
}

func (w *PublishWorker) QueueDepth() int {
	return len(w.queue)
}

func (w *PublishWorker) run(ctx context.Context, job PublishJob) error {
	defer w.release(context.WithoutCancel(ctx), job)

	log := w.logger.With(zap.String("job_id", job.ID), zap.String("hash", job.Hash))
	log.Info("Running publish job",
		zap.String("url", job.URL),
		zap.Duration("queued_for", time.Since(job.EnqueuedAt)))

	result, err := w.publisher.MakePost(ctx, graph.Container{
		SourceURL: job.URL,
		Caption:   job.Caption,
		Kind:      job.Kind,
	})
	if err != nil {
		switch {
		case errors.Is(err, graph.ErrNoAccount),
			errors.Is(err, graph.ErrNoContainerID),
			errors.Is(err, graph.ErrContainerFailed),
			errors.Is(err, graph.ErrPollTimeout):
			log.Error("Publish job failed", zap.Error(err))
			return nil
		case errors.Is(err, context.Canceled):
			log.Warn("Publish job cancelled", zap.Error(err))
			return nil
		}
		log.Error("Publish job aborted", zap.Error(err))
		return err
	}

	if _, err := w.store.Create(context.WithoutCancel(ctx), job.Caption, job.Hash, result.MediaID); err != nil {
		if errors.Is(err, ErrDuplicatePost) {
			log.Warn("Post already recorded by a concurrent delivery")
			return nil
		}
		log.Error("Failed to record post", zap.Error(err))
		return err
	}

	log.Info("Publish job completed",
		zap.String("media_id", result.MediaID),
		zap.Int("polls", result.Polls),
		zap.Duration("duration", result.Duration))
	return nil
}

func (w *PublishWorker) release(ctx context.Context, job PublishJob) {
	if err := w.guard.Release(ctx, job.Hash, job.ID); err != nil {
		w.logger.Warn("Failed to release inflight hash", zap.String("hash", job.Hash), zap.Error(err))
	}
}
