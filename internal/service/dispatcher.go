package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/ifuryst/lolify/internal/models"
	"github.com/ifuryst/lolify/internal/service/graph"
)

// Outcome is the plain-text acknowledgment returned to the webhook caller.
type Outcome string

const (
	OutcomeSuccessful    Outcome = "Successful"
	OutcomeAlreadyExists Outcome = "Already Exists"
	OutcomeAcknowledged  Outcome = "EVENT_RECEIVED"
)

// VideoHasher computes the content hash of the video behind a URL.
type VideoHasher interface {
	Hash(ctx context.Context, url string) (string, error)
}

// JobQueue accepts publish jobs.
type JobQueue interface {
	Submit(ctx context.Context, job PublishJob) error
}

// Dispatcher turns webhook deliveries into publish jobs, skipping videos
// that were already published or are being published right now.
type Dispatcher struct {
	verifyToken string
	hasher      VideoHasher
	store       *PostStore
	guard       InflightGuard
	jobs        JobQueue
	logger      *zap.Logger
}

func NewDispatcher(verifyToken string, hasher VideoHasher, store *PostStore, guard InflightGuard, jobs JobQueue, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		verifyToken: verifyToken,
		hasher:      hasher,
		store:       store,
		guard:       guard,
		jobs:        jobs,
		logger:      logger,
	}
}

// Verify answers the subscription handshake. It returns the challenge to
// echo and whether the caller presented the configured token.
func (d *Dispatcher) Verify(mode, token, challenge string) (string, bool) {
	if mode != "subscribe" || token == "" || d.verifyToken == "" {
		return "", false
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(d.verifyToken)) != 1 {
		d.logger.Warn("Webhook verification failed: token mismatch")
		return "", false
	}
	d.logger.Info("Webhook subscription verified")
	return challenge, true
}

// HandleEvent processes the first reel attachment of the first message in
// event. Returned errors are infrastructure failures.
func (d *Dispatcher) HandleEvent(ctx context.Context, event *models.WebhookEvent) (Outcome, error) {
	msg := event.FirstMessage()
	if msg == nil || msg.Message == nil {
		d.logger.Debug("Webhook event without a message")
		return OutcomeAcknowledged, nil
	}
	if msg.Message.IsEcho {
		d.logger.Debug("Skipping echo message", zap.String("mid", msg.Message.Mid))
		return OutcomeAcknowledged, nil
	}

	if msg.Sender.ID != "" {
		if _, err := d.store.EnsureUser(ctx, msg.Sender.ID); err != nil {
			return "", err
		}
	}

	reel := msg.FirstReel()
	if reel == nil {
		d.logger.Debug("Message has no reel attachment",
			zap.String("sender_id", msg.Sender.ID),
			zap.Int("attachments", len(msg.Message.Attachments)))
		return OutcomeAcknowledged, nil
	}

	d.logger.Info("Received reel",
		zap.String("sender_id", msg.Sender.ID),
		zap.String("title", reel.Payload.Title))

	return d.submit(ctx, reel.Payload.URL, reel.Payload.Title, graph.MediaKindReels, msg.Sender.ID)
}

// Submit runs the dedup and publish flow for a URL given directly.
func (d *Dispatcher) Submit(ctx context.Context, url, caption string, kind graph.MediaKind) (Outcome, error) {
	return d.submit(ctx, url, caption, kind, "")
}

func (d *Dispatcher) submit(ctx context.Context, url, caption string, kind graph.MediaKind, senderID string) (Outcome, error) {
	hash, err := d.hasher.Hash(ctx, url)
	if err != nil {
		return "", fmt.Errorf("hash video: %w", err)
	}

	job := NewPublishJob(hash, url, caption, kind, senderID)
	acquired, err := d.guard.Acquire(ctx, hash, job.ID)
	if err != nil {
		return "", err
	}
	if !acquired {
		d.logger.Info("Video is already being published", zap.String("hash", hash))
		return OutcomeAlreadyExists, nil
	}

	// Checked while holding the hash so a job finishing in between is seen.
	existing, err := d.store.FindByHash(ctx, hash)
	if err != nil {
		d.release(ctx, job)
		return "", err
	}
	if existing != nil {
		d.release(ctx, job)
		d.logger.Info("Video already published",
			zap.String("hash", hash),
			zap.Uint("post_id", existing.ID))
		return OutcomeAlreadyExists, nil
	}

	// The worker owns the hash from here on.
	if err := d.jobs.Submit(ctx, job); err != nil {
		if errors.Is(err, ErrQueueFull) {
			d.release(ctx, job)
		}
		return "", err
	}
	return OutcomeSuccessful, nil
}

func (d *Dispatcher) release(ctx context.Context, job PublishJob) {
	if err := d.guard.Release(context.WithoutCancel(ctx), job.Hash, job.ID); err != nil {
		d.logger.Warn("Failed to release inflight hash", zap.String("hash", job.Hash), zap.Error(err))
	}
}
