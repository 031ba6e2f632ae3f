package graph

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrNoAccount means the Page has no Instagram Business account linked.
	ErrNoAccount = errors.New("no instagram business account linked")
	// ErrNoContainerID means container creation returned no id.
	ErrNoContainerID = errors.New("failed to create media container")
	// ErrContainerFailed means the platform reported the container as failed.
	ErrContainerFailed = errors.New("media container processing failed")
	// ErrPollTimeout means the container never reached a terminal status
	// within the poll policy bounds.
	ErrPollTimeout = errors.New("timed out waiting for media container")
)

type MediaKind string

const (
	MediaKindImage MediaKind = "image"
	MediaKindReels MediaKind = "reels"
)

// ParseMediaKind accepts the kind names case-insensitively.
func ParseMediaKind(s string) (MediaKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "image":
		return MediaKindImage, nil
	case "reels", "reel":
		return MediaKindReels, nil
	}
	return "", fmt.Errorf("unsupported media kind %q", s)
}

// Status is a container status_code normalized to lower case.
type Status string

const (
	StatusUnknown    Status = ""
	StatusInProgress Status = "in_progress"
	StatusFinished   Status = "finished"
	StatusError      Status = "error"
	StatusExpired    Status = "expired"
)

func (s Status) Terminal() bool {
	switch s {
	case StatusFinished, StatusError, StatusExpired:
		return true
	}
	return false
}

// Container is the platform-side staging object for one publish attempt.
type Container struct {
	ID        string
	Status    Status
	SourceURL string
	Caption   string
	Kind      MediaKind
}

// AccountSource yields the Instagram account id to publish to.
type AccountSource interface {
	Resolve(ctx context.Context, pageID string) (string, error)
}

// PollPolicy bounds the container status loop. Zero MaxAttempts or Timeout
// disables that bound; at least one should be set.
type PollPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// Jitter is the fraction of each delay randomized in both directions.
	Jitter      float64
	MaxAttempts int
	Timeout     time.Duration
}

func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		InitialInterval: 5 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
		Jitter:          0.2,
		MaxAttempts:     60,
		Timeout:         10 * time.Minute,
	}
}

// Delay returns the wait after the given 1-based attempt. r is a uniform
// sample in [0, 1) used for jitter.
func (p PollPolicy) Delay(attempt int, r float64) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}

	delay := float64(p.InitialInterval) * math.Pow(mult, float64(attempt-1))
	if p.MaxInterval > 0 && delay > float64(p.MaxInterval) {
		delay = float64(p.MaxInterval)
	}
	if p.Jitter > 0 {
		delay *= 1 + p.Jitter*(2*r-1)
	}
	if delay < 0 {
		delay = 0
	}
	return time.Duration(math.Round(delay))
}

// Result describes a successful publish.
type Result struct {
	AccountID   string
	ContainerID string
	MediaID     string
	Polls       int
	Duration    time.Duration
}

// Publisher runs the create, poll, publish sequence against the
// account-scoped host.
type Publisher struct {
	client   *Client
	accounts AccountSource
	pageID   string
	policy   PollPolicy
	logger   *zap.Logger
	random   func() float64
}

func NewPublisher(client *Client, accounts AccountSource, pageID string, policy PollPolicy, logger *zap.Logger) *Publisher {
	return &Publisher{
		client:   client,
		accounts: accounts,
		pageID:   pageID,
		policy:   policy,
		logger:   logger,
		random:   rand.Float64,
	}
}

// AccountID resolves the account to publish to, or ErrNoAccount.
func (p *Publisher) AccountID(ctx context.Context) (string, error) {
	id, err := p.accounts.Resolve(ctx, p.pageID)
	if err != nil {
		return "", fmt.Errorf("resolve instagram account: %w", err)
	}
	if id == "" {
		return "", ErrNoAccount
	}
	return id, nil
}

// MakePost creates a container for c and publishes it once processing
// finishes. Nothing is polled when container creation fails.
func (p *Publisher) MakePost(ctx context.Context, c Container) (*Result, error) {
	start := time.Now()
	p.logger.Debug("Making post",
		zap.String("url", c.SourceURL),
		zap.String("caption", c.Caption),
		zap.String("media_kind", string(c.Kind)))

	accountID, err := p.AccountID(ctx)
	if err != nil {
		return nil, err
	}

	containerID, err := p.CreateContainer(ctx, accountID, c)
	if err != nil {
		return nil, err
	}

	mediaID, polls, err := p.publish(ctx, accountID, containerID)
	if err != nil {
		return nil, err
	}

	return &Result{
		AccountID:   accountID,
		ContainerID: containerID,
		MediaID:     mediaID,
		Polls:       polls,
		Duration:    time.Since(start),
	}, nil
}

// CreateContainer stages c on the platform and returns the container id.
func (p *Publisher) CreateContainer(ctx context.Context, accountID string, c Container) (string, error) {
	p.logger.Debug("Creating media container",
		zap.String("url", c.SourceURL),
		zap.String("media_kind", string(c.Kind)))

	params := url.Values{"caption": {c.Caption}}
	switch c.Kind {
	case MediaKindImage:
		params.Set("image_url", c.SourceURL)
	case MediaKindReels:
		params.Set("video_url", c.SourceURL)
		params.Set("media_type", "REELS")
	default:
		return "", fmt.Errorf("unsupported media kind %q", c.Kind)
	}

	resp, err := p.client.Post(ctx, "/"+url.PathEscape(accountID)+"/media", params)
	if err != nil {
		return "", fmt.Errorf("create container: %w", err)
	}

	var created struct {
		ID string `json:"id"`
	}
	_ = resp.Decode(&created)

	if created.ID == "" {
		fields := []zap.Field{zap.Int("status_code", resp.StatusCode)}
		if apiErr := resp.Err(); apiErr != nil {
			fields = append(fields, zap.String("error", apiErr.Message), zap.Int("error_code", apiErr.Code))
			p.logger.Error("Failed to create media container", fields...)
			return "", errors.Join(ErrNoContainerID, apiErr)
		}
		p.logger.Error("Failed to create media container", fields...)
		return "", ErrNoContainerID
	}

	p.logger.Info("Created media container", zap.String("container_id", created.ID))
	return created.ID, nil
}

// CheckStatus returns the container's lower-cased status_code. A missing
// field is StatusUnknown.
func (p *Publisher) CheckStatus(ctx context.Context, containerID string) (Status, error) {
	resp, err := p.client.Get(ctx, "/"+url.PathEscape(containerID), url.Values{
		"fields": {"status_code"},
	})
	if err != nil {
		return StatusUnknown, fmt.Errorf("container status: %w", err)
	}
	if apiErr := resp.Err(); apiErr != nil {
		return StatusUnknown, apiErr
	}

	var body struct {
		StatusCode string `json:"status_code"`
	}
	if err := resp.Decode(&body); err != nil {
		return StatusUnknown, err
	}

	status := Status(strings.ToLower(body.StatusCode))
	p.logger.Info("Container status",
		zap.String("container_id", containerID),
		zap.String("status", string(status)))
	return status, nil
}

// Publish polls the container until it finishes, then publishes it. It
// returns the published media id when the platform reports one.
func (p *Publisher) Publish(ctx context.Context, accountID, containerID string) (string, error) {
	mediaID, _, err := p.publish(ctx, accountID, containerID)
	return mediaID, err
}

func (p *Publisher) publish(ctx context.Context, accountID, containerID string) (string, int, error) {
	p.logger.Debug("Publishing container", zap.String("container_id", containerID))

	var deadline time.Time
	if p.policy.Timeout > 0 {
		deadline = time.Now().Add(p.policy.Timeout)
	}

	for attempt := 1; ; attempt++ {
		status, err := p.CheckStatus(ctx, containerID)
		if err != nil {
			if ctx.Err() != nil {
				return "", attempt, ctx.Err()
			}
			// Transient errors count as an attempt and are retried.
			p.logger.Warn("Container status poll error, retrying",
				zap.String("container_id", containerID),
				zap.Int("attempt", attempt),
				zap.Error(err))
		} else {
			switch status {
			case StatusFinished:
				mediaID, err := p.publishContainer(ctx, accountID, containerID)
				return mediaID, attempt, err
			case StatusError, StatusExpired:
				p.logger.Error("Error publishing container",
					zap.String("container_id", containerID),
					zap.String("status", string(status)))
				return "", attempt, fmt.Errorf("container %s: %w", containerID, ErrContainerFailed)
			}
		}

		if p.policy.MaxAttempts > 0 && attempt >= p.policy.MaxAttempts {
			p.logger.Error("Container poll attempts exhausted",
				zap.String("container_id", containerID),
				zap.Int("attempts", attempt))
			return "", attempt, fmt.Errorf("container %s after %d polls: %w", containerID, attempt, ErrPollTimeout)
		}

		wait := p.policy.Delay(attempt, p.random())
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				p.logger.Error("Container poll deadline exceeded",
					zap.String("container_id", containerID),
					zap.Duration("timeout", p.policy.Timeout))
				return "", attempt, fmt.Errorf("container %s after %s: %w", containerID, p.policy.Timeout, ErrPollTimeout)
			}
			if wait > remaining {
				wait = remaining
			}
		}

		p.logger.Debug("Container still processing",
			zap.String("container_id", containerID),
			zap.Duration("next_poll", wait))

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return "", attempt, ctx.Err()
		case <-timer.C:
		}
	}
}

// publishContainer is fire-and-forget: a reply without an id is logged but
// not treated as a failure.
func (p *Publisher) publishContainer(ctx context.Context, accountID, containerID string) (string, error) {
	resp, err := p.client.Post(ctx, "/"+url.PathEscape(accountID)+"/media_publish", url.Values{
		"creation_id": {containerID},
	})
	if err != nil {
		return "", fmt.Errorf("publish container %s: %w", containerID, err)
	}

	var published struct {
		ID string `json:"id"`
	}
	_ = resp.Decode(&published)

	if apiErr := resp.Err(); apiErr != nil {
		p.logger.Warn("Publish call reported an error",
			zap.String("container_id", containerID),
			zap.String("error", apiErr.Message))
	}

	p.logger.Info("Published container",
		zap.String("container_id", containerID),
		zap.String("media_id", published.ID))
	return published.ID, nil
}
