package graph

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
)

const testAccountID = "17841400000000000"

// fakeGraph scripts container status replies and records every call.
type fakeGraph struct {
	mu          sync.Mutex
	containerID string
	statuses    []string
	polls       int
	publishes   int
	creates     int
	lastCreate  map[string]string
	publishedAt int // poll count when media_publish was called
}

func (f *fakeGraph) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	q := r.URL.Query()
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/"+testAccountID+"/media":
		f.creates++
		f.lastCreate = map[string]string{
			"caption":    q.Get("caption"),
			"video_url":  q.Get("video_url"),
			"image_url":  q.Get("image_url"),
			"media_type": q.Get("media_type"),
		}
		if f.containerID == "" {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": f.containerID})
	case r.Method == http.MethodGet && r.URL.Path == "/"+f.containerID:
		status := "IN_PROGRESS"
		if f.polls < len(f.statuses) {
			status = f.statuses[f.polls]
		}
		f.polls++
		if status == "" {
			_, _ = w.Write([]byte(`{"id":"` + f.containerID + `"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": f.containerID, "status_code": status})
	case r.Method == http.MethodPost && r.URL.Path == "/"+testAccountID+"/media_publish":
		f.publishes++
		f.publishedAt = f.polls
		if q.Get("creation_id") != f.containerID {
			http.Error(w, "bad creation_id", http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"id":"media-1"}`))
	default:
		http.NotFound(w, r)
	}
}

func fastPolicy() PollPolicy {
	return PollPolicy{
		InitialInterval: time.Millisecond,
		MaxInterval:     2 * time.Millisecond,
		Multiplier:      2,
		MaxAttempts:     20,
		Timeout:         5 * time.Second,
	}
}

func newTestPublisher(t *testing.T, fake *fakeGraph, policy PollPolicy) *Publisher {
	t.Helper()
	server := httptest.NewServer(fake)
	t.Cleanup(server.Close)
	return NewPublisher(newTestClient(server), StaticAccount(testAccountID), "page-1", policy, zap.NewNop())
}

func reel() Container {
	return Container{SourceURL: "https://cdn.example.com/reel.mp4", Caption: "funny cat", Kind: MediaKindReels}
}

func TestMakePostPublishesAfterFinished(t *testing.T) {
	fake := &fakeGraph{containerID: "c-1", statuses: []string{"IN_PROGRESS", "IN_PROGRESS", "FINISHED"}}
	p := newTestPublisher(t, fake, fastPolicy())

	result, err := p.MakePost(context.Background(), reel())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if fake.publishes != 1 {
		t.Errorf("expected exactly one publish call, got %d", fake.publishes)
	}
	if fake.publishedAt != 3 {
		t.Errorf("expected publish after the third poll, got after %d", fake.publishedAt)
	}
	if result.MediaID != "media-1" || result.ContainerID != "c-1" || result.Polls != 3 {
		t.Errorf("unexpected result: %+v", result)
	}
	if fake.lastCreate["video_url"] != "https://cdn.example.com/reel.mp4" ||
		fake.lastCreate["media_type"] != "REELS" ||
		fake.lastCreate["caption"] != "funny cat" {
		t.Errorf("unexpected create params: %+v", fake.lastCreate)
	}
}

func TestMakePostStopsOnError(t *testing.T) {
	fake := &fakeGraph{containerID: "c-1", statuses: []string{"in_progress", "ERROR"}}
	p := newTestPublisher(t, fake, fastPolicy())

	_, err := p.MakePost(context.Background(), reel())
	if !errors.Is(err, ErrContainerFailed) {
		t.Fatalf("expected ErrContainerFailed, got %v", err)
	}
	if fake.publishes != 0 {
		t.Errorf("expected zero publish calls, got %d", fake.publishes)
	}
	if fake.polls != 2 {
		t.Errorf("expected 2 polls, got %d", fake.polls)
	}
}

func TestMakePostExpiredIsTerminal(t *testing.T) {
	fake := &fakeGraph{containerID: "c-1", statuses: []string{"EXPIRED"}}
	p := newTestPublisher(t, fake, fastPolicy())

	if _, err := p.MakePost(context.Background(), reel()); !errors.Is(err, ErrContainerFailed) {
		t.Fatalf("expected ErrContainerFailed, got %v", err)
	}
	if fake.publishes != 0 {
		t.Errorf("expected zero publish calls, got %d", fake.publishes)
	}
}

func TestMakePostWithoutContainerIDSkipsPolling(t *testing.T) {
	fake := &fakeGraph{}
	p := newTestPublisher(t, fake, fastPolicy())

	_, err := p.MakePost(context.Background(), reel())
	if !errors.Is(err, ErrNoContainerID) {
		t.Fatalf("expected ErrNoContainerID, got %v", err)
	}
	if fake.creates != 1 {
		t.Errorf("expected one create call, got %d", fake.creates)
	}
	if fake.polls != 0 || fake.publishes != 0 {
		t.Errorf("expected no polling or publishing, got %d polls and %d publishes", fake.polls, fake.publishes)
	}
}

func TestUnknownStatusKeepsPolling(t *testing.T) {
	// "" means the reply lacked status_code entirely.
	fake := &fakeGraph{containerID: "c-1", statuses: []string{"", "SOMETHING_NEW", "FINISHED"}}
	p := newTestPublisher(t, fake, fastPolicy())

	if _, err := p.MakePost(context.Background(), reel()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fake.polls != 3 || fake.publishes != 1 {
		t.Errorf("expected 3 polls and 1 publish, got %d and %d", fake.polls, fake.publishes)
	}
}

func TestPollAttemptsAreBounded(t *testing.T) {
	fake := &fakeGraph{containerID: "c-1"} // always IN_PROGRESS
	policy := fastPolicy()
	policy.MaxAttempts = 4
	p := newTestPublisher(t, fake, policy)

	_, err := p.MakePost(context.Background(), reel())
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("expected ErrPollTimeout, got %v", err)
	}
	if fake.polls != 4 {
		t.Errorf("expected 4 polls, got %d", fake.polls)
	}
	if fake.publishes != 0 {
		t.Errorf("expected zero publish calls, got %d", fake.publishes)
	}
}

func TestPollDeadlineIsBounded(t *testing.T) {
	fake := &fakeGraph{containerID: "c-1"}
	policy := fastPolicy()
	policy.MaxAttempts = 0
	policy.Timeout = 20 * time.Millisecond
	p := newTestPublisher(t, fake, policy)

	_, err := p.MakePost(context.Background(), reel())
	if !errors.Is(err, ErrPollTimeout) {
		t.Fatalf("expected ErrPollTimeout, got %v", err)
	}
}

func TestPollStopsOnCancel(t *testing.T) {
	fake := &fakeGraph{containerID: "c-1"}
	policy := fastPolicy()
	policy.InitialInterval = time.Hour
	policy.MaxInterval = time.Hour
	p := newTestPublisher(t, fake, policy)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := p.Publish(ctx, testAccountID, "c-1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMakePostNoAccount(t *testing.T) {
	fake := &fakeGraph{containerID: "c-1"}
	server := httptest.NewServer(fake)
	defer server.Close()
	p := NewPublisher(newTestClient(server), StaticAccount(""), "page-1", fastPolicy(), zap.NewNop())

	if _, err := p.MakePost(context.Background(), reel()); !errors.Is(err, ErrNoAccount) {
		t.Fatalf("expected ErrNoAccount, got %v", err)
	}
	if fake.creates != 0 {
		t.Errorf("expected no container created, got %d", fake.creates)
	}
}

func TestCreateImageContainer(t *testing.T) {
	fake := &fakeGraph{containerID: "c-img"}
	p := newTestPublisher(t, fake, fastPolicy())

	id, err := p.CreateContainer(context.Background(), testAccountID, Container{
		SourceURL: "https://cdn.example.com/a.jpg",
		Caption:   "photo",
		Kind:      MediaKindImage,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != "c-img" {
		t.Errorf("expected c-img, got %q", id)
	}
	if fake.lastCreate["image_url"] != "https://cdn.example.com/a.jpg" || fake.lastCreate["media_type"] != "" {
		t.Errorf("unexpected create params: %+v", fake.lastCreate)
	}
}

func TestCreateContainerAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"Invalid OAuth access token","type":"OAuthException","code":190}}`))
	}))
	defer server.Close()
	p := NewPublisher(newTestClient(server), StaticAccount(testAccountID), "page-1", fastPolicy(), zap.NewNop())

	_, err := p.CreateContainer(context.Background(), testAccountID, reel())
	if !errors.Is(err, ErrNoContainerID) {
		t.Fatalf("expected ErrNoContainerID, got %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.Code != 190 {
		t.Errorf("expected wrapped APIError code 190, got %v", err)
	}
}

func TestCheckStatusLowercases(t *testing.T) {
	fake := &fakeGraph{containerID: "c-1", statuses: []string{"FINISHED"}}
	p := newTestPublisher(t, fake, fastPolicy())

	status, err := p.CheckStatus(context.Background(), "c-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if status != StatusFinished || !status.Terminal() {
		t.Errorf("expected terminal finished, got %q", status)
	}
}

func TestPollPolicyDelay(t *testing.T) {
	p := PollPolicy{InitialInterval: 5 * time.Second, MaxInterval: 30 * time.Second, Multiplier: 2}

	want := []time.Duration{5 * time.Second, 10 * time.Second, 20 * time.Second, 30 * time.Second, 30 * time.Second}
	for i, w := range want {
		if got := p.Delay(i+1, 0.5); got != w {
			t.Errorf("attempt %d: expected %s, got %s", i+1, w, got)
		}
	}

	p.Jitter = 0.2
	if got := p.Delay(1, 0); got != 4*time.Second {
		t.Errorf("expected low jitter bound 4s, got %s", got)
	}
	if got := p.Delay(1, 1); got != 6*time.Second {
		t.Errorf("expected high jitter bound 6s, got %s", got)
	}
}

func TestParseMediaKind(t *testing.T) {
	for in, want := range map[string]MediaKind{"REELS": MediaKindReels, "reel": MediaKindReels, " Image ": MediaKindImage} {
		got, err := ParseMediaKind(in)
		if err != nil || got != want {
			t.Errorf("ParseMediaKind(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseMediaKind("story"); err == nil || !strings.Contains(err.Error(), "story") {
		t.Errorf("expected error naming the kind, got %v", err)
	}
}
