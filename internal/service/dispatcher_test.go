package service

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"go.uber.org/zap"

	"github.com/ifuryst/lolify/internal/config"
	"github.com/ifuryst/lolify/internal/models"
	"github.com/ifuryst/lolify/internal/service/graph"
)

type fakeHasher struct {
	hashes map[string]string
	err    error
	calls  int
}

func (f *fakeHasher) Hash(_ context.Context, url string) (string, error) {
	f.calls++
	if f.err != nil {
		return "", f.err
	}
	return f.hashes[url], nil
}

type dispatcherFixture struct {
	dispatcher *Dispatcher
	store      *PostStore
	guard      *MemoryGuard
	publisher  *fakePublisher
	hasher     *fakeHasher
}

func newDispatcherFixture(t *testing.T) *dispatcherFixture {
	t.Helper()
	store := newTestStore(t)
	guard := NewMemoryGuard()
	pub := &fakePublisher{}
	hasher := &fakeHasher{hashes: map[string]string{
		"https://cdn.example.com/reel.mp4":  testHash,
		"https://cdn.example.com/other.mp4": "other-hash",
	}}
	worker := NewPublishWorker(&config.PublisherConfig{Async: false}, pub, store, guard, zap.NewNop())
	return &dispatcherFixture{
		dispatcher: NewDispatcher("s3cret", hasher, store, guard, worker, zap.NewNop()),
		store:      store,
		guard:      guard,
		publisher:  pub,
		hasher:     hasher,
	}
}

func reelEvent(t *testing.T, url string) *models.WebhookEvent {
	t.Helper()
	body := `{"object":"instagram","entry":[{"id":"1","messaging":[{"sender":{"id":"777"},"message":{"mid":"m1","attachments":[{"type":"ig_reel","payload":{"title":"so funny","url":"` + url + `"}}]}}]}]}`
	var event models.WebhookEvent
	if err := json.Unmarshal([]byte(body), &event); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	return &event
}

func TestVerify(t *testing.T) {
	d := newDispatcherFixture(t).dispatcher

	tests := []struct {
		name      string
		mode      string
		token     string
		wantOK    bool
		wantReply string
	}{
		{"match", "subscribe", "s3cret", true, "XYZ"},
		{"wrong token", "subscribe", "nope", false, ""},
		{"wrong mode", "unsubscribe", "s3cret", false, ""},
		{"empty token", "subscribe", "", false, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply, ok := d.Verify(tt.mode, tt.token, "XYZ")
			if ok != tt.wantOK || reply != tt.wantReply {
				t.Errorf("Verify() = %q, %v; want %q, %v", reply, ok, tt.wantReply, tt.wantOK)
			}
		})
	}
}

func TestHandleEventPublishesNewReel(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()

	outcome, err := f.dispatcher.HandleEvent(ctx, reelEvent(t, "https://cdn.example.com/reel.mp4"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome != OutcomeSuccessful {
		t.Errorf("expected %q, got %q", OutcomeSuccessful, outcome)
	}

	post, _ := f.store.FindByHash(ctx, testHash)
	if post == nil || post.Caption != "so funny" {
		t.Errorf("expected recorded post with caption, got %+v", post)
	}
	if f.publisher.calls[0].Kind != graph.MediaKindReels {
		t.Errorf("expected reels container, got %q", f.publisher.calls[0].Kind)
	}

	var users int64
	f.store.db.Model(&models.User{}).Where("platform_account_id = ?", "777").Count(&users)
	if users != 1 {
		t.Errorf("expected sender user recorded, got %d", users)
	}
}

func TestHandleEventDuplicateSkipsPublisher(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()
	event := reelEvent(t, "https://cdn.example.com/reel.mp4")

	if _, err := f.dispatcher.HandleEvent(ctx, event); err != nil {
		t.Fatalf("first delivery: %v", err)
	}
	outcome, err := f.dispatcher.HandleEvent(ctx, event)
	if err != nil {
		t.Fatalf("second delivery: %v", err)
	}
	if outcome != OutcomeAlreadyExists {
		t.Errorf("expected %q, got %q", OutcomeAlreadyExists, outcome)
	}
	if n := f.publisher.callCount(); n != 1 {
		t.Errorf("expected one publish, got %d", n)
	}
	if f.guard.Len() != 0 {
		t.Error("expected guard released")
	}
}

func TestHandleEventInflightIsAlreadyExists(t *testing.T) {
	f := newDispatcherFixture(t)
	ctx := context.Background()
	_, _ = f.guard.Acquire(ctx, testHash, "other-delivery")

	outcome, err := f.dispatcher.HandleEvent(ctx, reelEvent(t, "https://cdn.example.com/reel.mp4"))
	if err != nil {
		t.Fatalf("handle: %v", err)
	}
	if outcome != OutcomeAlreadyExists {
		t.Errorf("expected %q, got %q", OutcomeAlreadyExists, outcome)
	}
	if f.publisher.callCount() != 0 {
		t.Error("expected no publish while the hash is in flight")
	}
}

func TestHandleEventIgnoresNonReels(t *testing.T) {
	f := newDispatcherFixture(t)

	for name, body := range map[string]string{
		"text only":  `{"entry":[{"messaging":[{"sender":{"id":"1"},"message":{"text":"hi"}}]}]}`,
		"image":      `{"entry":[{"messaging":[{"sender":{"id":"1"},"message":{"attachments":[{"type":"image","payload":{"url":"https://x/y.jpg"}}]}}]}]}`,
		"echo":       `{"entry":[{"messaging":[{"sender":{"id":"1"},"message":{"is_echo":true,"attachments":[{"type":"ig_reel","payload":{"url":"https://cdn.example.com/reel.mp4"}}]}}]}]}`,
		"no entries": `{"object":"instagram","entry":[]}`,
		"read event": `{"entry":[{"messaging":[{"sender":{"id":"1"}}]}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			var event models.WebhookEvent
			if err := json.Unmarshal([]byte(body), &event); err != nil {
				t.Fatalf("unmarshal: %v", err)
			}
			outcome, err := f.dispatcher.HandleEvent(context.Background(), &event)
			if err != nil {
				t.Fatalf("handle: %v", err)
			}
			if outcome != OutcomeAcknowledged {
				t.Errorf("expected %q, got %q", OutcomeAcknowledged, outcome)
			}
		})
	}
	if f.hasher.calls != 0 {
		t.Errorf("expected no downloads, got %d", f.hasher.calls)
	}
}

func TestHandleEventHashErrorPropagates(t *testing.T) {
	f := newDispatcherFixture(t)
	f.hasher.err = errors.New("disk full")

	_, err := f.dispatcher.HandleEvent(context.Background(), reelEvent(t, "https://cdn.example.com/reel.mp4"))
	if err == nil {
		t.Fatal("expected error")
	}
	if f.publisher.callCount() != 0 {
		t.Error("expected no publish after a hashing failure")
	}
}

type fullQueue struct{}

func (fullQueue) Submit(context.Context, PublishJob) error { return ErrQueueFull }

func TestSubmitQueueFullReleasesHash(t *testing.T) {
	f := newDispatcherFixture(t)
	d := NewDispatcher("s3cret", f.hasher, f.store, f.guard, fullQueue{}, zap.NewNop())

	_, err := d.Submit(context.Background(), "https://cdn.example.com/other.mp4", "c", graph.MediaKindReels)
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if f.guard.Len() != 0 {
		t.Error("expected hash released when the job was not queued")
	}
}
