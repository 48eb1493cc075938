package remote

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/go-cmp/cmp"

	"github.com/Mschirtzinger/tasksync/internal/remote/remotetest"
	"github.com/Mschirtzinger/tasksync/internal/revision"
	"github.com/Mschirtzinger/tasksync/internal/task"
)

const testToken = "secret-token"

// recordingTimer fires immediately and remembers every requested delay.
type recordingTimer struct {
	mu     sync.Mutex
	delays []time.Duration
	c      chan time.Time
}

func newRecordingTimer() *recordingTimer {
	return &recordingTimer{c: make(chan time.Time, 1)}
}

func (t *recordingTimer) Start(d time.Duration) {
	t.mu.Lock()
	t.delays = append(t.delays, d)
	t.mu.Unlock()
	select {
	case t.c <- time.Now():
	default:
	}
}

func (t *recordingTimer) Stop() {}

func (t *recordingTimer) C() <-chan time.Time { return t.c }

func (t *recordingTimer) Delays() []time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]time.Duration(nil), t.delays...)
}

func setup(t *testing.T) (*Client, *remotetest.Server, *revision.Memory, *recordingTimer) {
	t.Helper()

	srv := remotetest.NewServer(testToken)
	t.Cleanup(srv.Close)

	tracker := revision.NewMemory(0)
	timer := newRecordingTimer()
	client, err := New(Config{
		BaseURL:  srv.URL,
		Token:    testToken,
		Timeout:  5 * time.Second,
		NewTimer: func() backoff.Timer { return timer },
		Logger:   log.New(io.Discard, "", 0),
	}, tracker)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return client, srv, tracker, timer
}

func item(id, text string) task.Item {
	changed := time.Unix(1767225660, 0)
	return task.Item{
		ID:        id,
		Text:      text,
		CreatedAt: time.Unix(1767225600, 0),
		ChangedAt: &changed,
		Color:     task.DefaultColor,
	}
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(Config{}, revision.NewMemory(0)); err == nil {
		t.Error("expected error for empty base URL")
	}
	if _, err := New(Config{BaseURL: "http://example.invalid"}, nil); err == nil {
		t.Error("expected error for nil tracker")
	}
}

func TestFetchAll_UpdatesRevision(t *testing.T) {
	client, srv, tracker, _ := setup(t)
	want := []task.Item{item("a", "one"), item("b", "two")}
	srv.Seed(want, 17)

	snap, err := client.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if diff := cmp.Diff(want, snap.Items); diff != "" {
		t.Errorf("items mismatch (-want +got):\n%s", diff)
	}
	if snap.Revision != 17 || tracker.Get() != 17 {
		t.Errorf("revision = %d, tracker = %d, want 17", snap.Revision, tracker.Get())
	}
}

func TestFetchAll_RetriesThenFails(t *testing.T) {
	client, srv, tracker, timer := setup(t)
	tracker.Set(5)
	srv.FailNext(http.StatusServiceUnavailable, http.StatusInternalServerError, http.StatusBadGateway)

	_, err := client.FetchAll(context.Background())
	if !errors.Is(err, ErrServerError) {
		t.Fatalf("expected server error, got %v", err)
	}
	if got := srv.Requests("GET /list"); got != 3 {
		t.Errorf("attempts = %d, want 3", got)
	}
	if tracker.Get() != 5 {
		t.Errorf("failed fetch must not touch the tracker, got %d", tracker.Get())
	}

	delays := timer.Delays()
	if len(delays) != 2 {
		t.Fatalf("expected 2 backoff delays, got %v", delays)
	}
	policy := DefaultRetryPolicy()
	for n, d := range delays {
		base := policy.Delay(n)
		band := time.Duration(float64(base) * policy.Jitter / 2)
		if d < base-band-time.Millisecond || d > base+band+time.Millisecond {
			t.Errorf("delay %d = %v, want %v +- %v", n, d, base, band)
		}
	}
	if delays[1] <= delays[0] {
		t.Errorf("delays should increase: %v", delays)
	}
}

func TestFetchAll_SucceedsOnSecondAttempt(t *testing.T) {
	client, srv, _, timer := setup(t)
	srv.Seed([]task.Item{item("a", "one")}, 3)
	srv.FailNext(http.StatusServiceUnavailable)

	snap, err := client.FetchAll(context.Background())
	if err != nil {
		t.Fatalf("FetchAll failed: %v", err)
	}
	if len(snap.Items) != 1 {
		t.Errorf("expected 1 item, got %d", len(snap.Items))
	}
	if got := srv.Requests("GET /list"); got != 2 {
		t.Errorf("attempts = %d, want 2", got)
	}
	if len(timer.Delays()) != 1 {
		t.Errorf("expected 1 backoff delay, got %v", timer.Delays())
	}
}

func TestFetchAll_DoesNotRetryClientErrors(t *testing.T) {
	client, srv, _, _ := setup(t)
	srv.FailNext(http.StatusUnauthorized)

	_, err := client.FetchAll(context.Background())
	if KindOf(err) != KindUnauthorized {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	if got := srv.Requests("GET /list"); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestFetchAll_ContextCanceled(t *testing.T) {
	srv := remotetest.NewServer(testToken)
	defer srv.Close()
	srv.FailNext(http.StatusServiceUnavailable, http.StatusServiceUnavailable, http.StatusServiceUnavailable)

	client, err := New(Config{
		BaseURL: srv.URL,
		Token:   testToken,
		Retry:   &RetryPolicy{MinDelay: time.Hour, MaxDelay: time.Hour, Factor: 1.5, Jitter: 0.05, MaxRetries: 2},
		Logger:  log.New(io.Discard, "", 0),
	}, revision.NewMemory(0))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	done := make(chan error, 1)
	go func() {
		_, err := client.FetchAll(ctx)
		done <- err
	}()

	select {
	case err := <-done:
		if KindOf(err) != KindServerError {
			t.Errorf("abandoned retry should surface as server error, got %v", err)
		}
		if !errors.Is(err, context.Canceled) {
			t.Errorf("expected context.Canceled in chain, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("retry loop was not abandoned on cancel")
	}
}

func TestWrites_SendRevisionAndUpdateTracker(t *testing.T) {
	client, srv, tracker, _ := setup(t)
	srv.Seed(nil, 4)
	tracker.Set(4)
	ctx := context.Background()

	created, err := client.Create(ctx, item("a", "Buy milk"))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if created.Text != "Buy milk" || tracker.Get() != 5 {
		t.Errorf("created = %+v, tracker = %d", created, tracker.Get())
	}

	edited := item("a", "Buy oat milk")
	if _, err := client.Update(ctx, edited); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	got, err := client.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Text != "Buy oat milk" {
		t.Errorf("Get text = %q", got.Text)
	}

	removed, err := client.Delete(ctx, edited)
	if err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if removed.ID != "a" || tracker.Get() != 7 {
		t.Errorf("removed = %+v, tracker = %d", removed, tracker.Get())
	}
	if len(srv.Items()) != 0 {
		t.Errorf("server still has %d items", len(srv.Items()))
	}
}

func TestWrites_NeverRetry(t *testing.T) {
	client, srv, _, timer := setup(t)
	srv.FailNext(http.StatusServiceUnavailable)

	_, err := client.Create(context.Background(), item("a", "x"))
	if KindOf(err) != KindServerError {
		t.Fatalf("expected server error, got %v", err)
	}
	if got := srv.Requests("POST /list"); got != 1 {
		t.Errorf("attempts = %d, want exactly 1", got)
	}
	if len(timer.Delays()) != 0 {
		t.Error("writes must not back off")
	}
}

func TestWrites_StaleRevisionIsBadRequest(t *testing.T) {
	client, srv, tracker, _ := setup(t)
	srv.Seed(nil, 10)
	tracker.Set(9)

	_, err := client.Create(context.Background(), item("a", "x"))
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected bad request, got %v", err)
	}
}

func TestUpdate_UnknownIsNotFound(t *testing.T) {
	client, _, _, _ := setup(t)
	_, err := client.Update(context.Background(), item("ghost", "x"))
	if KindOf(err) != KindNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSyncBatch(t *testing.T) {
	client, srv, tracker, _ := setup(t)
	srv.Seed([]task.Item{item("old", "x")}, 2)
	tracker.Set(2)

	local := []task.Item{item("a", "one"), item("b", "two")}
	snap, err := client.SyncBatch(context.Background(), local)
	if err != nil {
		t.Fatalf("SyncBatch failed: %v", err)
	}
	if diff := cmp.Diff(local, snap.Items); diff != "" {
		t.Errorf("merged mismatch (-want +got):\n%s", diff)
	}
	if snap.Revision != 3 {
		t.Errorf("revision = %d, want 3", snap.Revision)
	}
	if tracker.Get() != 2 {
		t.Errorf("SyncBatch must leave the tracker to the caller, got %d", tracker.Get())
	}
}

func TestTransportFailureIsServerError(t *testing.T) {
	client, srv, _, _ := setup(t)
	srv.SetOffline(true)

	_, err := client.Create(context.Background(), item("a", "x"))
	if KindOf(err) != KindServerError {
		t.Fatalf("expected server error, got %v", err)
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		code int
		want Kind
	}{
		{400, KindBadRequest},
		{409, KindBadRequest},
		{422, KindBadRequest},
		{401, KindUnauthorized},
		{403, KindUnauthorized},
		{404, KindNotFound},
		{500, KindServerError},
		{503, KindServerError},
	}
	for _, tt := range tests {
		t.Run(strconv.Itoa(tt.code), func(t *testing.T) {
			if got := classifyStatus(tt.code); got != tt.want {
				t.Errorf("classifyStatus(%d) = %v, want %v", tt.code, got, tt.want)
			}
		})
	}
}

func TestRetryPolicy_Delay(t *testing.T) {
	p := DefaultRetryPolicy()
	want := []time.Duration{2 * time.Second, 3 * time.Second, 4500 * time.Millisecond}
	for n, w := range want {
		if got := p.Delay(n); got != w {
			t.Errorf("Delay(%d) = %v, want %v", n, got, w)
		}
	}
	if got := p.Delay(50); got != p.MaxDelay {
		t.Errorf("Delay(50) = %v, want cap %v", got, p.MaxDelay)
	}
}
