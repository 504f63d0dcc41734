package worker

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/tubetext/tubetext/internal/extractor"
	"github.com/tubetext/tubetext/internal/keys"
	"github.com/tubetext/tubetext/internal/model"
	"github.com/tubetext/tubetext/internal/queue"
	"github.com/tubetext/tubetext/internal/store"
	"github.com/tubetext/tubetext/internal/webhook"
)

type fakeJobs struct {
	finished map[string][]byte
	failed   map[string]string
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{finished: map[string][]byte{}, failed: map[string]string{}}
}

func (f *fakeJobs) Dequeue(context.Context, time.Duration) (*queue.JobState, error) {
	return nil, nil
}

func (f *fakeJobs) MarkFinished(_ context.Context, jobID string, result []byte) error {
	f.finished[jobID] = result
	return nil
}

func (f *fakeJobs) MarkFailed(_ context.Context, jobID, excInfo string) error {
	f.failed[jobID] = excInfo
	return nil
}

type statusChange struct {
	Status string
	Error  string
}

type fakeStore struct {
	job         *model.ExtractionJob
	upserts     []*model.SubtitleRecord
	failures    []string
	statuses    map[string][]statusChange
	deliveries  map[string]bool
	pendingHook []*model.ExtractionJob
	expired     int64
	reaped      bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{statuses: map[string][]statusChange{}, deliveries: map[string]bool{}}
}

func (f *fakeStore) UpdateJobStatus(_ context.Context, jobID, status string, _ []byte, errMsg string) error {
	f.statuses[jobID] = append(f.statuses[jobID], statusChange{status, errMsg})
	return nil
}

func (f *fakeStore) UpsertSubtitle(_ context.Context, rec *model.SubtitleRecord) error {
	f.upserts = append(f.upserts, rec)
	return nil
}

func (f *fakeStore) MarkSubtitleFailed(_ context.Context, videoID, _, _, errText string) error {
	f.failures = append(f.failures, videoID+": "+errText)
	return nil
}

func (f *fakeStore) GetJob(_ context.Context, _ string) (*model.ExtractionJob, error) {
	if f.job == nil {
		return nil, store.ErrNotFound
	}
	return f.job, nil
}

func (f *fakeStore) UpdateWebhookDelivery(_ context.Context, jobID string, delivered bool, _, _ string) error {
	f.deliveries[jobID] = delivered
	return nil
}

func (f *fakeStore) ListPendingWebhookJobs(_ context.Context, limit int) ([]*model.ExtractionJob, error) {
	if len(f.pendingHook) > limit {
		return f.pendingHook[:limit], nil
	}
	return f.pendingHook, nil
}

func (f *fakeStore) DeleteExpiredSubtitles(_ context.Context, _ time.Time) (int64, error) {
	f.reaped = true
	return f.expired, nil
}

type fakeCache struct {
	sets map[string]any
	// order interleaves cache writes with job-status writes.
	order *[]string
}

func (f *fakeCache) Set(_ context.Context, key string, value any, _ time.Duration) {
	f.sets[key] = value
	if f.order != nil {
		*f.order = append(*f.order, "cache:"+key)
	}
}

type fakeExtractor struct {
	result *extractor.Extracted
	errs   []error
	calls  int
}

func (f *fakeExtractor) Extract(_ context.Context, videoID, language string, _ bool) (*extractor.Extracted, error) {
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	if f.result != nil {
		return f.result, nil
	}
	return &extractor.Extracted{
		VideoID:   videoID,
		Title:     "Test Video",
		Language:  language,
		Segments:  []model.Segment{{Start: 0, Duration: 2, Text: "hello world"}},
		PlainText: "hello world",
		Method:    model.MethodPrimary,
	}, nil
}

type fakeNotifier struct {
	sent    []webhook.Payload
	urls    []string
	success bool
}

func (f *fakeNotifier) Send(_ context.Context, url string, p webhook.Payload) webhook.DeliveryResult {
	f.urls = append(f.urls, url)
	f.sent = append(f.sent, p)
	return webhook.DeliveryResult{Success: f.success, Attempt: 1}
}

type capturedError struct {
	err  error
	tags map[string]string
}

type harness struct {
	rt       *Runtime
	jobs     *fakeJobs
	store    *fakeStore
	cache    *fakeCache
	ex       *fakeExtractor
	hook     *fakeNotifier
	captured []capturedError
}

func newHarness(opts Options) *harness {
	h := &harness{
		jobs:  newFakeJobs(),
		store: newFakeStore(),
		cache: &fakeCache{sets: map[string]any{}},
		ex:    &fakeExtractor{},
		hook:  &fakeNotifier{success: true},
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 1
	}
	if opts.ResultTTL == 0 {
		opts.ResultTTL = time.Hour
	}
	h.rt = New(h.jobs, h.store, h.cache, h.ex, h.hook, opts, nil)
	h.rt.backoff = func(int) time.Duration { return 0 }
	h.rt.capture = func(err error, tags map[string]string) {
		h.captured = append(h.captured, capturedError{err, tags})
	}
	return h
}

func testJob() *queue.JobState {
	return &queue.JobState{
		ID: "job-1",
		Payload: queue.Payload{
			VideoID:    "dQw4w9WgXcQ",
			Language:   "en",
			CleanForAI: true,
		},
	}
}

func TestProcessSuccessPipeline(t *testing.T) {
	h := newHarness(Options{})

	h.rt.Process(context.Background(), testJob())

	changes := h.store.statuses["job-1"]
	if len(changes) != 2 || changes[0].Status != model.JobProcessing || changes[1].Status != model.JobCompleted {
		t.Fatalf("status changes = %+v", changes)
	}
	if len(h.store.upserts) != 1 {
		t.Fatalf("upserts = %d", len(h.store.upserts))
	}
	rec := h.store.upserts[0]
	if rec.VideoID != "dQw4w9WgXcQ" || rec.ExtractionMethod != model.MethodPrimary || rec.PlainText != "hello world" {
		t.Errorf("upserted record = %+v", rec)
	}

	ck := keys.Cache("dQw4w9WgXcQ", "en")
	cached, ok := h.cache.sets[ck].(*model.SubtitlePayload)
	if !ok {
		t.Fatal("no cache write")
	}
	if !cached.Success || cached.Cached || cached.SubtitleCount != 1 {
		t.Errorf("cached payload = %+v", cached)
	}

	result := h.jobs.finished["job-1"]
	if result == nil {
		t.Fatal("queue job not finished")
	}
	var decoded model.SubtitlePayload
	if err := json.Unmarshal(result, &decoded); err != nil {
		t.Fatalf("queue result not JSON: %v", err)
	}
	if decoded.VideoID != "dQw4w9WgXcQ" {
		t.Errorf("queue result = %+v", decoded)
	}
}

func TestProcessCachesBeforeCompleting(t *testing.T) {
	var order []string
	h := newHarness(Options{})
	h.cache.order = &order
	recordStatus := h.store.statuses

	h.rt.Process(context.Background(), testJob())

	// Reconstruct relative order: cache write must land before the job's
	// terminal status. fakeStore appends in call order too, so the cache
	// entry existing at completion time is equivalent to checking both maps.
	if len(order) != 1 {
		t.Fatalf("cache writes = %v", order)
	}
	final := recordStatus["job-1"][len(recordStatus["job-1"])-1]
	if final.Status != model.JobCompleted {
		t.Fatalf("final status = %q", final.Status)
	}
	if _, ok := h.cache.sets[keys.Cache("dQw4w9WgXcQ", "en")]; !ok {
		t.Error("cache empty at completion")
	}
}

func TestProcessRetriesRetriableErrors(t *testing.T) {
	h := newHarness(Options{MaxAttempts: 3})
	h.ex.errs = []error{
		&extractor.HTTPError{Status: 429, URL: "https://www.youtube.com/watch"},
		errors.New("connection reset"),
	}

	h.rt.Process(context.Background(), testJob())

	if h.ex.calls != 3 {
		t.Errorf("extract calls = %d, want 3", h.ex.calls)
	}
	changes := h.store.statuses["job-1"]
	if changes[len(changes)-1].Status != model.JobCompleted {
		t.Errorf("final status = %+v", changes)
	}
}

func TestProcessDoesNotRetryPermanentErrors(t *testing.T) {
	h := newHarness(Options{MaxAttempts: 3})
	h.ex.errs = []error{extractor.ErrTranscriptsDisabled, extractor.ErrTranscriptsDisabled, extractor.ErrTranscriptsDisabled}

	h.rt.Process(context.Background(), testJob())

	if h.ex.calls != 1 {
		t.Errorf("extract calls = %d, want 1", h.ex.calls)
	}
	changes := h.store.statuses["job-1"]
	final := changes[len(changes)-1]
	if final.Status != model.JobFailed {
		t.Errorf("final status = %q", final.Status)
	}
	if final.Error == "" {
		t.Error("failure recorded without error text")
	}
}

func TestProcessFailurePath(t *testing.T) {
	h := newHarness(Options{})
	h.ex.errs = []error{extractor.ErrNoTranscriptFound}

	h.rt.Process(context.Background(), testJob())

	if len(h.store.upserts) != 0 {
		t.Error("failed job upserted a subtitle record")
	}
	if len(h.store.failures) != 1 || !strings.HasPrefix(h.store.failures[0], "dQw4w9WgXcQ:") {
		t.Errorf("subtitle failures = %v", h.store.failures)
	}
	if _, ok := h.jobs.failed["job-1"]; !ok {
		t.Error("queue job not marked failed")
	}
	if len(h.cache.sets) != 0 {
		t.Error("failed job wrote to the cache")
	}
}

func TestProcessTimeoutStatus(t *testing.T) {
	h := newHarness(Options{})
	h.ex.errs = []error{context.DeadlineExceeded}

	h.rt.Process(context.Background(), testJob())

	changes := h.store.statuses["job-1"]
	if changes[len(changes)-1].Status != model.JobTimeout {
		t.Errorf("final status = %+v, want timeout", changes)
	}
}

func TestNotifySendsWebhookAndRecordsDelivery(t *testing.T) {
	h := newHarness(Options{})
	h.store.job = &model.ExtractionJob{JobID: "job-1", WebhookURL: "https://example.com/hook"}

	h.rt.Process(context.Background(), testJob())

	if len(h.hook.sent) != 1 {
		t.Fatalf("webhooks sent = %d", len(h.hook.sent))
	}
	p := h.hook.sent[0]
	if p.Event != "job.completed" || p.Status != "success" || p.JobID != "job-1" {
		t.Errorf("webhook payload = %+v", p)
	}
	if len(p.Result) == 0 {
		t.Error("success webhook missing result")
	}
	if !h.store.deliveries["job-1"] {
		t.Error("delivery not recorded")
	}
}

func TestNotifyFailureCarriesError(t *testing.T) {
	h := newHarness(Options{})
	h.store.job = &model.ExtractionJob{JobID: "job-1", WebhookURL: "https://example.com/hook"}
	h.hook.success = false
	h.ex.errs = []error{extractor.ErrVideoUnavailable}

	h.rt.Process(context.Background(), testJob())

	if len(h.hook.sent) != 1 {
		t.Fatalf("webhooks sent = %d", len(h.hook.sent))
	}
	p := h.hook.sent[0]
	if p.Status != "failed" || p.Error == "" {
		t.Errorf("failure webhook payload = %+v", p)
	}
	if len(p.Result) != 0 {
		t.Error("failure webhook carries a result")
	}
	if h.store.deliveries["job-1"] {
		t.Error("failed delivery recorded as delivered")
	}
}

func TestNotifySkippedWithoutWebhookURL(t *testing.T) {
	h := newHarness(Options{})
	h.store.job = &model.ExtractionJob{JobID: "job-1"}

	h.rt.Process(context.Background(), testJob())

	if len(h.hook.sent) != 0 {
		t.Errorf("webhooks sent without URL: %d", len(h.hook.sent))
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	h := newHarness(Options{Concurrency: 2})
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() { done <- h.rt.Run(ctx) }()
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run returned %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after cancel")
	}
}

func TestSweepRedeliversStuckWebhooks(t *testing.T) {
	h := newHarness(Options{})
	h.store.expired = 3
	h.store.pendingHook = []*model.ExtractionJob{
		{JobID: "job-a", VideoID: "dQw4w9WgXcQ", Status: model.JobCompleted,
			WebhookURL: "https://example.com/hook", ResultJSON: []byte(`{"ok":true}`)},
		{JobID: "job-b", VideoID: "jNQXAC9IVRw", Status: model.JobFailed,
			WebhookURL: "https://example.com/hook", ErrorMessage: "video unavailable"},
	}

	h.rt.Sweep(context.Background())

	if !h.store.reaped {
		t.Error("expired subtitle reap not invoked")
	}
	if len(h.hook.sent) != 2 {
		t.Fatalf("redeliveries = %d, want 2", len(h.hook.sent))
	}
	if h.hook.sent[0].Status != "success" || h.hook.sent[1].Status != "failed" {
		t.Errorf("redelivery statuses = %q, %q", h.hook.sent[0].Status, h.hook.sent[1].Status)
	}
	if h.hook.sent[1].Error != "video unavailable" {
		t.Errorf("failed redelivery error = %q", h.hook.sent[1].Error)
	}
	if !h.store.deliveries["job-a"] || !h.store.deliveries["job-b"] {
		t.Errorf("delivery outcomes not recorded: %v", h.store.deliveries)
	}
}

func TestSweepHonorsBatchLimit(t *testing.T) {
	h := newHarness(Options{})
	for i := 0; i < webhookSweepBatch+10; i++ {
		h.store.pendingHook = append(h.store.pendingHook, &model.ExtractionJob{
			JobID: "job-n", VideoID: "dQw4w9WgXcQ", Status: model.JobCompleted,
			WebhookURL: "https://example.com/hook",
		})
	}

	h.rt.Sweep(context.Background())

	if len(h.hook.sent) != webhookSweepBatch {
		t.Errorf("redeliveries = %d, want %d", len(h.hook.sent), webhookSweepBatch)
	}
}

func TestBackoffFactorConfigurable(t *testing.T) {
	h := newHarness(Options{})
	rt := New(h.jobs, h.store, h.cache, h.ex, h.hook, Options{BackoffFactor: 3}, nil)
	if got := rt.backoff(3); got != 9*time.Second {
		t.Errorf("backoff(3) with factor 3 = %v, want 9s", got)
	}
	rt = New(h.jobs, h.store, h.cache, h.ex, h.hook, Options{}, nil)
	if got := rt.backoff(3); got != 4*time.Second {
		t.Errorf("backoff(3) with zero factor = %v, want 4s", got)
	}
}

func TestFailureReportsToErrorTracker(t *testing.T) {
	h := newHarness(Options{})
	h.ex.errs = []error{extractor.ErrTranscriptsDisabled}

	h.rt.Process(context.Background(), testJob())

	if len(h.captured) != 1 {
		t.Fatalf("captured errors = %d, want 1", len(h.captured))
	}
	c := h.captured[0]
	if !errors.Is(c.err, extractor.ErrTranscriptsDisabled) {
		t.Errorf("captured error = %v", c.err)
	}
	if c.tags["job_id"] != "job-1" || c.tags["video_id"] == "" || c.tags["status"] != model.JobFailed {
		t.Errorf("captured tags = %v", c.tags)
	}
}

func TestSuccessReportsNothingToErrorTracker(t *testing.T) {
	h := newHarness(Options{})

	h.rt.Process(context.Background(), testJob())

	if len(h.captured) != 0 {
		t.Errorf("captured errors on success = %d", len(h.captured))
	}
}
