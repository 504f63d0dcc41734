package orchestrator

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/tubetext/tubetext/internal/keys"
	"github.com/tubetext/tubetext/internal/model"
	"github.com/tubetext/tubetext/internal/queue"
	"github.com/tubetext/tubetext/internal/store"
)

type fakeMem struct {
	data map[string]any
}

func newFakeMem() *fakeMem { return &fakeMem{data: map[string]any{}} }

func (f *fakeMem) Get(key string) (any, bool) {
	v, ok := f.data[key]
	return v, ok
}

func (f *fakeMem) GetMany(keys []string) map[string]any {
	out := map[string]any{}
	for _, k := range keys {
		if v, ok := f.data[k]; ok {
			out[k] = v
		}
	}
	return out
}

func (f *fakeMem) Set(key string, value any) { f.data[key] = value }

type fakeShared struct {
	data      map[string][]byte
	locks     map[string]bool
	denyLock  bool
	onAcquire func()
	sets      int
}

func newFakeShared() *fakeShared {
	return &fakeShared{data: map[string][]byte{}, locks: map[string]bool{}}
}

func (f *fakeShared) put(key string, v any) {
	b, _ := json.Marshal(v)
	f.data[key] = b
}

func (f *fakeShared) Get(_ context.Context, key string, dest any) bool {
	b, ok := f.data[key]
	if !ok {
		return false
	}
	return json.Unmarshal(b, dest) == nil
}

func (f *fakeShared) GetMany(_ context.Context, keys []string) map[string]json.RawMessage {
	out := map[string]json.RawMessage{}
	for _, k := range keys {
		if b, ok := f.data[k]; ok {
			out[k] = b
		}
	}
	return out
}

func (f *fakeShared) Set(_ context.Context, key string, value any, _ time.Duration) {
	f.sets++
	f.put(key, value)
}

func (f *fakeShared) AcquireLock(_ context.Context, lockKey string, _ time.Duration) bool {
	if f.denyLock || f.locks[lockKey] {
		return false
	}
	f.locks[lockKey] = true
	if f.onAcquire != nil {
		f.onAcquire()
	}
	return true
}

func (f *fakeShared) ReleaseLock(_ context.Context, lockKey string) bool {
	delete(f.locks, lockKey)
	return true
}

type fakeStore struct {
	record   *model.SubtitleRecord
	pending  *model.ExtractionJob
	finds    int
	created  []string
	statuses map[string]string
	errors   map[string]string
}

func newFakeStore() *fakeStore {
	return &fakeStore{statuses: map[string]string{}, errors: map[string]string{}}
}

func (f *fakeStore) FindSubtitle(_ context.Context, _, _ string) (*model.SubtitleRecord, error) {
	f.finds++
	if f.record == nil {
		return nil, store.ErrNotFound
	}
	return f.record, nil
}

func (f *fakeStore) FindPendingJob(_ context.Context, _, _ string) (*model.ExtractionJob, error) {
	if f.pending == nil {
		return nil, store.ErrNotFound
	}
	return f.pending, nil
}

func (f *fakeStore) CreateJob(_ context.Context, _, _, jobID, _ string) error {
	f.created = append(f.created, jobID)
	return nil
}

func (f *fakeStore) UpdateJobStatus(_ context.Context, jobID, status string, _ []byte, errMsg string) error {
	f.statuses[jobID] = status
	f.errors[jobID] = errMsg
	return nil
}

type fakeQueue struct {
	jobs     map[string]*queue.JobState
	enqueued []queue.Payload
	nextID   string
}

func newFakeQueue() *fakeQueue {
	return &fakeQueue{jobs: map[string]*queue.JobState{}, nextID: "job-1"}
}

func (f *fakeQueue) Enqueue(_ context.Context, payload queue.Payload) (string, error) {
	f.enqueued = append(f.enqueued, payload)
	f.jobs[f.nextID] = &queue.JobState{ID: f.nextID, Status: queue.StatusQueued, Payload: payload}
	return f.nextID, nil
}

func (f *fakeQueue) Fetch(_ context.Context, jobID string) (*queue.JobState, error) {
	return f.jobs[jobID], nil
}

func newTestOrchestrator() (*Orchestrator, *fakeMem, *fakeShared, *fakeStore, *fakeQueue) {
	mem := newFakeMem()
	shared := newFakeShared()
	store := newFakeStore()
	q := newFakeQueue()
	o := New(mem, shared, store, q, time.Hour, nil)
	o.sleep = func(context.Context, time.Duration) {}
	return o, mem, shared, store, q
}

func samplePayload(videoID string) *model.SubtitlePayload {
	return &model.SubtitlePayload{
		Success:          true,
		VideoID:          videoID,
		Language:         "en",
		ExtractionMethod: model.MethodPrimary,
		SubtitleCount:    1,
		Subtitles:        []model.Segment{{Start: 0, Duration: 1.5, Text: "hello"}},
		PlainText:        "hello",
		CreatedAt:        "2026-01-02T03:04:05Z",
	}
}

func TestGetCachedMemoryHit(t *testing.T) {
	o, mem, shared, store, _ := newTestOrchestrator()
	ck := keys.Cache("dQw4w9WgXcQ", "en")
	mem.Set(ck, samplePayload("dQw4w9WgXcQ"))

	got := o.GetCached(context.Background(), "dQw4w9WgXcQ", "en")
	if got == nil {
		t.Fatal("expected a hit")
	}
	if !got.Cached || got.CacheTier != TierMemory {
		t.Errorf("got cached=%v tier=%q, want memory hit", got.Cached, got.CacheTier)
	}
	if store.finds != 0 {
		t.Errorf("memory hit reached the store %d times", store.finds)
	}
	// The stored value stays tier-neutral.
	stored := mem.data[ck].(*model.SubtitlePayload)
	if stored.CacheTier != "" {
		t.Errorf("stored payload was annotated with tier %q", stored.CacheTier)
	}
	if len(shared.locks) != 0 {
		t.Error("memory hit touched the lock")
	}
}

func TestGetCachedRedisHitBackfillsMemory(t *testing.T) {
	o, mem, shared, store, _ := newTestOrchestrator()
	ck := keys.Cache("dQw4w9WgXcQ", "en")
	shared.put(ck, samplePayload("dQw4w9WgXcQ"))

	got := o.GetCached(context.Background(), "dQw4w9WgXcQ", "en")
	if got == nil || got.CacheTier != TierRedis {
		t.Fatalf("got %+v, want redis hit", got)
	}
	if _, ok := mem.data[ck]; !ok {
		t.Error("redis hit did not backfill memory")
	}
	if store.finds != 0 {
		t.Error("redis hit reached the store")
	}

	// Second read now comes from memory.
	again := o.GetCached(context.Background(), "dQw4w9WgXcQ", "en")
	if again == nil || again.CacheTier != TierMemory {
		t.Fatalf("second read tier = %+v, want memory", again)
	}
}

func TestGetCachedPostgresHitPopulatesUpperTiers(t *testing.T) {
	o, mem, shared, store, _ := newTestOrchestrator()
	store.record = &model.SubtitleRecord{
		VideoID:          "dQw4w9WgXcQ",
		Language:         "en",
		Title:            "Test",
		ExtractionStatus: model.ExtractionSuccess,
		ExtractionMethod: model.MethodFallback,
		Subtitles:        []model.Segment{{Text: "hi"}, {Text: "there"}},
		PlainText:        "hi there",
		CreatedAt:        time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}

	got := o.GetCached(context.Background(), "dQw4w9WgXcQ", "en")
	if got == nil || got.CacheTier != TierPostgres {
		t.Fatalf("got %+v, want postgres hit", got)
	}
	if got.SubtitleCount != 2 || got.ExtractionMethod != model.MethodFallback {
		t.Errorf("payload not rebuilt from row: %+v", got)
	}
	ck := keys.Cache("dQw4w9WgXcQ", "en")
	if shared.sets != 1 {
		t.Errorf("redis Set called %d times, want 1", shared.sets)
	}
	if _, ok := mem.data[ck]; !ok {
		t.Error("postgres hit did not backfill memory")
	}
	if len(shared.locks) != 0 {
		t.Error("lock not released after read")
	}
}

func TestGetCachedFailedRowIsMiss(t *testing.T) {
	o, _, _, store, _ := newTestOrchestrator()
	store.record = &model.SubtitleRecord{
		VideoID:          "dQw4w9WgXcQ",
		ExtractionStatus: model.ExtractionFailed,
	}
	if got := o.GetCached(context.Background(), "dQw4w9WgXcQ", "en"); got != nil {
		t.Errorf("failed row served as hit: %+v", got)
	}
}

func TestGetCachedLostLockWaitsForWinner(t *testing.T) {
	o, _, shared, store, _ := newTestOrchestrator()
	shared.denyLock = true
	ck := keys.Cache("dQw4w9WgXcQ", "en")
	// The lock holder publishes its result while we wait.
	o.sleep = func(context.Context, time.Duration) {
		shared.put(ck, samplePayload("dQw4w9WgXcQ"))
	}

	got := o.GetCached(context.Background(), "dQw4w9WgXcQ", "en")
	if got == nil || got.CacheTier != TierRedis {
		t.Fatalf("got %+v, want redis hit from lock winner", got)
	}
	if store.finds != 0 {
		t.Error("lock loser reached the store")
	}
}

func TestGetCachedLostLockNoWinnerIsMiss(t *testing.T) {
	o, _, shared, _, _ := newTestOrchestrator()
	shared.denyLock = true
	if got := o.GetCached(context.Background(), "dQw4w9WgXcQ", "en"); got != nil {
		t.Errorf("got %+v, want miss", got)
	}
}

func TestGetCachedDoubleCheckAfterLock(t *testing.T) {
	o, _, shared, store, _ := newTestOrchestrator()
	ck := keys.Cache("dQw4w9WgXcQ", "en")
	// Another process fills Redis between our miss and the lock grant.
	shared.onAcquire = func() { shared.put(ck, samplePayload("dQw4w9WgXcQ")) }

	got := o.GetCached(context.Background(), "dQw4w9WgXcQ", "en")
	if got == nil || got.CacheTier != TierRedis {
		t.Fatalf("got %+v, want redis hit from double-check", got)
	}
	if store.finds != 0 {
		t.Error("double-check hit still reached the store")
	}
}

func TestGetCachedBatchSkipsPostgres(t *testing.T) {
	o, mem, shared, store, _ := newTestOrchestrator()
	mem.Set(keys.Cache("aaaaaaaaaaa", "en"), samplePayload("aaaaaaaaaaa"))
	shared.put(keys.Cache("bbbbbbbbbbb", "en"), samplePayload("bbbbbbbbbbb"))
	store.record = &model.SubtitleRecord{
		VideoID:          "ccccccccccc",
		ExtractionStatus: model.ExtractionSuccess,
	}

	got := o.GetCachedBatch(context.Background(), []string{"aaaaaaaaaaa", "bbbbbbbbbbb", "ccccccccccc"}, "en")
	if len(got) != 2 {
		t.Fatalf("got %d hits, want 2", len(got))
	}
	if got["aaaaaaaaaaa"].CacheTier != TierMemory {
		t.Errorf("tier = %q, want memory", got["aaaaaaaaaaa"].CacheTier)
	}
	if got["bbbbbbbbbbb"].CacheTier != TierRedis {
		t.Errorf("tier = %q, want redis", got["bbbbbbbbbbb"].CacheTier)
	}
	if _, ok := got["ccccccccccc"]; ok {
		t.Error("batch read served a durable-only row")
	}
	if store.finds != 0 {
		t.Errorf("batch read reached the store %d times", store.finds)
	}
	// Redis hit backfills memory for the next batch.
	if _, ok := mem.data[keys.Cache("bbbbbbbbbbb", "en")]; !ok {
		t.Error("batch redis hit did not backfill memory")
	}
}

func TestEnqueueExtractionFresh(t *testing.T) {
	o, _, _, store, q := newTestOrchestrator()

	jobID, reused, err := o.EnqueueExtraction(context.Background(), EnqueueRequest{
		VideoID: "dQw4w9WgXcQ", Language: "en", CleanForAI: true, Endpoint: "/api/v2/subtitles",
	})
	if err != nil {
		t.Fatal(err)
	}
	if reused {
		t.Error("fresh enqueue reported reused")
	}
	if jobID != "job-1" {
		t.Errorf("jobID = %q", jobID)
	}
	if len(q.enqueued) != 1 || !q.enqueued[0].CleanForAI {
		t.Errorf("queue payload = %+v", q.enqueued)
	}
	if len(store.created) != 1 || store.created[0] != jobID {
		t.Errorf("durable job rows = %v", store.created)
	}
}

func TestEnqueueExtractionReusesInFlightJob(t *testing.T) {
	o, _, _, store, q := newTestOrchestrator()
	store.pending = &model.ExtractionJob{JobID: "job-old", Status: model.JobQueued}
	q.jobs["job-old"] = &queue.JobState{ID: "job-old", Status: queue.StatusQueued}

	jobID, reused, err := o.EnqueueExtraction(context.Background(), EnqueueRequest{
		VideoID: "dQw4w9WgXcQ", Language: "en",
	})
	if err != nil {
		t.Fatal(err)
	}
	if !reused || jobID != "job-old" {
		t.Errorf("got jobID=%q reused=%v, want in-flight job reused", jobID, reused)
	}
	if len(q.enqueued) != 0 {
		t.Error("reuse still enqueued a new job")
	}
	if len(store.created) != 0 {
		t.Error("reuse still created a durable row")
	}
}

func TestEnqueueExtractionReplacesVanishedJob(t *testing.T) {
	o, _, _, store, q := newTestOrchestrator()
	store.pending = &model.ExtractionJob{JobID: "job-gone", Status: model.JobQueued}
	// The queue has no record of job-gone.

	jobID, reused, err := o.EnqueueExtraction(context.Background(), EnqueueRequest{
		VideoID: "dQw4w9WgXcQ", Language: "en",
	})
	if err != nil {
		t.Fatal(err)
	}
	if reused {
		t.Error("vanished job reported as reused")
	}
	if jobID != "job-1" {
		t.Errorf("jobID = %q, want fresh job", jobID)
	}
	if store.statuses["job-gone"] != model.JobStale {
		t.Errorf("stale status = %q", store.statuses["job-gone"])
	}
	if store.errors["job-gone"] != "queue_job_missing" {
		t.Errorf("stale error = %q", store.errors["job-gone"])
	}
	if len(q.enqueued) != 1 {
		t.Errorf("enqueued %d jobs, want 1", len(q.enqueued))
	}
}

func TestGetJob(t *testing.T) {
	o, _, _, _, q := newTestOrchestrator()
	q.jobs["job-7"] = &queue.JobState{
		ID:         "job-7",
		Status:     queue.StatusFinished,
		EnqueuedAt: "2026-01-02T03:04:05Z",
		EndedAt:    "2026-01-02T03:04:09Z",
		Result:     json.RawMessage(`{"success":true}`),
	}

	got, err := o.GetJob(context.Background(), "job-7")
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != queue.StatusFinished || string(got.Result) != `{"success":true}` {
		t.Errorf("got %+v", got)
	}

	missing, err := o.GetJob(context.Background(), "nope")
	if err != nil {
		t.Fatal(err)
	}
	if missing.Status != "not_found" || missing.JobID != "nope" {
		t.Errorf("missing job status = %+v", missing)
	}
}
