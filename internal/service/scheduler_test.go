package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmarlin/clipharvest/internal/domain"
	"github.com/tmarlin/clipharvest/internal/port"
	"github.com/tmarlin/clipharvest/internal/validate"
)

// memStore is an in-memory checkpoint store that mimics the persistence
// contract of the real adapters.
type memStore struct {
	mu     sync.Mutex
	cps    map[string]*domain.BatchCheckpoint
	saves  int
	onSave func(cp *domain.BatchCheckpoint)
}

func newMemStore() *memStore {
	return &memStore{cps: make(map[string]*domain.BatchCheckpoint)}
}

func (m *memStore) Load(ctx context.Context, batchID string) (*domain.BatchCheckpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp, ok := m.cps[batchID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cp.Clone(), nil
}

func (m *memStore) Save(ctx context.Context, cp *domain.BatchCheckpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	m.cps[cp.BatchID] = cp.Clone()
	if m.onSave != nil {
		m.onSave(cp)
	}
	return nil
}

func (m *memStore) saveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

// pollLog records the order sources are listed in, shared across the fakes
// of one test.
type pollLog struct {
	mu    sync.Mutex
	order []string
}

func (l *pollLog) record(name string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.order = append(l.order, name)
}

func (l *pollLog) snapshot() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.order...)
}

type fakeSource struct {
	name  string
	descs []domain.CandidateDescriptor
	polls *pollLog

	mu      sync.Mutex
	fetches map[string]int
}

func newFakeSource(name string, count int) *fakeSource {
	s := &fakeSource{name: name, fetches: make(map[string]int)}
	for i := 0; i < count; i++ {
		s.descs = append(s.descs, domain.CandidateDescriptor{
			SourceID:          name,
			ExternalID:        fmt.Sprintf("%d", i),
			URL:               fmt.Sprintf("https://example.com/%s/%d", name, i),
			EstimatedDuration: 10,
		})
	}
	return s
}

func (s *fakeSource) Name() string { return s.name }

func (s *fakeSource) ListCandidates(ctx context.Context, query, cursor string, pageSize int) (port.CandidatePage, error) {
	if s.polls != nil {
		s.polls.record(s.name)
	}
	offset := 0
	if cursor != "" {
		fmt.Sscanf(cursor, "%d", &offset)
	}
	if offset >= len(s.descs) {
		return port.CandidatePage{Exhausted: true, NextCursor: cursor}, nil
	}
	end := offset + pageSize
	if end > len(s.descs) {
		end = len(s.descs)
	}
	return port.CandidatePage{
		Descriptors: s.descs[offset:end],
		NextCursor:  fmt.Sprintf("%d", end),
		Exhausted:   end == len(s.descs),
	}, nil
}

func (s *fakeSource) Fetch(ctx context.Context, desc domain.CandidateDescriptor, destPath string) error {
	s.mu.Lock()
	s.fetches[desc.Key()]++
	s.mu.Unlock()
	return os.WriteFile(destPath, []byte("raw"), 0644)
}

func (s *fakeSource) fetchCount(key string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetches[key]
}

func (s *fakeSource) totalFetches() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.fetches {
		total += n
	}
	return total
}

// pathKey recovers the sanitized descriptor key from a work file path.
func pathKey(p string) string {
	return strings.TrimSuffix(filepath.Base(p), filepath.Ext(p))
}

type fakeTranscoder struct {
	mu          sync.Mutex
	calls       map[string]int
	transient   map[string]int // fail the first n calls per key
	permanent   map[string]bool
	onNormalize func(key string, call int)
}

func newFakeTranscoder() *fakeTranscoder {
	return &fakeTranscoder{
		calls:     make(map[string]int),
		transient: make(map[string]int),
		permanent: make(map[string]bool),
	}
}

func (f *fakeTranscoder) Normalize(ctx context.Context, inputPath, outputPath string, spec domain.TargetSpec) error {
	key := pathKey(inputPath)
	f.mu.Lock()
	f.calls[key]++
	call := f.calls[key]
	hook := f.onNormalize
	f.mu.Unlock()

	if hook != nil {
		hook(key, call)
	}
	if f.permanent[key] {
		return &domain.TranscodeError{Input: inputPath, Err: errors.New("corrupt stream")}
	}
	if call <= f.transient[key] {
		return domain.Transient("transcode", errors.New("encoder busy"))
	}
	return os.WriteFile(outputPath, []byte("normalized"), 0644)
}

func (f *fakeTranscoder) callCount(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

type fakeAnalyzer struct {
	mu    sync.Mutex
	infos map[string]domain.ClipInfo
}

func newFakeAnalyzer() *fakeAnalyzer {
	return &fakeAnalyzer{infos: make(map[string]domain.ClipInfo)}
}

func goodClipInfo() domain.ClipInfo {
	return domain.ClipInfo{Container: "mp4", VideoCodec: "h264", Width: 1280, Height: 720, FPS: 30, Duration: 10}
}

func (f *fakeAnalyzer) set(key string, info domain.ClipInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.infos[key] = info
}

func (f *fakeAnalyzer) Analyze(ctx context.Context, path string, opts port.AnalyzeOptions) (*domain.ClipInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if info, ok := f.infos[pathKey(path)]; ok {
		return &info, nil
	}
	info := goodClipInfo()
	return &info, nil
}

type fakeSink struct {
	mu     sync.Mutex
	stored []string
}

func (f *fakeSink) Store(ctx context.Context, path, keyHint string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append(f.stored, keyHint)
	return "mem://" + keyHint, nil
}

func (f *fakeSink) storedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}

type closedGate struct{}

func (closedGate) Sample() domain.ResourceSample { return domain.ResourceSample{} }
func (closedGate) Admits() bool                  { return false }

// switchGate is a resource gate toggled by the test.
type switchGate struct{ open atomic.Bool }

func (g *switchGate) Sample() domain.ResourceSample { return domain.ResourceSample{} }
func (g *switchGate) Admits() bool                  { return g.open.Load() }

type harness struct {
	store      *memStore
	transcoder *fakeTranscoder
	analyzer   *fakeAnalyzer
	sink       *fakeSink
	scheduler  *Scheduler
}

func newHarness(t *testing.T, sources []SourceSpec, opts Options) *harness {
	t.Helper()
	h := &harness{
		store:      newMemStore(),
		transcoder: newFakeTranscoder(),
		analyzer:   newFakeAnalyzer(),
		sink:       &fakeSink{},
	}
	if opts.WorkDir == "" {
		opts.WorkDir = t.TempDir()
	}
	if opts.MaxWorkers == 0 {
		opts.MaxWorkers = 1
	}
	if opts.PageSize == 0 {
		opts.PageSize = 2
	}
	if opts.MaxAttempts == 0 {
		opts.MaxAttempts = 3
	}
	if opts.RetryBaseDelay == 0 {
		opts.RetryBaseDelay = time.Millisecond
	}
	if opts.TargetSpec.Container == "" {
		opts.TargetSpec = domain.TargetSpec{Container: "mp4", VideoCodec: "h264"}
	}
	pipeline := validate.NewPipeline(validate.Config{
		Container:   "mp4",
		MinWidth:    512,
		MinHeight:   512,
		MinFPS:      20,
		MinDuration: 2,
	})
	h.scheduler = NewScheduler(sources, h.store, h.transcoder, h.analyzer, pipeline, h.sink, nil, nil, opts)
	return h
}

func TestRun_CountTargetStopsAtTarget(t *testing.T) {
	src := newFakeSource("vids", 8)
	h := newHarness(t, []SourceSpec{{Adapter: src, Query: "nature"}}, Options{})

	// The first three candidates fail the resolution check.
	for i := 0; i < 3; i++ {
		h.analyzer.set(fmt.Sprintf("vids_%d", i), domain.ClipInfo{
			Container: "mp4", VideoCodec: "h264", Width: 320, Height: 240, FPS: 30, Duration: 10,
		})
	}

	result, err := h.scheduler.Run(t.Context(), "batch-1", domain.CountTarget(5))
	require.NoError(t, err)

	assert.Equal(t, 5, result.Accepted)
	assert.Equal(t, 3, result.Rejected)
	assert.Equal(t, 0, result.Failed)
	assert.Equal(t, 3, result.RejectionReasons[domain.ReasonResolutionTooLow])
	assert.Equal(t, 5, h.sink.storedCount())

	cp, err := h.store.Load(t.Context(), "batch-1")
	require.NoError(t, err)
	assert.Equal(t, 5, cp.AcceptedCount)
	assert.Len(t, cp.Processed, 8)
}

func TestRun_DurationTargetStopsAtTarget(t *testing.T) {
	src := newFakeSource("vids", 10)
	h := newHarness(t, []SourceSpec{{Adapter: src, Query: ""}}, Options{})

	// 30 minutes per accepted clip, so one hour needs two of them.
	for i := 0; i < 10; i++ {
		h.analyzer.set(fmt.Sprintf("vids_%d", i), domain.ClipInfo{
			Container: "mp4", VideoCodec: "h264", Width: 1280, Height: 720, FPS: 30, Duration: 1800,
		})
	}

	result, err := h.scheduler.Run(t.Context(), "batch-1", domain.DurationTarget(1))
	require.NoError(t, err)

	assert.Equal(t, 2, result.Accepted)
	assert.GreaterOrEqual(t, result.AcceptedHours, 1.0)
}

func TestRun_ExhaustsSourcesBelowTarget(t *testing.T) {
	src := newFakeSource("vids", 3)
	h := newHarness(t, []SourceSpec{{Adapter: src, Query: ""}}, Options{})

	result, err := h.scheduler.Run(t.Context(), "batch-1", domain.CountTarget(50))
	require.NoError(t, err)

	assert.Equal(t, 3, result.Accepted)
}

func TestRun_ResumeIsIdempotent(t *testing.T) {
	src := newFakeSource("vids", 3)
	h := newHarness(t, []SourceSpec{{Adapter: src, Query: ""}}, Options{})

	first, err := h.scheduler.Run(t.Context(), "batch-1", domain.CountTarget(3))
	require.NoError(t, err)
	require.Equal(t, 3, first.Accepted)
	fetchesAfterFirst := src.totalFetches()

	second, err := h.scheduler.Run(t.Context(), "batch-1", domain.CountTarget(3))
	require.NoError(t, err)

	assert.Equal(t, 3, second.Accepted)
	assert.Equal(t, fetchesAfterFirst, src.totalFetches(), "a finished batch must not fetch again")
}

func TestRun_CancelAndResume(t *testing.T) {
	src := newFakeSource("vids", 6)
	h := newHarness(t, []SourceSpec{{Adapter: src, Query: ""}}, Options{})

	ctx, cancel := context.WithCancel(t.Context())
	var once sync.Once
	var total sync.Map
	h.transcoder.onNormalize = func(key string, call int) {
		count := 0
		total.Range(func(_, _ any) bool { count++; return true })
		total.Store(key, true)
		if count >= 2 {
			once.Do(cancel)
		}
	}

	first, err := h.scheduler.Run(ctx, "batch-1", domain.CountTarget(6))
	require.ErrorIs(t, err, context.Canceled)
	assert.Less(t, first.Accepted, 6)
	assert.Greater(t, first.Accepted, 0)

	h.transcoder.onNormalize = nil
	second, err := h.scheduler.Run(t.Context(), "batch-1", domain.CountTarget(6))
	require.NoError(t, err)
	assert.Equal(t, 6, second.Accepted)

	// No candidate was downloaded twice across the two runs.
	for i := 0; i < 6; i++ {
		key := fmt.Sprintf("vids/%d", i)
		assert.Equal(t, 1, src.fetchCount(key), "fetches for %s", key)
	}
}

func TestRun_TransientFailureRetried(t *testing.T) {
	src := newFakeSource("vids", 1)
	h := newHarness(t, []SourceSpec{{Adapter: src, Query: ""}}, Options{MaxAttempts: 3})
	h.transcoder.transient["vids_0"] = 2

	result, err := h.scheduler.Run(t.Context(), "batch-1", domain.CountTarget(1))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Accepted)
	assert.Equal(t, 3, h.transcoder.callCount("vids_0"), "two transient failures then success")
	assert.Equal(t, 1, src.fetchCount("vids/0"), "raw download survives transcode retries")
}

func TestRun_TransientFailureExhaustsAttempts(t *testing.T) {
	src := newFakeSource("vids", 1)
	h := newHarness(t, []SourceSpec{{Adapter: src, Query: ""}}, Options{MaxAttempts: 2})
	h.transcoder.transient["vids_0"] = 10

	result, err := h.scheduler.Run(t.Context(), "batch-1", domain.CountTarget(1))
	require.NoError(t, err)

	assert.Equal(t, 0, result.Accepted)
	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 2, h.transcoder.callCount("vids_0"))
}

func TestRun_PermanentFailureNotRetried(t *testing.T) {
	src := newFakeSource("vids", 1)
	h := newHarness(t, []SourceSpec{{Adapter: src, Query: ""}}, Options{MaxAttempts: 3})
	h.transcoder.permanent["vids_0"] = true

	result, err := h.scheduler.Run(t.Context(), "batch-1", domain.CountTarget(1))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Failed)
	assert.Equal(t, 1, h.transcoder.callCount("vids_0"), "permanent failures burn one attempt")
}

func TestRun_RejectionIsNotRetried(t *testing.T) {
	src := newFakeSource("vids", 1)
	h := newHarness(t, []SourceSpec{{Adapter: src, Query: ""}}, Options{})
	h.analyzer.set("vids_0", domain.ClipInfo{
		Container: "mp4", VideoCodec: "h264", Width: 1280, Height: 720, FPS: 10, Duration: 10,
	})

	result, err := h.scheduler.Run(t.Context(), "batch-1", domain.CountTarget(1))
	require.NoError(t, err)

	assert.Equal(t, 1, result.Rejected)
	assert.Equal(t, 1, result.RejectionReasons[domain.ReasonFPSTooLow])
	assert.Equal(t, 1, h.transcoder.callCount("vids_0"))
	assert.Zero(t, h.sink.storedCount())

	// A rejected clip stays rejected on resume instead of being reprocessed.
	again, err := h.scheduler.Run(t.Context(), "batch-1", domain.CountTarget(1))
	require.NoError(t, err)
	assert.Equal(t, 1, again.Rejected)
	assert.Equal(t, 1, src.fetchCount("vids/0"))
}

func TestRun_RoundRobinAcrossSources(t *testing.T) {
	log := &pollLog{}
	srcA := newFakeSource("alpha", 6)
	srcB := newFakeSource("beta", 6)
	srcA.polls = log
	srcB.polls = log
	h := newHarness(t, []SourceSpec{
		{Adapter: srcA, Query: ""},
		{Adapter: srcB, Query: ""},
	}, Options{MaxScrapers: 2, PageSize: 2})

	result, err := h.scheduler.Run(t.Context(), "batch-1", domain.CountTarget(4))
	require.NoError(t, err)
	require.Equal(t, 4, result.Accepted)

	cp, err := h.store.Load(t.Context(), "batch-1")
	require.NoError(t, err)

	var fromA, fromB int
	for key := range cp.Processed {
		if strings.HasPrefix(key, "alpha/") {
			fromA++
		}
		if strings.HasPrefix(key, "beta/") {
			fromB++
		}
	}
	assert.Greater(t, fromA, 0, "first source should contribute")
	assert.Greater(t, fromB, 0, "second source should contribute")

	// No source is polled a second time until every live source has been
	// polled once.
	polls := log.snapshot()
	first := make(map[string]int)
	second := make(map[string]int)
	for i, name := range polls {
		if _, ok := first[name]; !ok {
			first[name] = i
		} else if _, ok := second[name]; !ok {
			second[name] = i
		}
	}
	require.Contains(t, first, "alpha")
	require.Contains(t, first, "beta")
	for repeated, secondAt := range second {
		for name, firstAt := range first {
			assert.Less(t, firstAt, secondAt,
				"%s polled twice before %s was polled once", repeated, name)
		}
	}
}

func TestRun_ResourceExhaustedAbortsIntake(t *testing.T) {
	src := newFakeSource("vids", 4)
	h := newHarness(t, []SourceSpec{{Adapter: src, Query: ""}}, Options{
		AdmissionWaitBudget: 50 * time.Millisecond,
	})
	h.scheduler.gate = closedGate{}

	result, err := h.scheduler.Run(t.Context(), "batch-1", domain.CountTarget(4))
	require.ErrorIs(t, err, domain.ErrResourceExhausted)
	assert.Zero(t, result.Accepted)
	assert.Zero(t, src.totalFetches())
}

func TestRun_DispatchPausesWhileGateClosed(t *testing.T) {
	src := newFakeSource("vids", 2)
	gate := &switchGate{}
	gate.open.Store(true)

	h := newHarness(t, []SourceSpec{{Adapter: src, Query: ""}}, Options{
		AdmissionWaitBudget: 5 * time.Second,
	})
	h.scheduler.gate = gate

	var mu sync.Mutex
	var normalized []time.Time
	h.transcoder.onNormalize = func(key string, call int) {
		mu.Lock()
		normalized = append(normalized, time.Now())
		mu.Unlock()
	}

	// Close the gate once the first outcome is recorded, before the
	// scheduler can dispatch the second clip; reopen it shortly after.
	var closeOnce sync.Once
	h.store.onSave = func(cp *domain.BatchCheckpoint) {
		if cp.AcceptedCount == 1 {
			closeOnce.Do(func() {
				gate.open.Store(false)
				time.AfterFunc(500*time.Millisecond, func() { gate.open.Store(true) })
			})
		}
	}

	result, err := h.scheduler.Run(t.Context(), "batch-1", domain.CountTarget(2))
	require.NoError(t, err)
	assert.Equal(t, 2, result.Accepted)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, normalized, 2)
	assert.GreaterOrEqual(t, normalized[1].Sub(normalized[0]), 400*time.Millisecond,
		"second clip should not be dispatched while the gate is closed")
}

func TestRun_PublishesProgressEvents(t *testing.T) {
	src := newFakeSource("vids", 3)
	h := newHarness(t, []SourceSpec{{Adapter: src, Query: ""}}, Options{})
	bus := NewEventBus()
	h.scheduler.events = bus
	sub := bus.Subscribe("batch-1")

	_, err := h.scheduler.Run(t.Context(), "batch-1", domain.CountTarget(3))
	require.NoError(t, err)

	var taskEvents, batchEvents int
	for drained := false; !drained; {
		select {
		case ev := <-sub:
			switch ev.Type {
			case "task":
				assert.Equal(t, "accepted", ev.State)
				assert.NotEmpty(t, ev.Key)
				taskEvents++
			case "batch":
				batchEvents++
			}
		default:
			drained = true
		}
	}
	assert.Equal(t, 3, taskEvents)
	assert.Equal(t, 1, batchEvents)
}

func TestRun_SavesAfterEveryOutcome(t *testing.T) {
	src := newFakeSource("vids", 4)
	h := newHarness(t, []SourceSpec{{Adapter: src, Query: ""}}, Options{})

	_, err := h.scheduler.Run(t.Context(), "batch-1", domain.CountTarget(4))
	require.NoError(t, err)

	// One save per terminal outcome plus the final cursor save.
	assert.GreaterOrEqual(t, h.store.saveCount(), 5)
}

func TestRun_InvalidTarget(t *testing.T) {
	src := newFakeSource("vids", 1)
	h := newHarness(t, []SourceSpec{{Adapter: src, Query: ""}}, Options{})

	_, err := h.scheduler.Run(t.Context(), "batch-1", domain.Target{Mode: "count", MaxClips: 0})
	assert.Error(t, err)
}
