package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/tmarlin/clipharvest/internal/domain"
	"github.com/tmarlin/clipharvest/internal/infrastructure/logger"
	"github.com/tmarlin/clipharvest/internal/port"
	"github.com/tmarlin/clipharvest/internal/validate"
)

// SourceSpec binds a source adapter to the search query it should run.
type SourceSpec struct {
	Adapter port.SourceAdapter
	Query   string
}

// Options tunes the scheduler. Zero values fall back to conservative
// defaults in NewScheduler.
type Options struct {
	MaxWorkers  int
	MaxScrapers int
	PageSize    int

	MaxAttempts    int
	RetryBaseDelay time.Duration
	TaskTimeout    time.Duration

	// AdmissionWaitBudget is how long a paused batch waits for resources
	// to recover before aborting with ErrResourceExhausted.
	AdmissionWaitBudget time.Duration

	TargetSpec domain.TargetSpec
	Analyze    port.AnalyzeOptions

	// WorkDir holds raw downloads and normalized clips.
	WorkDir string
}

// Scheduler drives a batch run: it pages candidates out of the sources,
// dispatches them to a worker pool, and folds every terminal outcome into
// the batch checkpoint. The checkpoint is mutated only on the scheduler's
// own goroutine and saved synchronously after each outcome, so a crash
// never loses more than the in-flight tasks.
type Scheduler struct {
	sources     []SourceSpec
	byName      map[string]port.SourceAdapter
	checkpoints port.CheckpointStore
	transcoder  port.Transcoder
	analyzer    port.ClipAnalyzer
	pipeline    *validate.Pipeline
	sink        port.StorageSink
	gate        port.ResourceGate
	events      EventPublisher
	opts        Options
}

func NewScheduler(
	sources []SourceSpec,
	checkpoints port.CheckpointStore,
	transcoder port.Transcoder,
	analyzer port.ClipAnalyzer,
	pipeline *validate.Pipeline,
	sink port.StorageSink,
	gate port.ResourceGate,
	events EventPublisher,
	opts Options,
) *Scheduler {
	if opts.MaxWorkers < 1 {
		opts.MaxWorkers = 1
	}
	if opts.MaxScrapers < 1 {
		opts.MaxScrapers = 1
	}
	if opts.PageSize < 1 {
		opts.PageSize = 20
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}
	if opts.RetryBaseDelay <= 0 {
		opts.RetryBaseDelay = 500 * time.Millisecond
	}

	byName := make(map[string]port.SourceAdapter, len(sources))
	for _, s := range sources {
		byName[s.Adapter.Name()] = s.Adapter
	}
	return &Scheduler{
		sources:     sources,
		byName:      byName,
		checkpoints: checkpoints,
		transcoder:  transcoder,
		analyzer:    analyzer,
		pipeline:    pipeline,
		sink:        sink,
		gate:        gate,
		events:      events,
		opts:        opts,
	}
}

type pageMsg struct {
	source string
	page   port.CandidatePage
}

// pageProgress tracks how many candidates from one listed page still lack a
// terminal outcome.
type pageProgress struct {
	next      string
	remaining int
}

// Run executes (or resumes) the batch until the target is reached, every
// source is exhausted, or ctx is canceled. It always returns the aggregate
// for whatever progress was durably recorded; on cancellation the error is
// ctx.Err() so the caller knows the batch can be resumed.
func (s *Scheduler) Run(ctx context.Context, batchID string, target domain.Target) (*domain.BatchResult, error) {
	start := time.Now()

	cp, err := s.loadOrCreate(ctx, batchID, target)
	if err != nil {
		return nil, err
	}
	if cp.TargetReached() {
		logger.Info.Printf("batch %s: target already reached, nothing to do", batchID)
		return domain.ResultFromCheckpoint(cp, 0), nil
	}

	feedCtx, stopFeeding := context.WithCancel(ctx)
	defer stopFeeding()

	pages := make(chan pageMsg)
	feedDone := make(chan error, 1)
	go func() {
		feedDone <- s.feed(feedCtx, cloneCursors(cp.Cursors), pages)
		close(pages)
	}()

	tasks := make(chan *domain.ClipTask)
	results := make(chan *domain.ClipTask)
	var wg sync.WaitGroup
	for i := 0; i < s.opts.MaxWorkers; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			s.worker(ctx, id, tasks, results)
		}(i)
	}
	go func() {
		wg.Wait()
		close(results)
	}()

	var (
		pending     []*domain.ClipTask
		inflight    int
		enqueued    = make(map[string]bool)
		pagesOpen   = true
		tasksClosed bool
		stopping    bool
		feedErr     error
		skippedSeen int
	)

	// The durable cursor for a source only moves past a page once every
	// candidate on it has a terminal outcome. Candidates dropped during a
	// shutdown are re-listed on resume and deduplicated by the checkpoint.
	outstanding := make(map[string][]*pageProgress)
	keyPage := make(map[string]*pageProgress)
	advanceCursor := func(source string) {
		q := outstanding[source]
		for len(q) > 0 && q[0].remaining == 0 {
			cp.Cursors[source] = q[0].next
			q = q[1:]
		}
		outstanding[source] = q
	}

	// Wakes the loop while dispatch is paused by a closed resource gate.
	admit := time.NewTicker(admissionPollInterval)
	defer admit.Stop()

	done := ctx.Done()
	closeTasks := func() {
		if !tasksClosed {
			close(tasks)
			tasksClosed = true
		}
	}
	beginShutdown := func() {
		if stopping {
			return
		}
		stopping = true
		stopFeeding()
		pending = nil
		closeTasks()
	}

	for {
		// All work dispatched and accounted for.
		if !pagesOpen && len(pending) == 0 && inflight == 0 {
			beginShutdown()
			break
		}
		if stopping && inflight == 0 {
			break
		}

		// Backpressure: stop pulling pages while the queue is deep.
		pagesCh := pages
		if !pagesOpen || len(pending) >= s.opts.PageSize*2 {
			pagesCh = nil
		}

		// Queued tasks are held back while the resource gate is closed.
		var dispatchCh chan *domain.ClipTask
		var next *domain.ClipTask
		if !tasksClosed && len(pending) > 0 && s.admits() {
			dispatchCh = tasks
			next = pending[0]
		}

		select {
		case dispatchCh <- next:
			pending = pending[1:]
			inflight++

		case msg, ok := <-pagesCh:
			if !ok {
				pagesOpen = false
				feedErr = <-feedDone
				if feedErr != nil && errors.Is(feedErr, domain.ErrResourceExhausted) {
					logger.Error.Printf("batch %s: aborting intake: %v", batchID, feedErr)
					beginShutdown()
				}
				continue
			}
			if stopping {
				continue
			}
			pp := &pageProgress{next: msg.page.NextCursor}
			for _, desc := range msg.page.Descriptors {
				key := desc.Key()
				if cp.Seen(key) {
					skippedSeen++
					continue
				}
				if enqueued[key] {
					continue
				}
				enqueued[key] = true
				keyPage[key] = pp
				pp.remaining++
				pending = append(pending, domain.NewClipTask(desc))
			}
			outstanding[msg.source] = append(outstanding[msg.source], pp)
			advanceCursor(msg.source)

		case task, ok := <-results:
			if !ok {
				// Workers are gone; nothing in flight can remain.
				inflight = 0
				stopping = true
				continue
			}
			inflight--
			if pp := keyPage[task.Descriptor.Key()]; pp != nil {
				pp.remaining--
				delete(keyPage, task.Descriptor.Key())
				advanceCursor(task.Descriptor.SourceID)
			}
			s.recordOutcome(ctx, cp, task)
			if cp.TargetReached() {
				logger.Info.Printf("batch %s: target reached (%d accepted, %.2fh)",
					batchID, cp.AcceptedCount, cp.AcceptedSeconds/3600)
				beginShutdown()
			}

		case <-admit.C:
			// Re-evaluate dispatch; the gate may have reopened.

		case <-done:
			logger.Warn.Printf("batch %s: canceled, draining %d in-flight tasks", batchID, inflight)
			beginShutdown()
			done = nil
		}
	}

	closeTasks()
	// Collect stragglers that finished during shutdown.
	for task := range results {
		if pp := keyPage[task.Descriptor.Key()]; pp != nil {
			pp.remaining--
			delete(keyPage, task.Descriptor.Key())
			advanceCursor(task.Descriptor.SourceID)
		}
		s.recordOutcome(ctx, cp, task)
	}
	if pagesOpen {
		for range pages {
		}
		feedErr = <-feedDone
	}

	// One last save so cursor advances made after the final outcome stick.
	if err := s.checkpoints.Save(context.WithoutCancel(ctx), cp.Clone()); err != nil {
		logger.Error.Printf("failed to save final checkpoint for %s: %v", batchID, err)
	}

	if skippedSeen > 0 {
		logger.Info.Printf("batch %s: skipped %d already-processed candidates", batchID, skippedSeen)
	}

	result := domain.ResultFromCheckpoint(cp, time.Since(start))
	s.publish(batchID, Event{Type: "batch", State: "done",
		Message: fmt.Sprintf("accepted=%d rejected=%d failed=%d", result.Accepted, result.Rejected, result.Failed)})

	switch {
	case feedErr != nil && errors.Is(feedErr, domain.ErrResourceExhausted):
		return result, feedErr
	case ctx.Err() != nil && !cp.TargetReached():
		return result, ctx.Err()
	default:
		return result, nil
	}
}

func (s *Scheduler) loadOrCreate(ctx context.Context, batchID string, target domain.Target) (*domain.BatchCheckpoint, error) {
	cp, err := s.checkpoints.Load(ctx, batchID)
	if errors.Is(err, domain.ErrNotFound) {
		if err := target.Validate(); err != nil {
			return nil, err
		}
		logger.Info.Printf("batch %s: starting fresh", batchID)
		return domain.NewBatchCheckpoint(batchID, target), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	// The stored target wins on resume so a typo on the command line
	// cannot silently change a half-finished batch.
	if cp.Target != target {
		logger.Warn.Printf("batch %s: keeping stored target %+v", batchID, cp.Target)
	}
	logger.Info.Printf("batch %s: resuming with %d processed (%d accepted)",
		batchID, len(cp.Processed), cp.AcceptedCount)
	return cp, nil
}

// recordOutcome folds one terminal task into the checkpoint and saves it
// before the next result is consumed.
func (s *Scheduler) recordOutcome(ctx context.Context, cp *domain.BatchCheckpoint, task *domain.ClipTask) {
	key := task.Descriptor.Key()
	// Keys and errors can carry source-supplied text.
	logKey := logger.SanitizeForLog(key)

	var reasons []string
	if task.Verdict != nil {
		reasons = task.Verdict.Reasons()
	}
	outcome := outcomeForState(task.State)
	if !cp.Record(key, outcome, task.Duration, reasons) {
		logger.Warn.Printf("duplicate outcome for %s ignored", logKey)
		return
	}

	switch task.State {
	case domain.TaskStateAccepted:
		logger.Info.Printf("accepted %s (%.1fs) -> %s", logKey, task.Duration, task.StoredRef)
	case domain.TaskStateRejected:
		logger.Info.Printf("rejected %s: %v", logKey, reasons)
	case domain.TaskStateFailed:
		logger.Error.Printf("failed %s after %d attempts: %s", logKey, task.AttemptCount,
			logger.SanitizeForLog(task.LastError))
	}
	s.publish(cp.BatchID, Event{Type: "task", Key: key, State: string(task.State), Message: task.LastError})

	// Save synchronously so durable state never runs behind the counters.
	saveCtx := context.WithoutCancel(ctx)
	if err := s.checkpoints.Save(saveCtx, cp.Clone()); err != nil {
		logger.Error.Printf("failed to save checkpoint for %s: %v", cp.BatchID, err)
	}
}

func (s *Scheduler) publish(batchID string, event Event) {
	if s.events != nil {
		s.events.Publish(batchID, event)
	}
}

func outcomeForState(state domain.TaskState) domain.Outcome {
	switch state {
	case domain.TaskStateAccepted:
		return domain.OutcomeAccepted
	case domain.TaskStateRejected:
		return domain.OutcomeRejected
	default:
		return domain.OutcomeFailed
	}
}

type feedSource struct {
	adapter   port.SourceAdapter
	query     string
	cursor    string
	exhausted bool
	strikes   int
}

// feed pages candidates out of every source, one page per source per round
// so no source can starve the others, with at most MaxScrapers concurrent
// requests. It blocks while the resource gate denies admission.
func (s *Scheduler) feed(ctx context.Context, cursors map[string]string, out chan<- pageMsg) error {
	active := make([]*feedSource, 0, len(s.sources))
	for _, spec := range s.sources {
		active = append(active, &feedSource{
			adapter: spec.Adapter,
			query:   spec.Query,
			cursor:  cursors[spec.Adapter.Name()],
		})
	}

	for {
		round := activeSources(active)
		if len(round) == 0 {
			return nil
		}
		if err := s.waitForAdmission(ctx); err != nil {
			return err
		}

		var mu sync.Mutex
		msgs := make([]pageMsg, 0, len(round))

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(s.opts.MaxScrapers)
		for _, src := range round {
			g.Go(func() error {
				page, err := src.adapter.ListCandidates(gctx, src.query, src.cursor, s.opts.PageSize)
				if err != nil {
					if domain.IsTransient(err) && src.strikes+1 < s.opts.MaxAttempts {
						src.strikes++
						logger.Warn.Printf("source %s: transient listing failure (strike %d): %v",
							src.adapter.Name(), src.strikes, err)
						return nil
					}
					logger.Error.Printf("source %s: dropping after listing failure: %v", src.adapter.Name(), err)
					src.exhausted = true
					return nil
				}
				src.strikes = 0
				src.cursor = page.NextCursor
				if page.Exhausted {
					src.exhausted = true
					logger.Info.Printf("source %s: exhausted", src.adapter.Name())
				}
				if len(page.Descriptors) > 0 {
					mu.Lock()
					msgs = append(msgs, pageMsg{source: src.adapter.Name(), page: page})
					mu.Unlock()
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		for _, msg := range msgs {
			select {
			case out <- msg:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
}

func activeSources(sources []*feedSource) []*feedSource {
	out := sources[:0:0]
	for _, s := range sources {
		if !s.exhausted {
			out = append(out, s)
		}
	}
	return out
}

const admissionPollInterval = 200 * time.Millisecond

func (s *Scheduler) admits() bool {
	return s.gate == nil || s.gate.Admits()
}

// waitForAdmission polls the resource gate until it admits work again. A
// pause longer than the wait budget aborts the batch.
func (s *Scheduler) waitForAdmission(ctx context.Context) error {
	if s.admits() {
		return nil
	}
	logger.Warn.Printf("resource gate closed, pausing intake (budget %s)", s.opts.AdmissionWaitBudget)

	waitCtx := ctx
	if s.opts.AdmissionWaitBudget > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, s.opts.AdmissionWaitBudget)
		defer cancel()
	}

	ticker := time.NewTicker(admissionPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if s.gate.Admits() {
				logger.Info.Printf("resource gate reopened, resuming intake")
				return nil
			}
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("admission wait budget %s exceeded: %w",
				s.opts.AdmissionWaitBudget, domain.ErrResourceExhausted)
		}
	}
}

func cloneCursors(cursors map[string]string) map[string]string {
	out := make(map[string]string, len(cursors))
	for k, v := range cursors {
		out[k] = v
	}
	return out
}
