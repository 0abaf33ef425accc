package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/sethvargo/go-retry"

	"github.com/tmarlin/clipharvest/internal/domain"
	"github.com/tmarlin/clipharvest/internal/infrastructure/logger"
)

func (s *Scheduler) worker(ctx context.Context, id int, tasks <-chan *domain.ClipTask, results chan<- *domain.ClipTask) {
	for task := range tasks {
		// Detach from run cancellation so an in-flight clip always reaches
		// a terminal state before the worker exits.
		taskCtx := context.WithoutCancel(ctx)
		var cancel context.CancelFunc = func() {}
		if s.opts.TaskTimeout > 0 {
			taskCtx, cancel = context.WithTimeout(taskCtx, s.opts.TaskTimeout)
		}

		logger.Debug.Printf("worker %d: processing %s", id, task.Descriptor.Key())
		s.process(taskCtx, task)
		cancel()

		results <- task
	}
	logger.Debug.Printf("worker %d: shutting down", id)
}

// process drives one candidate to a terminal state: fetch and normalize
// (with retries on transient failures), analyze, validate, then store on
// acceptance. Rejections are verdicts, never errors, and are not retried.
func (s *Scheduler) process(ctx context.Context, task *domain.ClipTask) {
	key := task.Descriptor.Key()
	rawPath := filepath.Join(s.opts.WorkDir, "raw", sanitizeFilename(key))
	normalizedPath := filepath.Join(s.opts.WorkDir, "normalized", sanitizeFilename(key)+"."+s.opts.TargetSpec.Container)
	defer os.Remove(rawPath)

	for _, dir := range []string{filepath.Dir(rawPath), filepath.Dir(normalizedPath)} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			s.fail(task, fmt.Errorf("create work directory: %w", err))
			return
		}
	}

	if err := s.fetchAndNormalize(ctx, task, rawPath, normalizedPath); err != nil {
		s.fail(task, err)
		return
	}

	task.State = domain.TaskStateValidating
	info, err := s.analyzer.Analyze(ctx, normalizedPath, s.opts.Analyze)
	if err != nil {
		os.Remove(normalizedPath)
		s.fail(task, fmt.Errorf("analyze: %w", err))
		return
	}
	if info.Duration > 0 {
		task.Duration = info.Duration
	}

	verdict := s.pipeline.Validate(info)
	task.Verdict = &verdict
	if !verdict.Passed {
		os.Remove(normalizedPath)
		task.State = domain.TaskStateRejected
		return
	}

	ref, err := s.store(ctx, normalizedPath, key)
	if err != nil {
		os.Remove(normalizedPath)
		s.fail(task, err)
		return
	}
	task.StoredRef = ref
	task.State = domain.TaskStateAccepted
}

// fetchAndNormalize runs the download and transcode as one retry unit. The
// raw file survives between attempts so a transient transcode failure does
// not pay for the download again.
func (s *Scheduler) fetchAndNormalize(ctx context.Context, task *domain.ClipTask, rawPath, normalizedPath string) error {
	source, ok := s.byName[task.Descriptor.SourceID]
	if !ok {
		return fmt.Errorf("no adapter for source %q", task.Descriptor.SourceID)
	}

	return retry.Do(ctx, s.retryPolicy(), func(ctx context.Context) error {
		task.AttemptCount++

		if _, err := os.Stat(rawPath); err != nil {
			task.State = domain.TaskStateFetching
			if err := source.Fetch(ctx, task.Descriptor, rawPath); err != nil {
				return retryable(fmt.Errorf("fetch: %w", err))
			}
		}

		task.State = domain.TaskStateTranscoding
		if err := s.transcoder.Normalize(ctx, rawPath, normalizedPath, s.opts.TargetSpec); err != nil {
			return retryable(fmt.Errorf("transcode: %w", err))
		}
		return nil
	})
}

func (s *Scheduler) store(ctx context.Context, path, key string) (string, error) {
	var ref string
	err := retry.Do(ctx, s.retryPolicy(), func(ctx context.Context) error {
		r, err := s.sink.Store(ctx, path, sanitizeFilename(key)+"."+s.opts.TargetSpec.Container)
		if err != nil {
			return retryable(fmt.Errorf("store: %w", err))
		}
		ref = r
		return nil
	})
	return ref, err
}

func (s *Scheduler) retryPolicy() retry.Backoff {
	return retry.WithMaxRetries(uint64(s.opts.MaxAttempts-1), retry.NewExponential(s.opts.RetryBaseDelay))
}

// retryable marks transient failures for the backoff loop; permanent ones
// pass through and end the task.
func retryable(err error) error {
	if domain.IsTransient(err) {
		return retry.RetryableError(err)
	}
	return err
}

func (s *Scheduler) fail(task *domain.ClipTask, err error) {
	task.State = domain.TaskStateFailed
	task.LastError = err.Error()
}

func sanitizeFilename(key string) string {
	return strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_").Replace(key)
}
