package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/argusscan/argus/pkg/checks"
	"github.com/argusscan/argus/pkg/finding"
	"github.com/argusscan/argus/pkg/hosterrors"
	"github.com/argusscan/argus/pkg/httpclient"
	"github.com/argusscan/argus/pkg/metrics"
	"github.com/argusscan/argus/pkg/store"
	"github.com/argusscan/argus/pkg/telemetry"
)

// scan is the state of one Run.
type scan struct {
	o       *Orchestrator
	session store.Session
	target  checks.Target
	mode    Mode
	client  *httpclient.Client
	agg     *finding.Aggregator
	hosts   *hosterrors.Cache
	logger  *slog.Logger
	started time.Time

	checksRun    atomic.Int64
	checksFailed atomic.Int64
	skipped      atomic.Int64
}

func (o *Orchestrator) newScan(sess store.Session, target checks.Target, mode Mode, limiter httpclient.Acquirer) *scan {
	logger := o.logger.With(
		slog.String("scan_id", sess.ID),
		slog.String("domain", sess.Domain),
		slog.String("mode", string(mode)),
	)
	client := httpclient.NewClient(o.http, limiter,
		httpclient.WithLogger(logger),
		httpclient.WithRetry(o.cfg.Retry),
		httpclient.WithHeaders(o.cfg.Headers),
		httpclient.WithObserver(func(ev httpclient.RequestEvent) {
			o.metrics.ObserveRequest(ev.Status, ev.Attempt, ev.Duration, ev.Waited)
		}),
	)
	return &scan{
		o:       o,
		session: sess,
		target:  target,
		mode:    mode,
		client:  client,
		agg:     finding.NewAggregator(),
		hosts:   hosterrors.NewCache(o.cfg.UnreachableThreshold),
		logger:  logger,
		started: o.now(),
	}
}

func (s *scan) run(ctx context.Context, runners []checks.Runner) (*Result, error) {
	ctx, span := s.o.tracer.StartScan(ctx, s.session.ID, s.session.Domain, string(s.mode))
	s.o.metrics.ScanStarted()

	var detect, rest []checks.Runner
	for _, r := range runners {
		if checks.PhaseOf(r) == checks.PhaseDetect {
			detect = append(detect, r)
		} else {
			rest = append(rest, r)
		}
	}
	s.logger.Info("scan started",
		slog.String("target", s.target.String()),
		slog.Int("checks", len(runners)),
		slog.Int("threads", s.o.cfg.Threads))

	work, release := detach(ctx, s.o.grace)
	status, errMsg, runErr := s.phases(ctx, work, detect, rest)
	release()

	res, err := s.finalize(ctx, status, errMsg)
	if err != nil {
		telemetry.End(span, err)
		return nil, err
	}
	telemetry.End(span, runErr,
		attribute.String("status", string(status)),
		attribute.Int("findings", res.Summary.Counts.Total))

	res.ExitCode = ExitCode(runErr)
	s.logger.Info("scan finished",
		slog.String("status", string(status)),
		slog.Int("findings", res.Summary.Counts.Total),
		slog.Int64("requests", res.Summary.Requests),
		slog.Int("checks_failed", res.Summary.ChecksFailed),
		slog.Int64("duration_ms", res.Summary.DurationMS))
	return res, runErr
}

// phases runs the detect runners one by one, then the rest in the pool, and
// decides the terminal status. ctx stops new checks from starting; work is
// the context checks run under, so a check already running when ctx ends
// still completes.
func (s *scan) phases(ctx, work context.Context, detect, rest []checks.Runner) (store.Status, string, error) {
	for _, r := range detect {
		if ctx.Err() != nil {
			break
		}
		err := s.execute(work, r)
		switch {
		case err == nil, ctx.Err() != nil:
		case errors.Is(err, checks.ErrNotInScope):
			s.skipAll(rest)
			s.logger.Warn("target out of scope", slog.String("check", r.Name()), slog.String("err", err.Error()))
			return store.StatusAborted, msgNotInScope, fmt.Errorf("%w: %w", ErrNotInScope, err)
		case hosterrors.IsNetworkError(err):
			s.skipAll(rest)
			s.logger.Error("target unreachable", slog.String("check", r.Name()), slog.String("err", err.Error()))
			return store.StatusFailed, err.Error(), fmt.Errorf("%w: %w", ErrTargetUnreachable, err)
		default:
			s.skipAll(rest)
			s.logger.Error("detection failed", slog.String("check", r.Name()), slog.String("err", err.Error()))
			return store.StatusFailed, err.Error(), fmt.Errorf("%w: %w", ErrDetectFailed, err)
		}
	}

	var runErr error
	if ctx.Err() == nil {
		runErr = s.pool(ctx, work, rest)
	} else {
		s.skipAll(rest)
	}
	if ctx.Err() != nil {
		s.logger.Warn("scan interrupted", slog.Int64("skipped", s.skipped.Load()))
		return store.StatusAborted, msgInterrupted, fmt.Errorf("%w: %w", ErrCancelled, context.Cause(ctx))
	}
	if runErr != nil {
		return store.StatusAborted, runErr.Error(), runErr
	}
	return store.StatusCompleted, "", nil
}

// pool runs runners on a bounded set of workers. When the target has failed
// to connect for UnreachableThreshold consecutive checks, or ctx ends, no new
// check is started; checks already running finish under work and keep their
// findings.
func (s *scan) pool(ctx, work context.Context, runners []checks.Runner) error {
	if len(runners) == 0 {
		return nil
	}

	abortCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	var (
		abortOnce sync.Once
		abortErr  error
	)
	abort := func(err error) {
		abortOnce.Do(func() {
			abortErr = err
			s.logger.Error("aborting scan", slog.String("err", err.Error()))
			cancel()
		})
	}

	workers := min(s.o.cfg.Threads, len(runners))
	tasks := make(chan checks.Runner, workers)

	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for r := range tasks {
				if abortCtx.Err() != nil || s.hosts.Check(s.target.Domain) {
					s.skip(r)
					continue
				}
				err := s.execute(work, r)
				switch {
				case ctx.Err() != nil:
				case hosterrors.IsNetworkError(err):
					if s.hosts.MarkError(s.target.Domain) {
						abort(fmt.Errorf("%w: %d consecutive checks could not connect: %w",
							ErrTargetUnreachable, s.hosts.Count(s.target.Domain), err))
					}
				default:
					s.hosts.Clear(s.target.Domain)
				}
			}
		}()
	}

send:
	for i, r := range runners {
		select {
		case <-abortCtx.Done():
			s.skipAll(runners[i:])
			break send
		case tasks <- r:
		}
	}
	close(tasks)
	wg.Wait()
	return abortErr
}

// detach returns a context that keeps ctx's values but not its cancellation.
// Once ctx ends, the returned context is cancelled after grace.
func detach(ctx context.Context, grace time.Duration) (context.Context, context.CancelFunc) {
	work, cancel := context.WithCancel(context.WithoutCancel(ctx))
	stop := context.AfterFunc(ctx, func() {
		time.AfterFunc(grace, cancel)
	})
	return work, func() {
		stop()
		cancel()
	}
}

// execute runs one check and hands its findings to the aggregator. Partial
// findings of a failed check are kept.
func (s *scan) execute(ctx context.Context, r checks.Runner) error {
	name := r.Name()
	cctx, span := s.o.tracer.StartCheck(ctx, name)
	start := time.Now()

	found, err := checks.Run(cctx, r, s.client, s.target)
	took := time.Since(start)
	s.checksRun.Add(1)

	if cerr := s.agg.Collect(found...); cerr != nil {
		s.logger.Error("findings dropped", slog.String("check", name), slog.String("err", cerr.Error()))
	}

	outcome := metrics.OutcomeOK
	switch {
	case err == nil:
		s.logger.Debug("check done", slog.String("check", name), slog.Int("findings", len(found)), slog.Duration("took", took))
	case errors.Is(err, checks.ErrNotInScope):
	default:
		outcome = metrics.OutcomeFailed
		s.checksFailed.Add(1)
		s.logger.Warn("check failed",
			slog.String("check", name),
			slog.Int("findings", len(found)),
			slog.String("err", err.Error()))
	}
	s.o.metrics.ObserveCheck(name, outcome, took)
	telemetry.End(span, err, attribute.Int("findings", len(found)))
	return err
}

func (s *scan) skip(r checks.Runner) {
	s.skipped.Add(1)
	s.o.metrics.ObserveCheck(r.Name(), metrics.OutcomeSkipped, 0)
	s.logger.Debug("check skipped", slog.String("check", r.Name()))
}

func (s *scan) skipAll(rs []checks.Runner) {
	for _, r := range rs {
		s.skip(r)
	}
}

// finalize stages the deduplicated findings and moves the session to its
// terminal status in one store transaction. The store refuses a second
// finalize of the same session, so findings are never written twice.
func (s *scan) finalize(ctx context.Context, status store.Status, errMsg string) (*Result, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
	defer cancel()

	found, counts := s.agg.Finalize()
	summary := store.Summary{
		Counts:       counts,
		Requests:     s.client.Requests(),
		ChecksRun:    int(s.checksRun.Load()),
		ChecksFailed: int(s.checksFailed.Load()),
		DurationMS:   s.o.now().Sub(s.started).Milliseconds(),
	}

	if err := s.o.store.AppendFindings(ctx, s.session.ID, found); err != nil {
		return nil, fmt.Errorf("core: stage findings: %w", err)
	}
	if err := s.o.store.FinalizeSession(ctx, s.session.ID, status, summary, errMsg); err != nil {
		return nil, fmt.Errorf("core: finalize session: %w", err)
	}

	sess, err := s.o.store.GetSession(ctx, s.session.ID)
	if err != nil {
		return nil, fmt.Errorf("core: reload session: %w", err)
	}

	bySeverity := make(map[string]int, len(finding.Severities))
	for _, sev := range finding.Severities {
		bySeverity[sev.String()] = counts.Count(sev)
	}
	s.o.metrics.ScanFinished(string(s.mode), string(status), bySeverity)

	return &Result{Session: sess, Findings: found, Summary: summary}, nil
}
