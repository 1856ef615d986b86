package backtest

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/perpbt/errs"
	"github.com/rustyeddy/perpbt/market"
	"github.com/rustyeddy/perpbt/strategies"
)

// Job is one independent run of a sweep. Each job builds its own
// strategy, ledger and risk manager; the series is only read.
type Job struct {
	Name     string
	Series   *market.Series
	Strategy strategies.Config
	Options  Options
}

type SweepResult struct {
	Job    Job
	Result *Result
	Err    error
}

// Sweep runs jobs on up to workers goroutines and returns results in job
// order. A configuration or input error in any job cancels the rest and
// is returned; other run errors are kept on the job's SweepResult.
func Sweep(ctx context.Context, jobs []Job, workers int) ([]SweepResult, error) {
	if workers <= 0 {
		workers = 1
	}
	out := make([]SweepResult, len(jobs))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for i := range jobs {
		i := i // per-iteration copy; go.mod targets go1.21 (pre-1.22 loopvar semantics)
		job := jobs[i]
		out[i].Job = job

		g.Go(func() error {
			strat, err := strategies.ByName(job.Strategy)
			if err != nil {
				return errs.Wrap(errs.KindConfiguration, "backtest.Sweep "+job.Name, err)
			}
			eng, err := New(job.Options)
			if err != nil {
				return err
			}

			res, err := eng.Run(ctx, job.Series, strat)
			out[i].Result = res
			out[i].Err = err

			switch errs.KindOf(err) {
			case errs.KindConfiguration, errs.KindInputData:
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return out, err
	}
	return out, nil
}
