package worker

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/rs/zerolog"
)

// Job is one independent unit of work. A failing job never affects its siblings.
type Job struct {
	Name string
	Run  func(ctx context.Context) error
}

// Pool bounds how many jobs run at once across all callers.
type Pool struct {
	sem chan struct{}
	log zerolog.Logger
}

func NewPool(size int, logger zerolog.Logger) *Pool {
	if size <= 0 {
		size = 1
	}
	return &Pool{sem: make(chan struct{}, size), log: logger.With().Str("component", "worker").Logger()}
}

func (p *Pool) Size() int { return cap(p.sem) }

// Do runs every job and waits for all of them. The returned slice is index-aligned
// with jobs; a panicking job is reported as an error.
func (p *Pool) Do(ctx context.Context, jobs []Job) []error {
	errs := make([]error, len(jobs))
	var wg sync.WaitGroup
	for i, job := range jobs {
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			for j := i; j < len(jobs); j++ {
				errs[j] = ctx.Err()
			}
			wg.Wait()
			return errs
		}
		wg.Add(1)
		go func(i int, job Job) {
			defer wg.Done()
			defer func() { <-p.sem }()
			errs[i] = p.run(ctx, job)
		}(i, job)
	}
	wg.Wait()
	return errs
}

func (p *Pool) run(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Str("job", job.Name).Interface("panic", r).Bytes("stack", debug.Stack()).Msg("job panicked")
			err = fmt.Errorf("job %s panicked: %v", job.Name, r)
		}
	}()
	return job.Run(ctx)
}
