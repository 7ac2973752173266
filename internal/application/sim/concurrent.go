package sim

// concurrent.go - worker pool acotado sobre las seeds de simulación.
//
// El feeder deja de encolar cuando se cancela ctx; las simulaciones que ya tomó un
// worker corren hasta el final.

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/alejandrodnm/propamm/internal/domain"
)

const progressInterval = 5 * time.Second

func (e *Engine) runConcurrent(ctx context.Context, seeds []uint64, run func(seed uint64) domain.SimResult) []domain.SimResult {
	workers := min(e.cfg.Workers, max(len(seeds), 1))

	workCh := make(chan uint64)
	resultCh := make(chan domain.SimResult, workers)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for seed := range workCh {
				resultCh <- run(seed)
			}
		}()
	}

	go func() {
		defer close(workCh)
		for _, seed := range seeds {
			if ctx.Err() != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case workCh <- seed:
			}
		}
	}()

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	progress := rate.Sometimes{Interval: progressInterval}
	results := make([]domain.SimResult, 0, len(seeds))
	failed := 0
	for res := range resultCh {
		results = append(results, res)
		if !res.OK() {
			failed++
		}
		progress.Do(func() {
			e.log.Info("batch progress",
				"done", len(results),
				"total", len(seeds),
				"failed", failed,
			)
		})
	}
	return results
}
