// Package loader streams a dataset as padded Batches, prefetching and
// encoding in parallel while keeping delivery order deterministic.
package loader

import (
	"context"
	"fmt"
	"io"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/cyclopcam/logs"
	"golang.org/x/sync/errgroup"

	"github.com/cyclopcam/finetune/pkg/nn"
	"github.com/cyclopcam/finetune/train/dataset"
)

// Source is random access to encoded examples. *dataset.Dataset is the real
// one; tests substitute their own.
type Source interface {
	Len() int
	Get(i int) (*nn.Example, error)
}

// Options configures a Loader.
type Options struct {
	// BatchSize is the number of examples per batch. The final batch of an
	// epoch may be smaller, and is still delivered.
	BatchSize int

	// Shuffle draws a new example order every epoch.
	Shuffle bool

	// Workers is the number of goroutines encoding examples.
	// Zero value uses NumCPU.
	Workers int

	// Prefetch is how many finished batches may queue ahead of the consumer.
	// Zero value uses 2.
	Prefetch int

	// WithMask attaches pixel validity masks to batches.
	WithMask bool

	// Seed makes shuffling reproducible. Zero seeds from the clock.
	Seed int64
}

// Loader hands out one epoch of Batches at a time.
// It is not safe for concurrent use; run epochs one after another, the way
// training does. Shuffling state advances across epochs, so every epoch sees
// a different order, all reproducible from the seed.
type Loader struct {
	log  logs.Log
	src  Source
	opts Options
	rng  *rand.Rand
}

func NewLoader(log logs.Log, src Source, opts Options) (*Loader, error) {
	if opts.BatchSize <= 0 {
		return nil, fmt.Errorf("batch size must be positive, not %v", opts.BatchSize)
	}
	if opts.Workers <= 0 {
		opts.Workers = runtime.NumCPU()
	}
	if opts.Prefetch <= 0 {
		opts.Prefetch = 2
	}
	seed := opts.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Loader{
		log:  log,
		src:  src,
		opts: opts,
		rng:  rand.New(rand.NewSource(seed)),
	}, nil
}

// NumBatches is the number of batches in one epoch.
func (l *Loader) NumBatches() int {
	return (l.src.Len() + l.opts.BatchSize - 1) / l.opts.BatchSize
}

type job struct {
	seq     int
	indices []int
}

type result struct {
	seq   int
	batch *nn.Batch
}

// Batches starts one pass over the source and returns its stream.
// Cancel ctx to shut the pipeline down early; otherwise read the stream to
// io.EOF, or the workers behind it stay blocked.
func (l *Loader) Batches(ctx context.Context) *Stream {
	l.log.Debugf("Starting pass: %v examples in %v batches of %v", l.src.Len(), l.NumBatches(), l.opts.BatchSize)
	order := make([]int, l.src.Len())
	for i := range order {
		order[i] = i
	}
	if l.opts.Shuffle {
		l.rng.Shuffle(len(order), func(i, j int) {
			order[i], order[j] = order[j], order[i]
		})
	}

	g, ctx := errgroup.WithContext(ctx)
	jobs := make(chan job, l.opts.Workers)
	results := make(chan result, l.opts.Prefetch)
	out := make(chan *nn.Batch, l.opts.Prefetch)

	g.Go(func() error {
		defer close(jobs)
		for seq, start := 0, 0; start < len(order); seq, start = seq+1, start+l.opts.BatchSize {
			end := min(start+l.opts.BatchSize, len(order))
			select {
			case jobs <- job{seq: seq, indices: order[start:end]}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	})

	wg := &sync.WaitGroup{}
	for i := 0; i < l.opts.Workers; i++ {
		wg.Add(1)
		g.Go(func() error {
			defer wg.Done()
			return l.encodeBatches(ctx, jobs, results)
		})
	}
	g.Go(func() error {
		wg.Wait()
		close(results)
		return nil
	})

	g.Go(func() error {
		defer close(out)
		return reorder(ctx, results, out)
	})

	return &Stream{out: out, g: g}
}

func (l *Loader) encodeBatches(ctx context.Context, jobs <-chan job, results chan<- result) error {
	for j := range jobs {
		if err := ctx.Err(); err != nil {
			return err
		}
		examples := make([]*nn.Example, 0, len(j.indices))
		for _, idx := range j.indices {
			ex, err := l.src.Get(idx)
			if err != nil {
				return err
			}
			examples = append(examples, ex)
		}
		batch, err := dataset.Collate(examples, l.opts.WithMask)
		if err != nil {
			return err
		}
		select {
		case results <- result{seq: j.seq, batch: batch}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// reorder restores submission order, because workers finish out of order.
func reorder(ctx context.Context, results <-chan result, out chan<- *nn.Batch) error {
	next := 0
	pending := map[int]*nn.Batch{}
	for r := range results {
		pending[r.seq] = r.batch
		for {
			batch, ok := pending[next]
			if !ok {
				break
			}
			select {
			case out <- batch:
			case <-ctx.Done():
				return ctx.Err()
			}
			delete(pending, next)
			next++
		}
	}
	return nil
}

// Stream is one epoch's batch sequence.
type Stream struct {
	out <-chan *nn.Batch
	g   *errgroup.Group
}

// Next blocks for the next batch. It returns io.EOF when the epoch is
// exhausted, or the first error the pipeline hit.
func (s *Stream) Next() (*nn.Batch, error) {
	batch, ok := <-s.out
	if !ok {
		if err := s.g.Wait(); err != nil {
			return nil, err
		}
		return nil, io.EOF
	}
	return batch, nil
}
