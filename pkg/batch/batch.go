// Package batch runs independent instructions in parallel on a worker pool.
//
// Instructions in one batch must not share a writable account. Run rejects
// batches that violate this before any instruction executes.
package batch

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Overclock-Validator/quartz/pkg/sbpf/loader"
	"github.com/Overclock-Validator/quartz/pkg/sealevel"
	"github.com/gagliardetto/solana-go"
	"github.com/panjf2000/ants/v2"
	"github.com/samber/lo"
	"k8s.io/klog/v2"
)

var ErrAccountConflict = errors.New("instructions share a writable account")

// Outcome is the result of one instruction of a batch. Err is set when the
// instruction could not be run at all; instruction failures are reported in
// Result.
type Outcome struct {
	Index  int
	Result *sealevel.Result
	Err    error
}

type task struct {
	ctx    context.Context
	idx    int
	params sealevel.ExecuteParams
	out    []Outcome
	wg     *sync.WaitGroup
}

// Executor owns a worker pool and a program cache shared by all batches.
type Executor struct {
	pool  *ants.PoolWithFunc
	cache *loader.Cache
}

// New creates an executor with the given number of workers. A cacheSize of
// zero selects the loader's default.
func New(workers int, cacheSize int) (*Executor, error) {
	if workers <= 0 {
		return nil, fmt.Errorf("invalid worker count %d", workers)
	}
	cache, err := loader.NewCache(cacheSize)
	if err != nil {
		return nil, err
	}
	pool, err := ants.NewPoolWithFunc(workers, func(i interface{}) {
		t := i.(*task)
		defer t.wg.Done()

		res, err := sealevel.Execute(t.ctx, t.params)
		t.out[t.idx] = Outcome{Index: t.idx, Result: res, Err: err}
	}, ants.WithPreAlloc(true))
	if err != nil {
		return nil, err
	}
	return &Executor{pool: pool, cache: cache}, nil
}

// Release stops the workers. The executor must not be used afterwards.
func (e *Executor) Release() {
	e.pool.Release()
}

// Run executes every instruction of jobs and returns one outcome per job in
// input order. Jobs without their own cache share the executor's.
func (e *Executor) Run(ctx context.Context, jobs []sealevel.ExecuteParams) ([]Outcome, error) {
	if err := CheckIndependent(jobs); err != nil {
		return nil, err
	}

	out := make([]Outcome, len(jobs))
	var wg sync.WaitGroup
	for i := range jobs {
		params := jobs[i]
		if params.Cache == nil {
			params.Cache = e.cache
		}

		wg.Add(1)
		if err := e.pool.Invoke(&task{ctx: ctx, idx: i, params: params, out: out, wg: &wg}); err != nil {
			wg.Done()
			out[i] = Outcome{Index: i, Err: err}
			klog.Errorf("failed to dispatch instruction %d: %s", i, err)
		}
	}
	wg.Wait()

	klog.V(3).Infof("batch of %d instructions done, %d failed", len(jobs),
		lo.CountBy(out, func(o Outcome) bool { return o.Err != nil || (o.Result != nil && o.Result.Err != nil) }))
	return out, nil
}

// CheckIndependent reports ErrAccountConflict if an account writable in one
// instruction is referenced by another.
func CheckIndependent(jobs []sealevel.ExecuteParams) error {
	owner := make(map[solana.PublicKey]int)
	writable := make(map[solana.PublicKey]bool)

	for i, job := range jobs {
		keys := lo.Uniq(lo.Map(job.Metas, func(m sealevel.AccountMeta, _ int) solana.PublicKey { return m.Pubkey }))
		for _, key := range keys {
			w := lo.ContainsBy(job.Metas, func(m sealevel.AccountMeta) bool { return m.Pubkey == key && m.IsWritable })
			prev, seen := owner[key]
			if seen && prev != i && (w || writable[key]) {
				return fmt.Errorf("%w: %s used by instructions %d and %d", ErrAccountConflict, key, prev, i)
			}
			owner[key] = i
			writable[key] = writable[key] || w
		}
	}
	return nil
}
