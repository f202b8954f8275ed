package storage

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// CopyFn is a backend's bulk insert for one table. It is called once per
// batch with rows aligned to columns.
type CopyFn func(ctx context.Context, columns []string, rows [][]any) (int64, error)

// BatchStats summarizes one LoadBatches call.
type BatchStats struct {
	Rows    int64
	Batches int64
}

// LoadBatches drains in, groups rows into batches of batchSize and calls
// copyFn for each non-empty batch. It stops at the first copy error or when
// ctx is done.
func LoadBatches(
	ctx context.Context,
	log *slog.Logger,
	columns []string,
	in <-chan []any,
	batchSize int,
	copyFn CopyFn,
) (BatchStats, error) {
	var st BatchStats
	if batchSize <= 0 {
		return st, fmt.Errorf("batchSize must be > 0")
	}
	if copyFn == nil {
		return st, fmt.Errorf("copyFn must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}

	var (
		batch     = make([][]any, 0, batchSize)
		start     = time.Now()
		lastFlush = start
	)
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		n, err := copyFn(ctx, columns, batch)
		st.Rows += n
		batch = batch[:0]
		if err != nil {
			log.Error("batch copy failed", "batch", st.Batches+1, "total", st.Rows, "err", err)
			return err
		}
		st.Batches++
		now := time.Now()
		rps := float64(0)
		if d := now.Sub(lastFlush); d > 0 {
			rps = float64(n) / d.Seconds()
		}
		log.Debug("batch copied",
			"batch", st.Batches,
			"rows", n,
			"total", st.Rows,
			"rps", int64(rps),
			"elapsed", now.Sub(start).Truncate(time.Millisecond),
		)
		lastFlush = now
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return st, ctx.Err()
		case row, ok := <-in:
			if !ok {
				return st, flush()
			}
			batch = append(batch, row)
			if len(batch) >= batchSize {
				if err := flush(); err != nil {
					return st, err
				}
			}
		}
	}
}
