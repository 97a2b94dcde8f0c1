package importer

// scheduler.go drives the per-cell rule engine across all rows without
// freezing the caller. An initial window is validated synchronously so the
// driving UI has immediate feedback; the remainder runs in fixed-size chunks
// on a background goroutine, publishing the accumulated error list and a
// completion percentage after each chunk. Suspension happens only at chunk
// boundaries, never mid-row, so partial-row state is never observable.
//
// Each call to Start begins a new pass and supersedes any in-flight one:
// the superseded pass's remaining chunks become no-ops and its results are
// discarded, never merged. Within one pass, errors are reported in row-index
// order and later snapshots strictly extend earlier ones.

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/importcsv/importcsv-go/internal/schema"
)

// Default tuning for the progressive scheduler. The initial window covers
// roughly one screenful of rows.
const (
	DefaultInitialWindow = 50
	DefaultChunkSize     = 500
)

// boundColumn ties an uploaded-column index to its resolved target column.
type boundColumn struct {
	Index  int
	Column schema.Column
}

// bindColumns resolves a frozen mapping into bound columns sorted by
// uploaded-column index, the order cells are evaluated in.
func bindColumns(mapping ColumnMapping, def schema.Definition) []boundColumn {
	indices := mapping.IncludedIndices()
	cols := make([]boundColumn, 0, len(indices))
	for _, idx := range indices {
		col, ok := def.ColumnByID(mapping[idx].ID)
		if !ok {
			continue
		}
		cols = append(cols, boundColumn{Index: idx, Column: col})
	}
	return cols
}

// Scheduler runs validation passes over a row snapshot. One scheduler
// belongs to one session; only one pass is in flight at a time.
type Scheduler struct {
	initialWindow int
	chunkSize     int
	publish       func(ValidationProgress)

	mu        sync.Mutex
	gen       int
	total     int
	validated int
	errors    []ValidationError
	active    bool
	completed bool
	doneCh    chan struct{}
}

// NewScheduler creates a scheduler with the given chunk tuning. publish is
// invoked with a progress snapshot after the initial window and after every
// chunk; it must not block.
func NewScheduler(initialWindow, chunkSize int, publish func(ValidationProgress)) *Scheduler {
	if initialWindow <= 0 {
		initialWindow = DefaultInitialWindow
	}
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if publish == nil {
		publish = func(ValidationProgress) {}
	}
	return &Scheduler{
		initialWindow: initialWindow,
		chunkSize:     chunkSize,
		publish:       publish,
	}
}

// Start begins a fresh pass over rows, superseding any in-flight pass.
// The initial window is validated synchronously before Start returns; the
// remaining rows are validated in chunks on a background goroutine.
func (sc *Scheduler) Start(rows [][]string, cols []boundColumn) {
	unique := buildUniqueCounts(rows, cols)

	sc.mu.Lock()
	sc.gen++
	gen := sc.gen
	if sc.active && sc.doneCh != nil {
		close(sc.doneCh) // release waiters on the superseded pass
	}
	sc.total = len(rows)
	sc.validated = 0
	sc.errors = nil
	sc.active = true
	sc.completed = false
	sc.doneCh = make(chan struct{})
	sc.mu.Unlock()

	window := sc.initialWindow
	if window > len(rows) {
		window = len(rows)
	}

	windowErrs := validateRange(rows, cols, unique, 0, window)
	if !sc.commit(gen, window, windowErrs, window == len(rows)) {
		return
	}

	if window < len(rows) {
		go sc.run(gen, rows, cols, unique, window)
	}
}

// run validates the remaining rows chunk by chunk. Supersession is a
// generation check at the top of each chunk commit; a stale pass simply
// stops, its results discarded rather than applied.
func (sc *Scheduler) run(gen int, rows [][]string, cols []boundColumn, unique uniqueCounts, from int) {
	for start := from; start < len(rows); start += sc.chunkSize {
		end := start + sc.chunkSize
		if end > len(rows) {
			end = len(rows)
		}

		chunkErrs := validateRange(rows, cols, unique, start, end)
		if !sc.commit(gen, end-start, chunkErrs, end == len(rows)) {
			return
		}
	}
}

// commit appends a chunk's results to the current pass if it is still the
// live one, publishing a snapshot. Returns false when the pass has been
// superseded.
func (sc *Scheduler) commit(gen, validated int, errs []ValidationError, last bool) bool {
	sc.mu.Lock()
	if gen != sc.gen {
		sc.mu.Unlock()
		return false
	}
	sc.validated += validated
	sc.errors = append(sc.errors, errs...)
	if last || sc.total == 0 {
		sc.active = false
		sc.completed = true
		close(sc.doneCh)
	}
	snapshot := sc.snapshotLocked()
	sc.mu.Unlock()

	sc.publish(snapshot)
	return true
}

// Stop supersedes any in-flight pass without starting a new one. Remaining
// chunks become no-ops; waiters are released.
func (sc *Scheduler) Stop() {
	sc.mu.Lock()
	sc.gen++
	if sc.active {
		sc.active = false
		close(sc.doneCh)
		sc.doneCh = nil
	}
	sc.mu.Unlock()
}

// Completed reports whether the most recent pass ran to the end of its
// data (as opposed to being superseded or never started).
func (sc *Scheduler) Completed() bool {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.completed
}

// Errors returns the accumulated error list of the current pass.
func (sc *Scheduler) Errors() []ValidationError {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return append([]ValidationError(nil), sc.errors...)
}

// Snapshot returns the current pass's progress.
func (sc *Scheduler) Snapshot() ValidationProgress {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.snapshotLocked()
}

func (sc *Scheduler) snapshotLocked() ValidationProgress {
	percent := 100
	if sc.total > 0 {
		percent = sc.validated * 100 / sc.total
	}
	return ValidationProgress{
		Pass:      sc.gen,
		Validated: sc.validated,
		TotalRows: sc.total,
		Percent:   percent,
		Errors:    append([]ValidationError(nil), sc.errors...),
		Done:      !sc.active,
	}
}

// Wait blocks until the in-flight pass finishes or is superseded, or the
// context is cancelled.
func (sc *Scheduler) Wait(ctx context.Context) error {
	for {
		sc.mu.Lock()
		if !sc.active || sc.doneCh == nil {
			sc.mu.Unlock()
			return nil
		}
		ch := sc.doneCh
		sc.mu.Unlock()

		select {
		case <-ch:
			// Finished or superseded; re-check.
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// uniqueCounts tracks, per unique-validated uploaded column, how many rows
// share each pre-transformed value. Uniqueness needs visibility into all
// rows before any row can be marked valid, so it is computed per pass up
// front rather than per cell.
type uniqueCounts map[int]map[string]int

func buildUniqueCounts(rows [][]string, cols []boundColumn) uniqueCounts {
	counts := make(uniqueCounts)
	for _, bc := range cols {
		if !bc.Column.HasValidator(schema.ValidatorUnique) {
			continue
		}
		values := make(map[string]int, len(rows))
		for _, row := range rows {
			value := ApplyPre(cellValue(row, bc.Index), bc.Column.Transformers)
			if strings.TrimSpace(value) == "" {
				continue
			}
			values[value]++
		}
		counts[bc.Index] = values
	}
	return counts
}

// validateRange evaluates rows [from, to) against the bound columns,
// returning errors in row-index order.
func validateRange(rows [][]string, cols []boundColumn, unique uniqueCounts, from, to int) []ValidationError {
	var errs []ValidationError
	for rowIdx := from; rowIdx < to; rowIdx++ {
		row := rows[rowIdx]
		for _, bc := range cols {
			raw := cellValue(row, bc.Index)
			value, err := evaluateCell(raw, bc.Column)

			if err == nil {
				if values, ok := unique[bc.Index]; ok && strings.TrimSpace(value) != "" && values[value] > 1 {
					err = uniqueViolation(bc.Column)
				}
			}

			if err != nil {
				errs = append(errs, ValidationError{
					RowIndex:    rowIdx,
					ColumnIndex: bc.Index,
					Message:     err.Error(),
				})
			}
		}
	}
	return errs
}

// evaluateCell applies the pre-stage transformers and validates the result.
// A rule implementation that panics is contained here and reported as a
// generic error for this one cell; the pass continues for all other cells.
func evaluateCell(raw string, col schema.Column) (value string, vErr error) {
	defer func() {
		if recover() != nil {
			value = raw
			vErr = errors.New("value could not be validated")
		}
	}()

	value = ApplyPre(raw, col.Transformers)
	vErr = ValidateCell(value, col)
	return value, vErr
}

func uniqueViolation(col schema.Column) error {
	for _, v := range col.Validators {
		if v.Type == schema.ValidatorUnique && v.Message != "" {
			return errors.New(v.Message)
		}
	}
	return fmt.Errorf("%s must be unique", col.Label)
}

// cellValue reads a cell defensively; short rows read as empty cells.
func cellValue(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return row[idx]
}
