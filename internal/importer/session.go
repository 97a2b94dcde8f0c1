package importer

// session.go owns the state of one in-flight import: the parsed row
// snapshot, header-row selection, the column mapping, the validation
// scheduler, and the exactly-once result build at completion. All session
// methods are safe for concurrent use; progress fan-out to subscribers uses
// non-blocking sends so one slow listener never stalls a validation pass.

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/importcsv/importcsv-go/internal/schema"
)

// Subscriber channels buffer this many progress snapshots before slow
// consumers start missing intermediate updates.
const progressBuffer = 16

var (
	ErrWrongStep   = errors.New("operation not allowed in current step")
	ErrNoResult    = errors.New("import result not available")
	ErrRowRange    = errors.New("row index out of range")
	ErrColumnRange = errors.New("column index out of range")
)

// Session is one import run from upload handoff to completion or
// cancellation.
type Session struct {
	ID        string
	Def       schema.Definition
	CreatedAt time.Time

	mu            sync.Mutex
	step          Step
	file          FileData
	headerRow     int
	headers       []string
	dataRows      [][]string
	mapping       ColumnMapping
	mappingFrozen bool
	dynamicIDs    map[string]bool
	sched         *Scheduler
	result        *ImportResult
	onTerminal    func()

	listenerMu sync.Mutex
	listeners  map[int]chan ValidationProgress
	nextListen int
	closed     bool
}

// NewSession creates a session at the upload step over already-parsed file
// data. initialWindow and chunkSize tune the progressive scheduler; zero
// values pick the defaults.
func NewSession(id string, def schema.Definition, file FileData, initialWindow, chunkSize int) *Session {
	s := &Session{
		ID:        id,
		Def:       def,
		CreatedAt: time.Now(),
		step:      StepUpload,
		file:      file,
		headerRow: -1,
		listeners: make(map[int]chan ValidationProgress),
	}
	s.sched = NewScheduler(initialWindow, chunkSize, s.notifyProgress)
	return s
}

// SetTerminalHook registers a callback invoked exactly once when the session
// reaches Complete or Cancelled. Used by the service for slot release and
// cleanup scheduling.
func (s *Session) SetTerminalHook(fn func()) {
	s.mu.Lock()
	s.onTerminal = fn
	s.mu.Unlock()
}

// Step returns the current step.
func (s *Session) Step() Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.step
}

// State is a snapshot of session progress for the API surface.
type State struct {
	ID         string              `json:"id"`
	Importer   string              `json:"importer"`
	Step       string              `json:"step"`
	FileName   string              `json:"fileName"`
	TotalRows  int                 `json:"totalRows"`
	HeaderRow  int                 `json:"headerRow"`
	Headers    []string            `json:"headers,omitempty"`
	SheetList  []string            `json:"sheetList,omitempty"`
	ErrorCount int                 `json:"errorCount"`
	Validation *ValidationProgress `json:"validation,omitempty"`
}

// State returns a point-in-time snapshot of the session.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		ID:        s.ID,
		Importer:  s.Def.Key,
		Step:      s.step.String(),
		FileName:  s.file.FileName,
		TotalRows: len(s.file.Rows),
		HeaderRow: s.headerRow,
		Headers:   append([]string(nil), s.headers...),
		SheetList: append([]string(nil), s.file.SheetList...),
	}
	if s.step == StepValidation || s.step == StepComplete {
		progress := s.sched.Snapshot()
		progress.SessionID = s.ID
		st.ErrorCount = len(progress.Errors)
		st.Validation = &progress
	}
	return st
}

// Rows returns up to limit raw uploaded rows for preview. A non-positive
// limit returns all rows.
func (s *Session) Rows(limit int) []FileRow {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows := s.file.Rows
	if limit > 0 && limit < len(rows) {
		rows = rows[:limit]
	}
	return append([]FileRow(nil), rows...)
}

// SelectHeaderRow marks row index as the header. Allowed only during row
// selection; picking a different row drops the rows above it from the
// working set and discards the now-stale mapping, while re-selecting the
// current header keeps the mapping and any cell edits intact.
func (s *Session) SelectHeaderRow(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepRowSelection {
		return fmt.Errorf("%w: select header row during %s", ErrWrongStep, s.step)
	}
	return s.selectHeaderLocked(index)
}

func (s *Session) selectHeaderLocked(index int) error {
	if index < 0 || index >= len(s.file.Rows) {
		return ErrRowRange
	}
	if index == s.headerRow {
		return nil
	}

	header := s.file.Rows[index]
	headers := make([]string, len(header.Values))
	for i, v := range header.Values {
		headers[i] = CleanCell(v)
	}

	data := make([][]string, 0, len(s.file.Rows)-index-1)
	for _, row := range s.file.Rows[index+1:] {
		data = append(data, row.Values)
	}

	s.headerRow = index
	s.headers = headers
	s.dataRows = data
	s.mapping = nil
	return nil
}

// Mapping returns the current column mapping.
func (s *Session) Mapping() ColumnMapping {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(ColumnMapping, len(s.mapping))
	for k, v := range s.mapping {
		out[k] = v
	}
	return out
}

// SetMapping replaces the column mapping. Allowed only during the mapping
// step; the mapping freezes when validation starts.
func (s *Session) SetMapping(mapping ColumnMapping) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepMapColumns || s.mappingFrozen {
		return fmt.Errorf("%w: set mapping during %s", ErrWrongStep, s.step)
	}
	if err := ValidateMapping(mapping, s.Def); err != nil {
		return err
	}

	out := make(ColumnMapping, len(mapping))
	for k, v := range mapping {
		out[k] = v
	}
	s.mapping = out
	return nil
}

// Advance moves the session one step forward, enforcing the step guards.
func (s *Session) Advance() (Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g := s.guardsLocked()
	next, err := Advance(s.step, g)
	if err != nil {
		return s.step, err
	}

	// Entry actions for the step being entered.
	switch next {
	case StepMapColumns:
		if s.step == StepUpload && s.headerRow < 0 {
			// Auto-detect treats the first row as the header.
			if err := s.selectHeaderLocked(0); err != nil {
				return s.step, err
			}
		}
		if s.mapping == nil {
			s.mapping = SuggestMapping(s.headers, s.Def)
		}

	case StepValidation:
		if err := ValidateMapping(s.mapping, s.Def); err != nil {
			return s.step, err
		}
		s.mappingFrozen = true
		s.dynamicIDs = DynamicIDs(s.mapping, s.Def)
		s.sched.Start(s.rowsSnapshotLocked(), bindColumns(s.mapping, s.Def))

	case StepComplete:
		s.result = s.buildResultLocked()
	}

	s.step = next
	if next == StepComplete {
		s.finishLocked()
	}
	return s.step, nil
}

func (s *Session) guardsLocked() Guards {
	g := Guards{
		RowsAvailable:        len(s.file.Rows) > 0,
		AutoDetectHeader:     s.Def.Options.AutoDetectHeaderRow,
		HeaderSelected:       s.headerRow >= 0,
		FilterInvalidRows:    s.Def.Options.FilterInvalidRows,
		DisableOnInvalidRows: s.Def.Options.DisableOnInvalidRows,
	}

	if s.step == StepMapColumns {
		if missing := MissingRequired(s.mapping, s.Def); len(missing) > 0 {
			g.MissingColumn = missing[0].Label
		}
	}

	if s.step == StepValidation {
		errs := s.sched.Errors()
		g.ValidationDone = s.sched.Completed()
		g.ErrorCount = len(errs)
		g.ValidRows = len(s.dataRows) - invalidRowCount(errs)
	}
	return g
}

// Back moves the session one step backward. Data, mapping, and edits are
// preserved; an in-flight validation pass is superseded.
func (s *Session) Back() (Step, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, err := Back(s.step, s.Def.Options.AutoDetectHeaderRow)
	if err != nil {
		return s.step, err
	}

	if s.step == StepValidation {
		s.sched.Stop()
		s.mappingFrozen = false
	}
	s.step = prev
	return s.step, nil
}

// Cancel terminates the session from any non-terminal step.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	next, err := Cancel(s.step)
	if err != nil {
		return err
	}
	s.sched.Stop()
	s.step = next
	s.finishLocked()
	return nil
}

// EditCell replaces one cell value during validation. The edit is
// copy-on-write against the row snapshot and restarts the validation pass;
// results from the superseded pass are discarded.
func (s *Session) EditCell(rowIndex, columnIndex int, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepValidation {
		return fmt.Errorf("%w: edit cells during %s", ErrWrongStep, s.step)
	}
	if rowIndex < 0 || rowIndex >= len(s.dataRows) {
		return ErrRowRange
	}
	if columnIndex < 0 || columnIndex >= len(s.headers) {
		return ErrColumnRange
	}

	row := s.dataRows[rowIndex]
	edited := make([]string, len(s.headers))
	copy(edited, row)
	edited[columnIndex] = value
	s.dataRows[rowIndex] = edited

	s.sched.Start(s.rowsSnapshotLocked(), bindColumns(s.mapping, s.Def))
	return nil
}

// rowsSnapshotLocked copies the outer row slice for a scheduler pass. A
// superseded pass keeps reading its slice in the background, and cell edits
// swap whole rows in the session's copy, so the two never share an outer
// array. Callers hold s.mu.
func (s *Session) rowsSnapshotLocked() [][]string {
	return append([][]string(nil), s.dataRows...)
}

// Errors returns the current validation error list.
func (s *Session) Errors() []ValidationError {
	return s.sched.Errors()
}

// Progress returns the current validation progress snapshot.
func (s *Session) Progress() ValidationProgress {
	p := s.sched.Snapshot()
	p.SessionID = s.ID
	return p
}

// WaitValidation blocks until the in-flight validation pass finishes or is
// superseded, or ctx is cancelled.
func (s *Session) WaitValidation(ctx context.Context) error {
	return s.sched.Wait(ctx)
}

// Result returns the final dataset. Available only at the Complete step.
func (s *Session) Result() (*ImportResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.step != StepComplete || s.result == nil {
		return nil, ErrNoResult
	}
	return s.result, nil
}

// Subscribe registers a progress listener. The returned channel receives a
// snapshot immediately and after every validated chunk; the cancel function
// unregisters it. The channel closes when the session finishes.
func (s *Session) Subscribe() (<-chan ValidationProgress, func()) {
	ch := make(chan ValidationProgress, progressBuffer)

	s.listenerMu.Lock()
	if s.closed {
		s.listenerMu.Unlock()
		close(ch)
		return ch, func() {}
	}
	id := s.nextListen
	s.nextListen++
	s.listeners[id] = ch
	s.listenerMu.Unlock()

	// Prime with the current state so subscribers never start blind.
	select {
	case ch <- s.Progress():
	default:
	}

	cancel := func() {
		s.listenerMu.Lock()
		if _, ok := s.listeners[id]; ok {
			delete(s.listeners, id)
			close(ch)
		}
		s.listenerMu.Unlock()
	}
	return ch, cancel
}

// notifyProgress fans a snapshot out to all listeners. Sends are
// non-blocking; a full listener buffer drops the intermediate snapshot.
func (s *Session) notifyProgress(p ValidationProgress) {
	p.SessionID = s.ID

	s.listenerMu.Lock()
	for _, ch := range s.listeners {
		select {
		case ch <- p:
		default:
		}
	}
	s.listenerMu.Unlock()
}

// finishLocked runs terminal bookkeeping once: listener shutdown and the
// service hook. Callers hold s.mu.
func (s *Session) finishLocked() {
	s.listenerMu.Lock()
	if !s.closed {
		s.closed = true
		for id, ch := range s.listeners {
			delete(s.listeners, id)
			close(ch)
		}
	}
	s.listenerMu.Unlock()

	if s.onTerminal != nil {
		hook := s.onTerminal
		s.onTerminal = nil
		go hook()
	}
}

// buildResultLocked assembles the final dataset: per-cell post-stage
// transforms over the validated pre-stage values, invalid-row filtering when
// the definition opts in, and the three-way output restructure.
func (s *Session) buildResultLocked() *ImportResult {
	errs := s.sched.Errors()
	invalid := make(map[int]bool, len(errs))
	if s.Def.Options.FilterInvalidRows {
		for _, e := range errs {
			invalid[e.RowIndex] = true
		}
	}

	cols := bindColumns(s.mapping, s.Def)

	var unmatchedIdx []int
	for _, idx := range UnmatchedIndices(s.mapping, len(s.headers)) {
		if s.headers[idx] == "" {
			continue
		}
		unmatchedIdx = append(unmatchedIdx, idx)
	}

	rows := make([]map[string]any, 0, len(s.dataRows))
	for rowIdx, row := range s.dataRows {
		if invalid[rowIdx] {
			continue
		}

		out := make(map[string]any, len(cols))
		for _, bc := range cols {
			pre := ApplyPre(cellValue(row, bc.Index), bc.Column.Transformers)
			out[bc.Column.ID] = ApplyPost(pre, bc.Column.Transformers)
		}

		// Unmatched values travel in their own bag so an uploaded header
		// sharing a column's id cannot clobber the validated field.
		var unmatched map[string]any
		if s.Def.Options.IncludeUnmatchedColumns && len(unmatchedIdx) > 0 {
			unmatched = make(map[string]any, len(unmatchedIdx))
			for _, idx := range unmatchedIdx {
				unmatched[s.headers[idx]] = cellValue(row, idx)
			}
		}
		rows = append(rows, RestructureRow(out, s.dynamicIDs, unmatched))
	}

	mapped := s.mapping.MappedIDs()
	result := &ImportResult{Rows: rows}
	for _, c := range s.Def.Columns {
		if mapped[c.ID] {
			result.Columns.Predefined = append(result.Columns.Predefined, c)
		}
	}
	for _, c := range s.Def.DynamicColumns {
		if mapped[c.ID] {
			result.Columns.Dynamic = append(result.Columns.Dynamic, c)
		}
	}
	for _, idx := range unmatchedIdx {
		result.Columns.Unmatched = append(result.Columns.Unmatched, s.headers[idx])
	}
	return result
}

// invalidRowCount counts distinct rows with at least one error.
func invalidRowCount(errs []ValidationError) int {
	rows := make(map[int]bool, len(errs))
	for _, e := range errs {
		rows[e.RowIndex] = true
	}
	return len(rows)
}
