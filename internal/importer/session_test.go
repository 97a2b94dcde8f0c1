package importer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/importcsv/importcsv-go/internal/schema"
)

func sessionDef(opts schema.Options) schema.Definition {
	return schema.Definition{
		Key:  "contacts",
		Name: "Contacts",
		Columns: []schema.Column{
			{
				ID: "first_name", Label: "First Name", Type: schema.TypeString, MustMatch: true,
				Transformers: []schema.Transformer{{Type: schema.TransformTrim}},
				Validators:   []schema.Validator{{Type: schema.ValidatorRequired}},
			},
			{ID: "email", Label: "Email", Type: schema.TypeEmail},
		},
		DynamicColumns: []schema.Column{
			{ID: "department", Label: "Department", Type: schema.TypeString},
		},
		Options: opts,
	}
}

func fileFrom(name string, rows ...[]string) FileData {
	f := FileData{FileName: name}
	for i, values := range rows {
		f.Rows = append(f.Rows, FileRow{Index: i, Values: values})
	}
	return f
}

func advanceTo(t *testing.T, s *Session, want Step) {
	t.Helper()
	got, err := s.Advance()
	if err != nil {
		t.Fatalf("Advance from %s: %v", s.Step(), err)
	}
	if got != want {
		t.Fatalf("Advance = %v, want %v", got, want)
	}
}

func waitValidation(t *testing.T, s *Session) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.WaitValidation(ctx); err != nil {
		t.Fatalf("WaitValidation: %v", err)
	}
}

func TestSession_AutoDetectLifecycle(t *testing.T) {
	def := sessionDef(schema.Options{AutoDetectHeaderRow: true})
	file := fileFrom("contacts.csv",
		[]string{"First Name", "Email", "Department", "Notes"},
		[]string{" Ada ", "ada@example.com", "Engineering", "hired 2021"},
		[]string{"Grace", "grace@example.com", "Research", ""},
	)
	s := NewSession("s1", def, file, 0, 0)

	terminal := make(chan struct{})
	s.SetTerminalHook(func() { close(terminal) })

	// Auto-detect skips row selection and suggests the mapping.
	advanceTo(t, s, StepMapColumns)
	mapping := s.Mapping()
	if mapping[0].ID != "first_name" || mapping[1].ID != "email" || mapping[2].ID != "department" {
		t.Fatalf("suggested mapping = %+v", mapping)
	}
	if _, ok := mapping[3]; ok {
		t.Fatalf("Notes should stay unmatched: %+v", mapping[3])
	}

	advanceTo(t, s, StepValidation)
	waitValidation(t, s)
	if errs := s.Errors(); len(errs) != 0 {
		t.Fatalf("unexpected validation errors: %+v", errs)
	}

	advanceTo(t, s, StepComplete)

	result, err := s.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if len(result.Rows) != 2 {
		t.Fatalf("result rows = %d, want 2", len(result.Rows))
	}
	first := result.Rows[0]
	if first["first_name"] != "Ada" {
		t.Errorf("trim transformer not applied: %#v", first)
	}
	custom, ok := first[CustomFieldsKey].(map[string]any)
	if !ok || custom["department"] != "Engineering" {
		t.Errorf("dynamic value not under _custom_fields: %#v", first)
	}
	if _, ok := first["Notes"]; ok {
		t.Errorf("unmatched column leaked to top level: %#v", first)
	}
	if _, ok := first[UnmatchedKey]; ok {
		t.Errorf("unmatched bag present without opt-in: %#v", first)
	}

	if len(result.Columns.Predefined) != 2 || len(result.Columns.Dynamic) != 1 {
		t.Errorf("column partition = %+v", result.Columns)
	}
	if len(result.Columns.Unmatched) != 1 || result.Columns.Unmatched[0] != "Notes" {
		t.Errorf("unmatched columns = %v", result.Columns.Unmatched)
	}

	select {
	case <-terminal:
	case <-time.After(time.Second):
		t.Error("terminal hook did not fire")
	}
}

func TestSession_ManualHeaderSelection(t *testing.T) {
	def := sessionDef(schema.Options{})
	file := fileFrom("report.csv",
		[]string{"Quarterly Export", "", ""},
		[]string{"First Name", "Email", "Department"},
		[]string{"Ada", "ada@example.com", "Engineering"},
	)
	s := NewSession("s2", def, file, 0, 0)

	advanceTo(t, s, StepRowSelection)

	// No header picked yet.
	if _, err := s.Advance(); err == nil {
		t.Fatal("advance without header selection should refuse")
	}

	if err := s.SelectHeaderRow(5); !errors.Is(err, ErrRowRange) {
		t.Errorf("SelectHeaderRow(5) = %v, want ErrRowRange", err)
	}
	if err := s.SelectHeaderRow(1); err != nil {
		t.Fatalf("SelectHeaderRow: %v", err)
	}

	advanceTo(t, s, StepMapColumns)
	if mapping := s.Mapping(); mapping[0].ID != "first_name" {
		t.Errorf("mapping built from the selected header: %+v", mapping)
	}

	st := s.State()
	if st.HeaderRow != 1 || st.TotalRows != 3 {
		t.Errorf("State = %+v", st)
	}

	// Going back and re-selecting the same header keeps the mapping.
	custom := ColumnMapping{0: {ID: "first_name", Include: true}}
	if err := s.SetMapping(custom); err != nil {
		t.Fatalf("SetMapping: %v", err)
	}
	if _, err := s.Back(); err != nil {
		t.Fatalf("Back: %v", err)
	}
	if err := s.SelectHeaderRow(1); err != nil {
		t.Fatalf("SelectHeaderRow again: %v", err)
	}
	advanceTo(t, s, StepMapColumns)
	mapping := s.Mapping()
	if len(mapping) != 1 || mapping[0].ID != "first_name" {
		t.Errorf("mapping replaced after unchanged header re-select: %+v", mapping)
	}
}

func TestSession_BackPreservesMappingAndEdits(t *testing.T) {
	def := sessionDef(schema.Options{AutoDetectHeaderRow: true})
	file := fileFrom("f.csv",
		[]string{"First Name", "Email"},
		[]string{"Ada", "grace"},
	)
	s := NewSession("s14", def, file, 0, 0)

	advanceTo(t, s, StepMapColumns)

	// Swap the suggested targets around.
	override := ColumnMapping{
		0: {ID: "email", Include: true},
		1: {ID: "first_name", Include: true},
	}
	if err := s.SetMapping(override); err != nil {
		t.Fatalf("SetMapping: %v", err)
	}

	advanceTo(t, s, StepValidation)
	waitValidation(t, s)
	if errs := s.Errors(); len(errs) != 1 {
		t.Fatalf("Errors = %+v, want the non-email in column 0", errs)
	}
	if err := s.EditCell(0, 0, "ada@example.com"); err != nil {
		t.Fatalf("EditCell: %v", err)
	}
	waitValidation(t, s)
	if errs := s.Errors(); len(errs) != 0 {
		t.Fatalf("errors after edit: %+v", errs)
	}

	// Step all the way back to upload, then forward again.
	if step, err := s.Back(); err != nil || step != StepMapColumns {
		t.Fatalf("Back = %v, %v", step, err)
	}
	if step, err := s.Back(); err != nil || step != StepUpload {
		t.Fatalf("Back = %v, %v", step, err)
	}

	advanceTo(t, s, StepMapColumns)
	mapping := s.Mapping()
	if mapping[0].ID != "email" || mapping[1].ID != "first_name" {
		t.Fatalf("user mapping replaced by suggestion after Back: %+v", mapping)
	}

	advanceTo(t, s, StepValidation)
	waitValidation(t, s)
	if errs := s.Errors(); len(errs) != 0 {
		t.Fatalf("cell edit lost after Back: %+v", errs)
	}
}

func TestSession_EditCellDuringActivePass(t *testing.T) {
	def := sessionDef(schema.Options{AutoDetectHeaderRow: true})
	rows := [][]string{{"First Name", "Email"}}
	for i := 0; i < 500; i++ {
		rows = append(rows, []string{"Ada", "bad"})
	}
	s := NewSession("s15", def, fileFrom("f.csv", rows...), 1, 1)

	advanceTo(t, s, StepMapColumns)
	advanceTo(t, s, StepValidation)

	// Edits land while a background pass is still reading rows; each one
	// restarts validation against its own row snapshot.
	for i := 0; i < 500; i++ {
		if err := s.EditCell(i, 1, "a@example.com"); err != nil {
			t.Fatalf("EditCell(%d): %v", i, err)
		}
	}

	waitValidation(t, s)
	if errs := s.Errors(); len(errs) != 0 {
		t.Fatalf("errors after fixing every row: %d", len(errs))
	}
}

func TestSession_UnmatchedHeaderSharingColumnID(t *testing.T) {
	def := schema.Definition{
		Key:  "tickets",
		Name: "Tickets",
		Columns: []schema.Column{
			{
				ID: "notes", Label: "Memo", Type: schema.TypeString,
				Transformers: []schema.Transformer{{Type: schema.TransformTrim}},
			},
		},
		Options: schema.Options{AutoDetectHeaderRow: true, IncludeUnmatchedColumns: true},
	}
	file := fileFrom("f.csv",
		[]string{"Memo", "notes"},
		[]string{" keep me ", "leftover"},
	)
	s := NewSession("s16", def, file, 0, 0)

	advanceTo(t, s, StepMapColumns)
	advanceTo(t, s, StepValidation)
	waitValidation(t, s)
	advanceTo(t, s, StepComplete)

	result, err := s.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	row := result.Rows[0]
	if row["notes"] != "keep me" {
		t.Errorf("mapped field lost to the unmatched column: %#v", row)
	}
	bag, ok := row[UnmatchedKey].(map[string]any)
	if !ok || bag["notes"] != "leftover" {
		t.Errorf("unmatched value misplaced: %#v", row)
	}
}

func TestSession_SelectHeaderRowWrongStep(t *testing.T) {
	def := sessionDef(schema.Options{})
	s := NewSession("s3", def, fileFrom("f.csv", []string{"a"}), 0, 0)

	if err := s.SelectHeaderRow(0); !errors.Is(err, ErrWrongStep) {
		t.Errorf("SelectHeaderRow at upload = %v, want ErrWrongStep", err)
	}
}

func TestSession_MissingRequiredBlocksMapping(t *testing.T) {
	def := sessionDef(schema.Options{AutoDetectHeaderRow: true})
	file := fileFrom("f.csv",
		[]string{"Email"},
		[]string{"ada@example.com"},
	)
	s := NewSession("s4", def, file, 0, 0)

	advanceTo(t, s, StepMapColumns)
	_, err := s.Advance()
	if err == nil {
		t.Fatal("advance with unmapped must-match column should refuse")
	}
	if got := err.Error(); got != `required column "First Name" is not mapped` {
		t.Errorf("error = %q", got)
	}
}

func TestSession_MappingFreezesDuringValidation(t *testing.T) {
	def := sessionDef(schema.Options{AutoDetectHeaderRow: true})
	file := fileFrom("f.csv",
		[]string{"First Name", "Email"},
		[]string{"Ada", "ada@example.com"},
	)
	s := NewSession("s5", def, file, 0, 0)

	advanceTo(t, s, StepMapColumns)

	// A bad mapping is rejected before it replaces the suggestion.
	bad := ColumnMapping{0: {ID: "nope", Include: true}}
	if err := s.SetMapping(bad); err == nil {
		t.Fatal("unknown target id should be rejected")
	}

	advanceTo(t, s, StepValidation)
	good := ColumnMapping{0: {ID: "first_name", Include: true}}
	if err := s.SetMapping(good); !errors.Is(err, ErrWrongStep) {
		t.Errorf("SetMapping during validation = %v, want ErrWrongStep", err)
	}

	// Stepping back unfreezes the mapping and keeps it intact.
	if step, err := s.Back(); err != nil || step != StepMapColumns {
		t.Fatalf("Back = %v, %v", step, err)
	}
	if err := s.SetMapping(good); err != nil {
		t.Errorf("SetMapping after Back: %v", err)
	}
}

func TestSession_EditCellRestartsValidation(t *testing.T) {
	def := sessionDef(schema.Options{AutoDetectHeaderRow: true})
	file := fileFrom("f.csv",
		[]string{"First Name", "Email"},
		[]string{"Ada", "not-an-email"},
	)
	s := NewSession("s6", def, file, 0, 0)

	if err := s.EditCell(0, 1, "x"); !errors.Is(err, ErrWrongStep) {
		t.Fatalf("EditCell before validation = %v, want ErrWrongStep", err)
	}

	advanceTo(t, s, StepMapColumns)
	advanceTo(t, s, StepValidation)
	waitValidation(t, s)
	if errs := s.Errors(); len(errs) != 1 {
		t.Fatalf("Errors = %+v, want the bad email", errs)
	}

	// Completion is blocked while the error remains.
	if _, err := s.Advance(); err == nil {
		t.Fatal("advance with unresolved errors should refuse")
	}

	if err := s.EditCell(9, 1, "x"); !errors.Is(err, ErrRowRange) {
		t.Errorf("EditCell(9,1) = %v, want ErrRowRange", err)
	}
	if err := s.EditCell(0, 9, "x"); !errors.Is(err, ErrColumnRange) {
		t.Errorf("EditCell(0,9) = %v, want ErrColumnRange", err)
	}

	if err := s.EditCell(0, 1, "ada@example.com"); err != nil {
		t.Fatalf("EditCell: %v", err)
	}
	waitValidation(t, s)
	if errs := s.Errors(); len(errs) != 0 {
		t.Fatalf("errors after fixing edit: %+v", errs)
	}

	// The raw upload snapshot is untouched by the copy-on-write edit.
	raw := s.Rows(0)
	if raw[1].Values[1] != "not-an-email" {
		t.Errorf("uploaded row mutated: %+v", raw[1])
	}

	advanceTo(t, s, StepComplete)
	result, err := s.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if result.Rows[0]["email"] != "ada@example.com" {
		t.Errorf("edited value missing from result: %#v", result.Rows[0])
	}
}

func TestSession_FilterInvalidRows(t *testing.T) {
	def := sessionDef(schema.Options{AutoDetectHeaderRow: true, FilterInvalidRows: true})
	rows := [][]string{{"First Name", "Email"}}
	for i := 0; i < 10; i++ {
		name := "Ada"
		if i == 2 || i == 7 {
			name = "" // fails the required rule
		}
		rows = append(rows, []string{name, "a@example.com"})
	}
	s := NewSession("s7", def, fileFrom("f.csv", rows...), 0, 0)

	advanceTo(t, s, StepMapColumns)
	advanceTo(t, s, StepValidation)
	waitValidation(t, s)
	if errs := s.Errors(); len(errs) != 2 {
		t.Fatalf("Errors = %+v, want 2", errs)
	}

	advanceTo(t, s, StepComplete)
	result, err := s.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	if len(result.Rows) != 8 {
		t.Errorf("result rows = %d, want 8 after filtering", len(result.Rows))
	}
}

func TestSession_IncludeUnmatchedColumns(t *testing.T) {
	def := sessionDef(schema.Options{AutoDetectHeaderRow: true, IncludeUnmatchedColumns: true})
	file := fileFrom("f.csv",
		[]string{"First Name", "Email", "Notes"},
		[]string{"Ada", "ada@example.com", "hired 2021"},
	)
	s := NewSession("s8", def, file, 0, 0)

	advanceTo(t, s, StepMapColumns)
	advanceTo(t, s, StepValidation)
	waitValidation(t, s)
	advanceTo(t, s, StepComplete)

	result, err := s.Result()
	if err != nil {
		t.Fatalf("Result: %v", err)
	}
	unmatched, ok := result.Rows[0][UnmatchedKey].(map[string]any)
	if !ok || unmatched["Notes"] != "hired 2021" {
		t.Errorf("unmatched value not preserved: %#v", result.Rows[0])
	}
}

func TestSession_ResultBeforeComplete(t *testing.T) {
	def := sessionDef(schema.Options{})
	s := NewSession("s9", def, fileFrom("f.csv", []string{"a"}), 0, 0)

	if _, err := s.Result(); !errors.Is(err, ErrNoResult) {
		t.Errorf("Result = %v, want ErrNoResult", err)
	}
}

func TestSession_Cancel(t *testing.T) {
	def := sessionDef(schema.Options{AutoDetectHeaderRow: true})
	file := fileFrom("f.csv",
		[]string{"First Name", "Email"},
		[]string{"Ada", "ada@example.com"},
	)
	s := NewSession("s10", def, file, 0, 0)

	terminal := make(chan struct{})
	s.SetTerminalHook(func() { close(terminal) })

	advanceTo(t, s, StepMapColumns)
	if err := s.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if s.Step() != StepCancelled {
		t.Errorf("Step = %v, want cancelled", s.Step())
	}
	if err := s.Cancel(); !errors.Is(err, ErrTerminalStep) {
		t.Errorf("second Cancel = %v, want ErrTerminalStep", err)
	}
	if _, err := s.Advance(); !errors.Is(err, ErrTerminalStep) {
		t.Errorf("Advance after cancel = %v, want ErrTerminalStep", err)
	}

	select {
	case <-terminal:
	case <-time.After(time.Second):
		t.Error("terminal hook did not fire on cancel")
	}
}

func TestSession_Subscribe(t *testing.T) {
	def := sessionDef(schema.Options{AutoDetectHeaderRow: true})
	file := fileFrom("f.csv",
		[]string{"First Name", "Email"},
		[]string{"Ada", "ada@example.com"},
		[]string{"Grace", "grace@example.com"},
	)
	s := NewSession("s11", def, file, 0, 0)

	ch, cancel := s.Subscribe()
	defer cancel()

	// Primed immediately with the current snapshot.
	select {
	case p := <-ch:
		if p.SessionID != "s11" {
			t.Errorf("primed snapshot = %+v", p)
		}
	case <-time.After(time.Second):
		t.Fatal("no primed snapshot")
	}

	advanceTo(t, s, StepMapColumns)
	advanceTo(t, s, StepValidation)
	waitValidation(t, s)
	advanceTo(t, s, StepComplete)

	// The channel drains any buffered snapshots and then closes.
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("channel not closed at terminal step")
		}
	}
}

func TestSession_SubscribeAfterFinish(t *testing.T) {
	def := sessionDef(schema.Options{})
	s := NewSession("s12", def, fileFrom("f.csv", []string{"a"}), 0, 0)
	if err := s.Cancel(); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	ch, cancel := s.Subscribe()
	defer cancel()
	if _, ok := <-ch; ok {
		t.Error("subscription on a finished session should be closed")
	}
}

func TestSession_StateSnapshot(t *testing.T) {
	def := sessionDef(schema.Options{AutoDetectHeaderRow: true})
	file := fileFrom("f.csv",
		[]string{"First Name", "Email"},
		[]string{"", "bad"},
	)
	file.SheetList = []string{"Sheet1", "Sheet2"}
	s := NewSession("s13", def, file, 0, 0)

	st := s.State()
	if st.Step != "upload" || st.Validation != nil {
		t.Errorf("upload state = %+v", st)
	}
	if len(st.SheetList) != 2 {
		t.Errorf("sheet list = %v", st.SheetList)
	}

	advanceTo(t, s, StepMapColumns)
	advanceTo(t, s, StepValidation)
	waitValidation(t, s)

	st = s.State()
	if st.Step != "validation" || st.Validation == nil {
		t.Fatalf("validation state = %+v", st)
	}
	if st.ErrorCount != 2 {
		t.Errorf("ErrorCount = %d, want 2", st.ErrorCount)
	}
	if st.Validation.SessionID != "s13" || !st.Validation.Done {
		t.Errorf("Validation = %+v", st.Validation)
	}
}
