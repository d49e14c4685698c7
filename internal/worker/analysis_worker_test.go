package worker

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"churnboard/internal/amqp"
	"churnboard/internal/storage"
)

type fakeAnalyzer struct {
	results  map[string]error
	analyzed []string
	history  []storage.CatalogEntry
}

func (f *fakeAnalyzer) Analyze(_ context.Context, name string) (storage.Analysis, error) {
	f.analyzed = append(f.analyzed, name)
	if err := f.results[name]; err != nil {
		return storage.Analysis{}, err
	}
	return storage.Analysis{RowCount: 1}, nil
}

func (f *fakeAnalyzer) History(_ context.Context, limit int) ([]storage.CatalogEntry, error) {
	if len(f.history) > limit {
		return f.history[:limit], nil
	}
	return f.history, nil
}

func TestHandleUploadAnalyzeMessage(t *testing.T) {
	fa := &fakeAnalyzer{results: map[string]error{
		"gone.xlsx":   fmt.Errorf("stat: %w", storage.ErrNotFound),
		"locked.xlsx": errors.New("database is locked"),
	}}
	w := NewAnalysisWorker(fa, 0)

	cases := []struct {
		name    string
		wantErr bool
	}{
		{"ok.xlsx", false},
		{"gone.xlsx", false},
		{"locked.xlsx", true},
	}
	for _, tc := range cases {
		err := w.HandleUploadAnalyzeMessage(context.Background(), amqp.NewUploadAnalyzeMessage(tc.name))
		if (err != nil) != tc.wantErr {
			t.Fatalf("%s: unexpected error state %v", tc.name, err)
		}
	}
	if len(fa.analyzed) != 3 {
		t.Fatalf("expected 3 analyses, got %v", fa.analyzed)
	}
}

func TestStartupCheckAnalyzesPendingOnly(t *testing.T) {
	now := time.Now()
	fa := &fakeAnalyzer{history: []storage.CatalogEntry{
		{StoredName: "pending.xlsx"},
		{StoredName: "done.xlsx", Analysis: &storage.Analysis{RowCount: 3}},
		{StoredName: "deleted.xlsx", DeletedAt: &now},
		{StoredName: "pending2.xlsm"},
	}}
	w := NewAnalysisWorker(fa, 10)
	if err := w.StartupCheck(context.Background()); err != nil {
		t.Fatalf("startup check: %v", err)
	}
	if len(fa.analyzed) != 2 || fa.analyzed[0] != "pending.xlsx" || fa.analyzed[1] != "pending2.xlsm" {
		t.Fatalf("unexpected analyses %v", fa.analyzed)
	}
}
