package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"
)

func TestWalk_FollowsMarkerUntilAbsent(t *testing.T) {
	p := NewPaginator(DefaultConfig(), zerolog.Nop())

	var requested []string
	pages := map[string]Page{
		"":   {Records: []map[string]any{{"id": 1}}, NextToken: "p2"},
		"p2": {Records: []map[string]any{{"id": 2}}, NextToken: "p3"},
		"p3": {Records: []map[string]any{{"id": 3}}},
	}

	var got []int
	err := p.Walk(context.Background(), "test", func(ctx context.Context, token string) (Page, error) {
		requested = append(requested, token)
		return pages[token], nil
	}, func(page Page) error {
		got = append(got, page.Number)
		return nil
	})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}

	if fmt.Sprint(requested) != fmt.Sprint([]string{"", "p2", "p3"}) {
		t.Errorf("requested tokens = %q", requested)
	}
	if fmt.Sprint(got) != "[1 2 3]" {
		t.Errorf("page numbers = %v", got)
	}
}

func TestWalk_PageNotRequestedBeforePreviousAccepted(t *testing.T) {
	p := NewPaginator(DefaultConfig(), zerolog.Nop())

	accepted := 0
	fetched := 0
	err := p.Walk(context.Background(), "test", func(ctx context.Context, token string) (Page, error) {
		if fetched != accepted {
			t.Fatalf("page %d requested before page %d was accepted", fetched+1, fetched)
		}
		fetched++
		if fetched < 3 {
			return Page{NextToken: fmt.Sprintf("t%d", fetched)}, nil
		}
		return Page{}, nil
	}, func(page Page) error {
		accepted++
		return nil
	})
	if err != nil {
		t.Fatalf("Walk() error = %v", err)
	}
	if fetched != 3 {
		t.Errorf("fetched = %d, want 3", fetched)
	}
}

func TestWalk_FetchErrorStops(t *testing.T) {
	p := NewPaginator(DefaultConfig(), zerolog.Nop())
	boom := errors.New("boom")

	calls := 0
	err := p.Walk(context.Background(), "test", func(ctx context.Context, token string) (Page, error) {
		calls++
		if calls == 2 {
			return Page{}, boom
		}
		return Page{NextToken: "next"}, nil
	}, func(Page) error { return nil })

	if !errors.Is(err, boom) {
		t.Errorf("expected boom, got %v", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}
}

func TestWalk_LoopDetected(t *testing.T) {
	p := NewPaginator(DefaultConfig(), zerolog.Nop())

	err := p.Walk(context.Background(), "test", func(ctx context.Context, token string) (Page, error) {
		return Page{NextToken: "same"}, nil
	}, func(Page) error { return nil })

	if !errors.Is(err, ErrPaginationLoop) {
		t.Errorf("expected ErrPaginationLoop, got %v", err)
	}
}

func TestWalk_MaxPages(t *testing.T) {
	p := NewPaginator(Config{MaxPages: 2}, zerolog.Nop())

	n := 0
	err := p.Walk(context.Background(), "test", func(ctx context.Context, token string) (Page, error) {
		n++
		return Page{NextToken: fmt.Sprint(n)}, nil
	}, func(Page) error { return nil })

	if !errors.Is(err, ErrMaxPages) {
		t.Errorf("expected ErrMaxPages, got %v", err)
	}
}

func TestWalk_ContextCancelled(t *testing.T) {
	p := NewPaginator(DefaultConfig(), zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Walk(ctx, "test", func(ctx context.Context, token string) (Page, error) {
		t.Fatal("fetch must not be called")
		return Page{}, nil
	}, func(Page) error { return nil })

	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func decode(t *testing.T, s string) any {
	t.Helper()
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		t.Fatal(err)
	}
	return v
}

func TestNextPageToken(t *testing.T) {
	tests := []struct {
		body string
		want string
		ok   bool
	}{
		{`{"next_page": "abc"}`, "abc", true},
		{`{"next_page": 3}`, "3", true},
		{`{"next_page": ""}`, "", false},
		{`{"next_page": null}`, "", false},
		{`{"id": 1}`, "", false},
		{`[{"next_page": "x"}]`, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.body, func(t *testing.T) {
			got, ok := NextPageToken(decode(t, tt.body))
			if got != tt.want || ok != tt.ok {
				t.Errorf("NextPageToken() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

func TestExtractRecords(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		key     string
		count   int
		wantErr bool
	}{
		{"array", `[{"id": 1}, {"id": 2}]`, "", 2, false},
		{"array skips scalars", `[{"id": 1}, 5, "x"]`, "", 1, false},
		{"mapping is single record", `{"id": 1}`, "", 1, false},
		{"mapping with records key", `{"data": [{"id": 1}, {"id": 2}], "next_page": "2"}`, "data", 2, false},
		{"records key missing", `{"next_page": "2"}`, "data", 0, false},
		{"records key not array", `{"data": {"id": 1}}`, "data", 0, true},
		{"scalar body", `42`, "", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := ExtractRecords(decode(t, tt.body), tt.key)
			if tt.wantErr {
				if !errors.Is(err, ErrUnexpectedShape) {
					t.Errorf("expected ErrUnexpectedShape, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ExtractRecords() error = %v", err)
			}
			if len(records) != tt.count {
				t.Errorf("got %d records, want %d", len(records), tt.count)
			}
		})
	}
}

func TestParsePage_SingleRecordDropsPageField(t *testing.T) {
	body := decode(t, `{"id": "f1", "name": "Intake", "next_page": "2"}`)

	page, err := ParsePage(body, "")
	if err != nil {
		t.Fatalf("ParsePage() error = %v", err)
	}
	if page.NextToken != "2" {
		t.Errorf("NextToken = %q, want 2", page.NextToken)
	}
	if len(page.Records) != 1 {
		t.Fatalf("got %d records, want 1", len(page.Records))
	}
	rec := page.Records[0]
	if _, ok := rec[NextPageField]; ok {
		t.Errorf("record still carries %s: %v", NextPageField, rec)
	}
	if rec["id"] != "f1" || rec["name"] != "Intake" {
		t.Errorf("unexpected record %v", rec)
	}
	// the decoded body is left untouched
	if _, ok := body.(map[string]any)[NextPageField]; !ok {
		t.Error("body lost its pagination field")
	}
}

func TestParsePage(t *testing.T) {
	page, err := ParsePage(decode(t, `{"data": [{"id": 1}], "next_page": "p2"}`), "data")
	if err != nil {
		t.Fatalf("ParsePage() error = %v", err)
	}
	if len(page.Records) != 1 || page.NextToken != "p2" {
		t.Errorf("unexpected page %+v", page)
	}
}
