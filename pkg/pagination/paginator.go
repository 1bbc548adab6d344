package pagination

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// NextPageField is the continuation marker in a response mapping.
const NextPageField = "next_page"

// PageParam is the query parameter carrying the continuation marker.
const PageParam = "page"

var pagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "sunwave_pages_total",
	Help: "Pages fetched by stream",
}, []string{"stream"})

var (
	// ErrPaginationLoop is returned when the API hands back the marker it
	// was just given.
	ErrPaginationLoop = errors.New("pagination loop: continuation marker repeated")

	// ErrMaxPages is returned when a partition exceeds Config.MaxPages.
	ErrMaxPages = errors.New("maximum page count exceeded")

	// ErrUnexpectedShape is returned when a body is neither a mapping nor an array.
	ErrUnexpectedShape = errors.New("unexpected response shape")
)

// Config holds paginator configuration.
type Config struct {
	// MaxPages caps pages per partition; 0 means unlimited.
	MaxPages int
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		MaxPages: 10000,
	}
}

// Page is one accepted page.
type Page struct {
	Number    int
	Records   []map[string]any
	NextToken string
}

// FetchFunc fetches the page for token; the first page has an empty token.
type FetchFunc func(ctx context.Context, token string) (Page, error)

// PageFunc consumes an accepted page before the next one is requested.
type PageFunc func(page Page) error

// Paginator drives sequential pagination.
type Paginator struct {
	config Config
	logger zerolog.Logger
}

// NewPaginator creates a paginator.
func NewPaginator(config Config, logger zerolog.Logger) *Paginator {
	if config.MaxPages < 0 {
		config.MaxPages = 0
	}
	return &Paginator{config: config, logger: logger}
}

// Walk fetches pages until one has no continuation marker. An error from
// fetch or onPage stops the walk and is returned as-is.
func (p *Paginator) Walk(ctx context.Context, label string, fetch FetchFunc, onPage PageFunc) error {
	start := time.Now()
	token := ""

	for number := 1; ; number++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if p.config.MaxPages > 0 && number > p.config.MaxPages {
			return fmt.Errorf("%w: %d", ErrMaxPages, p.config.MaxPages)
		}

		page, err := fetch(ctx, token)
		if err != nil {
			return err
		}
		page.Number = number
		pagesTotal.WithLabelValues(label).Inc()

		if err := onPage(page); err != nil {
			return err
		}

		p.logger.Debug().
			Str("stream", label).
			Int("page", number).
			Int("records", len(page.Records)).
			Bool("has_next", page.NextToken != "").
			Msg("Page processed")

		if page.NextToken == "" {
			p.logger.Debug().
				Str("stream", label).
				Int("pages", number).
				Dur("duration", time.Since(start)).
				Msg("Pagination exhausted")
			return nil
		}
		if page.NextToken == token {
			return fmt.Errorf("%w: %q", ErrPaginationLoop, token)
		}
		token = page.NextToken
	}
}

// NextPageToken reads the continuation marker from a decoded body. Absence
// is the normal terminal condition.
func NextPageToken(value any) (string, bool) {
	obj, ok := value.(map[string]any)
	if !ok {
		return "", false
	}

	switch t := obj[NextPageField].(type) {
	case string:
		return t, t != ""
	case json.Number:
		return t.String(), true
	case float64:
		return fmt.Sprintf("%v", t), true
	default:
		return "", false
	}
}

// ExtractRecords returns the records of a decoded body. Arrays hold records
// directly; a mapping holds them under key, or is one record when key is empty.
// The pagination field is not part of a single-record mapping.
// Non-object array elements are skipped.
func ExtractRecords(value any, key string) ([]map[string]any, error) {
	switch t := value.(type) {
	case []any:
		return objects(t), nil
	case map[string]any:
		if key == "" {
			return []map[string]any{withoutPageField(t)}, nil
		}
		inner, ok := t[key]
		if !ok || inner == nil {
			return nil, nil
		}
		arr, ok := inner.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: %q is %T, not an array", ErrUnexpectedShape, key, inner)
		}
		return objects(arr), nil
	default:
		return nil, fmt.Errorf("%w: %T", ErrUnexpectedShape, value)
	}
}

func withoutPageField(obj map[string]any) map[string]any {
	if _, ok := obj[NextPageField]; !ok {
		return obj
	}
	out := make(map[string]any, len(obj)-1)
	for k, v := range obj {
		if k != NextPageField {
			out[k] = v
		}
	}
	return out
}

func objects(arr []any) []map[string]any {
	out := make([]map[string]any, 0, len(arr))
	for _, el := range arr {
		if obj, ok := el.(map[string]any); ok {
			out = append(out, obj)
		}
	}
	return out
}

// ParsePage builds a Page from a decoded body.
func ParsePage(value any, recordsKey string) (Page, error) {
	records, err := ExtractRecords(value, recordsKey)
	if err != nil {
		return Page{}, err
	}
	next, _ := NextPageToken(value)
	return Page{Records: records, NextToken: next}, nil
}
