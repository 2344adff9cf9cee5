package pagination

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"
)

var (
	// ErrMalformedPage is returned when a page is not a JSON object or its
	// continuation or merge fields have an unexpected type.
	ErrMalformedPage = errors.New("malformed page")

	// ErrStalled is returned when the server hands back a continuation value
	// that was already requested.
	ErrStalled = errors.New("pagination did not advance")
)

// PageFetcher fetches one page for the given request parameters and returns
// the raw response body. Any non-success outcome must be returned as an error.
type PageFetcher interface {
	FetchPage(ctx context.Context, params url.Values) ([]byte, error)
}

// PageFetcherFunc adapts a function to the PageFetcher interface.
type PageFetcherFunc func(ctx context.Context, params url.Values) ([]byte, error)

// FetchPage calls f(ctx, params).
func (f PageFetcherFunc) FetchPage(ctx context.Context, params url.Values) ([]byte, error) {
	return f(ctx, params)
}

// FetchAll fetches every page described by d and returns the merged document.
// A nil descriptor performs exactly one request and returns its body as is.
// params is never modified, and every FetchPage call receives a fresh map.
func FetchAll(ctx context.Context, d *Descriptor, params url.Values, fetcher PageFetcher) (json.RawMessage, error) {
	if d == nil {
		body, err := fetcher.FetchPage(ctx, cloneValues(params))
		if err != nil {
			return nil, err
		}
		return json.RawMessage(body), nil
	}

	if err := d.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	current := cloneValues(params)
	seen := make(map[string]struct{})
	if v := current.Get(d.param()); v != "" {
		seen[v] = struct{}{}
	}

	m := &merger{desc: d}
	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("pagination stopped after %d pages: %w", page-1, err)
		}

		// Each page gets its own copy; fetchers may keep or modify it.
		body, err := fetcher.FetchPage(ctx, cloneValues(current))
		if err != nil {
			return nil, err
		}

		doc, err := decodePage(body, page)
		if err != nil {
			return nil, err
		}

		next, more, err := d.next(doc)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page, err)
		}

		if err := m.add(doc, page); err != nil {
			return nil, err
		}

		if !more {
			log.Debug().
				Str("kind", d.Kind.String()).
				Int("pages", page).
				Int("items", len(m.items)).
				Dur("duration", time.Since(start)).
				Msg("Pagination complete")
			break
		}

		if _, dup := seen[next]; dup {
			return nil, fmt.Errorf("%w: %s=%s requested twice", ErrStalled, d.param(), next)
		}
		seen[next] = struct{}{}

		log.Debug().
			Str("kind", d.Kind.String()).
			Int("page", page).
			Str("cursor", next).
			Msg("Loading next page")

		current.Set(d.param(), next)
	}

	return m.result()
}

// next reads the continuation value of a page. more is false when the
// response signals the last page.
func (d *Descriptor) next(doc map[string]json.RawMessage) (value string, more bool, err error) {
	switch d.Kind {
	case KindPageNumber:
		raw, ok := doc[d.MoreField]
		if !ok || isNull(raw) {
			return "", false, nil
		}
		var hasMore bool
		if err := json.Unmarshal(raw, &hasMore); err != nil {
			return "", false, fmt.Errorf("%w: %s is not a boolean", ErrMalformedPage, d.MoreField)
		}
		if !hasMore {
			return "", false, nil
		}
		var current int64
		if err := json.Unmarshal(doc[d.PageField], &current); err != nil {
			return "", false, fmt.Errorf("%w: %s is not an integer", ErrMalformedPage, d.PageField)
		}
		return strconv.FormatInt(current+1, 10), true, nil

	default:
		raw, ok := doc[d.CursorField]
		if !ok {
			return "", false, nil
		}
		cursor, err := scalarString(raw)
		if err != nil {
			return "", false, fmt.Errorf("%w: %s: %v", ErrMalformedPage, d.CursorField, err)
		}
		if isEndSentinel(cursor) {
			return "", false, nil
		}
		return cursor, true, nil
	}
}

// merger accumulates pages. The first page is the base document.
type merger struct {
	desc  *Descriptor
	base  map[string]json.RawMessage
	items []json.RawMessage
}

func (m *merger) add(doc map[string]json.RawMessage, page int) error {
	raw, ok := doc[m.desc.MergeField]
	if ok && !isNull(raw) {
		var items []json.RawMessage
		if err := json.Unmarshal(raw, &items); err != nil {
			return fmt.Errorf("%w: page %d: %s is not an array", ErrMalformedPage, page, m.desc.MergeField)
		}
		m.items = append(m.items, items...)
	}

	if m.base == nil {
		m.base = doc
		for _, field := range m.desc.continuationFields() {
			delete(m.base, field)
		}
	}
	return nil
}

func (m *merger) result() (json.RawMessage, error) {
	items := m.items
	if items == nil {
		items = []json.RawMessage{}
	}

	merged, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", m.desc.MergeField, err)
	}
	m.base[m.desc.MergeField] = merged

	out, err := json.Marshal(m.base)
	if err != nil {
		return nil, fmt.Errorf("encode merged document: %w", err)
	}
	return out, nil
}

func decodePage(body []byte, page int) (map[string]json.RawMessage, error) {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("%w: page %d: %v", ErrMalformedPage, page, err)
	}
	if doc == nil {
		return nil, fmt.Errorf("%w: page %d is null", ErrMalformedPage, page)
	}
	return doc, nil
}

// scalarString renders a JSON string or number as a request parameter value.
func scalarString(raw json.RawMessage) (string, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || isNull(trimmed) {
		return "", nil
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[', 't', 'f':
		return "", fmt.Errorf("unsupported cursor value %s", trimmed)
	default:
		if _, err := strconv.ParseFloat(string(trimmed), 64); err != nil {
			return "", fmt.Errorf("unsupported cursor value %s", trimmed)
		}
		return string(trimmed), nil
	}
}

func isEndSentinel(cursor string) bool {
	if cursor == "" {
		return true
	}
	f, err := strconv.ParseFloat(cursor, 64)
	return err == nil && f == 0
}

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for key, values := range v {
		out[key] = append([]string(nil), values...)
	}
	return out
}
