package pagination

import (
	"context"
	"errors"
	"net/url"
	"reflect"
	"testing"

	"github.com/goccy/go-json"
)

// scriptedFetcher serves pages in order and records the parameters of every call.
type scriptedFetcher struct {
	pages []string
	errs  map[int]error
	calls []url.Values
}

func (f *scriptedFetcher) FetchPage(ctx context.Context, params url.Values) ([]byte, error) {
	f.calls = append(f.calls, params)
	idx := len(f.calls) - 1
	if err, ok := f.errs[idx]; ok {
		return nil, err
	}
	if idx >= len(f.pages) {
		return nil, errors.New("unexpected extra request")
	}
	return []byte(f.pages[idx]), nil
}

func decode(t *testing.T, raw []byte) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode merged document: %v", err)
	}
	return out
}

func TestFetchAll_CursorMerge(t *testing.T) {
	fetcher := &scriptedFetcher{pages: []string{
		`{"data":[1,2],"cursor":100}`,
		`{"data":[3],"cursor":0}`,
	}}
	desc := Cursor("cursor", "start", "data")

	got, err := FetchAll(context.Background(), desc, url.Values{"view": {"damage-done"}}, fetcher)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}

	want := map[string]any{"data": []any{float64(1), float64(2), float64(3)}}
	if doc := decode(t, got); !reflect.DeepEqual(doc, want) {
		t.Errorf("merged = %v, want %v", doc, want)
	}

	if len(fetcher.calls) != 2 {
		t.Fatalf("requests = %d, want 2", len(fetcher.calls))
	}
	if fetcher.calls[0].Has("start") {
		t.Errorf("first request carried cursor param %q", fetcher.calls[0].Get("start"))
	}
	if got := fetcher.calls[1].Get("start"); got != "100" {
		t.Errorf("second request start = %q, want 100", got)
	}
	if got := fetcher.calls[1].Get("view"); got != "damage-done" {
		t.Errorf("second request lost view param, got %q", got)
	}
}

func TestFetchAll_CursorEndSentinels(t *testing.T) {
	tests := []struct {
		name string
		page string
	}{
		{name: "field absent", page: `{"data":[1]}`},
		{name: "zero", page: `{"data":[1],"cursor":0}`},
		{name: "null", page: `{"data":[1],"cursor":null}`},
		{name: "empty string", page: `{"data":[1],"cursor":""}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &scriptedFetcher{pages: []string{tt.page}}
			_, err := FetchAll(context.Background(), Cursor("cursor", "start", "data"), nil, fetcher)
			if err != nil {
				t.Fatalf("FetchAll() error = %v", err)
			}
			if len(fetcher.calls) != 1 {
				t.Errorf("requests = %d, want 1", len(fetcher.calls))
			}
		})
	}
}

func TestFetchAll_StringCursor(t *testing.T) {
	fetcher := &scriptedFetcher{pages: []string{
		`{"data":["a"],"cursor":"abc"}`,
		`{"data":["b"]}`,
	}}

	if _, err := FetchAll(context.Background(), Cursor("cursor", "after", "data"), nil, fetcher); err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if got := fetcher.calls[1].Get("after"); got != "abc" {
		t.Errorf("after = %q, want abc", got)
	}
}

func TestFetchAll_SingleShotIgnoresCursorField(t *testing.T) {
	body := `{"data":[1],"cursor":100}`
	fetcher := &scriptedFetcher{pages: []string{body, body}}

	got, err := FetchAll(context.Background(), nil, url.Values{"a": {"1"}}, fetcher)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if len(fetcher.calls) != 1 {
		t.Errorf("requests = %d, want 1", len(fetcher.calls))
	}
	if string(got) != body {
		t.Errorf("body = %s, want unmodified %s", got, body)
	}
}

func TestFetchAll_MissingMergeFieldIsEmpty(t *testing.T) {
	fetcher := &scriptedFetcher{pages: []string{
		`{"count":0,"cursor":5}`,
		`{"data":[7]}`,
	}}

	got, err := FetchAll(context.Background(), Cursor("cursor", "start", "data"), nil, fetcher)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}

	want := map[string]any{"count": float64(0), "data": []any{float64(7)}}
	if doc := decode(t, got); !reflect.DeepEqual(doc, want) {
		t.Errorf("merged = %v, want %v", doc, want)
	}
}

func TestFetchAll_EmptyResultHasEmptyArray(t *testing.T) {
	fetcher := &scriptedFetcher{pages: []string{`{}`}}

	got, err := FetchAll(context.Background(), Cursor("cursor", "start", "events"), nil, fetcher)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if string(got) != `{"events":[]}` {
		t.Errorf("merged = %s, want {\"events\":[]}", got)
	}
}

func TestFetchAll_FailureDiscardsPartialMerge(t *testing.T) {
	pageErr := errors.New("page failed")
	fetcher := &scriptedFetcher{
		pages: []string{`{"data":[1],"cursor":10}`, `{"data":[2],"cursor":20}`},
		errs:  map[int]error{2: pageErr},
	}

	got, err := FetchAll(context.Background(), Cursor("cursor", "start", "data"), nil, fetcher)
	if !errors.Is(err, pageErr) {
		t.Fatalf("error = %v, want %v", err, pageErr)
	}
	if got != nil {
		t.Errorf("partial result returned: %s", got)
	}
	if len(fetcher.calls) != 3 {
		t.Errorf("requests = %d, want 3", len(fetcher.calls))
	}
}

func TestFetchAll_PageNumber(t *testing.T) {
	fetcher := &scriptedFetcher{pages: []string{
		`{"page":1,"hasMorePages":true,"count":3,"rankings":[{"name":"a"},{"name":"b"}]}`,
		`{"page":2,"hasMorePages":false,"count":3,"rankings":[{"name":"c"}]}`,
	}}
	desc := PageNumber("hasMorePages", "page", "page", "rankings")

	got, err := FetchAll(context.Background(), desc, url.Values{"metric": {"speed"}}, fetcher)
	if err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}

	if len(fetcher.calls) != 2 {
		t.Fatalf("requests = %d, want 2", len(fetcher.calls))
	}
	if got := fetcher.calls[1].Get("page"); got != "2" {
		t.Errorf("second request page = %q, want 2", got)
	}

	doc := decode(t, got)
	rankings, ok := doc["rankings"].([]any)
	if !ok || len(rankings) != 3 {
		t.Fatalf("rankings = %v, want 3 entries", doc["rankings"])
	}
	if name := rankings[2].(map[string]any)["name"]; name != "c" {
		t.Errorf("rankings[2].name = %v, want c", name)
	}
	if _, ok := doc["hasMorePages"]; ok {
		t.Error("merged document still carries hasMorePages")
	}
	if doc["count"] != float64(3) {
		t.Errorf("count = %v, want 3 from the first page", doc["count"])
	}
}

func TestFetchAll_PageNumberUsesServerPage(t *testing.T) {
	fetcher := &scriptedFetcher{pages: []string{
		`{"page":4,"hasMorePages":true,"rankings":[]}`,
		`{"page":5,"hasMorePages":false,"rankings":[]}`,
	}}
	desc := PageNumber("hasMorePages", "page", "page", "rankings")

	if _, err := FetchAll(context.Background(), desc, url.Values{"page": {"4"}}, fetcher); err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if got := fetcher.calls[1].Get("page"); got != "5" {
		t.Errorf("second request page = %q, want 5", got)
	}
}

func TestFetchAll_Stalled(t *testing.T) {
	tests := []struct {
		name  string
		desc  *Descriptor
		pages []string
	}{
		{
			name:  "repeated cursor",
			desc:  Cursor("cursor", "start", "data"),
			pages: []string{`{"data":[],"cursor":7}`, `{"data":[],"cursor":7}`},
		},
		{
			name:  "page does not advance",
			desc:  PageNumber("more", "page", "page", "data"),
			pages: []string{`{"data":[],"more":true,"page":1}`, `{"data":[],"more":true,"page":1}`},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &scriptedFetcher{pages: tt.pages}
			_, err := FetchAll(context.Background(), tt.desc, nil, fetcher)
			if !errors.Is(err, ErrStalled) {
				t.Errorf("error = %v, want ErrStalled", err)
			}
		})
	}
}

func TestFetchAll_MalformedPage(t *testing.T) {
	tests := []struct {
		name string
		page string
	}{
		{name: "not an object", page: `[1,2,3]`},
		{name: "merge field not array", page: `{"data":{"a":1}}`},
		{name: "cursor is object", page: `{"data":[],"cursor":{"x":1}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fetcher := &scriptedFetcher{pages: []string{tt.page}}
			_, err := FetchAll(context.Background(), Cursor("cursor", "start", "data"), nil, fetcher)
			if !errors.Is(err, ErrMalformedPage) {
				t.Errorf("error = %v, want ErrMalformedPage", err)
			}
		})
	}
}

func TestFetchAll_ContextCancelledBetweenPages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fetcher := PageFetcherFunc(func(ctx context.Context, params url.Values) ([]byte, error) {
		cancel()
		return []byte(`{"data":[1],"cursor":3}`), nil
	})

	_, err := FetchAll(ctx, Cursor("cursor", "start", "data"), nil, fetcher)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

func TestFetchAll_DoesNotMutateParams(t *testing.T) {
	params := url.Values{"start": {"1"}}
	fetcher := &scriptedFetcher{pages: []string{`{"data":[],"cursor":50}`, `{"data":[]}`}}

	if _, err := FetchAll(context.Background(), Cursor("cursor", "start", "data"), params, fetcher); err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}
	if got := params.Get("start"); got != "1" {
		t.Errorf("caller params mutated: start = %q", got)
	}
	if got := fetcher.calls[0].Get("start"); got != "1" {
		t.Errorf("first request start = %q, want caller value 1", got)
	}
}

func TestFetchAll_EachPageGetsOwnParams(t *testing.T) {
	var calls []url.Values
	var views []string
	fetcher := PageFetcherFunc(func(ctx context.Context, params url.Values) ([]byte, error) {
		calls = append(calls, params)
		views = append(views, params.Get("view"))
		// Edits made by a fetcher stay in its own copy.
		params.Del("view")
		switch len(calls) {
		case 1:
			return []byte(`{"data":[1,2],"cursor":100}`), nil
		case 2:
			return []byte(`{"data":[3],"cursor":200}`), nil
		default:
			return []byte(`{"data":[4]}`), nil
		}
	})

	params := url.Values{"view": {"casts"}}
	if _, err := FetchAll(context.Background(), Cursor("cursor", "start", "data"), params, fetcher); err != nil {
		t.Fatalf("FetchAll() error = %v", err)
	}

	if len(calls) != 3 {
		t.Fatalf("requests = %d, want 3", len(calls))
	}
	for i, want := range []string{"", "100", "200"} {
		if got := calls[i].Get("start"); got != want {
			t.Errorf("request %d start = %q after the call, want %q", i+1, got, want)
		}
		if views[i] != "casts" {
			t.Errorf("request %d view = %q, want casts", i+1, views[i])
		}
	}
	if params.Get("view") != "casts" {
		t.Errorf("caller params mutated: %v", params)
	}
}

func TestDescriptor_Validate(t *testing.T) {
	tests := []struct {
		name    string
		desc    Descriptor
		wantErr bool
	}{
		{name: "cursor ok", desc: *Cursor("c", "p", "m")},
		{name: "page ok", desc: *PageNumber("more", "page", "page", "m")},
		{name: "missing merge field", desc: Descriptor{Kind: KindCursor, CursorField: "c", CursorParam: "p"}, wantErr: true},
		{name: "cursor missing param", desc: Descriptor{Kind: KindCursor, CursorField: "c", MergeField: "m"}, wantErr: true},
		{name: "page missing more", desc: Descriptor{Kind: KindPageNumber, PageField: "p", PageParam: "p", MergeField: "m"}, wantErr: true},
		{name: "unknown kind", desc: Descriptor{MergeField: "m"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.desc.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidDescriptor) {
				t.Errorf("error = %v, want ErrInvalidDescriptor", err)
			}
		})
	}
}
