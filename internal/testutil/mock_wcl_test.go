package testutil

import (
	"io"
	"net/http"
	"testing"
)

func get(t *testing.T, url string) (int, string) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp.StatusCode, string(body)
}

func TestMockWCL_Sequence(t *testing.T) {
	mock := NewMockWCL()
	defer mock.Close()

	mock.SetSequence("zones",
		MockResponse{StatusCode: http.StatusServiceUnavailable},
		MockResponse{StatusCode: http.StatusOK, Body: `[]`},
	)

	if status, _ := get(t, mock.URL()+"zones?api_key=k"); status != http.StatusServiceUnavailable {
		t.Errorf("first status = %d, want 503", status)
	}
	for i := 0; i < 2; i++ {
		status, body := get(t, mock.URL()+"zones?api_key=k")
		if status != http.StatusOK || body != `[]` {
			t.Errorf("repeat %d = (%d, %q), want (200, [])", i, status, body)
		}
	}

	if got := mock.RequestCount(); got != 3 {
		t.Errorf("RequestCount() = %d, want 3", got)
	}
	queries := mock.Queries("zones")
	if len(queries) != 3 || queries[0].Get("api_key") != "k" {
		t.Errorf("Queries() = %v", queries)
	}
}

func TestMockWCL_UnknownPath(t *testing.T) {
	mock := NewMockWCL()
	defer mock.Close()

	if status, _ := get(t, mock.URL()+"report/fights/NOPE"); status != http.StatusNotFound {
		t.Errorf("status = %d, want 404", status)
	}
}
