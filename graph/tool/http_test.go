package tool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

var (
	_ Tool = (*FetchTool)(nil)
	_ Tool = (*MockTool)(nil)
)

func TestFetchTool_Call(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %s", r.Method)
		}
		if ua := r.Header.Get("User-Agent"); !strings.HasPrefix(ua, "coursegraph") {
			t.Errorf("user agent = %q", ua)
		}
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<h1>Generics</h1>"))
	}))
	defer srv.Close()

	f := NewFetchTool()
	out, err := f.Call(context.Background(), map[string]interface{}{"url": srv.URL + "/doc"})
	if err != nil {
		t.Fatal(err)
	}
	if out["status_code"] != http.StatusOK || out["body"] != "<h1>Generics</h1>" || out["content_type"] != "text/html" {
		t.Errorf("out = %v", out)
	}
	if out["truncated"] != false {
		t.Error("short page reported truncated")
	}
}

func TestFetchTool_Truncates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("a", 100)))
	}))
	defer srv.Close()

	out, err := NewFetchTool(WithMaxBytes(10)).Call(context.Background(), map[string]interface{}{"url": srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if out["body"] != strings.Repeat("a", 10) || out["truncated"] != true {
		t.Errorf("out = %v", out)
	}
}

func TestFetchTool_NonOKStatusIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	out, err := NewFetchTool(WithHTTPClient(srv.Client())).Call(context.Background(), map[string]interface{}{"url": srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	if out["status_code"] != http.StatusNotFound {
		t.Errorf("status = %v", out["status_code"])
	}
}

func TestFetchTool_InvalidInput(t *testing.T) {
	f := NewFetchTool()
	for name, input := range map[string]map[string]interface{}{
		"missing url":    {},
		"non-string url": {"url": 42},
		"relative url":   {"url": "/docs"},
		"unsupported":    {"url": "file:///etc/passwd"},
		"malformed":      {"url": "http://[::1"},
	} {
		t.Run(name, func(t *testing.T) {
			if _, err := f.Call(context.Background(), input); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestFetchTool_Cancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := NewFetchTool().Call(ctx, map[string]interface{}{"url": srv.URL}); err == nil {
		t.Error("expected error for cancelled context")
	}
}

func TestFetchTool_Spec(t *testing.T) {
	spec := NewFetchTool().Spec()
	if spec.Name != "fetch_page" || spec.Schema["type"] != "object" {
		t.Errorf("spec = %+v", spec)
	}
}
