package asynchttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestGetConvenienceWrapper(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	defer srv.Close()

	c := NewClient(Defaults(), 2)
	defer c.Close()

	resp, err := Get(context.Background(), c, srv.URL+"/")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Close()

	body, err := resp.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != "hello" {
		t.Fatalf("got %q, want hello", body)
	}
}

func TestParseProxyURLFacade(t *testing.T) {
	cfg, err := ParseProxyURL("http://proxy.example.com:8080")
	if err != nil {
		t.Fatalf("ParseProxyURL: %v", err)
	}
	if cfg.Host != "proxy.example.com" || cfg.Port != 8080 {
		t.Fatalf("got %+v", cfg)
	}
}

func TestArrayCursorFacadeStreamsResponseArray(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":1},{"id":2}]`))
	}))
	defer srv.Close()

	c := NewClient(Defaults(), 2)
	defer c.Close()

	resp, err := Get(context.Background(), c, srv.URL+"/")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Close()

	type item struct {
		ID int `json:"id"`
	}
	cur := NewArrayCursor[item](resp, DecodeOptions{})
	var ids []int
	for {
		v, ok, err := cur.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		ids = append(ids, v.ID)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("got %v", ids)
	}
}
