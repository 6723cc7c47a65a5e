package tee

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResultFromHandler(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusTeapot)
		w.Write([]byte("short and stout"))
	})
	req := httptest.NewRequest("GET", "/pot", nil)
	rs := NewResponseSaver(nil)
	handler.ServeHTTP(rs, req)

	res := rs.Result(req)
	if res.StatusCode != http.StatusTeapot {
		t.Fatalf("Status code is %d", res.StatusCode)
	}
	if ct := res.Header.Get("Content-Type"); ct != "text/plain" {
		t.Fatalf("Content-Type is %s", ct)
	}
	if body, _ := io.ReadAll(res.Body); string(body) != "short and stout" {
		t.Fatalf("Body is %s", body)
	}
}

func TestImplicitOK(t *testing.T) {
	rs := NewResponseSaver(nil)
	rs.Write([]byte("hi"))
	if rs.StatusCode() != http.StatusOK {
		t.Fatalf("Status code is %d", rs.StatusCode())
	}
	if res := rs.Result(nil); res.ContentLength != 2 {
		t.Fatalf("Content length is %d", res.ContentLength)
	}
}

func TestTeeToUnderlyingWriter(t *testing.T) {
	rr := httptest.NewRecorder()
	rs := NewResponseSaver(rr)
	rs.Header().Set("X-Tee", "yes")
	rs.Write([]byte("both"))

	if rr.Body.String() != "both" || string(rs.Body()) != "both" {
		t.Fatalf("Bodies are %q and %q", rr.Body.String(), rs.Body())
	}
	if rr.Header().Get("X-Tee") != "yes" {
		t.Fatal("Header not tee'd")
	}
}
