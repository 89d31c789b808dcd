package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestAccountAndRequestID(t *testing.T) {
	var account, rid string
	h := RequestID(Account(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account = AccountFromContext(r.Context())
		rid = RequestIDFromContext(r.Context())
	})))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(AccountHeader, "  acct-1 ")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if account != "acct-1" {
		t.Fatalf("account = %q, want acct-1", account)
	}
	if rid == "" || rec.Header().Get("X-Request-ID") != rid {
		t.Fatalf("request id %q not echoed (header %q)", rid, rec.Header().Get("X-Request-ID"))
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "fixed")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if account != "" || rid != "fixed" {
		t.Fatalf("got account %q rid %q, want empty and fixed", account, rid)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := CORS([]string{"https://app.example"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("preflight must not reach the handler")
	}))
	req := httptest.NewRequest(http.MethodOptions, "/v1/jobs", nil)
	req.Header.Set("Origin", "https://app.example")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Fatalf("missing allow-origin header")
	}
}
