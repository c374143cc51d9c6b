package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(GetUserID(r.Context())))
	})
}

func TestAuthAcceptsHeaderAndQueryToken(t *testing.T) {
	tok, err := IssueToken("s3cret", "u1", "Ana", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken failed: %v", err)
	}
	h := Auth("s3cret")(echoUser())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "u1" {
		t.Fatalf("header auth: %d %q", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws?token="+tok, nil))
	if rec.Code != http.StatusOK || rec.Body.String() != "u1" {
		t.Fatalf("query auth: %d %q", rec.Code, rec.Body.String())
	}
}

func TestAuthRejectsBadTokens(t *testing.T) {
	expired, _ := IssueToken("s3cret", "u1", "", -time.Minute)
	foreign, _ := IssueToken("other", "u1", "", time.Minute)
	h := Auth("s3cret")(echoUser())

	for name, header := range map[string]string{
		"missing": "",
		"expired": "Bearer " + expired,
		"foreign": "Bearer " + foreign,
		"scheme":  "Basic abc",
	} {
		req := httptest.NewRequest(http.MethodGet, "/x", nil)
		if header != "" {
			req.Header.Set("Authorization", header)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != http.StatusUnauthorized {
			t.Fatalf("%s: expected 401, got %d", name, rec.Code)
		}
	}
}

func TestRecoverJSON(t *testing.T) {
	h := RecoverJSON(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusInternalServerError || rec.Body.String() != "{\"error\":\"internal server error\"}\n" {
		t.Fatalf("unexpected response: %d %q", rec.Code, rec.Body.String())
	}
}

func TestRateLimitUser(t *testing.T) {
	h := RateLimitUser(2, time.Minute)(echoUser())
	call := func(userID string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(WithUserID(req.Context(), userID))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	codes := []int{}
	var last *httptest.ResponseRecorder
	for i := 0; i < 3; i++ {
		last = call("u1")
		codes = append(codes, last.Code)
	}
	if codes[0] != 200 || codes[1] != 200 || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected codes: %v", codes)
	}
	if last.Header().Get("Content-Type") != "application/json" || last.Body.String() != `{"error":"too many requests"}` {
		t.Fatalf("unexpected 429 response: %q %q", last.Header().Get("Content-Type"), last.Body.String())
	}
	if rec := call("u2"); rec.Code != http.StatusOK {
		t.Fatalf("limit leaked across users: %d", rec.Code)
	}
}

func TestMaskToken(t *testing.T) {
	if got := MaskToken("abcdefghijkl"); got != "abcdefgh***" {
		t.Fatalf("MaskToken: %q", got)
	}
	if got := MaskToken("short"); got != "****" {
		t.Fatalf("MaskToken short: %q", got)
	}
}
