package httpx

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"golang.org/x/text/language"
)

func TestMatchLocale(t *testing.T) {
	cases := []struct {
		prefs []string
		want  language.Tag
	}{
		{prefs: []string{"", "fa-IR,fa;q=0.9,en;q=0.5"}, want: language.Persian},
		{prefs: []string{"", "de-DE"}, want: language.English},
		{prefs: []string{"fa", "en-US"}, want: language.Persian},
		{prefs: nil, want: language.English},
	}
	for _, tc := range cases {
		got := MatchLocale(tc.prefs...)
		if base, _ := got.Base(); func() bool { wb, _ := tc.want.Base(); return wb != base }() {
			t.Fatalf("MatchLocale(%v) = %s, want %s", tc.prefs, got, tc.want)
		}
	}
}

func TestWriteErrorLocalizesKnownCodes(t *testing.T) {
	var handler http.Handler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(r.Context(), w, NewError("out_of_stock", "insufficient stock", http.StatusConflict))
	})
	handler = LocaleMiddleware(handler)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
	req.Header.Set("Accept-Language", "fa")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "out_of_stock" {
		t.Fatalf("unexpected code %v", body["error"])
	}
	if body["message"] == "insufficient stock" {
		t.Fatalf("expected localized message")
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/orders", nil)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	_ = json.Unmarshal(rec.Body.Bytes(), &body)
	if body["message"] != "insufficient stock" {
		t.Fatalf("expected default message, got %v", body["message"])
	}
}
