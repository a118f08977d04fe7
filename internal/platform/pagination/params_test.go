package pagination

import (
	"errors"
	"net/url"
	"testing"
)

func TestParseDefaultsAndClamp(t *testing.T) {
	params, err := Parse(url.Values{}, Options{})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if params.PageSize != DefaultPageSize {
		t.Fatalf("expected default page size, got %d", params.PageSize)
	}

	params, err = Parse(url.Values{"page_size": {"500"}}, Options{MaxPageSize: 50})
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if params.PageSize != 50 {
		t.Fatalf("expected clamp to 50, got %d", params.PageSize)
	}
}

func TestParseRejectsInvalidInput(t *testing.T) {
	if _, err := Parse(url.Values{"page_size": {"-1"}}, Options{}); !errors.Is(err, ErrInvalidPageSize) {
		t.Fatalf("expected ErrInvalidPageSize, got %v", err)
	}
	if _, err := Parse(url.Values{"page_token": {"%%%"}}, Options{}); !errors.Is(err, ErrInvalidPageToken) {
		t.Fatalf("expected ErrInvalidPageToken, got %v", err)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	token, err := EncodeToken(Cursor{After: "order-123"})
	if err != nil {
		t.Fatalf("EncodeToken: %v", err)
	}
	cursor, err := DecodeToken(token)
	if err != nil {
		t.Fatalf("DecodeToken: %v", err)
	}
	if cursor.After != "order-123" {
		t.Fatalf("unexpected cursor %+v", cursor)
	}
	if empty, _ := EncodeToken(Cursor{}); empty != "" {
		t.Fatalf("expected empty token for empty cursor")
	}
}
