package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"
)

type stubTokenVerifier struct {
	token    *firebaseauth.Token
	err      error
	received string
}

func (s *stubTokenVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	s.received = idToken
	if s.err != nil {
		return nil, s.err
	}
	return s.token, nil
}

func TestRequireFirebaseAuth_AllowsAdmin(t *testing.T) {
	verifier := &stubTokenVerifier{
		token: &firebaseauth.Token{
			UID: "admin-1",
			Claims: map[string]any{
				"role":         []any{"staff", "Admin", "admin"},
				"email":        "ops@example.com",
				"phone_number": "+15550001",
			},
		},
	}
	authn := NewAuthenticator(verifier)

	called := false
	handler := authn.RequireFirebaseAuth(RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		identity, ok := IdentityFromContext(r.Context())
		if !ok {
			t.Fatalf("expected identity in context")
		}
		if identity.UID != "admin-1" || identity.Email != "ops@example.com" || identity.Phone != "+15550001" {
			t.Fatalf("unexpected identity %+v", identity)
		}
		if len(identity.Roles) != 2 {
			t.Fatalf("expected deduplicated roles, got %v", identity.Roles)
		}
		if !identity.IsOperator() {
			t.Fatalf("expected operator identity")
		}
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/carts/abandoned", nil)
	req.Header.Set("Authorization", "Bearer token-abc")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if !called {
		t.Fatalf("expected handler to be called")
	}
	if verifier.received != "token-abc" {
		t.Fatalf("expected token forwarded, got %q", verifier.received)
	}
}

func TestRequireFirebaseAuth_FallbackRoleAndForbidden(t *testing.T) {
	verifier := &stubTokenVerifier{token: &firebaseauth.Token{UID: "cust-1", Claims: map[string]any{}}}
	authn := NewAuthenticator(verifier)

	handler := authn.RequireFirebaseAuth(RoleAdmin)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("customer must not reach admin handler")
	}))
	req := httptest.NewRequest(http.MethodGet, "/api/v1/admin/rma", nil)
	req.Header.Set("Authorization", "Bearer token")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	var identity *Identity
	open := authn.RequireFirebaseAuth()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		identity, _ = IdentityFromContext(r.Context())
	}))
	open.ServeHTTP(httptest.NewRecorder(), req)
	if identity == nil || !identity.HasRole(RoleUser) {
		t.Fatalf("expected fallback user role, got %+v", identity)
	}
}

func TestRequireFirebaseAuth_RejectsMissingAndInvalidTokens(t *testing.T) {
	authn := NewAuthenticator(&stubTokenVerifier{err: errors.New("bad signature")})
	handler := authn.RequireFirebaseAuth()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		t.Fatalf("handler should not run")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for missing header, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/cart", nil)
	req.Header.Set("Authorization", "Bearer nope")
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", rec.Code)
	}
}

type stubUserGetter struct {
	record *firebaseauth.UserRecord
	err    error
}

func (s stubUserGetter) GetUser(context.Context, string) (*firebaseauth.UserRecord, error) {
	return s.record, s.err
}

func TestUserDirectoryContact(t *testing.T) {
	dir := NewUserDirectory(stubUserGetter{record: &firebaseauth.UserRecord{UserInfo: &firebaseauth.UserInfo{
		UID: "u1", Email: " a@example.com ", PhoneNumber: "+1555", DisplayName: "Ada",
	}}})
	contact, err := dir.Contact(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if contact.Email != "a@example.com" || contact.Phone != "+1555" || contact.UserID != "u1" {
		t.Fatalf("unexpected contact %+v", contact)
	}

	if _, err := NewUserDirectory(stubUserGetter{record: &firebaseauth.UserRecord{}}).Contact(context.Background(), "u2"); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound, got %v", err)
	}
}
