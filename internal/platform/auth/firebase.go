package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	firebaseauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"

	"github.com/Sad0asc0Sh/user-sub000/internal/domain"
	"github.com/Sad0asc0Sh/user-sub000/internal/platform/config"
)

// ErrUserNotFound is returned by the directory when Firebase has no record for the UID.
var ErrUserNotFound = errors.New("auth: user not found")

// FirebaseVerifier wraps the Admin SDK auth client for token verification and user lookups.
type FirebaseVerifier struct {
	client  *firebaseauth.Client
	timeout time.Duration
}

// FirebaseOption customises FirebaseVerifier instances.
type FirebaseOption func(*FirebaseVerifier)

// WithFirebaseTimeout overrides the timeout used for Admin SDK calls.
func WithFirebaseTimeout(d time.Duration) FirebaseOption {
	return func(v *FirebaseVerifier) {
		if d > 0 {
			v.timeout = d
		}
	}
}

// NewFirebaseVerifier constructs a FirebaseVerifier backed by the Admin SDK.
func NewFirebaseVerifier(ctx context.Context, cfg config.FirebaseConfig, opts ...FirebaseOption) (*FirebaseVerifier, error) {
	if cfg.ProjectID == "" {
		return nil, errors.New("firebase project id is required")
	}

	var clientOpts []option.ClientOption
	if cfg.CredentialsFile != "" {
		clientOpts = append(clientOpts, option.WithCredentialsFile(cfg.CredentialsFile))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, clientOpts...)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase app: %w", err)
	}
	authClient, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise firebase auth client: %w", err)
	}

	verifier := &FirebaseVerifier{client: authClient, timeout: defaultVerifyTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(verifier)
		}
	}
	return verifier, nil
}

// VerifyIDToken forwards verification to the Admin SDK using a bounded context.
func (v *FirebaseVerifier) VerifyIDToken(ctx context.Context, idToken string) (*firebaseauth.Token, error) {
	if v == nil || v.client == nil {
		return nil, errors.New("firebase verifier not initialised")
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	return v.client.VerifyIDToken(ctx, idToken)
}

// GetUser loads a Firebase user record for the given UID.
func (v *FirebaseVerifier) GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error) {
	if v == nil || v.client == nil {
		return nil, errors.New("firebase verifier not initialised")
	}
	ctx, cancel := context.WithTimeout(ctx, v.timeout)
	defer cancel()
	return v.client.GetUser(ctx, uid)
}

// UserGetter retrieves Firebase user information.
type UserGetter interface {
	GetUser(ctx context.Context, uid string) (*firebaseauth.UserRecord, error)
}

// UserDirectory resolves reminder contact details for a customer from Firebase Auth.
type UserDirectory struct {
	users UserGetter
}

// NewUserDirectory wraps the given user getter.
func NewUserDirectory(users UserGetter) *UserDirectory {
	return &UserDirectory{users: users}
}

// Contact returns the email and phone registered for uid.
func (d *UserDirectory) Contact(ctx context.Context, uid string) (domain.CustomerContact, error) {
	if d == nil || d.users == nil {
		return domain.CustomerContact{}, errors.New("auth: user directory not configured")
	}
	record, err := d.users.GetUser(ctx, uid)
	if err != nil {
		if firebaseauth.IsUserNotFound(err) {
			return domain.CustomerContact{}, fmt.Errorf("%w: %s", ErrUserNotFound, uid)
		}
		return domain.CustomerContact{}, err
	}
	if record == nil || record.UserInfo == nil {
		return domain.CustomerContact{}, fmt.Errorf("%w: %s", ErrUserNotFound, uid)
	}
	return domain.CustomerContact{
		UserID:      uid,
		Email:       strings.TrimSpace(record.Email),
		Phone:       strings.TrimSpace(record.PhoneNumber),
		DisplayName: strings.TrimSpace(record.DisplayName),
	}, nil
}
