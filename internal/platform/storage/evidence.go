package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
	"github.com/oklog/ulid/v2"

	"github.com/Sad0asc0Sh/user-sub000/internal/domain"
)

const (
	defaultUploadTTL   = 15 * time.Minute
	defaultDownloadTTL = 5 * time.Minute
	maxEvidenceBytes   = 10 << 20
)

var (
	// ErrContentTypeDenied is returned for evidence formats other than the accepted images.
	ErrContentTypeDenied = errors.New("storage: content type not allowed")
	errNoSigner          = errors.New("storage: signer is required")
)

var evidenceContentTypes = map[string]string{
	"image/jpeg": "jpg",
	"image/png":  "png",
	"image/webp": "webp",
	"image/heic": "heic",
}

// EvidenceStore issues V4 signed URLs for RMA evidence photos.
type EvidenceStore struct {
	signer Signer
	bucket string
	ttl    time.Duration
	now    func() time.Time
}

// EvidenceOption customises the store.
type EvidenceOption func(*EvidenceStore)

// WithUploadTTL sets the signed upload URL lifetime.
func WithUploadTTL(ttl time.Duration) EvidenceOption {
	return func(s *EvidenceStore) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithClock injects a custom clock.
func WithClock(now func() time.Time) EvidenceOption {
	return func(s *EvidenceStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewEvidenceStore constructs an EvidenceStore for bucket.
func NewEvidenceStore(signer Signer, bucket string, opts ...EvidenceOption) (*EvidenceStore, error) {
	if signer == nil || strings.TrimSpace(signer.Email()) == "" {
		return nil, errNoSigner
	}
	if strings.TrimSpace(bucket) == "" {
		return nil, errors.New("storage: evidence bucket is required")
	}
	s := &EvidenceStore{signer: signer, bucket: strings.TrimSpace(bucket), ttl: defaultUploadTTL, now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s, nil
}

// SignEvidenceUpload returns a PUT URL for a new object under rma/{rmaID}/. The client must
// send the returned headers, which pin the content type and cap the upload size.
func (s *EvidenceStore) SignEvidenceUpload(ctx context.Context, rmaID, contentType string) (domain.EvidenceUpload, error) {
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	ext, ok := evidenceContentTypes[contentType]
	if !ok {
		return domain.EvidenceUpload{}, fmt.Errorf("%w: %s", ErrContentTypeDenied, contentType)
	}
	object := fmt.Sprintf("rma/%s/%s.%s", strings.TrimSpace(rmaID), strings.ToLower(ulid.Make().String()), ext)
	expires := s.now().UTC().Add(s.ttl)
	sizeRange := fmt.Sprintf("0,%d", maxEvidenceBytes)

	url, err := gcs.SignedURL(s.bucket, object, &gcs.SignedURLOptions{
		GoogleAccessID: s.signer.Email(),
		Scheme:         gcs.SigningSchemeV4,
		Method:         http.MethodPut,
		ContentType:    contentType,
		Headers:        []string{"x-goog-content-length-range:" + sizeRange},
		Expires:        expires,
		SignBytes: func(payload []byte) ([]byte, error) {
			return s.signer.SignBytes(ctx, payload)
		},
	})
	if err != nil {
		return domain.EvidenceUpload{}, fmt.Errorf("storage: sign upload url: %w", err)
	}
	return domain.EvidenceUpload{
		ObjectPath: object,
		URL:        url,
		Method:     http.MethodPut,
		Headers: map[string]string{
			"Content-Type":                contentType,
			"x-goog-content-length-range": sizeRange,
		},
		ExpiresAt: expires,
	}, nil
}

// SignEvidenceDownload returns a short-lived GET URL so reviewers can view an uploaded photo.
func (s *EvidenceStore) SignEvidenceDownload(ctx context.Context, objectPath string) (string, error) {
	if !strings.HasPrefix(objectPath, "rma/") {
		return "", fmt.Errorf("storage: object %q is not an evidence path", objectPath)
	}
	return gcs.SignedURL(s.bucket, objectPath, &gcs.SignedURLOptions{
		GoogleAccessID: s.signer.Email(),
		Scheme:         gcs.SigningSchemeV4,
		Method:         http.MethodGet,
		Expires:        s.now().UTC().Add(defaultDownloadTTL),
		SignBytes: func(payload []byte) ([]byte, error) {
			return s.signer.SignBytes(ctx, payload)
		},
	})
}
