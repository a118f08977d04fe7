package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize applies when the caller omits page_size.
	DefaultPageSize = 20
	// MaxPageSize caps page_size when Options does not set one.
	MaxPageSize = 100
)

var (
	// ErrInvalidPageSize indicates page_size was not a positive integer.
	ErrInvalidPageSize = errors.New("pagination: invalid page_size")
	// ErrInvalidPageToken indicates page_token could not be decoded.
	ErrInvalidPageToken = errors.New("pagination: invalid page_token")
)

// Params carries the parsed paging inputs.
type Params struct {
	PageSize  int
	PageToken string
}

// Options customises parsing limits.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

// FromRequest parses page_size and page_token from the request query.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil || r.URL == nil {
		return Params{PageSize: opts.defaultSize()}, nil
	}
	return Parse(r.URL.Query(), opts)
}

// Parse reads page_size and page_token. Sizes above the maximum are clamped.
func Parse(values url.Values, opts Options) (Params, error) {
	params := Params{PageSize: opts.defaultSize()}
	if raw := strings.TrimSpace(values.Get("page_size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size <= 0 {
			return Params{}, fmt.Errorf("%w: %q", ErrInvalidPageSize, raw)
		}
		if max := opts.maxSize(); size > max {
			size = max
		}
		params.PageSize = size
	}
	if raw := strings.TrimSpace(values.Get("page_token")); raw != "" {
		if _, err := DecodeToken(raw); err != nil {
			return Params{}, err
		}
		params.PageToken = raw
	}
	return params, nil
}

func (o Options) defaultSize() int {
	if o.DefaultPageSize > 0 {
		return o.DefaultPageSize
	}
	return DefaultPageSize
}

func (o Options) maxSize() int {
	if o.MaxPageSize > 0 {
		return o.MaxPageSize
	}
	return MaxPageSize
}
