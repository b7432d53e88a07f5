package auth

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// SASSigner authenticates requests by appending a shared access signature
// to the query string.
type SASSigner struct {
	token string
	now   func() time.Time
}

// NewSASSigner creates a signer for the given SAS query string. A leading
// "?" is ignored.
func NewSASSigner(token string) *SASSigner {
	return &SASSigner{token: strings.TrimPrefix(token, "?"), now: time.Now}
}

// Sign stamps x-ms-date and appends the SAS parameters, replacing any that
// are already present.
func (s *SASSigner) Sign(ctx context.Context, req *http.Request) error {
	stampDate(req, s.now())

	sas, err := url.ParseQuery(s.token)
	if err != nil {
		return err
	}
	q := req.URL.Query()
	for name, vs := range sas {
		q[name] = vs
	}
	req.URL.RawQuery = q.Encode()
	return nil
}
