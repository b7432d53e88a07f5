package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// SharedKeySigner signs requests with the storage account key, following the
// Azure Storage "SharedKey" scheme.
type SharedKeySigner struct {
	// Account is the storage account name.
	Account string

	key []byte
	now func() time.Time
}

// NewSharedKeySigner creates a signer from the account name and its base64
// encoded key.
func NewSharedKeySigner(account, accountKey string) (*SharedKeySigner, error) {
	key, err := base64.StdEncoding.DecodeString(accountKey)
	if err != nil {
		return nil, fmt.Errorf("decoding account key: %w", err)
	}
	return &SharedKeySigner{Account: account, key: key, now: time.Now}, nil
}

// Sign stamps x-ms-date and sets the SharedKey Authorization header.
func (s *SharedKeySigner) Sign(ctx context.Context, req *http.Request) error {
	stampDate(req, s.now())

	signature := base64.StdEncoding.EncodeToString(hmacSHA256(s.key, s.stringToSign(req)))
	req.Header.Set("Authorization", fmt.Sprintf("SharedKey %s:%s", s.Account, signature))
	return nil
}

// stringToSign builds the canonical string for the request:
//
//	VERB\nContent-Encoding\nContent-Language\nContent-Length\nContent-MD5\n
//	Content-Type\nDate\nIf-Modified-Since\nIf-Match\nIf-None-Match\n
//	If-Unmodified-Since\nRange\nCanonicalizedHeaders CanonicalizedResource
func (s *SharedKeySigner) stringToSign(req *http.Request) string {
	contentLength := ""
	if req.ContentLength > 0 {
		contentLength = strconv.FormatInt(req.ContentLength, 10)
	}

	h := req.Header
	return strings.Join([]string{
		req.Method,
		h.Get("Content-Encoding"),
		h.Get("Content-Language"),
		contentLength,
		h.Get("Content-MD5"),
		h.Get("Content-Type"),
		"", // Date: superseded by x-ms-date
		h.Get("If-Modified-Since"),
		h.Get("If-Match"),
		h.Get("If-None-Match"),
		h.Get("If-Unmodified-Since"),
		h.Get("Range"),
		canonicalizedHeaders(h) + s.canonicalizedResource(req),
	}, "\n")
}

// canonicalizedHeaders returns every x-ms-* header as "name:value\n", names
// lowercased and sorted.
func canonicalizedHeaders(h http.Header) string {
	var names []string
	values := make(map[string]string)
	for name, vs := range h {
		lower := strings.ToLower(name)
		if !strings.HasPrefix(lower, "x-ms-") {
			continue
		}
		names = append(names, lower)
		values[lower] = strings.TrimSpace(strings.Join(vs, ","))
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(values[name])
		b.WriteByte('\n')
	}
	return b.String()
}

// canonicalizedResource returns "/{account}{escaped path}" followed by each
// query parameter as "\nname:v1,v2", names lowercased and sorted.
func (s *SharedKeySigner) canonicalizedResource(req *http.Request) string {
	var b strings.Builder
	b.WriteByte('/')
	b.WriteString(s.Account)
	path := req.URL.EscapedPath()
	if path == "" {
		path = "/"
	}
	b.WriteString(path)

	query := req.URL.Query()
	names := make([]string, 0, len(query))
	params := make(map[string][]string, len(query))
	for name, vs := range query {
		lower := strings.ToLower(name)
		names = append(names, lower)
		params[lower] = append(params[lower], vs...)
	}
	sort.Strings(names)

	for _, name := range names {
		vs := params[name]
		sort.Strings(vs)
		b.WriteByte('\n')
		b.WriteString(name)
		b.WriteByte(':')
		b.WriteString(strings.Join(vs, ","))
	}
	return b.String()
}

// hmacSHA256 computes HMAC-SHA256 of data using the given key.
func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}
