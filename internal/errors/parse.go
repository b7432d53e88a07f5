package errors

import (
	"bytes"
	"encoding/json"
	"encoding/xml"
	"io"
	"net/http"
	"strings"
)

// jsonErrorBody is the ADLS Gen2 (dfs endpoint) error document:
//
//	{"error":{"code":"PathNotFound","message":"The specified path does not exist."}}
type jsonErrorBody struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// xmlErrorBody is the Blob endpoint error document, returned by some
// gateways in front of the dfs endpoint.
type xmlErrorBody struct {
	XMLName xml.Name `xml:"Error"`
	Code    string   `xml:"Code"`
	Message string   `xml:"Message"`
}

var utf8BOM = []byte("\xef\xbb\xbf")

// Parse consumes and closes the body of a failed response and returns the
// structured service error it describes. The returned error is non-nil only
// when the body could not be read.
func Parse(resp *http.Response) (*ServiceError, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	kind, temporary := KindForStatus(resp.StatusCode)
	se := &ServiceError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("x-ms-request-id"),
		Kind:       kind,
		Temporary:  temporary,
		Body:       body,
	}

	// Blob endpoint XML bodies may start with a UTF-8 byte order mark.
	trimmed := bytes.TrimSpace(bytes.TrimPrefix(bytes.TrimSpace(body), utf8BOM))
	switch {
	case len(trimmed) == 0:
	case trimmed[0] == '{':
		var doc jsonErrorBody
		if json.Unmarshal(trimmed, &doc) == nil && (doc.Error.Code != "" || doc.Error.Message != "") {
			se.Code = doc.Error.Code
			se.Message = doc.Error.Message
		} else {
			se.Message = string(trimmed)
		}
	case trimmed[0] == '<':
		var doc xmlErrorBody
		if xml.Unmarshal(trimmed, &doc) == nil {
			se.Code = doc.Code
			se.Message = strings.TrimSpace(doc.Message)
		} else {
			se.Message = string(trimmed)
		}
	default:
		se.Message = string(trimmed)
	}

	// HEAD-style responses and some proxies carry the code only in a header.
	if se.Code == "" {
		se.Code = resp.Header.Get("x-ms-error-code")
	}
	if se.Message == "" {
		se.Message = http.StatusText(resp.StatusCode)
	}
	return se, nil
}
