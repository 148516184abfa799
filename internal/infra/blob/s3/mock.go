package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"maps"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// NewMockForTests returns a *Store whose HTTP transport serves the object
// calls the snapshot persister makes from a map.
func NewMockForTests() *Store {
	return newMockStore("")
}

func newMockStore(prefix string) *Store {
	store, err := New(context.Background(), Config{
		Prefix:          prefix,
		Region:          "us-east-1",
		Bucket:          "mock-bucket",
		Endpoint:        "https://mock.s3.local",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
		HTTPClient:      &http.Client{Transport: newMockRoundTripper()},
	})
	if err != nil {
		panic(fmt.Errorf("mock s3 store: %w", err))
	}
	return store
}

type mockObj struct {
	body        []byte
	contentType string
	metadata    map[string]string
	modified    time.Time
}

const metaHeaderPrefix = "X-Amz-Meta-"

// mockRoundTripper answers HEAD, GET, conditional PUT, DELETE and
// ListObjectsV2 requests.
type mockRoundTripper struct {
	mu    sync.Mutex
	state map[string]mockObj
}

func newMockRoundTripper() *mockRoundTripper {
	return &mockRoundTripper{state: make(map[string]mockObj)}
}

func (m *mockRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return m.list(req.URL.Query().Get("prefix")), nil
	}
	switch req.Method {
	case http.MethodHead, http.MethodGet:
		st, ok := m.state[key]
		if !ok {
			return respond(http.StatusNotFound, nil, http.Header{}), nil
		}
		header := http.Header{
			"Content-Length": {strconv.Itoa(len(st.body))},
			"Content-Type":   {st.contentType},
			"ETag":           {"\"etag-" + strconv.Itoa(len(st.body)) + "\""},
			"Last-Modified":  {st.modified.Format(http.TimeFormat)},
		}
		for k, v := range st.metadata {
			header.Set(metaHeaderPrefix+k, v)
		}
		if req.Method == http.MethodHead {
			return respond(http.StatusOK, nil, header), nil
		}
		return respond(http.StatusOK, st.body, header), nil
	case http.MethodPut:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		if _, exists := m.state[key]; exists && req.Header.Get("If-None-Match") == "*" {
			return respond(http.StatusPreconditionFailed, nil, http.Header{}), nil
		}
		m.state[key] = mockObj{
			body:        body,
			contentType: req.Header.Get("Content-Type"),
			metadata:    userMetadata(req.Header),
			modified:    time.Now().UTC(),
		}
		return respond(http.StatusOK, nil, http.Header{"ETag": {"\"etag\""}}), nil
	case http.MethodDelete:
		delete(m.state, key)
		return respond(http.StatusNoContent, nil, http.Header{}), nil
	}
	return respond(http.StatusNotImplemented, nil, http.Header{}), nil
}

func (m *mockRoundTripper) list(prefix string) *http.Response {
	keys := slices.Sorted(maps.Keys(m.state))
	keys = slices.DeleteFunc(keys, func(k string) bool { return !strings.HasPrefix(k, prefix) })
	var b strings.Builder
	b.WriteString("<?xml version=\"1.0\"?><ListBucketResult><IsTruncated>false</IsTruncated>")
	for _, k := range keys {
		st := m.state[k]
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>%s</LastModified></Contents>",
			k, len(st.body), st.modified.Format(time.RFC3339))
	}
	b.WriteString("</ListBucketResult>")
	return respond(http.StatusOK, []byte(b.String()), http.Header{"Content-Type": {"application/xml"}})
}

func userMetadata(h http.Header) map[string]string {
	var md map[string]string
	for name := range h {
		if k, ok := strings.CutPrefix(http.CanonicalHeaderKey(name), metaHeaderPrefix); ok {
			if md == nil {
				md = make(map[string]string)
			}
			md[strings.ToLower(k)] = h.Get(name)
		}
	}
	return md
}

func respond(status int, body []byte, header http.Header) *http.Response {
	return &http.Response{StatusCode: status, Body: io.NopCloser(bytes.NewReader(body)), Header: header}
}

// decodeChunked decodes a single-chunk aws-chunked payload: <hex>[;ext]\r\n<body>\r\n0\r\n...
func decodeChunked(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 {
		return nil, false
	}
	sizeField, _, _ := strings.Cut(parts[0], ";")
	sz, err := strconv.ParseInt(sizeField, 16, 64)
	if err != nil || int64(len(parts[1])) != sz || !strings.HasPrefix(parts[2], "0") {
		return nil, false
	}
	return []byte(parts[1]), true
}
