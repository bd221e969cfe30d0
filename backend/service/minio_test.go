package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cpqbox/quote/backend/config"
)

func TestNewMinioStorage(t *testing.T) {
	cfg := &config.MinioConfig{
		Endpoint:  "localhost:9000",
		AccessKey: "test",
		SecretKey: "test",
		Bucket:    "quotes",
		Region:    "us-east-1",
	}

	s, err := NewMinioStorage(cfg, "http://localhost:8000")
	if err != nil {
		t.Fatalf("NewMinioStorage failed: %v", err)
	}
	if s.bucket != "quotes" {
		t.Errorf("Expected bucket 'quotes', got '%s'", s.bucket)
	}
}

func TestMinioStorageObjectName(t *testing.T) {
	tests := []struct {
		prefix   string
		expected string
	}{
		{"", testLeadID + ".pdf"},
		{"quotes", "quotes/" + testLeadID + ".pdf"},
		{"quotes/2026/", "quotes/2026/" + testLeadID + ".pdf"},
	}

	for _, tt := range tests {
		s := &MinioStorage{config: &config.MinioConfig{Prefix: tt.prefix}}
		if got := s.objectName(testLeadID); got != tt.expected {
			t.Errorf("objectName with prefix %q = %q, want %q", tt.prefix, got, tt.expected)
		}
	}
}

func TestMinioStorageGetPublicURL(t *testing.T) {
	tests := []struct {
		name       string
		useSSL     bool
		endpoint   string
		bucket     string
		objectName string
		expected   string
	}{
		{
			name:       "http url",
			useSSL:     false,
			endpoint:   "localhost:9000",
			bucket:     "quotes",
			objectName: "pdf/" + testLeadID + ".pdf",
			expected:   "http://localhost:9000/quotes/pdf/" + testLeadID + ".pdf",
		},
		{
			name:       "https url",
			useSSL:     true,
			endpoint:   "s3.example.com",
			bucket:     "offers",
			objectName: testLeadID + ".pdf",
			expected:   "https://s3.example.com/offers/" + testLeadID + ".pdf",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &MinioStorage{
				bucket: tt.bucket,
				config: &config.MinioConfig{
					Endpoint: tt.endpoint,
					UseSSL:   tt.useSSL,
				},
			}

			result := s.GetPublicURL(tt.objectName)
			if result != tt.expected {
				t.Errorf("Expected '%s', got '%s'", tt.expected, result)
			}
		})
	}
}

func TestMinioStorageURL(t *testing.T) {
	s := &MinioStorage{
		bucket:  "quotes",
		baseURL: "https://quote.example.com",
		config:  &config.MinioConfig{Endpoint: "s3.example.com", UseSSL: true},
	}

	if got := s.url(testLeadID); got != "https://quote.example.com/pdf/"+testLeadID+".pdf" {
		t.Errorf("Expected download route URL, got '%s'", got)
	}

	s.config.PublicURLs = true
	if got := s.url(testLeadID); got != "https://s3.example.com/quotes/"+testLeadID+".pdf" {
		t.Errorf("Expected public object URL, got '%s'", got)
	}
}

func TestMinioStorageRejectsInvalidLeadID(t *testing.T) {
	s, err := NewMinioStorage(&config.MinioConfig{Endpoint: "localhost:9000", Bucket: "quotes"}, "")
	if err != nil {
		t.Skip("Could not create MinIO storage")
	}

	// Validation happens before any network call
	if _, err := s.Put(context.Background(), "../escape", []byte("x")); err != ErrInvalidLeadID {
		t.Errorf("Expected ErrInvalidLeadID, got %v", err)
	}
	if _, err := s.Get(context.Background(), "a/b"); err != ErrInvalidLeadID {
		t.Errorf("Expected ErrInvalidLeadID, got %v", err)
	}
}

// fakeS3 is a path-style, in-memory S3 endpoint for anonymous requests
type fakeS3 struct {
	*httptest.Server
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte
	puts    int
}

func newFakeS3(t *testing.T) *fakeS3 {
	t.Helper()
	f := &fakeS3{buckets: map[string]bool{}, objects: map[string][]byte{}}
	f.Server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeS3) serve(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if key == "" {
		switch r.Method {
		case http.MethodHead:
			if !f.buckets[bucket] {
				w.WriteHeader(http.StatusNotFound)
			}
		case http.MethodPut:
			f.buckets[bucket] = true
		default:
			w.WriteHeader(http.StatusNotImplemented)
		}
		return
	}

	name := bucket + "/" + key
	switch r.Method {
	case http.MethodGet:
		data, ok := f.objects[name]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code>`+
				`<Message>The specified key does not exist.</Message><Key>%s</Key><BucketName>%s</BucketName>`+
				`<Resource>%s</Resource><RequestId>1</RequestId><HostId>1</HostId></Error>`, key, bucket, r.URL.Path)
			return
		}
		w.Header().Set("Content-Type", PDFContentType)
		w.Header().Set("Content-Length", strconv.Itoa(len(data)))
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.Header().Set("ETag", `"etag"`)
		w.Write(data)
	case http.MethodPut:
		data, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		f.objects[name] = data
		f.puts++
		w.Header().Set("ETag", `"etag"`)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

func (f *fakeS3) putCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

func newFakeS3Storage(t *testing.T, f *fakeS3) *MinioStorage {
	t.Helper()
	s, err := NewMinioStorage(&config.MinioConfig{
		Endpoint: strings.TrimPrefix(f.URL, "http://"),
		Bucket:   "quotes",
		Region:   "us-east-1",
		Prefix:   "offers",
	}, "http://localhost:8000")
	if err != nil {
		t.Fatalf("NewMinioStorage failed: %v", err)
	}
	return s
}

func TestMinioStoragePutGet(t *testing.T) {
	f := newFakeS3(t)
	s := newFakeS3Storage(t, f)
	ctx := context.Background()
	data := []byte("%PDF-1.3 quote")

	url, err := s.Put(ctx, testLeadID, data)
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if url != "http://localhost:8000/pdf/"+testLeadID+".pdf" {
		t.Errorf("Unexpected url %s", url)
	}

	got, err := s.Get(ctx, testLeadID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Errorf("Expected stored bytes back, got %q", got)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects["quotes/offers/"+testLeadID+".pdf"]; !ok {
		t.Errorf("Expected object under the prefix, have %d objects", len(f.objects))
	}
}

func TestMinioStoragePutIdempotent(t *testing.T) {
	f := newFakeS3(t)
	s := newFakeS3Storage(t, f)
	ctx := context.Background()
	data := []byte("%PDF-1.3 quote")

	first, err := s.Put(ctx, testLeadID, data)
	if err != nil {
		t.Fatalf("First put failed: %v", err)
	}
	second, err := s.Put(ctx, testLeadID, data)
	if err != nil {
		t.Fatalf("Repeated put with identical bytes failed: %v", err)
	}
	if first != second {
		t.Errorf("Expected a stable url, got %s and %s", first, second)
	}
	if n := f.putCount(); n != 1 {
		t.Errorf("Expected one upload, got %d", n)
	}
}

func TestMinioStoragePutConflict(t *testing.T) {
	f := newFakeS3(t)
	s := newFakeS3Storage(t, f)
	ctx := context.Background()

	if _, err := s.Put(ctx, testLeadID, []byte("%PDF-1.3 first")); err != nil {
		t.Fatalf("First put failed: %v", err)
	}
	if _, err := s.Put(ctx, testLeadID, []byte("%PDF-1.3 second")); !errors.Is(err, ErrArtifactConflict) {
		t.Fatalf("Expected ErrArtifactConflict, got %v", err)
	}

	got, err := s.Get(ctx, testLeadID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if string(got) != "%PDF-1.3 first" {
		t.Errorf("Existing artifact was overwritten: %q", got)
	}
	if n := f.putCount(); n != 1 {
		t.Errorf("Expected one upload, got %d", n)
	}
}

func TestMinioStorageGetMissing(t *testing.T) {
	f := newFakeS3(t)
	s := newFakeS3Storage(t, f)

	if _, err := s.Get(context.Background(), testLeadID); !errors.Is(err, ErrArtifactNotFound) {
		t.Errorf("Expected ErrArtifactNotFound, got %v", err)
	}
}

func TestMinioStorageEnsureBucket(t *testing.T) {
	f := newFakeS3(t)
	s := newFakeS3Storage(t, f)

	for i := 0; i < 2; i++ {
		if err := s.EnsureBucket(context.Background()); err != nil {
			t.Fatalf("EnsureBucket failed: %v", err)
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.buckets["quotes"] {
		t.Error("Expected bucket to be created")
	}
}
