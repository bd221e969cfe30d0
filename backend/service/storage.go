package service

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// PDFContentType is the media type of stored artifacts
const PDFContentType = "application/pdf"

var (
	// ErrArtifactNotFound is returned by Get for an unknown lead id
	ErrArtifactNotFound = errors.New("artifact not found")
	// ErrArtifactConflict is returned by Put when different bytes already
	// exist under the lead id
	ErrArtifactConflict = errors.New("artifact already exists with different content")
	// ErrInvalidLeadID rejects ids that are unsafe as file or object names
	ErrInvalidLeadID = errors.New("invalid lead id")
)

var leadIDPattern = regexp.MustCompile(`^[A-Za-z0-9-]{1,64}$`)

// ArtifactStorage persists rendered quotes by lead id. Put never replaces an
// existing artifact: identical bytes succeed with the same URL, different
// bytes fail with ErrArtifactConflict.
type ArtifactStorage interface {
	Put(ctx context.Context, leadID string, data []byte) (string, error)
	Get(ctx context.Context, leadID string) ([]byte, error)
}

// ValidLeadID reports whether id may be used as an artifact name
func ValidLeadID(id string) bool {
	return leadIDPattern.MatchString(id)
}

// ArtifactURL is the public download link served by the HTTP layer
func ArtifactURL(baseURL, leadID string) string {
	return strings.TrimRight(baseURL, "/") + "/pdf/" + leadID + ".pdf"
}
