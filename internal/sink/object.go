package sink

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"

	"github.com/JakeFAU/intel-collector/internal/collector"
)

// ContentType is the MIME type of encoded results.
const ContentType = "application/json"

// ObjectKey returns the relative object path for a result:
// <source_kind>/<target_id>/<unix_nanos>-<job_id>.json.
func ObjectKey(result collector.CollectionResult) (string, error) {
	if result.JobID == "" {
		return "", fmt.Errorf("%w: result job id is required", collector.ErrValidation)
	}
	kind := sanitizeSegment(string(result.SourceKind))
	target := sanitizeSegment(result.TargetID)
	name := fmt.Sprintf("%d-%s.json", result.Timestamp.UnixNano(), sanitizeSegment(result.JobID))
	return path.Join(kind, target, name), nil
}

// Encode renders a result as indented JSON.
func Encode(result collector.CollectionResult) ([]byte, error) {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return data, nil
}

func sanitizeSegment(s string) string {
	s = strings.TrimSpace(s)
	if s == "" || s == "." || s == ".." {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':':
			return '_'
		}
		return r
	}, s)
}
