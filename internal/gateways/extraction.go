package gateways

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/pipeerr"
	"github.com/archivolt/mnemos/internal/platform/envutil"
	"github.com/archivolt/mnemos/internal/platform/logger"
)

// ExtractedEntity is one candidate knowledge entity from the extraction
// service, before canonicalization.
type ExtractedEntity struct {
	Pool       string         `json:"pool"`
	Label      string         `json:"label"`
	ReprText   string         `json:"repr_text"`
	ValidFrom  *time.Time     `json:"valid_from,omitempty"`
	ValidTo    *time.Time     `json:"valid_to,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
	Confidence float64        `json:"confidence"`
}

// ExtractedRelation names its endpoints by pool and label; keys are derived
// downstream after canonicalization.
type ExtractedRelation struct {
	SourcePool  string  `json:"source_pool"`
	SourceLabel string  `json:"source_label"`
	TargetPool  string  `json:"target_pool"`
	TargetLabel string  `json:"target_label"`
	Verb        string  `json:"verb"`
	Evidence    string  `json:"evidence,omitempty"`
	Confidence  float64 `json:"confidence"`
}

type ExtractionResult struct {
	Entities  []ExtractedEntity   `json:"entities"`
	Relations []ExtractedRelation `json:"relations"`
}

// Extractor turns normalized content units into candidate entities and
// relations. Implementations: remote HTTP service, local heuristic.
type Extractor interface {
	Extract(ctx context.Context, units []domain.ContentUnit) (ExtractionResult, error)
}

type httpExtractor struct {
	baseURL string
	client  *http.Client
	log     *logger.Logger
}

// NewExtractorFromEnv returns the HTTP extractor when EXTRACTION_SERVICE_URL
// is set, otherwise (nil, nil) so the caller can fall back to the heuristic.
func NewExtractorFromEnv(baseLog *logger.Logger) (Extractor, error) {
	base := envutil.Str("EXTRACTION_SERVICE_URL", "")
	if base == "" {
		return nil, nil
	}
	return &httpExtractor{
		baseURL: base,
		client:  &http.Client{Timeout: envutil.Duration("EXTRACTION_TIMEOUT", 60*time.Second)},
		log:     baseLog.With("gateway", "Extraction"),
	}, nil
}

func (e *httpExtractor) Extract(ctx context.Context, units []domain.ContentUnit) (ExtractionResult, error) {
	payload := struct {
		Units []domain.ContentUnit `json:"units"`
	}{Units: units}

	var out ExtractionResult
	if err := postJSON(ctx, e.client, e.baseURL+"/v1/extract", payload, &out); err != nil {
		return ExtractionResult{}, err
	}
	return out, nil
}

// postJSON wraps transport failures and 5xx responses as transient, 4xx as
// invalid data. Shared by every HTTP gateway.
func postJSON(ctx context.Context, client *http.Client, url string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return pipeerr.InvalidDataf("encode request: %v", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return pipeerr.InvalidDataf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return pipeerr.Transientf("call %s: %v", url, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return pipeerr.Transientf("read response from %s: %v", url, err)
	}
	switch {
	case resp.StatusCode >= 500:
		return pipeerr.Transientf("%s returned %d: %s", url, resp.StatusCode, truncate(raw, 256))
	case resp.StatusCode >= 400:
		return pipeerr.InvalidDataf("%s returned %d: %s", url, resp.StatusCode, truncate(raw, 256))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return pipeerr.InvalidDataf("decode response from %s: %v", url, err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
