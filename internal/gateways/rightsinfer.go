package gateways

import (
	"context"
	"net/http"
	"time"

	"github.com/archivolt/mnemos/internal/domain"
	"github.com/archivolt/mnemos/internal/platform/envutil"
	"github.com/archivolt/mnemos/internal/platform/logger"
	"github.com/archivolt/mnemos/internal/rights"
)

// RightsInferrer derives usage terms for an ingestion context from its source
// items. The remote implementation calls a policy service; the static one
// reads defaults from the environment.
type RightsInferrer interface {
	Infer(ctx context.Context, items []domain.SourceItem) (rights.Attributes, error)
}

type httpRightsInferrer struct {
	baseURL string
	client  *http.Client
	log     *logger.Logger
}

func NewRightsInferrerFromEnv(baseLog *logger.Logger) RightsInferrer {
	base := envutil.Str("RIGHTS_SERVICE_URL", "")
	if base == "" {
		return NewStaticRightsInferrer()
	}
	return &httpRightsInferrer{
		baseURL: base,
		client:  &http.Client{Timeout: envutil.Duration("RIGHTS_TIMEOUT", 30*time.Second)},
		log:     baseLog.With("gateway", "RightsInference"),
	}
}

func (g *httpRightsInferrer) Infer(ctx context.Context, items []domain.SourceItem) (rights.Attributes, error) {
	payload := struct {
		Items []domain.SourceItem `json:"items"`
	}{Items: items}

	var out struct {
		ConsentStatus string     `json:"consent_status"`
		LicenseType   string     `json:"license_type"`
		Trainable     bool       `json:"trainable"`
		Publishable   bool       `json:"publishable"`
		EmbargoDate   *time.Time `json:"embargo_date"`
		Confidence    float64    `json:"confidence"`
	}
	if err := postJSON(ctx, g.client, g.baseURL+"/v1/infer", payload, &out); err != nil {
		return rights.Attributes{}, err
	}
	return rights.Attributes{
		ConsentStatus: out.ConsentStatus,
		LicenseType:   out.LicenseType,
		Trainable:     out.Trainable,
		Publishable:   out.Publishable,
		EmbargoDate:   out.EmbargoDate,
		Confidence:    out.Confidence,
	}, nil
}

// StaticRightsInferrer returns environment-configured defaults, the most
// conservative terms when nothing is set.
type StaticRightsInferrer struct {
	attrs rights.Attributes
}

func NewStaticRightsInferrer() *StaticRightsInferrer {
	return &StaticRightsInferrer{attrs: rights.Attributes{
		ConsentStatus: envutil.Str("RIGHTS_DEFAULT_CONSENT", domain.ConsentUnknown),
		LicenseType:   envutil.Str("RIGHTS_DEFAULT_LICENSE", "all-rights-reserved"),
		Trainable:     envutil.Bool("RIGHTS_DEFAULT_TRAINABLE", false),
		Publishable:   envutil.Bool("RIGHTS_DEFAULT_PUBLISHABLE", false),
		Confidence:    1.0,
	}}
}

func (g *StaticRightsInferrer) Infer(ctx context.Context, items []domain.SourceItem) (rights.Attributes, error) {
	return g.attrs, nil
}
