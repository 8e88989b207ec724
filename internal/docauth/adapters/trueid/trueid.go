// Package trueid is the synchronous document-authentication vendor. It posts
// the captured images and blocks until the vendor returns a decision.
package trueid

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"idproof/internal/docauth"
	"idproof/pkg/requestcontext"
)

// Name is the vendor identifier used in configuration.
const Name = "trueid"

const verifyPath = "/restws/identity/v3/trueid/verify"

// maxResponseBytes bounds the vendor body we are willing to decode.
const maxResponseBytes = 4 << 20

// Adapter talks to the TrueID document-authentication API.
type Adapter struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	rules      docauth.ImageRules
	minAge     int
}

type Option func(*Adapter)

// WithHTTPClient replaces the default client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) {
		a.httpClient = c
	}
}

// WithImageRules overrides the pre-check bounds.
func WithImageRules(rules docauth.ImageRules) Option {
	return func(a *Adapter) {
		a.rules = rules
	}
}

// WithMinimumAge sets the age below which a passing document is failed as underage.
func WithMinimumAge(years int) Option {
	return func(a *Adapter) {
		a.minAge = years
	}
}

func New(baseURL, apiKey string, timeout time.Duration, opts ...Option) *Adapter {
	a := &Adapter{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: timeout},
		rules:      docauth.DefaultImageRules(),
		minAge:     18,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Name() string       { return Name }
func (a *Adapter) Mode() docauth.Mode { return docauth.ModeSync }

func (a *Adapter) PreCheck(images docauth.Images, meta docauth.Metadata) error {
	return a.rules.Check(images, meta)
}

func (a *Adapter) Submit(ctx context.Context, images docauth.Images, meta docauth.Metadata) (docauth.Submission, error) {
	body, err := json.Marshal(newVerifyRequest(images, meta))
	if err != nil {
		return docauth.Submission{}, fmt.Errorf("encode trueid request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+verifyPath, bytes.NewReader(body))
	if err != nil {
		return docauth.Submission{}, fmt.Errorf("build trueid request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	if rid := requestcontext.RequestID(ctx); rid != "" {
		req.Header.Set("X-Request-ID", rid)
	}

	verdict := a.do(req, meta, requestcontext.Now(ctx))
	return docauth.Submission{Verdict: &verdict}, nil
}

func (a *Adapter) do(req *http.Request, meta docauth.Metadata, now time.Time) docauth.Verdict {
	resp, err := a.httpClient.Do(req)
	if err != nil {
		return docauth.VerdictFromError(Name, docauth.NewTransportError(Name, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return docauth.VerdictFromError(Name, docauth.NewStatusError(Name, resp.StatusCode))
	}

	var parsed verifyResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&parsed); err != nil {
		return docauth.VerdictFromError(Name, docauth.NewDecodeError(Name, err))
	}
	product, ok := parsed.trueIDProduct()
	if !ok {
		return docauth.VerdictFromError(Name, docauth.NewDecodeError(Name, errMissingProduct))
	}
	return evaluate(product, meta, a.minAge, now)
}

func newVerifyRequest(images docauth.Images, meta docauth.Metadata) verifyRequest {
	req := verifyRequest{
		Settings: settings{
			Type:         "Initiate",
			Reference:    meta.CaptureSessionID.String(),
			Liveness:     meta.SelfieRequired,
			DocumentType: "DriversLicense",
		},
	}
	if meta.IDType == docauth.IDTypePassport {
		req.Settings.DocumentType = "Passport"
		req.Document.Front = encode(images.Passport)
	} else {
		req.Document.Front = encode(images.Front)
		req.Document.Back = encode(images.Back)
	}
	if meta.SelfieRequired {
		req.Document.Selfie = encode(images.Selfie)
	}
	return req
}

func encode(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return base64.StdEncoding.EncodeToString(b)
}
