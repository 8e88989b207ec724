// Package docv is the asynchronous document-verification vendor. Submit
// opens a capture-app session on the vendor side and returns its transaction
// token; the decision arrives later through webhooks or Resolve.
package docv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"idproof/internal/docauth"
	"idproof/pkg/requestcontext"
)

// Name is the vendor identifier used in configuration.
const Name = "docv"

const (
	documentRequestPath = "/api/5.0/documents/request"
	resultPath          = "/api/3.0/EmailAuthScore"
	maxResponseBytes    = 4 << 20
)

type Adapter struct {
	baseURL     string
	apiKey      string
	useCaseKey  string
	httpClient  *http.Client
	rules       docauth.ImageRules
	selfieFails map[string]struct{}
}

type Option func(*Adapter)

func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) {
		a.httpClient = c
	}
}

// WithUseCaseKey selects the vendor-side capture configuration.
func WithUseCaseKey(key string) Option {
	return func(a *Adapter) {
		a.useCaseKey = key
	}
}

// WithSelfieFailCodes replaces the reason codes treated as a selfie mismatch.
func WithSelfieFailCodes(codes ...string) Option {
	return func(a *Adapter) {
		a.selfieFails = toSet(codes)
	}
}

func New(baseURL, apiKey string, timeout time.Duration, opts ...Option) *Adapter {
	a := &Adapter{
		baseURL:     strings.TrimRight(baseURL, "/"),
		apiKey:      apiKey,
		httpClient:  &http.Client{Timeout: timeout},
		rules:       docauth.DefaultImageRules(),
		selfieFails: toSet(defaultSelfieFailCodes),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Name() string       { return Name }
func (a *Adapter) Mode() docauth.Mode { return docauth.ModeAsync }

// PreCheck validates the id type. Images are captured in the vendor's app,
// so any uploaded here are checked only when present.
func (a *Adapter) PreCheck(images docauth.Images, meta docauth.Metadata) error {
	if len(images.Front) == 0 && len(images.Back) == 0 && len(images.Passport) == 0 && len(images.Selfie) == 0 {
		return a.rules.Check(placeholderImages(meta), meta)
	}
	return a.rules.Check(images, meta)
}

func (a *Adapter) Submit(ctx context.Context, _ docauth.Images, meta docauth.Metadata) (docauth.Submission, error) {
	payload := documentRequest{
		CustomerUserID: meta.UserID.String(),
		ReferenceID:    meta.CaptureSessionID.String(),
	}
	payload.Config.UseCaseKey = a.useCaseKey
	payload.Config.DocumentType = documentType(meta.IDType)
	payload.Config.Selfie = meta.SelfieRequired
	payload.Config.Language = meta.Locale
	if meta.CallbackURL != "" {
		payload.Config.Redirect = &redirect{Method: http.MethodGet, URL: meta.CallbackURL}
	}

	var out documentResponse
	if err := a.post(ctx, documentRequestPath, payload, &out); err != nil {
		v := docauth.VerdictFromError(Name, err)
		return docauth.Submission{Verdict: &v}, nil
	}
	if out.Data.Token == "" {
		v := docauth.VerdictFromError(Name, docauth.NewDecodeError(Name, errMissingToken))
		return docauth.Submission{Verdict: &v}, nil
	}
	return docauth.Submission{Pending: &docauth.PendingToken{
		Token:         out.Data.Token,
		CaptureAppURL: out.Data.URL,
	}}, nil
}

// Resolve fetches the current decision for token. A result the vendor has
// not produced yet comes back as a pending verdict.
func (a *Adapter) Resolve(ctx context.Context, token string) (docauth.Verdict, error) {
	payload := resultRequest{Modules: []string{"documentverification"}, Token: token}
	var out resultResponse
	if err := a.post(ctx, resultPath, payload, &out); err != nil {
		var te *docauth.TransportError
		if errors.As(err, &te) && te.StatusCode == http.StatusNotFound {
			return docauth.Verdict{Result: docauth.ResultPending}, nil
		}
		return docauth.Verdict{}, err
	}
	if out.DocumentVerification == nil {
		return docauth.Verdict{Result: docauth.ResultPending}, nil
	}
	return a.evaluate(*out.DocumentVerification), nil
}

func (a *Adapter) post(ctx context.Context, path string, payload, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode docv request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build docv request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "SocureApiKey "+a.apiKey)
	if rid := requestcontext.RequestID(ctx); rid != "" {
		req.Header.Set("X-Request-ID", rid)
	}

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return docauth.NewTransportError(Name, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return docauth.NewStatusError(Name, resp.StatusCode)
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(out); err != nil {
		return docauth.NewDecodeError(Name, err)
	}
	return nil
}

func documentType(t docauth.IDType) string {
	if t == docauth.IDTypePassport {
		return "passport"
	}
	return "license"
}

// placeholderImages satisfies the image rules when only the id type and
// selfie choice can be validated up front.
func placeholderImages(meta docauth.Metadata) docauth.Images {
	valid := make([]byte, docauth.MinImageBytes)
	copy(valid, []byte{0xFF, 0xD8, 0xFF})
	img := docauth.Images{Selfie: valid}
	if meta.IDType == docauth.IDTypePassport {
		img.Passport = valid
	} else {
		img.Front, img.Back = valid, valid
	}
	return img
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[strings.ToUpper(strings.TrimSpace(v))] = struct{}{}
	}
	return out
}
