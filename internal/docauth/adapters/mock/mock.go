// Package mock provides in-process vendors for development and tests. The
// synchronous Adapter decides immediately; AsyncAdapter hands out tokens and
// waits for Complete to be called.
package mock

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"idproof/internal/docauth"
)

// Vendor identifiers used in configuration.
const (
	Name      = "mock"
	AsyncName = Name + "_async"
)

// Script decides the verdict for a submission.
type Script func(images docauth.Images, meta docauth.Metadata) docauth.Verdict

// Passing always returns a pass with fixed sample fields.
func Passing(_ docauth.Images, meta docauth.Metadata) docauth.Verdict {
	return docauth.PassVerdict(SampleFields(meta.IDType), "mock:pass")
}

// SampleFields are the personal details the mock vendor "reads".
func SampleFields(t docauth.IDType) *docauth.Fields {
	f := &docauth.Fields{
		FirstName:      "FAKEY",
		LastName:       "MCFAKERSON",
		DOB:            "1938-10-06",
		DocumentNumber: "1111111111111",
		ExpirationDate: "2099-12-31",
	}
	if t == docauth.IDTypeStateID {
		f.Address1 = "1 FAKE RD"
		f.City = "GREAT FALLS"
		f.State = "MT"
		f.ZIPCode = "59010"
		f.IssuingState = "ND"
	}
	return f
}

type Adapter struct {
	name   string
	rules  docauth.ImageRules
	script Script

	mu    sync.Mutex
	calls int
}

type Option func(*Adapter)

// WithName registers the adapter under another vendor name, so tests can
// stand in for a real vendor.
func WithName(name string) Option {
	return func(a *Adapter) {
		a.name = name
	}
}

func WithScript(s Script) Option {
	return func(a *Adapter) {
		a.script = s
	}
}

func WithImageRules(rules docauth.ImageRules) Option {
	return func(a *Adapter) {
		a.rules = rules
	}
}

func New(opts ...Option) *Adapter {
	a := &Adapter{name: Name, rules: docauth.DefaultImageRules(), script: Passing}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func (a *Adapter) Name() string       { return a.name }
func (a *Adapter) Mode() docauth.Mode { return docauth.ModeSync }

func (a *Adapter) PreCheck(images docauth.Images, meta docauth.Metadata) error {
	return a.rules.Check(images, meta)
}

func (a *Adapter) Submit(ctx context.Context, images docauth.Images, meta docauth.Metadata) (docauth.Submission, error) {
	if err := ctx.Err(); err != nil {
		v := docauth.VerdictFromError(a.name, docauth.NewTransportError(a.name, err))
		return docauth.Submission{Verdict: &v}, nil
	}
	a.mu.Lock()
	a.calls++
	a.mu.Unlock()
	v := a.script(images, meta)
	return docauth.Submission{Verdict: &v}, nil
}

// Calls reports how many submissions reached the vendor.
func (a *Adapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

// AsyncAdapter issues pending tokens and resolves them once Complete is
// called. Unknown tokens resolve as a transport error.
type AsyncAdapter struct {
	name    string
	baseURL string
	rules   docauth.ImageRules

	mu       sync.Mutex
	verdicts map[string]*docauth.Verdict
	calls    int
}

func NewAsync(name, captureBaseURL string) *AsyncAdapter {
	if name == "" {
		name = AsyncName
	}
	return &AsyncAdapter{
		name:     name,
		baseURL:  captureBaseURL,
		rules:    docauth.DefaultImageRules(),
		verdicts: make(map[string]*docauth.Verdict),
	}
}

func (a *AsyncAdapter) Name() string       { return a.name }
func (a *AsyncAdapter) Mode() docauth.Mode { return docauth.ModeAsync }

// PreCheck only validates the id type; capture happens out of band.
func (a *AsyncAdapter) PreCheck(_ docauth.Images, meta docauth.Metadata) error {
	if !meta.IDType.IsValid() {
		return a.rules.Check(docauth.Images{}, meta)
	}
	return nil
}

func (a *AsyncAdapter) Submit(_ context.Context, _ docauth.Images, _ docauth.Metadata) (docauth.Submission, error) {
	token := uuid.NewString()
	a.mu.Lock()
	a.verdicts[token] = nil
	a.calls++
	a.mu.Unlock()
	return docauth.Submission{Pending: &docauth.PendingToken{
		Token:         token,
		CaptureAppURL: fmt.Sprintf("%s/capture/%s", a.baseURL, token),
	}}, nil
}

// Complete records the verdict Resolve will return for token.
func (a *AsyncAdapter) Complete(token string, v docauth.Verdict) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.verdicts[token] = &v
}

func (a *AsyncAdapter) Resolve(_ context.Context, token string) (docauth.Verdict, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	v, ok := a.verdicts[token]
	if !ok {
		return docauth.Verdict{}, docauth.NewStatusError(a.name, 404)
	}
	if v == nil {
		return docauth.Verdict{Result: docauth.ResultPending}, nil
	}
	return *v, nil
}

// WebhookPayload is the mock vendor's callback body. Kind uses the
// normalized event names directly.
type WebhookPayload struct {
	Token      string    `json:"token"`
	Kind       string    `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
	URL        string    `json:"url,omitempty"`
	Result     string    `json:"result,omitempty"`
	Reasons    []string  `json:"reasons,omitempty"`
}

func (a *AsyncAdapter) ParseWebhook(raw []byte) ([]docauth.WebhookEvent, error) {
	var p WebhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode mock webhook: %w", err)
	}
	if p.Token == "" {
		return nil, fmt.Errorf("mock webhook missing token")
	}
	e := docauth.WebhookEvent{
		Token:         p.Token,
		Kind:          docauth.EventKind(p.Kind),
		VendorType:    p.Kind,
		OccurredAt:    p.OccurredAt,
		CaptureAppURL: p.URL,
	}
	if p.Result != "" {
		v := docauth.Verdict{Result: docauth.Result(p.Result), Reasons: docauth.ParseReasons(p.Reasons)}
		if v.Result == docauth.ResultPass {
			v.Fields = SampleFields(docauth.IDTypeStateID)
		}
		e.Verdict = &v
	}
	return []docauth.WebhookEvent{e}, nil
}

func (a *AsyncAdapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}
