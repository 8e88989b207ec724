package trueid

import (
	"errors"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"idproof/internal/docauth"
)

var errMissingProduct = errors.New("trueid product missing from response")

type verifyRequest struct {
	Settings settings `json:"Settings"`
	Document document `json:"Document"`
}

type settings struct {
	Type         string `json:"Type"`
	Reference    string `json:"Reference"`
	Liveness     bool   `json:"Liveness"`
	DocumentType string `json:"DocumentType"`
}

type document struct {
	Front  string `json:"Front,omitempty"`
	Back   string `json:"Back,omitempty"`
	Selfie string `json:"Selfie,omitempty"`
}

type verifyResponse struct {
	Status struct {
		ConversationID    string `json:"ConversationId"`
		TransactionStatus string `json:"TransactionStatus"`
	} `json:"Status"`
	Products []struct {
		ProductType      string            `json:"ProductType"`
		ParameterDetails []parameterDetail `json:"ParameterDetails"`
	} `json:"Products"`
}

type parameterDetail struct {
	Group  string `json:"Group"`
	Name   string `json:"Name"`
	Values []struct {
		Value string `json:"Value"`
	} `json:"Values"`
}

// product is the TrueID parameter list flattened to group -> name -> values.
type product map[string]map[string][]string

func (r verifyResponse) trueIDProduct() (product, bool) {
	for _, p := range r.Products {
		if p.ProductType != "TrueID" {
			continue
		}
		out := make(product)
		for _, d := range p.ParameterDetails {
			if out[d.Group] == nil {
				out[d.Group] = make(map[string][]string)
			}
			values := make([]string, 0, len(d.Values))
			for _, v := range d.Values {
				values = append(values, v.Value)
			}
			out[d.Group][d.Name] = values
		}
		return out, true
	}
	return nil, false
}

func (p product) value(group, name string) string {
	if v := p[group][name]; len(v) > 0 {
		return v[0]
	}
	return ""
}

const (
	groupAuthentication = "AUTHENTICATION_RESULT"
	groupFields         = "IDAUTH_FIELD_DATA"
	groupPortrait       = "PORTRAIT_MATCH_RESULT"
	groupImageMetrics   = "IMAGE_METRICS_RESULT"

	resultPassed    = "Passed"
	resultAttention = "Attention"
	barcodeAlert    = "2D Barcode Read"

	// minHorizontalResolution is the DPI below which a failure is blamed on
	// image quality.
	minHorizontalResolution = 600
)

// alertReasons maps vendor alert names to the reason taxonomy. Alerts not
// listed fall back to unreadable.
var alertReasons = map[string]docauth.Reason{
	"Document Classification":         docauth.ReasonUnsupportedIDType,
	"Document Expired":                docauth.ReasonExpired,
	"Expiration Date Valid":           docauth.ReasonExpired,
	"Expiration Date Crosscheck":      docauth.ReasonExpired,
	"1D Control Number Valid":         docauth.ReasonUnreadable,
	"2D Barcode Content":              docauth.ReasonUnreadable,
	"2D Barcode Read":                 docauth.ReasonUnreadable,
	"Birth Date Crosscheck":           docauth.ReasonUnreadable,
	"Birth Date Valid":                docauth.ReasonUnreadable,
	"Control Number Crosscheck":       docauth.ReasonUnreadable,
	"Document Crosscheck Aggregation": docauth.ReasonUnreadable,
	"Document Number Crosscheck":      docauth.ReasonUnreadable,
	"Full Name Crosscheck":            docauth.ReasonUnreadable,
	"Issue Date Crosscheck":           docauth.ReasonUnreadable,
	"Issue Date Valid":                docauth.ReasonUnreadable,
	"Layout Valid":                    docauth.ReasonUnreadable,
	"Near-Infrared Response":          docauth.ReasonUnreadable,
	"Sex Crosscheck":                  docauth.ReasonUnreadable,
	"Visible Color Response":          docauth.ReasonUnreadable,
	"Visible Pattern":                 docauth.ReasonUnreadable,
	"Visible Photo Characteristics":   docauth.ReasonUnreadable,
}

var alertKey = regexp.MustCompile(`^Alert_(\d{1,2})_AlertName$`)

type alert struct {
	name   string
	result string
}

// failedAlerts returns the non-passing alerts in numeric order.
func (p product) failedAlerts() []alert {
	auth := p[groupAuthentication]
	type numbered struct {
		n int
		alert
	}
	var found []numbered
	for key, values := range auth {
		m := alertKey.FindStringSubmatch(key)
		if m == nil || len(values) == 0 {
			continue
		}
		n, _ := strconv.Atoi(m[1])
		result := p.value(groupAuthentication, "Alert_"+m[1]+"_AuthenticationResult")
		if result == resultPassed {
			continue
		}
		found = append(found, numbered{n: n, alert: alert{name: values[0], result: result}})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].n < found[j].n })
	out := make([]alert, len(found))
	for i, f := range found {
		out[i] = f.alert
	}
	return out
}

func (p product) lowResolution() bool {
	for _, v := range p[groupImageMetrics]["HorizontalResolution"] {
		dpi, err := strconv.Atoi(strings.TrimSpace(v))
		if err == nil && dpi > 0 && dpi < minHorizontalResolution {
			return true
		}
	}
	return false
}

// evaluate turns a decoded product into a verdict.
func evaluate(p product, meta docauth.Metadata, minAge int, now time.Time) docauth.Verdict {
	docResult := p.value(groupAuthentication, "DocAuthResult")
	failed := p.failedAlerts()

	codes := make([]string, 0, len(failed)+1)
	if docResult != "" {
		codes = append(codes, "DocAuthResult:"+docResult)
	}
	for _, a := range failed {
		codes = append(codes, a.name)
	}

	// A lone unreadable barcode under an Attention result still passes.
	attentionWithBarcode := docResult == resultAttention &&
		len(failed) == 1 && failed[0].name == barcodeAlert && failed[0].result == resultAttention

	if docResult != resultPassed && !attentionWithBarcode {
		return docauth.FailVerdict(reasonsFor(p, failed), codes...)
	}

	if !idTypeMatches(p, meta.IDType) {
		return docauth.FailVerdict([]docauth.Reason{docauth.ReasonUnsupportedIDType}, codes...)
	}

	if meta.SelfieRequired {
		face := p.value(groupPortrait, "FaceMatchResult")
		if face != "Pass" {
			codes = append(codes, "FaceMatchResult:"+face)
			return docauth.FailVerdict([]docauth.Reason{docauth.ReasonSelfieMismatch}, codes...)
		}
	}

	fields := p.fields()
	if underage(fields.DOB, minAge, now) {
		return docauth.FailVerdict([]docauth.Reason{docauth.ReasonUnderage}, codes...)
	}
	return docauth.PassVerdict(fields, codes...)
}

func reasonsFor(p product, failed []alert) []docauth.Reason {
	seen := make(map[docauth.Reason]struct{})
	var reasons []docauth.Reason
	add := func(r docauth.Reason) {
		if _, ok := seen[r]; ok {
			return
		}
		seen[r] = struct{}{}
		reasons = append(reasons, r)
	}
	if p.lowResolution() {
		add(docauth.ReasonLowResolution)
	}
	for _, a := range failed {
		if r, ok := alertReasons[a.name]; ok {
			add(r)
		} else {
			add(docauth.ReasonUnreadable)
		}
	}
	return reasons
}

func idTypeMatches(p product, want docauth.IDType) bool {
	class := strings.ToLower(p.value(groupAuthentication, "DocClassName"))
	if class == "" {
		return true
	}
	isPassport := strings.Contains(class, "passport")
	return isPassport == (want == docauth.IDTypePassport)
}

func (p product) fields() *docauth.Fields {
	f := func(name string) string { return p.value(groupFields, "Fields_"+name) }
	return &docauth.Fields{
		FirstName:      f("FirstName"),
		MiddleName:     f("MiddleName"),
		LastName:       f("Surname"),
		DOB:            joinDate(f("DOB_Year"), f("DOB_Month"), f("DOB_Day")),
		Address1:       f("AddressLine1"),
		Address2:       f("AddressLine2"),
		City:           f("City"),
		State:          f("State"),
		ZIPCode:        f("PostalCode"),
		DocumentNumber: f("DocumentNumber"),
		IssuingState:   f("IssuingStateCode"),
		ExpirationDate: joinDate(f("ExpirationDate_Year"), f("ExpirationDate_Month"), f("ExpirationDate_Day")),
	}
}

// joinDate builds YYYY-MM-DD, or empty when any part is missing or invalid.
func joinDate(year, month, day string) string {
	y, errY := strconv.Atoi(year)
	m, errM := strconv.Atoi(month)
	d, errD := strconv.Atoi(day)
	if errY != nil || errM != nil || errD != nil {
		return ""
	}
	t := time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != m || t.Day() != d {
		return ""
	}
	return t.Format(time.DateOnly)
}

func underage(dob string, minAge int, now time.Time) bool {
	if dob == "" || minAge <= 0 {
		return false
	}
	born, err := time.Parse(time.DateOnly, dob)
	if err != nil {
		return false
	}
	return born.AddDate(minAge, 0, 0).After(now)
}
