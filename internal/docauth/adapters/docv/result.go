package docv

import (
	"errors"
	"strings"

	"idproof/internal/docauth"
	pstrings "idproof/pkg/platform/strings"
)

var errMissingToken = errors.New("docv response missing transaction token")

type documentRequest struct {
	Config struct {
		UseCaseKey   string    `json:"useCaseKey,omitempty"`
		DocumentType string    `json:"documentType"`
		Selfie       bool      `json:"selfie"`
		Language     string    `json:"language,omitempty"`
		Redirect     *redirect `json:"redirect,omitempty"`
	} `json:"config"`
	CustomerUserID string `json:"customerUserId"`
	ReferenceID    string `json:"referenceId"`
}

type redirect struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

type documentResponse struct {
	ReferenceID string `json:"referenceId"`
	Data        struct {
		EventID string `json:"eventId"`
		Token   string `json:"docvTransactionToken"`
		URL     string `json:"url"`
		QRCode  string `json:"qrCode"`
	} `json:"data"`
}

type resultRequest struct {
	Modules []string `json:"modules"`
	Token   string   `json:"docvTransactionToken"`
}

type resultResponse struct {
	ReferenceID          string                `json:"referenceId"`
	DocumentVerification *documentVerification `json:"documentVerification"`
}

type documentVerification struct {
	ReasonCodes  []string `json:"reasonCodes"`
	DocumentType struct {
		Type    string `json:"type"`
		Country string `json:"country"`
		State   string `json:"state"`
	} `json:"documentType"`
	Decision struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"decision"`
	DocumentData struct {
		FirstName      string `json:"firstName"`
		MiddleName     string `json:"middleName"`
		SurName        string `json:"surName"`
		DOB            string `json:"dob"`
		DocumentNumber string `json:"documentNumber"`
		ExpirationDate string `json:"expirationDate"`
		ParsedAddress  struct {
			PhysicalAddress  string `json:"physicalAddress"`
			PhysicalAddress2 string `json:"physicalAddress2"`
			City             string `json:"city"`
			State            string `json:"state"`
			Zip              string `json:"zip"`
		} `json:"parsedAddress"`
	} `json:"documentData"`
}

const decisionAccept = "accept"

// defaultSelfieFailCodes are the vendor reason codes reported when the
// selfie does not match the document portrait.
var defaultSelfieFailCodes = []string{"R834", "R835", "R838"}

// reasonCodes maps vendor reason codes onto the taxonomy. Unlisted codes on
// a rejected decision fall back to unreadable.
var reasonCodes = map[string]docauth.Reason{
	"R810": docauth.ReasonUnreadable,
	"R820": docauth.ReasonUnreadable,
	"R822": docauth.ReasonNotFound,
	"R823": docauth.ReasonNotFound,
	"R824": docauth.ReasonUnreadable,
	"R827": docauth.ReasonExpired,
	"R831": docauth.ReasonLowResolution,
	"R833": docauth.ReasonUnderage,
	"R836": docauth.ReasonUnsupportedIDType,
	"R845": docauth.ReasonUnderage,
	"R859": docauth.ReasonUnsupportedIDType,
}

// supportedDocumentTypes are vendor document type names we accept.
var supportedDocumentTypes = map[string]docauth.IDType{
	"drivers license":     docauth.IDTypeStateID,
	"identification card": docauth.IDTypeStateID,
	"state id":            docauth.IDTypeStateID,
	"passport":            docauth.IDTypePassport,
}

func (a *Adapter) evaluate(dv documentVerification) docauth.Verdict {
	codes := pstrings.VendorCodes(dv.ReasonCodes)
	if dv.Decision.Value != "" {
		codes = append(codes, "decision:"+dv.Decision.Value)
	}

	if dv.Decision.Value != decisionAccept {
		return docauth.FailVerdict(mapReasons(codes), codes...)
	}
	if t := strings.ToLower(strings.TrimSpace(dv.DocumentType.Type)); t != "" {
		if _, ok := supportedDocumentTypes[t]; !ok {
			return docauth.FailVerdict([]docauth.Reason{docauth.ReasonUnsupportedIDType}, codes...)
		}
	}
	for _, c := range codes {
		if _, ok := a.selfieFails[strings.ToUpper(c)]; ok {
			return docauth.FailVerdict([]docauth.Reason{docauth.ReasonSelfieMismatch}, codes...)
		}
	}

	d := dv.DocumentData
	return docauth.PassVerdict(&docauth.Fields{
		FirstName:      d.FirstName,
		MiddleName:     d.MiddleName,
		LastName:       d.SurName,
		DOB:            d.DOB,
		Address1:       d.ParsedAddress.PhysicalAddress,
		Address2:       d.ParsedAddress.PhysicalAddress2,
		City:           d.ParsedAddress.City,
		State:          d.ParsedAddress.State,
		ZIPCode:        d.ParsedAddress.Zip,
		DocumentNumber: d.DocumentNumber,
		IssuingState:   dv.DocumentType.State,
		ExpirationDate: d.ExpirationDate,
	}, codes...)
}

func mapReasons(codes []string) []docauth.Reason {
	seen := make(map[docauth.Reason]struct{})
	var out []docauth.Reason
	for _, c := range codes {
		r, ok := reasonCodes[strings.ToUpper(c)]
		if !ok {
			continue
		}
		if _, dup := seen[r]; dup {
			continue
		}
		seen[r] = struct{}{}
		out = append(out, r)
	}
	return out
}
