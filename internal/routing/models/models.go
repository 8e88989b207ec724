package models

import (
	"math"

	"idproof/internal/docauth"
	"idproof/internal/platform/config"
	id "idproof/pkg/domain"
)

// BucketCount is the number of rollout buckets; one bucket is a basis point.
const BucketCount = 10000

// Rollout sends BasisPoints of BucketCount to Vendor, provided every named
// prerequisite is healthy.
type Rollout struct {
	Vendor        string
	BasisPoints   int
	Prerequisites []string
}

// Prerequisite is an external dependency probed before routing.
type Prerequisite struct {
	Name string
	URL  string
	// IDType, when set, means the prerequisite gates that id type rather
	// than a vendor.
	IDType docauth.IDType
}

// Table is the routing configuration snapshot.
type Table struct {
	Override      string
	Fallback      string
	Rollouts      []Rollout
	Prerequisites map[string]Prerequisite
}

// TableFromConfig converts the operator table. Percentages become basis
// points so rounding is decided once here.
func TableFromConfig(cfg config.VendorsConfig) Table {
	raw := cfg.Table()
	t := Table{
		Override:      cfg.Override,
		Fallback:      cfg.Fallback,
		Prerequisites: make(map[string]Prerequisite, len(raw.Prerequisites)),
	}
	for _, p := range raw.Prerequisites {
		t.Prerequisites[p.Name] = Prerequisite{Name: p.Name, URL: p.URL, IDType: docauth.IDType(p.IDType)}
	}
	for _, v := range raw.Vendors {
		t.Rollouts = append(t.Rollouts, Rollout{
			Vendor:        v.Name,
			BasisPoints:   int(math.Round(v.Percent * 100)),
			Prerequisites: v.Prerequisites,
		})
	}
	return t
}

// IDTypePrerequisites returns the prerequisites gating each id type.
func (t Table) IDTypePrerequisites() map[docauth.IDType][]Prerequisite {
	out := make(map[docauth.IDType][]Prerequisite)
	for _, p := range t.Prerequisites {
		if p.IDType != "" {
			out[p.IDType] = append(out[p.IDType], p)
		}
	}
	return out
}

// Request is what the router needs to choose a vendor.
type Request struct {
	UserID   id.UserID
	FlowType id.FlowType
	// IDTypes are the document types the flow would offer. Empty means all.
	IDTypes []docauth.IDType
}

// Source records which rule picked the vendor.
type Source string

const (
	SourceOverride Source = "override"
	SourceRollout  Source = "rollout"
	SourceFallback Source = "fallback"
)

// DemotionKind distinguishes what a failed prerequisite removed.
type DemotionKind string

const (
	DemotionVendor DemotionKind = "vendor"
	DemotionIDType DemotionKind = "id_type"
)

// Demotion is a routing fallback caused by an unhealthy prerequisite. The
// flow surfaces these so users learn why an option disappeared.
type Demotion struct {
	Kind         DemotionKind `json:"kind"`
	From         string       `json:"from"`
	To           string       `json:"to,omitempty"`
	Prerequisite string       `json:"prerequisite"`
}

// Decision is the routing outcome, fixed for one flow instance.
type Decision struct {
	Vendor    string           `json:"vendor"`
	Source    Source           `json:"source"`
	Bucket    int              `json:"bucket"`
	IDTypes   []docauth.IDType `json:"id_types"`
	Demotions []Demotion       `json:"demotions,omitempty"`
}

// Demoted reports whether any prerequisite failure changed the decision.
func (d Decision) Demoted() bool {
	return len(d.Demotions) > 0
}

// Offers reports whether t survived routing.
func (d Decision) Offers(t docauth.IDType) bool {
	for _, have := range d.IDTypes {
		if have == t {
			return true
		}
	}
	return false
}
