package mrf

// TIN represents a Tax Identification Number carried by a provider group.
type TIN struct {
	Type  string `json:"type"` // "ein" or "npi"
	Value string `json:"value"`
}

// ProviderGroup is a set of NPIs sharing one TIN within a provider reference
// or negotiated rate.
type ProviderGroup struct {
	NPI []int64 `json:"npi"`
	TIN TIN     `json:"tin"`
}

// ProviderReference is a top-level provider_references entry. Exactly one of
// ProviderGroups or Location is populated once local parsing (Phase A) has
// settled the reference; a non-empty Location means the groups live in a
// remote file and must be resolved in Phase B.
type ProviderReference struct {
	ProviderGroupID int64           `json:"provider_group_id"`
	ProviderGroups  []ProviderGroup `json:"provider_groups,omitempty"`
	Location        string          `json:"location,omitempty"`
}

// CodeValue is a tagged union over the dynamically-typed fields the wild
// carries inconsistently: service_code, billing_code_modifier and
// additional_information. A list encodes as a compact JSON array, a bare
// string (Scalar) is written as-is, and an absent field is an empty string.
type CodeValue struct {
	Absent bool
	Ints   []int64
	Strs   []string
	Scalar string // used when the field is a bare string, e.g. additional_information
}

// NegotiatedPrice is one price entry within a NegotiatedRate.
type NegotiatedPrice struct {
	BillingClass          string
	NegotiatedType        string
	ExpirationDate        string
	NegotiatedRate        float64
	ServiceCode           CodeValue
	AdditionalInformation CodeValue
	BillingCodeModifier   CodeValue
}

// NegotiatedRate is a rate entry within an in_network item. Before
// normalization the source may carry ProviderReferences in lieu of, or in
// addition to, inline ProviderGroups; after C6 normalizes it only
// ProviderGroups is populated.
type NegotiatedRate struct {
	ProviderGroups   []ProviderGroup
	NegotiatedPrices []NegotiatedPrice
}

// InNetworkItem is a single, normalized in_network array entry.
type InNetworkItem struct {
	NegotiationArrangement string
	Name                   string
	BillingCodeType        string
	BillingCodeTypeVersion string
	BillingCode            string
	Description            string
	NegotiatedRates        []NegotiatedRate
	BundledCodes           []BundledCode
}

// BundledCode is a deferred row kind (see SPEC_FULL.md §4); carried through
// unfiltered per §4.6 but only emitted when the caller opts in.
type BundledCode struct {
	BillingCodeType        string
	BillingCodeTypeVersion string
	BillingCode            string
	Description            string
}

// RootInfo holds the MRF's top-level scalar fields, extracted by C4.
type RootInfo struct {
	ReportingEntityName string
	ReportingEntityType string
	PlanName             string
	PlanID               string
	PlanIDType           string
	PlanMarketType       string
	LastUpdatedOn        string
	Version              string
	URL                  string
}

// CodeKey identifies a billing code for filtering: (billing_code_type, billing_code).
type CodeKey struct {
	Type string
	Code string
}

// Row is one flattened output record of a given Kind, ready for a Sink.
type Row struct {
	Kind   string
	Fields map[string]string
}

// Row kinds, matching §6's authoritative CSV files.
const (
	RowKindRoot             = "root"
	RowKindInNetwork        = "in_network"
	RowKindNegotiatedPrices = "negotiated_prices"
	RowKindProviderGroups   = "provider_groups"
	RowKindBundledCodes     = "bundled_codes"
)
