// Package model holds the illustration extraction types shared across layers.
// It has no persistence or transport dependencies.
package model

import "encoding/json"

// UnknownValue is used for carrier and product when identification yields nothing usable.
const UnknownValue = "Unknown"

// PageImage is one scanned page as base64-encoded raster data.
// The pipeline only reads it; it is never persisted.
type PageImage struct {
	Data      string `json:"data"`
	MediaType string `json:"media_type"`
}

// DocumentStructure identifies who issued the illustration and for which product.
type DocumentStructure struct {
	Carrier string `json:"carrier"`
	Product string `json:"product"`
}

// UnknownStructure is the identification result used when the model reply is unusable.
func UnknownStructure() DocumentStructure {
	return DocumentStructure{Carrier: UnknownValue, Product: UnknownValue}
}

// KnownCarrier reports whether the carrier was actually identified.
func (d DocumentStructure) KnownCarrier() bool {
	return d.Carrier != "" && d.Carrier != UnknownValue
}

// PolicyInfo holds the scalar policy terms. Every field is optional; a nil
// field means the value was not found on the pages.
type PolicyInfo struct {
	InsuredName       *string  `json:"insuredName"`
	InsuredAge        *Integer `json:"insuredAge"`
	SecondInsuredName *string  `json:"secondInsuredName"`
	SecondInsuredAge  *Integer `json:"secondInsuredAge"`
	Gender            *string  `json:"gender"`
	RiskClass         *string  `json:"riskClass"`
	FaceAmount        *Number  `json:"faceAmount"`
	AnnualPremium     *Number  `json:"annualPremium"`
	FirstYearPremium  *Number  `json:"firstYearPremium"`
	ExchangeAmount    *Number  `json:"exchangeAmount"`
	State             *string  `json:"state"`
}

// UnmarshalJSON decodes each field on its own. A value of the wrong shape
// leaves only that field unset.
func (p *PolicyInfo) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*p = PolicyInfo{
		InsuredName:       optional[string](raw["insuredName"]),
		InsuredAge:        optional[Integer](raw["insuredAge"]),
		SecondInsuredName: optional[string](raw["secondInsuredName"]),
		SecondInsuredAge:  optional[Integer](raw["secondInsuredAge"]),
		Gender:            optional[string](raw["gender"]),
		RiskClass:         optional[string](raw["riskClass"]),
		FaceAmount:        optional[Number](raw["faceAmount"]),
		AnnualPremium:     optional[Number](raw["annualPremium"]),
		FirstYearPremium:  optional[Number](raw["firstYearPremium"]),
		ExchangeAmount:    optional[Number](raw["exchangeAmount"]),
		State:             optional[string](raw["state"]),
	}
	return nil
}

// optional decodes raw into a new *T; absent, null and mistyped values give nil.
func optional[T any](raw json.RawMessage) *T {
	if len(raw) == 0 {
		return nil
	}
	var v *T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

// FoundFields lists the JSON names of the fields that carry a value.
func (p PolicyInfo) FoundFields() []string {
	fields := []struct {
		name string
		set  bool
	}{
		{"insuredName", p.InsuredName != nil},
		{"insuredAge", p.InsuredAge != nil},
		{"secondInsuredName", p.SecondInsuredName != nil},
		{"secondInsuredAge", p.SecondInsuredAge != nil},
		{"gender", p.Gender != nil},
		{"riskClass", p.RiskClass != nil},
		{"faceAmount", p.FaceAmount != nil},
		{"annualPremium", p.AnnualPremium != nil},
		{"firstYearPremium", p.FirstYearPremium != nil},
		{"exchangeAmount", p.ExchangeAmount != nil},
		{"state", p.State != nil},
	}
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f.set {
			out = append(out, f.name)
		}
	}
	return out
}

// ProjectionRow is one policy year of illustrated values.
// Rows are passed through as the model returned them: ordering and
// policyValue >= surrenderValue are not checked.
type ProjectionRow struct {
	Year           Integer `json:"year"`
	Age            Integer `json:"age"`
	Premium        Number  `json:"premium"`
	PolicyValue    Number  `json:"policyValue"`
	SurrenderValue Number  `json:"surrenderValue"`
	DeathBenefit   Number  `json:"deathBenefit"`
}

// ExpenseRow is one policy year of charges.
type ExpenseRow struct {
	Year          Integer `json:"year"`
	PremiumCharge Number  `json:"premiumCharge"`
	COI           Number  `json:"coi"`
	AdminCharge   Number  `json:"adminCharge"`
	TotalCharges  Number  `json:"totalCharges"`
}

// ExtractionResult is the response of one pipeline run.
type ExtractionResult struct {
	Carrier      string          `json:"carrier"`
	Product      string          `json:"product"`
	PolicyInfo   PolicyInfo      `json:"policyInfo"`
	Projections  []ProjectionRow `json:"projections"`
	Expenses     []ExpenseRow    `json:"expenses"`
	TemplateUsed bool            `json:"templateUsed"`
	Confidence   float64         `json:"confidence"`
}
