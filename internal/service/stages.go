package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"illustrationapi/internal/model"
	"illustrationapi/internal/parser"
)

const (
	identifyPages    = 5
	policyPages      = 4
	projectionPages  = 12
	maxExpensePages  = 6
	maxPageTextChars = 3000
)

// pageSelector returns the half-open page range [start, end) a stage reads
// out of n pages.
type pageSelector func(n int) (start, end int)

// stage describes one model call: which pages it sees, what it asks for and
// how the reply is folded into the result. apply reports false when the
// reply held no usable JSON and the default was used.
type stage struct {
	name   string
	pages  pageSelector
	prompt string
	apply  func(res *model.ExtractionResult, reply string) bool
}

func firstPages(limit int) pageSelector {
	return func(n int) (int, int) {
		return 0, min(limit, n)
	}
}

// expensePages reads from 30% into the document up to 70% plus five pages,
// never more than six pages.
func expensePages(n int) (int, int) {
	start := n * 3 / 10
	end := min(n, n*7/10+5)
	if end-start > maxExpensePages {
		end = start + maxExpensePages
	}
	return start, end
}

var identifyStage = stage{
	name:  "identify",
	pages: firstPages(identifyPages),
	prompt: `These are the first pages of a life insurance illustration.
Identify the insurance carrier (the issuing company) and the product name.
Respond with JSON only, no prose:
{"carrier": "company name", "product": "product name"}
Use "Unknown" for anything you cannot read.`,
	apply: func(res *model.ExtractionResult, reply string) bool {
		ds, ok := parser.Decode[model.DocumentStructure](reply)
		if !ok {
			ds = model.UnknownStructure()
		}
		if strings.TrimSpace(ds.Carrier) == "" {
			ds.Carrier = model.UnknownValue
		}
		if strings.TrimSpace(ds.Product) == "" {
			ds.Product = model.UnknownValue
		}
		res.Carrier, res.Product = ds.Carrier, ds.Product
		return ok
	},
}

var policyStage = stage{
	name:  "policy",
	pages: firstPages(policyPages),
	prompt: `Extract the policy summary from these illustration pages.
Respond with JSON only, no prose, using null for any value that is not shown:
{
  "insuredName": string, "insuredAge": number,
  "secondInsuredName": string, "secondInsuredAge": number,
  "gender": string, "riskClass": string,
  "faceAmount": number, "annualPremium": number, "firstYearPremium": number,
  "exchangeAmount": number, "state": string
}
exchangeAmount is the 1035 exchange amount if any. Numbers must not contain
currency symbols or thousands separators.`,
	apply: func(res *model.ExtractionResult, reply string) bool {
		info, ok := parser.Decode[model.PolicyInfo](reply)
		res.PolicyInfo = info
		return ok
	},
}

var projectionStage = stage{
	name:  "projections",
	pages: firstPages(projectionPages),
	prompt: `Extract the year-by-year illustrated values table (guaranteed or
current assumptions, whichever the ledger shows as the main projection).
Respond with JSON only, no prose:
{"projections": [{"year": 1, "age": 45, "premium": 0, "policyValue": 0,
"surrenderValue": 0, "deathBenefit": 0}]}
Include every policy year shown, in order.`,
	apply: func(res *model.ExtractionResult, reply string) bool {
		v, ok := parser.Decode[struct {
			Projections []json.RawMessage `json:"projections"`
		}](reply)
		res.Projections = decodeRows[model.ProjectionRow](v.Projections)
		return ok
	},
}

var expenseStage = stage{
	name:  "expenses",
	pages: expensePages,
	prompt: `Extract the year-by-year policy charges table if these pages contain
one. Respond with JSON only, no prose:
{"expenses": [{"year": 1, "premiumCharge": 0, "coi": 0, "adminCharge": 0,
"totalCharges": 0}]}
Respond with {"expenses": []} when there is no charges table.`,
	apply: func(res *model.ExtractionResult, reply string) bool {
		v, ok := parser.Decode[struct {
			Expenses []json.RawMessage `json:"expenses"`
		}](reply)
		res.Expenses = decodeRows[model.ExpenseRow](v.Expenses)
		return ok
	},
}

// decodeRows decodes table rows one by one. Entries that are not objects are
// dropped; the result is never nil.
func decodeRows[T any](raw []json.RawMessage) []T {
	rows := make([]T, 0, len(raw))
	for _, r := range raw {
		r = bytes.TrimSpace(r)
		if len(r) == 0 || r[0] != '{' {
			continue
		}
		var row T
		if err := json.Unmarshal(r, &row); err != nil {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

// detailStages run after identification and do not depend on each other.
var detailStages = []stage{policyStage, projectionStage, expenseStage}

// instruction builds the text sent with the pages of one stage.
func instruction(st stage, hint string, pageTexts []string, start, end int) string {
	var b strings.Builder
	b.WriteString(st.prompt)
	if hint != "" {
		b.WriteString("\n\n")
		b.WriteString(hint)
	}
	for i := start; i < end && i < len(pageTexts); i++ {
		text := strings.TrimSpace(pageTexts[i])
		if text == "" {
			continue
		}
		if r := []rune(text); len(r) > maxPageTextChars {
			text = string(r[:maxPageTextChars])
		}
		fmt.Fprintf(&b, "\n\nText layer of page %d:\n%s", i+1, text)
	}
	return b.String()
}

// templateHint tells the policy stage which fields earlier runs of the same
// product found.
func templateHint(st stage, tpl *model.Template) string {
	if tpl == nil || st.name != policyStage.name || len(tpl.SampleExtraction.PolicyFieldsFound) == 0 {
		return ""
	}
	return fmt.Sprintf("This %s %s layout has been seen before; it showed: %s.",
		tpl.Carrier, tpl.Product, strings.Join(tpl.SampleExtraction.PolicyFieldsFound, ", "))
}

func confidence(projectionRows int) float64 {
	switch {
	case projectionRows >= 10:
		return 0.9
	case projectionRows >= 5:
		return 0.7
	default:
		return 0.5
	}
}
