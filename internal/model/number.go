package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
)

// Number is a float that also decodes the way figures are printed on
// illustrations: "$1,250,000", "(3,100)", "4.5%". Placeholders such as "N/A"
// or "-" decode as zero.
//
// Decoding never fails. A cell such as "45/43" keeps its leading figure and
// one with no figure at all ("Lapse", "***", true) decodes as zero, so a bad
// cell cannot discard the rest of its row or table.
type Number float64

// Integer is the whole-number counterpart of Number, used for years and ages.
type Integer int

var placeholders = map[string]struct{}{
	"": {}, "-": {}, "--": {}, "—": {}, "–": {}, "n/a": {}, "na": {}, "none": {}, "null": {},
}

var leadingNumber = regexp.MustCompile(`\d[\d,]*(?:\.\d+)?`)

func (n *Number) UnmarshalJSON(b []byte) error {
	*n = Number(decodeFigure(b))
	return nil
}

func (i *Integer) UnmarshalJSON(b []byte) error {
	*i = Integer(math.Round(decodeFigure(b)))
	return nil
}

// Float returns the value as a float64, treating nil as zero.
func (n *Number) Float() float64 {
	if n == nil {
		return 0
	}
	return float64(*n)
}

func decodeFigure(b []byte) float64 {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return 0
	}
	if b[0] != '"' {
		var f float64
		if err := json.Unmarshal(b, &f); err != nil {
			return 0
		}
		return f
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return 0
	}
	if f, err := ParseFigure(s); err == nil {
		return f
	}
	if m := leadingNumber.FindString(s); m != "" {
		f, _ := ParseFigure(m)
		return f
	}
	return 0
}

// ParseFigure parses a printed amount. It strips currency symbols, thousands
// separators and percent signs; parentheses mark a negative value.
func ParseFigure(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if _, ok := placeholders[strings.ToLower(s)]; ok {
		return 0, nil
	}
	neg := false
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		neg = true
		s = s[1 : len(s)-1]
	}
	cleaned := strings.Map(func(r rune) rune {
		switch r {
		case '$', ',', '%', ' ':
			return -1
		}
		return r
	}, s)
	f, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return 0, fmt.Errorf("parse figure %q: %w", s, err)
	}
	if neg {
		f = -f
	}
	return f, nil
}
