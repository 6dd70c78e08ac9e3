// Package ident turns free text into identifiers and converts joint id lists
// to and from their comma-separated editing form.
package ident

import (
	"math"
	"sort"
	"strconv"
	"strings"
)

// Placeholder is returned by Slugify when nothing usable remains.
const Placeholder = "item"

// Joint ids follow the BODY_25 skeleton.
const (
	MinJointID = 0
	MaxJointID = 24
)

// Slugify lowercases text and replaces every character outside [a-z0-9_.-]
// with an underscore.
func Slugify(text string) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '.', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	if b.Len() == 0 {
		return Placeholder
	}
	return b.String()
}

// NextUniqueID slugifies base and, when the result is already used, appends
// _2, _3, ... until it is not.
func NextUniqueID(base string, used map[string]bool) string {
	id := Slugify(base)
	if !used[id] {
		return id
	}
	for n := 2; ; n++ {
		candidate := id + "_" + strconv.Itoa(n)
		if !used[candidate] {
			return candidate
		}
	}
}

// ParseJointIDsCSV parses a comma-separated joint list. Tokens that are not
// integers in [MinJointID, MaxJointID] are dropped. The result is sorted and
// unique.
func ParseJointIDsCSV(text string) []int {
	seen := make(map[int]bool)
	var out []int
	for _, tok := range strings.Split(text, ",") {
		tok = strings.TrimSpace(tok)
		if tok == "" {
			continue
		}
		f, err := strconv.ParseFloat(tok, 64)
		if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
			continue
		}
		if f < MinJointID || f > MaxJointID {
			continue
		}
		id := int(f)
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	sort.Ints(out)
	return out
}

// FormatJointIDsCSV dedupes and sorts ids and joins them with ", ".
func FormatJointIDsCSV(ids []int) string {
	uniq := make([]int, 0, len(ids))
	seen := make(map[int]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			uniq = append(uniq, id)
		}
	}
	sort.Ints(uniq)
	parts := make([]string, len(uniq))
	for i, id := range uniq {
		parts[i] = strconv.Itoa(id)
	}
	return strings.Join(parts, ", ")
}
