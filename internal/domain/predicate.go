package domain

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// PredicateKind selects the shape of a Predicate.
type PredicateKind string

const (
	PredicateEquals    PredicateKind = "equals"
	PredicateContains  PredicateKind = "contains"
	PredicateThreshold PredicateKind = "threshold"
	PredicateAnd       PredicateKind = "and"
)

// Predicate fields a filter can inspect.
const (
	FieldTags         = "tags"
	FieldPriority     = "priority"
	FieldSentiment    = "sentiment"
	FieldIntent       = "intent"
	FieldCustomerTier = "customerTier"
	FieldAssignee     = "assignee"
	FieldWaitTime     = "waitTime"
	FieldChannel      = "channel"
	FieldConfidence   = "confidence"
	FieldMessageCount = "messageCount"
)

var (
	textFields = map[string]bool{
		FieldTags: true, FieldPriority: true, FieldSentiment: true, FieldIntent: true,
		FieldCustomerTier: true, FieldAssignee: true, FieldChannel: true,
	}
	numericFields = map[string]bool{
		FieldWaitTime: true, FieldPriority: true, FieldConfidence: true, FieldMessageCount: true,
	}
)

// maxPredicateDepth bounds nested and-compositions.
const maxPredicateDepth = 8

// ErrInvalidPredicate is returned by Validate for malformed predicates.
var ErrInvalidPredicate = errors.New("invalid predicate")

// Predicate is a smart filter condition over a ThreadView. It is a tagged
// variant selected by Kind:
//
//   - equals: Field equals Value (case-insensitive; any element for lists).
//   - contains: Field contains Value as a substring (any element for lists).
//   - threshold: numeric Field compared with Number using Op. For the
//     priority field Value may name a label instead of a number.
//   - and: every predicate in All holds; the score is the lowest child score.
//
// waitTime is measured in hours.
type Predicate struct {
	Kind   PredicateKind `json:"kind"`
	Field  string        `json:"field,omitempty"`
	Value  string        `json:"value,omitempty"`
	Op     string        `json:"op,omitempty"`
	Number float64       `json:"number,omitempty"`
	All    []Predicate   `json:"all,omitempty"`
}

// Equals builds an equals predicate.
func Equals(field, value string) Predicate {
	return Predicate{Kind: PredicateEquals, Field: field, Value: value}
}

// Contains builds a contains predicate.
func Contains(field, value string) Predicate {
	return Predicate{Kind: PredicateContains, Field: field, Value: value}
}

// Threshold builds a numeric comparison predicate.
func Threshold(field, op string, n float64) Predicate {
	return Predicate{Kind: PredicateThreshold, Field: field, Op: op, Number: n}
}

// And builds a conjunction.
func And(ps ...Predicate) Predicate {
	return Predicate{Kind: PredicateAnd, All: ps}
}

// Validate checks that the predicate is well-formed.
func (p Predicate) Validate() error { return p.validate(0) }

func (p Predicate) validate(depth int) error {
	if depth > maxPredicateDepth {
		return fmt.Errorf("%w: nesting deeper than %d", ErrInvalidPredicate, maxPredicateDepth)
	}
	switch p.Kind {
	case PredicateEquals, PredicateContains:
		if !textFields[p.Field] {
			return fmt.Errorf("%w: %s does not apply to field %q", ErrInvalidPredicate, p.Kind, p.Field)
		}
		if strings.TrimSpace(p.Value) == "" {
			return fmt.Errorf("%w: %s on %q needs a value", ErrInvalidPredicate, p.Kind, p.Field)
		}
	case PredicateThreshold:
		if !numericFields[p.Field] {
			return fmt.Errorf("%w: threshold does not apply to field %q", ErrInvalidPredicate, p.Field)
		}
		if _, ok := compare(p.Op, 0, 0); !ok {
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidPredicate, p.Op)
		}
		if _, ok := p.bound(); !ok {
			return fmt.Errorf("%w: threshold on %q has no numeric bound", ErrInvalidPredicate, p.Field)
		}
	case PredicateAnd:
		if len(p.All) == 0 {
			return fmt.Errorf("%w: and needs at least one predicate", ErrInvalidPredicate)
		}
		for _, c := range p.All {
			if err := c.validate(depth + 1); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidPredicate, p.Kind)
	}
	return nil
}

// Score evaluates the predicate against v and returns a value in [0, 1].
func (p Predicate) Score(v ThreadView) float64 {
	switch p.Kind {
	case PredicateEquals:
		want := strings.ToLower(strings.TrimSpace(p.Value))
		for _, got := range textValues(v, p.Field) {
			if strings.ToLower(got) == want {
				return 1
			}
		}
	case PredicateContains:
		want := strings.ToLower(strings.TrimSpace(p.Value))
		for _, got := range textValues(v, p.Field) {
			if strings.Contains(strings.ToLower(got), want) {
				return 1
			}
		}
	case PredicateThreshold:
		bound, ok := p.bound()
		if !ok {
			return 0
		}
		if res, ok := compare(p.Op, numericValue(v, p.Field), bound); ok && res {
			return 1
		}
	case PredicateAnd:
		if len(p.All) == 0 {
			return 0
		}
		low := 1.0
		for _, c := range p.All {
			low = math.Min(low, c.Score(v))
		}
		return low
	}
	return 0
}

func (p Predicate) bound() (float64, bool) {
	if p.Field == FieldPriority && p.Value != "" {
		if pr, ok := ParsePriority(p.Value); ok {
			return float64(pr.Rank()), true
		}
		n, err := strconv.ParseFloat(p.Value, 64)
		return n, err == nil
	}
	if p.Value != "" {
		n, err := strconv.ParseFloat(p.Value, 64)
		return n, err == nil
	}
	return p.Number, true
}

func compare(op string, a, b float64) (bool, bool) {
	switch op {
	case ">":
		return a > b, true
	case ">=":
		return a >= b, true
	case "<":
		return a < b, true
	case "<=":
		return a <= b, true
	case "==", "=":
		return a == b, true
	case "!=":
		return a != b, true
	}
	return false, false
}

func textValues(v ThreadView, field string) []string {
	switch field {
	case FieldTags:
		return v.Tags
	case FieldChannel:
		out := make([]string, len(v.Channels))
		for i, c := range v.Channels {
			out[i] = string(c)
		}
		return out
	case FieldPriority:
		return []string{string(v.Priority)}
	case FieldSentiment:
		return []string{string(v.Sentiment)}
	case FieldIntent:
		return []string{v.Intent}
	case FieldCustomerTier:
		return []string{string(v.CustomerTier)}
	case FieldAssignee:
		return []string{v.Assignee}
	}
	return nil
}

func numericValue(v ThreadView, field string) float64 {
	switch field {
	case FieldWaitTime:
		return v.WaitHours()
	case FieldPriority:
		return float64(v.Priority.Rank())
	case FieldConfidence:
		return v.Confidence
	case FieldMessageCount:
		return float64(v.MessageCount)
	}
	return 0
}
