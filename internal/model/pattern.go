package model

import (
	"regexp"

	"github.com/ryanuber/go-glob"
)

// Matcher is a tagged union over the three ways a business-rule plug-in
// can describe what it wants to match against one memo field: an exact
// literal, a compiled regular expression, or a shell-style glob.
//
// Equality and hashing (via the Source method) compare the underlying
// pattern string, never the compiled regexp object -- two Matchers built
// from the same source string are interchangeable even if their *regexp.Regexp
// pointers differ.
type Matcher struct {
	kind   matcherKind
	source string
	re     *regexp.Regexp
}

type matcherKind int

const (
	kindLiteral matcherKind = iota
	kindRegex
	kindGlob
)

// Literal builds a Matcher that requires an exact string match.
func Literal(s string) Matcher {
	return Matcher{kind: kindLiteral, source: s}
}

// Regex builds a Matcher from a compiled regular expression.
func Regex(re *regexp.Regexp) Matcher {
	return Matcher{kind: kindRegex, source: re.String(), re: re}
}

// Glob builds a Matcher from a shell-style glob pattern (supports `*`).
func Glob(pattern string) Matcher {
	return Matcher{kind: kindGlob, source: pattern}
}

// Match reports whether value satisfies this matcher.
func (m Matcher) Match(value string) bool {
	switch m.kind {
	case kindLiteral:
		return m.source == value
	case kindRegex:
		return m.re.MatchString(value)
	case kindGlob:
		return glob.Glob(m.source, value)
	default:
		return false
	}
}

// Source returns the pattern string used for equality and hashing.
func (m Matcher) Source() string {
	return m.source
}

// MemoPattern is a conjunction of matchers over the three memo fields.
// A nil Matcher field means "don't care" and always matches.
type MemoPattern struct {
	Name       string
	MemoType   *Matcher
	MemoFormat *Matcher
	MemoData   *Matcher
}

// Matches reports whether tx satisfies every non-nil matcher in p.
func (p MemoPattern) Matches(tx MemoTx) bool {
	if p.MemoType != nil && !p.MemoType.Match(tx.MemoType) {
		return false
	}
	if p.MemoFormat != nil && !p.MemoFormat.Match(tx.MemoFormat) {
		return false
	}
	if p.MemoData != nil && !p.MemoData.Match(tx.MemoData) {
		return false
	}
	return true
}

// InteractionType classifies how a matched pattern participates in a
// conversation: a request expects exactly one response, a response
// closes one out, a standalone needs neither.
type InteractionType int

const (
	Standalone InteractionType = iota
	Request
	Response
)

// ResponseQuery is a repository lookup a RequestRule uses to decide
// whether its response has already been produced and persisted.
type ResponseQuery struct {
	SQL    string
	Params []any
}

// ValidationResult carries the outcome of a rule's Validate call plus an
// optional explanatory note for the reviewing result.
type ValidationResult struct {
	Valid bool
	Note  string
}

// InteractionRule is the capability set every business-rule plug-in
// implements. Dispatch happens on Type(), never on the concrete Go type,
// since rules are supplied externally (spec.md Non-goals: "rule
// definitions themselves").
type InteractionRule interface {
	Name() string
	Type() InteractionType
	Validate(tx MemoTx) ValidationResult
}

// RequestRule is the capability set of an InteractionRule whose Type is
// Request: it can build a lookup query to check for an existing
// response, and (via the response processor) evaluate and construct one.
type RequestRule interface {
	InteractionRule
	BuildResponseQuery(tx MemoTx) ResponseQuery
	EvaluateRequest(tx MemoTx) (any, error)
	ConstructResponse(tx MemoTx, evaluation any) (ConstructionParameters, error)
	ResponsePatternName() string
}

// ReviewingResult is the reviewer's verdict on one transaction.
type ReviewingResult struct {
	Tx             MemoTx
	Processed      bool
	RuleName       string
	ResponseTxHash string
	Notes          string
	NeedsRereview  bool
}
