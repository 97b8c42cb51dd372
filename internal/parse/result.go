// Package parse extracts structured data from free-form generation output.
//
// Parsing never returns an error: every input yields either an Ok result
// carrying the matched JSON or a Failure carrying the (truncated) raw text
// and a reason.
package parse

import (
	"encoding/json"
	"errors"
	"fmt"
	"unicode/utf8"
)

// MaxRaw bounds the raw text kept on a Failure, in characters.
const MaxRaw = 2000

// ErrUnusable is returned by Decode for a Failure result.
var ErrUnusable = errors.New("parse: output unusable")

// Result is either Ok (matched JSON) or Failure (raw text plus reason).
type Result struct {
	ok       bool
	data     json.RawMessage
	strategy string
	raw      string
	reason   string
}

// Ok builds a successful result from a matched JSON document.
func Ok(data json.RawMessage, strategy string) Result {
	return Result{ok: true, data: data, strategy: strategy}
}

// Failure builds an unusable result. raw is truncated to MaxRaw characters.
func Failure(raw, reason string) Result {
	return Result{raw: Truncate(raw, MaxRaw), reason: reason}
}

func (r Result) OK() bool { return r.ok }

// Data is the matched JSON document; nil on Failure.
func (r Result) Data() json.RawMessage { return r.data }

// Strategy names the strategy that matched; empty on Failure.
func (r Result) Strategy() string { return r.strategy }

// Raw is the truncated input kept on Failure.
func (r Result) Raw() string { return r.raw }

// Reason explains a Failure.
func (r Result) Reason() string { return r.reason }

// Value decodes the matched document into a generic Go value.
func (r Result) Value() any {
	if !r.ok {
		return nil
	}
	var v any
	if err := json.Unmarshal(r.data, &v); err != nil {
		return nil
	}
	return v
}

func (r Result) String() string {
	if r.ok {
		return fmt.Sprintf("ok(%s, %d bytes)", r.strategy, len(r.data))
	}
	return fmt.Sprintf("failure(%s)", r.reason)
}

// Decode unmarshals an Ok result into T.
func Decode[T any](r Result) (T, error) {
	var v T
	if !r.ok {
		return v, fmt.Errorf("%w: %s", ErrUnusable, r.reason)
	}
	if err := json.Unmarshal(r.data, &v); err != nil {
		return v, fmt.Errorf("parse: decode %T: %w", v, err)
	}
	return v, nil
}

// Truncate cuts s to at most n characters without splitting a rune.
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
