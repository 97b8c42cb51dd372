package parse

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Strategy tries to locate one JSON document inside text.
type Strategy interface {
	Name() string
	Extract(text string) (json.RawMessage, bool)
}

// Chain applies strategies in order; the first match wins.
type Chain []Strategy

// DefaultStrategies is the fixed extraction order:
//
//	fenced-json, fenced-any, largest-object, largest-array, raw
func DefaultStrategies() Chain {
	return Chain{
		Fenced("json"),
		Fenced(""),
		Largest('{', '}'),
		Largest('[', ']'),
		Raw(),
	}
}

// ListStrategies is DefaultStrategies with arrays preferred over objects,
// for outputs that are expected to be lists.
func ListStrategies() Chain {
	return Chain{
		Fenced("json"),
		Fenced(""),
		Largest('[', ']'),
		Largest('{', '}'),
		Raw(),
	}
}

var defaultChain = DefaultStrategies()

// Parse runs the default chain over text.
func Parse(text string) Result {
	return defaultChain.Parse(text)
}

// Parse runs each strategy in order. A panicking strategy is treated as a
// miss.
func (c Chain) Parse(text string) Result {
	if strings.TrimSpace(text) == "" {
		return Failure(text, "empty output")
	}
	for _, s := range c {
		data, ok := safeExtract(s, text)
		if ok {
			return Ok(data, s.Name())
		}
	}
	return Failure(text, fmt.Sprintf("no JSON found after %d strategies", len(c)))
}

func safeExtract(s Strategy, text string) (data json.RawMessage, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			data, ok = nil, false
		}
	}()
	return s.Extract(text)
}

type fenced struct{ label string }

// Fenced matches the first ``` block whose info string equals label
// (case-insensitive) and whose body is valid JSON. An empty label accepts
// any block.
func Fenced(label string) Strategy { return fenced{label: strings.ToLower(label)} }

func (f fenced) Name() string {
	if f.label == "" {
		return "fenced-any"
	}
	return "fenced-" + f.label
}

func (f fenced) Extract(text string) (json.RawMessage, bool) {
	for _, b := range fencedBlocks(text) {
		if f.label != "" && b.info != f.label {
			continue
		}
		body := strings.TrimSpace(b.body)
		if json.Valid([]byte(body)) {
			return json.RawMessage(body), true
		}
	}
	return nil, false
}

type block struct {
	info string
	body string
}

// fencedBlocks returns every closed ``` block in order of appearance.
func fencedBlocks(text string) []block {
	var out []block
	rest := text
	for {
		open := strings.Index(rest, "```")
		if open < 0 {
			return out
		}
		rest = rest[open+3:]
		nl := strings.IndexByte(rest, '\n')
		if nl < 0 {
			return out
		}
		info := strings.ToLower(strings.TrimSpace(rest[:nl]))
		rest = rest[nl+1:]
		end := strings.Index(rest, "```")
		if end < 0 {
			return out
		}
		out = append(out, block{info: info, body: rest[:end]})
		rest = rest[end+3:]
	}
}

type largest struct{ open, close byte }

// Largest matches the longest balanced open...close span that is valid
// JSON. Equal lengths resolve to the earliest span.
func Largest(open, close byte) Strategy { return largest{open: open, close: close} }

func (l largest) Name() string {
	if l.open == '[' {
		return "largest-array"
	}
	return "largest-object"
}

type span struct{ start, end int }

func (l largest) Extract(text string) (json.RawMessage, bool) {
	spans := balancedSpans(text, l.open, l.close)
	sort.SliceStable(spans, func(a, b int) bool {
		la, lb := spans[a].end-spans[a].start, spans[b].end-spans[b].start
		if la != lb {
			return la > lb
		}
		return spans[a].start < spans[b].start
	})
	for _, s := range spans {
		candidate := text[s.start : s.end+1]
		if json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), true
		}
	}
	return nil, false
}

// balancedSpans records every balanced open...close span in one pass.
// Quotes open a string only inside a bracket, so prose quotes are ignored,
// and a newline ends an unterminated string, since JSON strings cannot
// span lines. Unmatched brackets are dropped.
func balancedSpans(text string, open, close byte) []span {
	var (
		spans    []span
		stack    []int
		inString bool
		escaped  bool
	)
	for i := 0; i < len(text); i++ {
		ch := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"', ch == '\n':
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = len(stack) > 0
		case open:
			stack = append(stack, i)
		case close:
			if n := len(stack); n > 0 {
				spans = append(spans, span{stack[n-1], i})
				stack = stack[:n-1]
			}
		}
	}
	return spans
}

type raw struct{}

// Raw matches when the whole trimmed text is a JSON document, scalars
// included.
func Raw() Strategy { return raw{} }

func (raw) Name() string { return "raw" }

func (raw) Extract(text string) (json.RawMessage, bool) {
	t := strings.TrimSpace(text)
	if json.Valid([]byte(t)) {
		return json.RawMessage(t), true
	}
	return nil, false
}
