package util

import (
	"fmt"
	"strings"
)

// Domain classifies the kind of error a Pos-tagged message belongs to, per
// the error taxonomy in the core specification: parse, schema, reference,
// consistency, backend-incompatibility, or file.
type Domain string

// Recognized error domains.
const (
	DomainParse        Domain = "parse"
	DomainSchema       Domain = "schema"
	DomainReference    Domain = "reference"
	DomainConsistency  Domain = "consistency"
	DomainBackend      Domain = "backend-incompatibility"
	DomainFile         Domain = "file"
)

// Pos is a source position: the file a message is attached to and its
// line/column within that file.  Zero values mean "unknown" and are elided
// when formatting.
type Pos struct {
	File   string
	Line   int
	Column int
}

func (p Pos) String() string {
	if p.File == "" && p.Line == 0 {
		return ""
	}
	if p.Line == 0 {
		return p.File
	}
	if p.Column == 0 {
		return fmt.Sprintf("%s:%d", p.File, p.Line)
	}
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
}

// Err is used to allow code to pile up errors for validation and
// reporting purposes.
type Err struct {
	Prefix string
	msgs   []string
}

// Errorf adds a new msg to an *Err
func (e *Err) Errorf(s string, args ...interface{}) {
	if e.msgs == nil {
		e.msgs = []string{}
	}
	e.msgs = append(e.msgs, fmt.Sprintf(s, args...))
}

// At adds a message tagged with a Domain and a source Pos.
func (e *Err) At(d Domain, p Pos, s string, args ...interface{}) {
	msg := fmt.Sprintf(s, args...)
	if loc := p.String(); loc != "" {
		e.Errorf("[%s] %s: %s", d, loc, msg)
	} else {
		e.Errorf("[%s] %s", d, msg)
	}
}

// Error satisfies the error interface
func (e *Err) Error() string {
	res := []string{}
	res = append(res, fmt.Sprintf("%s:", e.Prefix))
	res = append(res, e.msgs...)
	res = append(res, "\n")
	return strings.Join(res, "\n")
}

// Empty returns whether any messages have been added to this Err
func (e *Err) Empty() bool {
	return e.msgs == nil || len(e.msgs) == 0
}

// Count returns the number of messages accumulated so far.
func (e *Err) Count() int {
	return len(e.msgs)
}

// Merge merges an error into this Err.  If other is an *Err, its
// messages will be appended to ours.
func (e *Err) Merge(other error) {
	if other == nil {
		return
	}
	if e.msgs == nil {
		e.msgs = []string{}
	}
	if o, ok := other.(*Err); ok {
		for _, msg := range o.msgs {
			e.Errorf("%s: %s", o.Prefix, msg)
		}
	} else {
		e.msgs = append(e.msgs, other.Error())
	}
}

// OrNil returns nil if the Err has no messages, the Err in question
// otherwise.
func (e *Err) OrNil() error {
	if e.Empty() {
		return nil
	}
	return e
}
