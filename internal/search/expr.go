// Package search describes card filters as boolean expressions that can be
// evaluated in memory or compiled to SQL, and parses the search strings
// filtered decks are defined with.
package search

import (
	"fmt"
	"strings"
)

// Field is a card column a filter can compare against.
type Field int

const (
	FieldID Field = iota
	FieldNoteID
	FieldDeckID
	FieldOrd
	FieldType
	FieldQueue
	FieldDue
	FieldIvl
	FieldFactor
	FieldReps
	FieldLapses
	FieldLeft
	FieldODue
	FieldODeckID
)

var fieldColumns = [...]string{
	FieldID:      "id",
	FieldNoteID:  "nid",
	FieldDeckID:  "did",
	FieldOrd:     "ord",
	FieldType:    "type",
	FieldQueue:   "queue",
	FieldDue:     "due",
	FieldIvl:     "ivl",
	FieldFactor:  "factor",
	FieldReps:    "reps",
	FieldLapses:  "lapses",
	FieldLeft:    "left_steps",
	FieldODue:    "odue",
	FieldODeckID: "odid",
}

// Column is the SQL column backing the field.
func (f Field) Column() string {
	if f >= FieldID && f <= FieldODeckID {
		return fieldColumns[f]
	}
	panic(fmt.Sprintf("search: unknown field %d", int(f)))
}

// Row is a card as seen by an in-memory filter.
type Row interface {
	Value(f Field) int64
	HasTag(tag string) bool
}

// Expr is a boolean predicate over cards.
type Expr interface {
	Match(r Row) bool
	writeSQL(b *strings.Builder, args *[]any)
}

// SQL compiles e into a WHERE fragment over the cards table aliased as c.
func SQL(e Expr) (string, []any) {
	var b strings.Builder
	var args []any
	e.writeSQL(&b, &args)
	return b.String(), args
}

// String renders the SQL form of e, mostly for logs and test failures.
func String(e Expr) string {
	s, args := SQL(e)
	return fmt.Sprintf("%s %v", s, args)
}

type op int

const (
	opEq op = iota
	opNe
	opLt
	opLe
	opGt
	opGe
)

var opSymbols = [...]string{opEq: "=", opNe: "!=", opLt: "<", opLe: "<=", opGt: ">", opGe: ">="}

type all struct{}

func (all) Match(Row) bool { return true }
func (all) writeSQL(b *strings.Builder, _ *[]any) {
	b.WriteString("1=1")
}

type cmp struct {
	field Field
	op    op
	value int64
}

func (c cmp) Match(r Row) bool {
	v := r.Value(c.field)
	switch c.op {
	case opEq:
		return v == c.value
	case opNe:
		return v != c.value
	case opLt:
		return v < c.value
	case opLe:
		return v <= c.value
	case opGt:
		return v > c.value
	default:
		return v >= c.value
	}
}

func (c cmp) writeSQL(b *strings.Builder, args *[]any) {
	b.WriteString("c.")
	b.WriteString(c.field.Column())
	b.WriteString(" ")
	b.WriteString(opSymbols[c.op])
	b.WriteString(" ?")
	*args = append(*args, c.value)
}

type in struct {
	field  Field
	values []int64
}

func (e in) Match(r Row) bool {
	v := r.Value(e.field)
	for _, x := range e.values {
		if x == v {
			return true
		}
	}
	return false
}

func (e in) writeSQL(b *strings.Builder, args *[]any) {
	if len(e.values) == 0 {
		b.WriteString("0=1")
		return
	}
	b.WriteString("c.")
	b.WriteString(e.field.Column())
	b.WriteString(" IN (")
	for i, v := range e.values {
		if i > 0 {
			b.WriteString(",")
		}
		b.WriteString("?")
		*args = append(*args, v)
	}
	b.WriteString(")")
}

type and []Expr

func (e and) Match(r Row) bool {
	for _, x := range e {
		if !x.Match(r) {
			return false
		}
	}
	return true
}

func (e and) writeSQL(b *strings.Builder, args *[]any) {
	writeJoined(b, args, []Expr(e), " AND ")
}

type or []Expr

func (e or) Match(r Row) bool {
	for _, x := range e {
		if x.Match(r) {
			return true
		}
	}
	return false
}

func (e or) writeSQL(b *strings.Builder, args *[]any) {
	if len(e) == 0 {
		b.WriteString("0=1")
		return
	}
	writeJoined(b, args, []Expr(e), " OR ")
}

func writeJoined(b *strings.Builder, args *[]any, xs []Expr, sep string) {
	if len(xs) == 0 {
		b.WriteString("1=1")
		return
	}
	b.WriteString("(")
	for i, x := range xs {
		if i > 0 {
			b.WriteString(sep)
		}
		x.writeSQL(b, args)
	}
	b.WriteString(")")
}

type not struct{ x Expr }

func (e not) Match(r Row) bool { return !e.x.Match(r) }

func (e not) writeSQL(b *strings.Builder, args *[]any) {
	b.WriteString("NOT (")
	e.x.writeSQL(b, args)
	b.WriteString(")")
}

type tag struct{ name string }

func (e tag) Match(r Row) bool { return r.HasTag(e.name) }

func (e tag) writeSQL(b *strings.Builder, args *[]any) {
	b.WriteString(`c.nid IN (SELECT n.id FROM notes n WHERE (' ' || lower(n.tags) || ' ') LIKE ? ESCAPE '\')`)
	*args = append(*args, "% "+escapeLike(e.name)+" %")
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(strings.ToLower(s))
}

// All matches every card.
func All() Expr { return all{} }

func Eq(f Field, v int64) Expr { return cmp{f, opEq, v} }
func Ne(f Field, v int64) Expr { return cmp{f, opNe, v} }
func Lt(f Field, v int64) Expr { return cmp{f, opLt, v} }
func Le(f Field, v int64) Expr { return cmp{f, opLe, v} }
func Gt(f Field, v int64) Expr { return cmp{f, opGt, v} }
func Ge(f Field, v int64) Expr { return cmp{f, opGe, v} }

// In matches cards whose field takes one of values. An empty list matches
// nothing.
func In(f Field, values ...int64) Expr {
	return in{f, append([]int64(nil), values...)}
}

// And matches cards that satisfy every expression; with none it matches
// everything.
func And(xs ...Expr) Expr {
	if len(xs) == 1 {
		return xs[0]
	}
	return and(xs)
}

// Or matches cards that satisfy at least one expression; with none it
// matches nothing.
func Or(xs ...Expr) Expr {
	if len(xs) == 1 {
		return xs[0]
	}
	return or(xs)
}

func Not(x Expr) Expr { return not{x} }

// Tag matches cards whose note carries the tag, case-insensitively.
func Tag(name string) Expr { return tag{strings.ToLower(name)} }
