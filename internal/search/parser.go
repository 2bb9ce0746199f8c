package search

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/conorfennell/knolsched/internal/domain"
)

// ErrBadSearch is returned for a search string that cannot be parsed.
var ErrBadSearch = errors.New("invalid search")

// DeckRef is the part of a deck the parser needs to resolve deck: terms.
type DeckRef struct {
	ID   int64
	Name string
}

// Env carries the scheduler state search terms are evaluated against.
type Env struct {
	Today     int
	DayCutoff int64
	Decks     []DeckRef
}

type tokenKind int

const (
	tokWord tokenKind = iota
	tokNeg
	tokOpen
	tokClose
)

type token struct {
	kind tokenKind
	text string
}

type state int

const (
	seeking state = iota
	readingWord
	readingQuoted
)

// tokenize splits a search into words, parentheses and negation markers.
// Double quotes group text containing spaces and may start mid-word, as
// in deck:"My Deck".
func tokenize(s string) ([]token, error) {
	var tokens []token
	var current strings.Builder
	currentState := seeking
	quotedFromWord := false

	finishWord := func() {
		if current.Len() > 0 || currentState == readingQuoted {
			tokens = append(tokens, token{kind: tokWord, text: current.String()})
		}
		current.Reset()
		currentState = seeking
	}

	for _, r := range s {
		switch currentState {
		case readingQuoted:
			if r == '"' {
				if quotedFromWord {
					currentState = readingWord
				} else {
					finishWord()
				}
				continue
			}
			current.WriteRune(r)
		case readingWord:
			switch {
			case r == '"':
				currentState = readingQuoted
				quotedFromWord = true
			case r == ' ' || r == '\t' || r == '\n':
				finishWord()
			case r == '(' || r == ')':
				finishWord()
				tokens = append(tokens, parenToken(r))
			default:
				current.WriteRune(r)
			}
		default:
			switch {
			case r == ' ' || r == '\t' || r == '\n':
			case r == '(' || r == ')':
				tokens = append(tokens, parenToken(r))
			case r == '-':
				tokens = append(tokens, token{kind: tokNeg})
			case r == '"':
				currentState = readingQuoted
				quotedFromWord = false
			default:
				currentState = readingWord
				current.WriteRune(r)
			}
		}
	}

	if currentState == readingQuoted {
		return nil, fmt.Errorf("%w: unterminated quote in %q", ErrBadSearch, s)
	}
	finishWord()
	return tokens, nil
}

func parenToken(r rune) token {
	if r == '(' {
		return token{kind: tokOpen}
	}
	return token{kind: tokClose}
}

type parser struct {
	tokens []token
	pos    int
	env    Env
}

// Parse turns a search string into an expression. An empty search matches
// every card. Terms are joined with an implicit AND; "or" and parentheses
// group them and a leading "-" negates a term.
//
// Supported terms:
//
//	is:new is:learn is:review is:due is:suspended is:buried
//	is:buried-manual is:buried-sibling
//	deck:NAME (children included, * wildcard, deck:filtered)
//	tag:NAME
//	prop:ivl>=N prop:due<=N prop:reps=N prop:lapses>N prop:ease<2.5 prop:pos<N
//	card:N cid:1,2,3 nid:1,2,3
func Parse(s string, env Env) (Expr, error) {
	tokens, err := tokenize(s)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return All(), nil
	}
	p := &parser{tokens: tokens, env: env}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos < len(p.tokens) {
		return nil, fmt.Errorf("%w: unexpected %s in %q", ErrBadSearch, p.describe(p.tokens[p.pos]), s)
	}
	return e, nil
}

func (p *parser) describe(t token) string {
	switch t.kind {
	case tokOpen:
		return "'('"
	case tokClose:
		return "')'"
	case tokNeg:
		return "'-'"
	}
	return strconv.Quote(t.text)
}

func (p *parser) peek() (token, bool) {
	if p.pos >= len(p.tokens) {
		return token{}, false
	}
	return p.tokens[p.pos], true
}

func isKeyword(t token, kw string) bool {
	return t.kind == tokWord && strings.EqualFold(t.text, kw)
}

func (p *parser) parseOr() (Expr, error) {
	first, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	xs := []Expr{first}
	for {
		t, ok := p.peek()
		if !ok || !isKeyword(t, "or") {
			break
		}
		p.pos++
		next, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		xs = append(xs, next)
	}
	return Or(xs...), nil
}

func (p *parser) parseAnd() (Expr, error) {
	var xs []Expr
	for {
		t, ok := p.peek()
		if !ok || t.kind == tokClose || isKeyword(t, "or") {
			break
		}
		if isKeyword(t, "and") {
			p.pos++
			continue
		}
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		xs = append(xs, x)
	}
	if len(xs) == 0 {
		return nil, fmt.Errorf("%w: empty group", ErrBadSearch)
	}
	return And(xs...), nil
}

func (p *parser) parseUnary() (Expr, error) {
	t, ok := p.peek()
	if !ok {
		return nil, fmt.Errorf("%w: unexpected end of search", ErrBadSearch)
	}
	p.pos++
	switch t.kind {
	case tokNeg:
		x, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not(x), nil
	case tokOpen:
		x, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		closing, ok := p.peek()
		if !ok || closing.kind != tokClose {
			return nil, fmt.Errorf("%w: missing ')'", ErrBadSearch)
		}
		p.pos++
		return x, nil
	case tokClose:
		return nil, fmt.Errorf("%w: unbalanced ')'", ErrBadSearch)
	}
	return p.term(t.text)
}

func (p *parser) term(word string) (Expr, error) {
	key, val, found := strings.Cut(word, ":")
	if !found {
		return nil, fmt.Errorf("%w: unsupported text term %q", ErrBadSearch, word)
	}
	switch strings.ToLower(key) {
	case "is":
		return p.isTerm(strings.ToLower(val))
	case "deck":
		return p.deckTerm(val)
	case "tag":
		if val == "" {
			return nil, fmt.Errorf("%w: empty tag", ErrBadSearch)
		}
		return Tag(val), nil
	case "prop":
		return p.propTerm(val)
	case "card":
		n, err := strconv.Atoi(val)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%w: bad card ordinal %q", ErrBadSearch, val)
		}
		return Eq(FieldOrd, int64(n-1)), nil
	case "cid":
		return idList(FieldID, val)
	case "nid":
		return idList(FieldNoteID, val)
	}
	return nil, fmt.Errorf("%w: unknown term %q", ErrBadSearch, word)
}

func queueValues(queues ...domain.Queue) []int64 {
	out := make([]int64, len(queues))
	for i, x := range queues {
		out[i] = int64(x)
	}
	return out
}

func (p *parser) isTerm(val string) (Expr, error) {
	switch val {
	case "new":
		return Eq(FieldType, int64(domain.TypeNew)), nil
	case "learn":
		return In(FieldQueue, queueValues(domain.QueueLearning, domain.QueueDayLearnRelearn)...), nil
	case "review":
		return In(FieldType, int64(domain.TypeReview), int64(domain.TypeRelearning)), nil
	case "due":
		return Or(
			And(In(FieldQueue, queueValues(domain.QueueReview, domain.QueueDayLearnRelearn)...), Le(FieldDue, int64(p.env.Today))),
			And(In(FieldQueue, queueValues(domain.QueueLearning, domain.QueuePreview)...), Le(FieldDue, p.env.DayCutoff)),
		), nil
	case "suspended":
		return Eq(FieldQueue, int64(domain.QueueSuspended)), nil
	case "buried":
		return In(FieldQueue, queueValues(domain.QueueBuriedSibling, domain.QueueBuriedManual)...), nil
	case "buried-manual":
		return Eq(FieldQueue, int64(domain.QueueBuriedManual)), nil
	case "buried-sibling":
		return Eq(FieldQueue, int64(domain.QueueBuriedSibling)), nil
	}
	return nil, fmt.Errorf("%w: unknown is:%s", ErrBadSearch, val)
}

func (p *parser) deckTerm(val string) (Expr, error) {
	switch strings.ToLower(val) {
	case "":
		return nil, fmt.Errorf("%w: empty deck name", ErrBadSearch)
	case "*":
		return All(), nil
	case "filtered":
		return Ne(FieldODeckID, 0), nil
	}
	pattern := strings.ToLower(val)
	var ids []int64
	for _, d := range p.env.Decks {
		name := strings.ToLower(d.Name)
		if wildcardMatch(pattern, name) || ancestorMatches(pattern, name) {
			ids = append(ids, d.ID)
		}
	}
	return Or(In(FieldDeckID, ids...), In(FieldODeckID, ids...)), nil
}

func ancestorMatches(pattern, name string) bool {
	for _, a := range domain.AncestorNames(name) {
		if wildcardMatch(pattern, a) {
			return true
		}
	}
	return false
}

// wildcardMatch reports whether s matches pattern, where * stands for any
// run of characters.
func wildcardMatch(pattern, s string) bool {
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return pattern == s
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for _, part := range parts[1 : len(parts)-1] {
		i := strings.Index(s, part)
		if i < 0 {
			return false
		}
		s = s[i+len(part):]
	}
	return strings.HasSuffix(s, parts[len(parts)-1])
}

var propOps = []struct {
	text string
	op   op
}{
	{">=", opGe},
	{"<=", opLe},
	{"!=", opNe},
	{"=", opEq},
	{">", opGt},
	{"<", opLt},
}

func (p *parser) propTerm(val string) (Expr, error) {
	for _, po := range propOps {
		i := strings.Index(val, po.text)
		if i <= 0 {
			continue
		}
		name := strings.ToLower(val[:i])
		num := val[i+len(po.text):]
		if name == "ease" {
			f, err := strconv.ParseFloat(num, 64)
			if err != nil {
				return nil, fmt.Errorf("%w: bad number in prop:%s", ErrBadSearch, val)
			}
			return cmp{FieldFactor, po.op, int64(f * 1000)}, nil
		}
		n, err := strconv.ParseInt(num, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad number in prop:%s", ErrBadSearch, val)
		}
		switch name {
		case "ivl":
			return cmp{FieldIvl, po.op, n}, nil
		case "reps":
			return cmp{FieldReps, po.op, n}, nil
		case "lapses":
			return cmp{FieldLapses, po.op, n}, nil
		case "due":
			return And(
				In(FieldQueue, queueValues(domain.QueueReview, domain.QueueDayLearnRelearn)...),
				cmp{FieldDue, po.op, int64(p.env.Today) + n},
			), nil
		case "pos":
			return And(Eq(FieldType, int64(domain.TypeNew)), cmp{FieldDue, po.op, n}), nil
		}
		return nil, fmt.Errorf("%w: unknown property %q", ErrBadSearch, name)
	}
	return nil, fmt.Errorf("%w: bad property %q", ErrBadSearch, val)
}

func idList(f Field, val string) (Expr, error) {
	var ids []int64
	for _, part := range strings.Split(val, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: bad id %q", ErrBadSearch, part)
		}
		ids = append(ids, id)
	}
	return In(f, ids...), nil
}
