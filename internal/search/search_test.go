package search

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/knolsched/internal/domain"
)

type fakeRow struct {
	values map[Field]int64
	tags   []string
}

func (r fakeRow) Value(f Field) int64 { return r.values[f] }

func (r fakeRow) HasTag(tag string) bool {
	for _, t := range r.tags {
		if t == tag {
			return true
		}
	}
	return false
}

func row(queue domain.Queue, typ domain.CardType, due int64) fakeRow {
	return fakeRow{values: map[Field]int64{
		FieldID:    1,
		FieldQueue: int64(queue),
		FieldType:  int64(typ),
		FieldDue:   due,
	}}
}

func TestExprMatch(t *testing.T) {
	r := row(domain.QueueReview, domain.TypeReview, 10)
	r.tags = []string{"leech"}

	testCases := []struct {
		name string
		expr Expr
		want bool
	}{
		{"all", All(), true},
		{"eq", Eq(FieldQueue, 2), true},
		{"ne", Ne(FieldQueue, 2), false},
		{"lt", Lt(FieldDue, 10), false},
		{"le", Le(FieldDue, 10), true},
		{"gt", Gt(FieldDue, 9), true},
		{"ge", Ge(FieldDue, 11), false},
		{"in", In(FieldQueue, 1, 2), true},
		{"empty in", In(FieldQueue), false},
		{"and", And(Eq(FieldQueue, 2), Le(FieldDue, 10)), true},
		{"and short", And(Eq(FieldQueue, 2), Le(FieldDue, 9)), false},
		{"or", Or(Eq(FieldQueue, 0), Le(FieldDue, 10)), true},
		{"empty or", Or(), false},
		{"not", Not(Eq(FieldQueue, 0)), true},
		{"tag", Tag("LEECH"), true},
		{"missing tag", Tag("marked"), false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.expr.Match(r))
		})
	}
}

func TestSQL(t *testing.T) {
	e := And(Eq(FieldDeckID, 5), In(FieldQueue, 1, 4), Not(Le(FieldDue, 7)))
	sql, args := SQL(e)
	assert.Equal(t, "(c.did = ? AND c.queue IN (?,?) AND NOT (c.due <= ?))", sql)
	assert.Equal(t, []any{int64(5), int64(1), int64(4), int64(7)}, args)

	sql, args = SQL(Tag("a_b"))
	assert.Contains(t, sql, "LIKE ?")
	assert.Equal(t, []any{`% a\_b %`}, args)

	sql, _ = SQL(In(FieldID))
	assert.Equal(t, "0=1", sql)
}

func TestOrderKeys(t *testing.T) {
	overdue := fakeRow{values: map[Field]int64{FieldID: 1, FieldQueue: 2, FieldDue: 5, FieldIvl: 10}}
	barely := fakeRow{values: map[Field]int64{FieldID: 2, FieldQueue: 2, FieldDue: 9, FieldIvl: 10}}
	future := fakeRow{values: map[Field]int64{FieldID: 3, FieldQueue: 2, FieldDue: 20, FieldIvl: 1}}

	o := DuePriority(10)
	a, b, c := o.Keys(overdue, 0), o.Keys(barely, 0), o.Keys(future, 0)
	assert.True(t, LessKeys(a, b), "more overdue relative to interval should come first")
	assert.True(t, LessKeys(b, c), "not-yet-due cards come last")

	ivl := By(OrderIvlDesc)
	assert.True(t, LessKeys(ivl.Keys(overdue, 0), ivl.Keys(future, 0)))

	assert.Equal(t, "", By(OrderNone).SQL())
	assert.Equal(t, "ORDER BY c.due, c.id", By(OrderDue).SQL())
	assert.Contains(t, o.SQL(), "c.due <= 10")
}

func TestTokenize(t *testing.T) {
	tokens, err := tokenize(`-is:new (deck:"My Deck" or tag:x)`)
	require.NoError(t, err)
	kinds := make([]tokenKind, len(tokens))
	for i, tok := range tokens {
		kinds[i] = tok.kind
	}
	assert.Equal(t, []tokenKind{tokNeg, tokWord, tokOpen, tokWord, tokWord, tokWord, tokClose}, kinds)
	assert.Equal(t, "deck:My Deck", tokens[3].text)

	_, err = tokenize(`deck:"unterminated`)
	assert.True(t, errors.Is(err, ErrBadSearch))
}

func TestParse(t *testing.T) {
	env := Env{
		Today:     100,
		DayCutoff: 1_700_000_000,
		Decks: []DeckRef{
			{ID: 1, Name: "Default"},
			{ID: 2, Name: "Lang"},
			{ID: 3, Name: "Lang::French"},
			{ID: 4, Name: "Other"},
		},
	}

	inDeck := func(did int64) fakeRow {
		r := row(domain.QueueNew, domain.TypeNew, 1)
		r.values[FieldDeckID] = did
		return r
	}

	testCases := []struct {
		name   string
		search string
		row    fakeRow
		want   bool
	}{
		{"empty matches all", "", row(domain.QueueSuspended, domain.TypeNew, 0), true},
		{"is:new", "is:new", row(domain.QueueNew, domain.TypeNew, 3), true},
		{"negated", "-is:new", row(domain.QueueNew, domain.TypeNew, 3), false},
		{"is:due review", "is:due", row(domain.QueueReview, domain.TypeReview, 100), true},
		{"is:due future review", "is:due", row(domain.QueueReview, domain.TypeReview, 101), false},
		{"is:due learning", "is:due", row(domain.QueueLearning, domain.TypeLearning, 1_600_000_000), true},
		{"is:suspended", "is:suspended", row(domain.QueueSuspended, domain.TypeReview, 1), true},
		{"is:buried", "is:buried", row(domain.QueueBuriedManual, domain.TypeReview, 1), true},
		{"deck with children", "deck:lang", inDeck(3), true},
		{"deck exact", "deck:Lang::French", inDeck(2), false},
		{"deck wildcard", "deck:Oth*", inDeck(4), true},
		{"deck unknown", "deck:missing", inDeck(1), false},
		{"or group", "(deck:Other or deck:Default) is:new", inDeck(1), true},
		{"explicit and", "is:new and deck:Other", inDeck(1), false},
		{"prop ivl", "prop:ivl>=5", fakeRow{values: map[Field]int64{FieldIvl: 5}}, true},
		{"prop due", "prop:due<=1", row(domain.QueueReview, domain.TypeReview, 101), true},
		{"prop ease", "prop:ease<2.5", fakeRow{values: map[Field]int64{FieldFactor: 2300}}, true},
		{"card ordinal", "card:2", fakeRow{values: map[Field]int64{FieldOrd: 1}}, true},
		{"cid list", "cid:4,5,6", fakeRow{values: map[Field]int64{FieldID: 5}}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e, err := Parse(tc.search, env)
			require.NoError(t, err)
			assert.Equal(t, tc.want, e.Match(tc.row), "search %q compiled to %s", tc.search, String(e))
		})
	}
}

func TestParseErrors(t *testing.T) {
	for _, s := range []string{
		"hello",
		"is:nonsense",
		"deck:",
		"prop:ivl>abc",
		"prop:color=3",
		"(is:new",
		"is:new)",
		"card:0",
		"cid:1,x",
		"foo:bar",
	} {
		t.Run(s, func(t *testing.T) {
			_, err := Parse(s, Env{})
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrBadSearch), "expected ErrBadSearch, got %v", err)
		})
	}
}

func TestWildcardMatch(t *testing.T) {
	testCases := []struct {
		pattern, s string
		want       bool
	}{
		{"abc", "abc", true},
		{"a*", "abc", true},
		{"*c", "abc", true},
		{"a*c", "abc", true},
		{"a*d", "abc", false},
		{"*", "", true},
		{"a*b*c", "axbyc", true},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.want, wildcardMatch(tc.pattern, tc.s), "%q vs %q", tc.pattern, tc.s)
	}
}
