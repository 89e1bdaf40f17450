package conditions

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"

	"github.com/futbot/gofut/internal/domain"
)

// stub is a fixed-outcome condition for set combinator tests.
type stub struct {
	id  string
	out Outcome
	err error
}

func (s *stub) ID() string                      { return s.id }
func (s *stub) Evaluate(Input) (Outcome, error) { return s.out, s.err }

func fire(id string, side domain.Side) *stub {
	return &stub{id: id, out: Outcome{Fired: true, Side: side}}
}

func quiet(id string) *stub { return &stub{id: id} }

func TestSetORFirstFireWins(t *testing.T) {
	set := NewSet("entries", CombineOR,
		quiet("a"),
		fire("b", domain.SideLong),
		fire("c", domain.SideShort),
	)

	out, err := set.Evaluate(Input{})
	require.NoError(t, err)
	require.True(t, out.Fired)
	require.Equal(t, "b", out.RuleID, "earlier members take precedence")
	require.Equal(t, domain.SideLong, out.Side)
}

func TestSetORNoMemberFires(t *testing.T) {
	set := NewSet("entries", CombineOR, quiet("a"), quiet("b"))
	out, err := set.Evaluate(Input{})
	require.NoError(t, err)
	require.False(t, out.Fired)
}

func TestSetANDRequiresAllMembersSameSide(t *testing.T) {
	agree := NewSet("entries", CombineAND,
		fire("a", domain.SideLong),
		fire("b", domain.SideLong),
	)
	out, err := agree.Evaluate(Input{})
	require.NoError(t, err)
	require.True(t, out.Fired)
	require.Equal(t, "a", out.RuleID)

	disagree := NewSet("entries", CombineAND,
		fire("a", domain.SideLong),
		fire("b", domain.SideShort),
	)
	out, err = disagree.Evaluate(Input{})
	require.NoError(t, err)
	require.False(t, out.Fired, "side disagreement is not a fire")

	partial := NewSet("entries", CombineAND,
		fire("a", domain.SideLong),
		quiet("b"),
	)
	out, err = partial.Evaluate(Input{})
	require.NoError(t, err)
	require.False(t, out.Fired)
}

// A failing member counts as not-fired; the members after it still run.
func TestSetORSkipsFailingMember(t *testing.T) {
	boom := &stub{id: "bad", err: errors.New("no data")}
	set := NewSet("entries", CombineOR, boom, fire("b", domain.SideLong))

	out, err := set.Evaluate(Input{})
	require.Error(t, err, "the member error is still reported")
	require.True(t, out.Fired, "a broken rule must not suppress the rest")
	require.Equal(t, "b", out.RuleID)
	require.Equal(t, domain.SideLong, out.Side)
}

func TestSetORCollectsAllMemberErrors(t *testing.T) {
	first := errors.New("no data")
	second := errors.New("stale book")
	set := NewSet("entries", CombineOR,
		&stub{id: "bad-1", err: first},
		quiet("ok"),
		&stub{id: "bad-2", err: second},
	)

	out, err := set.Evaluate(Input{})
	require.False(t, out.Fired)
	require.ErrorIs(t, err, first)
	require.ErrorIs(t, err, second)
}

func TestSetANDFailingMemberBlocksFireNotSiblings(t *testing.T) {
	boom := &stub{id: "bad", err: errors.New("no data")}
	healthy := fire("b", domain.SideLong)
	set := NewSet("entries", CombineAND, boom, healthy)

	out, err := set.Evaluate(Input{})
	require.Error(t, err)
	require.False(t, out.Fired, "an unevaluable member cannot agree")
}

func TestEmptySetNeverFires(t *testing.T) {
	out, err := NewSet("empty", CombineAND).Evaluate(Input{})
	require.NoError(t, err)
	require.False(t, out.Fired)
}
