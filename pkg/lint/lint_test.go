package lint

import (
	"context"
	"testing"

	"github.com/mjones3/api-consistency-analyzer/pkg/openapi"
	"github.com/mjones3/api-consistency-analyzer/pkg/types"
)

type fakeRuleSet struct{ version string }

func (r fakeRuleSet) Version() string { return r.version }

type fakeLinter struct {
	ruleSet  fakeRuleSet
	findings []Finding
}

func (l fakeLinter) Lint(context.Context, *openapi.Document, []types.FieldRecord) ([]Finding, error) {
	return l.findings, nil
}

func (l fakeLinter) RuleSet() RuleSet { return l.ruleSet }

func TestMapSeverityFixedTable(t *testing.T) {
	cases := map[NativeSeverity]types.Severity{
		SevError:              types.SeverityCritical,
		SevWarn:                types.SeverityMajor,
		SevInfo:                types.SeverityMinor,
		SevHint:                types.SeverityInfo,
		NativeSeverity("huh"):  types.SeverityMinor,
	}
	for native, want := range cases {
		if got := MapSeverity(native); got != want {
			t.Fatalf("MapSeverity(%q) = %q, want %q", native, got, want)
		}
	}
}

func TestChainConcatenatesFindingsInOrder(t *testing.T) {
	a := fakeLinter{ruleSet: fakeRuleSet{"a-v1"}, findings: []Finding{{RuleID: "a1"}}}
	b := fakeLinter{ruleSet: fakeRuleSet{"b-v1"}, findings: []Finding{{RuleID: "b1"}, {RuleID: "b2"}}}
	chain := NewChain(a, b)

	findings, err := chain.Lint(context.Background(), &openapi.Document{}, nil)
	if err != nil {
		t.Fatalf("Lint: %v", err)
	}
	want := []string{"a1", "b1", "b2"}
	if len(findings) != len(want) {
		t.Fatalf("got %d findings, want %d", len(findings), len(want))
	}
	for i, id := range want {
		if findings[i].RuleID != id {
			t.Fatalf("findings[%d].RuleID = %q, want %q", i, findings[i].RuleID, id)
		}
	}
}

func TestChainVersionCombinesMemberVersions(t *testing.T) {
	a := fakeLinter{ruleSet: fakeRuleSet{"a-v1"}}
	b := fakeLinter{ruleSet: fakeRuleSet{"b-v1"}}
	chain := NewChain(a, b)

	onlyA := NewChain(a)
	if chain.RuleSet().Version() == onlyA.RuleSet().Version() {
		t.Fatalf("expected adding a linter to the chain to change the combined rule set version")
	}
}

func TestChainPropagatesLinterError(t *testing.T) {
	failing := erroringLinter{}
	chain := NewChain(failing)
	if _, err := chain.Lint(context.Background(), &openapi.Document{}, nil); err == nil {
		t.Fatalf("expected Chain.Lint to propagate a member linter's error")
	}
}

type erroringLinter struct{}

func (erroringLinter) Lint(context.Context, *openapi.Document, []types.FieldRecord) ([]Finding, error) {
	return nil, errBoom
}

func (erroringLinter) RuleSet() RuleSet { return fakeRuleSet{"err-v1"} }

var errBoom = context.DeadlineExceeded
