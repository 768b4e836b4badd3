package gateway

import "testing"

func TestDecisionAuthorizer(t *testing.T) {
	a := NewDecisionAuthorizer("purchase_article:manager|lead, send_email:manager")

	cases := []struct {
		tool, decider string
		want          bool
	}{
		{"purchase_article", "manager", true},
		{"purchase_article", "LEAD", true},
		{"purchase_article", "intern", false},
		{"send_email", "lead", false},
		{"unlisted_tool", "anyone", true},
		{"purchase_article", "", false},
		{"purchase_article", "source:rightfind", true},
	}
	for _, tc := range cases {
		if got := a.Allow(tc.tool, tc.decider); got != tc.want {
			t.Errorf("Allow(%q,%q)=%v want %v", tc.tool, tc.decider, got, tc.want)
		}
	}
}

func TestDecisionAuthorizerEmptyAllowsAll(t *testing.T) {
	a := NewDecisionAuthorizer("")
	if !a.Allow("anything", "anyone") {
		t.Fatal("empty allowlist must allow any decider")
	}
	if a.Allow("anything", "") {
		t.Fatal("empty decider is never allowed")
	}
}
