package mode

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPredicates(t *testing.T) {
	cases := []struct {
		m                     Mode
		jmx, ptw, chain, simp bool
	}{
		{Simple, false, false, false, true},
		{Tip, true, false, true, false},
		{Fup, true, false, true, false},
		{PtWrite, false, true, true, false},
	}

	for _, c := range cases {
		require.Equalf(t, c.jmx, c.m.InsertJmxAtBlockStart(), "%v: InsertJmxAtBlockStart", c.m)
		require.Equalf(t, c.ptw, c.m.InsertPtWrite(), "%v: InsertPtWrite", c.m)
		require.Equalf(t, c.chain, c.m.InsertChainCountCheck(), "%v: InsertChainCountCheck", c.m)
		require.Equalf(t, c.simp, c.m.EnableSimpleTracing(), "%v: EnableSimpleTracing", c.m)
	}
}

func TestParseRoundTrip(t *testing.T) {
	want := map[string]string{"simple": "simple", "tip": "tip", "fup": "fup", "ptw": "ptw"}

	for _, s := range []string{"simple", "tip", "fup", "ptw"} {
		m, err := Parse(s)
		require.NoErrorf(t, err, "Parse(%q)", s)
		require.Equal(t, want[s], m.String())
	}

	_, err := Parse("bogus")
	require.Error(t, err, "Parse(bogus): expected error")
}
