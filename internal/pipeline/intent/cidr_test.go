package intent

import (
	"fmt"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBisectPrefix_ChildSizing(t *testing.T) {
	tests := []struct {
		n           int
		expectedLen int
	}{
		{1, 16},
		{2, 17},
		{3, 18},
		{4, 18},
		{5, 19},
		{8, 19},
		{9, 20},
		{16, 20},
	}

	parent := netip.MustParsePrefix("10.0.0.0/16")
	for _, tt := range tests {
		t.Run(fmt.Sprintf("n=%d", tt.n), func(t *testing.T) {
			children, err := BisectPrefix(parent, tt.n)
			require.NoError(t, err)
			require.Len(t, children, tt.n)
			for _, c := range children {
				assert.Equal(t, tt.expectedLen, c.Bits())
			}
		})
	}
}

// Requesting N subnets from a /16 must yield N non-overlapping, correctly
// sized subranges entirely contained in the parent, for all N in [1, 16].
func TestBisectPrefix_ContainmentAndDisjointness(t *testing.T) {
	parent := netip.MustParsePrefix("10.0.0.0/16")

	for n := 1; n <= 16; n++ {
		children, err := BisectPrefix(parent, n)
		require.NoError(t, err, "n=%d", n)
		require.Len(t, children, n)

		for i, c := range children {
			assert.True(t, parent.Contains(c.Addr()), "n=%d child %d escapes parent", n, i)
			for j := i + 1; j < n; j++ {
				assert.False(t, c.Overlaps(children[j]),
					"n=%d children %d and %d overlap: %s / %s", n, i, j, c, children[j])
			}
		}
	}
}

func TestBisectPrefix_Deterministic(t *testing.T) {
	parent := netip.MustParsePrefix("172.16.0.0/16")

	first, err := BisectPrefix(parent, 4)
	require.NoError(t, err)
	second, err := BisectPrefix(parent, 4)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "172.16.0.0/18", first[0].String())
	assert.Equal(t, "172.16.64.0/18", first[1].String())
	assert.Equal(t, "172.16.128.0/18", first[2].String())
	assert.Equal(t, "172.16.192.0/18", first[3].String())
}

func TestBisectPrefix_Errors(t *testing.T) {
	_, err := BisectPrefix(netip.MustParsePrefix("10.0.0.0/16"), 0)
	assert.Error(t, err)

	_, err = BisectPrefix(netip.MustParsePrefix("2001:db8::/32"), 2)
	assert.Error(t, err)

	// /30 children are the floor; a /29 parent cannot be split four ways.
	_, err = BisectPrefix(netip.MustParsePrefix("10.0.0.0/29"), 4)
	assert.Error(t, err)
}

func TestDeriveSubnetCIDRs(t *testing.T) {
	cidrs, err := DeriveSubnetCIDRs("10.0.0.0/16", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"10.0.0.0/17", "10.0.128.0/17"}, cidrs)

	_, err = DeriveSubnetCIDRs("not-a-cidr", 2)
	assert.Error(t, err)
}
