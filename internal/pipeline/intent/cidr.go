package intent

import (
	"encoding/binary"
	"fmt"
	"math/bits"
	"net/netip"
)

// BisectPrefix splits an IPv4 parent prefix into n equally sized,
// non-overlapping child prefixes. The child prefix length is the parent
// length plus ceil(log2(n)), so four children of a /16 are /18s. The split
// is deterministic: child i always starts at parent base + i*blockSize.
func BisectPrefix(parent netip.Prefix, n int) ([]netip.Prefix, error) {
	if n < 1 {
		return nil, fmt.Errorf("cannot split %s into %d ranges", parent, n)
	}
	if !parent.Addr().Is4() {
		return nil, fmt.Errorf("only IPv4 prefixes can be split, got %s", parent)
	}

	extra := bits.Len(uint(n - 1)) // ceil(log2(n)), 0 for n == 1
	childLen := parent.Bits() + extra
	if childLen > 30 {
		return nil, fmt.Errorf("splitting %s into %d ranges needs a /%d child prefix", parent, n, childLen)
	}

	base := binary.BigEndian.Uint32(parent.Masked().Addr().AsSlice())
	step := uint32(1) << (32 - childLen)

	children := make([]netip.Prefix, n)
	for i := 0; i < n; i++ {
		var raw [4]byte
		binary.BigEndian.PutUint32(raw[:], base+uint32(i)*step)
		children[i] = netip.PrefixFrom(netip.AddrFrom4(raw), childLen)
	}
	return children, nil
}

// DeriveSubnetCIDRs parses the parent network range and returns the string
// form of its first n bisected children.
func DeriveSubnetCIDRs(parentCIDR string, n int) ([]string, error) {
	parent, err := netip.ParsePrefix(parentCIDR)
	if err != nil {
		return nil, fmt.Errorf("parse parent CIDR %q: %w", parentCIDR, err)
	}
	children, err := BisectPrefix(parent, n)
	if err != nil {
		return nil, err
	}
	out := make([]string, n)
	for i, c := range children {
		out[i] = c.String()
	}
	return out, nil
}
