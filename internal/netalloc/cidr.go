// Package netalloc implements the pure CIDR and IP-allocation arithmetic
// shared by the VPC/subnet manager and the compute service. Every function
// here is side-effect free; the row-locking and persistence that makes
// allocation safe under concurrency lives in internal/vpc.
package netalloc

import (
	"net"

	"github.com/apparentlymart/go-cidr/cidr"

	"github.com/crossplane-contrib/cloudlocal/internal/emuerr"
)

// Parse validates str as a canonical CIDR (no host bits set) and returns
// the parsed network. It rejects malformed input and non-canonical forms
// such as "10.0.0.5/24" (host bits set in the address).
func Parse(str string) (*net.IPNet, error) {
	ip, ipnet, err := net.ParseCIDR(str)
	if err != nil {
		return nil, emuerr.Wrap(err, emuerr.InvalidArgument, "invalidCidr", "malformed CIDR: "+str)
	}
	if !ip.Equal(ipnet.IP) {
		return nil, emuerr.Newf(emuerr.InvalidArgument, "invalidCidr", "CIDR %s has host bits set, expected %s", str, ipnet.String())
	}
	return ipnet, nil
}

// Contains reports whether inner is strictly contained in (or equal to)
// outer: every address in inner's range lies within outer's range and
// inner's prefix is at least as long.
func Contains(outer, inner *net.IPNet) bool {
	outerOnes, outerBits := outer.Mask.Size()
	innerOnes, innerBits := inner.Mask.Size()
	if outerBits != innerBits || innerOnes < outerOnes {
		return false
	}
	return outer.Contains(inner.IP) && containsBroadcast(outer, inner)
}

func containsBroadcast(outer, inner *net.IPNet) bool {
	_, last := cidr.AddressRange(inner)
	return outer.Contains(last)
}

// Overlaps reports whether a and b share any address.
func Overlaps(a, b *net.IPNet) bool {
	return a.Contains(b.IP) || b.Contains(a.IP)
}

// GatewayOf returns the first usable host address of cidr (network + 1),
// the address this package's allocator always assigns as a subnet's
// gateway.
func GatewayOf(ipnet *net.IPNet) (net.IP, error) {
	return cidr.Host(ipnet, 1)
}

// UsableCount returns the number of host addresses in ipnet excluding the
// network and broadcast addresses.
func UsableCount(ipnet *net.IPNet) int64 {
	ones, bits := ipnet.Mask.Size()
	total := int64(1) << uint(bits-ones)
	if total <= 2 {
		return 0
	}
	return total - 2
}

// HostAt returns network+offset, failing with OutOfRange if the resulting
// address falls outside the usable range or collides with the network,
// gateway, or broadcast address (offsets 0, 1, and usable_count+1
// respectively; offset 1 is always the subnet's gateway, see GatewayOf).
func HostAt(ipnet *net.IPNet, offset int64) (net.IP, error) {
	if offset <= 1 || offset > UsableCount(ipnet) {
		return nil, emuerr.Newf(emuerr.OutOfRange, "subnetExhausted", "offset %d outside usable range of %s", offset, ipnet.String())
	}
	ip, err := cidr.HostBig(ipnet, bigFromInt64(offset))
	if err != nil {
		return nil, emuerr.Wrap(err, emuerr.OutOfRange, "subnetExhausted", "cannot compute host at offset")
	}
	return ip, nil
}
