package netalloc

import (
	"crypto/sha256"
	"encoding/binary"
	"net"

	"github.com/apparentlymart/go-cidr/cidr"
)

// FanoutEntry is one region's auto-mode subnet.
type FanoutEntry struct {
	Region string
	CIDR   string
}

// defaultRegions lists, in order, the regions auto-mode networks fan out
// into, one /20 per region carved out of the configured auto-mode
// supernet (default 10.128.0.0/9, matching the real provider's range).
// BuildAutoModeFanout recomputes the region -> /20 table from the
// supernet on every call; the table is deterministic and not persisted.
var defaultRegions = []string{
	"us-central1", "us-east1", "us-east4", "us-west1",
	"us-west2", "us-west3", "us-west4", "northamerica-northeast1",
	"southamerica-east1", "europe-west1", "europe-west2", "europe-west3",
	"europe-west4", "europe-north1", "asia-east1", "asia-southeast1",
}

// BuildAutoModeFanout carves one non-overlapping /20 per entry of
// defaultRegions out of supernet, in order. It returns the error from
// cidr.Subnet, and no entries, if the supernet is too small to hold
// every region's /20 (the default /9 comfortably fits 16 /20s).
func BuildAutoModeFanout(supernet *net.IPNet) ([]FanoutEntry, error) {
	out := make([]FanoutEntry, 0, len(defaultRegions))
	for i, region := range defaultRegions {
		sub, err := cidr.Subnet(supernet, 20-maskOnes(supernet), i)
		if err != nil {
			return nil, err
		}
		out = append(out, FanoutEntry{Region: region, CIDR: sub.String()})
	}
	return out, nil
}

func maskOnes(n *net.IPNet) int {
	ones, _ := n.Mask.Size()
	return ones
}

// HostNetworkCIDR deterministically derives a /24 host-network CIDR for a
// VPC from a hash of (project, name), carved out of the reserved
// HOST_NETWORK_SUPERNET range so concurrently-created VPCs land on
// disjoint host-runtime networks without needing a central counter.
const hostNetworkPrefix = 24

func HostNetworkCIDR(supernet *net.IPNet, project, name string) (*net.IPNet, error) {
	ones, _ := supernet.Mask.Size()
	additionalBits := hostNetworkPrefix - ones
	if additionalBits <= 0 {
		additionalBits = 0
	}
	h := sha256.Sum256([]byte(project + "/" + name))
	idx := binary.BigEndian.Uint32(h[:4])
	if additionalBits < 32 {
		idx &= (uint32(1) << uint(additionalBits)) - 1
	}
	sub, err := cidr.Subnet(supernet, additionalBits, int(idx))
	if err != nil {
		return nil, err
	}
	return sub, nil
}
