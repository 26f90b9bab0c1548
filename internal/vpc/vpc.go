// Package vpc is the VPC/subnet manager (C5): it owns network and
// subnet creation, auto-mode fan-out, and per-subnet IP allocation, and
// is the only caller of internal/netalloc's pure arithmetic that also
// touches the metadata store and the container driver's host network.
package vpc

import (
	"context"
	"net"

	"github.com/crossplane-contrib/cloudlocal/internal/emuerr"
	"github.com/crossplane-contrib/cloudlocal/internal/netalloc"
	"github.com/crossplane-contrib/cloudlocal/internal/rundriver"
	"github.com/crossplane-contrib/cloudlocal/internal/store"
)

// Service wires the metadata store to the container driver for every
// network-shaped mutation.
type Service struct {
	Store  *store.Store
	Driver *rundriver.Driver

	AutoModeSupernet    *net.IPNet
	HostNetworkSupernet *net.IPNet
}

// CreateNetworkParams describes a network create request.
type CreateNetworkParams struct {
	ProjectID             string
	Name                  string
	AutoCreateSubnetworks bool
	RoutingMode           store.RoutingMode

	// IPv4Range is the custom-mode network's CIDR range. Ignored in
	// auto mode. If empty, defaults to netalloc.DefaultCustomSupernet.
	IPv4Range string
}

// CreateNetwork creates network and, in auto mode, its full 16-region
// subnet fan-out, plus the default route every network gets and the
// host container-runtime network backing it. Name collisions within
// the project surface as emuerr.AlreadyExists.
func (s *Service) CreateNetwork(ctx context.Context, p CreateNetworkParams) (*store.Network, []*store.Subnet, error) {
	if !p.AutoCreateSubnetworks && p.IPv4Range != "" {
		if _, err := netalloc.Parse(p.IPv4Range); err != nil {
			return nil, nil, err
		}
	}

	hostCIDR, err := netalloc.HostNetworkCIDR(s.HostNetworkSupernet, p.ProjectID, p.Name)
	if err != nil {
		return nil, nil, err
	}
	gw, err := netalloc.GatewayOf(hostCIDR)
	if err != nil {
		return nil, nil, err
	}

	var netw *store.Network
	var subnets []*store.Subnet
	err = s.Store.Tx(ctx, func(q *store.Queries) error {
		netw = &store.Network{
			Name:                  p.Name,
			ProjectID:             p.ProjectID,
			AutoCreateSubnetworks: p.AutoCreateSubnetworks,
			RoutingMode:           p.RoutingMode,
			HostNetworkName:       "cloudlocal-" + p.Name,
		}
		if p.AutoCreateSubnetworks {
			netw.CIDRRange = s.AutoModeSupernet.String()
		} else {
			netw.CIDRRange = p.IPv4Range
			if netw.CIDRRange == "" {
				netw.CIDRRange = netalloc.DefaultCustomSupernet
			}
		}
		if err := q.CreateNetwork(ctx, netw); err != nil {
			return err
		}

		if err := q.CreateRoute(ctx, &store.Route{
			Name:           p.Name + "-default-route",
			NetworkID:      netw.ID,
			DestRange:      "0.0.0.0/0",
			Priority:       1000,
			NextHopGateway: "default-internet-gateway",
		}); err != nil {
			return err
		}

		if p.AutoCreateSubnetworks {
			fanout, err := netalloc.BuildAutoModeFanout(s.AutoModeSupernet)
			if err != nil {
				return err
			}
			for _, f := range fanout {
				subCIDR, err := netalloc.Parse(f.CIDR)
				if err != nil {
					return err
				}
				subGW, err := netalloc.GatewayOf(subCIDR)
				if err != nil {
					return err
				}
				sub := &store.Subnet{
					Name:        p.Name + "-" + f.Region,
					NetworkID:   netw.ID,
					Region:      f.Region,
					IPCIDRRange: f.CIDR,
					GatewayIP:   subGW.String(),
				}
				if err := q.CreateSubnet(ctx, sub); err != nil {
					return err
				}
				if err := q.CreateRoute(ctx, &store.Route{
					Name:           "route-" + sub.Name,
					NetworkID:      netw.ID,
					DestRange:      sub.IPCIDRRange,
					Priority:       0,
					NextHopNetwork: "local",
				}); err != nil {
					return err
				}
				subnets = append(subnets, sub)
			}
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}

	daemonID, err := s.Driver.NetworkCreate(ctx, rundriver.NetworkSpec{
		Name:      netw.HostNetworkName,
		Subnet:    hostCIDR.String(),
		Gateway:   gw.String(),
		NetworkID: netw.ID,
	})
	if err != nil {
		return netw, subnets, err
	}
	err = s.Store.Tx(ctx, func(q *store.Queries) error {
		return q.SetNetworkHostID(ctx, netw.ID, daemonID)
	})
	netw.HostNetworkID = daemonID
	return netw, subnets, err
}

// CreateSubnetParams describes a custom-mode subnet create request.
type CreateSubnetParams struct {
	NetworkID   string
	Name        string
	Region      string
	IPCIDRRange string
}

// CreateSubnet adds a custom-mode subnet to an existing network, after
// validating the range doesn't overlap any sibling subnet. Auto-mode
// networks reject additional custom subnets (spec.md open question:
// auto mode's fan-out is exhaustive and final).
func (s *Service) CreateSubnet(ctx context.Context, p CreateSubnetParams) (*store.Subnet, error) {
	newCIDR, err := netalloc.Parse(p.IPCIDRRange)
	if err != nil {
		return nil, err
	}

	var sub *store.Subnet
	err = s.Store.Tx(ctx, func(q *store.Queries) error {
		net, err := q.GetNetworkByID(ctx, p.NetworkID)
		if err != nil {
			return err
		}
		if net.AutoCreateSubnetworks {
			return emuerr.Newf(emuerr.FailedPrecondition, "autoModeRejectsCustomSubnets",
				"network %s is in auto mode and cannot take additional custom subnets", net.Name)
		}
		if net.CIDRRange != "" {
			networkCIDR, err := netalloc.Parse(net.CIDRRange)
			if err != nil {
				return err
			}
			if !netalloc.Contains(networkCIDR, newCIDR) {
				return emuerr.Newf(emuerr.InvalidArgument, "subnetNotContained",
					"requested range %s is not contained within network %s's range %s", p.IPCIDRRange, net.Name, net.CIDRRange)
			}
		}

		existing, err := q.ListSubnets(ctx, p.NetworkID)
		if err != nil {
			return err
		}
		for _, e := range existing {
			existingCIDR, err := netalloc.Parse(e.IPCIDRRange)
			if err != nil {
				return err
			}
			if netalloc.Overlaps(newCIDR, existingCIDR) {
				return emuerr.Newf(emuerr.InvalidArgument, "subnetOverlap",
					"requested range %s overlaps existing subnet %s (%s)", p.IPCIDRRange, e.Name, e.IPCIDRRange)
			}
		}

		gw, err := netalloc.GatewayOf(newCIDR)
		if err != nil {
			return err
		}
		sub = &store.Subnet{
			Name:        p.Name,
			NetworkID:   p.NetworkID,
			Region:      p.Region,
			IPCIDRRange: p.IPCIDRRange,
			GatewayIP:   gw.String(),
		}
		if err := q.CreateSubnet(ctx, sub); err != nil {
			return err
		}
		return q.CreateRoute(ctx, &store.Route{
			Name:           "route-" + sub.Name,
			NetworkID:      p.NetworkID,
			DestRange:      sub.IPCIDRRange,
			Priority:       0,
			NextHopNetwork: "local",
		})
	})
	return sub, err
}

// AllocateIP reserves the next host address in subnetID for a new
// instance. Offsets are never released back to the pool, even when the
// instance holding one is later deleted (spec.md open question).
func (s *Service) AllocateIP(ctx context.Context, subnetID string) (net.IP, error) {
	var ip net.IP
	err := s.Store.Tx(ctx, func(q *store.Queries) error {
		sub, err := q.GetSubnetForUpdate(ctx, subnetID)
		if err != nil {
			return err
		}
		cidr, err := netalloc.Parse(sub.IPCIDRRange)
		if err != nil {
			return err
		}
		offset, err := q.AllocateNextIP(ctx, subnetID)
		if err != nil {
			return err
		}
		ip, err = netalloc.HostAt(cidr, offset)
		return err
	})
	return ip, err
}

// DeleteNetwork removes network id after confirming no instance
// references it, tearing down its host container-runtime network.
func (s *Service) DeleteNetwork(ctx context.Context, id string) error {
	var hostNetworkID string
	err := s.Store.Tx(ctx, func(q *store.Queries) error {
		n, err := q.GetNetworkByID(ctx, id)
		if err != nil {
			return err
		}
		count, err := q.CountInstancesUsingNetwork(ctx, id)
		if err != nil {
			return err
		}
		if count > 0 {
			return emuerr.Newf(emuerr.FailedPrecondition, "networkInUse", "network %s still has %d instance(s)", n.Name, count)
		}
		hostNetworkID = n.HostNetworkID
		return q.DeleteNetwork(ctx, id)
	})
	if err != nil {
		return err
	}
	return s.Driver.NetworkRemove(ctx, hostNetworkID)
}
