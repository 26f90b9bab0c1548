package vpc

import (
	"context"
	"net"
	"testing"

	"github.com/crossplane-contrib/cloudlocal/internal/emuerr"
	"github.com/crossplane-contrib/cloudlocal/internal/store"
)

// These tests exercise CreateSubnet and AllocateIP, neither of which
// touches the container driver; Service.Driver is left nil.

func mustParseCIDR(t *testing.T, s string) *net.IPNet {
	t.Helper()
	_, n, err := net.ParseCIDR(s)
	if err != nil {
		t.Fatalf("ParseCIDR(%q): %v", s, err)
	}
	return n
}

func TestCreateSubnetRejectsOverlap(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	var networkID string
	err = s.Tx(ctx, func(q *store.Queries) error {
		p, err := q.EnsureProject(ctx, "demo")
		if err != nil {
			return err
		}
		n := &store.Network{Name: "vpc1", ProjectID: p.ID, RoutingMode: store.RoutingModeRegional}
		if err := q.CreateNetwork(ctx, n); err != nil {
			return err
		}
		networkID = n.ID
		return q.CreateSubnet(ctx, &store.Subnet{Name: "s1", NetworkID: n.ID, Region: "us-central1", IPCIDRRange: "10.1.0.0/24", GatewayIP: "10.1.0.1"})
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	svc := &Service{Store: s, AutoModeSupernet: mustParseCIDR(t, "10.128.0.0/9"), HostNetworkSupernet: mustParseCIDR(t, "172.30.0.0/16")}
	_, err = svc.CreateSubnet(ctx, CreateSubnetParams{NetworkID: networkID, Name: "s2", Region: "us-east1", IPCIDRRange: "10.1.0.128/25"})
	if emuerr.KindOf(err) != emuerr.InvalidArgument {
		t.Fatalf("want InvalidArgument for overlapping subnet, got %v", err)
	}
}

func TestCreateSubnetRejectedOnAutoModeNetwork(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	var networkID string
	err = s.Tx(ctx, func(q *store.Queries) error {
		p, err := q.EnsureProject(ctx, "demo")
		if err != nil {
			return err
		}
		n := &store.Network{Name: "vpc1", ProjectID: p.ID, AutoCreateSubnetworks: true, RoutingMode: store.RoutingModeRegional}
		if err := q.CreateNetwork(ctx, n); err != nil {
			return err
		}
		networkID = n.ID
		return nil
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	svc := &Service{Store: s, AutoModeSupernet: mustParseCIDR(t, "10.128.0.0/9"), HostNetworkSupernet: mustParseCIDR(t, "172.30.0.0/16")}
	_, err = svc.CreateSubnet(ctx, CreateSubnetParams{NetworkID: networkID, Name: "s2", Region: "us-east1", IPCIDRRange: "10.200.0.0/24"})
	if emuerr.KindOf(err) != emuerr.FailedPrecondition {
		t.Fatalf("want FailedPrecondition for custom subnet on auto-mode network, got %v", err)
	}
}

func TestCreateSubnetRejectsOutOfRangeOfNetworkCIDR(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	var networkID string
	err = s.Tx(ctx, func(q *store.Queries) error {
		p, err := q.EnsureProject(ctx, "demo")
		if err != nil {
			return err
		}
		n := &store.Network{Name: "vpc1", ProjectID: p.ID, RoutingMode: store.RoutingModeRegional, CIDRRange: "10.1.0.0/16"}
		if err := q.CreateNetwork(ctx, n); err != nil {
			return err
		}
		networkID = n.ID
		return nil
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	svc := &Service{Store: s, AutoModeSupernet: mustParseCIDR(t, "10.128.0.0/9"), HostNetworkSupernet: mustParseCIDR(t, "172.30.0.0/16")}
	_, err = svc.CreateSubnet(ctx, CreateSubnetParams{NetworkID: networkID, Name: "s1", Region: "us-central1", IPCIDRRange: "10.2.0.0/24"})
	if emuerr.KindOf(err) != emuerr.InvalidArgument {
		t.Fatalf("want InvalidArgument for subnet outside network CIDR, got %v", err)
	}

	sub, err := svc.CreateSubnet(ctx, CreateSubnetParams{NetworkID: networkID, Name: "s2", Region: "us-central1", IPCIDRRange: "10.1.1.0/24"})
	if err != nil {
		t.Fatalf("CreateSubnet within network range: %v", err)
	}
	var route *store.Route
	err = s.Tx(ctx, func(q *store.Queries) error {
		routes, err := q.ListRoutes(ctx, networkID)
		if err != nil {
			return err
		}
		for _, r := range routes {
			if r.Name == "route-"+sub.Name {
				route = r
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("ListRoutes: %v", err)
	}
	if route == nil {
		t.Fatalf("want a local route for subnet %s", sub.Name)
	}
	if route.DestRange != sub.IPCIDRRange || route.NextHopNetwork != "local" {
		t.Fatalf("route = %+v, want dest %s via local", route, sub.IPCIDRRange)
	}
}

func TestAllocateIPIsMonotonic(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })

	var subnetID string
	err = s.Tx(ctx, func(q *store.Queries) error {
		p, err := q.EnsureProject(ctx, "demo")
		if err != nil {
			return err
		}
		n := &store.Network{Name: "vpc1", ProjectID: p.ID, RoutingMode: store.RoutingModeRegional}
		if err := q.CreateNetwork(ctx, n); err != nil {
			return err
		}
		sub := &store.Subnet{Name: "s1", NetworkID: n.ID, Region: "us-central1", IPCIDRRange: "10.1.0.0/29", GatewayIP: "10.1.0.1"}
		if err := q.CreateSubnet(ctx, sub); err != nil {
			return err
		}
		subnetID = sub.ID
		return nil
	})
	if err != nil {
		t.Fatalf("setup: %v", err)
	}

	svc := &Service{Store: s, AutoModeSupernet: mustParseCIDR(t, "10.128.0.0/9"), HostNetworkSupernet: mustParseCIDR(t, "172.30.0.0/16")}
	first, err := svc.AllocateIP(ctx, subnetID)
	if err != nil {
		t.Fatalf("AllocateIP: %v", err)
	}
	second, err := svc.AllocateIP(ctx, subnetID)
	if err != nil {
		t.Fatalf("AllocateIP (second): %v", err)
	}
	if first.Equal(second) {
		t.Fatalf("allocator returned same address twice: %s", first)
	}
}
