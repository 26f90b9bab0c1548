package wire

import (
	"google.golang.org/api/compute/v1"

	"github.com/crossplane-contrib/cloudlocal/internal/store"
)

// Network converts a store.Network to its compute/v1 wire shape.
func Network(n *store.Network) *compute.Network {
	out := &compute.Network{
		Kind:                  "compute#network",
		Id:                    hashID(n.ID),
		Name:                  n.Name,
		AutoCreateSubnetworks: n.AutoCreateSubnetworks,
		CreationTimestamp:     n.CreatedAt.Format(rfc3339),
		SelfLink:              selfLink("global/networks/" + n.Name),
		RoutingConfig:         &compute.NetworkRoutingConfig{RoutingMode: string(n.RoutingMode)},
	}
	if !n.AutoCreateSubnetworks {
		out.ForceSendFields = []string{"AutoCreateSubnetworks"}
	}
	return out
}

// Subnetwork converts a store.Subnet to its compute/v1 wire shape.
func Subnetwork(s *store.Subnet, networkName string) *compute.Subnetwork {
	return &compute.Subnetwork{
		Kind:              "compute#subnetwork",
		Id:                hashID(s.ID),
		Name:              s.Name,
		Network:           selfLink("global/networks/" + networkName),
		IpCidrRange:       s.IPCIDRRange,
		GatewayAddress:    s.GatewayIP,
		Region:            s.Region,
		CreationTimestamp: s.CreatedAt.Format(rfc3339),
		SelfLink:          selfLink("regions/" + s.Region + "/subnetworks/" + s.Name),
	}
}

// Firewall converts a store.FirewallRule to its compute/v1 wire shape.
func Firewall(fw *store.FirewallRule, networkName string) *compute.Firewall {
	out := &compute.Firewall{
		Kind:              "compute#firewall",
		Id:                hashID(fw.ID),
		Name:              fw.Name,
		Network:           selfLink("global/networks/" + networkName),
		Direction:         string(fw.Direction),
		Priority:          int64(fw.Priority),
		SourceRanges:      fw.SourceRanges,
		DestinationRanges: fw.DestinationRanges,
		SourceTags:        fw.SourceTags,
		TargetTags:        fw.TargetTags,
		Disabled:          fw.Disabled,
		CreationTimestamp: fw.CreatedAt.Format(rfc3339),
		SelfLink:          selfLink("global/firewalls/" + fw.Name),
	}
	for _, a := range fw.Allowed {
		out.Allowed = append(out.Allowed, &compute.FirewallAllowed{IPProtocol: a.Protocol, Ports: a.Ports})
	}
	for _, d := range fw.Denied {
		out.Denied = append(out.Denied, &compute.FirewallDenied{IPProtocol: d.Protocol, Ports: d.Ports})
	}
	return out
}

// Route converts a store.Route to its compute/v1 wire shape.
func Route(r *store.Route, networkName string) *compute.Route {
	return &compute.Route{
		Kind:            "compute#route",
		Id:              hashID(r.ID),
		Name:            r.Name,
		Network:         selfLink("global/networks/" + networkName),
		DestRange:       r.DestRange,
		Priority:        int64(r.Priority),
		NextHopGateway:  r.NextHopGateway,
		NextHopIp:       r.NextHopIP,
		NextHopInstance: r.NextHopInstance,
		NextHopNetwork:  r.NextHopNetwork,
		Description:     r.Description,
		SelfLink:        selfLink("global/routes/" + r.Name),
	}
}

// Instance converts a store.Instance to its compute/v1 wire shape.
func Instance(inst *store.Instance, networkName, subnetName string) *compute.Instance {
	out := &compute.Instance{
		Kind:              "compute#instance",
		Id:                hashID(inst.ID),
		Name:              inst.Name,
		Zone:              selfLink("zones/" + inst.Zone),
		MachineType:       selfLink("zones/" + inst.Zone + "/machineTypes/" + inst.MachineType),
		Status:            string(inst.State),
		Labels:            inst.Labels,
		CreationTimestamp: inst.CreatedAt.Format(rfc3339),
		SelfLink:          selfLink("zones/" + inst.Zone + "/instances/" + inst.Name),
		NetworkInterfaces: []*compute.NetworkInterface{{
			Network:    selfLink("global/networks/" + networkName),
			Subnetwork: selfLink("regions/subnetworks/" + subnetName),
			NetworkIP:  inst.InternalIP,
		}},
	}
	if len(inst.Metadata) > 0 {
		items := make([]*compute.MetadataItems, 0, len(inst.Metadata))
		for k, v := range inst.Metadata {
			val := v
			items = append(items, &compute.MetadataItems{Key: k, Value: &val})
		}
		out.Metadata = &compute.Metadata{Items: items}
	}
	if len(inst.Tags) > 0 {
		out.Tags = &compute.Tags{Items: inst.Tags}
	}
	return out
}

// Operation converts a store.Operation to its compute/v1 wire shape.
func Operation(op *store.Operation) *compute.Operation {
	return &compute.Operation{
		Kind:              "compute#operation",
		Id:                hashID(op.ID),
		Name:              op.Name,
		OperationType:     string(op.Type),
		TargetLink:        op.TargetLink,
		Status:            string(op.Status),
		Progress:          int64(op.Progress),
		InsertTime:        op.InsertTime.Format(rfc3339),
		StartTime:         op.StartTime.Format(rfc3339),
		EndTime:           op.EndTime.Format(rfc3339),
		SelfLink:          selfLink("global/operations/" + op.Name),
	}
}

func selfLink(suffix string) string {
	return "https://compute.googleapis.com/compute/v1/projects/local-project/" + suffix
}

// hashID turns a UUID-shaped store id into the uint64 numeric id the
// compute API expects every resource to carry; it is display-only and
// never looked back up.
func hashID(id string) uint64 {
	var h uint64 = 14695981039346656037
	for _, b := range []byte(id) {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return h
}
