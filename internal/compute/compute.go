// Package compute is the compute service (C8): instance CRUD, address
// allocation via internal/vpc, container materialization via
// internal/rundriver, the instance state machine, and operation
// records.
package compute

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/crossplane-contrib/cloudlocal/internal/emuerr"
	"github.com/crossplane-contrib/cloudlocal/internal/rundriver"
	"github.com/crossplane-contrib/cloudlocal/internal/store"
	"github.com/crossplane-contrib/cloudlocal/internal/vpc"
)

// Service wires the metadata store, the VPC manager and the container
// driver for every instance lifecycle operation.
type Service struct {
	Store  *store.Store
	VPC    *vpc.Service
	Driver *rundriver.Driver
}

var nameRE = regexp.MustCompile(`^[a-z]([-a-z0-9]{0,61}[a-z0-9])?$`)

// machineType is a fixed (cpu, memory) shape, the same approximation
// the real platform's predefined machine type catalog offers.
type machineType struct {
	CPU      int
	MemoryMB int
}

var machineTypes = map[string]machineType{
	"e2-micro":  {CPU: 1, MemoryMB: 1024},
	"e2-small":  {CPU: 2, MemoryMB: 2048},
	"e2-medium": {CPU: 2, MemoryMB: 4096},
	"e2-standard-2": {CPU: 2, MemoryMB: 8192},
	"e2-standard-4": {CPU: 4, MemoryMB: 16384},
}

// resolveMachineType maps a machine type name, or a selfLink suffix
// ending in one, to its (cpu, memory) shape.
func resolveMachineType(name string) (machineType, error) {
	name = lastPathSegment(name)
	mt, ok := machineTypes[name]
	if !ok {
		return machineType{}, emuerr.Newf(emuerr.InvalidArgument, "unknownMachineType", "unknown machine type %q", name)
	}
	return mt, nil
}

// resolveImage maps a source image reference to the local container
// image family it materializes as: debian/ubuntu map to their own
// family image, anything else falls back to alpine, the same
// fixed-mapping simplification spec.md §4.8 calls for.
func resolveImage(sourceImage string) string {
	s := strings.ToLower(lastPathSegment(sourceImage))
	switch {
	case strings.Contains(s, "debian"):
		return "debian:stable-slim"
	case strings.Contains(s, "ubuntu"):
		return "ubuntu:22.04"
	default:
		return "alpine:latest"
	}
}

func lastPathSegment(s string) string {
	idx := strings.LastIndex(s, "/")
	if idx < 0 {
		return s
	}
	return s[idx+1:]
}

// zoneRegion derives a region name from a zone name by dropping its
// trailing "-<letter>" suffix ("us-central1-a" -> "us-central1").
func zoneRegion(zone string) string {
	idx := strings.LastIndex(zone, "-")
	if idx < 0 {
		return zone
	}
	return zone[:idx]
}

// InsertParams describes an instance insert request.
type InsertParams struct {
	ProjectID      string
	Zone           string
	Name           string
	MachineType    string
	SourceImage    string
	NetworkName    string // "" means the project's default network
	SubnetworkName string // "" means the zone-region-matching subnet
	Metadata       map[string]string
	Labels         map[string]string
	Tags           []string
}

// Insert creates an instance: validates the request, resolves its
// machine shape/image/network, allocates an internal IP, commits a
// PROVISIONING row, then materializes and starts the backing container.
// A driver failure after the row commits leaves the instance
// TERMINATED and its IP allocated (spec.md open question), rather than
// rolling back metadata that a client may already be polling on.
func (s *Service) Insert(ctx context.Context, p InsertParams) (*store.Instance, *store.Operation, error) {
	if !nameRE.MatchString(p.Name) {
		return nil, nil, emuerr.Newf(emuerr.InvalidArgument, "invalidName", "instance name %q is not a valid RFC1035 label", p.Name)
	}
	mt, err := resolveMachineType(p.MachineType)
	if err != nil {
		return nil, nil, err
	}
	image := resolveImage(p.SourceImage)

	netw, sub, err := s.resolveNetworkAndSubnet(ctx, p.ProjectID, p.Zone, p.NetworkName, p.SubnetworkName)
	if err != nil {
		return nil, nil, err
	}

	ip, err := s.VPC.AllocateIP(ctx, sub.ID)
	if err != nil {
		return nil, nil, err
	}

	inst := &store.Instance{
		Name:        p.Name,
		ProjectID:   p.ProjectID,
		Zone:        p.Zone,
		MachineType: lastPathSegment(p.MachineType),
		Image:       image,
		CPU:         mt.CPU,
		MemoryMB:    mt.MemoryMB,
		State:       store.StateProvisioning,
		NetworkID:   netw.ID,
		SubnetID:    sub.ID,
		InternalIP:  ip.String(),
		Metadata:    p.Metadata,
		Labels:      p.Labels,
		Tags:        p.Tags,
	}
	err = s.Store.Tx(ctx, func(q *store.Queries) error {
		return q.CreateInstance(ctx, inst)
	})
	if err != nil {
		return nil, nil, err
	}

	containerID, startErr := s.materialize(ctx, inst, netw)
	if startErr != nil {
		_ = s.Store.Tx(ctx, func(q *store.Queries) error {
			return q.UpdateInstanceState(ctx, inst.ID, store.StateTerminated, "")
		})
		inst.State = store.StateTerminated
		op, opErr := s.recordOperation(ctx, store.OpInsert, inst.Name, startErr)
		if opErr != nil {
			return inst, nil, opErr
		}
		return inst, op, startErr
	}

	if err := s.Store.Tx(ctx, func(q *store.Queries) error {
		return q.UpdateInstanceState(ctx, inst.ID, store.StateRunning, containerID)
	}); err != nil {
		return inst, nil, err
	}
	inst.State = store.StateRunning
	inst.ContainerID = containerID

	op, err := s.recordOperation(ctx, store.OpInsert, inst.Name, nil)
	return inst, op, err
}

func (s *Service) materialize(ctx context.Context, inst *store.Instance, netw *store.Network) (string, error) {
	labels := map[string]string{
		"emulator": "true",
		"project":  inst.ProjectID,
		"zone":     inst.Zone,
		"instance": inst.Name,
	}
	containerID, err := s.Driver.ContainerCreate(ctx, rundriver.ContainerSpec{
		Name:        "gcp-vm-" + inst.Name,
		Image:       inst.Image,
		NetworkID:   netw.HostNetworkID,
		IPAddress:   inst.InternalIP,
		CPU:         int64(inst.CPU),
		MemoryBytes: int64(inst.MemoryMB) * 1024 * 1024,
		Labels:      labels,
	}, inst.ID)
	if err != nil {
		return "", err
	}
	if err := s.Driver.ContainerStart(ctx, containerID); err != nil {
		return containerID, err
	}
	return containerID, nil
}

// resolveNetworkAndSubnet resolves networkName (defaulting to
// "default", created lazily in auto mode if absent) and subnetworkName
// (defaulting to the subnet whose region matches the zone), enforcing
// that the subnet's region matches the zone's region.
func (s *Service) resolveNetworkAndSubnet(ctx context.Context, projectID, zone, networkName, subnetworkName string) (*store.Network, *store.Subnet, error) {
	if networkName == "" {
		networkName = "default"
	}

	var netw *store.Network
	err := s.Store.Tx(ctx, func(q *store.Queries) error {
		var err error
		netw, err = q.GetNetworkByName(ctx, projectID, networkName)
		return err
	})
	if emuerr.KindOf(err) == emuerr.NotFound && networkName == "default" {
		var subnets []*store.Subnet
		netw, subnets, err = s.VPC.CreateNetwork(ctx, vpc.CreateNetworkParams{
			ProjectID: projectID, Name: "default", AutoCreateSubnetworks: true, RoutingMode: store.RoutingModeRegional,
		})
		if err != nil {
			return nil, nil, err
		}
		if sub := subnetForRegion(subnets, zoneRegion(zone)); sub != nil {
			return netw, sub, nil
		}
	}
	if err != nil {
		return nil, nil, err
	}

	var subnets []*store.Subnet
	err = s.Store.Tx(ctx, func(q *store.Queries) error {
		var err error
		subnets, err = q.ListSubnets(ctx, netw.ID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	var sub *store.Subnet
	if subnetworkName != "" {
		subnetworkName = lastPathSegment(subnetworkName)
		for _, c := range subnets {
			if c.Name == subnetworkName {
				sub = c
				break
			}
		}
	} else {
		sub = subnetForRegion(subnets, zoneRegion(zone))
	}
	if sub == nil {
		return nil, nil, emuerr.Newf(emuerr.NotFound, "subnetNotFound", "no subnet found in network %s for zone %s", netw.Name, zone)
	}
	if sub.Region != zoneRegion(zone) {
		return nil, nil, emuerr.Newf(emuerr.InvalidArgument, "subnetRegionMismatch",
			"subnet %s is in region %s, zone %s is in region %s", sub.Name, sub.Region, zone, zoneRegion(zone))
	}
	return netw, sub, nil
}

func subnetForRegion(subnets []*store.Subnet, region string) *store.Subnet {
	for _, s := range subnets {
		if s.Region == region {
			return s
		}
	}
	return nil
}

// Get returns the instance named name in (projectID, zone).
func (s *Service) Get(ctx context.Context, projectID, zone, name string) (*store.Instance, error) {
	var inst *store.Instance
	err := s.Store.Tx(ctx, func(q *store.Queries) error {
		var err error
		inst, err = q.GetInstanceByName(ctx, projectID, zone, name)
		return err
	})
	return inst, err
}

// List returns every instance of (projectID, zone); an empty zone lists
// across every zone in the project.
func (s *Service) List(ctx context.Context, projectID, zone string) ([]*store.Instance, error) {
	var out []*store.Instance
	err := s.Store.Tx(ctx, func(q *store.Queries) error {
		var err error
		out, err = q.ListInstances(ctx, projectID, zone)
		return err
	})
	return out, err
}

// Start transitions a TERMINATED instance back to RUNNING. Any other
// current state is a FailedPrecondition.
func (s *Service) Start(ctx context.Context, projectID, zone, name string) (*store.Operation, error) {
	inst, err := s.Get(ctx, projectID, zone, name)
	if err != nil {
		return nil, err
	}
	if inst.State != store.StateTerminated {
		return nil, emuerr.Newf(emuerr.FailedPrecondition, "invalidStateTransition", "cannot start instance %s in state %s", name, inst.State)
	}

	var netw *store.Network
	err = s.Store.Tx(ctx, func(q *store.Queries) error {
		var err error
		netw, err = q.GetNetworkByID(ctx, inst.NetworkID)
		return err
	})
	if err != nil {
		return nil, err
	}

	if err := s.Store.Tx(ctx, func(q *store.Queries) error {
		return q.UpdateInstanceState(ctx, inst.ID, store.StateProvisioning, "")
	}); err != nil {
		return nil, err
	}

	containerID, startErr := s.materialize(ctx, inst, netw)
	nextState := store.StateRunning
	if startErr != nil {
		nextState = store.StateTerminated
	}
	if err := s.Store.Tx(ctx, func(q *store.Queries) error {
		return q.UpdateInstanceState(ctx, inst.ID, nextState, containerID)
	}); err != nil {
		return nil, err
	}
	return s.recordOperation(ctx, store.OpStart, name, startErr)
}

// Stop transitions a RUNNING instance through STOPPING to TERMINATED.
// Any other current state is a FailedPrecondition.
func (s *Service) Stop(ctx context.Context, projectID, zone, name string) (*store.Operation, error) {
	inst, err := s.Get(ctx, projectID, zone, name)
	if err != nil {
		return nil, err
	}
	if inst.State != store.StateRunning {
		return nil, emuerr.Newf(emuerr.FailedPrecondition, "invalidStateTransition", "cannot stop instance %s in state %s", name, inst.State)
	}
	if err := s.Store.Tx(ctx, func(q *store.Queries) error {
		return q.UpdateInstanceState(ctx, inst.ID, store.StateStopping, "")
	}); err != nil {
		return nil, err
	}

	stopErr := s.Driver.ContainerStop(ctx, inst.ContainerID)
	if err := s.Store.Tx(ctx, func(q *store.Queries) error {
		return q.UpdateInstanceState(ctx, inst.ID, store.StateTerminated, "")
	}); err != nil {
		return nil, err
	}
	return s.recordOperation(ctx, store.OpStop, name, stopErr)
}

// Delete removes an instance's container (best-effort) and its row,
// from any state.
func (s *Service) Delete(ctx context.Context, projectID, zone, name string) (*store.Operation, error) {
	inst, err := s.Get(ctx, projectID, zone, name)
	if err != nil {
		return nil, err
	}
	if inst.ContainerID != "" {
		// A container left behind here still carries the managed-by
		// label, so the reconciler's orphan sweep removes it later.
		_ = s.Driver.ContainerRemove(ctx, inst.ContainerID)
	}
	if err := s.Store.Tx(ctx, func(q *store.Queries) error {
		return q.DeleteInstance(ctx, inst.ID)
	}); err != nil {
		return nil, err
	}
	return s.recordOperation(ctx, store.OpDelete, name, nil)
}

func (s *Service) recordOperation(ctx context.Context, typ store.OperationType, targetName string, opErr error) (*store.Operation, error) {
	op := &store.Operation{
		Name:       fmt.Sprintf("operation-%s-%d", typ, time.Now().UTC().UnixNano()),
		Type:       typ,
		TargetLink: targetName,
	}
	if opErr != nil {
		op.Error = opErr.Error()
	}
	err := s.Store.Tx(ctx, func(q *store.Queries) error {
		return q.CreateOperation(ctx, op)
	})
	return op, err
}

// GetOperation returns operation name.
func (s *Service) GetOperation(ctx context.Context, name string) (*store.Operation, error) {
	var op *store.Operation
	err := s.Store.Tx(ctx, func(q *store.Queries) error {
		var err error
		op, err = q.GetOperation(ctx, name)
		return err
	})
	return op, err
}
