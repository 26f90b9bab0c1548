// Package rundriver is the container driver (C4): the one component that
// talks to a real host daemon rather than the embedded metadata store.
// It adapts compute instance and VPC lifecycle operations onto the
// Docker Engine API the same way the teacher's pkg/clients/* packages
// adapt Crossplane resources onto the GCP compute API, with a classify
// step (emuerr.ClassifyDriver) translating the remote error vocabulary
// into the shared taxonomy.
package rundriver

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/docker/docker/api/types"
	dockercontainer "github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	dockernetwork "github.com/docker/docker/api/types/network"
	dockerclient "github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/pkg/errors"

	"github.com/crossplane-contrib/cloudlocal/internal/emuerr"
)

// Label keys the driver stamps on every container and network it
// creates, so List and the reconciler can tell emulator-owned resources
// apart from anything else running on the host daemon.
const (
	LabelManagedBy = "cloudlocal.managed-by"
	LabelInstance  = "cloudlocal.instance-id"
	LabelNetwork   = "cloudlocal.network-id"
	managedByValue = "cloudlocal"
)

// Driver adapts instance and network lifecycle operations onto a Docker
// daemon. Per-container-id locking serializes concurrent start/stop/
// delete calls against the same instance; the daemon itself offers no
// such guarantee.
type Driver struct {
	cli *dockerclient.Client

	mu     sync.Mutex
	locks  map[string]*sync.Mutex
}

// New dials the daemon at endpoint (a Docker host address, e.g.
// "unix:///var/run/docker.sock").
func New(endpoint string) (*Driver, error) {
	cli, err := dockerclient.NewClientWithOpts(
		dockerclient.WithHost(endpoint),
		dockerclient.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, errors.Wrap(err, "cannot create docker client")
	}
	return &Driver{cli: cli, locks: map[string]*sync.Mutex{}}, nil
}

func (d *Driver) lockFor(id string) *sync.Mutex {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.locks[id]
	if !ok {
		m = &sync.Mutex{}
		d.locks[id] = m
	}
	return m
}

// NetworkSpec describes a Docker bridge network to create for a VPC's
// host network.
type NetworkSpec struct {
	Name      string
	Subnet    string
	Gateway   string
	NetworkID string // emulator-side Network.ID, stamped as a label
}

// NetworkCreate creates a bridge network matching spec, returning the
// daemon's network id. A name collision surfaces as
// emuerr.AlreadyExists.
func (d *Driver) NetworkCreate(ctx context.Context, spec NetworkSpec) (string, error) {
	resp, err := d.cli.NetworkCreate(ctx, spec.Name, types.NetworkCreate{
		Driver: "bridge",
		IPAM: &dockernetwork.IPAM{
			Config: []dockernetwork.IPAMConfig{{Subnet: spec.Subnet, Gateway: spec.Gateway}},
		},
		Labels: map[string]string{
			LabelManagedBy: managedByValue,
			LabelNetwork:   spec.NetworkID,
		},
	})
	if err != nil {
		return "", emuerr.Wrap(err, emuerr.ClassifyDriver(err), "networkCreateFailed", "cannot create docker network "+spec.Name)
	}
	return resp.ID, nil
}

// NetworkRemove removes the daemon network with id. A missing network
// is not an error: the caller may be retrying after a partial failure.
func (d *Driver) NetworkRemove(ctx context.Context, id string) error {
	if err := d.cli.NetworkRemove(ctx, id); err != nil {
		if emuerr.ClassifyDriver(err) == emuerr.NotFound {
			return nil
		}
		return emuerr.Wrap(err, emuerr.ClassifyDriver(err), "networkRemoveFailed", "cannot remove docker network "+id)
	}
	return nil
}

// ContainerSpec describes an instance to run as a container.
type ContainerSpec struct {
	Name        string
	Image       string
	NetworkID   string // daemon network id
	IPAddress   string
	CPU         int64 // whole cores; 0 means unset
	MemoryBytes int64 // 0 means unset
	Env         []string
	Labels      map[string]string
}

// ContainerCreate creates (but does not start) a container matching
// spec, standing in for the real platform's VM provisioning step. The
// image is pulled first when the daemon does not already have it.
func (d *Driver) ContainerCreate(ctx context.Context, spec ContainerSpec, instanceID string) (string, error) {
	if _, _, err := d.cli.ImageInspectWithRaw(ctx, spec.Image); err != nil {
		if emuerr.ClassifyDriver(err) != emuerr.NotFound {
			return "", emuerr.Wrap(err, emuerr.ClassifyDriver(err), "imageInspectFailed", "cannot inspect image "+spec.Image)
		}
		rc, err := d.cli.ImagePull(ctx, spec.Image, types.ImagePullOptions{})
		if err != nil {
			return "", emuerr.Wrap(err, emuerr.ClassifyDriver(err), "imagePullFailed", "cannot pull image "+spec.Image)
		}
		_, err = io.Copy(io.Discard, rc)
		rc.Close()
		if err != nil {
			return "", emuerr.Wrap(err, emuerr.Unavailable, "imagePullFailed", "cannot pull image "+spec.Image)
		}
	}

	labels := map[string]string{
		LabelManagedBy: managedByValue,
		LabelInstance:  instanceID,
	}
	for k, v := range spec.Labels {
		labels[k] = v
	}

	resp, err := d.cli.ContainerCreate(ctx,
		&dockercontainer.Config{
			Image:  spec.Image,
			Env:    spec.Env,
			Labels: labels,
		},
		&dockercontainer.HostConfig{
			Resources: dockercontainer.Resources{
				NanoCPUs: spec.CPU * 1_000_000_000,
				Memory:   spec.MemoryBytes,
			},
		},
		&dockernetwork.NetworkingConfig{
			EndpointsConfig: map[string]*dockernetwork.EndpointSettings{
				spec.NetworkID: {IPAMConfig: &dockernetwork.EndpointIPAMConfig{IPv4Address: spec.IPAddress}},
			},
		},
		nil, spec.Name,
	)
	if err != nil {
		return "", emuerr.Wrap(err, emuerr.ClassifyDriver(err), "containerCreateFailed", "cannot create container "+spec.Name)
	}
	return resp.ID, nil
}

// ContainerStart starts container id.
func (d *Driver) ContainerStart(ctx context.Context, id string) error {
	lock := d.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	if err := d.cli.ContainerStart(ctx, id, types.ContainerStartOptions{}); err != nil {
		return emuerr.Wrap(err, emuerr.ClassifyDriver(err), "containerStartFailed", "cannot start container "+id)
	}
	return nil
}

// ContainerStop stops container id, giving it up to its configured grace
// period before SIGKILL.
func (d *Driver) ContainerStop(ctx context.Context, id string) error {
	lock := d.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	if err := d.cli.ContainerStop(ctx, id, dockercontainer.StopOptions{}); err != nil {
		if emuerr.ClassifyDriver(err) == emuerr.NotFound {
			return nil
		}
		return emuerr.Wrap(err, emuerr.ClassifyDriver(err), "containerStopFailed", "cannot stop container "+id)
	}
	return nil
}

// ContainerRemove force-removes container id. A missing container is
// not an error.
func (d *Driver) ContainerRemove(ctx context.Context, id string) error {
	lock := d.lockFor(id)
	lock.Lock()
	defer lock.Unlock()
	if err := d.cli.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: true}); err != nil {
		if emuerr.ClassifyDriver(err) == emuerr.NotFound {
			return nil
		}
		return emuerr.Wrap(err, emuerr.ClassifyDriver(err), "containerRemoveFailed", "cannot remove container "+id)
	}
	return nil
}

// ContainerState is the subset of the daemon's reported state the
// reconciler cares about.
type ContainerState struct {
	ID      string
	Running bool
	Exists  bool
}

// ContainerInspect returns id's current state. A missing container
// returns ContainerState{Exists: false}, not an error: the reconciler
// treats that as the expected outcome of a container removed out of
// band.
func (d *Driver) ContainerInspect(ctx context.Context, id string) (ContainerState, error) {
	info, err := d.cli.ContainerInspect(ctx, id)
	if err != nil {
		if emuerr.ClassifyDriver(err) == emuerr.NotFound {
			return ContainerState{Exists: false}, nil
		}
		return ContainerState{}, emuerr.Wrap(err, emuerr.ClassifyDriver(err), "containerInspectFailed", "cannot inspect container "+id)
	}
	return ContainerState{ID: info.ID, Exists: true, Running: info.State != nil && info.State.Running}, nil
}

// ListManaged returns the id of every container labeled as belonging to
// this emulator, for the reconciler's orphan sweep.
func (d *Driver) ListManaged(ctx context.Context) ([]string, error) {
	containers, err := d.cli.ContainerList(ctx, types.ContainerListOptions{
		All:     true,
		Filters: filters.NewArgs(filters.Arg("label", LabelManagedBy+"="+managedByValue)),
	})
	if err != nil {
		return nil, emuerr.Wrap(err, emuerr.ClassifyDriver(err), "containerListFailed", "cannot list managed containers")
	}
	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

// ContainerLogs streams id's combined stdout/stderr. The caller must
// close the returned reader.
func (d *Driver) ContainerLogs(ctx context.Context, id string) (io.ReadCloser, error) {
	rc, err := d.cli.ContainerLogs(ctx, id, types.ContainerLogsOptions{ShowStdout: true, ShowStderr: true})
	if err != nil {
		return nil, emuerr.Wrap(err, emuerr.ClassifyDriver(err), "containerLogsFailed", "cannot stream logs for "+id)
	}
	return rc, nil
}

// PortBinding maps a container's internal port to a host port; unused
// while the emulator only assigns internal IPs, kept for hosts that
// front a container's services with published ports.
type PortBinding struct {
	ContainerPort string
	HostPort      string
}

func portSet(bindings []PortBinding) (nat.PortMap, error) {
	out := nat.PortMap{}
	for _, b := range bindings {
		port, err := nat.NewPort("tcp", b.ContainerPort)
		if err != nil {
			return nil, fmt.Errorf("invalid container port %q: %w", b.ContainerPort, err)
		}
		out[port] = []nat.PortBinding{{HostPort: b.HostPort}}
	}
	return out, nil
}

