// Package reconciler is the background loop (C9) that converges
// recorded instance state with the container runtime's observed state.
// It never creates instances; it only reacts to drift.
package reconciler

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/crossplane-contrib/cloudlocal/internal/rundriver"
	"github.com/crossplane-contrib/cloudlocal/internal/store"
)

// Reconciler owns the metadata store and container driver handles its
// Run loop polls on SyncInterval.
type Reconciler struct {
	Store        *store.Store
	Driver       *rundriver.Driver
	SyncInterval time.Duration
	StaleAfter   time.Duration // grace period before a container-less instance is marked TERMINATED
	Log          *zap.SugaredLogger
}

// Run polls every SyncInterval until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := r.Tick(ctx); err != nil {
				r.Log.Errorw("reconcile tick failed", "error", err)
			}
		}
	}
}

// Tick runs one reconciliation pass: container state for known
// instances, orphan container removal, and stale-PROVISIONING cleanup.
// The three phases are independent; a failure in one does not stop the
// others from running.
func (r *Reconciler) Tick(ctx context.Context) error {
	var result *multierror.Error
	if err := r.reconcileKnownInstances(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := r.removeOrphanContainers(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	if err := r.terminateStaleProvisioning(ctx); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

func (r *Reconciler) reconcileKnownInstances(ctx context.Context) error {
	var instances []*store.Instance
	for _, st := range []store.InstanceState{store.StateRunning, store.StateStopping, store.StateProvisioning, store.StateTerminated} {
		var batch []*store.Instance
		if err := r.Store.Tx(ctx, func(q *store.Queries) error {
			var err error
			batch, err = q.ListInstancesByState(ctx, st)
			return err
		}); err != nil {
			return err
		}
		instances = append(instances, batch...)
	}

	for _, inst := range instances {
		if inst.ContainerID == "" {
			continue
		}
		cs, err := r.Driver.ContainerInspect(ctx, inst.ContainerID)
		if err != nil {
			r.Log.Errorw("inspect failed", "instance", inst.Name, "error", err)
			continue
		}
		want := observedState(cs)
		if want == inst.State {
			continue
		}
		if err := r.Store.Tx(ctx, func(q *store.Queries) error {
			return q.UpdateInstanceState(ctx, inst.ID, want, "")
		}); err != nil {
			return err
		}
		r.Log.Infow("converged instance state", "instance", inst.Name, "from", inst.State, "to", want)
	}
	return nil
}

func observedState(cs rundriver.ContainerState) store.InstanceState {
	switch {
	case !cs.Exists:
		return store.StateDeleted
	case cs.Running:
		return store.StateRunning
	default:
		return store.StateTerminated
	}
}

func (r *Reconciler) removeOrphanContainers(ctx context.Context) error {
	managedIDs, err := r.Driver.ListManaged(ctx)
	if err != nil {
		return err
	}

	known := make(map[string]bool)
	for _, st := range []store.InstanceState{store.StateRunning, store.StateStopping, store.StateProvisioning, store.StateTerminated} {
		var batch []*store.Instance
		if err := r.Store.Tx(ctx, func(q *store.Queries) error {
			var err error
			batch, err = q.ListInstancesByState(ctx, st)
			return err
		}); err != nil {
			return err
		}
		for _, inst := range batch {
			if inst.ContainerID != "" {
				known[inst.ContainerID] = true
			}
		}
	}

	for _, id := range managedIDs {
		if known[id] {
			continue
		}
		if err := r.Driver.ContainerRemove(ctx, id); err != nil {
			r.Log.Errorw("orphan removal failed", "container", id, "error", err)
			continue
		}
		r.Log.Infow("removed orphan container", "container", id)
	}
	return nil
}

func (r *Reconciler) terminateStaleProvisioning(ctx context.Context) error {
	var stale []*store.Instance
	if err := r.Store.Tx(ctx, func(q *store.Queries) error {
		var err error
		stale, err = q.ListInstancesByState(ctx, store.StateProvisioning)
		return err
	}); err != nil {
		return err
	}

	cutoff := time.Now().UTC().Add(-r.StaleAfter)
	for _, inst := range stale {
		if inst.ContainerID != "" || inst.UpdatedAt.After(cutoff) {
			continue
		}
		if err := r.Store.Tx(ctx, func(q *store.Queries) error {
			return q.UpdateInstanceState(ctx, inst.ID, store.StateTerminated, "")
		}); err != nil {
			return err
		}
		r.Log.Infow("marked stale provisioning instance terminated", "instance", inst.Name)
	}
	return nil
}
