package reconciler

import (
	"testing"

	"github.com/crossplane-contrib/cloudlocal/internal/rundriver"
	"github.com/crossplane-contrib/cloudlocal/internal/store"
)

func TestObservedStateMapsContainerState(t *testing.T) {
	cases := []struct {
		name string
		cs   rundriver.ContainerState
		want store.InstanceState
	}{
		{"missing", rundriver.ContainerState{Exists: false}, store.StateDeleted},
		{"running", rundriver.ContainerState{Exists: true, Running: true}, store.StateRunning},
		{"exited", rundriver.ContainerState{Exists: true, Running: false}, store.StateTerminated},
	}
	for _, c := range cases {
		if got := observedState(c.cs); got != c.want {
			t.Errorf("%s: observedState = %v, want %v", c.name, got, c.want)
		}
	}
}
