package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	computev1 "google.golang.org/api/compute/v1"

	"github.com/crossplane-contrib/cloudlocal/internal/compute"
	"github.com/crossplane-contrib/cloudlocal/internal/wire"
)

type insertInstanceRequest struct {
	Name           string            `json:"name"`
	MachineType    string            `json:"machineType"`
	SourceImage    string            `json:"sourceImage"`
	NetworkName    string            `json:"network"`
	SubnetworkName string            `json:"subnetwork"`
	Metadata       map[string]string `json:"metadata"`
	Labels         map[string]string `json:"labels"`
	Tags           []string          `json:"tags"`
}

func (s *Server) insertInstance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	var req insertInstanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	_, op, err := s.Compute.Insert(r.Context(), compute.InsertParams{
		ProjectID:      vars["project"],
		Zone:           vars["zone"],
		Name:           req.Name,
		MachineType:    req.MachineType,
		SourceImage:    req.SourceImage,
		NetworkName:    req.NetworkName,
		SubnetworkName: req.SubnetworkName,
		Metadata:       req.Metadata,
		Labels:         req.Labels,
		Tags:           req.Tags,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wire.Operation(op))
}

func (s *Server) getInstance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	inst, err := s.Compute.Get(r.Context(), vars["project"], vars["zone"], vars["instance"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	// wire.Instance wants the network/subnet *name*; the service only
	// hands back ids here, so self-links embed ids instead of names.
	s.writeJSON(w, http.StatusOK, wire.Instance(inst, inst.NetworkID, inst.SubnetID))
}

func (s *Server) listInstances(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	instances, err := s.Compute.List(r.Context(), vars["project"], vars["zone"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	items := make([]*computev1.Instance, 0, len(instances))
	for _, inst := range instances {
		items = append(items, wire.Instance(inst, inst.NetworkID, inst.SubnetID))
	}
	s.writeJSON(w, http.StatusOK, &computev1.InstanceList{Kind: "compute#instanceList", Items: items})
}

func (s *Server) startInstance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	op, err := s.Compute.Start(r.Context(), vars["project"], vars["zone"], vars["instance"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wire.Operation(op))
}

func (s *Server) stopInstance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	op, err := s.Compute.Stop(r.Context(), vars["project"], vars["zone"], vars["instance"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wire.Operation(op))
}

func (s *Server) deleteInstance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	op, err := s.Compute.Delete(r.Context(), vars["project"], vars["zone"], vars["instance"])
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wire.Operation(op))
}
