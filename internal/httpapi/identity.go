package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	iamv1 "google.golang.org/api/iam/v1"

	"github.com/crossplane-contrib/cloudlocal/internal/identity"
	"github.com/crossplane-contrib/cloudlocal/internal/wire"
)

type createServiceAccountRequest struct {
	AccountID   string `json:"accountId"`
	DisplayName string `json:"displayName"`
	Description string `json:"description"`
}

func (s *Server) createServiceAccount(w http.ResponseWriter, r *http.Request) {
	project := mux.Vars(r)["project"]
	var req createServiceAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	sa, err := s.Identity.CreateServiceAccount(r.Context(), identity.CreateServiceAccountParams{
		ProjectID:   project,
		AccountID:   req.AccountID,
		DisplayName: req.DisplayName,
		Description: req.Description,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wire.ServiceAccount(sa))
}

func (s *Server) getServiceAccount(w http.ResponseWriter, r *http.Request) {
	email := mux.Vars(r)["email"]
	sa, err := s.Identity.GetServiceAccount(r.Context(), email)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wire.ServiceAccount(sa))
}

func (s *Server) listServiceAccounts(w http.ResponseWriter, r *http.Request) {
	project := mux.Vars(r)["project"]
	accounts, err := s.Identity.ListServiceAccounts(r.Context(), project)
	if err != nil {
		s.writeError(w, err)
		return
	}
	items := make([]*iamv1.ServiceAccount, 0, len(accounts))
	for _, sa := range accounts {
		items = append(items, wire.ServiceAccount(sa))
	}
	s.writeJSON(w, http.StatusOK, &iamv1.ListServiceAccountsResponse{Accounts: items})
}

func (s *Server) createServiceAccountKey(w http.ResponseWriter, r *http.Request) {
	email := mux.Vars(r)["email"]
	k, err := s.Identity.CreateServiceAccountKey(r.Context(), identity.CreateKeyParams{ServiceAccountEmail: email})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wire.ServiceAccountKey(k))
}
