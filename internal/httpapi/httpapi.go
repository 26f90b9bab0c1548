// Package httpapi is the thin wire-protocol adapter SPEC_FULL.md §1
// describes: a JSON surface over the typed core operations, not a full
// reimplementation of any upstream REST API. Handlers marshal responses
// through internal/wire and translate internal/emuerr kinds to HTTP
// status codes; all business logic lives in the service layer.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/crossplane-contrib/cloudlocal/internal/compute"
	"github.com/crossplane-contrib/cloudlocal/internal/emuerr"
	"github.com/crossplane-contrib/cloudlocal/internal/identity"
	"github.com/crossplane-contrib/cloudlocal/internal/objects"
)

// Server holds every service the adapter fronts.
type Server struct {
	Objects  *objects.Service
	Identity *identity.Service
	Compute  *compute.Service
	Log      *zap.SugaredLogger
}

// Router builds the full route table.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/storage/v1/b", s.listBuckets).Methods(http.MethodGet)
	r.HandleFunc("/storage/v1/b", s.createBucket).Methods(http.MethodPost)
	r.HandleFunc("/storage/v1/b/{bucket}", s.getBucket).Methods(http.MethodGet)
	r.HandleFunc("/storage/v1/b/{bucket}", s.deleteBucket).Methods(http.MethodDelete)
	r.HandleFunc("/storage/v1/b/{bucket}/o", s.listObjects).Methods(http.MethodGet)
	r.HandleFunc("/upload/storage/v1/b/{bucket}/o", s.uploadObject).Methods(http.MethodPost)
	r.HandleFunc("/storage/v1/b/{bucket}/o/{object}", s.getObject).Methods(http.MethodGet)
	r.HandleFunc("/download/storage/v1/b/{bucket}/o/{object}", s.downloadObject).Methods(http.MethodGet)
	r.HandleFunc("/storage/v1/b/{bucket}/o/{object}", s.deleteObject).Methods(http.MethodDelete)

	r.HandleFunc("/projects/{project}/serviceAccounts", s.createServiceAccount).Methods(http.MethodPost)
	r.HandleFunc("/projects/{project}/serviceAccounts", s.listServiceAccounts).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project}/serviceAccounts/{email}", s.getServiceAccount).Methods(http.MethodGet)
	r.HandleFunc("/projects/{project}/serviceAccounts/{email}/keys", s.createServiceAccountKey).Methods(http.MethodPost)

	r.HandleFunc("/compute/v1/projects/{project}/zones/{zone}/instances", s.insertInstance).Methods(http.MethodPost)
	r.HandleFunc("/compute/v1/projects/{project}/zones/{zone}/instances", s.listInstances).Methods(http.MethodGet)
	r.HandleFunc("/compute/v1/projects/{project}/zones/{zone}/instances/{instance}", s.getInstance).Methods(http.MethodGet)
	r.HandleFunc("/compute/v1/projects/{project}/zones/{zone}/instances/{instance}/start", s.startInstance).Methods(http.MethodPost)
	r.HandleFunc("/compute/v1/projects/{project}/zones/{zone}/instances/{instance}/stop", s.stopInstance).Methods(http.MethodPost)
	r.HandleFunc("/compute/v1/projects/{project}/zones/{zone}/instances/{instance}", s.deleteInstance).Methods(http.MethodDelete)

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if body == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.Log.Errorw("cannot encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := httpStatus(emuerr.KindOf(err))
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

func httpStatus(k emuerr.Kind) int {
	switch k {
	case emuerr.InvalidArgument, emuerr.OutOfRange:
		return http.StatusBadRequest
	case emuerr.NotFound:
		return http.StatusNotFound
	case emuerr.AlreadyExists:
		return http.StatusConflict
	case emuerr.PreconditionFailed, emuerr.FailedPrecondition:
		return http.StatusPreconditionFailed
	case emuerr.Aborted:
		return http.StatusConflict
	case emuerr.Unavailable:
		return http.StatusServiceUnavailable
	case emuerr.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case emuerr.Cancelled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

func parseInt64(s string) int64 {
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}
