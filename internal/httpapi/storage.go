package httpapi

import (
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	storagev1 "google.golang.org/api/storage/v1"

	"github.com/crossplane-contrib/cloudlocal/internal/objects"
	"github.com/crossplane-contrib/cloudlocal/internal/wire"
)

type createBucketRequest struct {
	Name              string `json:"name"`
	Location          string `json:"location"`
	StorageClass      string `json:"storageClass"`
	VersioningEnabled bool   `json:"versioningEnabled"`
}

func (s *Server) createBucket(w http.ResponseWriter, r *http.Request) {
	var req createBucketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	project := r.URL.Query().Get("project")
	b, err := s.Objects.CreateBucket(r.Context(), objects.CreateBucketParams{
		ProjectID:         project,
		Name:              req.Name,
		Location:          req.Location,
		StorageClass:      req.StorageClass,
		VersioningEnabled: req.VersioningEnabled,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wire.Bucket(b))
}

func (s *Server) getBucket(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["bucket"]
	b, err := s.Objects.GetBucket(r.Context(), name)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wire.Bucket(b))
}

func (s *Server) listBuckets(w http.ResponseWriter, r *http.Request) {
	project := r.URL.Query().Get("project")
	buckets, err := s.Objects.ListBuckets(r.Context(), project)
	if err != nil {
		s.writeError(w, err)
		return
	}
	items := make([]*storagev1.Bucket, 0, len(buckets))
	for _, b := range buckets {
		items = append(items, wire.Bucket(b))
	}
	s.writeJSON(w, http.StatusOK, &storagev1.Buckets{Kind: "storage#buckets", Items: items})
}

func (s *Server) deleteBucket(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["bucket"]
	if err := s.Objects.DeleteBucket(r.Context(), name); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) uploadObject(w http.ResponseWriter, r *http.Request) {
	bucket := mux.Vars(r)["bucket"]
	name := r.URL.Query().Get("name")
	obj, ver, err := s.Objects.Upload(r.Context(), objects.UploadParams{
		BucketName:  bucket,
		ObjectName:  name,
		ContentType: r.Header.Get("Content-Type"),
		Content:     r.Body,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, wire.Object(obj, ver))
}

// getObject returns an object version's metadata without its payload.
// Download is used for the lookup because the service does not expose the
// underlying Object row on its own; the payload reader is closed unread.
func (s *Server) getObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	generation := parseInt64(r.URL.Query().Get("generation"))
	ver, rc, err := s.Objects.Download(r.Context(), vars["bucket"], vars["object"], generation, 0, 0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	rc.Close()
	s.writeJSON(w, http.StatusOK, &storagev1.Object{
		Kind:           "storage#object",
		Name:           vars["object"],
		Bucket:         vars["bucket"],
		Generation:     ver.Generation,
		ContentType:    ver.ContentType,
		Size:           uint64(ver.Size),
		Md5Hash:        ver.MD5,
		Crc32c:         ver.CRC32C,
		TimeCreated:    ver.CreatedAt.Format("2006-01-02T15:04:05.000Z07:00"),
	})
}

func (s *Server) downloadObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	generation := parseInt64(r.URL.Query().Get("generation"))
	offset, length := int64(0), int64(-1)
	if rng := r.Header.Get("Range"); rng != "" {
		offset, length = parseRange(rng)
	}
	ver, rc, err := s.Objects.Download(r.Context(), vars["bucket"], vars["object"], generation, offset, length)
	if err != nil {
		s.writeError(w, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", ver.ContentType)
	etag := ver.MD5
	if raw, err := base64.StdEncoding.DecodeString(ver.MD5); err == nil {
		etag = hex.EncodeToString(raw)
	}
	w.Header().Set("ETag", `"`+etag+`"`)
	w.WriteHeader(http.StatusOK)
	io.Copy(w, rc) //nolint:errcheck
}

func (s *Server) deleteObject(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	generation := parseInt64(r.URL.Query().Get("generation"))
	err := s.Objects.Delete(r.Context(), objects.DeleteParams{
		BucketName: vars["bucket"],
		ObjectName: vars["object"],
		Generation: generation,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusNoContent, nil)
}

func (s *Server) listObjects(w http.ResponseWriter, r *http.Request) {
	bucket := mux.Vars(r)["bucket"]
	q := r.URL.Query()
	pageSize, _ := strconv.Atoi(q.Get("maxResults"))
	res, err := s.Objects.List(r.Context(), objects.ListParams{
		BucketName: bucket,
		Prefix:     q.Get("prefix"),
		PageToken:  q.Get("pageToken"),
		PageSize:   pageSize,
		Versions:   q.Get("versions") == "true",
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"kind":          "storage#objects",
		"items":         res.Rows,
		"nextPageToken": res.NextPageToken,
	})
}

// parseRange is a best-effort "bytes=N-M" parse, not a full RFC 7233
// implementation: multi-range and suffix-range ("bytes=-500") requests
// are not supported. A length of -1 means "to the end of the payload";
// an unparseable header selects the whole payload.
func parseRange(header string) (offset, length int64) {
	var start, end int64
	n, err := fmt.Sscanf(header, "bytes=%d-%d", &start, &end)
	if err != nil || n < 1 || start < 0 {
		return 0, -1
	}
	if n == 2 && end >= start {
		return start, end - start + 1
	}
	return start, -1
}
