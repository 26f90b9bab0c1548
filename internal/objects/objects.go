// Package objects is the object service (C6): bucket and object
// lifecycle, upload (simple and resumable), download, deletion,
// listing and signed URLs, built on top of the metadata store and the
// payload store.
package objects

import (
	"context"
	"crypto/md5"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"hash/crc32"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/crossplane-contrib/cloudlocal/internal/blobstore"
	"github.com/crossplane-contrib/cloudlocal/internal/emuerr"
	"github.com/crossplane-contrib/cloudlocal/internal/store"
)

// bucketNameRE matches a bucket name 3-63 chars long, lowercase
// alphanumeric/./-/_, starting and ending with an alphanumeric.
var bucketNameRE = regexp.MustCompile(`^[a-z0-9][a-z0-9._-]{1,61}[a-z0-9]$`)

// validateBucketName enforces the bucket-create naming rules: 3-63
// chars, lowercase alnum/./-/_, start and end alnum, no consecutive dots.
func validateBucketName(name string) error {
	if !bucketNameRE.MatchString(name) {
		return emuerr.Newf(emuerr.InvalidArgument, "invalidBucketName",
			"bucket name %q must be 3-63 lowercase alphanumeric/./-/_ characters, starting and ending with an alphanumeric", name)
	}
	if strings.Contains(name, "..") {
		return emuerr.Newf(emuerr.InvalidArgument, "invalidBucketName", "bucket name %q must not contain consecutive dots", name)
	}
	return nil
}

// validateObjectName enforces the object-create naming rules: no NUL,
// no control characters below 0x20 other than TAB, no CR/LF, no
// leading/trailing whitespace, no "//", and at most 1024 UTF-8 bytes.
func validateObjectName(name string) error {
	if name == "" {
		return emuerr.Newf(emuerr.InvalidArgument, "invalidObjectName", "object name must not be empty")
	}
	if len(name) > 1024 {
		return emuerr.Newf(emuerr.InvalidArgument, "invalidObjectName", "object name exceeds 1024 bytes")
	}
	if strings.TrimSpace(name) != name {
		return emuerr.Newf(emuerr.InvalidArgument, "invalidObjectName", "object name must not have leading or trailing whitespace")
	}
	if strings.Contains(name, "//") {
		return emuerr.Newf(emuerr.InvalidArgument, "invalidObjectName", "object name must not contain \"//\"")
	}
	for _, r := range name {
		if r == '\r' || r == '\n' || (r < 0x20 && r != '\t') {
			return emuerr.Newf(emuerr.InvalidArgument, "invalidObjectName", "object name must not contain control characters")
		}
	}
	return nil
}

// Service wires the metadata store to the payload store for every
// object and bucket operation.
type Service struct {
	Store *store.Store
	Blobs *blobstore.Store
}

// CreateBucketParams describes a bucket create request.
type CreateBucketParams struct {
	ProjectID         string
	Name              string
	Location          string
	StorageClass      string
	VersioningEnabled bool
	LifecycleRules    []store.LifecycleRule
}

// CreateBucket inserts a bucket. Name collisions, which are enforced
// globally, surface as emuerr.AlreadyExists.
func (s *Service) CreateBucket(ctx context.Context, p CreateBucketParams) (*store.Bucket, error) {
	if err := validateBucketName(p.Name); err != nil {
		return nil, err
	}
	if p.StorageClass == "" {
		p.StorageClass = "STANDARD"
	}
	var b *store.Bucket
	err := s.Store.Tx(ctx, func(q *store.Queries) error {
		b = &store.Bucket{
			Name:              p.Name,
			ProjectID:         p.ProjectID,
			Location:          p.Location,
			StorageClass:      p.StorageClass,
			VersioningEnabled: p.VersioningEnabled,
			LifecycleRules:    p.LifecycleRules,
		}
		b.ID = store.NewID()
		return q.CreateBucket(ctx, b)
	})
	return b, err
}

// GetBucket returns bucket name, or NotFound.
func (s *Service) GetBucket(ctx context.Context, name string) (*store.Bucket, error) {
	var b *store.Bucket
	err := s.Store.Tx(ctx, func(q *store.Queries) error {
		var err error
		b, err = q.GetBucketByName(ctx, name)
		return err
	})
	return b, err
}

// ListBuckets returns every bucket in projectID.
func (s *Service) ListBuckets(ctx context.Context, projectID string) ([]*store.Bucket, error) {
	var out []*store.Bucket
	err := s.Store.Tx(ctx, func(q *store.Queries) error {
		var err error
		out, err = q.ListBuckets(ctx, projectID)
		return err
	})
	return out, err
}

// SetLifecycle replaces bucket name's lifecycle rules.
func (s *Service) SetLifecycle(ctx context.Context, name string, rules []store.LifecycleRule) (*store.Bucket, error) {
	var b *store.Bucket
	err := s.Store.Tx(ctx, func(q *store.Queries) error {
		var err error
		b, err = q.GetBucketByName(ctx, name)
		if err != nil {
			return err
		}
		if err := q.ReplaceLifecycleRules(ctx, b.ID, rules); err != nil {
			return err
		}
		return q.BumpMetageneration(ctx, b.ID)
	})
	return b, err
}

// DeleteBucket removes bucket name, refusing while it still holds
// live objects.
func (s *Service) DeleteBucket(ctx context.Context, name string) error {
	return s.Store.Tx(ctx, func(q *store.Queries) error {
		b, err := q.GetBucketByName(ctx, name)
		if err != nil {
			return err
		}
		n, err := q.CountObjects(ctx, b.ID, true)
		if err != nil {
			return err
		}
		if n > 0 {
			return emuerr.Newf(emuerr.FailedPrecondition, "bucketNotEmpty", "bucket %s is not empty", name)
		}
		return q.DeleteBucket(ctx, b.ID)
	})
}

// UploadParams describes a simple or media upload request: the whole
// payload is supplied up front, as opposed to a resumable session's
// incremental chunks.
type UploadParams struct {
	BucketName            string
	ObjectName            string
	ContentType           string
	Content               io.Reader
	IfGenerationMatch     *int64
	IfMetagenerationMatch *int64
}

// Upload runs the simple/media upload pipeline: stream the payload to a
// fresh blob path while hashing it, then check preconditions and commit
// the metadata row inside one transaction. The payload is written to
// disk before the transaction opens and removed again if the
// transaction fails, so no metadata row ever points at a missing
// payload; a blob orphaned by a crash between the two steps is
// reclaimed by the lifecycle worker's GC pass.
func (s *Service) Upload(ctx context.Context, p UploadParams) (*store.Object, *store.ObjectVersion, error) {
	if err := validateObjectName(p.ObjectName); err != nil {
		return nil, nil, err
	}
	path := s.Blobs.NewPath()
	w, err := s.Blobs.Create(path)
	if err != nil {
		return nil, nil, err
	}
	md5sum := md5.New()
	crc := crc32.New(crc32.MakeTable(crc32.Castagnoli))
	size, werr := io.Copy(io.MultiWriter(w, md5sum, crc), p.Content)
	cerr := w.Close()
	if werr != nil {
		s.Blobs.Remove(path)
		return nil, nil, werr
	}
	if cerr != nil {
		s.Blobs.Remove(path)
		return nil, nil, cerr
	}

	var obj *store.Object
	var ver *store.ObjectVersion
	var supersededPath string
	err = s.Store.Tx(ctx, func(q *store.Queries) error {
		b, err := q.GetBucketByName(ctx, p.BucketName)
		if err != nil {
			return err
		}
		obj, err = q.GetOrCreateObjectRow(ctx, b.ID, p.ObjectName)
		if err != nil {
			return err
		}
		if err := checkPreconditions(obj, p.IfGenerationMatch, p.IfMetagenerationMatch); err != nil {
			return err
		}
		gen, err := q.NextGeneration(ctx, obj.ID)
		if err != nil {
			return err
		}
		ver = &store.ObjectVersion{
			Generation:  gen,
			StoragePath: path,
			Size:        size,
			MD5:         base64.StdEncoding.EncodeToString(md5sum.Sum(nil)),
			CRC32C:      base64.StdEncoding.EncodeToString(crc32Bytes(crc.Sum32())),
			ContentType: p.ContentType,
		}
		supersededPath, err = q.CommitVersion(ctx, obj, ver, b.VersioningEnabled)
		if err != nil {
			return err
		}
		return q.BumpMetageneration(ctx, b.ID)
	})
	if err != nil {
		s.Blobs.Remove(path)
		return nil, nil, err
	}
	if supersededPath != "" {
		s.Blobs.Remove(supersededPath)
	}
	return obj, ver, nil
}

func crc32Bytes(v uint32) []byte {
	return []byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}
}

func checkPreconditions(obj *store.Object, ifGen, ifMeta *int64) error {
	if ifGen != nil {
		want := *ifGen
		current := obj.CurrentGeneration
		if obj.Deleted {
			current = 0
		}
		if want != current {
			return emuerr.Newf(emuerr.PreconditionFailed, "generationMismatch", "generation precondition %d does not match current %d", want, current)
		}
	}
	_ = ifMeta // the metageneration precondition is accepted but not checked; only ifGen is compared
	return nil
}

// InitiateResumable creates a resumable upload session and returns its
// id (used to build the client-facing upload URL).
func (s *Service) InitiateResumable(ctx context.Context, p UploadParams) (string, error) {
	if err := validateObjectName(p.ObjectName); err != nil {
		return "", err
	}
	path := s.Blobs.NewPath()
	w, err := s.Blobs.Create(path)
	if err != nil {
		return "", err
	}
	if err := w.Close(); err != nil {
		return "", err
	}

	var id string
	err = s.Store.Tx(ctx, func(q *store.Queries) error {
		b, err := q.GetBucketByName(ctx, p.BucketName)
		if err != nil {
			return err
		}
		rs := &store.ResumableSession{
			BucketID:              b.ID,
			ObjectName:            p.ObjectName,
			ContentType:           p.ContentType,
			TempPath:              path,
			IfGenerationMatch:     p.IfGenerationMatch,
			IfMetagenerationMatch: p.IfMetagenerationMatch,
		}
		if err := q.CreateResumableSession(ctx, rs); err != nil {
			return err
		}
		id = rs.ID
		return nil
	})
	if err != nil {
		s.Blobs.Remove(path)
		return "", err
	}
	return id, nil
}

// UploadChunk appends chunk to sessionID's temp file and records the
// new byte count. start must equal the session's current bytes_received;
// a mismatch returns the session's current offset without advancing it.
func (s *Service) UploadChunk(ctx context.Context, sessionID string, start int64, chunk io.Reader) (int64, error) {
	var rs *store.ResumableSession
	err := s.Store.Tx(ctx, func(q *store.Queries) error {
		var err error
		rs, err = q.GetResumableSession(ctx, sessionID)
		return err
	})
	if err != nil {
		return 0, err
	}
	if start != rs.BytesReceived {
		return rs.BytesReceived, emuerr.Newf(emuerr.OutOfRange, "range_mismatch", "chunk start %d does not match bytes_received %d", start, rs.BytesReceived)
	}

	w, err := s.Blobs.OpenAppend(rs.TempPath)
	if err != nil {
		return 0, err
	}
	n, copyErr := io.Copy(w, chunk)
	closeErr := w.Close()
	if copyErr != nil {
		return 0, copyErr
	}
	if closeErr != nil {
		return 0, closeErr
	}

	err = s.Store.Tx(ctx, func(q *store.Queries) error {
		return q.AdvanceResumableSession(ctx, sessionID, n)
	})
	return rs.BytesReceived + n, err
}

// FinalizeResumable promotes a resumable session's temp file into a
// committed object version and removes the session row.
func (s *Service) FinalizeResumable(ctx context.Context, sessionID string) (*store.Object, *store.ObjectVersion, error) {
	var rs *store.ResumableSession
	err := s.Store.Tx(ctx, func(q *store.Queries) error {
		var err error
		rs, err = q.GetResumableSession(ctx, sessionID)
		return err
	})
	if err != nil {
		return nil, nil, err
	}

	size, err := s.Blobs.Stat(rs.TempPath)
	if err != nil {
		return nil, nil, err
	}
	sum, err := hashFile(s.Blobs, rs.TempPath)
	if err != nil {
		return nil, nil, err
	}

	var obj *store.Object
	var ver *store.ObjectVersion
	var supersededPath string
	err = s.Store.Tx(ctx, func(q *store.Queries) error {
		b, err := q.GetBucketByID(ctx, rs.BucketID)
		if err != nil {
			return err
		}
		obj, err = q.GetOrCreateObjectRow(ctx, b.ID, rs.ObjectName)
		if err != nil {
			return err
		}
		if err := checkPreconditions(obj, rs.IfGenerationMatch, rs.IfMetagenerationMatch); err != nil {
			return err
		}
		gen, err := q.NextGeneration(ctx, obj.ID)
		if err != nil {
			return err
		}
		ver = &store.ObjectVersion{
			Generation:  gen,
			StoragePath: rs.TempPath,
			Size:        size,
			MD5:         sum.md5,
			CRC32C:      sum.crc32c,
			ContentType: rs.ContentType,
		}
		supersededPath, err = q.CommitVersion(ctx, obj, ver, b.VersioningEnabled)
		if err != nil {
			return err
		}
		if err := q.BumpMetageneration(ctx, b.ID); err != nil {
			return err
		}
		return q.DeleteResumableSession(ctx, sessionID)
	})
	if err != nil {
		return nil, nil, err
	}
	if supersededPath != "" {
		s.Blobs.Remove(supersededPath)
	}
	return obj, ver, nil
}

type checksum struct{ md5, crc32c string }

func hashFile(blobs *blobstore.Store, path string) (checksum, error) {
	r, err := blobs.Open(path)
	if err != nil {
		return checksum{}, err
	}
	defer r.Close()
	md5sum := md5.New()
	crc := crc32.New(crc32.MakeTable(crc32.Castagnoli))
	if _, err := io.Copy(io.MultiWriter(md5sum, crc), r); err != nil {
		return checksum{}, err
	}
	return checksum{
		md5:    base64.StdEncoding.EncodeToString(md5sum.Sum(nil)),
		crc32c: base64.StdEncoding.EncodeToString(crc32Bytes(crc.Sum32())),
	}, nil
}

// SweepExpiredResumableSessions removes every session older than ttl,
// and the temp blob it was writing to.
func (s *Service) SweepExpiredResumableSessions(ctx context.Context, ttl time.Duration) (int, error) {
	var sessions []*store.ResumableSession
	err := s.Store.Tx(ctx, func(q *store.Queries) error {
		var err error
		sessions, err = q.ListExpiredResumableSessions(ctx, time.Now().UTC().Add(-ttl))
		return err
	})
	if err != nil {
		return 0, err
	}
	for _, rs := range sessions {
		if err := s.Store.Tx(ctx, func(q *store.Queries) error {
			return q.DeleteResumableSession(ctx, rs.ID)
		}); err != nil {
			return 0, err
		}
		s.Blobs.Remove(rs.TempPath)
	}
	return len(sessions), nil
}

// Download returns object name's current (or, if generation != 0, a
// specific) version's content, as a reader limited to [offset,
// offset+length) when length >= 0.
func (s *Service) Download(ctx context.Context, bucketName, objectName string, generation int64, offset, length int64) (*store.ObjectVersion, io.ReadCloser, error) {
	var ver *store.ObjectVersion
	err := s.Store.Tx(ctx, func(q *store.Queries) error {
		b, err := q.GetBucketByName(ctx, bucketName)
		if err != nil {
			return err
		}
		obj, err := q.GetObjectRow(ctx, b.ID, objectName)
		if err != nil {
			return err
		}
		if generation == 0 {
			if obj.Deleted {
				return emuerr.Newf(emuerr.NotFound, "objectNotFound", "object %s not found", objectName)
			}
			generation = obj.CurrentGeneration
		}
		ver, err = q.GetVersion(ctx, obj.ID, generation)
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	r, err := s.Blobs.OpenRange(ver.StoragePath, offset, length)
	return ver, r, err
}

// DeleteParams describes a delete-object request.
type DeleteParams struct {
	BucketName string
	ObjectName string
	Generation int64 // 0 means "the current generation"
}

// Delete removes an object. With versioning off, the one live version
// is hard-deleted. With versioning on and Generation unset, the
// current version is soft-deleted (archived, recoverable by generation
// number); Generation set deletes that specific historical version.
func (s *Service) Delete(ctx context.Context, p DeleteParams) error {
	var paths []string
	err := s.Store.Tx(ctx, func(q *store.Queries) error {
		b, err := q.GetBucketByName(ctx, p.BucketName)
		if err != nil {
			return err
		}
		obj, err := q.GetObjectRow(ctx, b.ID, p.ObjectName)
		if err != nil {
			return err
		}
		if obj.Deleted && p.Generation == 0 {
			return emuerr.Newf(emuerr.NotFound, "objectNotFound", "object %s not found", p.ObjectName)
		}

		if p.Generation != 0 {
			path, err := q.DeleteSpecificVersion(ctx, obj, p.Generation)
			if err != nil {
				return err
			}
			paths = []string{path}
			return q.BumpMetageneration(ctx, b.ID)
		}

		if b.VersioningEnabled {
			if err := q.SoftDeleteCurrent(ctx, obj); err != nil {
				return err
			}
		} else {
			paths, err = q.HardDeleteAllVersions(ctx, obj.ID)
			if err != nil {
				return err
			}
		}
		return q.BumpMetageneration(ctx, b.ID)
	})
	if err != nil {
		return err
	}
	for _, p := range paths {
		s.Blobs.Remove(p)
	}
	return nil
}

// ListParams describes a paginated object listing request.
type ListParams struct {
	BucketName string
	Prefix     string
	PageToken  string
	PageSize   int
	Versions   bool
}

// ListResult is one page of a listing.
type ListResult struct {
	Rows          []store.ObjectListRow
	NextPageToken string
}

// List returns one page of bucketName's objects matching Prefix.
func (s *Service) List(ctx context.Context, p ListParams) (*ListResult, error) {
	if p.PageSize <= 0 {
		p.PageSize = 1000
	}
	afterName, afterGen := decodePageToken(p.PageToken)

	var rows []store.ObjectListRow
	err := s.Store.Tx(ctx, func(q *store.Queries) error {
		b, err := q.GetBucketByName(ctx, p.BucketName)
		if err != nil {
			return err
		}
		rows, err = q.ListObjectsPage(ctx, b.ID, p.Prefix, afterName, afterGen, p.Versions, p.PageSize+1)
		return err
	})
	if err != nil {
		return nil, err
	}

	res := &ListResult{}
	if len(rows) > p.PageSize {
		last := rows[p.PageSize-1]
		res.NextPageToken = encodePageToken(last.Name, last.Generation)
		rows = rows[:p.PageSize]
	}
	res.Rows = rows
	return res, nil
}

func encodePageToken(name string, generation int64) string {
	return base64.URLEncoding.EncodeToString([]byte(name + "\x00" + strconv.FormatInt(generation, 10)))
}

func decodePageToken(token string) (name string, generation int64) {
	if token == "" {
		return "", 0
	}
	raw, err := base64.URLEncoding.DecodeString(token)
	if err != nil {
		return "", 0
	}
	parts := strings.SplitN(string(raw), "\x00", 2)
	if len(parts) != 2 {
		return "", 0
	}
	gen, _ := strconv.ParseInt(parts[1], 10, 64)
	return parts[0], gen
}

// CreateSignedURL mints a multi-use token granting method access to
// bucket/object until expiry.
func (s *Service) CreateSignedURL(ctx context.Context, bucket, object, method string, expiresAt time.Time) (string, error) {
	token, err := randomToken()
	if err != nil {
		return "", err
	}
	err = s.Store.Tx(ctx, func(q *store.Queries) error {
		return q.CreateSignedURLToken(ctx, &store.SignedURLToken{
			Token: token, Bucket: bucket, Object: object, Method: method, ExpiresAt: expiresAt,
		})
	})
	return token, err
}

// ResolveSignedURL validates token against method and the current time,
// returning the bucket/object it grants access to.
func (s *Service) ResolveSignedURL(ctx context.Context, token, method string) (bucket, object string, err error) {
	var t *store.SignedURLToken
	err = s.Store.Tx(ctx, func(q *store.Queries) error {
		var err error
		t, err = q.GetSignedURLToken(ctx, token)
		return err
	})
	if err != nil {
		return "", "", err
	}
	if t.Method != method {
		return "", "", emuerr.Newf(emuerr.InvalidArgument, "signedUrlMethodMismatch", "token is not valid for method %s", method)
	}
	if time.Now().UTC().After(t.ExpiresAt) {
		return "", "", emuerr.Newf(emuerr.NotFound, "signedUrlExpired", "signed url token has expired")
	}
	return t.Bucket, t.Object, nil
}

// SweepExpiredSignedURLTokens removes every token that expired before
// now.
func (s *Service) SweepExpiredSignedURLTokens(ctx context.Context) error {
	return s.Store.Tx(ctx, func(q *store.Queries) error {
		return q.DeleteExpiredSignedURLTokens(ctx, time.Now().UTC())
	})
}

func randomToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
