// Package store is the metadata store (C1): a transactional relational
// persistence layer for every entity in the data model, backed by
// database/sql against an embedded SQLite database. It is the
// transactional boundary every service operation runs inside.
package store

import "time"

// Project is the parent of every other resource. Deletion cascades.
type Project struct {
	ID        string
	Name      string
	Number    int64
	CreatedAt time.Time
}

// Bucket is globally unique by Name across the whole store, not per
// project.
type Bucket struct {
	ID                string
	Name              string
	ProjectID         string
	Location          string
	StorageClass      string
	VersioningEnabled bool
	LifecycleRules    []LifecycleRule
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Metageneration    int64
}

// Object is the "current pointer" row: Name is unique per bucket among
// non-deleted rows. CurrentGeneration is 0 when the object has been
// soft-deleted (no live current version).
type Object struct {
	ID                string
	BucketID          string
	Name              string
	CurrentGeneration int64
	ContentType       string
	Size              int64
	MD5               string
	CRC32C            string
	StoragePath       string
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Deleted           bool
}

// ObjectVersion is one historical content row. DeletedAt is non-nil once
// the version has been superseded (versioning off), soft-deleted
// (current version, versioning on) or deleted outright.
type ObjectVersion struct {
	ID          string
	ObjectID    string
	Generation  int64
	StoragePath string
	Size        int64
	MD5         string
	CRC32C      string
	ContentType string
	CreatedAt   time.Time
	DeletedAt   *time.Time
}

// ResumableSession is ephemeral: deleted on finalize or explicit abort, or
// swept once older than the session TTL.
type ResumableSession struct {
	ID                    string
	BucketID              string
	ObjectName            string
	ContentType           string
	TempPath              string
	TotalSize             *int64
	BytesReceived         int64
	CreatedAt             time.Time
	IfGenerationMatch     *int64
	IfMetagenerationMatch *int64
}

// LifecycleAction names the action a LifecycleRule applies once its
// conditions match.
type LifecycleAction string

// Lifecycle actions.
const (
	LifecycleDelete          LifecycleAction = "Delete"
	LifecycleSetStorageClass LifecycleAction = "SetStorageClass"
)

// LifecycleRule is one rule of a bucket's lifecycle configuration.
type LifecycleRule struct {
	ID               string
	BucketID         string
	Action           LifecycleAction
	StorageClass     string // only meaningful when Action == LifecycleSetStorageClass
	AgeDays          *int
	CreatedBefore    *time.Time
	NumNewerVersions *int
	MatchesPrefix    string
}

// SignedURLToken grants time-limited, method-scoped access to an object
// without a caller identity.
type SignedURLToken struct {
	Token     string
	Bucket    string
	Object    string
	Method    string
	ExpiresAt time.Time
}

// ServiceAccount's Email has the shape
// "{accountId}@{project}.iam.gserviceaccount.com".
type ServiceAccount struct {
	Email          string
	ProjectID      string
	DisplayName    string
	Description    string
	UniqueID       string
	OAuth2ClientID string
	Disabled       bool
	CreatedAt      time.Time
}

// ServiceAccountKey's PrivateKeyData is an opaque base64 JSON blob, never
// a cryptographically valid key (explicit non-goal).
type ServiceAccountKey struct {
	ID                   string
	ServiceAccountEmail  string
	Algorithm            string
	PrivateKeyData       string
	ValidAfter           time.Time
	ValidBefore          time.Time
}

// IAMBinding is one role-to-members binding of a policy.
type IAMBinding struct {
	Role      string
	Members   []string
	Condition *IAMCondition
}

// IAMCondition is a CEL-shaped condition on a binding. The emulator stores
// it verbatim; it is never evaluated.
type IAMCondition struct {
	Title       string
	Description string
	Expression  string
}

// IAMPolicy is set with an optimistic-concurrency check on Etag.
type IAMPolicy struct {
	ResourceName string
	Version      int
	Etag         string
	Bindings     []IAMBinding
}

// RoleStage mirrors the real API's role lifecycle stages.
type RoleStage string

// Role lifecycle stages.
const (
	RoleStageGA  RoleStage = "GA"
	RoleStageBeta RoleStage = "BETA"
)

// Role is either one of the seven predefined roles seeded at first
// startup, or a project-scoped custom role.
type Role struct {
	Name                string
	Title               string
	Description         string
	IncludedPermissions []string
	Stage               RoleStage
	IsCustom            bool
	ProjectID           string // empty for predefined roles
	Deleted             bool
}

// RoutingMode mirrors the real API's two VPC routing modes.
type RoutingMode string

// Routing modes.
const (
	RoutingModeRegional RoutingMode = "REGIONAL"
	RoutingModeGlobal   RoutingMode = "GLOBAL"
)

// Network is a VPC. Name is unique per project.
type Network struct {
	ID                     string
	Name                   string
	ProjectID              string
	AutoCreateSubnetworks  bool
	CIDRRange              string // auto-mode: the auto-mode supernet; custom-mode: the requested or default range
	HostNetworkID          string
	HostNetworkName        string
	RoutingMode            RoutingMode
	CreatedAt              time.Time
}

// Subnet belongs to exactly one Network; its range must fall within the
// network's range (when the network has one) and must not overlap any
// sibling subnet.
type Subnet struct {
	ID              string
	Name            string
	NetworkID       string
	Region          string
	IPCIDRRange     string
	GatewayIP       string
	NextAvailableIP int64 // integer host offset, see netalloc.HostAt
	CreatedAt       time.Time
}

// FirewallDirection is one of the two traffic directions a FirewallRule
// can apply to.
type FirewallDirection string

// Firewall directions.
const (
	DirectionIngress FirewallDirection = "INGRESS"
	DirectionEgress  FirewallDirection = "EGRESS"
)

// ProtocolPorts is one allowed/denied protocol+ports entry of a firewall
// rule.
type ProtocolPorts struct {
	Protocol string
	Ports    []string
}

// FirewallRule's Name is unique process-wide, not just per network.
type FirewallRule struct {
	ID                string
	Name              string
	NetworkID         string
	Direction         FirewallDirection
	Priority          int
	SourceRanges      []string
	DestinationRanges []string
	SourceTags        []string
	TargetTags        []string
	Allowed           []ProtocolPorts
	Denied            []ProtocolPorts
	Disabled          bool
	CreatedAt         time.Time
}

// Route. Exactly one of NextHopGateway/NextHopIP/NextHopInstance/
// NextHopNetwork is set.
type Route struct {
	ID              string
	Name            string
	NetworkID       string
	DestRange       string
	Priority        int
	NextHopGateway  string
	NextHopIP       string
	NextHopInstance string
	NextHopNetwork  string
	Description     string
}

// InstanceState is the compute state machine's tag.
type InstanceState string

// Instance states, per the state machine in spec.md §4.8.
const (
	StateProvisioning InstanceState = "PROVISIONING"
	StateRunning      InstanceState = "RUNNING"
	StateStopping     InstanceState = "STOPPING"
	StateTerminated   InstanceState = "TERMINATED"
	StateDeleted      InstanceState = "DELETED"
)

// Instance's Name is unique per (ProjectID, Zone).
type Instance struct {
	ID           string
	Name         string
	ProjectID    string
	Zone         string
	MachineType  string
	Image        string
	CPU          int
	MemoryMB     int
	State        InstanceState
	ContainerID  string
	NetworkID    string
	SubnetID     string
	InternalIP   string
	Metadata     map[string]string
	Labels       map[string]string
	Tags         []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// OperationType names the compute mutation an Operation records.
type OperationType string

// Operation types.
const (
	OpInsert OperationType = "insert"
	OpDelete OperationType = "delete"
	OpStart  OperationType = "start"
	OpStop   OperationType = "stop"
)

// OperationStatus is the long-running-operation lifecycle state. In this
// emulator every Operation is created already in OpDone: mutating calls
// are synchronous.
type OperationStatus string

// Operation statuses.
const (
	OpPending OperationStatus = "PENDING"
	OpRunning OperationStatus = "RUNNING"
	OpDone    OperationStatus = "DONE"
)

// Operation is the long-running-operation record returned by compute
// mutating calls.
type Operation struct {
	ID         string
	Name       string
	Type       OperationType
	TargetLink string
	Status     OperationStatus
	Progress   int
	InsertTime time.Time
	StartTime  time.Time
	EndTime    time.Time
	Error      string
}
