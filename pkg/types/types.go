// Package types defines the controller's domain model: projects, accounts,
// tiers, teams, custom domains, services, deployments and the resource
// descriptors the deployment driver provisions. These types are shared by
// every other package and are the unit the gateway persists and the task
// pipeline operates on.
package types

import "time"

// Project is a tenant-owned container plus its persistence record and
// routing entries (spec.md §3).
type Project struct {
	Name             string    // 3-64 chars, alphanumeric/-/_
	ID               string    // stable opaque identifier
	AccountID        string    // owning account or team id
	OwnerKind        OwnerKind
	InitialKey       string // shared secret the container uses for back-channel calls
	CustomDomain     string // optional FQDN, "" if unset
	IdleMinutes      int    // 0 = never evict
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// OwnerKind distinguishes a project owned directly by an account from one
// owned by a team (spec.md §3 "Team / Account").
type OwnerKind string

const (
	OwnerAccount OwnerKind = "account"
	OwnerTeam    OwnerKind = "team"
)

// Tier is a named bundle of capabilities granted to an account (spec.md §4.6).
type Tier string

const (
	TierBasic             Tier = "basic"
	TierPro               Tier = "pro"
	TierCancelledPro      Tier = "cancelled_pro"
	TierPendingPaymentPro Tier = "pending_payment_pro"
	TierTeam              Tier = "team"
	TierAdmin             Tier = "admin"
	TierDeployer          Tier = "deployer"
)

// Account is a user of the platform.
type Account struct {
	ID        string
	Name      string
	KeyHash   string // hash of the bearer API key, never the key itself
	Tier      Tier
	CreatedAt time.Time
}

// SubscriptionType distinguishes the Pro-class subscription products; only
// one per account per type is permitted (spec.md §4.6).
type SubscriptionType string

const (
	SubscriptionTypePro SubscriptionType = "pro"
)

// SubscriptionStatus mirrors the payment processor's view of validity.
type SubscriptionStatus string

const (
	SubscriptionActive      SubscriptionStatus = "active"
	SubscriptionIncomplete  SubscriptionStatus = "incomplete"
	SubscriptionCancelled   SubscriptionStatus = "cancelled"
	SubscriptionExpired     SubscriptionStatus = "expired"
)

// Subscription records a payment-processor subscription tied to an account.
// UNIQUE(AccountID, Type) — adding a second of the same type updates the row.
type Subscription struct {
	ID        string
	AccountID string
	Type      SubscriptionType
	Status    SubscriptionStatus
	Quantity  int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Team is a named group of accounts that can jointly own projects.
type Team struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// TeamRole is a member's role within a team; only "manage" holders may add
// members or transfer project ownership into/out of the team (spec.md §4.6).
type TeamRole string

const (
	TeamRoleManage TeamRole = "manage"
	TeamRoleMember TeamRole = "member"
)

// TeamMember associates an account with a team under a role.
type TeamMember struct {
	TeamID    string
	AccountID string
	Role      TeamRole
	JoinedAt  time.Time
}

// CustomDomain maps an externally-supplied FQDN to a project for proxy
// routing. At most one mapping per FQDN and per project (spec.md §3
// Invariant 4).
type CustomDomain struct {
	FQDN        string
	ProjectName string
	Cert        []byte
	PrivateKey  []byte
	CreatedAt   time.Time
}

// Service is a named deployable unit owned by a project; it holds the
// history of deployments (spec.md GLOSSARY).
type Service struct {
	ID          string
	ProjectName string
	Name        string
	CreatedAt   time.Time
}

// DeploymentState is the lifecycle of one deployment instance.
type DeploymentState string

const (
	DeploymentStatePending DeploymentState = "pending"
	DeploymentStateLoading DeploymentState = "loading"
	DeploymentStateRunning DeploymentState = "running"
	DeploymentStateStopped DeploymentState = "stopped"
	DeploymentStateCompleted DeploymentState = "completed"
	DeploymentStateErrored DeploymentState = "errored"
)

// Deployment is an instance of user code running inside a ready project
// (spec.md GLOSSARY).
type Deployment struct {
	ID         string
	ServiceID  string
	State      DeploymentState
	IsNext     bool // whether this deployment should receive new traffic
	LastUpdate time.Time

	GitCommitID  string // truncated to 1024 chars at the API boundary
	GitCommitMsg string
	GitBranch    string
	GitDirty     bool
}

// ResourceInputKind enumerates the typed configs a deployment's Load request
// carries (spec.md §4.5 step 3).
type ResourceInputKind string

const (
	ResourceDatabase          ResourceInputKind = "database"
	ResourceMongoDB           ResourceInputKind = "mongodb"
	ResourceMariaDB           ResourceInputKind = "mariadb"
	ResourceMySQL             ResourceInputKind = "mysql"
	ResourceSecrets           ResourceInputKind = "secrets"
	ResourcePersist           ResourceInputKind = "persist"
	ResourceContainer         ResourceInputKind = "container"
)

// ResourceInput is one typed resource request a service's Load request
// carries; ResourceOutput is the (possibly provisioner-augmented) reply.
type ResourceInput struct {
	Kind          ResourceInputKind
	SchemaVersion int
	Config        map[string]any
}

type ResourceOutput struct {
	Kind   ResourceInputKind
	Config map[string]any
}
