package models

import "time"

// Job intents recognized by the dispatcher (§6).
const (
	JobCreateProject    = "initialProjectCreationJob"
	JobModifyProject    = "projectModificationJob"
	JobSyncFlyioSecrets = "sync-flyio-secrets"
)

// Job is the transient queue payload for a single unit of work.
type Job struct {
	ID      string
	Name    string
	Attempt int
	Payload JobPayload
}

// JobPayload carries the intent-specific request parameters. RequestParams
// is left as a loosely-typed map; each pipeline decodes the keys it needs.
type JobPayload struct {
	ProjectID     string         `json:"projectId"`
	UserID        string         `json:"userId"`
	RequestID     string         `json:"requestId"`
	StreamID      string         `json:"streamId"`
	RequestParams map[string]any `json:"requestParams"`
}

// RequestLog is an immutable record of one ingested request.
type RequestLog struct {
	RequestID     string
	ProjectID     string
	UserID        string
	Intent        string
	ParamsSnapshot string
	Status        string
	CreatedAt     time.Time
}

// Request log statuses.
const (
	RequestStatusProcessing = "processing"
	RequestStatusCompleted  = "completed"
	RequestStatusFailed     = "failed"
)

// ProjectDatabase is the per-project relational database record. At most
// one row per project may have IsActive=true (invariant I1/I6).
type ProjectDatabase struct {
	DatabaseID  string
	ProjectID   string
	UserID      string
	DBName      string
	SchemaName  string
	Environment string
	IsActive    bool
	CreatedAt   time.Time
}

// GeneratedQuery is an audit row for one DDL execution attempt.
type GeneratedQuery struct {
	QueryID         string
	ProjectID       string
	QueryText       string
	QueryType       string
	SchemaName      string
	ExecutionStatus string
	ErrorMessage    string
	Environment     string
	CreatedAt       time.Time
}

// Generated query execution statuses.
const (
	QueryExecuted = "executed"
	QueryFailed   = "failed"
)

// SourceRepository is the source-control repository record for a project.
// At most one row per project may have IsActive=true.
type SourceRepository struct {
	RepoID    string
	ProjectID string
	UserID    string
	RepoURL   string
	RepoName  string
	Branch    string
	IsActive  bool
	CreatedAt time.Time
}

// PushHistory is an audit row for one push to the source host.
type PushHistory struct {
	PushID        string
	ProjectID     string
	CommitSHA     string
	CommitMessage string
	FilesChanged  []string
	RepoURL       string
	Environment   string
	PushedAt      time.Time
}

// ContainerSession tracks the lifecycle of one sandbox allocation.
type ContainerSession struct {
	SessionID   string
	ProjectID   string
	ContainerID string
	Provider    string
	Status      string
	Environment string
	StartedAt   time.Time
	StoppedAt   *time.Time
}

// Container session statuses.
const (
	SessionActive    = "active"
	SessionCompleted = "completed"
	SessionFailed    = "failed"
)

// DeploymentRecord is the canonical deployment record for a project.
// Exactly one row per project is canonical; others are historical.
type DeploymentRecord struct {
	DeploymentID string
	ProjectID    string
	Platform     string
	AppName      string
	URL          string
	Status       string
	DeployedAt   *time.Time
	LastUpdated  time.Time
}

// Deployment statuses.
const (
	DeploymentPending  = "pending"
	DeploymentDeployed = "deployed"
	DeploymentFailed   = "failed"
)

// ActivityEntry is an append-only row in the activity ledger.
type ActivityEntry struct {
	ActionID      string
	ProjectID     string
	UserID        string
	RequestID     string
	ActionType    string
	ActionDetails string
	Status        string
	Environment   string
	ReferenceIDs  map[string]string
	CreatedAt     time.Time
}

// Activity type vocabulary (§3).
const (
	ActionProjectCreated      = "project_created"
	ActionDatabaseCreated     = "database_created"
	ActionQueriesExecuted     = "queries_executed"
	ActionEndpointsAdded      = "endpoints_added"
	ActionEndpointsModified   = "endpoints_modified"
	ActionBusinessLogicMod    = "business_logic_modified"
	ActionTablesAdded         = "tables_added"
	ActionGithubPush          = "github_push"
	ActionDeployment          = "deployment"
	ActionEnvVarsRequired     = "env_vars_required"
	ActionFlyioSecretSync     = "flyio-secret-sync"
	ActionAPIBlueprintUpdated = "api_blueprint_updated"
)

// Activity statuses.
const (
	ActivityStatusSuccess = "success"
	ActivityStatusFailed  = "failed"
)

// MessageCostEntry is an append-only row in the cost ledger.
type MessageCostEntry struct {
	CostID          string
	ProjectID       string
	JobID           string
	UserID          string
	PromptContent   string
	MessageType     string
	Model           string
	InputTokens     int
	OutputTokens    int
	CostUSD         float64
	TimeToCompletion time.Duration
	StartedAt       time.Time
	CreatedAt       time.Time
}

// Caller tags for MessageCostEntry.MessageType.
const (
	MessageTypeDBDetection      = "db-detection"
	MessageTypeAuthDetection    = "auth-detection"
	MessageTypePaymentDetection = "payment-detection"
	MessageTypeSchemaDesign     = "schema-design"
	MessageTypeAgenticLoop      = "agentic-container-execution"
)

// APIBlueprint is the structured endpoint document for a project. The
// latest row per project is authoritative.
type APIBlueprint struct {
	BlueprintID      string
	ProjectID        string
	RequestID        string
	BlueprintContent map[string]any
	LastUpdated      time.Time
	CreatedAt        time.Time
}

// CredentialPlaceholder is a provider credential variable awaiting a user
// value.
type CredentialPlaceholder struct {
	CredentialID string
	ProjectID    string
	Provider     string
	VariableName string
	Value        *string
	IsActive     bool
	CreatedAt    time.Time
}
