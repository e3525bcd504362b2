package entities

import "time"

// EntityWriteMode is the closed set of ways a ToDef::Entity step can
// write a DynamicEntity: Create, Update, or CreateOrUpdate.
type EntityWriteMode string

const (
	WriteModeCreate         EntityWriteMode = "Create"
	WriteModeUpdate         EntityWriteMode = "Update"
	WriteModeCreateOrUpdate EntityWriteMode = "CreateOrUpdate"
)

// HTTPMethod is the closed set a Destination::Uri step may use.
type HTTPMethod string

const (
	MethodGet    HTTPMethod = "GET"
	MethodPost   HTTPMethod = "POST"
	MethodPut    HTTPMethod = "PUT"
	MethodPatch  HTTPMethod = "PATCH"
	MethodDelete HTTPMethod = "DELETE"
)

// AuthKind tags which AuthConfig variant is in effect.
type AuthKind string

const (
	AuthNone         AuthKind = "None"
	AuthAPIKey       AuthKind = "ApiKey"
	AuthBasic        AuthKind = "BasicAuth"
	AuthPreSharedKey AuthKind = "PreSharedKey"
)

// AuthConfig is a tagged union over the four auth variants
// Only the fields relevant to Kind are populated.
type AuthConfig struct {
	Kind AuthKind `json:"kind"`

	// ApiKey
	Key    string `json:"key,omitempty"`
	Header string `json:"header,omitempty"`

	// BasicAuth
	User string `json:"user,omitempty"`
	Pass string `json:"pass,omitempty"`

	// PreSharedKey
	Location string `json:"location,omitempty"` // header | query | body
	Field    string `json:"field,omitempty"`
}

// FormatKind is the closed set of row-serialization formats.
type FormatKind string

const (
	FormatCSV  FormatKind = "csv"
	FormatJSON FormatKind = "json"
)

// FormatConfig describes how to parse/serialize rows for a Format
// source or destination.
type FormatConfig struct {
	Type      FormatKind `json:"type"`
	Delimiter string     `json:"delimiter,omitempty"` // csv, single char
	Quote     string     `json:"quote,omitempty"`     // csv, single char
	Escape    string     `json:"escape,omitempty"`    // csv, single char
	HasHeader bool        `json:"has_header,omitempty"`
	NDJSON    bool        `json:"ndjson,omitempty"` // json only
}

// SourceKind is the closed set of Source adapter types.
type SourceKind string

const (
	SourceURI  SourceKind = "uri"
	SourceFile SourceKind = "file"
	SourceAPI  SourceKind = "api"
)

// SourceConfig describes where FromDef::Format bytes come from.
type SourceConfig struct {
	Type     SourceKind `json:"type"`
	URI      string     `json:"uri,omitempty"`
	Path     string     `json:"path,omitempty"`
	Endpoint string     `json:"endpoint,omitempty"` // api, must start with "/"
	Auth     AuthConfig `json:"auth"`
	Format   FormatConfig `json:"format"`
}

// DestinationConfig describes where a ToDef::Format Push sends bytes.
type DestinationConfig struct {
	URI    string     `json:"uri"`
	Method HTTPMethod `json:"method"`
	Auth   AuthConfig `json:"auth"`
}

// OutputModeKind tags a ToDef::Format's disposition.
type OutputModeKind string

const (
	OutputDownload OutputModeKind = "Download"
	OutputAPI      OutputModeKind = "Api"
	OutputPush     OutputModeKind = "Push"
)

// OutputMode is the tagged union over Download | Api | Push(destination, method).
type OutputMode struct {
	Kind        OutputModeKind    `json:"kind"`
	Destination DestinationConfig `json:"destination,omitempty"`
}

// FromKind tags a DslStep's source variant.
type FromKind string

const (
	FromFormat FromKind = "Format"
	FromEntity FromKind = "Entity"
)

// FromDef is a step's source: either a Format-parsed external feed or
// an existing DynamicEntity lookup.
type FromDef struct {
	Kind     FromKind     `json:"kind"`
	Source   SourceConfig `json:"source,omitempty"`
	Mapping  map[string]string `json:"mapping,omitempty"` // normalized field -> source field path
	EntityType string     `json:"entity_type,omitempty"`
}

// ToKind tags a DslStep's destination variant.
type ToKind string

const (
	ToFormat ToKind = "Format"
	ToEntity ToKind = "Entity"
)

// ToDef is a step's destination: either a formatted/pushed output or
// a DynamicEntity write.
type ToDef struct {
	Kind       ToKind          `json:"kind"`
	Output     OutputMode      `json:"output,omitempty"`
	Format     FormatConfig    `json:"format,omitempty"`
	Mapping    map[string]string `json:"mapping,omitempty"` // source field -> destination field path
	EntityType string          `json:"entity_type,omitempty"`
	Mode       EntityWriteMode `json:"mode,omitempty"`
	Identify   string          `json:"identify,omitempty"`   // field used to discover an existing row on Update
	UpdateKey  string          `json:"update_key,omitempty"`
}

// TransformKind is the closed set of transform operations a DslStep
// may chain.
type TransformKind string

const (
	TransformArithmetic      TransformKind = "arithmetic"
	TransformStringOp        TransformKind = "string_op"
	TransformFieldMove       TransformKind = "field_move"
	TransformResolveEntityPath TransformKind = "resolve_entity_path"
	TransformGetOrCreateEntity TransformKind = "get_or_create_entity"
	TransformAuthenticate    TransformKind = "authenticate"
)

// Transform is one step in a DslStep's transform chain.
type Transform struct {
	Kind   TransformKind     `json:"kind"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// DslStep is one element of a workflow's program: pull from
// somewhere, optionally transform, push to somewhere.
type DslStep struct {
	From       FromDef     `json:"from"`
	Transforms []Transform `json:"transforms,omitempty"`
	To         ToDef       `json:"to"`
}

// DslProgram is the parsed form of a Workflow's stored JSON config
//.
type DslProgram struct {
	Steps []DslStep `json:"steps"`
}

// Workflow is the (uuid, name, description, kind, enabled,
// schedule_cron, config, versioning_disabled, audit) tuple
type Workflow struct {
	UUID               string
	Name               string
	Description        string
	Kind               string
	Enabled            bool
	ScheduleCron       string
	Program            DslProgram
	VersioningDisabled bool
	Version            int
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CreatedBy          string
	UpdatedBy          string
}

// RunStatus is the closed set of Run lifecycle states.
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// Run is one execution of a Workflow.
type Run struct {
	UUID            string
	WorkflowUUID    string
	TriggerUUID     string
	Status          RunStatus
	QueuedAt        time.Time
	StartedAt       *time.Time
	FinishedAt      *time.Time
	ProcessedCount  int
	FailedCount     int
	CancelRequested bool
}

// RawItemStatus is the closed set of RawItem lifecycle states.
type RawItemStatus string

const (
	RawItemQueued    RawItemStatus = "queued"
	RawItemClaimed   RawItemStatus = "claimed"
	RawItemProcessed RawItemStatus = "processed"
	RawItemFailed    RawItemStatus = "failed"
)

// RawItem is one staged unit of work within a Run.
type RawItem struct {
	UUID        string
	RunUUID     string
	Payload     []byte
	Status      RawItemStatus
	Error       string
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// RunLogLevel is the closed set of RunLog severities.
type RunLogLevel string

const (
	LogInfo  RunLogLevel = "info"
	LogWarn  RunLogLevel = "warn"
	LogError RunLogLevel = "error"
)

// RunLog is one append-only log line attached to a Run.
type RunLog struct {
	ID      int64
	RunUUID string
	Ts      time.Time
	Level   RunLogLevel
	Message string
	Meta    map[string]interface{}
}
