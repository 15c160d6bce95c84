// Package types holds the data model shared by every adapter, the manager,
// the executor, the schema cache and the dispatcher. Nothing in this package
// talks to a database; it is pure shape.
package types

import "time"

// DatabaseType is the small, closed set of engines dbbroker understands.
type DatabaseType string

const (
	MySQL      DatabaseType = "mysql"
	PostgreSQL DatabaseType = "postgresql"
)

// SSLMode mirrors spec.md's connection config SSL block.
type SSLMode string

const (
	SSLRequired   SSLMode = "REQUIRED"
	SSLPreferred  SSLMode = "PREFERRED"
	SSLDisabled   SSLMode = "DISABLED"
)

// SSLConfig is attached to a ConnectionConfig when TLS is desired.
type SSLConfig struct {
	Mode SSLMode
	CA   string
	Cert string
	Key  string
}

// ConnectionConfig is the effective, resolved configuration for one pool.
type ConnectionConfig struct {
	Name              string
	Type              DatabaseType
	Host              string
	Port              int
	User              string
	Password          string
	Database          string
	Description       string
	Tags              []string
	SSL               *SSLConfig
	ConnectionTimeout time.Duration
	AcquireTimeout    time.Duration
	Timeout           time.Duration
	ConnectionLimit   int
	QueueLimit        int
	IdleTimeout       time.Duration
}

// ColumnCategory is the tagged-sum-type vocabulary from spec.md §9: adapters
// normalize native driver types into this small set so callers can
// discriminate on the tag instead of the underlying driver's type name.
type ColumnCategory string

const (
	CategoryInteger  ColumnCategory = "integer"
	CategoryFloat    ColumnCategory = "float"
	CategoryDecimal  ColumnCategory = "decimal"
	CategoryString   ColumnCategory = "string"
	CategoryText     ColumnCategory = "text"
	CategoryBinary   ColumnCategory = "binary"
	CategoryDate     ColumnCategory = "date"
	CategoryTime     ColumnCategory = "time"
	CategoryDateTime ColumnCategory = "datetime"
	CategoryTimestamp ColumnCategory = "timestamp"
	CategoryJSON     ColumnCategory = "json"
	CategoryGeometry ColumnCategory = "geometry"
	CategoryNull     ColumnCategory = "null"
)

// FieldInfo describes one column of a QueryResult.
type FieldInfo struct {
	Name     string         `json:"name"`
	Type     ColumnCategory `json:"type"`
	Nullable bool           `json:"nullable"`
}

// Row is a mapping from column name to a value tagged with its category via
// the parallel FieldInfo slice on QueryResult; the value itself stays `any`
// because it may be an int64, float64, string, []byte, time.Time or nil.
type Row map[string]any

// QueryResult is the uniform shape every adapter query and the executor
// return.
type QueryResult struct {
	Rows          []Row          `json:"rows"`
	Fields        []FieldInfo    `json:"fields"`
	RowCount      int            `json:"rowCount"`
	ExecutionTime time.Duration  `json:"executionTime"`
	Truncated     bool           `json:"truncated,omitempty"`
	TotalRows     *int           `json:"totalRows,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	Cached        bool           `json:"cached,omitempty"`
	CacheAge      time.Duration  `json:"cacheAge,omitempty"`
	Analysis      *QueryAnalysis `json:"analysis,omitempty"`
	DryRun        bool           `json:"dryRun,omitempty"`
}

// Clone returns a value copy suitable for handing out of the cache: callers
// may mutate the copy's Rows/Fields slices without corrupting the cached
// entry.
func (r *QueryResult) Clone() *QueryResult {
	if r == nil {
		return nil
	}
	cp := *r
	if r.Rows != nil {
		cp.Rows = make([]Row, len(r.Rows))
		for i, row := range r.Rows {
			nr := make(Row, len(row))
			for k, v := range row {
				nr[k] = v
			}
			cp.Rows[i] = nr
		}
	}
	if r.Fields != nil {
		cp.Fields = append([]FieldInfo(nil), r.Fields...)
	}
	if r.TotalRows != nil {
		tr := *r.TotalRows
		cp.TotalRows = &tr
	}
	return &cp
}

// ConnectionStatus is the mutable liveness/activity snapshot an adapter
// keeps for itself.
type ConnectionStatus struct {
	IsConnected      bool          `json:"isConnected"`
	ConnectionCount  int           `json:"connectionCount"`
	ActiveQueries    int64         `json:"activeQueries"`
	LastConnection   time.Time     `json:"lastConnectionTime"`
	Uptime           time.Duration `json:"uptimeMs"`
	DatabaseType     DatabaseType  `json:"databaseType"`
}

// AdapterMetrics is the mutable counters block an adapter keeps for itself.
type AdapterMetrics struct {
	QueriesExecuted      int64         `json:"queriesExecuted"`
	TotalExecutionTime   time.Duration `json:"totalExecutionTimeMs"`
	AverageExecutionTime time.Duration `json:"averageExecutionTimeMs"`
	ErrorCount           int64         `json:"errorCount"`
	SuccessRate          float64       `json:"successRate"`
	LastMetricsReset     time.Time     `json:"lastMetricsReset"`
}

// HealthStatus is the result of a single healthCheck call.
type HealthStatus struct {
	IsHealthy    bool          `json:"isHealthy"`
	ResponseTime time.Duration `json:"responseTime"`
	Error        string        `json:"error,omitempty"`
}

// ConnectionInfo is what getConnectionInfo() exposes: no secrets.
type ConnectionInfo struct {
	Name        string       `json:"name"`
	ID          string       `json:"id"`
	Type        DatabaseType `json:"type"`
	Host        string       `json:"host"`
	Port        int          `json:"port"`
	Database    string       `json:"database"`
	Description string       `json:"description,omitempty"`
	Tags        []string     `json:"tags,omitempty"`
}

// --- Schema model (C9) ---

type ColumnInfo struct {
	Name            string         `json:"name"`
	Type            ColumnCategory `json:"type"`
	NativeType      string         `json:"nativeType"`
	Nullable        bool           `json:"nullable"`
	DefaultValue    *string        `json:"defaultValue,omitempty"`
	IsPrimaryKey    bool           `json:"isPrimaryKey"`
	IsAutoIncrement bool           `json:"isAutoIncrement"`
	MaxLength       *int           `json:"maxLength,omitempty"`
	Precision       *int           `json:"precision,omitempty"`
	Scale           *int           `json:"scale,omitempty"`
	Comment         string         `json:"comment,omitempty"`
}

type IndexInfo struct {
	Name      string   `json:"name"`
	Columns   []string `json:"columns"`
	IsUnique  bool     `json:"isUnique"`
	IsPrimary bool     `json:"isPrimary"`
	Type      string   `json:"type"`
}

type ForeignKeyInfo struct {
	Name               string   `json:"name"`
	Columns            []string `json:"columns"`
	ReferencedTable    string   `json:"referencedTable"`
	ReferencedColumns  []string `json:"referencedColumns"`
	OnUpdate           string   `json:"onUpdate"`
	OnDelete           string   `json:"onDelete"`
}

type TableInfo struct {
	Name        string           `json:"name"`
	Schema      string           `json:"schema"`
	Columns     []ColumnInfo     `json:"columns"`
	Indexes     []IndexInfo      `json:"indexes"`
	ForeignKeys []ForeignKeyInfo `json:"foreignKeys"`
	RowCount    *int64           `json:"rowCount,omitempty"`
	SizeInBytes *int64           `json:"sizeInBytes,omitempty"`
}

type ViewInfo struct {
	Name       string       `json:"name"`
	Schema     string       `json:"schema"`
	Definition string       `json:"definition,omitempty"`
	Columns    []ColumnInfo `json:"columns"`
}

type ProcedureParameter struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Mode string `json:"mode"`
}

type ProcedureInfo struct {
	Name       string               `json:"name"`
	Schema     string               `json:"schema"`
	Parameters []ProcedureParameter `json:"parameters"`
	ReturnType string               `json:"returnType,omitempty"`
}

type SchemaInfo struct {
	Tables     []TableInfo     `json:"tables"`
	Views      []ViewInfo      `json:"views"`
	Procedures []ProcedureInfo `json:"procedures"`
}

// RelationshipMap maps a table name to a distinct, insertion-ordered list of
// referenced tables. PostgreSQL adapters key with "schema.table", MySQL
// adapters key with the bare table name.
type RelationshipMap struct {
	Order []string            `json:"-"`
	Refs  map[string][]string `json:"relationships"`
}

func NewRelationshipMap() *RelationshipMap {
	return &RelationshipMap{Refs: make(map[string][]string)}
}

// Add appends `ref` to the distinct, ordered list for `table`.
func (m *RelationshipMap) Add(table, ref string) {
	if _, ok := m.Refs[table]; !ok {
		m.Order = append(m.Order, table)
	}
	for _, existing := range m.Refs[table] {
		if existing == ref {
			return
		}
	}
	m.Refs[table] = append(m.Refs[table], ref)
}

type DBInfo struct {
	Type        DatabaseType `json:"type"`
	Version     string       `json:"version"`
	Database    string       `json:"database"`
	TableCount  int          `json:"tableCount"`
	SizeInBytes *int64       `json:"sizeInBytes,omitempty"`
}

// --- Profiling model (C10) ---

type TopValue struct {
	Value      any     `json:"value"`
	Count      int64   `json:"count"`
	Percentage float64 `json:"percentage"`
}

type ColumnProfile struct {
	ColumnName        string             `json:"columnName"`
	DataType          ColumnCategory     `json:"dataType"`
	NullCount         int64              `json:"nullCount"`
	NullPercentage    float64            `json:"nullPercentage"`
	UniqueCount       int64              `json:"uniqueCount"`
	UniquePercentage  float64            `json:"uniquePercentage"`
	MinValue          any                `json:"minValue,omitempty"`
	MaxValue          any                `json:"maxValue,omitempty"`
	AvgValue          *float64           `json:"avgValue,omitempty"`
	MedianValue       any                `json:"medianValue,omitempty"`
	Mode              any                `json:"mode,omitempty"`
	Stddev            *float64           `json:"stddev,omitempty"`
	Variance          *float64           `json:"variance,omitempty"`
	TopValues         []TopValue         `json:"topValues,omitempty"`
	Distribution      map[string]int64   `json:"distribution,omitempty"`
	Patterns          map[string]int64   `json:"patterns,omitempty"`
	Outliers          []any              `json:"outliers,omitempty"`
	DataQualityIssues []string           `json:"dataQualityIssues,omitempty"`
	AdapterSpecific   map[string]any     `json:"adapterSpecific,omitempty"`
	QualityScore      float64            `json:"-"`
}

type DataQuality struct {
	OverallScore    float64  `json:"overallScore"`
	Issues          []string `json:"issues"`
	Recommendations []string `json:"recommendations"`
}

type Relationships struct {
	ParentTables []string `json:"parentTables"`
	ChildTables  []string `json:"childTables"`
}

type TableProfile struct {
	TableName          string          `json:"tableName"`
	TotalRows          int64           `json:"totalRows"`
	TotalColumns       int             `json:"totalColumns"`
	EstimatedSizeBytes int64           `json:"estimatedSizeBytes"`
	Columns            []ColumnProfile `json:"columns"`
	DataQuality        DataQuality     `json:"dataQuality"`
	Relationships      Relationships   `json:"relationships"`
	SamplingMethod     string          `json:"samplingMethod"`
	SampleConfidence   float64         `json:"sampleConfidence"`
}

// --- Query analysis / validation (C6) ---

type ValidationResult struct {
	IsValid        bool     `json:"isValid"`
	Errors         []string `json:"errors,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
	SanitizedQuery string   `json:"sanitizedQuery,omitempty"`
}

type ComplexityBucket string

const (
	ComplexityLow    ComplexityBucket = "low"
	ComplexityMedium ComplexityBucket = "medium"
	ComplexityHigh   ComplexityBucket = "high"
)

type QueryAnalysis struct {
	Operation          string           `json:"operation"`
	Tables             []string         `json:"tables"`
	HasSubqueries      bool             `json:"hasSubqueries"`
	HasJoins           bool             `json:"hasJoins"`
	HasAggregates      bool             `json:"hasAggregates"`
	EstimatedComplexity ComplexityBucket `json:"estimatedComplexity"`
	Score              int              `json:"score"`
}

// --- Cross-database dispatch (C11) ---

type CrossQueryItem struct {
	Pool  string `json:"pool"`
	SQL   string `json:"sql"`
	Alias string `json:"alias,omitempty"`
}

type CrossQueryResultItem struct {
	Pool          string        `json:"pool"`
	Alias         string        `json:"alias,omitempty"`
	SQLExcerpt    string        `json:"sqlExcerpt"`
	ExecutionTime time.Duration `json:"executionTimeMs"`
	RowCount      int           `json:"rowCount"`
	Rows          []Row         `json:"rows,omitempty"`
	Fields        []FieldInfo   `json:"fields,omitempty"`
	Error         string        `json:"error,omitempty"`
}

type CrossQuerySummary struct {
	TotalQueries       int           `json:"totalQueries"`
	TotalRows          int           `json:"totalRows"`
	TotalExecutionTime time.Duration `json:"totalExecutionTimeMs"`
}

type CrossQueryResult struct {
	Summary CrossQuerySummary       `json:"summary"`
	Results []CrossQueryResultItem  `json:"results"`
}

// --- Audit (bounded ring, owned by executor) ---

type AuditEntry struct {
	Timestamp     time.Time     `json:"timestamp"`
	Query         string        `json:"query"`
	ExecutionTime time.Duration `json:"executionTimeMs"`
	RowCount      int           `json:"rowCount"`
	Success       bool          `json:"success"`
	ErrorMessage  string        `json:"errorMessage,omitempty"`
	UserAgent     string        `json:"userAgent,omitempty"`
	IPAddress     string        `json:"ipAddress,omitempty"`
}

// --- Natural language query (external collaborator contract, spec.md §9) ---

type NLRequest struct {
	Question      string
	TargetPool    string
	SchemaContext *SchemaInfo
}

type NLResult struct {
	SQL                   string
	Confidence            float64
	Explanation           string
	SuggestedImprovements []string
}
