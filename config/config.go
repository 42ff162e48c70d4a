package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vinodismyname/funnelsnap/internal/dates"
	"github.com/vinodismyname/funnelsnap/pkg/validation"
)

const dateLayout = "2006-01-02"

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Storage  StorageConfig  `yaml:"storage"`
	Cache    CacheConfig    `yaml:"cache"`
	Calendar CalendarConfig `yaml:"calendar"`
	Limits   LimitsConfig   `yaml:"limits"`
	Retry    RetryConfig    `yaml:"retry"`
	MCP      MCPConfig      `yaml:"mcp"`
	Log      LogConfig      `yaml:"log"`
}

// ServerConfig configures the HTTP listener and upload authorization.
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	AdminKey        string        `yaml:"admin_key"`
	CORSOrigins     []string      `yaml:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StorageConfig selects the blob backend holding the snapshot and upload log.
type StorageConfig struct {
	Backend  string         `yaml:"backend" validate:"backend"`
	Dir      string         `yaml:"dir"`
	Prefix   string         `yaml:"prefix"`
	S3       S3Config       `yaml:"s3"`
	Postgres PostgresConfig `yaml:"postgres"`
}

// S3Config locates the bucket used by the s3 backend. Endpoint overrides the
// AWS endpoint for S3-compatible services.
type S3Config struct {
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
}

// PostgresConfig holds the connection string of the postgres backend.
type PostgresConfig struct {
	DSN string `yaml:"dsn"`
}

// CacheConfig enables the Redis read-through cache when RedisAddr is set.
type CacheConfig struct {
	RedisAddr string        `yaml:"redis_addr"`
	TTL       time.Duration `yaml:"ttl" validate:"gte=0"`
}

// CalendarConfig sets the campaign window, the Monday of "Semana 1" and how
// ambiguous day/month dates are read. Dates use YYYY-MM-DD.
type CalendarConfig struct {
	CampaignStart string `yaml:"campaign_start"`
	WeekAnchor    string `yaml:"week_anchor"`
	// PeriodEnd closes the window; empty keeps it open to the end of the current month.
	PeriodEnd  string `yaml:"period_end"`
	DatePolicy string `yaml:"date_policy" validate:"omitempty,oneof=day_first month_first"`
}

// LimitsConfig caps concurrency, payload sizes, page sizes and timeouts.
// Zero values take the defaults in defaults.go.
type LimitsConfig struct {
	MaxConcurrentRequests int           `yaml:"max_concurrent_requests" validate:"gte=0"`
	MaxOpenWorkbooks      int           `yaml:"max_open_workbooks" validate:"gte=0"`
	MaxUploadBytes        int64         `yaml:"max_upload_bytes" validate:"gte=0"`
	MaxSheetRows          int           `yaml:"max_sheet_rows" validate:"gte=0"`
	PreviewRowLimit       int           `yaml:"preview_row_limit" validate:"gte=0"`
	PageSize              int           `yaml:"page_size" validate:"gte=0"`
	MaxPageSize           int           `yaml:"max_page_size" validate:"gte=0"`
	OperationTimeout      time.Duration `yaml:"operation_timeout" validate:"gte=0"`
	AcquireRequestTimeout time.Duration `yaml:"acquire_request_timeout" validate:"gte=0"`
	MergeAcquireTimeout   time.Duration `yaml:"merge_acquire_timeout" validate:"gte=0"`
}

// RetryConfig bounds the backoff applied to snapshot reads during merges. A
// nil MaxRetries takes the default; zero disables retries.
type RetryConfig struct {
	MaxRetries *uint64       `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay" validate:"gte=0"`
}

// MCPConfig configures the MCP tool surface: directories local workbooks may
// be read from, whether write tools are exposed, and the model whose context
// size bounds list_rows pages.
type MCPConfig struct {
	AllowedDirs  []string `yaml:"allowed_dirs"`
	EnableWrites bool     `yaml:"enable_writes"`
	Model        string   `yaml:"model"`
}

// LogConfig sets the zerolog level and enables console output.
type LogConfig struct {
	Level  string `yaml:"level" validate:"omitempty,oneof=trace debug info warn error"`
	Pretty bool   `yaml:"pretty"`
}

// Load reads the optional YAML file at path, then a .env file if present,
// applies FUNNELSNAP_* environment overrides, fills defaults and validates.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type lookupFunc func(string) (string, bool)

func (c *Config) applyEnv(lookup lookupFunc) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = splitList(v)
		}
	}
	var errs []error
	num := func(key string, dst *int) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = d
		}
	}
	flag := func(key string, dst *bool) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s: %w", key, err))
				return
			}
			*dst = b
		}
	}

	str("FUNNELSNAP_ADDR", &c.Server.Addr)
	// DASHBOARD_ADMIN_KEY is accepted for existing deployments.
	str("DASHBOARD_ADMIN_KEY", &c.Server.AdminKey)
	str("FUNNELSNAP_ADMIN_KEY", &c.Server.AdminKey)
	list("FUNNELSNAP_CORS_ORIGINS", &c.Server.CORSOrigins)
	dur("FUNNELSNAP_SHUTDOWN_TIMEOUT", &c.Server.ShutdownTimeout)

	str("FUNNELSNAP_STORAGE_BACKEND", &c.Storage.Backend)
	str("FUNNELSNAP_STORAGE_DIR", &c.Storage.Dir)
	str("FUNNELSNAP_STORAGE_PREFIX", &c.Storage.Prefix)
	str("FUNNELSNAP_S3_BUCKET", &c.Storage.S3.Bucket)
	str("FUNNELSNAP_S3_REGION", &c.Storage.S3.Region)
	str("FUNNELSNAP_S3_ENDPOINT", &c.Storage.S3.Endpoint)
	str("FUNNELSNAP_POSTGRES_DSN", &c.Storage.Postgres.DSN)

	str("FUNNELSNAP_REDIS_ADDR", &c.Cache.RedisAddr)
	dur("FUNNELSNAP_CACHE_TTL", &c.Cache.TTL)

	str("FUNNELSNAP_CAMPAIGN_START", &c.Calendar.CampaignStart)
	str("FUNNELSNAP_WEEK_ANCHOR", &c.Calendar.WeekAnchor)
	str("FUNNELSNAP_PERIOD_END", &c.Calendar.PeriodEnd)
	str("FUNNELSNAP_DATE_POLICY", &c.Calendar.DatePolicy)

	num("FUNNELSNAP_MAX_CONCURRENT_REQUESTS", &c.Limits.MaxConcurrentRequests)
	num("FUNNELSNAP_MAX_OPEN_WORKBOOKS", &c.Limits.MaxOpenWorkbooks)
	if v, ok := lookup("FUNNELSNAP_MAX_UPLOAD_BYTES"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: FUNNELSNAP_MAX_UPLOAD_BYTES: %w", err))
		} else {
			c.Limits.MaxUploadBytes = n
		}
	}
	num("FUNNELSNAP_MAX_SHEET_ROWS", &c.Limits.MaxSheetRows)
	num("FUNNELSNAP_PAGE_SIZE", &c.Limits.PageSize)
	num("FUNNELSNAP_MAX_PAGE_SIZE", &c.Limits.MaxPageSize)
	dur("FUNNELSNAP_OPERATION_TIMEOUT", &c.Limits.OperationTimeout)

	if v, ok := lookup("FUNNELSNAP_RETRY_MAX_RETRIES"); ok && strings.TrimSpace(v) != "" {
		n, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: FUNNELSNAP_RETRY_MAX_RETRIES: %w", err))
		} else {
			c.Retry.MaxRetries = &n
		}
	}
	dur("FUNNELSNAP_RETRY_BASE_DELAY", &c.Retry.BaseDelay)

	list("FUNNELSNAP_ALLOWED_DIRS", &c.MCP.AllowedDirs)
	flag("FUNNELSNAP_ENABLE_WRITES", &c.MCP.EnableWrites)
	str("FUNNELSNAP_MODEL", &c.MCP.Model)

	str("FUNNELSNAP_LOG_LEVEL", &c.Log.Level)
	flag("FUNNELSNAP_LOG_PRETTY", &c.Log.Pretty)

	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.FieldsFunc(v, func(r rune) bool { return r == ',' || r == ';' }) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (c *Config) applyDefaults() {
	setString(&c.Server.Addr, DefaultAddr)
	setDuration(&c.Server.ShutdownTimeout, DefaultShutdownTimeout)

	setString(&c.Storage.Backend, DefaultStorageBackend)
	c.Storage.Backend = strings.ToLower(c.Storage.Backend)
	setString(&c.Storage.Dir, DefaultStorageDir)
	setDuration(&c.Cache.TTL, DefaultCacheTTL)

	setString(&c.Calendar.CampaignStart, DefaultCampaignStart)
	setString(&c.Calendar.WeekAnchor, DefaultWeekAnchor)
	setString(&c.Calendar.DatePolicy, DefaultDatePolicy)

	setInt(&c.Limits.MaxConcurrentRequests, DefaultMaxConcurrentRequests)
	setInt(&c.Limits.MaxOpenWorkbooks, DefaultMaxOpenWorkbooks)
	if c.Limits.MaxUploadBytes == 0 {
		c.Limits.MaxUploadBytes = DefaultMaxUploadBytes
	}
	setInt(&c.Limits.MaxSheetRows, DefaultMaxSheetRows)
	setInt(&c.Limits.PreviewRowLimit, DefaultPreviewRowLimit)
	setInt(&c.Limits.PageSize, DefaultPageSize)
	setInt(&c.Limits.MaxPageSize, DefaultMaxPageSize)
	setDuration(&c.Limits.OperationTimeout, DefaultOperationTimeout)
	setDuration(&c.Limits.AcquireRequestTimeout, DefaultAcquireRequestTimeout)
	setDuration(&c.Limits.MergeAcquireTimeout, DefaultMergeAcquireTimeout)

	if c.Retry.MaxRetries == nil {
		n := uint64(DefaultRetryMaxRetries)
		c.Retry.MaxRetries = &n
	}
	setDuration(&c.Retry.BaseDelay, DefaultRetryBaseDelay)

	setString(&c.MCP.Model, DefaultModel)
	setString(&c.Log.Level, "info")
}

func setString(dst *string, def string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = def
	}
}

func setInt(dst *int, def int) {
	if *dst == 0 {
		*dst = def
	}
}

func setDuration(dst *time.Duration, def time.Duration) {
	if *dst == 0 {
		*dst = def
	}
}

// Validate checks tagged constraints, backend requirements and calendar dates.
func (c *Config) Validate() error {
	if err := validation.Check(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	switch c.Storage.Backend {
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return errors.New("config: storage.s3.bucket is required for the s3 backend")
		}
	case "postgres":
		if c.Storage.Postgres.DSN == "" {
			return errors.New("config: storage.postgres.dsn is required for the postgres backend")
		}
	}
	if c.Limits.PageSize > c.Limits.MaxPageSize {
		return fmt.Errorf("config: limits.page_size %d exceeds limits.max_page_size %d", c.Limits.PageSize, c.Limits.MaxPageSize)
	}
	if _, err := c.BuildCalendar(); err != nil {
		return err
	}
	return nil
}

// BuildCalendar parses the calendar dates. The period end covers the whole day.
func (c *Config) BuildCalendar() (dates.Calendar, error) {
	start, err := parseDate("calendar.campaign_start", c.Calendar.CampaignStart)
	if err != nil {
		return dates.Calendar{}, err
	}
	anchor, err := parseDate("calendar.week_anchor", c.Calendar.WeekAnchor)
	if err != nil {
		return dates.Calendar{}, err
	}
	if anchor.Weekday() != time.Monday {
		return dates.Calendar{}, fmt.Errorf("config: calendar.week_anchor %s is not a Monday", c.Calendar.WeekAnchor)
	}
	cal := dates.Calendar{Start: start, WeekAnchor: anchor}
	if strings.TrimSpace(c.Calendar.PeriodEnd) != "" {
		end, err := parseDate("calendar.period_end", c.Calendar.PeriodEnd)
		if err != nil {
			return dates.Calendar{}, err
		}
		if end.Before(start) {
			return dates.Calendar{}, errors.New("config: calendar.period_end is before calendar.campaign_start")
		}
		cal.End = end.Add(24*time.Hour - time.Nanosecond)
	}
	return cal, nil
}

// DateParser builds the cell date parser for the configured policy. Dates
// outside the calendar window are kept; the calendar decides what counts.
func (c *Config) DateParser() *dates.Parser {
	return dates.NewParser(dates.ParsePolicy(c.Calendar.DatePolicy))
}

func parseDate(key, v string) (time.Time, error) {
	t, err := time.ParseInLocation(dateLayout, strings.TrimSpace(v), time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("config: %s must be YYYY-MM-DD: %w", key, err)
	}
	return t, nil
}
