package permit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes the environment variables that override EngineConfig.
const EnvPrefix = "PERMIT"

// Config is the complete permit configuration: seed grants, named policies
// and engine settings.
type Config struct {
	Version        uint16            `json:"version" yaml:"version"`
	Roles          []Role            `json:"roles,omitempty" yaml:"roles,omitempty" validate:"dive"`
	Permissions    []Permission      `json:"permissions,omitempty" yaml:"permissions,omitempty" validate:"dive"`
	Menus          []Menu            `json:"menus,omitempty" yaml:"menus,omitempty" validate:"dive"`
	Accesses       []Access          `json:"accesses,omitempty" yaml:"accesses,omitempty" validate:"dive"`
	Authorizations []Authorization   `json:"authorizations,omitempty" yaml:"authorizations,omitempty" validate:"dive"`
	Policies       map[string]string `json:"policies,omitempty" yaml:"policies,omitempty"` // name -> textual policy
	Engine         EngineConfig      `json:"engine" yaml:"engine"`
}

// EngineConfig holds engine settings. Durations are milliseconds.
type EngineConfig struct {
	CacheTTL             int64  `json:"cache_ttl_ms,omitempty" yaml:"cache_ttl_ms,omitempty" envconfig:"CACHE_TTL_MS" validate:"gte=0"`
	CacheBackend         string `json:"cache_backend,omitempty" yaml:"cache_backend,omitempty" envconfig:"CACHE_BACKEND" validate:"omitempty,oneof=memory ristretto redis"`
	RistrettoNumCounters int64  `json:"ristretto_num_counters,omitempty" yaml:"ristretto_num_counters,omitempty" envconfig:"RISTRETTO_NUM_COUNTERS" validate:"gte=0"`
	RistrettoMaxCost     int64  `json:"ristretto_max_cost,omitempty" yaml:"ristretto_max_cost,omitempty" envconfig:"RISTRETTO_MAX_COST" validate:"gte=0"`
	RistrettoBuffer      int64  `json:"ristretto_buffer,omitempty" yaml:"ristretto_buffer,omitempty" envconfig:"RISTRETTO_BUFFER" validate:"gte=0"`
	RedisAddr            string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty" envconfig:"REDIS_ADDR" validate:"required_if=CacheBackend redis"`
	RedisPrefix          string `json:"redis_prefix,omitempty" yaml:"redis_prefix,omitempty" envconfig:"REDIS_PREFIX"`
	LookupTimeout        int64  `json:"lookup_timeout_ms,omitempty" yaml:"lookup_timeout_ms,omitempty" envconfig:"LOOKUP_TIMEOUT_MS" validate:"gte=0"`
	AuditBuffer          int    `json:"audit_buffer,omitempty" yaml:"audit_buffer,omitempty" envconfig:"AUDIT_BUFFER" validate:"gte=0"`
	AuditDecisions       bool   `json:"audit_decisions,omitempty" yaml:"audit_decisions,omitempty" envconfig:"AUDIT_DECISIONS"`
	OptionalRuleGate     bool   `json:"optional_rule_gate,omitempty" yaml:"optional_rule_gate,omitempty" envconfig:"OPTIONAL_RULE_GATE"`
}

// Options converts the settings into engine options. The cache backend is
// chosen by the caller; see caches.FromConfig.
func (c EngineConfig) Options() []EngineOption {
	opts := make([]EngineOption, 0, 6)
	if c.CacheTTL > 0 {
		opts = append(opts, WithCacheTTL(time.Duration(c.CacheTTL)*time.Millisecond))
	}
	if c.LookupTimeout > 0 {
		opts = append(opts, WithLookupTimeout(time.Duration(c.LookupTimeout)*time.Millisecond))
	}
	if c.AuditBuffer > 0 {
		opts = append(opts, WithAuditBuffer(c.AuditBuffer))
	}
	opts = append(opts, WithDecisionAudit(c.AuditDecisions), WithOptionalRuleGate(c.OptionalRuleGate))
	return opts
}

// TTL returns the cache TTL, falling back to DefaultCacheTTL.
func (c EngineConfig) TTL() time.Duration {
	if c.CacheTTL > 0 {
		return time.Duration(c.CacheTTL) * time.Millisecond
	}
	return DefaultCacheTTL
}

// ============================================================================
// LOADING
// ============================================================================

// ConfigLoader loads configuration from various formats
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadCBOR loads the binary form written by Config.ToCBOR.
func (l *ConfigLoader) LoadCBOR(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := cborDecMode.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadDSL(data []byte) (*Config, error) {
	return NewDSLParser().Parse(data)
}

// LoadFile picks the format from the file extension: .yaml/.yml, .json,
// .cbor, or .permit/.dsl for the grant DSL.
func (l *ConfigLoader) LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}
	return l.Load(format, data)
}

// Load decodes data in the named format.
func (l *ConfigLoader) Load(format string, data []byte) (*Config, error) {
	switch format {
	case "yaml":
		return l.LoadYAML(data)
	case "json":
		return l.LoadJSON(data)
	case "cbor":
		return l.LoadCBOR(data)
	case "dsl":
		return l.LoadDSL(data)
	}
	return nil, fmt.Errorf("unknown config format %q", format)
}

// FormatOf maps a file name to a config format.
func FormatOf(path string) (string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml", nil
	case ".json":
		return "json", nil
	case ".cbor":
		return "cbor", nil
	case ".permit", ".dsl":
		return "dsl", nil
	}
	return "", fmt.Errorf("unsupported config file %q", path)
}

// ApplyEnv overrides engine settings from PERMIT_* environment variables.
func (c *Config) ApplyEnv() error {
	return envconfig.Process(EnvPrefix, &c.Engine)
}

// ============================================================================
// EXPORT
// ============================================================================

func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// ToCBOR encodes the config deterministically: the same config always
// produces the same bytes.
func (c *Config) ToCBOR() ([]byte, error) {
	return cborEncMode.Marshal(c)
}

func (c *Config) ToDSL() ([]byte, error) {
	return NewDSLEncoder().Encode(c)
}

// Encode writes the config in the named format.
func (c *Config) Encode(format string) ([]byte, error) {
	switch format {
	case "yaml":
		return c.ToYAML()
	case "json":
		return c.ToJSON()
	case "cbor":
		return c.ToCBOR()
	case "dsl":
		return c.ToDSL()
	}
	return nil, fmt.Errorf("unknown config format %q", format)
}

var (
	cborEncMode cbor.EncMode
	cborDecMode cbor.DecMode
)

func init() {
	var err error
	cborEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("permit: cbor encoder: " + err.Error())
	}
	cborDecMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("permit: cbor decoder: " + err.Error())
	}
}

// ============================================================================
// VALIDATION
// ============================================================================

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("permcode", func(fl validator.FieldLevel) bool {
		return ValidatePermissionCode(normalizeCode(fl.Field().String())) == nil
	})
	return v
}

// Validate checks field constraints and that every reference resolves:
// accesses name known roles, grants name known roles, permissions and menus,
// and named policies parse.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	var errs []error
	roles := make(map[int64]struct{}, len(c.Roles))
	codes := make(map[string]struct{}, len(c.Roles))
	for _, r := range c.Roles {
		if _, dup := roles[r.ID]; dup {
			errs = append(errs, fmt.Errorf("duplicate role id %d", r.ID))
		}
		if _, dup := codes[r.Code]; dup {
			errs = append(errs, fmt.Errorf("duplicate role code %q", r.Code))
		}
		roles[r.ID] = struct{}{}
		codes[r.Code] = struct{}{}
	}
	perms := make(map[string]struct{}, len(c.Permissions))
	for _, p := range c.Permissions {
		code := normalizeCode(p.Code)
		if _, dup := perms[code]; dup {
			errs = append(errs, fmt.Errorf("duplicate permission %q", code))
		}
		perms[code] = struct{}{}
	}
	menus := make(map[int64]struct{}, len(c.Menus))
	for _, m := range c.Menus {
		menus[m.ID] = struct{}{}
	}
	for _, m := range c.Menus {
		if m.ParentID == 0 {
			continue
		}
		if _, ok := menus[m.ParentID]; !ok {
			errs = append(errs, fmt.Errorf("menu %d: unknown parent %d", m.ID, m.ParentID))
		}
	}
	for _, a := range c.Accesses {
		if _, ok := roles[a.RoleID]; !ok {
			errs = append(errs, fmt.Errorf("access for principal %d: unknown role %d", a.UserID, a.RoleID))
		}
	}
	for _, a := range c.Authorizations {
		if _, ok := roles[a.RoleID]; !ok {
			errs = append(errs, fmt.Errorf("grant %s: unknown role %d", a.PermissionCode, a.RoleID))
		}
		if _, ok := perms[normalizeCode(a.PermissionCode)]; !ok {
			errs = append(errs, fmt.Errorf("grant to role %d: unknown permission %q", a.RoleID, a.PermissionCode))
		}
		if a.MenuID != 0 {
			if _, ok := menus[a.MenuID]; !ok {
				errs = append(errs, fmt.Errorf("grant %s to role %d: unknown menu %d", a.PermissionCode, a.RoleID, a.MenuID))
			}
		}
	}
	if _, err := c.NamedPolicies(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// NamedPolicies parses the configured policies.
func (c *Config) NamedPolicies() (map[string]Policy, error) {
	out := make(map[string]Policy, len(c.Policies))
	for name, expr := range c.Policies {
		p, err := ParsePolicyExpr(expr)
		if err != nil {
			return nil, fmt.Errorf("policy %q: %w", name, err)
		}
		out[name] = p
	}
	return out, nil
}

// PolicyNames returns the configured policy names, sorted.
func (c *Config) PolicyNames() []string {
	names := make([]string, 0, len(c.Policies))
	for name := range c.Policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Stats counts the config's grant rows.
func (c *Config) Stats() GrantStats {
	principals := make(map[int64]struct{})
	for _, a := range c.Accesses {
		principals[a.UserID] = struct{}{}
	}
	return GrantStats{
		Roles:          len(c.Roles),
		Permissions:    len(c.Permissions),
		Menus:          len(c.Menus),
		Principals:     len(principals),
		Authorizations: len(c.Authorizations),
	}
}

// ============================================================================
// APPLY
// ============================================================================

// Seed writes the config's grants into w. Permission codes are normalized.
func (c *Config) Seed(ctx context.Context, w GrantWriter) error {
	for _, r := range c.Roles {
		if err := w.PutRole(ctx, r); err != nil {
			return fmt.Errorf("put role %s: %w", r.Code, err)
		}
	}
	for _, p := range c.Permissions {
		p.Code = normalizeCode(p.Code)
		if err := w.PutPermission(ctx, p); err != nil {
			return fmt.Errorf("put permission %s: %w", p.Code, err)
		}
	}
	for _, m := range c.Menus {
		if err := w.PutMenu(ctx, m); err != nil {
			return fmt.Errorf("put menu %d: %w", m.ID, err)
		}
	}
	for _, a := range c.Accesses {
		if a.Status == "" {
			a.Status = AccessActive
		}
		if err := w.PutAccess(ctx, a); err != nil {
			return fmt.Errorf("put access %d->%d: %w", a.UserID, a.RoleID, err)
		}
	}
	for _, a := range c.Authorizations {
		a.PermissionCode = normalizeCode(a.PermissionCode)
		if err := w.PutAuthorization(ctx, a); err != nil {
			return fmt.Errorf("put grant %s to role %d: %w", a.PermissionCode, a.RoleID, err)
		}
	}
	return nil
}

// ApplyConfig validates cfg, seeds w, registers the named policies and
// invalidates every principal the config mentions.
func (e *Engine) ApplyConfig(ctx context.Context, cfg *Config, w GrantWriter) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if w != nil {
		if err := cfg.Seed(ctx, w); err != nil {
			return err
		}
	}
	policies, err := cfg.NamedPolicies()
	if err != nil {
		return err
	}
	for name, p := range policies {
		if err := e.RegisterPolicy(name, p); err != nil {
			return err
		}
	}
	seen := make(map[int64]struct{}, len(cfg.Accesses))
	for _, a := range cfg.Accesses {
		if _, ok := seen[a.UserID]; ok {
			continue
		}
		seen[a.UserID] = struct{}{}
		if err := e.Invalidate(ctx, a.UserID); err != nil {
			return err
		}
	}
	e.logger.Info("config applied", "roles", len(cfg.Roles), "grants", len(cfg.Authorizations), "policies", len(policies))
	return nil
}
