package permit

import (
	"fmt"
	"strconv"
	"strings"
)

// DSL Syntax:
// role <id> <code> [level:<n>] [name:<name>] [system] [inactive]
// permission <id> <code> [group:<group>] [inactive]
// menu <id> [parent:<id>] [hidden] [inactive]
// access <principal> <role_id> [status:<active|inactive|lock>]
// grant <role_id> <permission> [menu:<id>]
// policy <name> "<textual policy>"
// engine <key>=<value>...
//
// Values containing spaces are double-quoted. Lines starting with # are
// comments.

type DSLParser struct {
	line int
}

func NewDSLParser() *DSLParser {
	return &DSLParser{}
}

type DSLEncoder struct {
	buf []byte
}

func NewDSLEncoder() *DSLEncoder {
	return &DSLEncoder{buf: make([]byte, 0, 4096)}
}

func (e *DSLEncoder) Encode(cfg *Config) ([]byte, error) {
	e.buf = e.buf[:0]

	for _, r := range cfg.Roles {
		e.buf = append(e.buf, "role "...)
		e.buf = strconv.AppendInt(e.buf, r.ID, 10)
		e.buf = append(e.buf, ' ')
		e.buf = append(e.buf, r.Code...)
		if r.Level != 0 {
			e.buf = append(e.buf, " level:"...)
			e.buf = strconv.AppendInt(e.buf, int64(r.Level), 10)
		}
		if r.Name != "" && r.Name != r.Code {
			e.buf = append(e.buf, " name:"...)
			e.appendWord(r.Name)
		}
		if r.IsSystem {
			e.buf = append(e.buf, " system"...)
		}
		if !r.Active {
			e.buf = append(e.buf, " inactive"...)
		}
		e.buf = append(e.buf, '\n')
	}

	for _, p := range cfg.Permissions {
		e.buf = append(e.buf, "permission "...)
		e.buf = strconv.AppendInt(e.buf, p.ID, 10)
		e.buf = append(e.buf, ' ')
		e.buf = append(e.buf, p.Code...)
		if p.Group != "" {
			e.buf = append(e.buf, " group:"...)
			e.appendWord(p.Group)
		}
		if !p.Active {
			e.buf = append(e.buf, " inactive"...)
		}
		e.buf = append(e.buf, '\n')
	}

	for _, m := range cfg.Menus {
		e.buf = append(e.buf, "menu "...)
		e.buf = strconv.AppendInt(e.buf, m.ID, 10)
		if m.ParentID != 0 {
			e.buf = append(e.buf, " parent:"...)
			e.buf = strconv.AppendInt(e.buf, m.ParentID, 10)
		}
		if !m.Visible {
			e.buf = append(e.buf, " hidden"...)
		}
		if !m.Active {
			e.buf = append(e.buf, " inactive"...)
		}
		e.buf = append(e.buf, '\n')
	}

	for _, a := range cfg.Accesses {
		e.buf = append(e.buf, "access "...)
		e.buf = strconv.AppendInt(e.buf, a.UserID, 10)
		e.buf = append(e.buf, ' ')
		e.buf = strconv.AppendInt(e.buf, a.RoleID, 10)
		if a.Status != "" && a.Status != AccessActive {
			e.buf = append(e.buf, " status:"...)
			e.buf = append(e.buf, a.Status...)
		}
		e.buf = append(e.buf, '\n')
	}

	for _, a := range cfg.Authorizations {
		e.buf = append(e.buf, "grant "...)
		e.buf = strconv.AppendInt(e.buf, a.RoleID, 10)
		e.buf = append(e.buf, ' ')
		e.buf = append(e.buf, a.PermissionCode...)
		if a.MenuID != 0 {
			e.buf = append(e.buf, " menu:"...)
			e.buf = strconv.AppendInt(e.buf, a.MenuID, 10)
		}
		e.buf = append(e.buf, '\n')
	}

	for _, name := range cfg.PolicyNames() {
		e.buf = append(e.buf, "policy "...)
		e.buf = append(e.buf, name...)
		e.buf = append(e.buf, " \""...)
		e.buf = append(e.buf, cfg.Policies[name]...)
		e.buf = append(e.buf, "\"\n"...)
	}

	if kv := engineSettings(cfg.Engine); len(kv) > 0 {
		e.buf = append(e.buf, "engine"...)
		for _, s := range kv {
			e.buf = append(e.buf, ' ')
			e.buf = append(e.buf, s...)
		}
		e.buf = append(e.buf, '\n')
	}

	return e.buf, nil
}

func (e *DSLEncoder) appendWord(s string) {
	if strings.ContainsAny(s, " \t") {
		e.buf = append(e.buf, '"')
		e.buf = append(e.buf, s...)
		e.buf = append(e.buf, '"')
		return
	}
	e.buf = append(e.buf, s...)
}

func engineSettings(c EngineConfig) []string {
	var kv []string
	addInt := func(key string, v int64) {
		if v != 0 {
			kv = append(kv, key+"="+strconv.FormatInt(v, 10))
		}
	}
	addStr := func(key, v string) {
		if v != "" {
			kv = append(kv, key+"="+v)
		}
	}
	addInt("cache_ttl", c.CacheTTL)
	addStr("cache_backend", c.CacheBackend)
	addInt("ristretto_num_counters", c.RistrettoNumCounters)
	addInt("ristretto_max_cost", c.RistrettoMaxCost)
	addInt("ristretto_buffer", c.RistrettoBuffer)
	addStr("redis_addr", c.RedisAddr)
	addStr("redis_prefix", c.RedisPrefix)
	addInt("lookup_timeout", c.LookupTimeout)
	addInt("audit_buffer", int64(c.AuditBuffer))
	if c.AuditDecisions {
		kv = append(kv, "audit_decisions=true")
	}
	if c.OptionalRuleGate {
		kv = append(kv, "optional_rule_gate=true")
	}
	return kv
}

func (p *DSLParser) Parse(data []byte) (*Config, error) {
	cfg := &Config{
		Version:  1,
		Policies: make(map[string]string, 8),
	}

	p.line = 0
	start := 0
	for i := 0; i <= len(data); i++ {
		if i != len(data) && data[i] != '\n' {
			continue
		}
		p.line++
		line := strings.TrimSpace(string(data[start:i]))
		start = i + 1
		if line == "" || line[0] == '#' {
			continue
		}

		parts, err := splitLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", p.line, err)
		}
		if len(parts) == 0 {
			continue
		}

		switch parts[0] {
		case "role":
			err = p.parseRole(cfg, parts[1:])
		case "permission":
			err = p.parsePermission(cfg, parts[1:])
		case "menu":
			err = p.parseMenu(cfg, parts[1:])
		case "access":
			err = p.parseAccess(cfg, parts[1:])
		case "grant":
			err = p.parseGrant(cfg, parts[1:])
		case "policy":
			err = p.parsePolicy(cfg, parts[1:])
		case "engine":
			err = p.parseEngine(cfg, parts[1:])
		default:
			err = fmt.Errorf("unknown directive: %s", parts[0])
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", p.line, err)
		}
	}

	return cfg, nil
}

// splitLine splits on blanks, keeping double-quoted runs together. A quote
// may open mid-word, as in name:"Event Designer".
func splitLine(line string) ([]string, error) {
	parts := make([]string, 0, 8)
	var cur strings.Builder
	inQuote, pending := false, false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		switch {
		case ch == '"':
			inQuote = !inQuote
			pending = true
		case (ch == ' ' || ch == '\t') && !inQuote:
			if pending {
				parts = append(parts, cur.String())
				cur.Reset()
				pending = false
			}
		default:
			cur.WriteByte(ch)
			pending = true
		}
	}
	if inQuote {
		return nil, fmt.Errorf("unterminated quote")
	}
	if pending {
		parts = append(parts, cur.String())
	}
	return parts, nil
}

func parseID(s, what string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s %q", what, s)
	}
	return id, nil
}

func (p *DSLParser) parseRole(cfg *Config, parts []string) error {
	if len(parts) < 2 {
		return fmt.Errorf("role requires: <id> <code> [level:<n>] [name:<name>] [system] [inactive]")
	}
	id, err := parseID(parts[0], "role id")
	if err != nil {
		return err
	}
	r := Role{ID: id, Code: parts[1], Name: parts[1], Active: true}
	for _, opt := range parts[2:] {
		switch {
		case strings.HasPrefix(opt, "level:"):
			if r.Level, err = strconv.Atoi(opt[6:]); err != nil {
				return fmt.Errorf("invalid level %q", opt[6:])
			}
		case strings.HasPrefix(opt, "name:"):
			r.Name = opt[5:]
		case opt == "system":
			r.IsSystem = true
		case opt == "inactive":
			r.Active = false
		default:
			return fmt.Errorf("unknown role option %q", opt)
		}
	}
	cfg.Roles = append(cfg.Roles, r)
	return nil
}

func (p *DSLParser) parsePermission(cfg *Config, parts []string) error {
	if len(parts) < 2 {
		return fmt.Errorf("permission requires: <id> <code> [group:<group>] [inactive]")
	}
	id, err := parseID(parts[0], "permission id")
	if err != nil {
		return err
	}
	perm := Permission{ID: id, Code: parts[1], Active: true}
	for _, opt := range parts[2:] {
		switch {
		case strings.HasPrefix(opt, "group:"):
			perm.Group = opt[6:]
		case opt == "inactive":
			perm.Active = false
		default:
			return fmt.Errorf("unknown permission option %q", opt)
		}
	}
	cfg.Permissions = append(cfg.Permissions, perm)
	return nil
}

func (p *DSLParser) parseMenu(cfg *Config, parts []string) error {
	if len(parts) < 1 {
		return fmt.Errorf("menu requires: <id> [parent:<id>] [hidden] [inactive]")
	}
	id, err := parseID(parts[0], "menu id")
	if err != nil {
		return err
	}
	m := Menu{ID: id, Visible: true, Active: true}
	for _, opt := range parts[1:] {
		switch {
		case strings.HasPrefix(opt, "parent:"):
			if m.ParentID, err = parseID(opt[7:], "parent menu id"); err != nil {
				return err
			}
		case opt == "hidden":
			m.Visible = false
		case opt == "inactive":
			m.Active = false
		default:
			return fmt.Errorf("unknown menu option %q", opt)
		}
	}
	cfg.Menus = append(cfg.Menus, m)
	return nil
}

func (p *DSLParser) parseAccess(cfg *Config, parts []string) error {
	if len(parts) < 2 {
		return fmt.Errorf("access requires: <principal> <role_id> [status:<status>]")
	}
	user, err := parseID(parts[0], "principal id")
	if err != nil {
		return err
	}
	role, err := parseID(parts[1], "role id")
	if err != nil {
		return err
	}
	a := Access{UserID: user, RoleID: role, Status: AccessActive}
	for _, opt := range parts[2:] {
		if !strings.HasPrefix(opt, "status:") {
			return fmt.Errorf("unknown access option %q", opt)
		}
		a.Status = AccessStatus(opt[7:])
		if !a.Status.Valid() {
			return fmt.Errorf("invalid access status %q", a.Status)
		}
	}
	cfg.Accesses = append(cfg.Accesses, a)
	return nil
}

func (p *DSLParser) parseGrant(cfg *Config, parts []string) error {
	if len(parts) < 2 {
		return fmt.Errorf("grant requires: <role_id> <permission> [menu:<id>]")
	}
	role, err := parseID(parts[0], "role id")
	if err != nil {
		return err
	}
	a := Authorization{RoleID: role, PermissionCode: parts[1]}
	for _, opt := range parts[2:] {
		if !strings.HasPrefix(opt, "menu:") {
			return fmt.Errorf("unknown grant option %q", opt)
		}
		if a.MenuID, err = parseID(opt[5:], "menu id"); err != nil {
			return err
		}
	}
	cfg.Authorizations = append(cfg.Authorizations, a)
	return nil
}

func (p *DSLParser) parsePolicy(cfg *Config, parts []string) error {
	if len(parts) != 2 {
		return fmt.Errorf(`policy requires: <name> "<policy>"`)
	}
	if _, err := ParsePolicyExpr(parts[1]); err != nil {
		return err
	}
	cfg.Policies[parts[0]] = parts[1]
	return nil
}

func (p *DSLParser) parseEngine(cfg *Config, parts []string) error {
	for _, kv := range parts {
		key, val, ok := strings.Cut(kv, "=")
		if !ok {
			return fmt.Errorf("engine setting %q is not key=value", kv)
		}
		var err error
		switch key {
		case "cache_ttl":
			cfg.Engine.CacheTTL, err = strconv.ParseInt(val, 10, 64)
		case "cache_backend":
			cfg.Engine.CacheBackend = val
		case "ristretto_num_counters":
			cfg.Engine.RistrettoNumCounters, err = strconv.ParseInt(val, 10, 64)
		case "ristretto_max_cost":
			cfg.Engine.RistrettoMaxCost, err = strconv.ParseInt(val, 10, 64)
		case "ristretto_buffer":
			cfg.Engine.RistrettoBuffer, err = strconv.ParseInt(val, 10, 64)
		case "redis_addr":
			cfg.Engine.RedisAddr = val
		case "redis_prefix":
			cfg.Engine.RedisPrefix = val
		case "lookup_timeout":
			cfg.Engine.LookupTimeout, err = strconv.ParseInt(val, 10, 64)
		case "audit_buffer":
			cfg.Engine.AuditBuffer, err = strconv.Atoi(val)
		case "audit_decisions":
			cfg.Engine.AuditDecisions, err = strconv.ParseBool(val)
		case "optional_rule_gate":
			cfg.Engine.OptionalRuleGate, err = strconv.ParseBool(val)
		default:
			return fmt.Errorf("unknown engine setting %q", key)
		}
		if err != nil {
			return fmt.Errorf("engine setting %s: %w", key, err)
		}
	}
	return nil
}
