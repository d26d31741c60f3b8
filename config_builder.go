package permit

// ConfigBuilder provides fluent API for building configurations
type ConfigBuilder struct {
	cfg *Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{
		cfg: &Config{
			Version:  1,
			Policies: make(map[string]string),
			Engine: EngineConfig{
				CacheTTL:      DefaultCacheTTL.Milliseconds(),
				CacheBackend:  "memory",
				LookupTimeout: DefaultLookupTimeout.Milliseconds(),
				AuditBuffer:   DefaultAuditBuffer,
			},
		},
	}
}

func (b *ConfigBuilder) Version(v uint16) *ConfigBuilder {
	b.cfg.Version = v
	return b
}

// AddRole adds an active role.
func (b *ConfigBuilder) AddRole(id int64, code string, level int) *ConfigBuilder {
	b.cfg.Roles = append(b.cfg.Roles, Role{ID: id, Code: code, Name: code, Level: level, Active: true})
	return b
}

func (b *ConfigBuilder) Role(r Role) *ConfigBuilder {
	b.cfg.Roles = append(b.cfg.Roles, r)
	return b
}

// AddPermission adds an active permission; the group is the code's resource.
func (b *ConfigBuilder) AddPermission(id int64, code string) *ConfigBuilder {
	group, _, _ := SplitPermissionCode(normalizeCode(code))
	b.cfg.Permissions = append(b.cfg.Permissions, Permission{ID: id, Code: code, Group: group, Active: true})
	return b
}

// AddMenu adds an active menu.
func (b *ConfigBuilder) AddMenu(id, parentID int64, visible bool) *ConfigBuilder {
	b.cfg.Menus = append(b.cfg.Menus, Menu{ID: id, ParentID: parentID, Visible: visible, Active: true})
	return b
}

// Assign gives the principal an active membership in the role.
func (b *ConfigBuilder) Assign(principalID, roleID int64) *ConfigBuilder {
	b.cfg.Accesses = append(b.cfg.Accesses, Access{UserID: principalID, RoleID: roleID, Status: AccessActive})
	return b
}

// Grant gives the role a permission, scoped to menuID unless it is zero.
func (b *ConfigBuilder) Grant(roleID int64, code string, menuID int64) *ConfigBuilder {
	b.cfg.Authorizations = append(b.cfg.Authorizations, Authorization{RoleID: roleID, PermissionCode: code, MenuID: menuID})
	return b
}

// Policy registers a named policy in textual form.
func (b *ConfigBuilder) Policy(name string, p Policy) *ConfigBuilder {
	b.cfg.Policies[name] = p.String()
	return b
}

func (b *ConfigBuilder) EngineSettings(fn func(*EngineConfig)) *ConfigBuilder {
	fn(&b.cfg.Engine)
	return b
}

func (b *ConfigBuilder) Build() *Config {
	return b.cfg
}

func (b *ConfigBuilder) ToYAML() ([]byte, error) {
	return b.cfg.ToYAML()
}

func (b *ConfigBuilder) ToJSON() ([]byte, error) {
	return b.cfg.ToJSON()
}
