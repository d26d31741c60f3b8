package cmd

import (
	"errors"

	"github.com/spf13/pflag"

	"github.com/oarkflow/permit"
)

// checkFlags binds one CheckRequest to command-line flags.
type checkFlags struct {
	req      permit.CheckRequest
	operator string
}

func (f *checkFlags) register(fs *pflag.FlagSet) {
	fs.Int64VarP(&f.req.PrincipalID, "principal", "p", 0, "principal id")
	fs.StringVar(&f.req.Permission, "permission", "", "permission code, e.g. events.read")
	fs.StringSliceVar(&f.req.Permissions, "permissions", nil, "comma separated permission codes")
	fs.StringVar(&f.operator, "operator", string(permit.OperatorAny), "operator for --permissions: any or all")
	fs.StringVar(&f.req.Role, "role", "", "role code")
	fs.Int64Var(&f.req.MenuID, "menu", 0, "menu id")
	fs.StringVar(&f.req.Resource, "resource", "", "resource:action pair")
	fs.StringVar(&f.req.Expr, "expr", "", `textual policy, e.g. "role:all:organizer; ?permission:any:events.read"`)
	fs.StringVar(&f.req.PolicyName, "policy", "", "named policy from the config")
}

func (f *checkFlags) request() (*permit.CheckRequest, error) {
	if f.req.PrincipalID <= 0 {
		return nil, errors.New("--principal is required")
	}
	req := f.req
	if len(req.Permissions) > 0 {
		req.Operator = permit.Operator(f.operator)
	}
	return &req, nil
}

type storeFlags struct {
	driver      string
	dsn         string
	accessRedis string
}

func (f *storeFlags) register(fs *pflag.FlagSet) {
	fs.StringVar(&f.driver, "driver", "sqlite", "database driver: sqlite or postgres")
	fs.StringVar(&f.dsn, "dsn", "permit.db", "database DSN")
	fs.StringVar(&f.accessRedis, "access-redis", "", "keep principal memberships in this redis instead of the database")
}
