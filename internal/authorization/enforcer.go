package authorization

import (
	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"gorm.io/gorm"
)

const modelText = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && r.obj == p.obj && r.act == p.act
`

// rolePolicies maps membership roles to the capabilities they carry.
// Certificate operations require an elevated role.
var rolePolicies = map[string][][2]string{
	"OWNER": {
		{ObjectLedger, ActionLedgerSeriesCreate},
		{ObjectLedger, ActionLedgerFinalize},
		{ObjectLedger, ActionLedgerCancel},
		{ObjectLedger, ActionLedgerExport},
		{ObjectCertificate, ActionCertificateUpload},
		{ObjectCertificate, ActionCertificateHistory},
	},
	"ADMIN": {
		{ObjectLedger, ActionLedgerSeriesCreate},
		{ObjectLedger, ActionLedgerFinalize},
		{ObjectLedger, ActionLedgerCancel},
		{ObjectLedger, ActionLedgerExport},
		{ObjectCertificate, ActionCertificateUpload},
		{ObjectCertificate, ActionCertificateHistory},
	},
	"MEMBER": {
		{ObjectLedger, ActionLedgerFinalize},
		{ObjectLedger, ActionLedgerCancel},
		{ObjectLedger, ActionLedgerExport},
	},
}

// NewEnforcer builds the casbin enforcer backed by the shared database
// and seeds the role capability policies.
func NewEnforcer(db *gorm.DB) (*casbin.Enforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}

	for role, policies := range rolePolicies {
		for _, policy := range policies {
			if _, err := enforcer.AddPolicy("role:"+role, policy[0], policy[1]); err != nil {
				return nil, err
			}
		}
	}
	return enforcer, nil
}
