package auth

const (
	PermElectionsManage = "elections.manage"
	PermRBACManage      = "rbac.manage"
	PermPadronManage    = "padron.manage"
	PermAuditRead       = "audit.read"
	PermUsersManage     = "users.manage"
)

const (
	RoleSystemAdmin   = "SystemAdmin"
	RolePadronManager = "PadronManager"
	RoleMember        = "Member"
)

var BuiltinPermissions = []Permission{
	{Key: PermElectionsManage, Description: "Create and administer elections, lists and candidates"},
	{Key: PermRBACManage, Description: "Manage roles and permissions"},
	{Key: PermPadronManage, Description: "Import the member registry"},
	{Key: PermAuditRead, Description: "Read the audit log"},
	{Key: PermUsersManage, Description: "Activate and deactivate members"},
}

// BuiltinRole is provisioned by the seed. AllPermissions grants every known key.
type BuiltinRole struct {
	Name           string
	Description    string
	Permissions    []string
	AllPermissions bool
}

var BuiltinRoles = []BuiltinRole{
	{Name: RoleSystemAdmin, Description: "Full administrative access", AllPermissions: true},
	{Name: RolePadronManager, Description: "Maintains the member registry", Permissions: []string{PermPadronManage}},
	{Name: RoleMember, Description: "Registered member"},
}
