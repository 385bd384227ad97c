package plugin

// AccessPolicy decides which module paths a user may load. Admin users bypass
// the permission table entirely.
type AccessPolicy struct {
	admin     bool
	permitted map[string]struct{}
}

// AdminPolicy allows every module path.
func AdminPolicy() AccessPolicy {
	return AccessPolicy{admin: true}
}

// PermittedPolicy allows only the listed module paths.
func PermittedPolicy(modulePaths []string) AccessPolicy {
	permitted := make(map[string]struct{}, len(modulePaths))
	for _, path := range modulePaths {
		permitted[path] = struct{}{}
	}
	return AccessPolicy{permitted: permitted}
}

// Admin reports whether the policy belongs to an admin user.
func (p AccessPolicy) Admin() bool { return p.admin }

// Allows reports whether modulePath may be loaded under the policy.
func (p AccessPolicy) Allows(modulePath string) bool {
	if p.admin {
		return true
	}
	_, ok := p.permitted[modulePath]
	return ok
}

// PolicyFor builds the access policy for an account using the store's
// permission table when the account is not an admin.
func PolicyFor(user User, permitted func() ([]string, error)) (AccessPolicy, error) {
	if user.Admin {
		return AdminPolicy(), nil
	}
	modules, err := permitted()
	if err != nil {
		return AccessPolicy{}, err
	}
	return PermittedPolicy(modules), nil
}
