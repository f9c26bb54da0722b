package orchestrator

// roleServices maps each deployable role to the OS service units that back
// it. The keys double as the role allowlist for deployment requests.
var roleServices = map[string][]string{
	"web":      {"nginx", "php-fpm"},
	"database": {"mariadb"},
	"redis":    {"redis-server"},
	"valkey":   {"valkey-server"},
	"lb":       {"haproxy"},
	"s3":       {"garage"},
}

// AllowedRole reports whether the role may appear in a deployment request.
func AllowedRole(role string) bool {
	_, ok := roleServices[role]
	return ok
}

// ServicesFor returns the service units backing a role.
func ServicesFor(role string) []string {
	return roleServices[role]
}

func containsRole(roles []string, role string) bool {
	for _, r := range roles {
		if r == role {
			return true
		}
	}
	return false
}

// unionRoles returns a ∪ b preserving the order of a.
func unionRoles(a, b []string) []string {
	out := make([]string, 0, len(a)+len(b))
	out = append(out, a...)
	for _, r := range b {
		if !containsRole(out, r) {
			out = append(out, r)
		}
	}
	return out
}

// subtractRoles returns the roles in a that are not in b.
func subtractRoles(a, b []string) []string {
	out := make([]string, 0, len(a))
	for _, r := range a {
		if !containsRole(b, r) {
			out = append(out, r)
		}
	}
	return out
}

// intersectRoles reports whether a and b share any role.
func intersectRoles(a, b []string) bool {
	for _, r := range a {
		if containsRole(b, r) {
			return true
		}
	}
	return false
}
