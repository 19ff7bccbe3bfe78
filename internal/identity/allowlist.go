package identity

import (
	"strings"

	"github.com/samber/lo"
)

// DefaultDomains are the email domains allowed when none are configured.
var DefaultDomains = []string{"vu.nl", "student.vu.nl"}

// AllowList decides which email addresses may use edulab. An address is
// allowed when it ends with "@" followed by one of the domains, compared
// case-insensitively.
type AllowList struct {
	domains []string
}

// NewAllowList normalizes the given domains. Leading "@" and surrounding
// whitespace are dropped, duplicates removed. With no usable domains the
// DefaultDomains apply.
func NewAllowList(domains ...string) *AllowList {
	normalized := lo.Uniq(lo.FilterMap(domains, func(d string, _ int) (string, bool) {
		d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "@"))
		return d, d != ""
	}))
	if len(normalized) == 0 {
		normalized = append([]string(nil), DefaultDomains...)
	}
	return &AllowList{domains: normalized}
}

// IsAllowed reports whether email belongs to an allowed domain.
func (a *AllowList) IsAllowed(email string) bool {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return false
	}
	return lo.ContainsBy(a.domains, func(d string) bool {
		return strings.HasSuffix(email, "@"+d)
	})
}

// Domains returns a copy of the normalized domain list.
func (a *AllowList) Domains() []string {
	return append([]string(nil), a.domains...)
}

// HostedDomainHint returns the domain passed as the "hd" hint on the
// consent screen.
func (a *AllowList) HostedDomainHint() string {
	if len(a.domains) == 0 {
		return ""
	}
	return a.domains[0]
}
