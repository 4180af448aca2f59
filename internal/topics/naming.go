// Package topics implements the two coexisting topic naming strategies
// (spec section 4.11): shared topics (Option A, the default) and
// per-tenant topics (Option B), selected by whether a tenant id is passed.
package topics

import "strings"

// Base topic names under Option A (shared topics, strict tenant validation
// happens at the worker, not the broker).
const (
	Exceptions = "exceptions"
	SLA        = "sla"
	Playbooks  = "playbooks"
	Tools      = "tools"
)

var knownBases = map[string]bool{
	Exceptions: true,
	SLA:        true,
	Playbooks:  true,
	Tools:      true,
}

// ForExceptions returns the exceptions topic, shared unless tenantID is set
// (Option B: "exceptions.{tenant_id}").
func ForExceptions(tenantID string) string { return resolve(Exceptions, tenantID) }

// ForSLA returns the SLA topic.
func ForSLA(tenantID string) string { return resolve(SLA, tenantID) }

// ForPlaybooks returns the playbooks topic.
func ForPlaybooks(tenantID string) string { return resolve(Playbooks, tenantID) }

// ForTools returns the tools topic.
func ForTools(tenantID string) string { return resolve(Tools, tenantID) }

func resolve(base, tenantID string) string {
	if tenantID == "" {
		return base
	}
	return base + "." + tenantID
}

// ExtractTenantID returns the tenant id encoded in a per-tenant topic name,
// or "" if topic is a shared topic or doesn't match a known base.
func ExtractTenantID(topic string) string {
	base, tenantID, ok := strings.Cut(topic, ".")
	if !ok || !knownBases[base] {
		return ""
	}
	return tenantID
}

// IsPerTenant reports whether topic follows the Option B naming pattern.
func IsPerTenant(topic string) bool {
	return ExtractTenantID(topic) != ""
}
