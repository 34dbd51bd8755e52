package registry

import "strings"

// GlobalRoom holds every live connection.
const GlobalRoom = "global"

// Feature rooms a client may subscribe to, scoped to its own tenant.
const (
	FeatureDashboard = "dashboard"
	FeatureCalls     = "calls"
	FeatureAnalytics = "analytics"
)

const (
	tenantPrefix = "tenant:"
	userPrefix   = "user:"
)

// TenantRoom names the room holding every connection of tenantID.
func TenantRoom(tenantID string) string { return tenantPrefix + tenantID }

// UserRoom names the room holding the connection answering for userID.
func UserRoom(userID string) string { return userPrefix + userID }

// FeatureRoom names the per-tenant room for feature, e.g. "dashboard:acme".
func FeatureRoom(feature, tenantID string) string { return feature + ":" + tenantID }

// IsFeature reports whether name is a subscribable feature.
func IsFeature(name string) bool {
	switch name {
	case FeatureDashboard, FeatureCalls, FeatureAnalytics:
		return true
	}
	return false
}

// managed rooms are joined and left only by Register/Deregister.
func isManagedRoom(room string) bool {
	return room == GlobalRoom || strings.HasPrefix(room, tenantPrefix) || strings.HasPrefix(room, userPrefix)
}
