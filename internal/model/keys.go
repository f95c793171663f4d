// SPDX-License-Identifier: MIT

package model

import "fmt"

// Shared-store key builders. Every ephemeral entry lives under one of these
// namespaces; nothing writes ad-hoc keys.

// PIDKey holds the registered transcoder pid for a stream.
func PIDKey(key StreamKey) string {
	return fmt.Sprintf("pid:%s:%d", key.Kind, key.ID)
}

// ActiveIDsKey is the set of live resource ids per kind.
func ActiveIDsKey(kind ResourceKind) string {
	return fmt.Sprintf("active-ids:%s", kind)
}

// BadSourceKey marks a (source, profile) pair as cooled down after a failure.
func BadSourceKey(sourceID, profileID int64) string {
	return fmt.Sprintf("bad-source:%d:%d", sourceID, profileID)
}

// ProfileConnectionsKey is the live-stream counter for a profile.
func ProfileConnectionsKey(profileID int64) string {
	return fmt.Sprintf("profile-connections:%d", profileID)
}

// ProbeDetailsKey caches the last successful probe result for a stream.
func ProbeDetailsKey(key StreamKey) string {
	return fmt.Sprintf("probe-details:%s:%d", key.Kind, key.ID)
}

// StartLockKey serializes start attempts per stream.
func StartLockKey(key StreamKey) string {
	return fmt.Sprintf("startlock:%s:%d", key.Kind, key.ID)
}

// MonitorLockKey guarantees at most one concurrent monitor pass per session.
func MonitorLockKey(sessionID string) string {
	return fmt.Sprintf("monitor-lock:%s", sessionID)
}

// RevalidateLockKey serializes sweeper revalidation per source against the
// monitor's forward transition.
func RevalidateLockKey(sourceID int64) string {
	return fmt.Sprintf("revalidate:%d", sourceID)
}
