package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolveEmptyBlobReturnsDefaults(t *testing.T) {
	for _, blob := range []string{"", "  ", "null"} {
		resolved, degraded := Resolve([]byte(blob))
		require.False(t, degraded, "blob %q", blob)
		require.True(t, resolved.Reenrollment.AllowReenrollmentAfterExpiry)
		require.Equal(t, 0, resolved.Reenrollment.GapInDays)
		require.Equal(t, BehaviorStack, resolved.Reenrollment.ActiveRepurchaseBehavior)
		require.True(t, resolved.OnExpiry.EnableAutoRenewal)
		require.False(t, resolved.GapEnforced())
	}
}

func TestResolveMalformedBlobDegradesToDefaults(t *testing.T) {
	resolved, degraded := Resolve([]byte(`{"reenrollmentPolicy": {`))
	require.True(t, degraded)
	require.Equal(t, Default(), resolved)
}

func TestResolveFullBlob(t *testing.T) {
	blob := []byte(`{
		"reenrollmentPolicy": {
			"allowReenrollmentAfterExpiry": false,
			"reenrollmentGapInDays": 30,
			"activeRepurchaseBehavior": "RESET"
		},
		"onExpiry": {"enableAutoRenewal": false}
	}`)

	resolved, degraded := Resolve(blob)
	require.False(t, degraded)
	require.True(t, resolved.Reenrollment.Configured)
	require.False(t, resolved.Reenrollment.AllowReenrollmentAfterExpiry)
	require.Equal(t, 30, resolved.Reenrollment.GapInDays)
	require.Equal(t, BehaviorReset, resolved.Reenrollment.ActiveRepurchaseBehavior)
	require.False(t, resolved.OnExpiry.EnableAutoRenewal)
	require.True(t, resolved.GapEnforced())
}

func TestResolvePartialBlobKeepsOtherDefaults(t *testing.T) {
	blob := []byte(`{"reenrollmentPolicy": {"reenrollmentGapInDays": 14, "allowReenrollmentAfterExpiry": false}}`)

	resolved, degraded := Resolve(blob)
	require.False(t, degraded)
	require.Equal(t, 14, resolved.Reenrollment.GapInDays)
	require.Equal(t, BehaviorStack, resolved.Reenrollment.ActiveRepurchaseBehavior)
	require.True(t, resolved.OnExpiry.EnableAutoRenewal)
	require.True(t, resolved.GapEnforced())
}

func TestResolveUnknownBehaviorFallsBackToStack(t *testing.T) {
	blob := []byte(`{"reenrollmentPolicy": {"activeRepurchaseBehavior": "EXTEND_MAYBE"}}`)

	resolved, degraded := Resolve(blob)
	require.False(t, degraded)
	require.Equal(t, BehaviorStack, resolved.Reenrollment.ActiveRepurchaseBehavior)
}

func TestGapEnforcedRequiresConfiguredPositiveGap(t *testing.T) {
	blob := []byte(`{"reenrollmentPolicy": {"reenrollmentGapInDays": 0, "allowReenrollmentAfterExpiry": false}}`)
	resolved, _ := Resolve(blob)
	require.False(t, resolved.GapEnforced())

	blob = []byte(`{"reenrollmentPolicy": {"reenrollmentGapInDays": 30, "allowReenrollmentAfterExpiry": true}}`)
	resolved, _ = Resolve(blob)
	require.False(t, resolved.GapEnforced())
}

func TestCachedResolverMemoizes(t *testing.T) {
	resolver := NewCachedResolver()

	first := resolver.Resolve(42, []byte(`{"onExpiry": {"enableAutoRenewal": false}}`))
	require.False(t, first.Policy.OnExpiry.EnableAutoRenewal)

	// Different blob, same offering: cached result wins until invalidated.
	second := resolver.Resolve(42, []byte(`{}`))
	require.False(t, second.Policy.OnExpiry.EnableAutoRenewal)

	resolver.Invalidate(42)
	third := resolver.Resolve(42, []byte(`{}`))
	require.True(t, third.Policy.OnExpiry.EnableAutoRenewal)
}

func TestCachedResolverFlushDropsEveryEntry(t *testing.T) {
	resolver := NewCachedResolver()

	require.True(t, resolver.Resolve(42, []byte(`{}`)).Policy.OnExpiry.EnableAutoRenewal)
	require.True(t, resolver.Resolve(43, []byte(`{}`)).Policy.OnExpiry.EnableAutoRenewal)

	resolver.Flush()

	// Updated blobs take effect immediately after a flush, for every
	// offering at once.
	optOut := []byte(`{"onExpiry": {"enableAutoRenewal": false}}`)
	require.False(t, resolver.Resolve(42, optOut).Policy.OnExpiry.EnableAutoRenewal)
	require.False(t, resolver.Resolve(43, optOut).Policy.OnExpiry.EnableAutoRenewal)
}
