package kerminal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestURIConstructorsRoundTripKindAndID(t *testing.T) {
	cases := []struct {
		uri  ResourceURI
		kind string
	}{
		{DeviceURI("device-a"), "devices"},
		{ProfileURI("profile-1"), "profiles"},
		{GroupURI("group-1"), "groups"},
		{KeyURI("key-1"), "keys"},
		{SessionURI("session-1"), "sessions"},
		{GatewayURI("gateway-1"), "gateways"},
	}
	for _, c := range cases {
		require.Equal(t, c.kind, c.uri.Kind())
		require.NotEmpty(t, c.uri.ID())
	}
}

func TestParseURIRejectsMalformedInput(t *testing.T) {
	_, err := ParseURI("not-a-uri")
	require.Error(t, err)

	_, err = ParseURI("/devices/")
	require.Error(t, err)
}

func TestParseURIAcceptsWellFormedPath(t *testing.T) {
	u, err := ParseURI("/profiles/abc-123")
	require.NoError(t, err)
	require.Equal(t, "profiles", u.Kind())
	require.Equal(t, "abc-123", u.ID())
}

func TestStringRoundTripsThroughParseURI(t *testing.T) {
	original := ProfileURI("abc-123")
	parsed, err := ParseURI(original.String())
	require.NoError(t, err)
	require.Equal(t, original, parsed)
}
