package kerminal

import (
	"strings"

	"github.com/gravitational/trace"
)

// ResourceURI addresses one entity across the vault and event bus, e.g.
// "/devices/device-a", "/profiles/:id", "/groups/:id". It is opaque to
// every component except the small set of constructors and accessors below.
type ResourceURI struct {
	Path string
}

func newURI(kind, id string) ResourceURI {
	return ResourceURI{Path: "/" + kind + "/" + id}
}

func DeviceURI(id string) ResourceURI  { return newURI("devices", id) }
func ProfileURI(id string) ResourceURI { return newURI("profiles", id) }
func GroupURI(id string) ResourceURI   { return newURI("groups", id) }
func KeyURI(id string) ResourceURI     { return newURI("keys", id) }
func SessionURI(id string) ResourceURI { return newURI("sessions", id) }
func GatewayURI(id string) ResourceURI { return newURI("gateways", id) }

func (r ResourceURI) String() string { return r.Path }

// Kind returns the resource type segment ("devices", "profiles", ...).
func (r ResourceURI) Kind() string {
	parts := strings.SplitN(strings.TrimPrefix(r.Path, "/"), "/", 2)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// ID returns the entity id segment.
func (r ResourceURI) ID() string {
	parts := strings.SplitN(strings.TrimPrefix(r.Path, "/"), "/", 2)
	if len(parts) < 2 {
		return ""
	}
	return parts[1]
}

// ParseURI validates that raw has the "/kind/id" shape and returns it as a
// ResourceURI.
func ParseURI(raw string) (ResourceURI, error) {
	u := ResourceURI{Path: raw}
	if u.Kind() == "" || u.ID() == "" {
		return ResourceURI{}, trace.BadParameter("malformed resource uri %q", raw)
	}
	return u, nil
}
