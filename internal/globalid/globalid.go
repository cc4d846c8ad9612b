// Package globalid encodes node identifiers that are safe to hand to clients.
// An encoded id carries both the local record id and the concrete type name so
// that any node in the federated graph can be re-fetched from its id alone.
package globalid

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const separator = ":"

// GlobalID pairs a local record identifier with its concrete type name.
type GlobalID struct {
	LocalID  string
	TypeName string
}

// MalformedIDError reports an opaque id that could not be decoded.
type MalformedIDError struct {
	Raw string
}

func (e *MalformedIDError) Error() string {
	return fmt.Sprintf("globalid: malformed id %q", e.Raw)
}

// Encode serializes a local id and type name into an opaque identifier.
// The type name leads so local ids may themselves contain the separator
// (feature-feed ids embed JSON descriptors). The URL-safe alphabet keeps
// ids usable as path segments, and encoding is deterministic so ids stay
// stable across process restarts.
func Encode(localID, typeName string) string {
	return base64.URLEncoding.EncodeToString([]byte(typeName + separator + localID))
}

// Decode parses an opaque identifier produced by Encode.
func Decode(opaque string) (GlobalID, error) {
	raw, err := base64.URLEncoding.DecodeString(opaque)
	if err != nil {
		return GlobalID{}, &MalformedIDError{Raw: opaque}
	}
	segments := strings.SplitN(string(raw), separator, 2)
	if len(segments) != 2 || segments[0] == "" || segments[1] == "" {
		return GlobalID{}, &MalformedIDError{Raw: opaque}
	}
	return GlobalID{LocalID: segments[1], TypeName: segments[0]}, nil
}

func (g GlobalID) String() string {
	return Encode(g.LocalID, g.TypeName)
}
