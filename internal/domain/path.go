package domain

import (
	"fmt"
	"strings"
)

// NamespaceKind identifies one of the fixed tool namespaces.
type NamespaceKind string

const (
	// KindBin holds general-purpose system tools. Read-only.
	KindBin NamespaceKind = "bin"
	// KindSbin holds system administration tools. Privileged callers only.
	KindSbin NamespaceKind = "sbin"
	// KindDocs holds documentation tools. Read-only.
	KindDocs NamespaceKind = "docs"
	// KindUser holds caller-created tools, keyed by an arbitrary user id.
	KindUser NamespaceKind = "user"
)

// Namespace is a closed variant over the system namespaces and the
// per-user namespace. User is set only when Kind is KindUser. The zero
// value is not a valid namespace. Namespace is comparable and is used
// as part of the ToolPath map key everywhere.
type Namespace struct {
	Kind NamespaceKind `json:"kind"`
	User string        `json:"user,omitempty"`
}

// Matches reports whether the namespace matches a filter keyword: one
// of the system keywords ("bin", "sbin", "docs") or a user id.
func (n Namespace) Matches(filter string) bool {
	switch n.Kind {
	case KindBin, KindSbin, KindDocs:
		return filter == string(n.Kind)
	case KindUser:
		return filter == n.User
	default:
		return false
	}
}

// VersionLatest is the default tool version. System tools are always
// "latest"; user tools may carry an explicit version.
const VersionLatest = "latest"

// ToolPath addresses a tool: namespace, optional package, name and
// version. Construct via Bin, Sbin, Docs or UserTool; ToolPath values
// built by the constructors round-trip through EncodedName and
// ParseEncodedName.
type ToolPath struct {
	Namespace Namespace `json:"namespace"`
	Package   string    `json:"package,omitempty"`
	Name      string    `json:"name"`
	Version   string    `json:"version"`
}

// Bin returns the path of a system tool under /bin.
func Bin(name string) ToolPath {
	return ToolPath{Namespace: Namespace{Kind: KindBin}, Name: name, Version: VersionLatest}
}

// Sbin returns the path of a privileged system tool under /sbin.
func Sbin(name string) ToolPath {
	return ToolPath{Namespace: Namespace{Kind: KindSbin}, Name: name, Version: VersionLatest}
}

// Docs returns the path of a documentation tool under /docs.
func Docs(name string) ToolPath {
	return ToolPath{Namespace: Namespace{Kind: KindDocs}, Name: name, Version: VersionLatest}
}

// UserTool returns the path of a user tool. pkg may be empty, in which
// case the path has no package segment; see the note on String about
// the canonical form of package-less user paths. An empty version
// defaults to "latest".
func UserTool(user, pkg, name, version string) ToolPath {
	if version == "" {
		version = VersionLatest
	}
	return ToolPath{
		Namespace: Namespace{Kind: KindUser, User: user},
		Package:   pkg,
		Name:      name,
		Version:   version,
	}
}

// IsSystem reports whether the path lives in one of the fixed system
// namespaces (bin, sbin or docs).
func (p ToolPath) IsSystem() bool {
	return p.Namespace.Kind != KindUser
}

// ParsePath parses a canonical path string.
//
//	/bin/tcl_execute
//	/sbin/tcl_tool_add
//	/alice/utils/reverse_string:1.0
//	/bob/math/calculate
//
// Two segments select a system namespace (bin or sbin; any trailing
// ":version" on the name is accepted and discarded since system tools
// are always "latest"). Three segments are <user>/<package>/<name>
// with an optional ":version" suffix. Package-less user paths cannot
// be expressed in canonical form: their two-segment rendering is
// indistinguishable from the bin/sbin pattern, so they only round-trip
// through the encoded name.
func ParsePath(s string) (ToolPath, error) {
	if !strings.HasPrefix(s, "/") {
		return ToolPath{}, E(CodeInvalidPath, "", fmt.Sprintf("tool path must start with '/': %q", s), nil)
	}
	parts := strings.Split(s[1:], "/")
	switch len(parts) {
	case 2:
		name, _ := splitNameVersion(parts[1])
		switch parts[0] {
		case "bin":
			return Bin(name), nil
		case "sbin":
			return Sbin(name), nil
		}
	case 3:
		name, version := splitNameVersion(parts[2])
		return UserTool(parts[0], parts[1], name, version), nil
	}
	return ToolPath{}, E(CodeInvalidPath, "", fmt.Sprintf("invalid tool path format: %q", s), nil)
}

func splitNameVersion(s string) (name, version string) {
	if name, version, ok := strings.Cut(s, ":"); ok {
		return name, version
	}
	return s, VersionLatest
}

// String renders the canonical path form. The version segment is
// omitted for "latest" and for system tools.
func (p ToolPath) String() string {
	switch p.Namespace.Kind {
	case KindBin, KindSbin, KindDocs:
		return fmt.Sprintf("/%s/%s", p.Namespace.Kind, p.Name)
	default:
		if p.Package == "" {
			return fmt.Sprintf("/%s/%s", p.Namespace.User, p.Name)
		}
		if p.Version == VersionLatest {
			return fmt.Sprintf("/%s/%s/%s", p.Namespace.User, p.Package, p.Name)
		}
		return fmt.Sprintf("/%s/%s/%s:%s", p.Namespace.User, p.Package, p.Name, p.Version)
	}
}

// EncodedName renders the protocol-safe tool name, used where '/' and
// ':' are not permitted (MCP tool identifiers). Inverse of
// ParseEncodedName for every constructible path.
func (p ToolPath) EncodedName() string {
	switch p.Namespace.Kind {
	case KindBin:
		return "bin___" + p.Name
	case KindSbin:
		return "sbin___" + p.Name
	case KindDocs:
		return "docs___" + p.Name
	}
	if p.Package == "" {
		return fmt.Sprintf("user_%s___%s", p.Namespace.User, p.Name)
	}
	if p.Version == VersionLatest {
		return fmt.Sprintf("user_%s__%s___%s", p.Namespace.User, p.Package, p.Name)
	}
	return fmt.Sprintf("user_%s__%s___%s__v%s",
		p.Namespace.User, p.Package, p.Name, strings.ReplaceAll(p.Version, ".", "_"))
}

// ParseEncodedName decodes a protocol-safe tool name back to a path.
func ParseEncodedName(name string) (ToolPath, error) {
	if rest, ok := strings.CutPrefix(name, "bin___"); ok {
		return Bin(rest), nil
	}
	if rest, ok := strings.CutPrefix(name, "sbin___"); ok {
		return Sbin(rest), nil
	}
	if rest, ok := strings.CutPrefix(name, "docs___"); ok {
		return Docs(rest), nil
	}
	rest, ok := strings.CutPrefix(name, "user_")
	if !ok {
		return ToolPath{}, E(CodeInvalidPath, "", fmt.Sprintf("unknown encoded tool name: %q", name), nil)
	}

	// The "___" separator before the tool name splits as "__" plus a
	// leading underscore on the following segment.
	parts := strings.Split(rest, "__")
	switch len(parts) {
	case 2:
		return UserTool(parts[0], "", strings.TrimPrefix(parts[1], "_"), VersionLatest), nil
	case 3:
		return UserTool(parts[0], parts[1], strings.TrimPrefix(parts[2], "_"), VersionLatest), nil
	case 4:
		if version, ok := strings.CutPrefix(parts[3], "v"); ok {
			return UserTool(parts[0], parts[1], strings.TrimPrefix(parts[2], "_"),
				strings.ReplaceAll(version, "_", ".")), nil
		}
	}
	return ToolPath{}, E(CodeInvalidPath, "", fmt.Sprintf("invalid encoded tool name: %q", name), nil)
}
