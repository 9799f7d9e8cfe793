package transcript

import (
	"path"
	"strings"
)

// Project identifies the working directory a session belongs to.
type Project struct {
	// Dir is the encoded directory name under the projects root,
	// e.g. "-home-alice-work-billing-api".
	Dir string
	// Path is the decoded filesystem path.
	Path string
	// Label is the human-readable project name: the path below the user's
	// home directory, or its base name.
	Label string
}

// EncodeProjectPath applies the directory slug transform: every rune
// outside [A-Za-z0-9-] becomes '-'.
//
//	/home/alice/work/billing-api -> -home-alice-work-billing-api
func EncodeProjectPath(p string) string {
	var b strings.Builder
	b.Grow(len(p))
	for _, r := range p {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		default:
			b.WriteByte('-')
		}
	}
	return b.String()
}

// DecodeProjectDir reverses EncodeProjectPath by treating every '-' as a
// path separator. Dashes that were part of a directory name cannot be told
// apart, so ResolveProject prefers a known cwd when one is available.
func DecodeProjectDir(dir string) string {
	if dir == "" {
		return ""
	}
	decoded := strings.ReplaceAll(dir, "-", "/")
	if !strings.HasPrefix(decoded, "/") {
		decoded = "/" + decoded
	}
	return path.Clean(decoded)
}

// ResolveProject derives the project identity from its encoded directory
// name. When cwd encodes to exactly dir, cwd is the exact original path.
func ResolveProject(dir, cwd string) Project {
	p := Project{Dir: dir}
	if cwd != "" && EncodeProjectPath(cwd) == dir {
		p.Path = path.Clean(cwd)
	} else {
		p.Path = DecodeProjectDir(dir)
	}
	p.Label = projectLabel(p.Path)
	if p.Label == "" {
		p.Label = dir
	}
	return p
}

// projectLabel strips /home/<user>/ or /Users/<user>/ from p.
func projectLabel(p string) string {
	parts := strings.Split(strings.Trim(p, "/"), "/")
	if len(parts) > 2 && (parts[0] == "home" || parts[0] == "Users") {
		return strings.Join(parts[2:], "/")
	}
	if len(parts) == 2 && (parts[0] == "home" || parts[0] == "Users") {
		return parts[1]
	}
	if p == "/" || p == "" {
		return ""
	}
	return path.Base(p)
}
