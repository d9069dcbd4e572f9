package library

import (
	"regexp"
	"strings"

	ferrors "git.home.luguber.info/inful/fwbuilder/internal/errors"
)

// Spec is one parsed library request.
type Spec struct {
	Name    string
	Version string // empty = latest
	GitURL  string // set for git+ specs; Name is derived, Version is the ref
}

// validName guards against CLI/path injection through library names, matching
// the upstream service's allowed character set.
var validName = regexp.MustCompile(`^[a-zA-Z0-9_ .-]+$`)

// ParseSpec parses a library request string:
//
//	"Servo"                     -> latest Servo from the index
//	"Servo@1.2.1"               -> pinned version from the index
//	"git+https://host/repo.git" -> clone of the repository's default branch
//	"git+https://host/repo.git@v2" -> clone at the given tag
func ParseSpec(raw string) (Spec, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Spec{}, ferrors.InvalidLibraryName(raw)
	}

	if rest, ok := strings.CutPrefix(raw, "git+"); ok {
		url := rest
		version := ""
		if at := strings.LastIndex(rest, "@"); at > strings.Index(rest, "://") {
			url = rest[:at]
			version = rest[at+1:]
		}
		name := strings.TrimSuffix(url[strings.LastIndex(url, "/")+1:], ".git")
		if name == "" || !validName.MatchString(name) {
			return Spec{}, ferrors.InvalidLibraryName(raw)
		}
		return Spec{Name: name, Version: version, GitURL: url}, nil
	}

	name := raw
	version := ""
	if at := strings.Index(raw, "@"); at != -1 {
		name = raw[:at]
		version = raw[at+1:]
	}
	if !validName.MatchString(name) {
		return Spec{}, ferrors.InvalidLibraryName(name)
	}
	return Spec{Name: strings.TrimSpace(name), Version: version}, nil
}
