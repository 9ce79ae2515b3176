// Package version reports which build of chatline is running.
//
// The variables below are overridden at link time:
//
//	go build -ldflags "\
//	  -X github.com/mhaas-dev/chatline/pkg/version.tag=$(git describe --tags) \
//	  -X github.com/mhaas-dev/chatline/pkg/version.commit=$(git rev-parse --short HEAD) \
//	  -X github.com/mhaas-dev/chatline/pkg/version.date=$(date -u +%Y-%m-%d)"
//
// A plain local build identifies itself as "dev".
package version

var (
	tag    string // release tag, empty when not built from a tag
	commit string // short commit SHA
	date   string // build date
)

// String is the short form shown in startup logs: the release tag when
// present, otherwise the commit, otherwise "dev".
func String() string {
	switch {
	case tag != "":
		return tag
	case commit != "":
		return commit
	default:
		return "dev"
	}
}

// Full is the long form printed by the -version flag.
func Full() string {
	s := String()
	if tag != "" && commit != "" {
		s += " (" + commit + ")"
	}
	if date != "" {
		s += " built " + date
	}
	return s
}
