package version

// version is set at build time with -ldflags "-X warfront/pkg/version.version=..."
var version = "dev"

// Get returns the build version.
func Get() string {
	return version
}
