package main

// version is set at build time via -ldflags "-X main.version=...".
var version = "dev"

// Version returns the build version string.
func Version() string {
	return version
}
