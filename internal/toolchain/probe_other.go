//go:build !windows

package toolchain

// registryVSRoots is only meaningful on Windows hosts.
func registryVSRoots() []string { return nil }
