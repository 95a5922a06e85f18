//go:build windows

package toolchain

import (
	"golang.org/x/sys/windows/registry"
)

// registryVSRoots reads Visual Studio installation paths from the SxS
// registry key. Missing keys are not errors; the path-based search covers
// the common installs anyway.
func registryVSRoots() []string {
	var roots []string
	for _, access := range []uint32{registry.READ | registry.WOW64_64KEY, registry.READ | registry.WOW64_32KEY} {
		key, err := registry.OpenKey(registry.LOCAL_MACHINE, `SOFTWARE\Microsoft\VisualStudio\SxS\VS7`, access)
		if err != nil {
			continue
		}
		names, err := key.ReadValueNames(0)
		if err == nil {
			for _, name := range names {
				if path, _, err := key.GetStringValue(name); err == nil && path != "" {
					roots = append(roots, path)
				}
			}
		}
		key.Close()
	}
	return roots
}
