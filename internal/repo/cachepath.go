package repo

import (
	"os"
	"path/filepath"
	"runtime"
)

// cacheDir resolves the local Helm repository cache directory,
// honoring HELM_CACHE_HOME before falling back to the OS-specific default
// helm itself uses, via os.UserCacheDir.
func cacheDir() string {
	if v := os.Getenv("HELM_CACHE_HOME"); v != "" {
		return filepath.Join(v, "repository")
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "helm", "repository")
	}
	return fallbackCacheDir()
}

func fallbackCacheDir() string {
	home, _ := os.UserHomeDir()
	if runtime.GOOS == "windows" {
		return filepath.Join(home, "AppData", "Roaming", "helm", "repository")
	}
	return filepath.Join(home, ".cache", "helm", "repository")
}
