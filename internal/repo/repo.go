// Package repo implements the Repo Resolver and Update Checker: it
// scans the local Helm chart repository cache — no network calls — and
// compares stored release versions against it using semantic versioning.
package repo

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"sigs.k8s.io/yaml"
)

// Entry is one chart version record inside a repository index.
type Entry struct {
	Name       string   `json:"name"`
	Version    string   `json:"version"`
	AppVersion string   `json:"appVersion"`
	Digest     string   `json:"digest"`
	URLs       []string `json:"urls"`
}

// Index mirrors the subset of a Helm repo index.yaml this tool needs.
type Index struct {
	APIVersion string             `json:"apiVersion"`
	Entries    map[string][]Entry `json:"entries"`
}

// Match is one (repo_name, entry) pair returned by the resolver.
type Match struct {
	RepoName string
	Entry    Entry
}

// Resolver scans the local Helm cache for repository indexes.
type Resolver struct {
	dir string
}

// NewResolver returns a Resolver rooted at the resolved cache directory.
// Callers needing a specific directory (tests) should use NewResolverAt.
func NewResolver() *Resolver {
	return &Resolver{dir: cacheDir()}
}

// NewResolverWithOverride returns a Resolver rooted at override if
// non-empty (the cache.home viper key takes precedence over
// HELM_CACHE_HOME), falling back to the resolved default otherwise.
func NewResolverWithOverride(override string) *Resolver {
	if override != "" {
		return &Resolver{dir: filepath.Join(override, "repository")}
	}
	return NewResolver()
}

// NewResolverAt returns a Resolver rooted at an explicit directory.
func NewResolverAt(dir string) *Resolver {
	return &Resolver{dir: dir}
}

// Find returns every (repo_name, entry) whose name matches chartName and
// either digest matches or (version, appVersion) matches, in the order
// found on disk. No network I/O.
func (r *Resolver) Find(chartName, version, appVersion, digest string) ([]Match, error) {
	files, err := filepath.Glob(filepath.Join(r.dir, "*-index.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var matches []Match
	for _, f := range files {
		idx, err := loadIndex(f)
		if err != nil {
			continue
		}
		repoName := repoNameFromIndexFile(f)
		for _, e := range idx.Entries[chartName] {
			if e.Name != chartName {
				continue
			}
			if digest != "" && e.Digest == digest {
				matches = append(matches, Match{RepoName: repoName, Entry: e})
				continue
			}
			if e.Version == version && e.AppVersion == appVersion {
				matches = append(matches, Match{RepoName: repoName, Entry: e})
			}
		}
	}
	return matches, nil
}

// AllEntries returns every indexed entry for chartName across every local
// repo index, in the order found on disk.
func (r *Resolver) AllEntries(chartName string) ([]Match, error) {
	files, err := filepath.Glob(filepath.Join(r.dir, "*-index.yaml"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)

	var matches []Match
	for _, f := range files {
		idx, err := loadIndex(f)
		if err != nil {
			continue
		}
		repoName := repoNameFromIndexFile(f)
		for _, e := range idx.Entries[chartName] {
			matches = append(matches, Match{RepoName: repoName, Entry: e})
		}
	}
	return matches, nil
}

func loadIndex(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var idx Index
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return nil, err
	}
	return &idx, nil
}

// repoNameFromIndexFile recovers the repo name helm itself used when it
// wrote "<repo-name>-index.yaml" into the cache.
func repoNameFromIndexFile(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, "-index.yaml")
}

// UpdateResult is the Update Checker's per-release output.
type UpdateResult struct {
	Current            string
	Latest             string
	Repo               string
	IsUpgradeAvailable bool
}

// Checker finds the highest available version for a release's chart across
// matching local repo indexes.
type Checker struct {
	resolver *Resolver
}

// NewChecker returns a Checker backed by the given Resolver.
func NewChecker(resolver *Resolver) *Checker {
	return &Checker{resolver: resolver}
}

// Check compares currentVersion against every indexed version of chartName,
// using semantic version comparison (pre-release identifiers order before
// release; build metadata ignored), and returns the highest found.
func (c *Checker) Check(chartName, currentVersion string) (*UpdateResult, error) {
	matches, err := c.resolver.AllEntries(chartName)
	if err != nil {
		return nil, err
	}
	if len(matches) == 0 {
		return nil, nil
	}

	current, currentErr := semver.NewVersion(currentVersion)

	var best *semver.Version
	var bestMatch Match
	for _, m := range matches {
		v, err := semver.NewVersion(m.Entry.Version)
		if err != nil {
			continue
		}
		if best == nil || v.GreaterThan(best) {
			best = v
			bestMatch = m
		}
	}
	if best == nil {
		return nil, nil
	}

	result := &UpdateResult{
		Current: currentVersion,
		Latest:  bestMatch.Entry.Version,
		Repo:    bestMatch.RepoName,
	}
	if currentErr == nil {
		result.IsUpgradeAvailable = best.GreaterThan(current)
	} else {
		result.IsUpgradeAvailable = result.Latest != currentVersion
	}
	return result, nil
}
