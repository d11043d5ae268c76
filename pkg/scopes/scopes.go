// Package scopes defines the capability vocabulary and the bearer
// authentication gate in front of the API.
package scopes

import (
	"sort"
	"strings"

	"github.com/octantbim/octant/pkg/errors"
)

// Capability scopes. Read scopes cover GETs; write scopes cover mutations of
// the matching resource family.
const (
	WorkspacesRead  = "workspaces:read"
	WorkspacesWrite = "workspaces:write"
	ProjectsRead    = "projects:read"
	ProjectsWrite   = "projects:write"
	FilesRead       = "files:read"
	FilesWrite      = "files:write"
	ModelsRead      = "models:read"
	ModelsWrite     = "models:write"
	PATsRead        = "pats:read"
	PATsWrite       = "pats:write"
	OAuthAppsRead   = "oauth_apps:read"
	OAuthAppsWrite  = "oauth_apps:write"
	OAuthAppsAdmin  = "oauth_apps:admin"
)

var known = map[string]struct{}{
	WorkspacesRead: {}, WorkspacesWrite: {},
	ProjectsRead: {}, ProjectsWrite: {},
	FilesRead: {}, FilesWrite: {},
	ModelsRead: {}, ModelsWrite: {},
	PATsRead: {}, PATsWrite: {},
	OAuthAppsRead: {}, OAuthAppsWrite: {}, OAuthAppsAdmin: {},
}

// Valid reports whether scope is in the vocabulary.
func Valid(scope string) bool {
	_, ok := known[scope]
	return ok
}

// ValidateAll rejects a scope list containing anything outside the
// vocabulary.
func ValidateAll(scopes []string) error {
	for _, s := range scopes {
		if !Valid(s) {
			return errors.NewValidationf("unknown scope %q", s)
		}
	}
	return nil
}

// All returns the full vocabulary, sorted.
func All() []string {
	result := make([]string, 0, len(known))
	for s := range known {
		result = append(result, s)
	}
	sort.Strings(result)
	return result
}

// Parse splits a space-separated scope string, dropping empty tokens.
func Parse(raw string) []string {
	return strings.Fields(raw)
}

// Join renders a scope list in the space-separated wire form.
func Join(scopes []string) string {
	return strings.Join(scopes, " ")
}
