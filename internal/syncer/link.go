// internal/syncer/link.go
package syncer

import (
	"net/url"
	"strings"

	custom_errors "extension-sync/internal/errors"
)

// ParseLink extracts owner and repository name from a GitHub URL such as
// https://github.com/owner/repo(.git)(/tree/...) or from the short form owner/repo.
func ParseLink(link string) (owner, repo string, err error) {
	raw := strings.TrimSpace(link)
	path := raw

	if strings.Contains(raw, "://") || strings.HasPrefix(raw, "github.com/") || strings.HasPrefix(raw, "www.github.com/") {
		if !strings.Contains(raw, "://") {
			raw = "https://" + raw
		}
		u, parseErr := url.Parse(raw)
		if parseErr != nil {
			return "", "", &custom_errors.ErrInvalidRepoFormat{Repo: link}
		}
		host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
		if host != "github.com" || (u.Scheme != "https" && u.Scheme != "http") {
			return "", "", &custom_errors.ErrInvalidRepoFormat{Repo: link}
		}
		path = strings.Trim(u.Path, "/")
	} else if strings.Count(strings.Trim(path, "/"), "/") != 1 {
		return "", "", &custom_errors.ErrInvalidRepoFormat{Repo: link}
	}

	parts := strings.Split(strings.Trim(path, "/"), "/")
	if len(parts) < 2 {
		return "", "", &custom_errors.ErrInvalidRepoFormat{Repo: link}
	}
	owner = parts[0]
	repo = strings.TrimSuffix(parts[1], ".git")
	if owner == "" || repo == "" {
		return "", "", &custom_errors.ErrInvalidRepoFormat{Repo: link}
	}
	return owner, repo, nil
}
