package worker

import (
	"fmt"
	"net/url"
	"strings"
)

// BasePath returns the directory part of the worker script path, with a trailing
// slash: "https://host/app/service-worker.js" gives "/app/".
func BasePath(scriptURL string) (string, error) {
	u, err := url.Parse(scriptURL)
	if err != nil {
		return "", fmt.Errorf("parse script url: %w", err)
	}
	p := u.Path
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return "/", nil
	}
	return p[:i+1], nil
}

// ResolveManifest rebases manifest paths onto the script's origin and base path and
// returns them as cache keys. "/" maps to the base itself; paths already under the
// base are kept as they are.
func ResolveManifest(scriptURL string, manifest []string) ([]string, error) {
	script, err := url.Parse(scriptURL)
	if err != nil {
		return nil, fmt.Errorf("parse script url: %w", err)
	}
	if script.Scheme == "" || script.Host == "" {
		return nil, fmt.Errorf("script url %q is not absolute", scriptURL)
	}
	base, err := BasePath(scriptURL)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(manifest))
	seen := make(map[string]struct{}, len(manifest))
	for _, p := range manifest {
		rel := strings.TrimPrefix(p, "/")
		if strings.HasPrefix(p, base) {
			// already under the base path
			rel = p
		}
		ref, err := url.Parse(rel)
		if err != nil {
			return nil, fmt.Errorf("parse manifest path %q: %w", p, err)
		}
		u := &url.URL{Scheme: script.Scheme, Host: script.Host, Path: base}
		key := CacheKey(u.ResolveReference(ref))
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, key)
	}
	return out, nil
}
