package transform

import (
	"regexp"
	"sort"
	"strings"
)

var doiPattern = regexp.MustCompile(`(?i)^10\.\d{4,9}/\S+$`)

var doiResolvers = map[string]bool{
	"doi.org":    true,
	"dx.doi.org": true,
}

// specialValues collects identifier-like strings below v: DOIs verbatim and
// URLs in scheme-less "//host/path" form. DOI resolver URLs also yield their
// DOI. Map keys are visited in sorted order so the result is deterministic.
func specialValues(v any) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}

	var walk func(any)
	walk = func(v any) {
		switch t := v.(type) {
		case map[string]any:
			keys := make([]string, 0, len(t))
			for k := range t {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				walk(t[k])
			}
		case []any:
			for _, e := range t {
				walk(e)
			}
		case string:
			s := strings.TrimSpace(t)
			if doiPattern.MatchString(s) {
				add(s)
				return
			}
			if _, rest, ok := strings.Cut(s, "://"); ok && rest != "" && !strings.ContainsAny(rest, " \t\n") {
				add("//" + rest)
				host, path, _ := strings.Cut(rest, "/")
				if doiResolvers[strings.ToLower(host)] && doiPattern.MatchString(path) {
					add(path)
				}
			}
		}
	}
	walk(v)
	return out
}
