package gate

import "strings"

// rewrite maps a risky command prefix to a safer counterpart offered
// during negotiation.
type rewrite struct {
	prefix string
	apply  func(command string) string
}

var rewrites = []rewrite{
	{"kubectl delete ", func(c string) string { return c + " --dry-run=client" }},
	{"kubectl drain ", func(c string) string {
		return strings.Replace(c, "kubectl drain ", "kubectl cordon ", 1)
	}},
	{"docker rm ", func(c string) string {
		return strings.Replace(c, "docker rm ", "docker stop ", 1)
	}},
	{"git push --force", func(c string) string {
		return strings.Replace(c, "--force", "--force-with-lease", 1)
	}},
	{"git reset --hard", func(c string) string { return "git stash" }},
	{"git clean ", func(c string) string {
		return strings.Replace(c, "git clean ", "git clean -n ", 1)
	}},
	{"helm uninstall ", func(c string) string { return c + " --dry-run" }},
	{"rm -rf ", func(c string) string {
		return strings.Replace(c, "rm -rf ", "ls -la ", 1)
	}},
}

// alternativeFor returns a safer variant of the command, or empty when no
// rewrite applies.
func alternativeFor(command string) string {
	command = strings.TrimSpace(command)
	for _, r := range rewrites {
		if strings.HasPrefix(command, r.prefix) {
			if alt := r.apply(command); alt != command {
				return alt
			}
		}
	}
	return ""
}
