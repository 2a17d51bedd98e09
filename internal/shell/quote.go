package shell

import "strings"

var quoteReplacer = strings.NewReplacer(
	`\`, `\\`,
	`$`, `\$`,
	`"`, `\"`,
	"`", "\\`",
)

// Quote wraps s in double quotes so that a POSIX shell reads it back as one literal word
func Quote(s string) string {
	return `"` + quoteReplacer.Replace(s) + `"`
}
