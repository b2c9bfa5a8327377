package shell

import (
	"strconv"
	"strings"
)

// HomeDir is the working directory marker meaning "the login directory".
const HomeDir = "~"

// singleQuoteEscape closes the surrounding single quote, emits a literal
// quote inside double quotes, and reopens.
const singleQuoteEscape = `'"'"'`

// EscapeSingleQuotes makes s safe to embed inside a single-quoted shell word.
func EscapeSingleQuotes(s string) string {
	return strings.ReplaceAll(s, "'", singleQuoteEscape)
}

var doubleQuoteEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`, `$`, `\$`, "`", "\\`")

// quotePath renders path as a double-quoted word for the inner shell. A
// leading "~" stays outside the quotes so it still expands.
func quotePath(path string) string {
	switch {
	case path == HomeDir:
		return HomeDir
	case strings.HasPrefix(path, HomeDir+"/"):
		rest := path[len(HomeDir)+1:]
		if rest == "" {
			return HomeDir + "/"
		}
		return HomeDir + `/"` + doubleQuoteEscaper.Replace(rest) + `"`
	default:
		return `"` + doubleQuoteEscaper.Replace(path) + `"`
	}
}

// changeDirScript resolves target relative to cwd and prints the result.
// A bare "cd" goes home.
func changeDirScript(line, cwd string) string {
	target := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "cd"))
	if target == "" {
		target = HomeDir
	}
	if cwd == "" {
		cwd = HomeDir
	}
	return "cd " + quotePath(cwd) + " && cd " + quotePath(target) + " && pwd"
}

// normalScript runs line from cwd. The home marker needs no cd since exec
// channels start there.
func normalScript(line, cwd string) string {
	if line == "" {
		line = ":"
	}
	if cwd == "" || cwd == HomeDir {
		return line
	}
	return "cd " + quotePath(cwd) + " && " + line
}

// wrap turns script into the exec request: shell -c '<script>'.
func wrap(shell, script string) string {
	return shell + " -c '" + EscapeSingleQuotes(script) + "'"
}

// pathListing lists up to limit entries of dir starting with prefix.
func pathListing(shell, dir, prefix string, limit int) string {
	script := "cd " + quotePath(dir) + ` && ls -1d -- "` + doubleQuoteEscaper.Replace(prefix) + `"* 2>/dev/null | head -` + strconv.Itoa(limit)
	return wrap(shell, script)
}

// commandListing lists up to limit command names starting with prefix.
func commandListing(shell, prefix string, limit int) string {
	script := `compgen -c -- "` + doubleQuoteEscaper.Replace(prefix) + `" | head -` + strconv.Itoa(limit)
	return wrap(shell, script)
}
