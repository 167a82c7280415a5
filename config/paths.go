package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// PathEnv lists extra search roots, colon separated.
const PathEnv = "BACKDROP_PATH"

// A URI scheme needs at least two characters so drive letters are not
// mistaken for one.
var uriScheme = regexp.MustCompile(`^[[:alpha:]][[:alnum:]+.-]+:`)

// override in tests
var (
	executable = os.Executable
	getenv     = os.Getenv
)

// ResolvePath finds a model or background file. URIs are returned as is.
// Otherwise the name is tried as given and, when it has no directory part,
// under <root>/<kind>/ for each root in $BACKDROP_PATH, the XDG data home
// and the share directory next to the binary.
func ResolvePath(name, kind string) (string, bool) {
	if uriScheme.MatchString(name) {
		return name, true
	}
	if readable(name) {
		return name, true
	}
	if strings.ContainsRune(name, '/') {
		return "", false
	}
	for _, dir := range searchDirs() {
		p := filepath.Join(dir, kind, name)
		if readable(p) {
			return p, true
		}
	}
	return "", false
}

func searchDirs() []string {
	var dirs []string
	if env := getenv(PathEnv); env != "" {
		for _, d := range strings.Split(env, ":") {
			if d != "" {
				dirs = append(dirs, d)
			}
		}
	}
	data := getenv("XDG_DATA_HOME")
	if data == "" {
		if home := getenv("HOME"); home != "" {
			data = filepath.Join(home, ".local", "share")
		}
	}
	if data != "" {
		dirs = append(dirs, filepath.Join(data, "backdrop"))
	}
	if exe, err := executable(); err == nil {
		// <prefix>/bin/backdrop -> <prefix>/share/backdrop
		dirs = append(dirs, filepath.Join(filepath.Dir(filepath.Dir(exe)), "share", "backdrop"))
	}
	return dirs
}

func readable(p string) bool {
	if p == "" {
		return false
	}
	f, err := os.Open(p)
	if err != nil {
		return false
	}
	defer f.Close()
	st, err := f.Stat()
	return err == nil && !st.IsDir()
}
