package tree

import (
	"path"
	"strings"
)

// Normalize cleans p and strips leading and trailing slashes. The root is "".
func Normalize(p string) string {
	return strings.Trim(path.Clean("/"+p), "/")
}

// Split returns the parent path and the last segment of p.
func Split(p string) (parent, name string) {
	p = Normalize(p)
	i := strings.LastIndex(p, "/")
	if i < 0 {
		return "", p
	}
	return p[:i], p[i+1:]
}

// Join appends name to the normalized parent path.
func Join(parent, name string) string {
	parent = Normalize(parent)
	if parent == "" {
		return Normalize(name)
	}
	return Normalize(parent + "/" + name)
}

// IsDescendant reports whether p lies strictly below ancestor.
func IsDescendant(p, ancestor string) bool {
	p, ancestor = Normalize(p), Normalize(ancestor)
	if ancestor == "" {
		return p != ""
	}
	return strings.HasPrefix(p, ancestor+"/")
}
