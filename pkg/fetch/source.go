package fetch

import (
	"mime"
	"net/url"
	"path"
	"path/filepath"
	"strings"
)

// Source is a parsed artifact location.
// Remote sources are http(s) URLs; local sources are file:// URIs or plain paths.
type Source struct {
	URI    string
	Scheme string
	// Path is the URL path of remote sources or the file path of local ones.
	Path string
}

func (s *Source) IsLocal() bool {
	return s.Scheme == "" || s.Scheme == "file"
}

func ParseSource(uri string) (*Source, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return nil, &ErrUnsupportedScheme{URI: uri}
	}

	switch scheme := strings.ToLower(u.Scheme); scheme {
	case "http", "https":
		return &Source{URI: uri, Scheme: scheme, Path: u.Path}, nil
	case "file":
		p := u.Path
		if u.Host != "" && u.Host != "localhost" {
			// file://relative/path
			p = path.Join(u.Host, p)
		}
		return &Source{URI: uri, Scheme: scheme, Path: filepath.FromSlash(p)}, nil
	case "":
		return &Source{URI: uri, Path: uri}, nil
	default:
		return nil, &ErrUnsupportedScheme{URI: uri, Scheme: u.Scheme}
	}
}

// DeriveName returns the last path segment of uri, or empty when there is none.
func DeriveName(uri string) string {
	src, err := ParseSource(uri)
	if err != nil {
		return ""
	}

	var name string
	if src.IsLocal() {
		name = filepath.Base(src.Path)
	} else {
		name = path.Base(src.Path)
	}

	switch name {
	case ".", "/", "\\", "..":
		return ""
	}
	return name
}

func filenameFromContentDisposition(cd string) string {
	if cd == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(cd)
	if err != nil {
		return ""
	}
	name := path.Base(strings.ReplaceAll(params["filename"], "\\", "/"))
	switch name {
	case ".", "/", "..":
		return ""
	}
	return name
}
