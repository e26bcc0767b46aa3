package ociregistry

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/google/go-containerregistry/pkg/authn"
	"github.com/google/go-containerregistry/pkg/name"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/innoai-tech/infra/pkg/http/middleware"
)

const DefaultRepository = "imgkit/images"

type Registry struct {
	// Container registry endpoint storing disk images, e.g. https://registry.example.com
	Endpoint string `flag:",omitzero"`
	// Repository of disk images in the registry
	Repository string `flag:",omitzero"`
	// Container registry username
	Username string `flag:",omitzero"`
	// Container registry password
	Password string `flag:",omitzero,secret"`
}

func (r Registry) IsZero() bool {
	return r.Endpoint == ""
}

// Repo resolves the repository reference. Plain http endpoints are treated as insecure.
func (r Registry) Repo() (name.Repository, error) {
	u, err := url.Parse(r.Endpoint)
	if err != nil {
		return name.Repository{}, err
	}
	if u.Host == "" {
		return name.Repository{}, fmt.Errorf("invalid registry endpoint %q", r.Endpoint)
	}

	repoName := r.Repository
	if repoName == "" {
		repoName = DefaultRepository
	}

	opts := make([]name.Option, 0, 1)
	if u.Scheme == "http" {
		opts = append(opts, name.Insecure)
	}

	return name.NewRepository(path.Join(u.Host, strings.Trim(repoName, "/")), opts...)
}

func (r Registry) auth() authn.Authenticator {
	if r.Username == "" {
		return authn.Anonymous
	}
	return &authn.Basic{
		Username: r.Username,
		Password: r.Password,
	}
}

func (r Registry) remoteOptions() []remote.Option {
	return []remote.Option{
		remote.WithAuth(r.auth()),
		remote.WithTransport(middleware.NewLogRoundTripper()(remote.DefaultTransport)),
	}
}

// TagOf maps a record name to a valid tag.
// Names sharing a tag are told apart by the ref name annotation.
func TagOf(recordName string) string {
	b := []byte(recordName)

	for i, c := range b {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '_', c == '.', c == '-':
		default:
			b[i] = '_'
		}
	}

	if len(b) > 0 && (b[0] == '.' || b[0] == '-') {
		b = append([]byte{'_'}, b...)
	}

	if len(b) > 128 {
		b = b[:128]
	}

	return string(b)
}
