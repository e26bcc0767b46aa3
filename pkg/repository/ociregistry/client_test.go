package ociregistry_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"regexp"
	"strings"
	"testing"

	"github.com/google/go-containerregistry/pkg/registry"
	"github.com/octohelm/x/logr"
	logrslog "github.com/octohelm/x/logr/slog"
	. "github.com/octohelm/x/testing/v2"

	"github.com/octohelm/imgkit/pkg/checksum"
	"github.com/octohelm/imgkit/pkg/repository"
	"github.com/octohelm/imgkit/pkg/repository/ociregistry"
)

func TestClient(t *testing.T) {
	srv := httptest.NewServer(registry.New())
	t.Cleanup(srv.Close)

	ctx := logr.LoggerInjectContext(context.Background(), logrslog.Logger(slog.Default()))

	c := MustValue(t, func() (*ociregistry.Client, error) {
		return ociregistry.New(ociregistry.Registry{
			Endpoint:   srv.URL,
			Repository: "images/openstack",
		})
	})

	content := strings.Repeat("qcow2", 4096)
	sum := checksum.SHA256.FromString(content)

	id := MustValue(t, func() (repository.ID, error) {
		return c.CreateFromStream(ctx, "debian 12.qcow2", strings.NewReader(content), repository.CreateOptions{
			Checksum: &sum,
			Format:   "qcow2",
			Metadata: map[string]string{"distro": "debian"},
		})
	})

	t.Run("record round trips through the registry", func(t *testing.T) {
		r := MustValue(t, func() (*repository.Record, error) {
			return c.FindByName(ctx, "debian 12.qcow2")
		})

		Then(t, "fields survive",
			Expect(r.ID, Equal(id)),
			Expect(r.Name, Equal("debian 12.qcow2")),
			Expect(r.Size, Equal(int64(len(content)))),
			Expect(r.Format, Equal("qcow2")),
			Expect(r.Metadata["distro"], Equal("debian")),
			Expect(r.Matches(sum), Equal(true)),
		)
	})

	t.Run("content reads back", func(t *testing.T) {
		data := MustValue(t, func() ([]byte, error) {
			rc, err := c.Open(ctx, id)
			if err != nil {
				return nil, err
			}
			defer rc.Close()
			return io.ReadAll(rc)
		})

		Then(t, "same bytes",
			Expect(string(data), Equal(content)),
		)
	})

	t.Run("name sharing a tag is another record", func(t *testing.T) {
		Then(t, "not found",
			ExpectMustValue(
				func() (bool, error) {
					r, err := c.FindByName(ctx, "debian_12.qcow2")
					return r == nil, err
				},
				Equal(true),
			),
		)
	})

	t.Run("existing name conflicts", func(t *testing.T) {
		Then(t, "rejected",
			ExpectDo(
				func() error {
					_, err := c.CreateFromStream(ctx, "debian 12.qcow2", strings.NewReader("x"), repository.CreateOptions{})
					return err
				},
				ErrorMatch(regexp.MustCompile("is taken")),
			),
		)
	})

	t.Run("list", func(t *testing.T) {
		Then(t, "lists the record",
			ExpectMustValue(
				func() ([]string, error) {
					names := make([]string, 0)
					for r, err := range c.List(ctx) {
						if err != nil {
							return nil, err
						}
						names = append(names, r.Name)
					}
					return names, nil
				},
				Equal([]string{"debian 12.qcow2"}),
			),
		)
	})

	t.Run("delete", func(t *testing.T) {
		Then(t, "record is gone",
			ExpectDo(func() error {
				return c.Delete(ctx, id)
			}),
			ExpectMustValue(
				func() (bool, error) {
					r, err := c.FindByName(ctx, "debian 12.qcow2")
					return r == nil, err
				},
				Equal(true),
			),
		)
	})
}

func TestClientReplace(t *testing.T) {
	srv := httptest.NewServer(registry.New())
	t.Cleanup(srv.Close)

	ctx := logr.LoggerInjectContext(context.Background(), logrslog.Logger(slog.Default()))

	c := MustValue(t, func() (*ociregistry.Client, error) {
		return ociregistry.New(ociregistry.Registry{
			Endpoint:   srv.URL,
			Repository: "images/openstack",
		})
	})

	old := MustValue(t, func() (repository.ID, error) {
		return c.CreateFromStream(ctx, "cirros.img", strings.NewReader("v1"), repository.CreateOptions{Format: "img"})
	})

	replaced := MustValue(t, func() (repository.ID, error) {
		return c.CreateFromStream(ctx, "cirros.img", strings.NewReader("v2"), repository.CreateOptions{Format: "img", Replace: old})
	})

	Then(t, "tag moves to the new record and the old manifest is removed",
		Expect(replaced == old, Equal(false)),
		ExpectMustValue(
			func() (repository.ID, error) {
				r, err := c.FindByName(ctx, "cirros.img")
				if err != nil || r == nil {
					return "", err
				}
				return r.ID, nil
			},
			Equal(replaced),
		),
		ExpectMustValue(
			func() (bool, error) {
				err := c.Delete(ctx, old)
				var unknown *repository.ErrRecordUnknown
				return errors.As(err, &unknown), nil
			},
			Equal(true),
		),
	)
}

func TestTagOf(t *testing.T) {
	Then(t, "invalid chars are replaced",
		Expect(ociregistry.TagOf("cirros-0.6.2-x86_64-disk.img"), Equal("cirros-0.6.2-x86_64-disk.img")),
		Expect(ociregistry.TagOf("debian 12+1.qcow2"), Equal("debian_12_1.qcow2")),
		Expect(ociregistry.TagOf(".hidden"), Equal("_.hidden")),
		Expect(len(ociregistry.TagOf(strings.Repeat("a", 200))), Equal(128)),
	)
}
