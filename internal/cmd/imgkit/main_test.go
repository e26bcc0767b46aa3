package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"regexp"
	"strconv"
	"strings"
	"testing"

	"github.com/go-json-experiment/json"
	"github.com/octohelm/unifs/pkg/strfmt"
	. "github.com/octohelm/x/testing/v2"

	"github.com/octohelm/imgkit/internal/testingutil"
	"github.com/octohelm/imgkit/pkg/checksum"
	"github.com/octohelm/imgkit/pkg/importer"
	"github.com/octohelm/imgkit/pkg/repository"
	repositoryapi "github.com/octohelm/imgkit/pkg/repository/api"
	"github.com/octohelm/imgkit/pkg/staging"
)

func TestCommands(t *testing.T) {
	image := strings.Repeat("cirros-0.6.2-x86_64-disk ", 4096)
	sum := checksum.SHA256.FromString(image)

	mux := http.NewServeMux()
	mux.HandleFunc("/images/cirros.img", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", strconv.Itoa(len(image)))
		_, _ = io.WriteString(w, image)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := &struct {
		staging.Provider
		repositoryapi.RepositoryProvider
	}{}

	c.Staging.Backend = *MustValue(t, func() (*strfmt.Endpoint, error) {
		return strfmt.ParseEndpoint("file://" + t.TempDir())
	})

	ctx := testingutil.NewContext(t, c)

	runImport := func(ctx context.Context, r *ImportRunner) ([]importer.Outcome, error) {
		buf := bytes.NewBuffer(nil)
		r.out = buf
		if r.Concurrency == 0 {
			r.Concurrency = 1
		}
		err := r.Run(ctx)
		outcomes := make([]importer.Outcome, 0)
		if decodeErr := json.Unmarshal(buf.Bytes(), &outcomes); decodeErr != nil {
			return nil, decodeErr
		}
		return outcomes, err
	}

	statusOf := func(outcomes []importer.Outcome, err error) ([]importer.Status, error) {
		statuses := make([]importer.Status, 0, len(outcomes))
		for _, o := range outcomes {
			statuses = append(statuses, o.Status)
		}
		return statuses, err
	}

	t.Run("import", func(t *testing.T) {
		Then(t, "dry run plans a create",
			ExpectMustValue(
				func() ([]importer.Status, error) {
					return statusOf(runImport(ctx, &ImportRunner{
						URI:      []string{srv.URL + "/images/cirros.img"},
						Checksum: sum.String(),
						DryRun:   true,
					}))
				},
				Equal([]importer.Status{importer.StatusPlanned}),
			),
		)

		Then(t, "created then already present",
			ExpectMustValue(
				func() ([]importer.Status, error) {
					return statusOf(runImport(ctx, &ImportRunner{
						URI:      []string{srv.URL + "/images/cirros.img"},
						Checksum: sum.String(),
						Metadata: []string{"os_distro=cirros"},
					}))
				},
				Equal([]importer.Status{importer.StatusCreated}),
			),
			ExpectMustValue(
				func() ([]importer.Status, error) {
					return statusOf(runImport(ctx, &ImportRunner{
						URI:      []string{srv.URL + "/images/cirros.img"},
						Checksum: sum.String(),
					}))
				},
				Equal([]importer.Status{importer.StatusAlreadyPresent}),
			),
		)

		Then(t, "failed outcomes fail the command",
			ExpectDo(
				func() error {
					_, err := runImport(ctx, &ImportRunner{
						URI: []string{
							srv.URL + "/images/missing.img",
							srv.URL + "/images/cirros.img",
						},
					})
					return err
				},
				ErrorMatch(regexp.MustCompile("HTTPStatus missing.img")),
			),
			ExpectDo(
				func() error {
					_, err := runImport(ctx, &ImportRunner{
						URI:      []string{srv.URL + "/images/cirros.img"},
						Metadata: []string{"os_distro"},
					})
					return err
				},
				ErrorMatch(regexp.MustCompile("key=value")),
			),
		)
	})

	t.Run("list", func(t *testing.T) {
		list := func(match string) ([]string, error) {
			buf := bytes.NewBuffer(nil)
			r := &ListRunner{Match: match}
			r.out = buf
			if err := r.Run(ctx); err != nil {
				return nil, err
			}
			records := make([]*repository.Record, 0)
			if err := json.Unmarshal(buf.Bytes(), &records); err != nil {
				return nil, err
			}
			names := make([]string, 0, len(records))
			for _, r := range records {
				names = append(names, r.Name+" "+r.Metadata["os_distro"])
			}
			return names, nil
		}

		Then(t, "records are filtered by glob",
			ExpectMustValue(
				func() ([]string, error) {
					return list("cirros*")
				},
				Equal([]string{"cirros.img cirros"}),
			),
			ExpectMustValue(
				func() ([]string, error) {
					return list("debian-*")
				},
				Equal([]string{}),
			),
		)
	})

	t.Run("delete", func(t *testing.T) {
		runDelete := func() ([]importer.Status, error) {
			buf := bytes.NewBuffer(nil)
			r := &DeleteRunner{ImageName: []string{"cirros.img"}}
			r.out = buf
			if err := r.Run(ctx); err != nil {
				return nil, err
			}
			outcomes := make([]importer.Outcome, 0)
			if err := json.Unmarshal(buf.Bytes(), &outcomes); err != nil {
				return nil, err
			}
			return statusOf(outcomes, nil)
		}

		Then(t, "deleted then absent",
			ExpectMustValue(runDelete, Equal([]importer.Status{importer.StatusDeleted})),
			ExpectMustValue(runDelete, Equal([]importer.Status{importer.StatusAbsent})),
		)

		created := MustValue(t, func() ([]importer.Outcome, error) {
			return runImport(ctx, &ImportRunner{URI: []string{srv.URL + "/images/cirros.img"}})
		})

		runDeleteByID := func() ([]importer.Status, error) {
			buf := bytes.NewBuffer(nil)
			r := &DeleteRunner{ImageID: []string{string(created[0].ID)}}
			r.out = buf
			if err := r.Run(ctx); err != nil {
				return nil, err
			}
			outcomes := make([]importer.Outcome, 0)
			if err := json.Unmarshal(buf.Bytes(), &outcomes); err != nil {
				return nil, err
			}
			return statusOf(outcomes, nil)
		}

		Then(t, "deleted by id then absent",
			Expect(created[0].Status, Equal(importer.StatusCreated)),
			ExpectMustValue(runDeleteByID, Equal([]importer.Status{importer.StatusDeleted})),
			ExpectMustValue(runDeleteByID, Equal([]importer.Status{importer.StatusAbsent})),
		)
	})

	t.Run("purge", func(t *testing.T) {
		Then(t, "nothing is left to purge",
			ExpectMustValue(
				func() (map[string]int, error) {
					buf := bytes.NewBuffer(nil)
					r := &PurgeRunner{}
					r.SetDefaults()
					r.out = buf
					if err := r.Run(ctx); err != nil {
						return nil, err
					}
					ret := map[string]int{}
					err := json.Unmarshal(buf.Bytes(), &ret)
					return ret, err
				},
				Equal(map[string]int{"purged": 0}),
			),
		)
	})
}
