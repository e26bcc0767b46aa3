package layout

import (
	"path"

	"github.com/opencontainers/go-digest"
)

const Default = Layout("imgkit/v1")

type Layout string

// StagingPath
// staging
func (b Layout) StagingPath() string {
	return path.Join(string(b), "staging")
}

// StagingRootPath
// staging/{id}
func (b Layout) StagingRootPath(id string) string {
	return path.Join(b.StagingPath(), id)
}

// StagingDataPath
// staging/{id}/data
func (b Layout) StagingDataPath(id string) string {
	return path.Join(b.StagingRootPath(id), "data")
}

// StagingStartedAtPath
// staging/{id}/startedat
func (b Layout) StagingStartedAtPath(id string) string {
	return path.Join(b.StagingRootPath(id), "startedat")
}

// UploadDataPath
// uploads/{id}/data
func (b Layout) UploadDataPath(id string) string {
	return path.Join(string(b), "uploads", id, "data")
}

// BlobsPath
// blobs
func (b Layout) BlobsPath() string {
	return path.Join(string(b), "blobs")
}

// BlobDataPath
// blobs/{algorithm}/{hex_digest_prefix_2}/{hex_digest}/data
func (b Layout) BlobDataPath(dgst digest.Digest) string {
	return path.Join(b.BlobsPath(), dgst.Algorithm().String(), dgst.Encoded()[0:2], dgst.Encoded(), "data")
}

// RecordsPath
// records
func (b Layout) RecordsPath() string {
	return path.Join(string(b), "records")
}

// RecordPath
// records/{id}/descriptor.json
func (b Layout) RecordPath(id string) string {
	return path.Join(b.RecordsPath(), id, "descriptor.json")
}

// NamesPath
// names
func (b Layout) NamesPath() string {
	return path.Join(string(b), "names")
}

// NameLinkPath
// names/{name}/link
func (b Layout) NameLinkPath(name string) string {
	return path.Join(b.NamesPath(), name, "link")
}
