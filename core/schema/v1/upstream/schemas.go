package upstream

import (
	_ "embed"

	"github.com/davidahmann/retain/core/schema/validate"
)

var (
	//go:embed schemas/repository.schema.json
	repositorySchema []byte
	//go:embed schemas/artifact_list.schema.json
	artifactListSchema []byte
	//go:embed schemas/release.schema.json
	releaseSchema []byte
	//go:embed schemas/release_asset.schema.json
	releaseAssetSchema []byte
	//go:embed schemas/release_asset_list.schema.json
	releaseAssetListSchema []byte
	//go:embed schemas/git_ref.schema.json
	gitRefSchema []byte
)

var (
	RepositorySchema       = validate.New("repository", repositorySchema)
	ArtifactListSchema     = validate.New("artifact_list", artifactListSchema)
	ReleaseSchema          = validate.New("release", releaseSchema)
	ReleaseAssetSchema     = validate.New("release_asset", releaseAssetSchema)
	ReleaseAssetListSchema = validate.New("release_asset_list", releaseAssetListSchema)
	GitRefSchema           = validate.New("git_ref", gitRefSchema)
)
