package retention

import (
	_ "embed"

	"github.com/davidahmann/retain/core/schema/validate"
)

//go:embed schemas/manifest.schema.json
var manifestSchema []byte

var ManifestSchema = validate.New("retention_manifest", manifestSchema)
