package config

import "embed"

const fileSchemaPath = "schema/cjcard.schema.json"

//go:embed schema/*.json
var configSchemaFS embed.FS
