// Package configs embeds the example files written by `assistkb config init`
// and `assistkb sources init`.
package configs

import _ "embed"

// ConfigTemplate is the user configuration written to
// ~/.config/assistkb/config.yaml.
//
//go:embed config.example.yaml
var ConfigTemplate string

// SourcesTemplate is an example source definition file.
//
//go:embed sources.example.yaml
var SourcesTemplate string
