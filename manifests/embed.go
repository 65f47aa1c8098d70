// Package manifests provides the registration manifests bundled with ordinal.
package manifests

import "embed"

// FS contains the bundled manifests, one file per manifest.
//
//go:embed *.cue *.yaml
var FS embed.FS
