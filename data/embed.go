// Package data holds the built-in policy and shape templates.
package data

import "embed"

var (
	//go:embed policy.yaml
	Policy embed.FS

	//go:embed shapes/*.json
	Shapes embed.FS
)
