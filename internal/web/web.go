// Package web embeds the static frontend served at /static.
package web

import "embed"

//go:embed static
var Static embed.FS
