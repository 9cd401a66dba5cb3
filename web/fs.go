// Package web holds the embedded static assets for the browser UI.
package web

import (
	"embed"
	"io/fs"
)

//go:embed static
var staticFS embed.FS

// StaticFS serves the UI assets rooted at the static directory.
var StaticFS fs.FS

func init() {
	var err error
	StaticFS, err = fs.Sub(staticFS, "static")
	if err != nil {
		panic("failed to create static filesystem: " + err.Error())
	}
}
