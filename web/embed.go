package web

import "embed"

// Templates holds the page layout, pages, and htmx partials
//
//go:embed templates/*.html templates/partials/*.html
var Templates embed.FS

// Static holds the stylesheet and client script served under /static/
//
//go:embed static/css/*.css static/js/*.js
var Static embed.FS
