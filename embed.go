package websearchchat

import "embed"

// TemplateFS contains the embedded HTML templates of the chat page, split into layouts, pages and
// partial views.
//
//go:embed templates/*
var TemplateFS embed.FS

// StaticFS contains the embedded JavaScript and CSS of the chat page.
//
//go:embed static/*
var StaticFS embed.FS
