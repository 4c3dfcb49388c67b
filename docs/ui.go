// docs/ui.go
package docs

import (
	"html/template"
	"strings"
)

var scalarTmpl = template.Must(template.New("scalar").Parse(`<!doctype html>
<html>
<head>
  <title>{{.Title}} - API Reference</title>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <style>body { margin: 0; }</style>
</head>
<body>
  <script id="api-reference" data-url="{{.SpecURL}}" src="https://cdn.jsdelivr.net/npm/@scalar/api-reference"></script>
</body>
</html>
`))

var swaggerTmpl = template.Must(template.New("swagger").Parse(`<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>{{.Title}} - Swagger UI</title>
  <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui.css" />
  <style>body { margin: 0; background: #fafafa; }</style>
</head>
<body>
  <div id="swagger-ui" data-url="{{.SpecURL}}"></div>
  <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script src="https://cdn.jsdelivr.net/npm/swagger-ui-dist@5/swagger-ui-standalone-preset.js"></script>
  <script>
  window.onload = function() {
    window.ui = SwaggerUIBundle({
      url: document.getElementById("swagger-ui").dataset.url,
      dom_id: "#swagger-ui",
      deepLinking: true,
      presets: [SwaggerUIBundle.presets.apis, SwaggerUIStandalonePreset],
      layout: "StandaloneLayout"
    });
  };
  </script>
</body>
</html>
`))

type pageData struct {
	Title   string
	SpecURL string
}

func render(t *template.Template, title, specURL string) string {
	if title == "" {
		title = "Nural API"
	}
	var b strings.Builder
	_ = t.Execute(&b, pageData{Title: title, SpecURL: specURL})
	return b.String()
}

func scalarPage(title, specURL string) string  { return render(scalarTmpl, title, specURL) }
func swaggerPage(title, specURL string) string { return render(swaggerTmpl, title, specURL) }
