package export

import (
	"bytes"
	"html/template"
	"regexp"
	"time"
)

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{3,8}$`)

var boardTemplate = template.Must(template.New("board").Funcs(template.FuncMap{
	"date": func(t time.Time) string { return t.Format("Jan 2, 2006") },
	// Tag colors come from users; anything but a hex literal falls back to grey.
	"tagColor": func(c string) template.CSS {
		if hexColor.MatchString(c) {
			return template.CSS(c)
		}
		return template.CSS("#888888")
	},
}).Parse(`<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <title>{{.Title}}</title>
  <style>
    @page { size: A4 landscape; margin: 12mm; }
    body { font-family: -apple-system, 'Segoe UI', Roboto, Arial, sans-serif; color: #1f2328; }
    h1 { margin: 0 0 4px; }
    .meta { color: #656d76; font-size: 12px; margin-bottom: 16px; }
    .board { display: flex; gap: 12px; align-items: flex-start; }
    .list { background: #f6f8fa; border-radius: 6px; padding: 8px; width: 240px; flex: none; break-inside: avoid; }
    .list h2 { font-size: 14px; margin: 0 0 8px; }
    .task { background: #fff; border: 1px solid #d0d7de; border-radius: 4px; padding: 6px 8px; margin-bottom: 6px; font-size: 12px; }
    .task .title { font-weight: 600; }
    .task .desc { color: #424a53; white-space: pre-wrap; }
    .tag { display: inline-block; border-radius: 8px; padding: 0 6px; color: #fff; font-size: 10px; margin-right: 4px; }
    .due { color: #9a6700; font-size: 11px; }
  </style>
</head>
<body>
  <h1>{{.Title}}</h1>
  <div class="meta">{{if .WorkspaceName}}{{.WorkspaceName}} | {{end}}{{if .ExportedBy}}{{.ExportedBy}} | {{end}}{{date .ExportedAt}}</div>
  {{if .Description}}<p>{{.Description}}</p>{{end}}
  <div class="board">
  {{range .Lists}}
    <section class="list">
      <h2>{{.Title}} ({{len .Tasks}})</h2>
      {{range .Tasks}}
      <div class="task">
        <div class="title">{{.Title}}</div>
        {{range .Tags}}<span class="tag" style="background: {{tagColor .Color}}">{{.Name}}</span>{{end}}
        {{if .Description}}<div class="desc">{{.Description}}</div>{{end}}
        {{if .DueDate}}<div class="due">Due {{date .DueDate}}</div>{{end}}
        {{if .Assignee}}<div class="assignee">{{.Assignee}}</div>{{end}}
      </div>
      {{end}}
    </section>
  {{end}}
  </div>
</body>
</html>`))

// RenderHTML renders a standalone HTML page for b.
func RenderHTML(b Board) (string, error) {
	var buf bytes.Buffer
	if err := boardTemplate.Execute(&buf, b); err != nil {
		return "", err
	}
	return buf.String(), nil
}
