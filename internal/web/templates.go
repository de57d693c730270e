package web

import (
	"html/template"

	"github.com/iabetor/voiceform/internal/form"
)

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>Voice Synthesis App</title>
{{- if .Processing}}
<meta http-equiv="refresh" content="2">
{{- end}}
</head>
<body>
<h1>Voice Synthesis App</h1>
<form method="post" action="/" enctype="multipart/form-data">
  <section>
    <h2>Upload Voice File</h2>
    <input type="file" name="file" accept="audio/*" onchange="this.form.requestSubmit()">
    {{- with .File}}
    <p class="selected">Selected file: {{.Name}}</p>
    {{- end}}
  </section>
  <section>
    <h2>Enter Text to Synthesize</h2>
    <textarea name="text" placeholder="Type your text here...">{{.Text}}</textarea>
    <p class="counter">{{.TextLength}}/{{.MaxChars}} characters</p>
  </section>
  <button type="submit" name="action" value="update">Save</button>
  <button type="submit" name="action" value="synthesize"{{if not .CanSubmit}} disabled{{end}}>
    {{- if .Processing}}Synthesizing...{{else}}Synthesize Voice{{end -}}
  </button>
</form>
{{- if .Processing}}
<p class="processing">Processing...</p>
{{- end}}
{{- if .ShowDownload}}
<a class="download" href="{{.Result}}" download="{{$.DownloadName}}">Download Synthesized Voice</a>
{{- end}}
{{- if .HasError}}
<div class="error" role="alert">{{.ErrorMessage}}</div>
{{- end}}
</body>
</html>
`))

// pageData 是页面模板的数据。
type pageData struct {
	form.Snapshot
	DownloadName string
}
