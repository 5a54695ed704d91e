package httpapi

import (
	"bytes"
	"html/template"
	"net/http"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"ocrd/internal/job"
	"ocrd/pkg/types"
)

// Raw HTML in recognized markdown is escaped; goldmark renders it only with
// html.WithUnsafe.
var previewMD = goldmark.New(goldmark.WithExtensions(extension.Table))

var demoTmpl = template.Must(template.New("demo").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>ocrd</title>
<style>
body{font-family:sans-serif;max-width:60rem;margin:2rem auto;padding:0 1rem}
.err{color:#b00}.meta{color:#555;font-size:.9em}
table{border-collapse:collapse}td,th{border:1px solid #ccc;padding:.2rem .4rem}
pre.raw{background:#f6f6f6;padding:1rem;white-space:pre-wrap}
</style></head>
<body>
<h1>Document recognition</h1>
<form method="post" action="/demo" enctype="multipart/form-data">
<p><input type="file" name="file" accept=".pdf,.jpg,.jpeg,.png" required></p>
<p><select name="task">
{{range .Tasks}}<option value="{{.}}"{{if eq . $.Task}} selected{{end}}>{{.}}</option>{{end}}
</select>
<label><input type="checkbox" name="split" value="1"{{if .Split}} checked{{end}}> split pages</label>
<button type="submit">Run</button></p>
</form>
{{with .Error}}<p class="err">{{.}}</p>{{end}}
{{if .Done}}
<p class="meta">{{.Message}} ({{.Pages}} page{{if ne .Pages 1}}s{{end}})
{{with .Download}} <a href="{{.}}">download archive</a>{{end}}</p>
<h2>Preview</h2>
<div>{{.Preview}}</div>
<h2>Raw</h2>
<pre class="raw">{{.Raw}}</pre>
{{end}}
</body></html>
`))

type demoPage struct {
	Tasks    []string
	Task     string
	Split    bool
	Error    string
	Done     bool
	Message  string
	Pages    int
	Download string
	Preview  template.HTML
	Raw      string
}

var demoTasks = []string{string(types.TaskParse), string(types.TaskText), string(types.TaskFormula), string(types.TaskTable)}

func (h *handlers) demoForm(w http.ResponseWriter, r *http.Request) {
	renderDemo(w, http.StatusOK, demoPage{Tasks: demoTasks, Task: string(types.TaskParse)})
}

func (h *handlers) demoSubmit(w http.ResponseWriter, r *http.Request) {
	defer cleanupForm(r)
	page := demoPage{Tasks: demoTasks, Task: string(types.TaskParse)}
	f, name, err := upload(w, r)
	if err != nil {
		page.Error = err.Error()
		renderDemo(w, http.StatusBadRequest, page)
		return
	}
	defer f.Close()
	if t := types.TaskKind(r.FormValue("task")); t.Valid() {
		page.Task = string(t)
	}
	page.Split = truthy(r.FormValue("split"))

	res := h.svc.Submit(r.Context(), job.Submission{
		Filename: name,
		Source:   f,
		Task:     types.TaskKind(page.Task),
		Split:    page.Split,
	})
	if !res.Success {
		page.Error = res.Message
		renderDemo(w, statusFor(res), page)
		return
	}
	page.Done = true
	page.Message = res.Message
	page.Pages = res.Pages
	page.Raw = res.Content
	if res.ArchiveName != "" {
		page.Download = "/static/" + res.ArchiveName
	}
	var buf bytes.Buffer
	if err := previewMD.Convert([]byte(res.Content), &buf); err != nil {
		logError("render preview", err)
	}
	page.Preview = template.HTML(buf.String())
	renderDemo(w, http.StatusOK, page)
}

func renderDemo(w http.ResponseWriter, status int, page demoPage) {
	var buf bytes.Buffer
	if err := demoTmpl.Execute(&buf, page); err != nil {
		logError("render demo page", err)
		http.Error(w, "template error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
