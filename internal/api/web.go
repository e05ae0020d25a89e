package api

import (
	"bytes"
	"html/template"
	"net/http"
	"strings"

	"github.com/dgallion1/arxivmd/internal/doctree"
	"github.com/dgallion1/arxivmd/internal/ingest"
	"github.com/yuin/goldmark"
)

var indexTemplate = template.Must(template.New("index").Parse(indexHTML))

type indexData struct {
	InputText         string
	RemoveRefs        bool
	RemoveTOC         bool
	RemoveCitations   bool
	SectionFilterMode string
	Sections          string
	Error             string
	Result            *indexResult
}

type indexResult struct {
	Title     string
	Summary   string
	Tree      string
	DigestURL string
	Preview   template.HTML
}

// handleIndex serves the query form, and on POST runs the ingestion and
// renders the result below it.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := indexData{SectionFilterMode: doctree.ModeExclude}

	if r.Method == http.MethodPost {
		if err := r.ParseForm(); err != nil {
			data.Error = "invalid form: " + err.Error()
		} else {
			data.InputText = strings.TrimSpace(r.FormValue("input_text"))
			data.RemoveRefs = r.FormValue("remove_refs") != ""
			data.RemoveTOC = r.FormValue("remove_toc") != ""
			data.RemoveCitations = r.FormValue("remove_inline_citations") != ""
			data.Sections = strings.TrimSpace(r.FormValue("sections"))
			if mode := r.FormValue("section_filter_mode"); mode == doctree.ModeInclude {
				data.SectionFilterMode = doctree.ModeInclude
			}
			s.runFormQuery(r, &data)
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := indexTemplate.Execute(w, data); err != nil {
		s.log.Error("render index page", "error", err)
	}
}

func (s *Server) runFormQuery(r *http.Request, data *indexData) {
	if data.InputText == "" {
		data.Error = "enter an arXiv URL or identifier"
		return
	}
	opts := ingest.Options{
		RemoveReferences:      data.RemoveRefs,
		RemoveTOC:             data.RemoveTOC,
		RemoveInlineCitations: data.RemoveCitations,
		FilterMode:            data.SectionFilterMode,
		SelectedSections:      splitSections(strings.Split(data.Sections, ",")),
	}
	res, err := s.ingestor.Ingest(r.Context(), data.InputText, opts)
	if err != nil {
		data.Error = err.Error()
		return
	}

	digestURL := "/api/download/file/" + s.digests.Put(res.Tree+"\n"+res.Content)

	var preview bytes.Buffer
	if err := goldmark.Convert([]byte(s.cropContent(res.Content)), &preview); err != nil {
		data.Error = "render preview: " + err.Error()
		return
	}

	data.Result = &indexResult{
		Title:     res.Title,
		Summary:   res.Summary,
		Tree:      res.Tree,
		DigestURL: digestURL,
		Preview:   template.HTML(preview.String()),
	}
}

const indexHTML = `<!doctype html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>arxivmd</title>
<style>
body { font-family: system-ui, sans-serif; max-width: 52rem; margin: 2rem auto; padding: 0 1rem; color: #222; }
input[type=text] { width: 100%; padding: 0.4rem; font-size: 1rem; box-sizing: border-box; }
fieldset { border: 1px solid #ccc; margin: 0.8rem 0; padding: 0.6rem; }
label { margin-right: 1rem; }
button { padding: 0.4rem 1.2rem; font-size: 1rem; }
pre { background: #f6f6f6; padding: 0.8rem; overflow-x: auto; white-space: pre-wrap; }
.error { color: #b00020; }
.preview { border-top: 1px solid #ccc; margin-top: 1rem; padding-top: 1rem; }
</style>
</head>
<body>
<h1>arxivmd</h1>
<p>Turn an arXiv paper into prompt-friendly Markdown.</p>
<form method="post" action="/">
<p><input type="text" name="input_text" value="{{.InputText}}" placeholder="arXiv URL or identifier, e.g. 2401.12345"></p>
<fieldset>
<label><input type="checkbox" name="remove_refs"{{if .RemoveRefs}} checked{{end}}> Remove references</label>
<label><input type="checkbox" name="remove_toc"{{if .RemoveTOC}} checked{{end}}> Remove table of contents</label>
<label><input type="checkbox" name="remove_inline_citations"{{if .RemoveCitations}} checked{{end}}> Remove inline citations</label>
</fieldset>
<fieldset>
<label>Mode
<select name="section_filter_mode">
<option value="exclude"{{if ne .SectionFilterMode "include"}} selected{{end}}>exclude</option>
<option value="include"{{if eq .SectionFilterMode "include"}} selected{{end}}>include</option>
</select>
</label>
<label>Sections <input type="text" name="sections" value="{{.Sections}}" placeholder="comma-separated titles"></label>
</fieldset>
<p><button type="submit">Ingest</button></p>
</form>
{{if .Error}}<p class="error">{{.Error}}</p>{{end}}
{{with .Result}}
<h2>{{if .Title}}{{.Title}}{{else}}Result{{end}}</h2>
<pre>{{.Summary}}</pre>
<pre>{{.Tree}}</pre>
<p><a href="{{.DigestURL}}">Download full digest</a></p>
<div class="preview">{{.Preview}}</div>
{{end}}
</body>
</html>
`
