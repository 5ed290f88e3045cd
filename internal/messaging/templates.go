package messaging

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"

	"crm_pipeline_backend/internal/pipeline/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.ParseFS(templateFS, "templates/*.html"))

type stageTemplate struct {
	file    string
	subject string
}

// stageTemplates lists the stages that trigger a customer message on entry.
var stageTemplates = map[domain.Stage]stageTemplate{
	domain.StageSample:      {file: "sample_shipped.html", subject: "Your sample is on its way"},
	domain.StageNegotiation: {file: "proposal_sent.html", subject: "Your proposal"},
	domain.StagePostSale:    {file: "order_confirmed.html", subject: "Thank you for your order"},
}

type templateData struct {
	LeadName string
	FromName string
}

func renderStageMessage(stage domain.Stage, data templateData) (subject, body string, ok bool, err error) {
	tpl, ok := stageTemplates[stage]
	if !ok {
		return "", "", false, nil
	}
	var buf bytes.Buffer
	if err := templates.ExecuteTemplate(&buf, tpl.file, data); err != nil {
		return "", "", true, fmt.Errorf("render %s: %w", tpl.file, err)
	}
	return tpl.subject, buf.String(), true, nil
}
