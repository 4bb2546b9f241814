package notify

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/warp/allocation-engine/generic"
)

// Templates renders notification subjects and bodies by template name.
type Templates struct {
	subjects map[string]*template.Template
	bodies   map[string]*template.Template
}

var defaultTemplates = map[string][2]string{
	generic.TemplateBookingApproved: {
		"Your {{.kind}} booking is approved",
		"Hi {{.name}}, your {{.kind}} booking for {{.resource}} starting {{.start_date}} has been approved.",
	},
	generic.TemplateBookingRejected: {
		"Your {{.kind}} booking was rejected",
		"Hi {{.name}}, your {{.kind}} booking for {{.resource}} was rejected.{{with .remarks}} Remarks: {{.}}{{end}}",
	},
	generic.TemplateBookingCancelled: {
		"Your {{.kind}} booking was cancelled",
		"Hi {{.name}}, your {{.kind}} booking for {{.resource}} was cancelled.{{with .remarks}} {{.}}{{end}}",
	},
	generic.TemplateBookingExpired: {
		"Your {{.kind}} booking has ended",
		"Hi {{.name}}, your {{.kind}} booking for {{.resource}} has expired and the place has been released.",
	},
	generic.TemplateSwitchApproved: {
		"Your {{.kind}} switch is approved",
		"Hi {{.name}}, you have been moved from {{.from}} to {{.to}}.{{with .remarks}} Remarks: {{.}}{{end}}",
	},
	generic.TemplateSwitchRejected: {
		"Your {{.kind}} switch request was rejected",
		"Hi {{.name}}, your request to switch {{.kind}} was rejected.{{with .remarks}} Remarks: {{.}}{{end}}",
	},
	generic.TemplateSwitchCancelled: {
		"Your {{.kind}} switch request was cancelled",
		"Hi {{.name}}, your request to switch {{.kind}} was cancelled.{{with .remarks}} Remarks: {{.}}{{end}}",
	},
	generic.TemplateMutualSwitchApproved: {
		"Your {{.kind}} swap is approved",
		"Hi {{.name}}, your swap is approved. You moved from {{.from}} to {{.to}}.",
	},
	generic.TemplateMutualSwitchRejected: {
		"Your {{.kind}} swap request was rejected",
		"Hi {{.name}}, your {{.kind}} swap request was rejected.{{with .remarks}} Remarks: {{.}}{{end}}",
	},
}

// DefaultTemplates parses the built-in templates.
func DefaultTemplates() *Templates {
	t := &Templates{
		subjects: make(map[string]*template.Template),
		bodies:   make(map[string]*template.Template),
	}
	for name, parts := range defaultTemplates {
		t.subjects[name] = template.Must(template.New(name + ".subject").Option("missingkey=zero").Parse(parts[0]))
		t.bodies[name] = template.Must(template.New(name + ".body").Option("missingkey=zero").Parse(parts[1]))
	}
	return t
}

// Render fills a template with params.
func (t *Templates) Render(name string, params map[string]string) (subject, body string, err error) {
	st, ok := t.subjects[name]
	if !ok {
		return "", "", fmt.Errorf("unknown notification template %q", name)
	}
	var sb, bb strings.Builder
	if err := st.Execute(&sb, params); err != nil {
		return "", "", fmt.Errorf("render %s subject: %w", name, err)
	}
	if err := t.bodies[name].Execute(&bb, params); err != nil {
		return "", "", fmt.Errorf("render %s body: %w", name, err)
	}
	return sb.String(), bb.String(), nil
}
