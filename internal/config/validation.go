package config

import (
	"fmt"
	"regexp"
	gotemplate "text/template"

	"github.com/gxo-labs/converge/internal/template"
	convergeerrors "github.com/gxo-labs/converge/pkg/converge/v1/errors"
)

var identifierRegex = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidatePlaybookStructure checks what the schema cannot express: template
// syntax in every task field and that no 'save' shadows the loop variable.
// It returns every problem found.
func ValidatePlaybookStructure(p *Playbook) []error {
	var errs []error
	funcs := template.GetFuncMap(nil, nil, nil)
	// 'secret' is only registered when a provider is configured; parsing
	// must still accept it.
	funcs["secret"] = func(string) (string, error) { return "", nil }

	for pi := range p.Plays {
		play := &p.Plays[pi]
		playName := play.Name
		if playName == "" {
			playName = fmt.Sprintf("play %d", pi)
		}
		for ti := range play.Tasks {
			task := &play.Tasks[ti]
			where := fmt.Sprintf("%s, task %d (%s, line %d)", playName, ti, task.DisplayName(), task.Line)

			if save := task.SaveName(); save != "" {
				if !identifierRegex.MatchString(save) {
					errs = append(errs, convergeerrors.NewValidationError(fmt.Sprintf("%s: 'save' name '%s' is not a valid identifier", where, save), nil))
				}
				if save == DefaultItemVar {
					errs = append(errs, convergeerrors.NewValidationError(fmt.Sprintf("%s: 'save' cannot use the reserved name '%s'", where, DefaultItemVar), nil))
				}
			}
			for _, tmpl := range collectTemplates(task) {
				if _, err := gotemplate.New("check").Funcs(funcs).Parse(tmpl); err != nil {
					errs = append(errs, convergeerrors.NewValidationError(fmt.Sprintf("%s: invalid template [%s]", where, tmpl), err))
				}
			}
		}
	}
	return errs
}

// collectTemplates gathers every templated string of a task.
func collectTemplates(task *Task) []string {
	var out []string
	var walk func(v interface{})
	walk = func(v interface{}) {
		switch val := v.(type) {
		case string:
			if template.IsTemplated(val) {
				out = append(out, val)
			}
		case map[string]interface{}:
			for _, item := range val {
				walk(item)
			}
		case []interface{}:
			for _, item := range val {
				walk(item)
			}
		}
	}
	walk(task.Params)
	if task.Before != nil {
		walk(task.Before.Condition)
		walk(task.Before.Items)
	}
	if task.After != nil {
		walk(task.After.IgnoreErrors)
	}
	return out
}
