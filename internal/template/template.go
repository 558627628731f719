package template

import (
	"bytes"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"text/template"

	"github.com/gxo-labs/converge/internal/secrets"
	"github.com/gxo-labs/converge/internal/util"
	convergeerrors "github.com/gxo-labs/converge/pkg/converge/v1/errors"
	"github.com/gxo-labs/converge/pkg/converge/v1/events"
	pkgsecrets "github.com/gxo-labs/converge/pkg/converge/v1/secrets"
)

// Mode controls whether task fields are resolved at all.
type Mode int

const (
	// Strict resolves every expression; a missing variable is an error.
	Strict Mode = iota
	// Off leaves fields untouched. Syntax-check runs use it, since facts
	// and saved results do not exist there.
	Off
)

var simpleVarRegex = regexp.MustCompile(`^\s*\{\{\s*\.([a-zA-Z0-9_.]+)\s*\}\}\s*$`)

// IsTemplated reports whether s still holds a template expression.
func IsTemplated(s string) bool {
	return strings.Contains(s, "{{") && strings.Contains(s, "}}")
}

// Renderer resolves templated task fields against a host's variables.
type Renderer interface {
	Render(templateString string, vars map[string]interface{}) (string, error)
	Resolve(templateString string, vars map[string]interface{}) (interface{}, error)
	ResolveParams(params map[string]interface{}, vars map[string]interface{}, mode Mode) (map[string]interface{}, error)
	ResolveBool(raw interface{}, vars map[string]interface{}, mode Mode, def bool) (bool, error)
}

// GoRenderer implements Renderer with text/template and missingkey=error.
// Parsed templates are cached; it is safe for concurrent use.
type GoRenderer struct {
	secretsProvider pkgsecrets.Provider
	eventBus        events.Bus
	secretTracker   *secrets.SecretTracker
	templateCache   map[string]*template.Template
	mu              sync.Mutex
}

var _ Renderer = (*GoRenderer)(nil)

// NewGoRenderer creates a renderer. Secrets resolved through the 'secret'
// function are recorded in tracker so they can be redacted from output.
func NewGoRenderer(secretsProvider pkgsecrets.Provider, eventBus events.Bus, tracker *secrets.SecretTracker) *GoRenderer {
	return &GoRenderer{
		secretsProvider: secretsProvider,
		eventBus:        eventBus,
		secretTracker:   tracker,
		templateCache:   make(map[string]*template.Template),
	}
}

// Tracker returns the secret tracker bound to this renderer.
func (r *GoRenderer) Tracker() *secrets.SecretTracker {
	return r.secretTracker
}

// Render executes templateString against vars.
func (r *GoRenderer) Render(templateString string, vars map[string]interface{}) (string, error) {
	if !IsTemplated(templateString) {
		return templateString, nil
	}
	t, err := r.getOrParseTemplate(templateString)
	if err != nil {
		return "", convergeerrors.NewTemplateError("", err)
	}

	var buf bytes.Buffer
	if execErr := t.Execute(&buf, vars); execErr != nil {
		return "", convergeerrors.NewTemplateError("", execErr)
	}
	return buf.String(), nil
}

// Resolve returns the variable's own value when templateString is a bare
// reference such as "{{ .packages }}", so lists and maps keep their shape.
// Anything else is rendered to a string.
func (r *GoRenderer) Resolve(templateString string, vars map[string]interface{}) (interface{}, error) {
	if matches := simpleVarRegex.FindStringSubmatch(templateString); len(matches) == 2 {
		if value, found := util.Lookup(vars, matches[1]); found {
			return util.DeepCopy(value), nil
		}
	}
	return r.Render(templateString, vars)
}

// ResolveParams resolves every string found in params, recursing into maps
// and lists. In Off mode params are returned as a copy, unresolved.
func (r *GoRenderer) ResolveParams(params map[string]interface{}, vars map[string]interface{}, mode Mode) (map[string]interface{}, error) {
	if params == nil {
		return map[string]interface{}{}, nil
	}
	if mode == Off {
		return util.NormalizeMap(params), nil
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make(map[string]interface{}, len(params))
	for _, k := range keys {
		v, err := r.resolveValue(params[k], vars)
		if err != nil {
			var te *convergeerrors.TemplateError
			if errors.As(err, &te) && te.Field == "" {
				te.Field = k
				return nil, te
			}
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

func (r *GoRenderer) resolveValue(value interface{}, vars map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return r.Resolve(v, vars)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, item := range v {
			resolved, err := r.resolveValue(item, vars)
			if err != nil {
				return nil, err
			}
			out[key] = resolved
		}
		return out, nil
	case []interface{}:
		out := make([]interface{}, len(v))
		for i, item := range v {
			resolved, err := r.resolveValue(item, vars)
			if err != nil {
				return nil, err
			}
			out[i] = resolved
		}
		return out, nil
	default:
		return util.DeepCopy(value), nil
	}
}

// ResolveBool resolves a boolean field. An absent value (nil) yields def.
// In Off mode a still-templated string also yields def.
func (r *GoRenderer) ResolveBool(raw interface{}, vars map[string]interface{}, mode Mode, def bool) (bool, error) {
	switch v := raw.(type) {
	case nil:
		return def, nil
	case bool:
		return v, nil
	case string:
		if mode == Off && IsTemplated(v) {
			return def, nil
		}
		rendered, err := r.Render(v, vars)
		if err != nil {
			return false, err
		}
		return ParseBool(rendered)
	default:
		return false, convergeerrors.NewValidationError(fmt.Sprintf("expected a boolean, got %T", raw), nil)
	}
}

// ParseBool accepts the spellings YAML users write for booleans.
func ParseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "yes", "on", "1":
		return true, nil
	case "false", "no", "off", "0", "":
		return false, nil
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b, nil
	}
	return false, convergeerrors.NewValidationError(fmt.Sprintf("'%s' is not a boolean", s), nil)
}

func (r *GoRenderer) getOrParseTemplate(templateString string) (*template.Template, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cached, exists := r.templateCache[templateString]; exists {
		return cached, nil
	}
	t, err := template.New("field").Option("missingkey=error").Funcs(r.GetFuncMap()).Parse(templateString)
	if err != nil {
		return nil, fmt.Errorf("template parse error: %w", err)
	}
	r.templateCache[templateString] = t
	return t, nil
}

// GetFuncMap returns the functions available to playbook templates.
func (r *GoRenderer) GetFuncMap() template.FuncMap {
	return GetFuncMap(r.secretsProvider, r.eventBus, r.secretTracker)
}
