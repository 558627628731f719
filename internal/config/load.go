package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	convergeerrors "github.com/gxo-labs/converge/pkg/converge/v1/errors"
	"gopkg.in/yaml.v3"
)

// LoadPlaybook parses a playbook document. Tasks are YAML nodes tagged with
// their module name:
//
//	- name: backup
//	  groups: [webservers]
//	  tasks:
//	    - !fetch
//	      src: /etc/nginx
//	      dest: /srv/backup/{{ .converge_inventory_hostname }}
//	      is_folder: true
//
// The document is normalized, checked against the embedded JSON schema,
// then checked for logical consistency.
func LoadPlaybook(playbookYAML []byte, filePathHint string) (*Playbook, error) {
	if len(bytes.TrimSpace(playbookYAML)) == 0 {
		return nil, convergeerrors.NewConfigError(fmt.Sprintf("playbook '%s' is empty", filePathHint), nil)
	}

	var root yaml.Node
	if err := yaml.Unmarshal(playbookYAML, &root); err != nil {
		return nil, convergeerrors.NewConfigError(fmt.Sprintf("failed to parse playbook YAML '%s'", filePathHint), err)
	}
	doc, lines, err := normalizeDocument(&root)
	if err != nil {
		return nil, convergeerrors.NewConfigError(fmt.Sprintf("playbook '%s'", filePathHint), err)
	}

	if err := ValidateWithSchema(doc); err != nil {
		return nil, convergeerrors.NewConfigError(fmt.Sprintf("playbook '%s' failed schema validation", filePathHint), err)
	}

	playbook, err := buildPlaybook(doc, lines)
	if err != nil {
		return nil, convergeerrors.NewConfigError(fmt.Sprintf("playbook '%s'", filePathHint), err)
	}
	playbook.FilePath = filePathHint

	if errs := ValidatePlaybookStructure(playbook); len(errs) > 0 {
		messages := make([]string, 0, len(errs))
		for _, e := range errs {
			messages = append(messages, e.Error())
		}
		combined := fmt.Sprintf("playbook '%s' has %d validation error(s):\n- %s",
			filePathHint, len(messages), strings.Join(messages, "\n- "))
		return nil, convergeerrors.NewValidationError(combined, errs[0])
	}
	return playbook, nil
}

// LoadPlaybookFromFile reads and parses a playbook from disk.
func LoadPlaybookFromFile(filePath string) (*Playbook, error) {
	if filePath == "" {
		return nil, convergeerrors.NewConfigError("playbook file path cannot be empty", nil)
	}
	absPath, err := filepath.Abs(filePath)
	if err != nil {
		return nil, convergeerrors.NewConfigError(fmt.Sprintf("failed to get absolute path for '%s'", filePath), err)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, convergeerrors.NewConfigError(fmt.Sprintf("failed to read playbook file '%s'", absPath), err)
	}
	return LoadPlaybook(data, absPath)
}

// LoadPlaybooks loads several playbook files in order.
func LoadPlaybooks(paths []string) ([]*Playbook, error) {
	if len(paths) == 0 {
		return nil, convergeerrors.NewConfigError("at least one playbook is required", nil)
	}
	out := make([]*Playbook, 0, len(paths))
	for _, p := range paths {
		pb, err := LoadPlaybookFromFile(p)
		if err != nil {
			return nil, err
		}
		out = append(out, pb)
	}
	return out, nil
}

// taskLines maps [play][task] to the task's line in the source.
type taskLines [][]int

// normalizeDocument turns the node tree into plain Go values the schema can
// check. Each tagged task becomes {"module": tag, "params": {...}, ...}.
func normalizeDocument(root *yaml.Node) ([]interface{}, taskLines, error) {
	if root.Kind != yaml.DocumentNode || len(root.Content) != 1 {
		return nil, nil, fmt.Errorf("expected a single YAML document")
	}
	seq := root.Content[0]
	if seq.Kind != yaml.SequenceNode {
		return nil, nil, fmt.Errorf("line %d: a playbook is a list of plays", seq.Line)
	}

	plays := make([]interface{}, 0, len(seq.Content))
	lines := make(taskLines, 0, len(seq.Content))
	for _, playNode := range seq.Content {
		if playNode.Kind != yaml.MappingNode {
			return nil, nil, fmt.Errorf("line %d: a play must be a mapping", playNode.Line)
		}
		play := make(map[string]interface{}, len(playNode.Content)/2)
		var playLines []int
		for i := 0; i+1 < len(playNode.Content); i += 2 {
			key, value := playNode.Content[i].Value, playNode.Content[i+1]
			if key != "tasks" {
				var v interface{}
				if err := value.Decode(&v); err != nil {
					return nil, nil, fmt.Errorf("line %d: play field '%s': %w", value.Line, key, err)
				}
				play[key] = v
				continue
			}
			if value.Kind != yaml.SequenceNode {
				return nil, nil, fmt.Errorf("line %d: 'tasks' must be a list", value.Line)
			}
			tasks := make([]interface{}, 0, len(value.Content))
			for _, taskNode := range value.Content {
				task, err := normalizeTask(taskNode)
				if err != nil {
					return nil, nil, err
				}
				tasks = append(tasks, task)
				playLines = append(playLines, taskNode.Line)
			}
			play["tasks"] = tasks
		}
		plays = append(plays, play)
		lines = append(lines, playLines)
	}
	return plays, lines, nil
}

func normalizeTask(node *yaml.Node) (map[string]interface{}, error) {
	if !strings.HasPrefix(node.Tag, "!") || strings.HasPrefix(node.Tag, "!!") {
		return nil, fmt.Errorf("line %d: task must be tagged with its module, e.g. '- !shell'", node.Line)
	}
	task := map[string]interface{}{"module": strings.TrimPrefix(node.Tag, "!")}
	params := map[string]interface{}{}

	switch node.Kind {
	case yaml.ScalarNode:
		if strings.TrimSpace(node.Value) != "" {
			return nil, fmt.Errorf("line %d: task '%s' must be a mapping", node.Line, node.Tag)
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			key, value := node.Content[i].Value, node.Content[i+1]
			var v interface{}
			if err := value.Decode(&v); err != nil {
				return nil, fmt.Errorf("line %d: field '%s': %w", value.Line, key, err)
			}
			switch key {
			case KeyName, KeyBeforeTask, KeyAfterTask, KeySave:
				task[key] = v
			default:
				if _, dup := params[key]; dup {
					return nil, fmt.Errorf("line %d: duplicate field '%s'", value.Line, key)
				}
				params[key] = v
			}
		}
	default:
		return nil, fmt.Errorf("line %d: task '%s' must be a mapping", node.Line, node.Tag)
	}
	task["params"] = params
	return task, nil
}

func buildPlaybook(doc []interface{}, lines taskLines) (*Playbook, error) {
	pb := &Playbook{Plays: make([]Play, 0, len(doc))}
	for pi, rawPlay := range doc {
		m := rawPlay.(map[string]interface{})
		play := Play{
			Name:   stringOf(m["name"]),
			Groups: stringsOf(m["groups"]),
		}
		if vars, ok := m["vars"].(map[string]interface{}); ok {
			play.Vars = vars
		}
		rawTasks, _ := m["tasks"].([]interface{})
		for ti, rawTask := range rawTasks {
			task, err := buildTask(rawTask.(map[string]interface{}))
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", lines[pi][ti], err)
			}
			task.Line = lines[pi][ti]
			play.Tasks = append(play.Tasks, task)
		}
		pb.Plays = append(pb.Plays, play)
	}
	return pb, nil
}

func buildTask(m map[string]interface{}) (Task, error) {
	task := Task{
		Module: stringOf(m["module"]),
		Name:   stringOf(m[KeyName]),
	}
	task.Params, _ = m["params"].(map[string]interface{})

	if before, ok := m[KeyBeforeTask].(map[string]interface{}); ok {
		task.Before = &BeforeTask{Condition: before["condition"], Items: before["items"]}
	}
	if after, ok := m[KeyAfterTask].(map[string]interface{}); ok {
		task.After = &AfterTask{
			IgnoreErrors: after["ignore_errors"],
			Save:         stringOf(after[KeySave]),
		}
		if n, ok := after["retry"].(int); ok {
			task.After.Retry = n
		}
		if raw, ok := after["delay"]; ok {
			d, err := parseDelay(raw)
			if err != nil {
				return Task{}, err
			}
			task.After.Delay = d
		}
	}
	if save := stringOf(m[KeySave]); save != "" {
		if task.After == nil {
			task.After = &AfterTask{}
		}
		if task.After.Save != "" && task.After.Save != save {
			return Task{}, fmt.Errorf("'save' is set both on the task and in aftertask")
		}
		task.After.Save = save
	}
	return task, nil
}

// parseDelay accepts a number of seconds or a Go duration string.
func parseDelay(raw interface{}) (time.Duration, error) {
	switch v := raw.(type) {
	case int:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	case string:
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid aftertask delay '%s': %w", v, err)
		}
		return d, nil
	default:
		return 0, fmt.Errorf("invalid aftertask delay %v", raw)
	}
}

func stringOf(v interface{}) string {
	s, _ := v.(string)
	return s
}

func stringsOf(v interface{}) []string {
	items, _ := v.([]interface{})
	out := make([]string, 0, len(items))
	for _, it := range items {
		if s, ok := it.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
