package config

import (
	"fmt"
	"time"
)

// Reserved task keys. Every other key of a task mapping is a module field.
const (
	KeyName       = "name"
	KeyBeforeTask = "beforetask"
	KeyAfterTask  = "aftertask"
	KeySave       = "save"
)

// DefaultItemVar is the variable bound to the current element of
// beforetask.items.
const DefaultItemVar = "item"

// Playbook is one playbook file: an ordered list of plays.
type Playbook struct {
	Plays []Play
	// FilePath is the source file, kept for error messages.
	FilePath string
}

// Play targets groups of hosts with an ordered task list.
type Play struct {
	Name   string
	Groups []string
	Vars   map[string]interface{}
	Tasks  []Task
}

// Task is the immutable, still-templated description of a resource. It is
// shared read-only by every host pipeline.
type Task struct {
	// Module is the YAML tag of the task without its leading '!'.
	Module string
	Name   string
	Params map[string]interface{}
	Before *BeforeTask
	After  *AfterTask
	// Line is the task's position in its playbook file.
	Line int
}

// DisplayName returns the task name, or the module tag when unnamed.
func (t *Task) DisplayName() string {
	if t.Name != "" {
		return t.Name
	}
	return t.Module
}

// BeforeTask is evaluated before the task is driven.
type BeforeTask struct {
	// Condition is a boolean or a template rendering to one. False skips
	// the task.
	Condition interface{}
	// Items is a list, or a template resolving to a list. The task runs
	// once per element with the element bound to 'item'.
	Items interface{}
}

// AfterTask is applied to the task's outcome.
type AfterTask struct {
	// IgnoreErrors is a boolean or a template rendering to one.
	IgnoreErrors interface{}
	// Save names the variable receiving the task's outputs.
	Save string
	// Retry is the number of extra attempts for a failed task.
	Retry int
	// Delay separates attempts.
	Delay time.Duration
}

// SaveName returns the variable a task's outputs are saved under, or "".
func (t *Task) SaveName() string {
	if t.After == nil {
		return ""
	}
	return t.After.Save
}

func (t *Task) String() string {
	if t.Name != "" {
		return fmt.Sprintf("!%s %q", t.Module, t.Name)
	}
	return "!" + t.Module
}
