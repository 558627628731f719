package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/gxo-labs/converge/internal/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCommand()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		sig  os.Signal
		want int
	}{
		{"success", nil, nil, ExitSuccess},
		{"tasks failed", engine.ErrTasksFailed, nil, ExitFailure},
		{"usage", usagef("bad flag"), nil, ExitUsageError},
		{"wrapped usage", fmt.Errorf("run: %w", usagef("bad flag")), nil, ExitUsageError},
		{"timeout", context.DeadlineExceeded, nil, ExitTimeout},
		{"interrupted", context.Canceled, syscall.SIGINT, ExitSigInt},
		{"terminated", fmt.Errorf("run: %w", context.Canceled), syscall.SIGTERM, ExitSigTerm},
		{"cancelled without a signal", context.Canceled, nil, ExitFailure},
		{"other", errors.New("boom"), nil, ExitFailure},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, exitCode(tc.err, tc.sig))
		})
	}
}

func TestUsageErrors(t *testing.T) {
	dir := t.TempDir()
	pb := writeFile(t, dir, "play.yml", "- name: x\n  groups: [all]\n  tasks:\n    - !echo\n      msg: hi\n")

	tests := []struct {
		name string
		args []string
	}{
		{"no playbook", []string{"local"}},
		{"unknown flag", []string{"local", "--nope"}},
		{"ssh without inventory", []string{"ssh", "-p", pb}},
		{"inventory and hosts", []string{"local", "-p", pb, "-i", dir, "--hosts", "a"}},
		{"invalid forks", []string{"local", "-p", pb, "--forks", "0"}},
		{"stray argument", []string{"local", "-p", pb, "extra"}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := execute(t, tc.args...)
			require.Error(t, err)
			assert.Equal(t, ExitUsageError, exitCode(err, nil), "error: %v", err)
		})
	}
}

func TestSyntaxRun(t *testing.T) {
	dir := t.TempDir()
	pb := writeFile(t, dir, "play.yml", `---
- name: backup
  groups: [all]
  tasks:
    - !facts
    - !fetch
      src: /etc/nginx
      dest: "/srv/backup/{{ .converge_inventory_hostname }}"
      is_folder: true
    - !echo
      msg: "flavor is {{ .os_flavor }}"
`)
	out, err := execute(t, "syntax", "-p", pb, "--hosts", "web1,web2")
	require.NoError(t, err)
	assert.Contains(t, out, "PLAY [backup]")
	assert.Contains(t, out, "RECAP")
	assert.Contains(t, out, "web2")
}

func TestLocalRun_FailedTaskExitsOne(t *testing.T) {
	dir := t.TempDir()
	pb := writeFile(t, dir, "play.yml", `---
- name: guard
  groups: [all]
  tasks:
    - !fail
      name: ignored failure
      msg: first
      aftertask:
        ignore_errors: true
    - !fail
      name: real failure
      msg: second
`)
	metricsFile := filepath.Join(dir, "converge.prom")
	out, err := execute(t, "local", "-p", pb, "--metrics-file", metricsFile)
	require.ErrorIs(t, err, engine.ErrTasksFailed)
	assert.Equal(t, ExitFailure, exitCode(err, nil))
	assert.Contains(t, out, "ignored failure")
	assert.Contains(t, out, "second")

	b, readErr := os.ReadFile(metricsFile)
	require.NoError(t, readErr)
	assert.Contains(t, string(b), "converge_tasks_total")
}

func TestShowInventory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "groups/webservers", "hosts: [web1, web2]\n")
	writeFile(t, dir, "groups/production", "subgroups: [webservers]\nhosts: [db1]\n")
	writeFile(t, dir, "group_vars/production", "env: production\n")
	writeFile(t, dir, "host_vars/web2", "role: canary\n")

	out, err := execute(t, "show-inventory", "-i", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "production (3 hosts)")
	assert.Contains(t, out, "subgroups: webservers")
	assert.Contains(t, out, "hosts: web1, web2")

	out, err = execute(t, "show-inventory", "-i", dir, "--host", "web2")
	require.NoError(t, err)
	assert.Contains(t, out, "groups: all, production, webservers")
	assert.Contains(t, out, "env: production")
	assert.Contains(t, out, "role: canary")

	out, err = execute(t, "show-inventory", "-i", dir, "--group", "production")
	require.NoError(t, err)
	assert.Contains(t, out, "hosts: db1, web1, web2")

	_, err = execute(t, "show-inventory", "-i", dir, "--host", "nope")
	assert.Error(t, err)
}
