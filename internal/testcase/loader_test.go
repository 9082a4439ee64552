package testcase_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/signalnine/verdict/internal/testcase"
)

func writeDef(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFileDefaults(t *testing.T) {
	dir := t.TempDir()
	path := writeDef(t, dir, "tc1.yaml", `
id: TC-1
name: echo works
suite: smoke
steps:
  - name: say hello
    command: echo hello
    expectPatterns: [hello]
`)
	tc, lerr := testcase.LoadFile(path, 20*time.Second)
	require.Nil(t, lerr)

	assert.Equal(t, "TC-1", tc.ID)
	assert.Equal(t, testcase.DefaultPriority, tc.Priority)
	assert.Equal(t, 20*time.Second, tc.Timeout)
	assert.Empty(t, tc.Dependencies)
	assert.Empty(t, tc.Criteria)
	require.Len(t, tc.Steps, 1)
	assert.Equal(t, []string{"hello"}, tc.Steps[0].Expect)
	assert.Zero(t, tc.Steps[0].Timeout)
	assert.Equal(t, path, tc.Source)
}

func TestLoadFileAllFields(t *testing.T) {
	dir := t.TempDir()
	path := writeDef(t, dir, "tc2.yaml", `
id: TC-2
name: checkout flow
suite: e2e/checkout
priority: 3
timeout: 1500
dependencies: [TC-1]
criteria: |
  The order service logs a confirmation for every order.
steps:
  - name: place order
    command: ./place-order.sh
    timeout: 250
    expectPatterns: ["order \\d+ placed"]
    rejectPatterns: [refund]
  - name: check
    command: ./check.sh
`)
	tc, lerr := testcase.LoadFile(path, time.Second)
	require.Nil(t, lerr)

	assert.Equal(t, 3, tc.Priority)
	assert.Equal(t, 1500*time.Millisecond, tc.Timeout)
	assert.Equal(t, []string{"TC-1"}, tc.Dependencies)
	assert.Equal(t, "The order service logs a confirmation for every order.", tc.Criteria)
	assert.Equal(t, 250*time.Millisecond, tc.StepTimeout(0, time.Minute))
	assert.Equal(t, 1500*time.Millisecond, tc.StepTimeout(1, time.Minute))
	assert.Equal(t, 1750*time.Millisecond, tc.TotalTimeout(time.Minute))
}

func TestLoadFileRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		field   string
	}{
		{"missing id", "name: x\nsuite: s\nsteps: [{name: a, command: b}]", "id"},
		{"id with spaces", "id: TC 1\nname: x\nsuite: s\nsteps: [{name: a, command: b}]", "id"},
		{"missing name", "id: A\nsuite: s\nsteps: [{name: a, command: b}]", "name"},
		{"missing suite", "id: A\nname: x\nsteps: [{name: a, command: b}]", "suite"},
		{"no steps", "id: A\nname: x\nsuite: s\nsteps: []", "steps"},
		{"step without command", "id: A\nname: x\nsuite: s\nsteps: [{name: a}]", "steps[0].command"},
		{"step without name", "id: A\nname: x\nsuite: s\nsteps: [{command: b}]", "steps[0].name"},
		{"negative timeout", "id: A\nname: x\nsuite: s\ntimeout: -5\nsteps: [{name: a, command: b}]", "timeout"},
		{"bad expect regexp", "id: A\nname: x\nsuite: s\nsteps: [{name: a, command: b, expectPatterns: ['(']}]", "steps[0].expectPatterns[0]"},
		{"bad reject regexp", "id: A\nname: x\nsuite: s\nsteps: [{name: a, command: b, rejectPatterns: ['[']}]", "steps[0].rejectPatterns[0]"},
		{"empty dependency", "id: A\nname: x\nsuite: s\ndependencies: ['']\nsteps: [{name: a, command: b}]", "dependencies[0]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeDef(t, t.TempDir(), "def.yaml", tt.content)
			tc, lerr := testcase.LoadFile(path, time.Second)
			assert.Nil(t, tc)
			require.NotNil(t, lerr)
			assert.Equal(t, tt.field, lerr.Field)
			assert.Equal(t, path, lerr.File)
			assert.Contains(t, lerr.Error(), path)
		})
	}
}

func TestLoadFileMalformedYAML(t *testing.T) {
	path := writeDef(t, t.TempDir(), "broken.yaml", "id: [unterminated")
	_, lerr := testcase.LoadFile(path, time.Second)
	require.NotNil(t, lerr)
	assert.Contains(t, lerr.Msg, "parsing yaml")
}

func TestLoadDirSkipsBadFilesAndDuplicates(t *testing.T) {
	dir := t.TempDir()
	writeDef(t, dir, "a.yaml", "id: TC-1\nname: one\nsuite: smoke\nsteps: [{name: s, command: 'true'}]")
	writeDef(t, dir, "b.yml", "id: TC-2\nname: two\nsuite: smoke\nsteps: [{name: s, command: 'true'}]")
	writeDef(t, dir, "c.yaml", "id: TC-1\nname: dup\nsuite: smoke\nsteps: [{name: s, command: 'true'}]")
	writeDef(t, dir, "nested/d.yaml", "id: TC-3\nname: three\nsuite: e2e\nsteps: [{name: s, command: 'true'}]")
	writeDef(t, dir, "e.yaml", "name: broken\nsuite: smoke")
	writeDef(t, dir, "README.md", "not a definition")

	cases, errs, err := testcase.LoadDir(dir, time.Second)
	require.NoError(t, err)

	var ids []string
	for _, tc := range cases {
		ids = append(ids, tc.ID)
	}
	assert.Equal(t, []string{"TC-1", "TC-2", "TC-3"}, ids)
	assert.Equal(t, "one", cases[0].Name, "first definition of a duplicated id wins")

	require.Len(t, errs, 2)
	assert.Equal(t, filepath.Join(dir, "c.yaml"), errs[0].File)
	assert.Contains(t, errs[0].Msg, "duplicate id")
	assert.Equal(t, filepath.Join(dir, "e.yaml"), errs[1].File)
}

func TestLoadDirMissing(t *testing.T) {
	_, _, err := testcase.LoadDir(filepath.Join(t.TempDir(), "nope"), time.Second)
	assert.Error(t, err)
}
