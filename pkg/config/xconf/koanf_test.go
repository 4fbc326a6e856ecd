package xconf

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type section struct {
	Name  string   `koanf:"name"`
	Port  int      `koanf:"port"`
	Hosts []string `koanf:"hosts"`
}

const sectionYAML = `
svc:
  name: scheduler
  port: 8080
  hosts: [a, b]
`

const sectionJSON = `{"svc": {"name": "scheduler", "port": 8080, "hosts": ["a", "b"]}}`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestNew_Formats(t *testing.T) {
	for name, content := range map[string]string{
		"c.yaml": sectionYAML,
		"c.yml":  sectionYAML,
		"c.json": sectionJSON,
	} {
		t.Run(name, func(t *testing.T) {
			path := writeFile(t, name, content)
			cfg, err := New(path)
			require.NoError(t, err)
			assert.Equal(t, path, cfg.Path())

			var s section
			require.NoError(t, cfg.Unmarshal("svc", &s))
			assert.Equal(t, section{Name: "scheduler", Port: 8080, Hosts: []string{"a", "b"}}, s)
			assert.Equal(t, "scheduler", cfg.Client().String("svc.name"))
		})
	}
}

func TestNew_Errors(t *testing.T) {
	_, err := New("")
	assert.ErrorIs(t, err, ErrEmptyPath)

	_, err = New(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, ErrLoadFailed)

	_, err = New(writeFile(t, "c.toml", "a = 1"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)

	_, err = New(writeFile(t, "c.yaml", "svc: [unclosed"))
	assert.ErrorIs(t, err, ErrParseFailed)

	_, err = New(writeFile(t, "c.json", "{"))
	assert.ErrorIs(t, err, ErrParseFailed)
}

func TestNew_WithDelim(t *testing.T) {
	cfg, err := New(writeFile(t, "c.yaml", sectionYAML), WithDelim("/"))
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Client().Int("svc/port"))
}

func TestNewFromBytes(t *testing.T) {
	cfg, err := NewFromBytes([]byte(sectionJSON), FormatJSON)
	require.NoError(t, err)
	assert.Empty(t, cfg.Path())
	assert.Equal(t, FormatJSON, cfg.Format())
	assert.ErrorIs(t, cfg.Reload(), ErrNotReloadable)

	empty, err := NewFromBytes(nil, FormatYAML)
	require.NoError(t, err)
	var s section
	require.NoError(t, empty.Unmarshal("svc", &s))
	assert.Zero(t, s)

	_, err = NewFromBytes([]byte("x"), Format("ini"))
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestUnmarshal_KeepsPresetValues(t *testing.T) {
	cfg, err := NewFromBytes([]byte("svc:\n  port: 9090\n"), FormatYAML)
	require.NoError(t, err)

	s := section{Name: "preset", Port: 1}
	require.NoError(t, cfg.Unmarshal("svc", &s))
	assert.Equal(t, "preset", s.Name)
	assert.Equal(t, 9090, s.Port)
}

func TestReload(t *testing.T) {
	path := writeFile(t, "c.yaml", sectionYAML)
	cfg, err := New(path)
	require.NoError(t, err)
	old := cfg.Client()

	require.NoError(t, os.WriteFile(path, []byte("svc:\n  port: 9090\n"), 0o600))
	require.NoError(t, cfg.Reload())
	assert.Equal(t, 9090, cfg.Client().Int("svc.port"))
	assert.Equal(t, 8080, old.Int("svc.port"), "old snapshot unchanged")

	// 解析失败时保留原配置
	require.NoError(t, os.WriteFile(path, []byte("svc: [unclosed"), 0o600))
	assert.ErrorIs(t, cfg.Reload(), ErrParseFailed)
	assert.Equal(t, 9090, cfg.Client().Int("svc.port"))

	require.NoError(t, os.Remove(path))
	assert.ErrorIs(t, cfg.Reload(), ErrLoadFailed)
}

func TestReload_Concurrent(t *testing.T) {
	path := writeFile(t, "c.yaml", sectionYAML)
	cfg, err := New(path)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(2)
		go func() {
			defer wg.Done()
			assert.NoError(t, cfg.Reload())
		}()
		go func() {
			defer wg.Done()
			var s section
			assert.NoError(t, cfg.Unmarshal("svc", &s))
		}()
	}
	wg.Wait()
}
