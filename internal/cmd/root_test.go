package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetVersionInfo(t *testing.T) {
	SetVersionInfo("1.2.3", "2023-12-01T10:00:00Z")
	t.Cleanup(func() { SetVersionInfo("", "") })

	assert.Equal(t, "1.2.3 (built 2023-12-01T10:00:00Z)", rootCmd.Version)
	assert.Equal(t, "LemmaSearchBot/1.2.3", generateUserAgent())

	version = "dev"
	assert.Equal(t, "LemmaSearchBot/dev", generateUserAgent())
}

func TestRootCmd(t *testing.T) {
	assert.Equal(t, "lemmasearch", rootCmd.Use)
	names := make([]string, 0, len(rootCmd.Commands()))
	for _, c := range rootCmd.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"index", "index-page", "search", "stats", "serve"})
}

func TestLoadConfig(t *testing.T) {
	t.Cleanup(viper.Reset)

	configFile := filepath.Join(t.TempDir(), "lemmasearch.yml")
	content := `
sites:
  - name: docs
    url: https://docs.example/
    language: Russian
batch_size: 50
crawl:
  stagger_delay: 250ms
  workers: 3
search:
  k1: 1.5
`
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))
	t.Setenv("LS_SEARCH_DEFAULT_LIMIT", "7")

	cfgFile = configFile
	t.Cleanup(func() { cfgFile = "" })
	initConfig()
	require.Equal(t, configFile, viper.ConfigFileUsed())
	viper.SetDefault("search.default_limit", 20)

	cfg, err := loadConfig()
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	require.Len(t, cfg.Sites, 1)
	assert.Equal(t, "https://docs.example", cfg.Sites[0].URL)
	assert.Equal(t, "russian", cfg.Sites[0].Language)
	assert.Equal(t, 50, cfg.BatchSize)
	assert.Equal(t, 3, cfg.Crawl.Workers)
	assert.Equal(t, "250ms", cfg.Crawl.StaggerDelay.String())
	assert.InDelta(t, 1.5, cfg.Search.K1, 1e-9)
	assert.Equal(t, 7, cfg.Search.DefaultLimit)

	assert.InDelta(t, 0.75, cfg.Search.B, 1e-9, "unset keys keep their defaults")
	assert.Equal(t, 30, int(cfg.Crawl.RequestTimeout.Seconds()))
}

func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func siteServer() *httptest.Server {
	pages := map[string]string{
		"/":  `<html><body><a href="/a">A</a> <a href="/b">B</a> Welcome</body></html>`,
		"/a": `<html><head><title>Fox</title></head><body><p>The quick fox jumps.</p></body></html>`,
		"/b": `<html><body><p>A lazy dog sleeps.</p></body></html>`,
	}
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := pages[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprint(w, body)
	}))
}

func TestCommands(t *testing.T) {
	t.Cleanup(viper.Reset)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
		_ = searchCmd.Flags().Set("site", "")
		_ = rootCmd.Flags().Set("show-config", "false")
	})

	server := siteServer()
	defer server.Close()

	dir := t.TempDir()
	configFile := filepath.Join(dir, "lemmasearch.yml")
	content := fmt.Sprintf(`
sites:
  - name: test
    url: %s
database_path: %s
cache_path: ""
batch_size: 10
crawl:
  stagger_delay: 1ms
  respect_robots: true
log:
  level: error
`, server.URL, filepath.Join(dir, "data", "index.db"))
	require.NoError(t, os.WriteFile(configFile, []byte(content), 0644))

	t.Run("show config", func(t *testing.T) {
		out, err := executeCommand(t, "--config", configFile, "--show-config")
		require.NoError(t, err)
		assert.Contains(t, out, "# Current LemmaSearch Configuration")
		assert.Contains(t, out, "batch_size: 10")
		assert.Contains(t, out, server.URL)
	})

	t.Run("index", func(t *testing.T) {
		out, err := executeCommand(t, "index", "--config", configFile)
		require.NoError(t, err)
		assert.Contains(t, out, "INDEXED")
		assert.Contains(t, out, "pages=3")
		assert.Contains(t, out, "Indexing finished")
	})

	t.Run("search", func(t *testing.T) {
		out, err := executeCommand(t, "search", "--config", configFile, "--site", "test", "fox")
		require.NoError(t, err)
		assert.Contains(t, out, "Found 1 pages")
		assert.Contains(t, out, server.URL+"/a")
		assert.Contains(t, out, "<b>fox</b>")

		_, err = executeCommand(t, "search", "--config", configFile, "--site", "missing", "fox")
		assert.Error(t, err)
	})

	t.Run("stats", func(t *testing.T) {
		out, err := executeCommand(t, "stats", "--config", configFile)
		require.NoError(t, err)
		assert.Contains(t, out, `"pages": 3`)
		assert.Contains(t, out, `"status": "INDEXED"`)
	})

	t.Run("index page", func(t *testing.T) {
		out, err := executeCommand(t, "index-page", "--config", configFile, server.URL+"/b")
		require.NoError(t, err)
		assert.Contains(t, out, "Indexed "+server.URL+"/b")

		_, err = executeCommand(t, "index-page", "--config", configFile, "https://elsewhere.example/")
		assert.Error(t, err)
	})
}
