package fixtures

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-go-golems/moon/pkg/inference/engine"
)

// DiskTap implements engine.DebugTap to persist raw provider breadcrumbs of
// one generation run under dir.
type DiskTap struct {
	dir      string
	runIndex int

	mu           sync.Mutex
	fragmentFile *os.File
}

var _ engine.DebugTap = (*DiskTap)(nil)

func NewDiskTap(dir string, runIndex int) (*DiskTap, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	return &DiskTap{dir: dir, runIndex: runIndex}, nil
}

func (d *DiskTap) path(name string) string {
	return filepath.Join(d.dir, fmt.Sprintf("run-%d-%s", d.runIndex, name))
}

func writeJSON(path string, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(path, b, 0644)
}

func (d *DiskTap) OnHTTP(req *http.Request, body []byte) {
	writeJSON(d.path("http-request.json"), map[string]any{
		"run_index": d.runIndex,
		"method":    req.Method,
		"url":       req.URL.String(),
		"headers":   headerMap(req.Header),
		"body":      jsonRawOrString(body),
	})
}

func (d *DiskTap) OnHTTPResponse(resp *http.Response) {
	writeJSON(d.path("http-response.json"), map[string]any{
		"run_index": d.runIndex,
		"status":    resp.StatusCode,
		"headers":   headerMap(resp.Header),
	})
}

func (d *DiskTap) OnFragment(fragment string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fragmentFile == nil {
		f, err := os.Create(d.path("fragments.ndjson"))
		if err != nil {
			return
		}
		d.fragmentFile = f
	}
	b, err := json.Marshal(fragment)
	if err != nil {
		return
	}
	_, _ = d.fragmentFile.Write(append(b, '\n'))
}

func (d *DiskTap) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.fragmentFile != nil {
		_ = d.fragmentFile.Close()
		d.fragmentFile = nil
	}
}

// headerMap copies h, hiding credentials.
func headerMap(h http.Header) map[string][]string {
	m := make(map[string][]string, len(h))
	for k, v := range h {
		if http.CanonicalHeaderKey(k) == "Authorization" {
			m[k] = []string{"<redacted>"}
			continue
		}
		m[k] = v
	}
	return m
}

func jsonRawOrString(b []byte) any {
	var v any
	if json.Unmarshal(b, &v) == nil {
		return v
	}
	return string(b)
}
