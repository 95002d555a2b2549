// Package registry discovers GGUF model files on disk.
package registry

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"chatd/internal/common/fsutil"
	"chatd/pkg/types"
)

// quantRe matches llama.cpp quantization suffixes such as Q4_K_M, IQ3_XS,
// Q8_0, F16 or BF16.
var quantRe = regexp.MustCompile(`(?i)(?:^|[-._])((?:I?Q\d(?:_[A-Z0-9]+)*)|BF16|F16|F32)$`)

// LoadDir scans dir for *.gguf files. The ID is the file name without the
// extension; quantization and family are guessed from the name.
func LoadDir(dir string) ([]types.Model, error) {
	abs, err := fsutil.Resolve(dir)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir: %w", err)
	}
	var models []types.Model
	for _, e := range entries {
		if e.IsDir() || !fsutil.HasExt(e.Name(), ".gguf") {
			continue
		}
		models = append(models, describe(filepath.Join(abs, e.Name())))
	}
	return models, nil
}

// FromPath describes a single model file.
func FromPath(path string) (types.Model, error) {
	abs, err := fsutil.Resolve(path)
	if err != nil {
		return types.Model{}, err
	}
	if !fsutil.IsRegularFile(abs) {
		return types.Model{}, fmt.Errorf("not a model file: %s", path)
	}
	return describe(abs), nil
}

func describe(path string) types.Model {
	name := filepath.Base(path)
	id := strings.TrimSuffix(name, filepath.Ext(name))
	m := types.Model{ID: id, Name: name, Path: path}
	if q := quantRe.FindStringSubmatch(id); q != nil {
		m.Quant = strings.ToUpper(q[1])
	}
	if fam, _, ok := strings.Cut(id, "-"); ok {
		m.Family = strings.ToLower(fam)
	}
	return m
}

// Find returns the model with the given id. A file name with the .gguf
// extension is accepted too.
func Find(models []types.Model, id string) (types.Model, bool) {
	for _, m := range models {
		if m.ID == id || m.Name == id {
			return m, true
		}
	}
	return types.Model{}, false
}
