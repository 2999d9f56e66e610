package hostmodel

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/twistedbytes/genproj/pkg/engine"
	"github.com/twistedbytes/genproj/pkg/telemetry"
)

// engineTargets are checked in order for each engine candidate.
var engineTargets = []string{"UE5Editor.Target.cs", "UE4Editor.Target.cs"}

// Filesystem derives one module per project directory by scanning disk.
//
// Content roots are the editor target files of every engine candidate that
// has one, followed by the directory's .uproject files in name order.
// Engine candidates are tried in this order:
//
//  1. EngineDirs
//  2. the descriptor's EngineAssociation, when it is a path
//  3. the association looked up in Engines
//  4. the association looked up in the launcher registry at InstallIni
//  5. the project directory and its ancestors (source build layout)
type Filesystem struct {
	ProjectDirs []string
	EngineDirs  []string
	Engines     map[string]string
	InstallIni  string
	Logger      *telemetry.Logger
}

var _ engine.ProjectModelProvider = (*Filesystem)(nil)

// Modules scans every project directory.
func (f *Filesystem) Modules(ctx context.Context) ([]engine.Module, error) {
	logger := f.logger()

	installs, err := LoadInstallations(f.InstallIni)
	if err != nil {
		logger.Zerolog().Warn().Err(err).Msg("Ignoring launcher registry")
		installs = Installations{}
	}

	modules := make([]engine.Module, 0, len(f.ProjectDirs))
	for _, dir := range f.ProjectDirs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m, err := f.scan(dir, installs)
		if err != nil {
			return nil, err
		}
		logger.Zerolog().Debug().
			Str("module", m.Name).
			Strs("content_roots", m.ContentRoots).
			Msg("Scanned project directory")
		modules = append(modules, m)
	}
	return modules, nil
}

func (f *Filesystem) scan(dir string, installs Installations) (engine.Module, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return engine.Module{}, fmt.Errorf("failed to resolve %s: %w", dir, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return engine.Module{}, fmt.Errorf("failed to stat project directory: %w", err)
	}
	if !info.IsDir() {
		return engine.Module{}, fmt.Errorf("project path is not a directory: %s", abs)
	}

	descriptors, err := filepath.Glob(filepath.Join(abs, "*.uproject"))
	if err != nil {
		return engine.Module{}, fmt.Errorf("failed to list descriptors: %w", err)
	}
	sort.Strings(descriptors)

	m := engine.Module{Name: filepath.Base(abs)}
	var association string
	if len(descriptors) > 0 {
		m.ProjectFilePath = descriptors[0]
		m.Name = strings.TrimSuffix(filepath.Base(descriptors[0]), ".uproject")
		association, err = ReadEngineAssociation(descriptors[0])
		if err != nil {
			f.logger().Zerolog().Warn().Err(err).Str("descriptor", descriptors[0]).Msg("Ignoring engine association")
		}
	}

	seen := make(map[string]bool)
	for _, cand := range f.engineCandidates(abs, association, installs) {
		target, ok := findEngineTarget(cand)
		if !ok || seen[target] {
			continue
		}
		seen[target] = true
		m.ContentRoots = append(m.ContentRoots, target)
	}
	m.ContentRoots = append(m.ContentRoots, descriptors...)

	return m, nil
}

func (f *Filesystem) engineCandidates(projectDir, association string, installs Installations) []string {
	var out []string
	for _, d := range f.EngineDirs {
		if abs, err := filepath.Abs(d); err == nil {
			out = append(out, abs)
		}
	}

	if association != "" {
		if isPathAssociation(association) {
			p := filepath.FromSlash(association)
			if !filepath.IsAbs(p) {
				p = filepath.Join(projectDir, p)
			}
			out = append(out, filepath.Clean(p))
		} else {
			if d, ok := f.Engines[association]; ok {
				out = append(out, d)
			}
			if d, ok := installs.Lookup(association); ok {
				out = append(out, d)
			}
		}
	}

	for d := projectDir; ; {
		out = append(out, d)
		parent := filepath.Dir(d)
		if parent == d {
			break
		}
		d = parent
	}
	return out
}

func (f *Filesystem) logger() *telemetry.Logger {
	if f.Logger == nil {
		return telemetry.NopLogger()
	}
	return f.Logger
}

// findEngineTarget returns the editor target file of an engine directory.
// dir may be the engine root or its Engine subdirectory.
func findEngineTarget(dir string) (string, bool) {
	sourceDirs := []string{filepath.Join(dir, "Engine", "Source")}
	if filepath.Base(dir) == "Engine" {
		sourceDirs = append(sourceDirs, filepath.Join(dir, "Source"))
	}
	for _, src := range sourceDirs {
		for _, name := range engineTargets {
			p := filepath.Join(src, name)
			if info, err := os.Stat(p); err == nil && !info.IsDir() {
				return p, true
			}
		}
	}
	return "", false
}

var utf8BOM = []byte("\xef\xbb\xbf")

// uprojectDescriptor is the subset of a .uproject file read here.
type uprojectDescriptor struct {
	EngineAssociation string `json:"EngineAssociation"`
}

// ReadEngineAssociation returns the EngineAssociation of a .uproject file.
func ReadEngineAssociation(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read descriptor: %w", err)
	}
	var d uprojectDescriptor
	if err := json.Unmarshal(bytes.TrimPrefix(data, utf8BOM), &d); err != nil {
		return "", fmt.Errorf("failed to parse descriptor %s: %w", path, err)
	}
	return strings.TrimSpace(d.EngineAssociation), nil
}

func isPathAssociation(s string) bool {
	return strings.HasPrefix(s, ".") || strings.ContainsAny(s, `/\`) || filepath.IsAbs(s)
}
