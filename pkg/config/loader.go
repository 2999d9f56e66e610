package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// FileNames are the configuration files Discover looks for, in order.
var FileNames = []string{".genproj.yaml", ".genproj.yml", ".genproj.cue"}

// Loader reads YAML and CUE configuration files.
type Loader struct {
	ctx       *cue.Context
	schema    cue.Value
	schemaErr error
	validate  *validator.Validate
}

// NewLoader creates a new loader.
func NewLoader() *Loader {
	v := validator.New()
	// Report fields by their file names, not their Go names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	ctx := cuecontext.New()
	schema, err := schemaFor(ctx)

	return &Loader{
		ctx:       ctx,
		schema:    schema,
		schemaErr: err,
		validate:  v,
	}
}

// Discover returns the first configuration file found in dir, or "" if there is none.
func Discover(dir string) (string, error) {
	for _, name := range FileNames {
		p := filepath.Join(dir, name)
		info, err := os.Stat(p)
		if err == nil && !info.IsDir() {
			return p, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("failed to stat %s: %w", p, err)
		}
	}
	return "", nil
}

// LoadForProject loads path if set, otherwise the file discovered in
// projectDir, otherwise the defaults. It returns the file that was used.
func (l *Loader) LoadForProject(path, projectDir string) (*Config, string, error) {
	if path == "" && projectDir != "" {
		found, err := Discover(projectDir)
		if err != nil {
			return nil, "", err
		}
		path = found
	}
	cfg, err := l.Load(path)
	return cfg, path, err
}

// Load reads a configuration file on top of Default. An empty path yields
// the defaults. The file type is chosen by extension: .cue, or YAML otherwise
// (JSON is accepted as YAML).
func (l *Loader) Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, l.Validate(cfg)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	data := content
	switch strings.ToLower(filepath.Ext(path)) {
	case ".cue":
		data, err = l.cueToJSON(path, content)
		if err != nil {
			return nil, err
		}
	case ".yaml", ".yml", ".json":
	default:
		return nil, fmt.Errorf("unsupported config file type: %s", path)
	}

	if err := decodeYAML(data, cfg); err != nil {
		return nil, &LoadError{Source: path, Errors: yamlErrors(path, err)}
	}

	if err := l.Validate(cfg); err != nil {
		var le *LoadError
		if errors.As(err, &le) {
			le.Source = path
		}
		return nil, err
	}
	return cfg, nil
}

// Validate checks struct tags and telemetry settings.
func (l *Loader) Validate(cfg *Config) error {
	var verrs []ValidationError

	if err := l.validate.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("failed to validate config: %w", err)
		}
		for _, fe := range fieldErrs {
			verrs = append(verrs, ValidationError{
				Path:    fieldPath(fe.Namespace()),
				Message: describeFieldError(fe),
			})
		}
	}

	if err := cfg.Telemetry.Validate(); err != nil {
		verrs = append(verrs, ValidationError{Path: "telemetry", Message: err.Error()})
	}

	if len(verrs) > 0 {
		return &LoadError{Source: "defaults", Errors: verrs}
	}
	return nil
}

// cueToJSON evaluates a CUE file and exports it as JSON.
func (l *Loader) cueToJSON(path string, content []byte) ([]byte, error) {
	val := l.ctx.CompileBytes(content, cue.Filename(path))
	if err := val.Err(); err != nil {
		return nil, &LoadError{Source: path, Errors: convertCUEErrors(err)}
	}
	if l.schemaErr != nil {
		return nil, l.schemaErr
	}

	val = l.schema.Unify(val)
	if err := val.Validate(cue.Concrete(true)); err != nil {
		return nil, &LoadError{Source: path, Errors: convertCUEErrors(err)}
	}

	data, err := val.MarshalJSON()
	if err != nil {
		return nil, &LoadError{Source: path, Errors: convertCUEErrors(err)}
	}
	return data, nil
}

func decodeYAML(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func yamlErrors(path string, err error) []ValidationError {
	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		out := make([]ValidationError, 0, len(typeErr.Errors))
		for _, msg := range typeErr.Errors {
			out = append(out, ValidationError{File: path, Message: msg})
		}
		return out
	}
	return []ValidationError{{File: path, Message: err.Error()}}
}

// convertCUEErrors converts CUE errors to ValidationError slice.
func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: cueerrors.Details(e, nil),
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	if len(out) == 0 {
		out = append(out, ValidationError{Message: err.Error()})
	}
	return out
}

// fieldPath drops the root type name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func describeFieldError(fe validator.FieldError) string {
	switch fe.Tag() {
	case "oneof":
		return fmt.Sprintf("must be one of [%s], got %q", fe.Param(), fmt.Sprint(fe.Value()))
	case "required", "required_if":
		return "is required"
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be at most %s", fe.Param())
	}
	return fmt.Sprintf("failed on the '%s' validation", fe.Tag())
}
