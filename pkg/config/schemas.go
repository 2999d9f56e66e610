package config

import (
	"fmt"

	"cuelang.org/go/cue"
)

// configSchema constrains CUE configuration files. Definitions are closed,
// so unknown fields are reported with their position.
const configSchema = `
#Duration: =~"^([0-9]+[.]?[0-9]*(ns|us|ms|s|m|h))+$"

#Config: {
	engine?: {
		flavor?: "installed" | "source"
		dirs?: [...string]
		associations?: [string]: string
		install_ini?: string
	}

	runner?: {
		launcher?: [...string]
		timeout?:     #Duration
		wait_delay?:  #Duration
		working_dir?: string
	}

	hooks?: {
		args_script?: string
		timeout?:     #Duration
	}

	history?: {
		enabled?: bool
		path?:    string
	}

	watch?: {
		debounce?: #Duration
		ignore?: [...string]
	}

	telemetry?: {
		service_name?:    string
		service_version?: string
		logging?: {
			level?:         "trace" | "debug" | "info" | "warn" | "error" | "fatal"
			format?:        "console" | "json"
			output?:        string
			enable_caller?: bool
			time_format?:   "rfc3339" | "unix" | "unixms"
			no_color?:      bool
		}
		tracing?: {
			enabled?:        bool
			exporter?:       "otlp" | "stdout" | "none"
			endpoint?:       string
			sampling_rate?:  number & >=0 & <=1
			export_timeout?: #Duration
			headers?: [string]: string
			insecure?: bool
		}
		metrics?: {
			enabled?:        bool
			listen_address?: string
			path?:           string
			namespace?:      string
			histogram_buckets?: [...number]
		}
	}
}
`

// schemaFor compiles configSchema and returns the #Config definition.
func schemaFor(ctx *cue.Context) (cue.Value, error) {
	val := ctx.CompileString(configSchema, cue.Filename("genproj-schema.cue"))
	if err := val.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("failed to compile config schema: %w", err)
	}

	def := val.LookupPath(cue.ParsePath("#Config"))
	if err := def.Err(); err != nil {
		return cue.Value{}, fmt.Errorf("config schema has no #Config: %w", err)
	}
	return def, nil
}
