// Package config loads the genproj configuration file and the Starlark
// extra-arguments script.
//
// # Files
//
// Configuration is read from the file given with --config or, failing that,
// from the first of .genproj.yaml, .genproj.yml or .genproj.cue found in the
// project directory. Values are applied on top of Default, so a file only
// needs the settings it changes:
//
//	engine:
//	  flavor: source
//	  associations:
//	    "5.3": /opt/UnrealEngine-5.3
//	runner:
//	  launcher: [mono]
//	  timeout: 10m
//	hooks:
//	  args_script: genproj.star
//
// CUE files are unified with a closed #Config schema first, then exported to
// JSON and decoded like YAML. Unknown fields are errors in both formats.
// Struct tags are checked with go-playground/validator.
//
// # Errors
//
// Problems are returned as a *LoadError listing every ValidationError with
// the file position when one is known:
//
//	invalid configuration .genproj.cue: .genproj.cue:3:10: engine.flavor: 2 errors in empty disjunction
//
// # Starlark
//
// ArgsScript runs a Starlark script before each invocation and appends the
// strings it returns to the build tool command. Scripts have no filesystem or
// network access; they are cancelled when the hook timeout expires.
package config
