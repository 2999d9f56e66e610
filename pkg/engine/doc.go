// Package engine provides the project file generator for Unreal Engine checkouts.
//
// # Overview
//
// The generator performs one linear procedure per invocation:
//
//  1. Resolve - find the engine root and the .uproject descriptor among candidate roots
//  2. Build - construct the UnrealBuildTool command line
//  3. Spawn - start the build tool without a shell
//  4. Drain - stream stdout to the info channel and stderr to the error channel
//  5. Report - refresh the host on exit code 0, show an error dialog otherwise
//
// # Collaborators
//
// The generator depends only on narrow interfaces supplied by the host:
//
//   - ProjectModelProvider: reports the modules and their content roots
//   - ProcessRunner: spawns a BuildCommand and streams its output lines
//   - Notifier: log channels, error dialog and refresh notification
//   - Recorder: optional sink for finished invocations
//
// # Busy State
//
// A BusyState is owned by the caller and shared with the generator. It is held for
// exactly one invocation; a trigger that arrives while it is held is refused with
// ErrBusy and has no other effect.
//
// # Error Classification
//
// Every failure is returned as a *GenerationError carrying an ErrorKind. Use
// errors.Is with the exported sentinels, or the IsKind helper:
//
//	if errors.Is(err, engine.ErrEngineRootNotFound) {
//	    // no candidate root contained Engine/Source/UE{4,5}Editor.Target.cs
//	}
//
// No operation is retried.
package engine
