package engine

import (
	"path/filepath"
	"regexp"
	"strings"
)

var (
	reEngineRoot = regexp.MustCompile(`^(.+)/Engine/Source/UE[45]Editor\.Target\.cs$`)
	reUProject   = regexp.MustCompile(`^(.+\.uproject)$`)
)

// MatchEngineRoot returns the engine root prefix if path is an engine editor
// target file. Backslashes are read as separators on every platform, and the
// prefix is returned in slash form.
func MatchEngineRoot(path string) (string, bool) {
	m := reEngineRoot.FindStringSubmatch(strings.ReplaceAll(path, `\`, "/"))
	if len(m) < 2 {
		return "", false
	}
	return m[1], true
}

// MatchProjectDescriptor reports whether path names a .uproject file.
func MatchProjectDescriptor(path string) bool {
	return reUProject.MatchString(path)
}

// FindEngineRoot scans roots in order and returns the prefix of the first match.
func FindEngineRoot(roots []string) (string, bool) {
	for _, root := range roots {
		if root == "" {
			continue
		}
		if prefix, ok := MatchEngineRoot(root); ok {
			return prefix, true
		}
	}
	return "", false
}

// FindProjectDescriptor scans roots in order and returns the first .uproject path.
func FindProjectDescriptor(roots []string) (string, bool) {
	for _, root := range roots {
		if root != "" && MatchProjectDescriptor(root) {
			return root, true
		}
	}
	return "", false
}

// Resolve finds the engine root and project descriptor among roots.
// The two scans are independent; each uses first-match-wins.
func Resolve(roots []string) (Resolution, error) {
	engineRoot, engineOK := FindEngineRoot(roots)
	descriptor, descriptorOK := FindProjectDescriptor(roots)

	if !engineOK {
		return Resolution{}, newError(KindEngineRootNotFound, "could not determine engine root path", nil).
			WithDetail("roots", roots)
	}
	if !descriptorOK {
		return Resolution{EngineRoot: engineRoot}, newError(KindProjectDescriptorNotFound, "could not determine uproject", nil).
			WithDetail("roots", roots)
	}

	return Resolution{EngineRoot: engineRoot, ProjectDescriptor: descriptor}, nil
}

// BuildToolPath returns the UnrealBuildTool executable below an engine root.
// The root is kept as captured; only separators are converted.
func BuildToolPath(engineRoot string) string {
	return filepath.FromSlash(engineRoot + "/Engine/Binaries/DotNET/UnrealBuildTool.exe")
}

// BuildCommandFor constructs the project file generation command for res.
// Extra arguments are appended after the fixed ones.
func BuildCommandFor(res Resolution, flavor EngineFlavor, extra ...string) BuildCommand {
	args := []string{
		"-waitmutex",
		"-projectfiles",
		"-project=" + res.ProjectDescriptor,
		"-game",
		flavor.Flag(),
		"-progress",
	}
	args = append(args, extra...)

	return BuildCommand{
		Executable: BuildToolPath(res.EngineRoot),
		Args:       args,
	}
}
