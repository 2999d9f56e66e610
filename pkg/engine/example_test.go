package engine_test

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/twistedbytes/genproj/pkg/engine"
)

// Example_resolve shows how candidate roots become a build command.
func Example_resolve() {
	roots := []string{
		"/ue/Engine/Source/UE5Editor.Target.cs",
		"/work/MyGame/MyGame.uproject",
	}

	res, err := engine.Resolve(roots)
	if err != nil {
		fmt.Println(err)
		return
	}
	fmt.Println("engine:", res.EngineRoot)
	fmt.Println("project:", res.ProjectDescriptor)

	cmd := engine.BuildCommandFor(res, engine.FlavorInstalled)
	fmt.Println(filepath.ToSlash(cmd.Executable))
	for _, arg := range cmd.Args {
		fmt.Println(" ", arg)
	}

	// Output:
	// engine: /ue
	// project: /work/MyGame/MyGame.uproject
	// /ue/Engine/Binaries/DotNET/UnrealBuildTool.exe
	//   -waitmutex
	//   -projectfiles
	//   -project=/work/MyGame/MyGame.uproject
	//   -game
	//   -rocket
	//   -progress
}

// Example_errorHandling demonstrates classified resolution failures.
func Example_errorHandling() {
	_, err := engine.Resolve([]string{"/work/MyGame/MyGame.uproject"})

	if errors.Is(err, engine.ErrEngineRootNotFound) {
		fmt.Println("kind:", engine.KindOf(err))
	}
	fmt.Println("busy:", engine.IsBusy(err))

	// Output:
	// kind: engine_root_not_found
	// busy: false
}

// ExampleBusyState shows that a second trigger is refused while one holds the state.
func ExampleBusyState() {
	busy := engine.NewBusyState()

	fmt.Println(busy.TryAcquire())
	fmt.Println(busy.TryAcquire())
	busy.Release()
	fmt.Println(busy.TryAcquire())

	// Output:
	// true
	// false
	// true
}

// ExampleEngineFlavor lists the build tool flag of each flavor.
func ExampleEngineFlavor() {
	for _, f := range []engine.EngineFlavor{engine.FlavorInstalled, engine.FlavorSource} {
		fmt.Println(f, f.Flag())
	}

	// Output:
	// installed -rocket
	// source -engine
}
