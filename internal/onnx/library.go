package onnx

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	onnxrt "github.com/yalue/onnxruntime_go"
)

const (
	osLinux    = "linux"
	osDarwin   = "darwin"
	osWindows  = "windows"
	libLinux   = "libonnxruntime.so"
	libDarwin  = "libonnxruntime.dylib"
	libWindows = "onnxruntime.dll"

	// LibraryEnv overrides the shared library location.
	LibraryEnv = "ONNXRUNTIME_LIB_PATH"
)

// ErrLibraryNotFound is returned when no onnxruntime shared library can be located.
var ErrLibraryNotFound = errors.New("onnxruntime library not found")

var initMu sync.Mutex

// getSystemLibraryPaths returns system library paths to try, prioritizing GPU or CPU based on useGPU.
func getSystemLibraryPaths(useGPU bool) []string {
	if useGPU {
		return []string{
			"/opt/onnxruntime/gpu/lib/libonnxruntime.so",
			"/usr/local/lib/libonnxruntime.so",
			"/usr/lib/libonnxruntime.so",
			"/opt/onnxruntime/cpu/lib/libonnxruntime.so",
		}
	}
	return []string{
		"/usr/local/lib/libonnxruntime.so",
		"/usr/lib/libonnxruntime.so",
		"/opt/onnxruntime/cpu/lib/libonnxruntime.so",
	}
}

// getLibraryName returns the appropriate library filename for the current OS.
func getLibraryName() (string, error) {
	switch runtime.GOOS {
	case osLinux:
		return libLinux, nil
	case osDarwin:
		return libDarwin, nil
	case osWindows:
		return libWindows, nil
	default:
		return "", fmt.Errorf("unsupported operating system: %s", runtime.GOOS)
	}
}

// findProjectRoot walks up from dir looking for go.mod or an onnxruntime directory.
func findProjectRoot(dir string) (string, error) {
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir, nil
		}
		if _, err := os.Stat(filepath.Join(dir, "onnxruntime")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("could not find project root")
		}
		dir = parent
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// candidateLibraryPaths lists where the library is looked for, in order.
func candidateLibraryPaths(explicit string, useGPU bool) []string {
	var paths []string
	if explicit != "" {
		return []string{explicit}
	}
	if env := os.Getenv(LibraryEnv); env != "" {
		paths = append(paths, env)
	}
	paths = append(paths, getSystemLibraryPaths(useGPU)...)

	libName, err := getLibraryName()
	if err != nil {
		return paths
	}
	cwd, err := os.Getwd()
	if err != nil {
		return paths
	}
	if root, err := findProjectRoot(cwd); err == nil {
		if useGPU {
			paths = append(paths, filepath.Join(root, "onnxruntime", "gpu", "lib", libName))
		}
		paths = append(paths, filepath.Join(root, "onnxruntime", "lib", libName))
	}
	return paths
}

// ResolveLibraryPath returns the first existing onnxruntime library. An
// explicit path is used as-is and must exist.
func ResolveLibraryPath(explicit string, useGPU bool) (string, error) {
	candidates := candidateLibraryPaths(explicit, useGPU)
	for _, p := range candidates {
		if fileExists(p) {
			return p, nil
		}
	}
	return "", fmt.Errorf("%w (tried %v)", ErrLibraryNotFound, candidates)
}

// Initialize points onnxruntime at the resolved library and initializes the
// environment once per process.
func Initialize(explicit string, useGPU bool) error {
	initMu.Lock()
	defer initMu.Unlock()
	if onnxrt.IsInitialized() {
		return nil
	}
	libPath, err := ResolveLibraryPath(explicit, useGPU)
	if err != nil {
		return err
	}
	onnxrt.SetSharedLibraryPath(libPath)
	if err := onnxrt.InitializeEnvironment(); err != nil {
		return fmt.Errorf("failed to initialize ONNX Runtime: %w", err)
	}
	return nil
}
