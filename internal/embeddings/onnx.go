//go:build cgo

package embeddings

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime"
	"strings"
)

// onnxRuntimeVersion must track the onnxruntime_go version pulled in
// through fastembed-go. Bump them together.
const onnxRuntimeVersion = "1.23.0"

// ErrUnsupportedPlatform means no ONNX runtime build exists for this
// OS/arch combination.
var ErrUnsupportedPlatform = errors.New("unsupported platform")

func runtimeArchive(goos, goarch string) (string, error) {
	switch goos + "/" + goarch {
	case "linux/amd64":
		return "linux-x64", nil
	case "linux/arm64":
		return "linux-aarch64", nil
	case "darwin/amd64":
		return "osx-x86_64", nil
	case "darwin/arm64":
		return "osx-arm64", nil
	}
	return "", fmt.Errorf("%w: %s/%s", ErrUnsupportedPlatform, goos, goarch)
}

func runtimeLibrary(goos string) string {
	if goos == "darwin" {
		return "libonnxruntime.dylib"
	}
	return "libonnxruntime.so"
}

func runtimeInstallDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		home = "."
	}
	return filepath.Join(home, ".config", "forged", "lib")
}

// locateRuntime returns the shared library path, or "" when none is
// installed. An explicit ONNX_PATH wins over the managed install.
func locateRuntime() string {
	if p := os.Getenv("ONNX_PATH"); p != "" {
		return p
	}
	p := filepath.Join(runtimeInstallDir(), runtimeLibrary(runtime.GOOS))
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return ""
}

func releaseURL(version, archive string) string {
	return fmt.Sprintf(
		"https://github.com/microsoft/onnxruntime/releases/download/v%s/onnxruntime-%s-%s.tgz",
		version, archive, version)
}

func fetchRuntime(ctx context.Context, version, dir string) error {
	archive, err := runtimeArchive(runtime.GOOS, runtime.GOARCH)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating install dir: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, releaseURL(version, archive), nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetching ONNX runtime: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("fetching ONNX runtime: status %d", resp.StatusCode)
	}

	if err := unpackRuntime(resp.Body, dir, version, archive); err != nil {
		return fmt.Errorf("unpacking ONNX runtime: %w", err)
	}
	return nil
}

// unpackRuntime copies everything under lib/ in the release tarball
// into dir. The main shared object ships alongside versioned symlinks
// and both are needed for dlopen to resolve.
func unpackRuntime(r io.Reader, dir, version, archive string) error {
	gzr, err := gzip.NewReader(r)
	if err != nil {
		return fmt.Errorf("reading gzip: %w", err)
	}
	defer gzr.Close()

	libPrefix := fmt.Sprintf("onnxruntime-%s-%s/lib/", archive, version)
	wantLib := runtimeLibrary(runtime.GOOS)
	found := false

	tr := tar.NewReader(gzr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}

		name := strings.TrimPrefix(hdr.Name, "./")
		if !strings.HasPrefix(name, libPrefix) {
			continue
		}
		base := filepath.Base(name)
		dest := filepath.Join(dir, base)

		switch hdr.Typeflag {
		case tar.TypeSymlink:
			os.Remove(dest)
			if err := os.Symlink(hdr.Linkname, dest); err != nil {
				// A dangling or unsupported symlink is fine as long
				// as a regular copy of the library lands too.
				continue
			}
		case tar.TypeReg:
			f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
			if err != nil {
				return fmt.Errorf("creating %s: %w", base, err)
			}
			_, err = io.Copy(f, tr)
			f.Close()
			if err != nil {
				return fmt.Errorf("writing %s: %w", base, err)
			}
		default:
			continue
		}

		if base == wantLib || strings.HasPrefix(base, wantLib+".") {
			found = true
		}
	}

	if !found {
		return fmt.Errorf("%s missing from archive", wantLib)
	}
	return nil
}

// ensureONNXRuntime makes the ONNX shared library available,
// downloading the pinned release on first use, and exports ONNX_PATH
// so fastembed can load it.
func ensureONNXRuntime(ctx context.Context) (string, error) {
	if p := locateRuntime(); p != "" {
		return p, os.Setenv("ONNX_PATH", p)
	}

	if err := fetchRuntime(ctx, onnxRuntimeVersion, runtimeInstallDir()); err != nil {
		return "", fmt.Errorf("installing ONNX runtime (set ONNX_PATH to skip): %w", err)
	}
	p := locateRuntime()
	if p == "" {
		return "", errors.New("ONNX runtime installed but library not found")
	}
	return p, os.Setenv("ONNX_PATH", p)
}
