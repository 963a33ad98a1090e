// Package webdriver provisions the chromedriver binary matching the
// installed browser and opens automation sessions against it.
package webdriver

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"runtime"
	"strconv"
	"strings"
	"time"

	"kite-trading-bot/internal/api"
	"kite-trading-bot/internal/types"
)

const (
	defaultVersionEndpoint = "https://googlechromelabs.github.io/chrome-for-testing"
	defaultDownloadBase    = "https://storage.googleapis.com/chrome-for-testing-public"
)

// ProvisioningError reports a failed driver download, resolution, or
// integrity check. Retried with backoff by the browser factory.
type ProvisioningError struct {
	Op  string
	Err error
}

func (e *ProvisioningError) Error() string {
	return fmt.Sprintf("driver provisioning: %s: %v", e.Op, e.Err)
}

func (e *ProvisioningError) Unwrap() error { return e.Err }

// Provisioner resolves, downloads, and caches chromedriver builds keyed by
// the browser's major version.
type Provisioner struct {
	cacheDir        string
	versionEndpoint string
	downloadBase    string
	expectedSHA     string // optional pinned archive checksum
	platform        string
	client          *api.Client
}

func NewProvisioner(cacheDir, expectedSHA string) *Provisioner {
	return &Provisioner{
		cacheDir:        cacheDir,
		versionEndpoint: defaultVersionEndpoint,
		downloadBase:    defaultDownloadBase,
		expectedSHA:     expectedSHA,
		platform:        detectPlatform(),
		client:          api.NewClient(api.WithTimeout(2 * time.Minute)),
	}
}

// EnsureDriver returns a driver handle for the given browser version,
// downloading a matching build only when the cache has none. Idempotent: a
// second call for the same major version performs no network I/O.
func (p *Provisioner) EnsureDriver(ctx context.Context, browserVersion string) (*types.DriverHandle, error) {
	major, err := majorVersion(browserVersion)
	if err != nil {
		return nil, &ProvisioningError{Op: "parse browser version", Err: err}
	}

	dir := filepath.Join(p.cacheDir, fmt.Sprintf("chromedriver-%d", major))
	bin := filepath.Join(dir, binaryName())

	if h, ok := p.cachedHandle(dir, bin, major); ok {
		return h, nil
	}

	version, err := p.resolveVersion(ctx, major)
	if err != nil {
		return nil, &ProvisioningError{Op: "resolve driver version", Err: err}
	}

	archive, err := p.download(ctx, version)
	if err != nil {
		return nil, &ProvisioningError{Op: "download driver", Err: err}
	}

	sum := sha256Hex(archive)
	if p.expectedSHA != "" && !strings.EqualFold(sum, p.expectedSHA) {
		return nil, &ProvisioningError{Op: "verify archive", Err: fmt.Errorf("checksum mismatch: got %s", sum)}
	}

	if err := p.install(dir, bin, version, archive); err != nil {
		return nil, &ProvisioningError{Op: "install driver", Err: err}
	}

	return p.handle(dir, bin, version, major), nil
}

// cachedHandle returns the cached driver if present and unchanged since it
// was installed (recorded binary checksum still matches).
func (p *Provisioner) cachedHandle(dir, bin string, major int) (*types.DriverHandle, bool) {
	data, err := os.ReadFile(bin)
	if err != nil {
		return nil, false
	}
	recorded, err := os.ReadFile(filepath.Join(dir, "SHA256"))
	if err != nil || strings.TrimSpace(string(recorded)) != sha256Hex(data) {
		return nil, false
	}
	version, err := os.ReadFile(filepath.Join(dir, "VERSION"))
	if err != nil {
		return nil, false
	}
	return p.handle(dir, bin, strings.TrimSpace(string(version)), major), true
}

func (p *Provisioner) handle(dir, bin, version string, major int) *types.DriverHandle {
	return &types.DriverHandle{
		BinaryPath:   bin,
		Version:      version,
		BrowserMajor: major,
		ProfileDir:   filepath.Join(dir, "profile"),
	}
}

// resolveVersion asks the Chrome-for-Testing endpoint for the newest driver
// build matching the browser's major version.
func (p *Provisioner) resolveVersion(ctx context.Context, major int) (string, error) {
	url := fmt.Sprintf("%s/LATEST_RELEASE_%d", p.versionEndpoint, major)
	resp, err := p.client.GET(ctx, url)
	if err != nil {
		return "", err
	}
	version := strings.TrimSpace(resp.String())
	if version == "" {
		return "", fmt.Errorf("no driver build published for major version %d", major)
	}
	return version, nil
}

func (p *Provisioner) download(ctx context.Context, version string) ([]byte, error) {
	url := fmt.Sprintf("%s/%s/%s/chromedriver-%s.zip", p.downloadBase, version, p.platform, p.platform)
	resp, err := p.client.GET(ctx, url)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

// install unzips the driver binary into the cache dir and records its
// version and checksum for later cache validation.
func (p *Provisioner) install(dir, bin, version string, archive []byte) error {
	zr, err := zip.NewReader(bytes.NewReader(archive), int64(len(archive)))
	if err != nil {
		return err
	}

	var member *zip.File
	for _, f := range zr.File {
		if filepath.Base(f.Name) == binaryName() && !f.FileInfo().IsDir() {
			member = f
			break
		}
	}
	if member == nil {
		return fmt.Errorf("archive has no %s member", binaryName())
	}

	rc, err := member.Open()
	if err != nil {
		return err
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Join(dir, "profile"), 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(bin, data, 0o755); err != nil {
		return err
	}
	if err := os.WriteFile(filepath.Join(dir, "VERSION"), []byte(version+"\n"), 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "SHA256"), []byte(sha256Hex(data)+"\n"), 0o644)
}

var browserVersionRe = regexp.MustCompile(`\d+(\.\d+)*`)

// DetectBrowserVersion runs the browser binary with --version and parses the
// version string out of its output.
func DetectBrowserVersion(ctx context.Context, binary string) (string, error) {
	out, err := exec.CommandContext(ctx, binary, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("run %s --version: %w", binary, err)
	}
	v := browserVersionRe.FindString(string(out))
	if v == "" {
		return "", fmt.Errorf("no version in %q", strings.TrimSpace(string(out)))
	}
	return v, nil
}

func majorVersion(version string) (int, error) {
	head, _, _ := strings.Cut(version, ".")
	n, err := strconv.Atoi(head)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("malformed browser version %q", version)
	}
	return n, nil
}

func binaryName() string {
	if runtime.GOOS == "windows" {
		return "chromedriver.exe"
	}
	return "chromedriver"
}

func detectPlatform() string {
	switch runtime.GOOS {
	case "darwin":
		if runtime.GOARCH == "arm64" {
			return "mac-arm64"
		}
		return "mac-x64"
	case "windows":
		return "win64"
	default:
		return "linux64"
	}
}

func sha256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
