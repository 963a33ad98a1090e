package webdriver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/tebeka/selenium"
	"github.com/tebeka/selenium/chrome"

	"kite-trading-bot/internal/interfaces"
	"kite-trading-bot/internal/types"
)

// FactoryConfig configures browser session creation.
type FactoryConfig struct {
	BrowserBinary string
	Headless      bool
	MaxAttempts   int // provisioning attempts, incl. the first
}

// Factory provisions a driver (with bounded-backoff retry) and opens one
// headless browser session per login attempt.
type Factory struct {
	prov *Provisioner
	cfg  FactoryConfig
}

var _ interfaces.BrowserFactory = (*Factory)(nil)

func NewFactory(prov *Provisioner, cfg FactoryConfig) *Factory {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	return &Factory{prov: prov, cfg: cfg}
}

// NewBrowser detects the installed browser version, ensures a matching
// driver, and starts a fresh automation session.
func (f *Factory) NewBrowser(ctx context.Context) (interfaces.Browser, error) {
	version, err := DetectBrowserVersion(ctx, f.cfg.BrowserBinary)
	if err != nil {
		return nil, &ProvisioningError{Op: "detect browser version", Err: err}
	}

	var handle *types.DriverHandle
	op := func() error {
		h, err := f.prov.EnsureDriver(ctx, version)
		if err != nil {
			return err
		}
		handle = h
		return nil
	}
	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(f.cfg.MaxAttempts-1)),
		ctx,
	)
	if err := backoff.Retry(op, bo); err != nil {
		return nil, err
	}

	return newSeleniumBrowser(handle, f.cfg.BrowserBinary, f.cfg.Headless)
}

// seleniumBrowser drives one chromedriver service plus one Chrome session.
type seleniumBrowser struct {
	service *selenium.Service
	wd      selenium.WebDriver
}

var _ interfaces.Browser = (*seleniumBrowser)(nil)

func newSeleniumBrowser(h *types.DriverHandle, browserBinary string, headless bool) (*seleniumBrowser, error) {
	port, err := freePort()
	if err != nil {
		return nil, &ProvisioningError{Op: "allocate driver port", Err: err}
	}

	service, err := selenium.NewChromeDriverService(h.BinaryPath, port)
	if err != nil {
		return nil, &ProvisioningError{Op: "start driver service", Err: err}
	}

	args := []string{
		"--no-sandbox",
		"--disable-dev-shm-usage",
		"--window-size=1920,1080",
		"--user-data-dir=" + h.ProfileDir,
	}
	if headless {
		args = append(args, "--headless=new", "--disable-gpu")
	}

	chromeCaps := chrome.Capabilities{Args: args}
	if path, err := exec.LookPath(browserBinary); err == nil {
		chromeCaps.Path = path
	}

	caps := selenium.Capabilities{"browserName": "chrome"}
	caps.AddChrome(chromeCaps)

	wd, err := selenium.NewRemote(caps, fmt.Sprintf("http://localhost:%d/wd/hub", port))
	if err != nil {
		service.Stop()
		return nil, &ProvisioningError{Op: "open browser session", Err: err}
	}

	return &seleniumBrowser{service: service, wd: wd}, nil
}

func (b *seleniumBrowser) Navigate(url string) error {
	return b.wd.Get(url)
}

func (b *seleniumBrowser) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	return b.wd.WaitWithTimeout(func(wd selenium.WebDriver) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		el, err := wd.FindElement(selenium.ByCSSSelector, selector)
		if err != nil {
			return false, nil
		}
		return el.IsDisplayed()
	}, timeout)
}

func (b *seleniumBrowser) Fill(selector, value string) error {
	el, err := b.wd.FindElement(selenium.ByCSSSelector, selector)
	if err != nil {
		return err
	}
	if err := el.Clear(); err != nil {
		return err
	}
	return el.SendKeys(value)
}

func (b *seleniumBrowser) Click(selector string) error {
	el, err := b.wd.FindElement(selenium.ByCSSSelector, selector)
	if err != nil {
		return err
	}
	return el.Click()
}

func (b *seleniumBrowser) CurrentURL() (string, error) {
	return b.wd.CurrentURL()
}

func (b *seleniumBrowser) PageSource() (string, error) {
	return b.wd.PageSource()
}

func (b *seleniumBrowser) WaitURLContains(ctx context.Context, substr string, timeout time.Duration) (string, error) {
	err := b.wd.WaitWithTimeout(func(wd selenium.WebDriver) (bool, error) {
		if err := ctx.Err(); err != nil {
			return false, err
		}
		u, err := wd.CurrentURL()
		if err != nil {
			return false, nil
		}
		return strings.Contains(u, substr), nil
	}, timeout)
	if err != nil {
		return "", err
	}
	return b.wd.CurrentURL()
}

// Close quits the browser first, then the driver service. Both always run so
// neither process outlives the login attempt.
func (b *seleniumBrowser) Close() error {
	var errs []error
	if err := b.wd.Quit(); err != nil {
		errs = append(errs, err)
	}
	if err := b.service.Stop(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func freePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
