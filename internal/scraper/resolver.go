package scraper

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/jgoulah/airquality/internal/config"
)

// ErrResolutionFailed is returned when the selector workflow does not yield
// a download link.
var ErrResolutionFailed = errors.New("download link resolution failed")

// Resolver obtains the current one-time download URL of the dataset
type Resolver interface {
	Resolve(ctx context.Context) (string, error)
}

// ChromeResolver drives the data selector wizard in a headless browser
type ChromeResolver struct {
	logger       *slog.Logger
	browser      BrowserOptions
	baseURL      string
	linkSelector string
	steps        []config.Step
	stepTimeout  time.Duration

	newBrowser func(context.Context, BrowserOptions) (context.Context, context.CancelFunc, error)
	run        func(context.Context, ...chromedp.Action) error
}

// NewChromeResolver creates a resolver from the source and browser config
func NewChromeResolver(logger *slog.Logger, cfg *config.Config) *ChromeResolver {
	return &ChromeResolver{
		logger: logger,
		browser: BrowserOptions{
			RemoteURL: cfg.Browser.RemoteURL,
			Visible:   cfg.Browser.Visible,
		},
		baseURL:      cfg.GetBaseURL(),
		linkSelector: cfg.GetLinkSelector(),
		steps:        cfg.GetSteps(),
		stepTimeout:  cfg.GetStepTimeout(),
		newBrowser:   NewBrowser,
		run:          chromedp.Run,
	}
}

// Resolve opens one browser session, walks the wizard and returns the export
// link joined to the base URL. The session is closed on every path.
func (r *ChromeResolver) Resolve(ctx context.Context) (string, error) {
	browserCtx, cancel, err := r.newBrowser(ctx, r.browser)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}
	defer cancel()

	if err := r.Walk(browserCtx); err != nil {
		return "", err
	}

	var (
		href string
		ok   bool
	)
	if err := r.runStep(browserCtx, "reading export link",
		chromedp.AttributeValue(r.linkSelector, "href", &href, &ok, chromedp.ByQuery),
	); err != nil {
		return "", err
	}
	if !ok || strings.TrimSpace(href) == "" {
		return "", fmt.Errorf("%w: export link has no href", ErrResolutionFailed)
	}

	link, err := JoinLink(r.baseURL, href)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrResolutionFailed, err)
	}
	r.logger.Debug("resolved download link", "url", link)
	return link, nil
}

// Walk navigates to the base URL and performs every configured step on an
// already started browser context. Each step is bounded by the step timeout.
func (r *ChromeResolver) Walk(browserCtx context.Context) error {
	if err := r.runStep(browserCtx, "navigating to data selector", chromedp.Navigate(r.baseURL)); err != nil {
		return err
	}
	for i, step := range r.steps {
		action, err := StepAction(step)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrResolutionFailed, err)
		}
		if err := r.runStep(browserCtx, fmt.Sprintf("step %d (%s %s)", i, step.Action, step.Selector), action); err != nil {
			return err
		}
	}
	return nil
}

func (r *ChromeResolver) runStep(browserCtx context.Context, desc string, action chromedp.Action) error {
	stepCtx, cancel := context.WithTimeout(browserCtx, r.stepTimeout)
	defer cancel()

	if err := r.run(stepCtx, action); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrResolutionFailed, desc, err)
	}
	return nil
}

// StepAction compiles a configured wizard step into a chromedp action
func StepAction(step config.Step) (chromedp.Action, error) {
	switch step.Action {
	case "wait":
		return chromedp.WaitVisible(step.Selector, chromedp.ByQuery), nil
	case "click":
		return chromedp.Click(step.Selector, chromedp.ByQuery), nil
	case "select":
		// Option elements have no box model, so choose them through the DOM
		// and let the form see a change event.
		sel, err := json.Marshal(step.Selector)
		if err != nil {
			return nil, err
		}
		var picked bool
		return chromedp.Tasks{
			chromedp.WaitReady(step.Selector, chromedp.ByQuery),
			chromedp.Evaluate(fmt.Sprintf(selectOptionJS, sel), &picked),
			chromedp.ActionFunc(func(context.Context) error {
				if !picked {
					return fmt.Errorf("option %s not selectable", step.Selector)
				}
				return nil
			}),
		}, nil
	default:
		return nil, fmt.Errorf("unknown step action %q", step.Action)
	}
}

const selectOptionJS = `(function() {
	const opt = document.querySelector(%s);
	if (!opt || !opt.parentElement) return false;
	opt.selected = true;
	opt.parentElement.dispatchEvent(new Event('change', {bubbles: true}));
	return true;
})()`

// JoinLink resolves an export href against the data selector URL
func JoinLink(base, href string) (string, error) {
	baseURL, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parsing base URL: %w", err)
	}
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return "", fmt.Errorf("parsing export link %q: %w", href, err)
	}
	return baseURL.ResolveReference(ref).String(), nil
}
