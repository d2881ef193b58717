package ocr

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"
	"time"
)

type ProviderRef struct {
	Raw  string
	Name string
	Arg  string
}

// ParseProviderList reads "http|none" style lists. An optional ":arg" after
// the name overrides the provider's base URL.
func ParseProviderList(raw string) []ProviderRef {
	parts := strings.Split(raw, "|")
	out := make([]ProviderRef, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		name, arg, _ := strings.Cut(p, ":")
		out = append(out, ProviderRef{
			Raw:  p,
			Name: strings.ToLower(strings.TrimSpace(name)),
			Arg:  strings.TrimSpace(arg),
		})
	}
	if len(out) == 0 {
		out = append(out, ProviderRef{Raw: "none", Name: "none"})
	}
	return out
}

type namedLocator struct {
	ref     ProviderRef
	locator Locator
}

// Manager tries locators in order and falls through to the next one only on
// retryable failures.
type Manager struct {
	locators []namedLocator
	logger   *slog.Logger
}

func NewManager(providers, baseURL string, timeout time.Duration, logger *slog.Logger) (*Manager, error) {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{logger: logger}
	for _, ref := range ParseProviderList(providers) {
		l, err := buildLocator(ref, baseURL, timeout)
		if err != nil {
			return nil, err
		}
		m.locators = append(m.locators, namedLocator{ref: ref, locator: l})
	}
	return m, nil
}

func buildLocator(ref ProviderRef, baseURL string, timeout time.Duration) (Locator, error) {
	switch ref.Name {
	case "none", "nop":
		return NopLocator{}, nil
	case "http", "paddle":
		u := baseURL
		switch {
		case strings.Contains(ref.Arg, "://"):
			u = ref.Arg
		case ref.Arg != "":
			u = "http://" + ref.Arg
		}
		return NewHTTPLocator(u, timeout), nil
	default:
		return nil, fmt.Errorf("unsupported ocr provider: %s", ref.Name)
	}
}

func (m *Manager) Names() []string {
	out := make([]string, 0, len(m.locators))
	for _, l := range m.locators {
		out = append(out, l.ref.Name)
	}
	return out
}

func (m *Manager) Locate(ctx context.Context, img image.Image) ([]Word, error) {
	var lastErr error
	for _, l := range m.locators {
		words, err := l.locator.Locate(ctx, img)
		if err == nil {
			return words, nil
		}
		lastErr = err
		if !Retryable(err) || ctx.Err() != nil {
			return nil, fmt.Errorf("ocr provider %s: %w", l.ref.Name, err)
		}
		m.logger.Warn("ocr provider failed, trying next", "provider", l.ref.Name, "error", err)
	}
	if lastErr != nil {
		return nil, fmt.Errorf("all ocr providers failed: %w", lastErr)
	}
	return nil, nil
}
