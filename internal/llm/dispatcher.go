package llm

import (
	"context"
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	apperrors "github.com/BradA1878/model-exchange-framework-sub007/internal/common/errors"
	"github.com/BradA1878/model-exchange-framework-sub007/internal/common/logger"
)

// Provider is one model backend adapter. Implementations convert the
// normalized messages and tools to their wire format and normalize the
// answer back.
type Provider interface {
	Name() string
	SendMessage(ctx context.Context, messages []Message, tools []Tool, opts Options) (*Response, error)
}

// Dispatcher routes sends to provider adapters registered by name.
type Dispatcher struct {
	mu              sync.RWMutex
	providers       map[string]Provider
	defaultProvider string
	logger          *logger.Logger
}

// NewDispatcher creates an empty dispatcher.
func NewDispatcher(defaultProvider string, log *logger.Logger) *Dispatcher {
	return &Dispatcher{
		providers:       make(map[string]Provider),
		defaultProvider: defaultProvider,
		logger:          log,
	}
}

// Register adds a provider adapter. Later registrations replace earlier
// ones of the same name.
func (d *Dispatcher) Register(provider Provider) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.providers[provider.Name()] = provider
}

// Providers returns the registered provider names, sorted.
func (d *Dispatcher) Providers() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.providers))
	for name := range d.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Send dispatches to the named provider, falling back to the default when
// the name is empty. Deadline expiry surfaces as Timeout, an unknown or
// unreachable provider as ProviderUnavailable.
func (d *Dispatcher) Send(ctx context.Context, providerName string, messages []Message, tools []Tool, opts Options) (*Response, error) {
	if providerName == "" {
		providerName = d.defaultProvider
	}

	d.mu.RLock()
	provider, ok := d.providers[providerName]
	d.mu.RUnlock()
	if !ok {
		return nil, apperrors.ProviderUnavailable(providerName, errors.New("provider not registered"))
	}

	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	resp, err := provider.SendMessage(ctx, messages, tools, opts)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, apperrors.Timeout("llm dispatch to " + providerName)
		}
		d.logger.WithError(err).Warn("Provider send failed",
			zap.String("provider", providerName))
		return nil, err
	}

	d.logger.Debug("Provider send complete",
		zap.String("provider", providerName),
		zap.String("model", resp.Model),
		zap.Int("input_tokens", resp.Usage.Input),
		zap.Int("output_tokens", resp.Usage.Output))
	return resp, nil
}
