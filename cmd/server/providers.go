package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/phrazzld/lexigen/internal/config"
	"github.com/phrazzld/lexigen/internal/credential"
	"github.com/phrazzld/lexigen/internal/domain"
	"github.com/phrazzld/lexigen/internal/platform/gemini"
	"github.com/phrazzld/lexigen/internal/provider"
)

const defaultProviderTimeout = 30 * time.Second

// providerBuilder turns one configured provider into a live Provider.
type providerBuilder func(
	ctx context.Context,
	pc config.ProviderConfig,
	apiKey string,
	base *provider.Base,
	logger *slog.Logger,
) (provider.Provider, error)

// profileFromConfig converts the configured pricing and caps of a provider.
func profileFromConfig(pc config.ProviderConfig) domain.ProviderProfile {
	return domain.ProviderProfile{
		Name:              pc.Name,
		Kind:              provider.ProfileKind(pc.Type),
		InputRate:         pc.InputRate,
		OutputRate:        pc.OutputRate,
		CharRate:          pc.CharRate,
		DailyCap:          pc.DailyCap,
		MonthlyCap:        pc.MonthlyCap,
		DailyRequestLimit: pc.DailyRequestLimit,
		DailyTokenLimit:   pc.DailyTokenLimit,
	}
}

// resilienceFromConfig starts from the defaults and applies the provider's
// retry override.
func resilienceFromConfig(pc config.ProviderConfig) provider.ResilienceConfig {
	cfg := provider.DefaultResilienceConfig()
	if pc.MaxRetries > 0 {
		cfg.MaxRetries = pc.MaxRetries
	}
	return cfg
}

// resolveAPIKey prefers the configured key and falls back to the vault
// entry for the provider. A missing vault entry yields "".
func resolveAPIKey(ctx context.Context, pc config.ProviderConfig, vault *credential.Vault) (string, error) {
	if pc.APIKey != "" || vault == nil {
		return pc.APIKey, nil
	}
	key, err := vault.APIKey(ctx, pc.Name)
	if errors.Is(err, credential.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read API key for %s from vault: %w", pc.Name, err)
	}
	return key, nil
}

// buildProvider constructs the concrete provider for pc.Type.
func buildProvider(
	ctx context.Context,
	pc config.ProviderConfig,
	apiKey string,
	base *provider.Base,
	logger *slog.Logger,
) (provider.Provider, error) {
	timeout := defaultProviderTimeout
	if pc.TimeoutSeconds > 0 {
		timeout = time.Duration(pc.TimeoutSeconds) * time.Second
	}
	client := &http.Client{Timeout: timeout}

	switch pc.Type {
	case "gemini":
		return gemini.New(ctx, base, apiKey, pc.Model, logger)
	case "openai":
		headers := map[string]string{}
		if apiKey != "" {
			headers["Authorization"] = "Bearer " + apiKey
		}
		return provider.NewOpenAICompatible(base,
			provider.NewHTTPTransport(pc.Name, client, headers), pc.Endpoint, pc.Model)
	case "chartranslate":
		headers := map[string]string{}
		if apiKey != "" {
			headers["Authorization"] = "DeepL-Auth-Key " + apiKey
		}
		return provider.NewCharTranslator(base,
			provider.NewHTTPTransport(pc.Name, client, headers), pc.Endpoint)
	default:
		return nil, fmt.Errorf("unknown provider type %q for %s", pc.Type, pc.Name)
	}
}
