package main

import (
	"context"
	"fmt"

	verifygw "github.com/ferro-labs/verifygw"
	"github.com/ferro-labs/verifygw/internal/chat"
	"github.com/ferro-labs/verifygw/internal/kv"
	"github.com/ferro-labs/verifygw/internal/provider"
)

type pinger interface {
	Ping(ctx context.Context) error
}

func newKV(ctx context.Context, cfg verifygw.CacheConfig) (kv.Store, error) {
	switch cfg.Backend {
	case verifygw.CacheRedis:
		r, err := kv.NewRedis(ctx, cfg.RedisURL, cfg.KeyPrefix)
		if err != nil {
			return nil, fmt.Errorf("redis cache: %w", err)
		}
		return r, nil
	case verifygw.CacheMemcached:
		return kv.NewMemcached(cfg.OperationTimeout(), cfg.MemcachedServers...), nil
	case verifygw.CacheMemory, "":
		return kv.NewMemory(cfg.MemoryCapacity), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", cfg.Backend)
	}
}

func newProviders(cfgs []verifygw.ProviderConfig, defaultName string) (*provider.Registry, error) {
	registry := provider.NewRegistry()
	for _, pc := range cfgs {
		switch pc.Type {
		case verifygw.ProviderHTTP:
			c, err := provider.NewHTTP(provider.HTTPConfig{
				Name:             pc.Name,
				VerifyURL:        pc.VerifyURL,
				PolicyURL:        pc.PolicyURL,
				APIKey:           pc.APIKey,
				Timeout:          pc.Timeout(),
				MaxRetries:       pc.MaxRetries,
				FailureThreshold: pc.FailureThreshold,
			})
			if err != nil {
				return nil, err
			}
			registry.Register(c)
		case verifygw.ProviderStub, "":
			registry.Register(provider.NewStub(pc.Name, pc.APIKey))
		default:
			return nil, fmt.Errorf("provider %s: unknown type %q", pc.Name, pc.Type)
		}
	}
	if defaultName != "" {
		if err := registry.SetDefault(defaultName); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// newCompleter returns the LLM behind the chat classifier, or nil for the
// rule classifier.
func newCompleter(ctx context.Context, cfg verifygw.ChatConfig) (chat.Completer, error) {
	switch cfg.Classifier {
	case verifygw.ClassifierOpenAI:
		return chat.NewOpenAI(cfg.APIKey, cfg.BaseURL, cfg.Model), nil
	case verifygw.ClassifierBedrock:
		c, err := chat.NewBedrock(ctx, cfg.Region, cfg.Model)
		if err != nil {
			return nil, fmt.Errorf("bedrock classifier: %w", err)
		}
		return c, nil
	case verifygw.ClassifierRules, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown chat classifier %q", cfg.Classifier)
	}
}
