// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/jllopis/reasoningbank/pkg/config"
	"github.com/jllopis/reasoningbank/pkg/env"
	"github.com/jllopis/reasoningbank/pkg/errors"
	"github.com/jllopis/reasoningbank/pkg/llm"
	"github.com/jllopis/reasoningbank/pkg/memory"
	"github.com/jllopis/reasoningbank/pkg/memory/fastembed"
	"github.com/jllopis/reasoningbank/pkg/memory/ollama"
	"github.com/jllopis/reasoningbank/pkg/memory/openai"
	"github.com/jllopis/reasoningbank/pkg/memory/qdrant"
	"github.com/jllopis/reasoningbank/pkg/tasks"
	"github.com/jllopis/reasoningbank/pkg/telemetry"
)

const envRetryBackoff = 200 * time.Millisecond

func loadCatalog(cfg *config.Config) (*tasks.Catalog, error) {
	if cfg.Test.CatalogFile == "" {
		return tasks.Default(), nil
	}
	c, err := tasks.LoadCatalog(cfg.Test.CatalogFile)
	if err != nil {
		return nil, errors.New(errors.CodeConfig, "load task catalog", err).
			WithContext("path", cfg.Test.CatalogFile)
	}
	return c, nil
}

// openEnvironment starts the simulator client for the configured transport.
// The script transport serves a YAML script through an in-process MCP
// server, so both transports exercise the same client.
func openEnvironment(ctx context.Context, cfg *config.Config, catalog *tasks.Catalog, logger *slog.Logger) (*env.Env, error) {
	ec := cfg.Environment
	clientOpts := []env.ClientOption{env.WithRetry(ec.Retries, envRetryBackoff)}

	var sim env.Simulator
	switch ec.Transport {
	case "stdio":
		s, err := env.NewStdioSimulator(ctx, ec.Command, ec.Args, environList(ec.Env), clientOpts...)
		if err != nil {
			return nil, NewEnvironmentError(err, ec.Transport)
		}
		sim = s
	case "script":
		scripted, err := env.LoadScript(ec.Script)
		if err != nil {
			return nil, NewEnvironmentError(err, ec.Transport)
		}
		s, err := env.NewInProcessSimulator(ctx, scripted, clientOpts...)
		if err != nil {
			return nil, NewEnvironmentError(err, ec.Transport)
		}
		sim = s
	default:
		return nil, NewInvalidArgumentError("environment.transport", fmt.Sprintf("unknown transport %q", ec.Transport))
	}
	logger.Debug("environment connected", "transport", ec.Transport)
	return env.New(sim, env.WithCatalog(catalog), env.WithLogger(logger)), nil
}

func environList(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+v)
	}
	sort.Strings(out)
	return out
}

func newProvider(cfg *config.Config) (llm.Provider, error) {
	switch cfg.LLM.Provider {
	case "openai":
		return llm.NewOpenAI(cfg.ResolveAPIKey(), cfg.LLM.APIBaseURL, cfg.LLM.TimeoutDuration()), nil
	case "ollama":
		return llm.NewOllama(cfg.LLM.APIBaseURL, cfg.LLM.TimeoutDuration()), nil
	default:
		return nil, errors.New(errors.CodeConfig, fmt.Sprintf("unsupported llm provider %q", cfg.LLM.Provider), nil)
	}
}

func newLLMClient(cfg *config.Config, provider llm.Provider, metrics *telemetry.EvalMetrics, logger *slog.Logger) *llm.Client {
	return llm.NewClient(provider, cfg.LLM.Model,
		llm.WithDefaults(cfg.LLM.Temperature, cfg.LLM.MaxTokens),
		llm.WithEnableThinking(cfg.LLM.EnableThinking),
		llm.WithRetry(cfg.Retry.MaxRetries, cfg.Retry.Interval(), cfg.Retry.MaxInterval()),
		llm.WithRateLimit(cfg.LLM.RequestsPerSecond),
		llm.WithLogger(logger),
		llm.WithRetryHook(func(ctx context.Context, _ int, _ error) {
			metrics.RecordLLMRetry(ctx)
		}),
	)
}

// bank is the opened memory subsystem and what must be released with it.
type bank struct {
	store     *memory.Store
	retriever *memory.Retriever
	embedder  memory.Embedder
	closers   []func() error
}

func (b *bank) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		_ = b.closers[i]()
	}
}

func newEmbedder(cfg *config.Config) (memory.Embedder, func() error, error) {
	mc := cfg.Memory
	switch mc.Embedder {
	case "fastembed":
		e, err := fastembed.New(fastembed.Options{Model: mc.EmbeddingModel})
		if err != nil {
			return nil, nil, err
		}
		return e, e.Close, nil
	case "ollama":
		return ollama.NewEmbedder(mc.EmbedderBaseURL, mc.EmbeddingModel), func() error { return nil }, nil
	case "openai":
		return openai.NewEmbedder(cfg.ResolveAPIKey(), mc.EmbedderBaseURL, mc.EmbeddingModel), func() error { return nil }, nil
	default:
		return nil, nil, errors.New(errors.CodeConfig, fmt.Sprintf("unsupported embedder %q", mc.Embedder), nil)
	}
}

// openBank opens the store for cfg.Memory with its embedder, query cache
// and search index.
func openBank(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*bank, error) {
	mc := cfg.Memory
	inner, closeInner, err := newEmbedder(cfg)
	if err != nil {
		return nil, err
	}
	b := &bank{embedder: inner, closers: []func() error{closeInner}}

	if mc.QueryCacheSize > 0 {
		cached, err := memory.NewCachedEmbedder(inner, mc.QueryCacheSize)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.embedder = cached
		b.closers = append(b.closers, func() error { cached.Close(); return nil })
	}

	storeOpts := []memory.StoreOption{memory.WithStoreLogger(logger)}
	retrieverOpts := []memory.RetrieverOption{
		memory.WithTopK(mc.TopK),
		memory.WithThreshold(mc.SimilarityThreshold),
		memory.WithRetrieverLogger(logger),
	}
	switch mc.Index {
	case "", "bruteforce":
	case "qdrant":
		dim, err := b.embedder.Dimension(ctx)
		if err != nil {
			b.Close()
			return nil, errors.New(errors.CodeMemoryError, "embedding dimension", err)
		}
		idx, err := qdrant.New(ctx, mc.QdrantAddr, mc.TaskName, dim)
		if err != nil {
			b.Close()
			return nil, errors.New(errors.CodeMemoryError, "connect qdrant", err).WithContext("addr", mc.QdrantAddr)
		}
		b.closers = append(b.closers, idx.Close)
		storeOpts = append(storeOpts, memory.WithMirror(idx))
		retrieverOpts = append(retrieverOpts, memory.WithSearcher(idx))
	default:
		b.Close()
		return nil, errors.New(errors.CodeConfig, fmt.Sprintf("unsupported memory index %q", mc.Index), nil)
	}

	store, err := memory.NewStore(ctx, mc.MemoryDir, mc.TaskName, b.embedder, storeOpts...)
	if err != nil {
		b.Close()
		return nil, err
	}
	b.store = store
	b.retriever = memory.NewRetriever(store, b.embedder, retrieverOpts...)
	return b, nil
}
