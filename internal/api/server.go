package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/shardgpt/internal/config"
	"github.com/samcharles93/shardgpt/internal/generate"
	"github.com/samcharles93/shardgpt/internal/logger"
	"github.com/samcharles93/shardgpt/internal/metrics"
	"github.com/samcharles93/shardgpt/internal/tokenizer"
	"github.com/samcharles93/shardgpt/internal/version"
)

// DefaultMaxSamples bounds nsamples per request when ServerConfig leaves
// MaxSamples at zero.
const DefaultMaxSamples = 64

type ServerConfig struct {
	Models    ModelProvider
	Tokenizer tokenizer.Tokenizer
	Defaults  config.Generate
	// MaxSamples is the largest nsamples a request may ask for.
	MaxSamples int
	Metrics    *metrics.Registry
	Logger     logger.Logger
}

type Server struct {
	models     ModelProvider
	tok        tokenizer.Tokenizer
	defaults   config.Generate
	maxSamples int
	metrics    *metrics.Registry
	log        logger.Logger
	clock      func() time.Time
}

func NewServer(cfg ServerConfig) *Server {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	maxSamples := cfg.MaxSamples
	if maxSamples <= 0 {
		maxSamples = DefaultMaxSamples
	}
	return &Server{
		models:     cfg.Models,
		tok:        cfg.Tokenizer,
		defaults:   cfg.Defaults,
		maxSamples: maxSamples,
		metrics:    cfg.Metrics,
		log:        log,
		clock:      time.Now,
	}
}

func (s *Server) Register(e *echo.Echo) {
	e.POST("/v1/generate", s.handleGenerate)
	e.GET("/healthz", s.handleHealth)
	if s.metrics != nil {
		e.GET("/metrics", s.handleMetrics)
	}
}

func (s *Server) handleHealth(c *echo.Context) error {
	info := version.Resolve()
	return writeJSON(c, http.StatusOK, Health{Status: "ok", Version: info.Version, Commit: info.Commit})
}

func (s *Server) handleMetrics(c *echo.Context) error {
	s.metrics.Handler().ServeHTTP(c.Response(), c.Request())
	return nil
}

// generation is a validated request ready to run.
type generation struct {
	model  Model
	prompt []int
	opts   generate.Options
	n      int
	seed   int64
}

func (s *Server) handleGenerate(c *echo.Context) error {
	if s.models == nil || s.tok == nil {
		return writeError(c, http.StatusInternalServerError, "server_error", "generation not configured")
	}
	started := s.clock()
	req, err := decodeJSON[GenerateRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, fmt.Sprintf("decode request: %v", err))
	}
	mode := "json"
	if req.Stream {
		mode = "stream"
	}

	ctx := c.Request().Context()
	g, err := s.prepare(ctx, req)
	if err != nil {
		s.metrics.GenerationMetrics().Observe(mode, 0, s.clock().Sub(started), err)
		switch {
		case errors.Is(err, ErrModelNotFound):
			return writeError(c, http.StatusNotFound, "not_found_error", err.Error())
		case errors.Is(err, ErrInvalidRequest), errors.Is(err, config.ErrInvalid):
			return writeBadRequest(c, err.Error())
		default:
			return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
		}
	}

	resp := GenerateResponse{
		ID:      "gen_" + uuid.NewString(),
		Object:  "generation",
		Created: started.Unix(),
		Model:   g.model.Name,
		Seed:    g.seed,
	}
	log := s.log.With("id", resp.ID, "model", resp.Model)

	var stream *SSEStreamWriter
	cfg := generate.SamplesConfig{
		Factory:  g.model.Factory,
		Seed:     g.prompt,
		N:        g.n,
		Options:  g.opts,
		Workers:  s.defaults.Workers,
		BaseSeed: g.seed,
	}
	if req.Stream {
		stream, err = NewSSEStreamWriter(c)
		if err != nil {
			return writeBadRequest(c, err.Error())
		}
		cfg.OnToken = func(sample, id int) {
			text, _ := s.tok.Decode([]int{id})
			if err := stream.Token(TokenEvent{Sample: sample, ID: id, Text: text}); err != nil {
				log.Debug("stream write failed", "error", err)
			}
		}
	}

	seqs, err := generate.Samples(ctx, cfg)
	if err == nil {
		resp.Samples, resp.Usage, err = s.render(seqs, len(g.prompt))
	}
	s.metrics.GenerationMetrics().Observe(mode, resp.Usage.CompletionTokens, s.clock().Sub(started), err)
	if err != nil {
		log.Warn("generation failed", "error", err)
		if stream != nil && stream.Started() {
			_ = stream.Failed("server_error", err)
			return nil
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return writeError(c, http.StatusInternalServerError, "server_error", err.Error())
	}
	log.Info("generated", "samples", len(resp.Samples), "tokens", resp.Usage.CompletionTokens)

	if stream != nil {
		return stream.Done(resp)
	}
	return writeJSON(c, http.StatusOK, resp)
}

func (s *Server) prepare(ctx context.Context, req GenerateRequest) (generation, error) {
	m, err := s.models.Acquire(ctx, req.Model)
	if err != nil {
		return generation{}, err
	}

	opts := s.defaults
	if req.Length != nil {
		opts.Length = *req.Length
	}
	if req.Temperature != nil {
		opts.Temperature = *req.Temperature
	}
	if req.TopK != nil {
		opts.TopK = *req.TopK
	}
	if req.TopP != nil {
		opts.TopP = *req.TopP
	}
	if req.NSamples != nil {
		if *req.NSamples > s.maxSamples {
			return generation{}, newInvalidRequest(fmt.Sprintf("nsamples must be <= %d, got %d", s.maxSamples, *req.NSamples))
		}
		opts.NSamples = *req.NSamples
	}
	if req.Seed != nil {
		opts.Seed = *req.Seed
	}
	if err := opts.Validate(m.Meta.NCtx); err != nil {
		return generation{}, err
	}
	length, err := config.ResolveLength(opts.Length, m.Meta.NCtx)
	if err != nil {
		return generation{}, err
	}

	prompt := req.Tokens
	if len(prompt) == 0 {
		if req.Prompt == "" {
			return generation{}, newInvalidRequest("prompt or tokens is required")
		}
		prompt, err = s.tok.Encode(req.Prompt)
		if err != nil {
			return generation{}, newInvalidRequest(fmt.Sprintf("encode prompt: %v", err))
		}
	}
	if m.Meta.Vocab > 0 {
		for _, id := range prompt {
			if id < 0 || id >= m.Meta.Vocab {
				return generation{}, newInvalidRequest(fmt.Sprintf("token %d outside vocabulary of %d", id, m.Meta.Vocab))
			}
		}
	}

	seed := opts.Seed
	if seed < 0 {
		seed = s.clock().UnixNano()
	}
	return generation{
		model:  m,
		prompt: prompt,
		opts: generate.Options{
			TargetLength: length,
			Temperature:  opts.Temperature,
			TopK:         opts.TopK,
			TopP:         opts.TopP,
		},
		n:    opts.NSamples,
		seed: seed,
	}, nil
}

func (s *Server) render(seqs [][]int, promptLen int) ([]Sample, Usage, error) {
	usage := Usage{PromptTokens: promptLen}
	out := make([]Sample, len(seqs))
	for i, seq := range seqs {
		text, err := s.tok.Decode(seq)
		if err != nil {
			return nil, usage, fmt.Errorf("decode sample %d: %w", i, err)
		}
		out[i] = Sample{Index: i, Text: text, Tokens: seq}
		usage.CompletionTokens += len(seq) - promptLen
	}
	return out, usage, nil
}

func decodeJSON[T any](r io.Reader) (T, error) {
	var out T
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return out, err
	}
	return out, nil
}

func writeJSON(c *echo.Context, status int, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	res := c.Response()
	res.Header().Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	res.WriteHeader(status)
	_, err = res.Write(append(data, '\n'))
	return err
}

func writeBadRequest(c *echo.Context, msg string) error {
	return writeError(c, http.StatusBadRequest, "invalid_request_error", msg)
}

func writeError(c *echo.Context, status int, errType, msg string) error {
	return writeJSON(c, status, ErrorBody{Error: ResponseError{Message: msg, Type: errType}})
}
