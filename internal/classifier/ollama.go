package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

const (
	// DefaultOllamaHost is the local Ollama server.
	DefaultOllamaHost = "http://localhost:11434"

	// DefaultModel is the model used when none is configured.
	DefaultModel = "llama3.2"

	// DefaultTimeout bounds a single classification call. Local models on
	// modest hardware can take minutes on a cold start.
	DefaultTimeout = 600 * time.Second

	// DefaultNumCtx is the context window requested from the model.
	DefaultNumCtx = 4096

	// DefaultNumPredict caps the tokens generated per answer.
	DefaultNumPredict = 200
)

const systemPrompt = "You are an email classification assistant. " +
	"You decide whether an email satisfies a rule written by the " +
	"mailbox owner. Respond only with a JSON object of the form " +
	`{"match": true} or {"match": false}. Do not explain.`

// OllamaConfig configures the Ollama backend.
type OllamaConfig struct {
	// Host is the base URL of the Ollama server.
	Host string

	// Model is the model tag to run, e.g. "llama3.2" or "qwen2.5:7b".
	Model string

	// Timeout bounds each Classify call.
	Timeout time.Duration

	// NumCtx is the context window size.
	NumCtx int

	// NumPredict is the maximum number of generated tokens.
	NumPredict int

	// Temperature is the sampling temperature. Zero keeps answers
	// deterministic for a given model.
	Temperature float64
}

// DefaultOllamaConfig returns the default backend configuration.
func DefaultOllamaConfig() OllamaConfig {
	return OllamaConfig{
		Host:       DefaultOllamaHost,
		Model:      DefaultModel,
		Timeout:    DefaultTimeout,
		NumCtx:     DefaultNumCtx,
		NumPredict: DefaultNumPredict,
	}
}

// OllamaClassifier is a Gateway backed by an Ollama server's chat endpoint.
type OllamaClassifier struct {
	client *api.Client
	cfg    OllamaConfig
	log    *slog.Logger
}

// NewOllamaClassifier creates a classifier talking to cfg.Host.
func NewOllamaClassifier(cfg OllamaConfig,
	log *slog.Logger) (*OllamaClassifier, error) {

	if log == nil {
		log = slog.Default()
	}
	if cfg.Host == "" {
		cfg.Host = DefaultOllamaHost
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	base, err := url.Parse(cfg.Host)
	if err != nil {
		return nil, fmt.Errorf("parse ollama host %q: %w", cfg.Host, err)
	}
	if base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("ollama host %q must include scheme and "+
			"host", cfg.Host)
	}

	// Deadlines are carried by the request context, so the HTTP client
	// itself has no timeout. Model pulls can run far longer than a chat.
	client := api.NewClient(base, &http.Client{})

	return &OllamaClassifier{
		client: client,
		cfg:    cfg,
		log:    log.With("component", "classifier", "model", cfg.Model),
	}, nil
}

// Classify implements Gateway.
func (o *OllamaClassifier) Classify(ctx context.Context, emailText,
	promptText string) (Verdict, error) {

	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	stream := false
	req := &api.ChatRequest{
		Model: o.cfg.Model,
		Messages: []api.Message{
			{Role: "system", Content: systemPrompt},
			{
				Role:    "user",
				Content: buildPrompt(emailText, promptText),
			},
		},
		Stream: &stream,
		Format: json.RawMessage(`"json"`),
		Options: map[string]any{
			"temperature": o.cfg.Temperature,
			"num_ctx":     o.cfg.NumCtx,
			"num_predict": o.cfg.NumPredict,
		},
	}

	start := time.Now()

	var reply strings.Builder
	err := o.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		reply.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		clsErr := classifyErr(ctx, err)
		o.log.WarnContext(ctx, "Classification call failed",
			"reason", clsErr.Reason, "err", err,
			"elapsed", time.Since(start))

		return NotMatched, clsErr
	}

	verdict, err := ParseVerdict(reply.String())
	if err != nil {
		o.log.WarnContext(ctx, "Unusable model answer", "err", err)
		return NotMatched, err
	}

	o.log.DebugContext(ctx, "Classified message", "verdict", verdict,
		"elapsed", time.Since(start))

	return verdict, nil
}

// EnsureModel pulls the configured model if the server does not already
// have it. Any failure is returned to the caller, which logs it and carries
// on, since the model may be pulled by hand later.
func (o *OllamaClassifier) EnsureModel(ctx context.Context) error {
	list, err := o.client.List(ctx)
	if err != nil {
		return fmt.Errorf("list ollama models: %w", err)
	}

	names := make([]string, 0, len(list.Models))
	for _, m := range list.Models {
		names = append(names, m.Name)
	}
	if modelPresent(names, o.cfg.Model) {
		o.log.DebugContext(ctx, "Model already available")
		return nil
	}

	o.log.InfoContext(ctx, "Pulling model")

	var lastStatus string
	err = o.client.Pull(ctx, &api.PullRequest{Model: o.cfg.Model},
		func(p api.ProgressResponse) error {
			if p.Status != lastStatus {
				lastStatus = p.Status
				o.log.DebugContext(ctx, "Model pull progress",
					"status", p.Status)
			}
			return nil
		},
	)
	if err != nil {
		return fmt.Errorf("pull model %s: %w", o.cfg.Model, err)
	}

	o.log.InfoContext(ctx, "Model pulled")

	return nil
}

// modelPresent reports whether want is among the installed model names.
// A name without a tag means its "latest" tag, as it does to the server, so
// "llama3.2" matches "llama3.2:latest" but "qwen2.5:7b" does not match an
// installed "qwen2.5:14b".
func modelPresent(names []string, want string) bool {
	want = fullModelName(want)
	for _, name := range names {
		if fullModelName(name) == want {
			return true
		}
	}

	return false
}

// fullModelName adds the implicit "latest" tag to an untagged model name.
func fullModelName(name string) string {
	// A colon before the last slash belongs to a registry host and port.
	if strings.Contains(name[strings.LastIndex(name, "/")+1:], ":") {
		return name
	}

	return name + ":latest"
}

// buildPrompt renders the user message for one rule.
func buildPrompt(emailText, promptText string) string {
	var b strings.Builder
	b.WriteString("Rule: ")
	b.WriteString(strings.TrimSpace(promptText))
	b.WriteString("\n\nDoes the following email match the rule? ")
	b.WriteString(`Answer {"match": true} or {"match": false}.`)
	b.WriteString("\n\n---\n")
	b.WriteString(emailText)
	b.WriteString("\n---\n")

	return b.String()
}

// Compile-time check that OllamaClassifier satisfies Gateway.
var _ Gateway = (*OllamaClassifier)(nil)
