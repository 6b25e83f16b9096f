package opa

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goodtune/focusguard/internal/policy"
	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"
	"github.com/rs/zerolog"
)

// stateQuery must evaluate to one of the policy.State names.
const stateQuery = "data.focusguard.site.state"

//go:embed policies/*.rego
var builtinPolicies embed.FS

// Config selects where policies are loaded from.
type Config struct {
	// PolicyDir holds user .rego files. Empty uses the built-in policy.
	PolicyDir string
}

// Engine wraps OPA rego engine for policy evaluation
type Engine struct {
	config Config
	logger zerolog.Logger

	mu    sync.RWMutex
	query rego.PreparedEvalQuery
}

// NewEngine creates a new OPA engine
func NewEngine(config Config, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		config: config,
		logger: logger.With().Str("component", "opa").Logger(),
	}

	if err := e.Reload(); err != nil {
		return nil, err
	}

	source := config.PolicyDir
	if source == "" {
		source = "builtin"
	}
	e.logger.Info().Str("policy_source", source).Msg("OPA engine initialized")

	return e, nil
}

// loadPolicies parses every .rego file from the configured source
func (e *Engine) loadPolicies() (map[string]*ast.Module, error) {
	var fsys fs.FS = builtinPolicies
	pattern := "policies/*.rego"
	if e.config.PolicyDir != "" {
		fsys = os.DirFS(e.config.PolicyDir)
		pattern = "*.rego"
	}

	files, err := fs.Glob(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("failed to glob policy files: %w", err)
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("no policy files found in %s", e.config.PolicyDir)
	}

	modules := make(map[string]*ast.Module, len(files))
	for _, file := range files {
		content, err := fs.ReadFile(fsys, file)
		if err != nil {
			return nil, fmt.Errorf("failed to read policy file %s: %w", file, err)
		}

		name := filepath.Join(e.config.PolicyDir, file)
		module, err := ast.ParseModule(name, string(content))
		if err != nil {
			return nil, fmt.Errorf("failed to parse policy file %s: %w", name, err)
		}

		modules[name] = module
		e.logger.Debug().Str("file", name).Str("package", module.Package.Path.String()).Msg("Loaded policy module")
	}

	return modules, nil
}

// prepareQuery compiles the state query against modules
func prepareQuery(modules map[string]*ast.Module) (rego.PreparedEvalQuery, error) {
	opts := make([]func(*rego.Rego), 0, len(modules)+1)
	opts = append(opts, rego.Query(stateQuery))
	for _, module := range modules {
		opts = append(opts, rego.ParsedModule(module))
	}
	return rego.New(opts...).PrepareForEval(context.Background())
}

// Reload re-reads policies and swaps the prepared query atomically
func (e *Engine) Reload() error {
	modules, err := e.loadPolicies()
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	query, err := prepareQuery(modules)
	if err != nil {
		return fmt.Errorf("failed to prepare state query: %w", err)
	}

	e.mu.Lock()
	e.query = query
	e.mu.Unlock()

	e.logger.Debug().Int("modules", len(modules)).Msg("OPA policies loaded")
	return nil
}

// Evaluate implements policy.Evaluator
func (e *Engine) Evaluate(ctx context.Context, in policy.Input) (policy.Decision, error) {
	startTime := time.Now()

	e.mu.RLock()
	query := e.query
	e.mu.RUnlock()

	results, err := query.Eval(ctx, rego.EvalInput(buildInput(in)))
	if err != nil {
		return policy.Decision{}, fmt.Errorf("state query evaluation failed: %w", err)
	}

	e.logger.Debug().Dur("duration_ms", time.Since(startTime)).Str("domain", in.Domain).Msg("State query evaluated")

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return policy.Decision{}, fmt.Errorf("no results from state query")
	}

	raw, ok := results[0].Expressions[0].Value.(string)
	if !ok {
		return policy.Decision{}, fmt.Errorf("state is not a string: %T", results[0].Expressions[0].Value)
	}
	state, err := policy.ParseState(raw)
	if err != nil {
		return policy.Decision{}, err
	}

	return policy.NewDecision(in, state), nil
}

// buildInput gathers facts into the document the policy reads as input
func buildInput(in policy.Input) map[string]interface{} {
	input := map[string]interface{}{
		"matched":       in.Rule != nil,
		"domain":        in.Domain,
		"usage_ms":      in.Usage.Milliseconds(),
		"session_valid": in.SessionValid,
	}
	if in.Rule != nil {
		input["rule"] = map[string]interface{}{
			"domain":              in.Rule.Domain,
			"password_protected":  in.Rule.PasswordProtected(),
			"instant_protect":     in.Rule.InstantProtect,
			"daily_limit_minutes": in.Rule.DailyLimitMinutes,
		}
	}
	return input
}
