// Package config loads and validates application configuration from
// environment variables. Validation failures are fatal at startup.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// TierBoundaries are the score thresholds separating context tiers.
// Validated strong > moderate > 0, both in (0, 1].
type TierBoundaries struct {
	Strong   float64
	Moderate float64
}

// Validate checks tier ordering and range.
func (t TierBoundaries) Validate() error {
	if !(t.Strong > t.Moderate && t.Moderate > 0) {
		return fmt.Errorf("config: tier boundaries must satisfy strong > moderate > 0 (got strong=%.2f moderate=%.2f)", t.Strong, t.Moderate)
	}
	if t.Strong > 1 {
		return fmt.Errorf("config: tier strong boundary %.2f outside (0, 1]", t.Strong)
	}
	return nil
}

// AdaptiveK configures retrieval candidate counts by graph size.
type AdaptiveK struct {
	SmallThreshold  int // below this node count, use KSmall (exploration)
	MediumThreshold int // below this, use KMedium (balanced)
	KSmall          int
	KMedium         int
	KLarge          int // precision regime at or above MediumThreshold
}

// K returns the candidate count for a graph of n nodes.
func (a AdaptiveK) K(n int) int {
	switch {
	case n < a.SmallThreshold:
		return a.KSmall
	case n < a.MediumThreshold:
		return a.KMedium
	default:
		return a.KLarge
	}
}

// GraphConfig configures the decision graph memory system.
type GraphConfig struct {
	Enabled            bool
	DBPath             string
	ContextTokenBudget int
	TierBoundaries     TierBoundaries
	QueryWindow        int
	NoiseFloor         float64
	AdaptiveK          AdaptiveK
	QueryCacheSize     int
	EmbeddingCacheSize int
	QueryTTL           time.Duration
	TranscriptDir      string
}

// WorkerConfig configures the background similarity worker.
type WorkerConfig struct {
	MaxQueueSize        int
	BatchSize           int
	SimilarityThreshold float64
}

// ConvergenceConfig configures semantic convergence detection.
type ConvergenceConfig struct {
	Threshold       float64 // min self-similarity for convergence
	DivergenceFloor float64 // below this, rounds are diverging
	MinRounds       int     // rounds before convergence may stop the debate
	StableRounds    int     // consecutive stable rounds required
}

// EarlyStopConfig configures vote-driven early stopping.
type EarlyStopConfig struct {
	Enabled          bool
	Threshold        float64 // fraction of votes with continue_debate=false
	RespectMinRounds bool
}

// FileTreeConfig configures round-1 file tree injection.
type FileTreeConfig struct {
	Enabled  bool
	MaxDepth int // [1, 10]
	MaxFiles int // [10, 1000]
}

// ToolConfig configures the tool executor's security policy and the
// recent-tool-result context pruning.
type ToolConfig struct {
	ContextMaxRounds int
	OutputMaxChars   int
	ExcludePatterns  []string
	MaxFileSizeBytes int64
}

// DeliberationConfig configures the orchestrator.
type DeliberationConfig struct {
	MaxRounds            int
	OptionGroupThreshold float64
	Convergence          ConvergenceConfig
	EarlyStop            EarlyStopConfig
	FileTree             FileTreeConfig
	Tools                ToolConfig
	ResponseBudgetBytes  int
}

// EmbeddingConfig configures the embedding provider selection.
type EmbeddingConfig struct {
	Provider   string // "auto", "ollama", or "noop"
	OllamaURL  string
	Model      string
	Dimensions int
	Backend    string // similarity backend override: "auto", "embedding", "tfidf", "jaccard"
}

// Config holds all application configuration.
type Config struct {
	Graph        GraphConfig
	Worker       WorkerConfig
	Deliberation DeliberationConfig
	Embedding    EmbeddingConfig

	AdapterSpecs string // JSON tagged-union adapter definitions, see adapter.ParseSpecs

	LogLevel     string
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string
}

// Load reads configuration from environment variables with sensible
// defaults, then validates it.
func Load() (Config, error) {
	dbPath, err := expandPath(envStr("SHINGI_DB_PATH", ".shingi/decision_graph.db"))
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Graph: GraphConfig{
			Enabled:            envBool("SHINGI_GRAPH_ENABLED", true),
			DBPath:             dbPath,
			ContextTokenBudget: envInt("SHINGI_CONTEXT_TOKEN_BUDGET", 2000),
			TierBoundaries: TierBoundaries{
				Strong:   envFloat("SHINGI_TIER_STRONG", 0.75),
				Moderate: envFloat("SHINGI_TIER_MODERATE", 0.60),
			},
			QueryWindow: envInt("SHINGI_QUERY_WINDOW", 1000),
			NoiseFloor:  envFloat("SHINGI_NOISE_FLOOR", 0.40),
			AdaptiveK: AdaptiveK{
				SmallThreshold:  envInt("SHINGI_ADAPTIVE_K_SMALL_THRESHOLD", 100),
				MediumThreshold: envInt("SHINGI_ADAPTIVE_K_MEDIUM_THRESHOLD", 1000),
				KSmall:          envInt("SHINGI_ADAPTIVE_K_SMALL", 5),
				KMedium:         envInt("SHINGI_ADAPTIVE_K_MEDIUM", 3),
				KLarge:          envInt("SHINGI_ADAPTIVE_K_LARGE", 2),
			},
			QueryCacheSize:     envInt("SHINGI_QUERY_CACHE_SIZE", 256),
			EmbeddingCacheSize: envInt("SHINGI_EMBEDDING_CACHE_SIZE", 2048),
			QueryTTL:           envDuration("SHINGI_QUERY_TTL", 300*time.Second),
			TranscriptDir:      envStr("SHINGI_TRANSCRIPT_DIR", ".shingi/transcripts"),
		},
		Worker: WorkerConfig{
			MaxQueueSize:        envInt("SHINGI_WORKER_QUEUE_SIZE", 1000),
			BatchSize:           envInt("SHINGI_WORKER_BATCH_SIZE", 50),
			SimilarityThreshold: envFloat("SHINGI_WORKER_THRESHOLD", 0.5),
		},
		Deliberation: DeliberationConfig{
			MaxRounds:            envInt("SHINGI_MAX_ROUNDS", 5),
			OptionGroupThreshold: envFloat("SHINGI_OPTION_GROUP_THRESHOLD", 0.85),
			Convergence: ConvergenceConfig{
				Threshold:       envFloat("SHINGI_CONVERGENCE_THRESHOLD", 0.85),
				DivergenceFloor: envFloat("SHINGI_CONVERGENCE_DIVERGENCE_FLOOR", 0.40),
				MinRounds:       envInt("SHINGI_CONVERGENCE_MIN_ROUNDS", 2),
				StableRounds:    envInt("SHINGI_CONVERGENCE_STABLE_ROUNDS", 2),
			},
			EarlyStop: EarlyStopConfig{
				Enabled:          envBool("SHINGI_EARLY_STOP_ENABLED", true),
				Threshold:        envFloat("SHINGI_EARLY_STOP_THRESHOLD", 2.0/3.0),
				RespectMinRounds: envBool("SHINGI_EARLY_STOP_RESPECT_MIN_ROUNDS", true),
			},
			FileTree: FileTreeConfig{
				Enabled:  envBool("SHINGI_FILE_TREE_ENABLED", true),
				MaxDepth: envInt("SHINGI_FILE_TREE_MAX_DEPTH", 3),
				MaxFiles: envInt("SHINGI_FILE_TREE_MAX_FILES", 200),
			},
			Tools: ToolConfig{
				ContextMaxRounds: envInt("SHINGI_TOOL_CONTEXT_MAX_ROUNDS", 2),
				OutputMaxChars:   envInt("SHINGI_TOOL_OUTPUT_MAX_CHARS", 1000),
				ExcludePatterns:  envList("SHINGI_TOOL_EXCLUDE_PATTERNS", defaultExcludePatterns),
				MaxFileSizeBytes: int64(envInt("SHINGI_TOOL_MAX_FILE_SIZE", 1*1024*1024)),
			},
			ResponseBudgetBytes: envInt("SHINGI_RESPONSE_BUDGET_BYTES", 100*1024),
		},
		Embedding: EmbeddingConfig{
			Provider:   envStr("SHINGI_EMBEDDING_PROVIDER", "auto"),
			OllamaURL:  envStr("OLLAMA_URL", "http://localhost:11434"),
			Model:      envStr("SHINGI_EMBEDDING_MODEL", "mxbai-embed-large"),
			Dimensions: envInt("SHINGI_EMBEDDING_DIMENSIONS", 1024),
			Backend:    envStr("SHINGI_SIMILARITY_BACKEND", "auto"),
		},
		AdapterSpecs: envStr("SHINGI_ADAPTERS", ""),
		LogLevel:     envStr("SHINGI_LOG_LEVEL", "info"),
		OTELEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:  envStr("OTEL_SERVICE_NAME", "shingi"),
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var defaultExcludePatterns = []string{
	".git", "node_modules", "vendor", ".env", ".env.*",
	"*.key", "*.pem", "secrets", "__pycache__",
}

// Validate checks ranges on every bounded option.
func (c Config) Validate() error {
	if c.Graph.DBPath == "" {
		return fmt.Errorf("config: SHINGI_DB_PATH is required")
	}
	if b := c.Graph.ContextTokenBudget; b < 500 || b > 10000 {
		return fmt.Errorf("config: SHINGI_CONTEXT_TOKEN_BUDGET %d outside [500, 10000]", b)
	}
	if err := c.Graph.TierBoundaries.Validate(); err != nil {
		return err
	}
	if w := c.Graph.QueryWindow; w < 50 || w > 10000 {
		return fmt.Errorf("config: SHINGI_QUERY_WINDOW %d outside [50, 10000]", w)
	}
	if f := c.Graph.NoiseFloor; f < 0 || f >= 1 {
		return fmt.Errorf("config: SHINGI_NOISE_FLOOR %.2f outside [0, 1)", f)
	}
	ak := c.Graph.AdaptiveK
	if ak.SmallThreshold <= 0 || ak.MediumThreshold <= ak.SmallThreshold {
		return fmt.Errorf("config: adaptive-k thresholds must satisfy 0 < small < medium")
	}
	if ak.KSmall <= 0 || ak.KMedium <= 0 || ak.KLarge <= 0 {
		return fmt.Errorf("config: adaptive-k values must be positive")
	}
	if c.Graph.QueryCacheSize <= 0 || c.Graph.EmbeddingCacheSize <= 0 {
		return fmt.Errorf("config: cache sizes must be positive")
	}
	if c.Worker.MaxQueueSize <= 0 {
		return fmt.Errorf("config: SHINGI_WORKER_QUEUE_SIZE must be positive")
	}
	if c.Worker.BatchSize <= 0 {
		return fmt.Errorf("config: SHINGI_WORKER_BATCH_SIZE must be positive")
	}
	if t := c.Worker.SimilarityThreshold; t < 0 || t > 1 {
		return fmt.Errorf("config: SHINGI_WORKER_THRESHOLD %.2f outside [0, 1]", t)
	}
	if r := c.Deliberation.MaxRounds; r < 1 || r > 5 {
		return fmt.Errorf("config: SHINGI_MAX_ROUNDS %d outside [1, 5]", r)
	}
	if t := c.Deliberation.OptionGroupThreshold; t <= 0 || t > 1 {
		return fmt.Errorf("config: SHINGI_OPTION_GROUP_THRESHOLD %.2f outside (0, 1]", t)
	}
	cv := c.Deliberation.Convergence
	if cv.Threshold <= cv.DivergenceFloor {
		return fmt.Errorf("config: convergence threshold %.2f must exceed divergence floor %.2f", cv.Threshold, cv.DivergenceFloor)
	}
	if cv.MinRounds < 1 || cv.StableRounds < 1 {
		return fmt.Errorf("config: convergence min/stable rounds must be at least 1")
	}
	if t := c.Deliberation.EarlyStop.Threshold; t <= 0 || t > 1 {
		return fmt.Errorf("config: SHINGI_EARLY_STOP_THRESHOLD %.2f outside (0, 1]", t)
	}
	ft := c.Deliberation.FileTree
	if ft.MaxDepth < 1 || ft.MaxDepth > 10 {
		return fmt.Errorf("config: SHINGI_FILE_TREE_MAX_DEPTH %d outside [1, 10]", ft.MaxDepth)
	}
	if ft.MaxFiles < 10 || ft.MaxFiles > 1000 {
		return fmt.Errorf("config: SHINGI_FILE_TREE_MAX_FILES %d outside [10, 1000]", ft.MaxFiles)
	}
	tc := c.Deliberation.Tools
	if tc.ContextMaxRounds < 0 {
		return fmt.Errorf("config: SHINGI_TOOL_CONTEXT_MAX_ROUNDS must not be negative")
	}
	if tc.OutputMaxChars <= 0 {
		return fmt.Errorf("config: SHINGI_TOOL_OUTPUT_MAX_CHARS must be positive")
	}
	if tc.MaxFileSizeBytes <= 0 {
		return fmt.Errorf("config: SHINGI_TOOL_MAX_FILE_SIZE must be positive")
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("config: SHINGI_EMBEDDING_DIMENSIONS must be positive")
	}
	return nil
}

// expandPath substitutes ${VAR} references in a path and resolves relative
// paths against the working directory (the project root when launched by
// an MCP client). An unset referenced variable is a startup failure.
func expandPath(path string) (string, error) {
	var missing []string
	expanded := os.Expand(path, func(key string) string {
		v, ok := os.LookupEnv(key)
		if !ok {
			missing = append(missing, key)
		}
		return v
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("config: SHINGI_DB_PATH references unset variable(s): %s", strings.Join(missing, ", "))
	}
	if expanded == "" {
		return "", nil
	}
	if !filepath.IsAbs(expanded) {
		wd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("config: resolve working directory: %w", err)
		}
		expanded = filepath.Join(wd, expanded)
	}
	return expanded, nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func envList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return defaultVal
	}
	return out
}
