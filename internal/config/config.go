// Package config collects the service settings from the environment.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/asklokesh/next-portal/catalog/internal/util"
)

type StoreBackend string

const (
	StoreMemory   StoreBackend = "memory"
	StorePostgres StoreBackend = "postgres"
	StoreNeo4j    StoreBackend = "neo4j"
)

type Neo4j struct {
	URI      string
	User     string
	Password string
	Database string
}

type RabbitMQ struct {
	User     string
	Password string
	Host     string
	Port     string
	Exchange string
}

// URL returns the AMQP connection URL, or "" when no host is configured.
func (r RabbitMQ) URL() string {
	if r.Host == "" {
		return ""
	}
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", r.User, r.Password, r.Host, r.Port)
}

type S3 struct {
	Region         string
	Endpoint       string
	AccessKey      string
	SecretKey      string
	Bucket         string
	ManifestPrefix string
}

type Inference struct {
	Interval            time.Duration
	ConfidenceThreshold float64
	AutoUpdate          bool
	EvidenceRetention   time.Duration
	ParallelDetectors   int
}

type Search struct {
	CacheEnabled    bool
	CacheTTL        time.Duration
	CacheSize       int
	MaxDepth        int
	StrategyTimeout time.Duration
}

type Config struct {
	Debug     bool
	LogFormat string
	Port      string

	Store       StoreBackend
	DatabaseURL string
	Neo4j       Neo4j
	RabbitMQ    RabbitMQ
	S3          S3

	Inference Inference
	Search    Search
}

// Load reads the configuration from the process environment. Call
// util.LoadEnv first to pick up a .env file.
func Load() (Config, error) {
	c := Config{
		Debug:       util.GetEnvBool("DEBUG", false),
		LogFormat:   strings.ToLower(util.GetEnvString("LOG_FORMAT", "text")),
		Port:        util.GetEnvString("PORT", "8080"),
		Store:       StoreBackend(strings.ToLower(util.GetEnvString("STORE_BACKEND", string(StoreMemory)))),
		DatabaseURL: util.GetEnv("DATABASE_URL"),
		Neo4j: Neo4j{
			URI:      util.GetEnv("NEO4J_URI"),
			User:     util.GetEnvString("NEO4J_USER", "neo4j"),
			Password: util.GetEnv("NEO4J_PASSWORD"),
			Database: util.GetEnv("NEO4J_DATABASE"),
		},
		RabbitMQ: RabbitMQ{
			User:     util.GetEnv("RABBITMQ_USER"),
			Password: util.GetEnv("RABBITMQ_PASSWORD"),
			Host:     util.GetEnv("RABBITMQ_HOST"),
			Port:     util.GetEnvString("RABBITMQ_PORT", "5672"),
			Exchange: util.GetEnvString("RABBITMQ_EXCHANGE", "catalog"),
		},
		S3: S3{
			Region:         util.GetEnv("AWS_REGION"),
			Endpoint:       util.GetEnv("AWS_ENDPOINT"),
			AccessKey:      util.GetEnv("AWS_ACCESS_KEY"),
			SecretKey:      util.GetEnv("AWS_SECRET_KEY"),
			Bucket:         util.GetEnv("AWS_BUCKET"),
			ManifestPrefix: util.GetEnvString("MANIFEST_PREFIX", "manifests/"),
		},
		Inference: Inference{
			Interval:            util.GetEnvDuration("INFERENCE_INTERVAL", 15*time.Minute),
			ConfidenceThreshold: util.GetEnvNumeric("INFERENCE_CONFIDENCE_THRESHOLD", 60),
			AutoUpdate:          util.GetEnvBool("INFERENCE_AUTO_UPDATE", true),
			EvidenceRetention:   util.GetEnvDuration("INFERENCE_EVIDENCE_RETENTION", 720*time.Hour),
			ParallelDetectors:   util.GetEnvInt("INFERENCE_PARALLEL_DETECTORS", 5),
		},
		Search: Search{
			CacheEnabled:    util.GetEnvBool("SEARCH_CACHE_ENABLED", true),
			CacheTTL:        util.GetEnvDuration("SEARCH_CACHE_TTL", 5*time.Minute),
			CacheSize:       util.GetEnvInt("SEARCH_CACHE_SIZE", 1000),
			MaxDepth:        util.GetEnvInt("SEARCH_MAX_DEPTH", 2),
			StrategyTimeout: util.GetEnvDuration("SEARCH_STRATEGY_TIMEOUT", 5*time.Second),
		},
	}
	return c, c.Validate()
}

// Validate checks that the selected backends are configured.
func (c Config) Validate() error {
	switch c.Store {
	case StoreMemory:
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("config: STORE_BACKEND=postgres requires DATABASE_URL")
		}
	case StoreNeo4j:
		if c.Neo4j.URI == "" {
			return fmt.Errorf("config: STORE_BACKEND=neo4j requires NEO4J_URI")
		}
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.Store)
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		return fmt.Errorf("config: unknown LOG_FORMAT %q", c.LogFormat)
	}
	if c.Inference.ConfidenceThreshold < 0 || c.Inference.ConfidenceThreshold > 100 {
		return fmt.Errorf("config: INFERENCE_CONFIDENCE_THRESHOLD must be within [0, 100]")
	}
	return nil
}
