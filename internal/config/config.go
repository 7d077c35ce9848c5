package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Ledger   LedgerConfig   `json:"ledger"`
	Registry RegistryConfig `json:"registry"`
	Storage  StorageConfig  `json:"storage"`
	Pinning  PinningConfig  `json:"pinning"`
	Views    ViewsConfig    `json:"views"`
	Security SecurityConfig `json:"security"`
	Logging  LoggingConfig  `json:"logging"`
}

// ServerConfig represents server configuration
type ServerConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	ReadTimeout     time.Duration `json:"read_timeout"`
	WriteTimeout    time.Duration `json:"write_timeout"`
	IdleTimeout     time.Duration `json:"idle_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout"`
}

// LedgerConfig selects and configures the ledger collaborator.
type LedgerConfig struct {
	// Mode is "memory" for the in-process simulator or "rpc" for a
	// JSON-RPC ledger gateway.
	Mode              string        `json:"mode"`
	RPCURL            string        `json:"rpc_url"`
	RPCToken          string        `json:"rpc_token"`
	ProgramID         string        `json:"program_id"`
	AddressingScheme  string        `json:"addressing_scheme"`
	Salt              string        `json:"salt"`
	RejectionPolicy   string        `json:"rejection_policy"`
	RequiredApprovals int           `json:"required_approvals"`
	Fee               uint64        `json:"fee"`
	SignerKeys        []string      `json:"signer_keys"`
	Airdrop           uint64        `json:"airdrop"`
	RequestTimeout    time.Duration `json:"request_timeout"`
}

// RegistryConfig configures registry bootstrap.
type RegistryConfig struct {
	Admin    string `json:"admin"`
	Decimals uint8  `json:"decimals"`
}

// StorageConfig configures content-addressed storage.
type StorageConfig struct {
	// Provider is "pinata" or "memory".
	Provider string       `json:"provider"`
	Pinata   PinataConfig `json:"pinata"`
	S3       S3Config     `json:"s3"`
}

type PinataConfig struct {
	APIURL     string        `json:"api_url"`
	GatewayURL string        `json:"gateway_url"`
	JWT        string        `json:"jwt"`
	Timeout    time.Duration `json:"timeout"`
}

// S3Config configures the optional S3 mirror. The mirror is disabled when
// Bucket is empty.
type S3Config struct {
	Bucket          string `json:"bucket"`
	Region          string `json:"region"`
	Endpoint        string `json:"endpoint"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Prefix          string `json:"prefix"`
	UsePathStyle    bool   `json:"use_path_style"`
}

type PinningConfig struct {
	Concurrency int `json:"concurrency"`
	HistorySize int `json:"history_size"`
}

type ViewsConfig struct {
	SessionLimit int `json:"session_limit"`
	ProjectLimit int `json:"project_limit"`
}

// SecurityConfig
type SecurityConfig struct {
	JWTSecret      string        `json:"jwt_secret"`
	TokenTTL       time.Duration `json:"token_ttl"`
	AllowedOrigins []string      `json:"allowed_origins"`
}

// LoggingConfig
type LoggingConfig struct {
	Level string `json:"level"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	// A missing .env is normal outside development.
	_ = godotenv.Load()

	// Default config
	config := &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Ledger: LedgerConfig{
			Mode:              "memory",
			AddressingScheme:  "owner",
			Salt:              "v1",
			RejectionPolicy:   "terminal",
			RequiredApprovals: 1,
			Airdrop:           1_000_000_000,
		},
		Storage: StorageConfig{
			Provider: "memory",
			Pinata: PinataConfig{
				APIURL:     "https://api.pinata.cloud",
				GatewayURL: "https://gateway.pinata.cloud",
				Timeout:    60 * time.Second,
			},
			S3: S3Config{Region: "us-east-1"},
		},
		Security: SecurityConfig{TokenTTL: 24 * time.Hour},
		Logging:  LoggingConfig{Level: "info"},
	}

	// Load from file if exists
	if configPath != "" {
		if data, err := os.ReadFile(configPath); err == nil {
			if err := json.Unmarshal(data, config); err != nil {
				return nil, fmt.Errorf("failed to parse config file: %w", err)
			}
		}
	}

	// Override with environment variables
	overrideWithEnv(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func overrideWithEnv(config *Config) {
	if host := os.Getenv("SERVER_HOST"); host != "" {
		config.Server.Host = host
	}
	if port := os.Getenv("SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}

	if mode := os.Getenv("LEDGER_MODE"); mode != "" {
		config.Ledger.Mode = mode
	}
	if url := os.Getenv("LEDGER_RPC_URL"); url != "" {
		config.Ledger.RPCURL = url
	}
	if token := os.Getenv("LEDGER_RPC_TOKEN"); token != "" {
		config.Ledger.RPCToken = token
	}
	if program := os.Getenv("LEDGER_PROGRAM_ID"); program != "" {
		config.Ledger.ProgramID = program
	}
	if scheme := os.Getenv("LEDGER_ADDRESSING_SCHEME"); scheme != "" {
		config.Ledger.AddressingScheme = scheme
	}
	if salt := os.Getenv("LEDGER_SALT"); salt != "" {
		config.Ledger.Salt = salt
	}
	if policy := os.Getenv("LEDGER_REJECTION_POLICY"); policy != "" {
		config.Ledger.RejectionPolicy = policy
	}
	if keys := os.Getenv("LEDGER_SIGNER_KEYS"); keys != "" {
		config.Ledger.SignerKeys = splitList(keys)
	}

	if admin := os.Getenv("REGISTRY_ADMIN"); admin != "" {
		config.Registry.Admin = admin
	}
	if decimals := os.Getenv("REGISTRY_DECIMALS"); decimals != "" {
		if d, err := strconv.ParseUint(decimals, 10, 8); err == nil {
			config.Registry.Decimals = uint8(d)
		}
	}

	if provider := os.Getenv("STORAGE_PROVIDER"); provider != "" {
		config.Storage.Provider = provider
	}
	if jwt := os.Getenv("PINATA_JWT"); jwt != "" {
		config.Storage.Pinata.JWT = jwt
	}
	if gateway := os.Getenv("PINATA_GATEWAY_URL"); gateway != "" {
		config.Storage.Pinata.GatewayURL = gateway
	}
	if bucket := os.Getenv("S3_BUCKET"); bucket != "" {
		config.Storage.S3.Bucket = bucket
	}
	if region := os.Getenv("AWS_REGION"); region != "" {
		config.Storage.S3.Region = region
	}
	if endpoint := os.Getenv("S3_ENDPOINT"); endpoint != "" {
		config.Storage.S3.Endpoint = endpoint
	}
	if key := os.Getenv("AWS_ACCESS_KEY_ID"); key != "" {
		config.Storage.S3.AccessKeyID = key
	}
	if secret := os.Getenv("AWS_SECRET_ACCESS_KEY"); secret != "" {
		config.Storage.S3.SecretAccessKey = secret
	}

	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		config.Security.JWTSecret = secret
	}
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		config.Security.AllowedOrigins = splitList(origins)
	}
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate checks settings that cannot be defaulted.
func (c *Config) Validate() error {
	switch c.Ledger.Mode {
	case "memory":
	case "rpc":
		if c.Ledger.RPCURL == "" {
			return fmt.Errorf("ledger.rpc_url is required in rpc mode")
		}
		if c.Ledger.ProgramID == "" {
			return fmt.Errorf("ledger.program_id is required in rpc mode")
		}
	default:
		return fmt.Errorf("unknown ledger mode %q", c.Ledger.Mode)
	}
	switch c.Storage.Provider {
	case "memory":
	case "pinata":
		if c.Storage.Pinata.JWT == "" {
			return fmt.Errorf("storage.pinata.jwt is required for the pinata provider")
		}
	default:
		return fmt.Errorf("unknown storage provider %q", c.Storage.Provider)
	}
	return nil
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
