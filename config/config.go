package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/gagliardetto/solana-go"

	"megaluck/crypto"
)

type Config struct {
	RPCAddress            string       `toml:"RPCAddress"`
	RPCReadTimeout        int          `toml:"RPCReadTimeout"`
	RPCWriteTimeout       int          `toml:"RPCWriteTimeout"`
	HealthAddress         string       `toml:"HealthAddress"`
	DataDir               string       `toml:"DataDir"`
	AuditDB               string       `toml:"AuditDB"`
	Environment           string       `toml:"Environment"`
	LogFormat             string       `toml:"LogFormat"`
	LogFile               string       `toml:"LogFile"`
	LogMaxSizeMB          int          `toml:"LogMaxSizeMB"`
	LogMaxBackups         int          `toml:"LogMaxBackups"`
	AdminIdentity         string       `toml:"AdminIdentity"`
	AdminTokenEnv         string       `toml:"AdminTokenEnv"`
	AdminJWTSecretEnv     string       `toml:"AdminJWTSecretEnv"`
	AdminJWTIssuer        string       `toml:"AdminJWTIssuer"`
	AuthorityKeystorePath string       `toml:"AuthorityKeystorePath"`
	AuthorityPassEnv      string       `toml:"AuthorityPassEnv"`
	Asset                 string       `toml:"Asset"`
	FeeAmount             uint64       `toml:"FeeAmount"`
	GenesisPool           uint64       `toml:"GenesisPool"`
	Pauses                Pauses       `toml:"pauses"`
	RateLimit             RateLimit    `toml:"rate_limit"`
	Telemetry             Telemetry    `toml:"telemetry"`
	Allocations           []Allocation `toml:"allocations"`
}

const (
	DefaultRPCAddress       = "127.0.0.1:8547"
	DefaultDataDir          = "./megaluck-data"
	DefaultAdminTokenEnv    = "MEGALUCK_ADMIN_TOKEN"
	DefaultAdminJWTEnv      = "MEGALUCK_ADMIN_JWT_SECRET"
	DefaultAuthorityPassEnv = "MEGALUCK_AUTHORITY_PASSPHRASE"
	defaultRPCTimeout       = 15
	defaultLogMaxSizeMB     = 100
	defaultLogMaxBackups    = 5
)

// keystoreScrypt is overridden by tests to keep key derivation cheap.
var keystoreScrypt = crypto.StandardScrypt

// Load loads the configuration from the given path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, key := range undecoded {
			keys = append(keys, key.String())
		}
		return nil, fmt.Errorf("config file %s has unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if err := ensureKeystore(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = DefaultRPCAddress
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = DefaultDataDir
	}
	if strings.TrimSpace(c.AuditDB) == "" {
		c.AuditDB = filepath.Join(c.DataDir, "audit.db")
	}
	if strings.TrimSpace(c.AdminTokenEnv) == "" {
		c.AdminTokenEnv = DefaultAdminTokenEnv
	}
	if strings.TrimSpace(c.AdminJWTSecretEnv) == "" {
		c.AdminJWTSecretEnv = DefaultAdminJWTEnv
	}
	if strings.TrimSpace(c.AuthorityPassEnv) == "" {
		c.AuthorityPassEnv = DefaultAuthorityPassEnv
	}
	if c.LogMaxSizeMB == 0 {
		c.LogMaxSizeMB = defaultLogMaxSizeMB
	}
	if c.LogMaxBackups == 0 {
		c.LogMaxBackups = defaultLogMaxBackups
	}
	if c.RPCReadTimeout <= 0 {
		c.RPCReadTimeout = defaultRPCTimeout
	}
	if c.RPCWriteTimeout <= 0 {
		c.RPCWriteTimeout = defaultRPCTimeout
	}
	if c.RateLimit.RequestsPerMinute == 0 {
		c.RateLimit.RequestsPerMinute = 600
	}
	if c.RateLimit.Burst == 0 {
		c.RateLimit.Burst = 50
	}
	if c.Allocations == nil {
		c.Allocations = []Allocation{}
	}
}

// AuthorityPassphrase reads the keystore passphrase from the configured environment variable.
func (c *Config) AuthorityPassphrase() string {
	return os.Getenv(c.AuthorityPassEnv)
}

// AdminToken reads the RPC bearer token for administrative methods.
func (c *Config) AdminToken() string {
	return strings.TrimSpace(os.Getenv(c.AdminTokenEnv))
}

// AdminJWTSecret reads the HMAC secret for admin JWTs. Empty disables JWT auth.
func (c *Config) AdminJWTSecret() string {
	return strings.TrimSpace(os.Getenv(c.AdminJWTSecretEnv))
}

func ensureKeystore(configPath string, cfg *Config) error {
	keystorePath := cfg.AuthorityKeystorePath
	if keystorePath == "" {
		keystorePath = defaultKeystorePath(configPath)
	}

	if _, err := os.Stat(keystorePath); os.IsNotExist(err) {
		key, genErr := crypto.GenerateAuthorityKey()
		if genErr != nil {
			return genErr
		}
		passEnv := cfg.AuthorityPassEnv
		if passEnv == "" {
			passEnv = DefaultAuthorityPassEnv
		}
		if err := crypto.SaveToKeystoreWithParams(keystorePath, key, os.Getenv(passEnv), keystoreScrypt); err != nil {
			return err
		}
	} else if err != nil {
		return err
	}

	if cfg.AuthorityKeystorePath != keystorePath {
		cfg.AuthorityKeystorePath = keystorePath
		return persist(configPath, cfg)
	}

	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	key, err := crypto.GenerateAuthorityKey()
	if err != nil {
		return nil, err
	}

	keystorePath := defaultKeystorePath(path)
	if err := crypto.SaveToKeystoreWithParams(keystorePath, key, os.Getenv(DefaultAuthorityPassEnv), keystoreScrypt); err != nil {
		return nil, err
	}

	cfg := &Config{
		RPCAddress:       DefaultRPCAddress,
		DataDir:          DefaultDataDir,
		Environment:      "local",
		AdminTokenEnv:    DefaultAdminTokenEnv,
		AuthorityPassEnv: DefaultAuthorityPassEnv,
		Asset:            solana.NewWallet().PublicKey().String(),
		Allocations:      []Allocation{},
	}
	cfg.AuthorityKeystorePath = keystorePath

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func defaultKeystorePath(configPath string) string {
	dir := filepath.Dir(configPath)
	if dir == "." || dir == "" {
		dir = ""
	}
	return filepath.Join(dir, "authority.keystore")
}
