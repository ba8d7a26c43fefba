// Package config resolves lotteryd settings from flags, an optional TOML
// file, the environment (including a .env file) and defaults, in that
// order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	DefaultRPCEndpoint     = rpc.DevNet_RPC
	DefaultCommitment      = string(rpc.CommitmentConfirmed)
	DefaultListen          = ":8080"
	DefaultLogLevel        = "info"
	DefaultLogFormat       = "console"
	DefaultRefreshSchedule = "@every 30s"
	DefaultHistoryWorkers  = 4
)

type Config struct {
	RPCEndpoint     string `toml:"rpc_endpoint"`
	ProgramID       string `toml:"program_id"`
	Commitment      string `toml:"commitment"`
	Listen          string `toml:"listen"`
	LogLevel        string `toml:"log_level"`
	LogFormat       string `toml:"log_format"`
	DataDir         string `toml:"data_dir"`
	RefreshSchedule string `toml:"refresh_schedule"`
	HistoryWorkers  int    `toml:"history_workers"`
	Wallet          string `toml:"wallet"`
	// EnvFile is read before environment fallback. Missing files are
	// ignored.
	EnvFile string `toml:"-"`
}

// Load parses args (without the program name). Flags win over the TOML
// file given by -config, which wins over environment variables.
func Load(args []string) (Config, error) {
	var (
		flags      Config
		configPath string
	)

	fs := flag.NewFlagSet("lotteryd", flag.ContinueOnError)
	fs.StringVar(&configPath, "config", "", "TOML config file")
	fs.StringVar(&flags.EnvFile, "env-file", ".env", "dotenv file loaded into the environment")
	fs.StringVar(&flags.RPCEndpoint, "rpc", "", "Solana JSON-RPC endpoint (env LOTTERY_RPC)")
	fs.StringVar(&flags.ProgramID, "program", "", "lottery program id, base58 (env LOTTERY_PROGRAM_ID)")
	fs.StringVar(&flags.Commitment, "commitment", "", "read commitment: processed, confirmed or finalized")
	fs.StringVar(&flags.Listen, "listen", "", "HTTP listen address (env LOTTERY_LISTEN)")
	fs.StringVar(&flags.LogLevel, "log-level", "", "log level")
	fs.StringVar(&flags.LogFormat, "log-format", "", "log format: console or json")
	fs.StringVar(&flags.DataDir, "data-dir", "", "snapshot cache directory, empty keeps it in memory")
	fs.StringVar(&flags.RefreshSchedule, "refresh", "", "cron spec for periodic refresh, \"off\" disables it")
	fs.IntVar(&flags.HistoryWorkers, "history-workers", 0, "concurrent round fetches when building history")
	fs.StringVar(&flags.Wallet, "wallet", "", "connected wallet public key, base58 (env LOTTERY_WALLET)")

	if err := fs.Parse(args); err != nil {
		return Config{}, err
	}

	cfg := flags
	if configPath != "" {
		file, err := readFile(configPath)
		if err != nil {
			return Config{}, err
		}
		cfg = merge(flags, file)
	}

	if cfg.EnvFile != "" {
		if err := godotenv.Load(cfg.EnvFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", cfg.EnvFile, err)
		}
	}
	if err := fromEnv(&cfg); err != nil {
		return Config{}, err
	}
	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func readFile(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, nil
}

// merge fills the zero fields of primary from secondary.
func merge(primary, secondary Config) Config {
	pick := func(a, b string) string {
		if a != "" {
			return a
		}
		return b
	}
	out := primary
	out.RPCEndpoint = pick(primary.RPCEndpoint, secondary.RPCEndpoint)
	out.ProgramID = pick(primary.ProgramID, secondary.ProgramID)
	out.Commitment = pick(primary.Commitment, secondary.Commitment)
	out.Listen = pick(primary.Listen, secondary.Listen)
	out.LogLevel = pick(primary.LogLevel, secondary.LogLevel)
	out.LogFormat = pick(primary.LogFormat, secondary.LogFormat)
	out.DataDir = pick(primary.DataDir, secondary.DataDir)
	out.RefreshSchedule = pick(primary.RefreshSchedule, secondary.RefreshSchedule)
	out.Wallet = pick(primary.Wallet, secondary.Wallet)
	if out.HistoryWorkers == 0 {
		out.HistoryWorkers = secondary.HistoryWorkers
	}
	return out
}

func fromEnv(cfg *Config) error {
	env := Config{
		RPCEndpoint:     os.Getenv("LOTTERY_RPC"),
		ProgramID:       os.Getenv("LOTTERY_PROGRAM_ID"),
		Commitment:      os.Getenv("LOTTERY_COMMITMENT"),
		Listen:          os.Getenv("LOTTERY_LISTEN"),
		LogLevel:        os.Getenv("LOTTERY_LOG_LEVEL"),
		LogFormat:       os.Getenv("LOTTERY_LOG_FORMAT"),
		DataDir:         os.Getenv("LOTTERY_DATA_DIR"),
		RefreshSchedule: os.Getenv("LOTTERY_REFRESH"),
		Wallet:          os.Getenv("LOTTERY_WALLET"),
	}
	if s := os.Getenv("LOTTERY_HISTORY_WORKERS"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return errors.New("invalid LOTTERY_HISTORY_WORKERS env variable")
		}
		env.HistoryWorkers = n
	}
	*cfg = merge(*cfg, env)
	return nil
}

func applyDefaults(cfg *Config) {
	*cfg = merge(*cfg, Config{
		RPCEndpoint:     DefaultRPCEndpoint,
		Commitment:      DefaultCommitment,
		Listen:          DefaultListen,
		LogLevel:        DefaultLogLevel,
		LogFormat:       DefaultLogFormat,
		RefreshSchedule: DefaultRefreshSchedule,
		HistoryWorkers:  DefaultHistoryWorkers,
	})
}

func (c Config) Validate() error {
	if c.ProgramID == "" {
		return errors.New("program id required (use -program or LOTTERY_PROGRAM_ID env)")
	}
	if _, err := solana.PublicKeyFromBase58(c.ProgramID); err != nil {
		return fmt.Errorf("invalid program id: %w", err)
	}
	if c.Wallet != "" {
		if _, err := solana.PublicKeyFromBase58(c.Wallet); err != nil {
			return fmt.Errorf("invalid wallet: %w", err)
		}
	}
	switch rpc.CommitmentType(c.Commitment) {
	case rpc.CommitmentProcessed, rpc.CommitmentConfirmed, rpc.CommitmentFinalized:
	default:
		return fmt.Errorf("invalid commitment %q", c.Commitment)
	}
	if c.HistoryWorkers < 1 {
		return fmt.Errorf("history workers must be positive, got %d", c.HistoryWorkers)
	}
	return nil
}

func (c Config) ProgramKey() solana.PublicKey {
	return solana.MustPublicKeyFromBase58(c.ProgramID)
}

// WalletKey returns nil when no wallet is configured.
func (c Config) WalletKey() *solana.PublicKey {
	if c.Wallet == "" {
		return nil
	}
	k := solana.MustPublicKeyFromBase58(c.Wallet)
	return &k
}
