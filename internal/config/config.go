/*
Package config loads the demo daemon's settings the way every teacher
service does: an exported Config struct, a LoadConfig() reading
os.LookupEnv with hardcoded fallbacks, no flag or viper dependency.
*/
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/kindlyrobotics/mlsengine/internal/ciphersuite"
)

// Config holds every environment-tunable setting cmd/mlsd needs.
type Config struct {
	// Port is the HTTP/websocket bind port for the demo daemon.
	Port string

	// CipherSuite selects the default CipherSuiteProvider new groups
	// are created with.
	CipherSuite ciphersuite.Suite

	// DatabaseURL is the Postgres DSN for GroupStateStorage and the
	// identity provider's member table.
	DatabaseURL string

	// RedisURL configures the alternate Redis-backed proposal cache,
	// used when running more than one daemon instance against a
	// shared delivery service.
	RedisURL string

	// RetentionEpochs bounds how many trailing epochs
	// GroupStateStorage keeps per group before delete_epochs_under
	// fires on the next Write.
	RetentionEpochs uint64

	// ArchiveEpochs turns on S3-compatible archiving of pruned epochs
	// via storage.MinioEpochArchiver instead of dropping them outright.
	ArchiveEpochs bool

	// ProposalTTL bounds how long a cached proposal is honored before
	// it's treated as stale by proposal.RedisCache.
	ProposalTTL time.Duration
}

// LoadConfig reads Config from the environment, falling back to
// development defaults suitable for a local single-node run.
func LoadConfig() (*Config, error) {
	suite, err := parseSuite(getEnv("MLS_CIPHER_SUITE", "x25519_kyber768"))
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	retention, err := strconv.ParseUint(getEnv("MLS_RETENTION_EPOCHS", "50"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("config: invalid MLS_RETENTION_EPOCHS: %w", err)
	}

	ttlSeconds, err := strconv.Atoi(getEnv("MLS_PROPOSAL_TTL_SECONDS", "300"))
	if err != nil {
		return nil, fmt.Errorf("config: invalid MLS_PROPOSAL_TTL_SECONDS: %w", err)
	}

	return &Config{
		Port: getEnv("PORT", "8080"),
		CipherSuite: suite,
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL: getEnv("REDIS_URL", "localhost:6379"),
		RetentionEpochs: retention,
		ArchiveEpochs: getEnv("MLS_ARCHIVE_EPOCHS", "false") == "true",
		ProposalTTL: time.Duration(ttlSeconds) * time.Second,
	}, nil
}

func parseSuite(name string) (ciphersuite.Suite, error) {
	switch name {
	case "x25519_kyber768":
		return ciphersuite.X25519Kyber768Draft00, nil
	case "curve25519_chacha":
		return ciphersuite.Curve25519ChaCha, nil
	default:
		return 0, fmt.Errorf("unknown MLS_CIPHER_SUITE %q", name)
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
