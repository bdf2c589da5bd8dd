package common

import (
	"encoding/hex"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	logger "github.com/kthomas/go-logger"
)

// IssuerIdentifier is the reserved wallet identifier for the configured issuer
// identity; no wallet row ever exists for it
const IssuerIdentifier = "issuer"

const defaultLedgerNetwork = "testnet"
const defaultSecretCacheTTL = time.Hour * 1
const defaultStepPollInterval = time.Second * 2
const defaultStepValidationTimeout = time.Second * 15
const defaultValidationSweepInterval = time.Second * 30

var (
	// Log is the configured logger
	Log *logger.Logger

	// ConsumeNATSStreamingSubscriptions indicates if the process should establish NATS consumers
	ConsumeNATSStreamingSubscriptions bool

	// IssuerSeed is the plaintext ledger seed for the issuer identity; injected from
	// process configuration and never persisted
	IssuerSeed *string

	// EncryptionMasterKey is the 32-byte AES-256-GCM key protecting custodied seed material
	EncryptionMasterKey []byte

	// LedgerNetwork is the target settlement ledger network (testnet, devnet, mainnet or sandbox)
	LedgerNetwork string

	// SecretCacheTTL governs how long decrypted seed material remains cached in-process
	SecretCacheTTL time.Duration

	// StepPollInterval is the interval between validation lookups within the inline wait
	StepPollInterval time.Duration

	// StepValidationTimeout is the inline wall-clock budget per submitted step
	StepValidationTimeout time.Duration

	// ValidationSweepInterval is the interval between background validation poller passes
	ValidationSweepInterval time.Duration
)

func init() {
	godotenv.Load()

	requireLogger()
	requireLedgerNetwork()
	requireTunables()

	ConsumeNATSStreamingSubscriptions = strings.ToLower(os.Getenv("CONSUME_NATS_STREAMING_SUBSCRIPTIONS")) == "true"
}

func requireLogger() {
	lvl := os.Getenv("LOG_LEVEL")
	if lvl == "" {
		lvl = "INFO"
	}

	var endpoint *string
	if os.Getenv("SYSLOG_ENDPOINT") != "" {
		endpt := os.Getenv("SYSLOG_ENDPOINT")
		endpoint = &endpt
	}

	Log = logger.NewLogger("issuance", lvl, endpoint)
}

func requireLedgerNetwork() {
	LedgerNetwork = strings.ToLower(os.Getenv("LEDGER_NETWORK"))
	if LedgerNetwork == "" {
		LedgerNetwork = defaultLedgerNetwork
	}
}

func requireTunables() {
	SecretCacheTTL = durationFromEnvMillis("SECRET_CACHE_TTL_MS", defaultSecretCacheTTL)
	StepPollInterval = durationFromEnvMillis("STEP_POLL_INTERVAL_MS", defaultStepPollInterval)
	StepValidationTimeout = durationFromEnvMillis("STEP_VALIDATION_TIMEOUT_MS", defaultStepValidationTimeout)
	ValidationSweepInterval = durationFromEnvMillis("VALIDATION_SWEEP_INTERVAL_MS", defaultValidationSweepInterval)
}

// RequireIssuer reads the issuer seed from the environment; fatal when absent
func RequireIssuer() {
	seed := os.Getenv("ISSUER_SEED")
	if seed == "" {
		Log.Panicf("failed to resolve issuer identity; ISSUER_SEED not provided")
	}
	IssuerSeed = &seed
}

// RequireEncryptionMasterKey reads and decodes the 64-hex-char master key; fatal
// when absent or malformed
func RequireEncryptionMasterKey() {
	key := os.Getenv("ENCRYPTION_MASTER_KEY")
	if key == "" {
		Log.Panicf("failed to resolve encryption master key; ENCRYPTION_MASTER_KEY not provided")
	}

	var err error
	EncryptionMasterKey, err = hex.DecodeString(key)
	if err != nil {
		Log.Panicf("failed to decode ENCRYPTION_MASTER_KEY as hex; %s", err.Error())
	}
	if len(EncryptionMasterKey) != 32 {
		Log.Panicf("failed to resolve encryption master key; expected 32 bytes, resolved %d", len(EncryptionMasterKey))
	}
}

func durationFromEnvMillis(key string, dflt time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		millis, err := strconv.ParseInt(val, 10, 64)
		if err == nil && millis > 0 {
			return time.Duration(millis) * time.Millisecond
		}
		Log.Warningf("failed to parse %s; using default", key)
	}
	return dflt
}
