// Package config loads node-wide Options from the environment, following
// the variables named in the subsystem design.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/shinkai-node/crypto"
)

// Default tuning values used when the corresponding environment variable
// is absent.
const (
	DefaultUploadIntervalMinutes = 5
	DefaultRelayHandshakeTimeout = 10 * time.Second
	DefaultUploadParallelism     = 4
)

// Options bundles the configuration every component needs at construction
// time.
type Options struct {
	RPCURL          string
	ContractAddress string

	UploadInterval    time.Duration
	UploadParallelism int

	AWSAccessKeyID     string
	AWSSecretAccessKey string
	AWSURL             string

	IdentityPrivateKey   [32]byte
	EncryptionPrivateKey [32]byte

	DataDir string
}

// Load builds Options from the process environment, falling back to a
// `.secret` file for key material and finally to freshly generated
// ephemeral keys, logging a warning when it does.
func Load(dataDir string) (*Options, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "Load",
		"package":  "config",
	})

	opts := &Options{
		RPCURL:             os.Getenv("RPC_URL"),
		ContractAddress:    os.Getenv("CONTRACT_ADDRESS"),
		AWSAccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		AWSSecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		AWSURL:             os.Getenv("AWS_URL"),
		DataDir:            dataDir,
		UploadParallelism:  DefaultUploadParallelism,
	}

	opts.UploadInterval = time.Duration(DefaultUploadIntervalMinutes) * time.Minute
	if raw := os.Getenv("SUBSCRIPTION_HTTP_UPLOAD_INTERVAL_MINUTES"); raw != "" {
		minutes, err := strconv.Atoi(raw)
		if err != nil {
			logger.WithFields(logrus.Fields{
				"value":      raw,
				"error":      err.Error(),
				"error_type": "parse_failed",
			}).Warn("invalid SUBSCRIPTION_HTTP_UPLOAD_INTERVAL_MINUTES, using default")
		} else {
			opts.UploadInterval = time.Duration(minutes) * time.Minute
		}
	}

	identityKey, err := loadOrGenerateKey("IDENTITY_SECRET_KEY", dataDir, "identity.secret", logger)
	if err != nil {
		return nil, err
	}
	opts.IdentityPrivateKey = identityKey

	encryptionKey, err := loadOrGenerateKey("ENCRYPTION_SECRET_KEY", dataDir, "encryption.secret", logger)
	if err != nil {
		return nil, err
	}
	opts.EncryptionPrivateKey = encryptionKey

	return opts, nil
}

// loadOrGenerateKey resolves one 32-byte key from an environment variable,
// then a `.secret` file in dataDir, then an ephemeral random key.
func loadOrGenerateKey(envVar, dataDir, fileName string, logger *logrus.Entry) ([32]byte, error) {
	var key [32]byte

	if raw := os.Getenv(envVar); raw != "" {
		decoded, err := crypto.DecodeBase58Key(raw)
		if err != nil {
			return key, err
		}
		if len(decoded) != 32 {
			return key, errBadKeyLength(envVar, len(decoded))
		}
		copy(key[:], decoded)
		crypto.ZeroBytes(decoded)
		return key, nil
	}

	secretPath := dataDir + string(os.PathSeparator) + fileName
	if contents, err := os.ReadFile(secretPath); err == nil {
		decoded, err := crypto.DecodeBase58Key(string(contents))
		if err != nil {
			return key, err
		}
		if len(decoded) != 32 {
			return key, errBadKeyLength(fileName, len(decoded))
		}
		copy(key[:], decoded)
		crypto.ZeroBytes(decoded)
		return key, nil
	}

	logger.WithFields(logrus.Fields{
		"env_var":  envVar,
		"fallback": secretPath,
	}).Warn("no persisted key found, generating ephemeral key")

	keyPair, err := crypto.GenerateKeyPair()
	if err != nil {
		return key, err
	}
	return keyPair.Private, nil
}

func errBadKeyLength(source string, got int) error {
	return &keyLengthError{source: source, got: got}
}

type keyLengthError struct {
	source string
	got    int
}

func (e *keyLengthError) Error() string {
	return "config: " + e.source + ": expected 32 decoded key bytes, got " + strconv.Itoa(e.got)
}
