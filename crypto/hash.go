package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"

	"github.com/sirupsen/logrus"
	"lukechampine.com/blake3"

	"github.com/opd-ai/shinkai-node/errs"
)

// InboxHash returns the first 32 hex characters of the BLAKE3 digest of an
// inbox name. It is the key-space prefix used by the message store to scope
// an inbox's composite keys.
func InboxHash(inboxName string) string {
	sum := blake3.Sum256([]byte(inboxName))
	return hex.EncodeToString(sum[:])[:32]
}

// SubscriptionIdentifier is the canonical string form of a subscription tuple
// plus its shortened deterministic identifier.
type SubscriptionIdentifier struct {
	Canonical string
	ShortID   string
}

// SubscriptionID builds the canonical identifier for a
// (origin_node, shared_folder, subscriber_node, origin_profile, subscriber_profile)
// tuple. It returns an error instead of panicking when origin and subscriber
// name the same node, since that is a precondition violation callers must be
// able to recover from.
func SubscriptionID(originNode, sharedFolder, subscriberNode, originProfile, subscriberProfile string) (SubscriptionIdentifier, error) {
	logger := logrus.WithFields(logrus.Fields{
		"function": "SubscriptionID",
		"package":  "crypto",
	})

	if originNode == subscriberNode {
		logger.WithFields(logrus.Fields{
			"origin_node":     originNode,
			"subscriber_node": subscriberNode,
			"error_type":      "invalid_argument",
		}).Error("origin node and subscriber node must differ")
		return SubscriptionIdentifier{}, errs.New("crypto.SubscriptionID", errs.InvalidArgument, errors.New("origin node and subscriber node must differ"))
	}

	canonical := strings.Join([]string{originNode, sharedFolder, subscriberNode, originProfile, subscriberProfile}, ":::")
	sum := blake3.Sum256([]byte(canonical))
	shortID := hex.EncodeToString(sum[:])[:32]

	logger.WithFields(logrus.Fields{
		"canonical_preview": canonical,
		"short_id":          shortID,
	}).Debug("built subscription identifier")

	return SubscriptionIdentifier{Canonical: canonical, ShortID: shortID}, nil
}

// ParseSubscriptionID splits a canonical subscription string back into its
// five fields. It fails unless splitting on ":::" yields exactly 5 non-empty
// parts.
func ParseSubscriptionID(canonical string) (originNode, sharedFolder, subscriberNode, originProfile, subscriberProfile string, err error) {
	parts := strings.Split(canonical, ":::")
	if len(parts) != 5 {
		return "", "", "", "", "", errors.New("subscription id must have exactly 5 fields")
	}
	for _, p := range parts {
		if p == "" {
			return "", "", "", "", "", errors.New("subscription id fields must be non-empty")
		}
	}
	return parts[0], parts[1], parts[2], parts[3], parts[4], nil
}

// FileHash returns the hex SHA-256 digest of file bytes along with its short
// hash: the last 8 hex characters, used to name checksum sidecars.
func FileHash(data []byte) (full string, short string) {
	sum := sha256.Sum256(data)
	full = hex.EncodeToString(sum[:])
	short = full[len(full)-8:]
	return full, short
}
