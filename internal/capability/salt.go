package capability

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
)

// SaltBytes is the raw size of a bcrypt salt before encoding.
const SaltBytes = 16

const (
	encodedSaltLen = 22
	settingLen     = 7 + encodedSaltLen // "$2b$10$" + salt
	bcryptAlphabet = "./ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

var bcryptEncoding = base64.NewEncoding(bcryptAlphabet).WithPadding(base64.NoPadding)

// EncodeSalt formats raw salt bytes as a bcrypt setting string ("$2b$NN$…") for cost.
func EncodeSalt(cost int, raw []byte) (string, error) {
	if !ValidCost(cost) {
		return "", fmt.Errorf("%w: %d must be in [%d, %d]", ErrInvalidCost, cost, MinCost, MaxCost)
	}
	if len(raw) != SaltBytes {
		return "", fmt.Errorf("%w: need %d random bytes, got %d", ErrInvalidSalt, SaltBytes, len(raw))
	}
	return fmt.Sprintf("$2b$%02d$%s", cost, bcryptEncoding.EncodeToString(raw)), nil
}

// SaltCost validates a bcrypt setting string and returns the cost it encodes.
// Accepted prefixes are $2a$, $2b$, $2x$ and $2y$.
func SaltCost(salt string) (int, error) {
	if len(salt) != settingLen {
		return 0, fmt.Errorf("%w: length %d, want %d", ErrInvalidSalt, len(salt), settingLen)
	}
	if salt[0] != '$' || salt[1] != '2' || salt[3] != '$' || salt[6] != '$' {
		return 0, fmt.Errorf("%w: malformed header %q", ErrInvalidSalt, salt[:7])
	}
	switch salt[2] {
	case 'a', 'b', 'x', 'y':
	default:
		return 0, fmt.Errorf("%w: unknown variant %q", ErrInvalidSalt, salt[2])
	}
	cost, err := strconv.Atoi(salt[4:6])
	if err != nil {
		return 0, fmt.Errorf("%w: cost %q is not a number", ErrInvalidSalt, salt[4:6])
	}
	if !ValidCost(cost) {
		return 0, fmt.Errorf("%w: %d must be in [%d, %d]", ErrInvalidCost, cost, MinCost, MaxCost)
	}
	for _, r := range salt[7:] {
		if !strings.ContainsRune(bcryptAlphabet, r) {
			return 0, fmt.Errorf("%w: character %q outside the bcrypt alphabet", ErrInvalidSalt, r)
		}
	}
	return cost, nil
}
