package auth

// Passwords and security answers are both stored as bcrypt hashes.
//
// bcrypt is slow on purpose, salts every hash, and embeds salt and cost in
// its output:
//
//	$2a$12$<22-char salt><31-char hash>
//	 ^   ^
//	 |   cost (2^12 rounds)
//	 version

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/sakif/teamify/internal/model"
)

// defaultCost takes roughly 250ms on a modern server.
const defaultCost = 12

// MaxPasswordBytes is the bcrypt input limit. Longer input is rejected
// rather than silently truncated.
const MaxPasswordBytes = 72

// ErrMismatch is returned by Verify and VerifyAnswer when the plaintext
// does not match the hash.
var ErrMismatch = errors.New("auth: hash mismatch")

// PasswordService provides bcrypt hashing and verification. The cost is a
// field so tests can run at the bcrypt minimum.
type PasswordService struct {
	cost int
}

// NewPasswordService creates a PasswordService with the default cost (12).
func NewPasswordService() *PasswordService {
	return &PasswordService{cost: defaultCost}
}

func newPasswordServiceWithCost(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// NewPasswordServiceForTest creates a PasswordService with the given cost,
// for tests in other packages. Pass bcrypt.MinCost (4). Never use in
// production.
func NewPasswordServiceForTest(cost int) *PasswordService {
	return &PasswordService{cost: cost}
}

// Hash hashes a plaintext password.
func (p *PasswordService) Hash(plaintext string) (string, error) {
	if len(plaintext) > MaxPasswordBytes {
		return "", fmt.Errorf("auth: password must be %d bytes or fewer", MaxPasswordBytes)
	}

	hashed, err := bcrypt.GenerateFromPassword([]byte(plaintext), p.cost)
	if err != nil {
		return "", fmt.Errorf("auth: hashing password: %w", err)
	}
	return string(hashed), nil
}

// Verify returns nil when plaintext matches hash and an error wrapping
// ErrMismatch when it does not. The comparison is constant-time.
func (p *PasswordService) Verify(hash, plaintext string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext))
	if err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return fmt.Errorf("auth: invalid password: %w", ErrMismatch)
		}
		return fmt.Errorf("auth: comparing password hash: %w", err)
	}
	return nil
}

// HashAnswer hashes a security answer after normalising it, so the answer
// is matched regardless of case and surrounding spaces.
func (p *PasswordService) HashAnswer(answer string) (string, error) {
	normalized := model.NormalizeAnswer(answer)
	if normalized == "" {
		return "", errors.New("auth: empty security answer")
	}
	return p.Hash(normalized)
}

// VerifyAnswer checks a security answer against a hash from HashAnswer.
func (p *PasswordService) VerifyAnswer(hash, answer string) error {
	if hash == "" {
		return fmt.Errorf("auth: no security answer set: %w", ErrMismatch)
	}
	return p.Verify(hash, model.NormalizeAnswer(answer))
}
