package stepup

import (
	"errors"

	"github.com/pquerna/otp/totp"

	"p2p-exchange/internal/model"
)

var ErrNotEnrolled = errors.New("step-up not enrolled")

// TOTP verifies step-up tokens against the user's enrolled authenticator
// secret. It satisfies the engine's StepUpVerifier contract.
type TOTP struct {
	Issuer string
}

func (t TOTP) Verify(u *model.User, token string) error {
	if u.TOTPSecret == "" {
		return ErrNotEnrolled
	}
	if !totp.Validate(token, u.TOTPSecret) {
		return errors.New("invalid totp code")
	}
	return nil
}

// Enroll generates a fresh secret for a user. The caller persists the
// secret and shows the provisioning URL once.
func (t TOTP) Enroll(email string) (secret, url string, err error) {
	issuer := t.Issuer
	if issuer == "" {
		issuer = "p2p-exchange"
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: email,
	})
	if err != nil {
		return "", "", err
	}
	return key.Secret(), key.URL(), nil
}
