package stepup

import (
	"testing"
	"time"

	"github.com/pquerna/otp/totp"

	"p2p-exchange/internal/model"
)

func TestEnrollAndVerify(t *testing.T) {
	v := TOTP{Issuer: "test"}

	secret, url, err := v.Enroll("alice@test.local")
	if err != nil {
		t.Fatalf("enroll: %v", err)
	}
	if secret == "" || url == "" {
		t.Fatal("empty secret or url")
	}

	u := &model.User{TOTPSecret: secret}
	code, err := totp.GenerateCode(secret, time.Now())
	if err != nil {
		t.Fatalf("generate code: %v", err)
	}
	if err := v.Verify(u, code); err != nil {
		t.Errorf("valid code rejected: %v", err)
	}
	if err := v.Verify(u, "000000"); err == nil {
		t.Error("bogus code accepted")
	}
}

func TestVerifyUnenrolled(t *testing.T) {
	v := TOTP{}
	if err := v.Verify(&model.User{}, "123456"); err != ErrNotEnrolled {
		t.Fatalf("got %v, want ErrNotEnrolled", err)
	}
}
