package auth

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestSignParseJWT(t *testing.T) {
	tok, err := SignJWT(42, "secret", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	c, err := ParseJWT(tok, "secret")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if c.AccountID != 42 || c.ID == "" {
		t.Fatalf("claims = %+v", c)
	}
	if r := c.Remaining(time.Now()); r <= 0 || r > time.Hour {
		t.Fatalf("remaining = %s", r)
	}

	other, _ := SignJWT(42, "secret", time.Hour)
	oc, _ := ParseJWT(other, "secret")
	if oc.ID == c.ID {
		t.Fatalf("jti must be unique")
	}
}

func TestParseJWT_Rejects(t *testing.T) {
	tok, _ := SignJWT(1, "secret", time.Hour)
	if _, err := ParseJWT(tok, "other"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("wrong secret: %v", err)
	}

	expired, _ := SignJWT(1, "secret", -time.Minute)
	if _, err := ParseJWT(expired, "secret"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expired: %v", err)
	}

	parts := strings.Split(tok, ".")
	if _, err := ParseJWT(parts[0]+"."+parts[1]+".", "secret"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("unsigned: %v", err)
	}

	if _, err := SignJWT(1, "", time.Hour); err == nil {
		t.Fatalf("empty secret accepted")
	}
}
