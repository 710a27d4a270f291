package jwt

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"testing"
	"time"

	gjwt "github.com/golang-jwt/jwt/v5"
)

func newEdKeys(t *testing.T) (ed25519.PublicKey, ed25519.PrivateKey) {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate ed25519 key: %v", err)
	}
	return pub, priv
}

func newTestCodec(t *testing.T, now func() time.Time) (*Codec, ed25519.PrivateKey) {
	t.Helper()
	pub, priv := newEdKeys(t)
	c, err := NewCodec(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv,
		PublicKey:     pub,
		Issuer:        "goreauth",
		Audience:      "web",
		Now:           now,
	})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}
	return c, priv
}

func TestSignVerifyRoundTripCarriesProfileAndStamp(t *testing.T) {
	c, _ := newTestCodec(t, nil)

	token, err := c.Sign(Claims{UID: 42, Username: "ada", Email: "ada@example.com", Stamp: "stamp-1"}, time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	claims, err := c.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.UID != 42 || claims.Username != "ada" || claims.Email != "ada@example.com" || claims.Stamp != "stamp-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		t.Fatal("expected iat and exp to be set")
	}
}

func TestVerifyDistinguishesExpiredFromInvalid(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	c, _ := newTestCodec(t, clock)

	token, err := c.Sign(Claims{UID: 1, Stamp: "s"}, time.Minute)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := c.Verify(token); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}

	tampered := token[:len(token)-4] + "AAAA"
	if _, err := c.Verify(tampered); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for tampered token, got %v", err)
	}
	if _, err := c.Verify("not.a.jwt"); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for garbage, got %v", err)
	}
}

func TestVerifyRejectsWrongAlgorithm(t *testing.T) {
	c, _ := newTestCodec(t, nil)

	claims := Claims{UID: 1, Stamp: "s", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    "goreauth",
		Audience:  gjwt.ClaimStrings{"web"},
		IssuedAt:  gjwt.NewNumericDate(time.Now()),
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	token, err := gjwt.NewWithClaims(gjwt.SigningMethodHS256, claims).SignedString([]byte("secret-secret-secret-secret"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	if _, err := c.Verify(token); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected wrong algorithm to be invalid, got %v", err)
	}
}

func TestVerifyRejectsForeignIssuerAndMissingStamp(t *testing.T) {
	c, priv := newTestCodec(t, nil)

	foreign := Claims{UID: 1, Stamp: "s", RegisteredClaims: gjwt.RegisteredClaims{
		Issuer:    "other",
		Audience:  gjwt.ClaimStrings{"web"},
		IssuedAt:  gjwt.NewNumericDate(time.Now()),
		ExpiresAt: gjwt.NewNumericDate(time.Now().Add(time.Minute)),
	}}
	token, _ := gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, foreign).SignedString(priv)
	if _, err := c.Verify(token); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected foreign issuer to be invalid, got %v", err)
	}

	noStamp := foreign
	noStamp.Issuer = "goreauth"
	noStamp.Stamp = ""
	token, _ = gjwt.NewWithClaims(gjwt.SigningMethodEdDSA, noStamp).SignedString(priv)
	if _, err := c.Verify(token); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected missing stamp to be invalid, got %v", err)
	}
}

func TestSignRequiresStamp(t *testing.T) {
	c, _ := newTestCodec(t, nil)
	if _, err := c.Sign(Claims{UID: 1}, time.Minute); err == nil {
		t.Fatal("expected sign without stamp to fail")
	}
}

func TestVerifyKeyRotationByKid(t *testing.T) {
	pub1, priv1 := newEdKeys(t)
	pub2, priv2 := newEdKeys(t)

	oldCodec, err := NewCodec(Config{SigningMethod: MethodEd25519, PrivateKey: priv1, PublicKey: pub1, KeyID: "k1"})
	if err != nil {
		t.Fatalf("old codec: %v", err)
	}
	newCodec, err := NewCodec(Config{
		SigningMethod: MethodEd25519,
		PrivateKey:    priv2,
		KeyID:         "k2",
		VerifyKeys:    map[string][]byte{"k1": pub1, "k2": pub2},
	})
	if err != nil {
		t.Fatalf("new codec: %v", err)
	}

	oldToken, err := oldCodec.Sign(Claims{UID: 7, Stamp: "s"}, time.Minute)
	if err != nil {
		t.Fatalf("sign old: %v", err)
	}
	if _, err := newCodec.Verify(oldToken); err != nil {
		t.Fatalf("expected rotated codec to accept k1 token: %v", err)
	}
	if _, err := oldCodec.Verify(oldToken); err != nil {
		t.Fatalf("expected old codec to accept own token: %v", err)
	}

	newToken, _ := newCodec.Sign(Claims{UID: 7, Stamp: "s"}, time.Minute)
	if _, err := oldCodec.Verify(newToken); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected old codec to reject k2 token, got %v", err)
	}
}

func TestNewCodecValidation(t *testing.T) {
	if _, err := NewCodec(Config{SigningMethod: MethodEd25519}); err == nil {
		t.Fatal("expected missing public key to fail")
	}
	if _, err := NewCodec(Config{SigningMethod: MethodHS256}); err == nil {
		t.Fatal("expected hs256 without secret to fail")
	}
	if _, err := NewCodec(Config{SigningMethod: "rs256", PrivateKey: []byte("x")}); err == nil {
		t.Fatal("expected unsupported method to fail")
	}
	pub, _ := newEdKeys(t)
	if _, err := NewCodec(Config{SigningMethod: MethodEd25519, PublicKey: pub, Leeway: time.Hour}); err == nil {
		t.Fatal("expected excessive leeway to fail")
	}
}

// FuzzVerify exercises the parser with arbitrary token strings. Verify must
// never panic and must classify every failure as expired or invalid.
func FuzzVerify(f *testing.F) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		f.Fatal(err)
	}
	c, err := NewCodec(Config{SigningMethod: MethodEd25519, PrivateKey: priv, PublicKey: pub, Issuer: "fuzz"})
	if err != nil {
		f.Fatal(err)
	}
	valid, err := c.Sign(Claims{UID: 1, Stamp: "s"}, time.Minute)
	if err != nil {
		f.Fatal(err)
	}

	f.Add(valid)
	f.Add("")
	f.Add("not.a.jwt")
	f.Add("eyJhbGciOiJub25lIn0.eyJ1aWQiOjF9.")

	f.Fuzz(func(t *testing.T, input string) {
		claims, err := c.Verify(input)
		if err != nil {
			if !errors.Is(err, ErrInvalid) && !errors.Is(err, ErrExpired) {
				t.Fatalf("unclassified verify error: %v", err)
			}
			return
		}
		if claims == nil {
			t.Fatal("Verify returned nil claims without error")
		}
	})
}
