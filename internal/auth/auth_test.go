package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestParseMode(t *testing.T) {
	cases := []struct {
		in   string
		want Mode
	}{
		{"all", ModeAll},
		{"ALL", ModeAll},
		{"auth", ModeAuth},
		{"Auth", ModeAuth},
		{"none", ModeNone},
		{"", ModeNone},
		{"garbage", ModeNone},
	}
	for _, c := range cases {
		if got := ParseMode(c.in); got != c.want {
			t.Errorf("ParseMode(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestKeySet_PutLookupRemove(t *testing.T) {
	ks := NewKeySet()
	ks.Put(KeyRecord{KeyHash: "h1", OwnerID: "owner-1", OrgID: "org-1"})

	rec, ok := ks.Lookup("h1")
	if !ok {
		t.Fatal("expected a hit for an inserted key")
	}
	if rec.OwnerID != "owner-1" || rec.OrgID != "org-1" {
		t.Errorf("Lookup returned %+v, want OwnerID=owner-1 OrgID=org-1", rec)
	}

	ks.Remove("h1")
	if _, ok := ks.Lookup("h1"); ok {
		t.Error("expected a miss after Remove")
	}
}

func TestKeySet_Replace(t *testing.T) {
	ks := NewKeySet()
	ks.Put(KeyRecord{KeyHash: "stale"})
	ks.Replace([]KeyRecord{{KeyHash: "fresh", OwnerID: "o"}})

	if _, ok := ks.Lookup("stale"); ok {
		t.Error("Replace must drop keys not present in the new set")
	}
	rec, ok := ks.Lookup("fresh")
	if !ok || rec.OwnerID != "o" {
		t.Errorf("Lookup(fresh) = (%+v, %v), want the replaced record", rec, ok)
	}
}

func TestVerifier_ModeNoneAlwaysAuthenticates(t *testing.T) {
	v := NewVerifier(ModeNone, NewKeySet(), nil)

	res, ok := v.Verify("")
	if !ok || !res.Authenticated {
		t.Errorf("Verify(\"\") under ModeNone = (%+v, %v), want authenticated", res, ok)
	}
	res, ok = v.Verify("garbage-credential")
	if !ok || !res.Authenticated {
		t.Errorf("Verify(garbage) under ModeNone = (%+v, %v), want authenticated regardless", res, ok)
	}
}

func TestVerifier_ModeAuth_NoCredentialPasses(t *testing.T) {
	v := NewVerifier(ModeAuth, NewKeySet(), nil)
	res, ok := v.Verify("")
	if !ok {
		t.Fatal("ModeAuth must let an unauthenticated request through")
	}
	if res.Authenticated {
		t.Error("an empty credential must not report Authenticated=true")
	}
}

func TestVerifier_ModeAuth_InvalidPresentedCredentialRejected(t *testing.T) {
	v := NewVerifier(ModeAuth, NewKeySet(), nil)
	_, ok := v.Verify("not-a-real-key")
	if ok {
		t.Error("a presented but invalid credential must be rejected even under ModeAuth")
	}
}

func TestVerifier_ModeAll_RequiresCredential(t *testing.T) {
	v := NewVerifier(ModeAll, NewKeySet(), nil)
	_, ok := v.Verify("")
	if ok {
		t.Error("ModeAll must reject a request with no credential")
	}
}

func TestVerifier_ValidAPIKey(t *testing.T) {
	ks := NewKeySet()
	ks.Put(KeyRecord{KeyHash: "sk-valid", OwnerID: "owner", OrgID: "org"})
	v := NewVerifier(ModeAll, ks, nil)

	res, ok := v.Verify("sk-valid")
	if !ok || !res.Authenticated {
		t.Fatalf("Verify(sk-valid) = (%+v, %v), want authenticated", res, ok)
	}
	if res.OwnerID != "owner" || res.OrgID != "org" {
		t.Errorf("Verify(sk-valid) = %+v, want OwnerID=owner OrgID=org", res)
	}
}

func TestVerifier_UnknownAPIKeyRejected(t *testing.T) {
	v := NewVerifier(ModeAll, NewKeySet(), nil)
	_, ok := v.Verify("sk-unknown")
	if ok {
		t.Error("expected an unknown key to be rejected")
	}
}

func TestVerifier_ValidJWT(t *testing.T) {
	secret := []byte("test-secret")
	v := NewVerifier(ModeAll, NewKeySet(), secret)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-42",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		OrgID: "org-42",
	})
	signed, err := token.SignedString(secret)
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	res, ok := v.Verify(signed)
	if !ok || !res.Authenticated {
		t.Fatalf("Verify(jwt) = (%+v, %v), want authenticated", res, ok)
	}
	if res.OwnerID != "user-42" || res.OrgID != "org-42" {
		t.Errorf("Verify(jwt) = %+v, want OwnerID=user-42 OrgID=org-42", res)
	}
}

func TestVerifier_JWTWithWrongSecretRejected(t *testing.T) {
	v := NewVerifier(ModeAll, NewKeySet(), []byte("real-secret"))

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, sessionClaims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "user-42"},
	})
	signed, err := token.SignedString([]byte("wrong-secret"))
	if err != nil {
		t.Fatalf("SignedString: %v", err)
	}

	_, ok := v.Verify(signed)
	if ok {
		t.Error("expected a JWT signed with the wrong secret to be rejected")
	}
}

func TestLooksLikeJWT(t *testing.T) {
	if !looksLikeJWT("a.b.c") {
		t.Error("expected a three-segment dotted string to look like a JWT")
	}
	if looksLikeJWT("sk-plainapikey") {
		t.Error("a plain API key must not be misidentified as a JWT")
	}
}
