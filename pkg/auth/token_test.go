package auth

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/stallfront/stallfront-backend/pkg/config"
	"github.com/stallfront/stallfront-backend/pkg/enums"
)

func testJWTConfig() config.JWTConfig {
	return config.JWTConfig{
		Secret:            "test-secret",
		Issuer:            "stallfront-test",
		ExpirationMinutes: 30,
	}
}

func TestMintAndParseRoundTrip(t *testing.T) {
	cfg := testJWTConfig()
	actorID := uuid.New()
	vendorID := uuid.New()
	now := time.Now().UTC()

	token, err := MintAccessToken(cfg, now, AccessTokenPayload{
		ActorID:  actorID,
		Role:     enums.ActorRoleVendor,
		VendorID: &vendorID,
	})
	if err != nil {
		t.Fatalf("MintAccessToken: %v", err)
	}

	claims, err := ParseAccessToken(cfg, token)
	if err != nil {
		t.Fatalf("ParseAccessToken: %v", err)
	}
	if claims.ActorID != actorID {
		t.Fatalf("actor id = %s, want %s", claims.ActorID, actorID)
	}
	if claims.Role != enums.ActorRoleVendor {
		t.Fatalf("role = %s", claims.Role)
	}
	if claims.VendorID == nil || *claims.VendorID != vendorID {
		t.Fatalf("vendor id missing from vendor token")
	}
	if claims.ID == "" {
		t.Fatal("jti not populated")
	}
}

func TestMintRejectsVendorTokenWithoutVendorID(t *testing.T) {
	_, err := MintAccessToken(testJWTConfig(), time.Now(), AccessTokenPayload{
		ActorID: uuid.New(),
		Role:    enums.ActorRoleVendor,
	})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	cfg := testJWTConfig()
	token, err := MintAccessToken(cfg, time.Now(), AccessTokenPayload{
		ActorID: uuid.New(),
		Role:    enums.ActorRoleAdmin,
	})
	if err != nil {
		t.Fatalf("MintAccessToken: %v", err)
	}

	bad := cfg
	bad.Secret = "different"
	if _, err := ParseAccessToken(bad, token); err == nil {
		t.Fatal("expected signature error")
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	cfg := testJWTConfig()
	token, err := MintAccessToken(cfg, time.Now().Add(-2*time.Hour), AccessTokenPayload{
		ActorID: uuid.New(),
		Role:    enums.ActorRoleAdmin,
	})
	if err != nil {
		t.Fatalf("MintAccessToken: %v", err)
	}
	if _, err := ParseAccessToken(cfg, token); err == nil {
		t.Fatal("expected expiry error")
	}
}
