package services

import (
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/rhizomelab/rhizome-backend/internal/types"
)

func TestStarredBoostShape(t *testing.T) {
	userID := uuid.New()
	now := time.Now()

	boost := starredBoost(userID, types.EngineContradiction, now)
	if boost.Context != StarredBoostContext {
		t.Fatalf("context: want=%s got=%s", StarredBoostContext, boost.Context)
	}
	if boost.Multiplier != 2.0 {
		t.Fatalf("multiplier: want=2.0 got=%v", boost.Multiplier)
	}
	if boost.EngineType != types.EngineContradiction {
		t.Fatalf("engine: want=%s got=%s", types.EngineContradiction, boost.EngineType)
	}
	if boost.ExpiresAt == nil {
		t.Fatalf("expiry must be set")
	}
	ttl := boost.ExpiresAt.Sub(now)
	if ttl != StarredBoostTTL {
		t.Fatalf("ttl: want=%v got=%v", StarredBoostTTL, ttl)
	}
	if !boost.ActiveAt(now) {
		t.Fatalf("fresh boost must be active")
	}
	if boost.ActiveAt(now.Add(25 * time.Hour)) {
		t.Fatalf("boost must be expired after the window")
	}
}
