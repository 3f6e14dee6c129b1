package firestore

import (
	"context"
	"strings"
	"testing"
	"time"

	domain "github.com/mekongmart/api/internal/domain"
	pfirestore "github.com/mekongmart/api/internal/platform/firestore"
)

func TestTransitionStatusRejectsUnknownStatuses(t *testing.T) {
	repo := &OrderRepository{
		base: pfirestore.NewBaseRepository[orderDocument](nil, orderCollection, nil, nil),
	}

	err := repo.TransitionStatus(context.Background(), "ord-1", domain.OrderStatusPending, domain.OrderStatus("PAID"), time.Now())
	if err == nil || !strings.Contains(err.Error(), "unknown status transition") {
		t.Fatalf("expected unknown status transition error, got %v", err)
	}

	err = repo.TransitionStatus(context.Background(), "ord-1", domain.OrderStatus(""), domain.OrderStatusCompleted, time.Now())
	if err == nil || !strings.Contains(err.Error(), "unknown status transition") {
		t.Fatalf("expected unknown status transition error, got %v", err)
	}
}
