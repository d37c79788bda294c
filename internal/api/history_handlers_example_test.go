package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"go.uber.org/zap"

	memorystore "github.com/JakeFAU/loadstate/internal/storage/memory"
	"github.com/JakeFAU/loadstate/internal/store"
)

// ExampleHistoryHandler_ListRecent shows how to serve the /v1/history endpoint.
func ExampleHistoryHandler_ListRecent() {
	repo := memorystore.NewHistoryStore()
	_ = repo.AppendChanges(context.Background(), []store.ChangeRecord{{
		LoadID:     "orders",
		Kind:       "updated",
		PhaseID:    "complete",
		PhaseName:  "Complete",
		Outcome:    store.OutcomeSuccess,
		Progress:   1,
		RecordedAt: time.Unix(0, 0).UTC(),
	}})
	handler := NewHistoryHandler(repo, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/v1/history?outcome=success", nil)
	rec := httptest.NewRecorder()
	handler.ListRecent(rec, req)

	fmt.Println(rec.Code)
	// Output:
	// 200
}
