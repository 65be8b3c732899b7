package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator"
	"github.com/labstack/echo/v4"

	"github.com/loomgraph/loom/internal/server/middleware"
	"github.com/loomgraph/loom/pkg/common"
	storemem "github.com/loomgraph/loom/pkg/store/memory"
)

type testValidator struct {
	v *validator.Validate
}

func (tv *testValidator) Validate(i any) error {
	return tv.v.Struct(i)
}

func postQuery(t *testing.T, graphs *storemem.Store, body string) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	e.Validator = &testValidator{v: validator.New()}
	req := httptest.NewRequest(http.MethodPost, "/api/query", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	cc := &middleware.AppContext{
		Context: c,
		App:     &middleware.App{Graphs: graphs},
		User:    &middleware.AppUser{Scope: "tenant-a"},
	}
	if err := QueryGraphHandler(cc); err != nil {
		t.Fatalf("handler returned error: %v", err)
	}
	return rec
}

func completedGraph(t *testing.T, graphs *storemem.Store, name string) {
	t.Helper()
	ctx := context.Background()
	if _, err := graphs.Create(ctx, "tenant-a", name, nil, common.PromptConfig{}); err != nil {
		t.Fatalf("failed to create graph: %v", err)
	}
	for _, st := range []common.GraphStatus{common.StatusProcessing, common.StatusCompleted} {
		if err := graphs.Transition(ctx, "tenant-a", name, st, ""); err != nil {
			t.Fatalf("transition failed: %v", err)
		}
	}
}

func TestQueryGraphDefaultName(t *testing.T) {
	body := `{"query_type":"list_entities","start_nodes":["BERT"]}`

	// Empty scope: nothing to default to.
	rec := postQuery(t, storemem.New(), body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty scope, got %d", rec.Code)
	}

	// Exactly one graph: the name may be omitted.
	graphs := storemem.New()
	completedGraph(t, graphs, "only")
	rec = postQuery(t, graphs, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with a single graph, got %d (%s)", rec.Code, rec.Body.String())
	}

	// Two graphs: ambiguous, the caller must name one.
	completedGraph(t, graphs, "second")
	rec = postQuery(t, graphs, body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 with two graphs, got %d", rec.Code)
	}
}
