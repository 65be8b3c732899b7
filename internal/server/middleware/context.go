package middleware

import (
	"github.com/MicahParks/keyfunc/v3"
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"

	"github.com/loomgraph/loom/pkg/ai"
	"github.com/loomgraph/loom/pkg/docstore"
	"github.com/loomgraph/loom/pkg/store"
)

// AppUser identifies the authenticated caller. Scope is the tenant
// namespace every graph and document lookup is keyed by.
type AppUser struct {
	Scope string
}

type App struct {
	Graphs       store.GraphStore
	Docs         docstore.DocumentStore
	Queue        *amqp091.Channel
	AiClient     ai.Client
	Key          *keyfunc.Keyfunc
	MasterAPIKey string
	MasterScope  string
}

type AppContext struct {
	echo.Context
	App  *App
	User *AppUser
}

func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			cc := &AppContext{c, app, nil}
			return next(cc)
		}
	}
}
