package web

import (
	"github.com/gin-gonic/gin"

	"smartfarm/internal/db"
	"smartfarm/internal/web/api"
)

type WebServer struct {
	router *gin.Engine
}

// NewWebServer builds the HTTP surface. Route handlers are thin
// callers: all control decisions live in the schedule engine.
func NewWebServer(dbConn *db.DB, engine api.EngineController, status api.StatusProvider, transport api.Transport) *WebServer {
	router := gin.Default()

	api.RegisterHealthRoutes(router, transport)
	api.RegisterDeviceRoutes(router, dbConn, engine, status)
	api.RegisterThresholdRoutes(router, dbConn, engine)
	api.RegisterScheduleRoutes(router, dbConn, engine)
	api.RegisterReadingRoutes(router, dbConn)
	api.RegisterNotificationRoutes(router, dbConn)

	return &WebServer{router: router}
}

func (ws *WebServer) Start(addr string) error {
	return ws.router.Run(addr)
}
