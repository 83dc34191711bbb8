package pointsconfig

import (
	"net/http"

	"pointsledger/pkg/access"
	"pointsledger/pkg/auth"
	"pointsledger/pkg/db/pagination"
	"pointsledger/pkg/errutil"
	"pointsledger/pkg/httpapi"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Routes = fx.Module("pointsconfig.routes",
	fx.Invoke(RegisterRoutes),
)

type Handler struct {
	service *Service
}

func RegisterRoutes(r *httpapi.Router, s *Service) {
	h := &Handler{service: s}

	admin := r.V1.Group("/admin/points/config")
	admin.GET("", r.Can(access.PointsConfigRead), h.Get)
	admin.POST("", r.Can(access.PointsConfigWrite), h.Write)
	admin.GET("/history", r.Can(access.PointsConfigRead), h.History)
}

func (h *Handler) Get(c *gin.Context) {
	p, _ := auth.FromContext(c.Request.Context())

	cfg, err := h.service.Active(c.Request.Context(), p.TenantID)
	if err != nil {
		_ = c.Error(err)
		return
	}
	httpapi.OK(c, http.StatusOK, cfg)
}

func (h *Handler) Write(c *gin.Context) {
	ctx := c.Request.Context()
	p, _ := auth.FromContext(ctx)

	var req WriteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	cfg, err := h.service.Write(ctx, p.TenantID, auth.Actor(ctx), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	httpapi.OK(c, http.StatusCreated, cfg)
}

func (h *Handler) History(c *gin.Context) {
	p, _ := auth.FromContext(c.Request.Context())

	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}

	rows, info, err := h.service.History(c.Request.Context(), p.TenantID, page)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": rows, "page_info": info})
}
