package customer

import (
	"net/http"

	"pointsledger/pkg/access"
	"pointsledger/pkg/auth"
	"pointsledger/pkg/errutil"
	"pointsledger/pkg/httpapi"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Routes = fx.Module("customer.routes",
	fx.Invoke(RegisterRoutes),
)

type Handler struct {
	service *Service
}

func RegisterRoutes(r *httpapi.Router, s *Service) {
	h := &Handler{service: s}

	r.V1.GET("/customers/:customer_id", r.Can(access.CustomersRead), h.Get)
	r.V1.PUT("/customers/:customer_id", r.Can(access.CustomersWrite), h.Upsert)
}

func (h *Handler) Get(c *gin.Context) {
	p, _ := auth.FromContext(c.Request.Context())

	cust, err := h.service.Get(c.Request.Context(), p.TenantID, c.Param("customer_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	httpapi.OK(c, http.StatusOK, cust)
}

func (h *Handler) Upsert(c *gin.Context) {
	p, _ := auth.FromContext(c.Request.Context())

	var req UpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}

	cust, err := h.service.Upsert(c.Request.Context(), p.TenantID, c.Param("customer_id"), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	httpapi.OK(c, http.StatusOK, cust)
}
