package report

import (
	"bytes"
	"net/http"
	"time"

	"pointsledger/pkg/access"
	"pointsledger/pkg/auth"
	"pointsledger/pkg/httpapi"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

const contentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

var Routes = fx.Module("report.routes",
	fx.Invoke(RegisterRoutes),
)

type Handler struct {
	service *Service
}

func RegisterRoutes(r *httpapi.Router, s *Service) {
	h := &Handler{service: s}
	r.V1.GET("/customers/:customer_id/points/export", r.Can(access.PointsExport), h.Export)
}

func (h *Handler) Export(c *gin.Context) {
	p, _ := auth.FromContext(c.Request.Context())
	customerID := c.Param("customer_id")

	// buffered so a failure still renders the JSON error envelope
	var buf bytes.Buffer
	if err := h.service.ExportCustomer(c.Request.Context(), p.TenantID, customerID, &buf); err != nil {
		_ = c.Error(err)
		return
	}

	c.Header("Content-Disposition", `attachment; filename="`+FileName(customerID, time.Now())+`"`)
	c.Data(http.StatusOK, contentTypeXLSX, buf.Bytes())
}
