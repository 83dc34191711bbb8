package points

import (
	"net/http"
	"strconv"

	"pointsledger/pkg/access"
	"pointsledger/pkg/auth"
	"pointsledger/pkg/db/pagination"
	"pointsledger/pkg/errutil"
	"pointsledger/pkg/httpapi"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
)

var Routes = fx.Module("points.routes",
	fx.Invoke(RegisterRoutes),
)

type Handler struct {
	service *Service
}

func RegisterRoutes(r *httpapi.Router, s *Service) {
	h := &Handler{service: s}

	customers := r.V1.Group("/customers/:customer_id/points")
	customers.GET("", r.Can(access.PointsRead), h.Summary)
	customers.GET("/entries", r.Can(access.PointsRead), h.Entries)
	customers.GET("/verify", r.Can(access.PointsRead), h.Verify)
	customers.POST("/adjust", r.Can(access.PointsAdjust), h.Adjust)

	bookings := r.V1.Group("/bookings/:booking_id/points")
	bookings.POST("/award", r.Can(access.PointsAward), h.Award)
	bookings.POST("/redeem", r.Can(access.PointsRedeem), h.Redeem)
	bookings.PUT("/redeem", r.Can(access.PointsRedeem), h.Redeem)

	r.V1.POST("/admin/points/expiry", r.Can(access.PointsExpiryRun), h.RunExpiry)
}

func tenantOf(c *gin.Context) string {
	p, _ := auth.FromContext(c.Request.Context())
	return p.TenantID
}

func (h *Handler) Summary(c *gin.Context) {
	recent := 0
	if raw := c.Query("recent"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			_ = c.Error(errutil.BadRequest("recent must be a non-negative integer", err))
			return
		}
		recent = n
	}

	summary, err := h.service.Summary(c.Request.Context(), tenantOf(c), c.Param("customer_id"), recent)
	if err != nil {
		_ = c.Error(err)
		return
	}
	httpapi.OK(c, http.StatusOK, summary)
}

func (h *Handler) Entries(c *gin.Context) {
	var page pagination.Pagination
	if err := c.ShouldBindQuery(&page); err != nil {
		_ = c.Error(errutil.BadRequest("invalid pagination", err))
		return
	}
	var filter EntryFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		_ = c.Error(errutil.BadRequest("invalid filter", err))
		return
	}

	rows, info, err := h.service.ListEntries(c.Request.Context(), tenantOf(c), c.Param("customer_id"), filter, page)
	if err != nil {
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": rows, "page_info": info})
}

func (h *Handler) Verify(c *gin.Context) {
	result, err := h.service.VerifyChain(c.Request.Context(), tenantOf(c), c.Param("customer_id"))
	if err != nil {
		_ = c.Error(err)
		return
	}
	httpapi.OK(c, http.StatusOK, result)
}

func (h *Handler) Award(c *gin.Context) {
	var req AwardRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}
	req.TenantID = tenantOf(c)
	req.BookingID = c.Param("booking_id")

	result, err := h.service.Award(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	status := http.StatusCreated
	if result.Duplicate || result.Entry == nil {
		status = http.StatusOK
	}
	httpapi.OK(c, status, result)
}

func (h *Handler) Redeem(c *gin.Context) {
	var req RedeemRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}
	req.TenantID = tenantOf(c)
	req.BookingID = c.Param("booking_id")

	result, err := h.service.Redeem(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}

	if !result.Success {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"success": false,
			"code":    errutil.StatusUnprocessableEntity,
			"reason":  result.Reason,
			"error":   result.Message,
			"data":    result,
		})
		return
	}

	status := http.StatusCreated
	if result.Duplicate {
		status = http.StatusOK
	}
	httpapi.OK(c, status, result)
}

func (h *Handler) Adjust(c *gin.Context) {
	var req AdjustRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(errutil.BadRequest("invalid request body", err))
		return
	}
	req.TenantID = tenantOf(c)
	req.CustomerID = c.Param("customer_id")

	result, err := h.service.Adjust(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		return
	}
	httpapi.OK(c, http.StatusOK, result)
}

func (h *Handler) RunExpiry(c *gin.Context) {
	result, err := h.service.ExpireSweep(c.Request.Context(), tenantOf(c))
	if err != nil {
		_ = c.Error(err)
		return
	}
	httpapi.OK(c, http.StatusOK, result)
}
