package http

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/quangminh-smart-border/consignment-service/internal/model"
	"github.com/quangminh-smart-border/consignment-service/internal/repo"
	"github.com/quangminh-smart-border/consignment-service/internal/service"
	"gorm.io/datatypes"
)

const (
	codeNotFound   = "RESOURCE_NOT_FOUND"
	codeConflict   = "CONFLICT"
	codeValidation = "VALIDATION_ERROR"
	codeInternal   = "INTERNAL_ERROR"
)

// RegisterHandlers mounts the /v1 API. Lookup routes are public; the rest need the api key.
func RegisterHandlers(r *gin.Engine, svc *service.ConsignmentService, apiKey string) {
	v1 := r.Group("/v1")

	public := v1.Group("/consignments/lookup")
	{
		public.GET("", batchLookupHandler(svc))
		public.GET("/:trackingNumber", lookupHandler(svc))
	}

	writers := []string{model.RoleAdmin, model.RoleOps}
	readers := []string{model.RoleAdmin, model.RoleOps, model.RoleSales}

	staff := v1.Group("", APIKeyMiddleware(apiKey), ActorMiddleware())
	{
		staff.POST("/consignments", RequireRole(writers...), createHandler(svc))
		staff.PATCH("/consignments/:trackingNumber", RequireRole(writers...), updateHandler(svc))
		staff.DELETE("/consignments/:trackingNumber", RequireRole(model.RoleAdmin), deleteHandler(svc))
		staff.POST("/consignments/:trackingNumber/events", RequireRole(writers...), appendEventHandler(svc))
		staff.GET("/consignments/:trackingNumber/events", RequireRole(readers...), listEventsHandler(svc))
	}

	admin := staff.Group("/admin")
	{
		admin.GET("/consignments", RequireRole(readers...), listHandler(svc))
		admin.GET("/consignments/stats", RequireRole(readers...), statsHandler(svc))
		admin.GET("/consignments/:id", RequireRole(readers...), getByIDHandler(svc))
		admin.PATCH("/consignments/:id", RequireRole(writers...), updateByIDHandler(svc))
		admin.DELETE("/consignments/:id", RequireRole(model.RoleAdmin), deleteByIDHandler(svc))
		admin.DELETE("/users/:id", RequireRole(model.RoleAdmin), deleteUserHandler(svc))
	}
}

func errorBody(code, msg string) gin.H {
	return gin.H{"code": code, "message": msg}
}

// respondError maps service errors onto status codes. Unexpected errors are hidden from the client.
func respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		c.JSON(http.StatusNotFound, errorBody(codeNotFound, err.Error()))
	case errors.Is(err, service.ErrConflict), errors.Is(err, repo.ErrVersionConflict):
		c.JSON(http.StatusConflict, errorBody(codeConflict, err.Error()))
	case errors.Is(err, service.ErrValidation):
		c.JSON(http.StatusBadRequest, errorBody(codeValidation, err.Error()))
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, errorBody(codeInternal, "internal error"))
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, errorBody(codeValidation, msg))
}

func idParam(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "invalid id")
		return 0, false
	}
	return id, true
}

type createReq struct {
	TrackingNumber        string         `json:"trackingNumber" binding:"required,max=100"`
	Origin                string         `json:"origin" binding:"required,max=255"`
	Destination           string         `json:"destination" binding:"required,max=255"`
	CustomerID            *uint64        `json:"customerId"`
	EstimatedDeliveryDate *time.Time     `json:"estimatedDeliveryDate"`
	Metadata              datatypes.JSON `json:"metadata"`
}

func createHandler(svc *service.ConsignmentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		out, err := svc.Create(c.Request.Context(), service.CreateInput{
			TrackingNumber:        req.TrackingNumber,
			Origin:                req.Origin,
			Destination:           req.Destination,
			CustomerID:            req.CustomerID,
			EstimatedDeliveryDate: req.EstimatedDeliveryDate,
			Metadata:              req.Metadata,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, out)
	}
}

func lookupHandler(svc *service.ConsignmentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := svc.Get(c.Request.Context(), c.Param("trackingNumber"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func batchLookupHandler(svc *service.ConsignmentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := svc.BatchLookup(c.Request.Context(), c.Query("trackingNumbers"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

type updateReq struct {
	Origin                *string        `json:"origin" binding:"omitempty,max=255"`
	Destination           *string        `json:"destination" binding:"omitempty,max=255"`
	Status                *string        `json:"status"`
	CustomerID            *uint64        `json:"customerId"`
	EstimatedDeliveryDate *time.Time     `json:"estimatedDeliveryDate"`
	Metadata              datatypes.JSON `json:"metadata"`
}

func (r updateReq) input() service.UpdateInput {
	return service.UpdateInput{
		Origin:                r.Origin,
		Destination:           r.Destination,
		Status:                r.Status,
		CustomerID:            r.CustomerID,
		EstimatedDeliveryDate: r.EstimatedDeliveryDate,
		Metadata:              r.Metadata,
	}
}

func updateHandler(svc *service.ConsignmentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req updateReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		out, err := svc.Update(c.Request.Context(), c.Param("trackingNumber"), req.input())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func updateByIDHandler(svc *service.ConsignmentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		var req updateReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		out, err := svc.UpdateByID(c.Request.Context(), id, req.input())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

type eventReq struct {
	EventCode      string     `json:"eventCode" binding:"required,max=50"`
	Description    string     `json:"description" binding:"required"`
	EventTime      *time.Time `json:"eventTime"`
	Location       *string    `json:"location" binding:"omitempty,max=255"`
	Geo            *string    `json:"geo" binding:"omitempty,max=64"`
	IdempotencyKey string     `json:"idempotencyKey" binding:"max=64"`
}

type eventResp struct {
	*model.TrackingEvent
	Status            string   `json:"status"`
	PredictedEtaHours *float64 `json:"predictedEtaHours"`
	Warnings          []string `json:"warnings,omitempty"`
}

func appendEventHandler(svc *service.ConsignmentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req eventReq
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		res, err := svc.AppendEvent(c.Request.Context(), c.Param("trackingNumber"), service.EventInput{
			EventCode:      req.EventCode,
			Description:    req.Description,
			EventTime:      req.EventTime,
			Location:       req.Location,
			Geo:            req.Geo,
			IdempotencyKey: req.IdempotencyKey,
		}, actorFrom(c))
		if err != nil {
			respondError(c, err)
			return
		}
		status := http.StatusCreated
		if res.Duplicate {
			status = http.StatusOK
		}
		c.JSON(status, eventResp{
			TrackingEvent:     res.Event,
			Status:            res.Consignment.Status,
			PredictedEtaHours: res.Consignment.PredictedEtaHours,
			Warnings:          res.Warnings,
		})
	}
}

func listEventsHandler(svc *service.ConsignmentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		out, err := svc.ListEvents(c.Request.Context(), c.Param("trackingNumber"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

func deleteHandler(svc *service.ConsignmentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := svc.Delete(c.Request.Context(), c.Param("trackingNumber")); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func deleteByIDHandler(svc *service.ConsignmentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		if err := svc.DeleteByID(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}

func getByIDHandler(svc *service.ConsignmentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		out, err := svc.GetByID(c.Request.Context(), id)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, out)
	}
}

type listReq struct {
	Page        int    `form:"page"`
	Limit       int    `form:"limit"`
	Status      string `form:"status"`
	Origin      string `form:"origin"`
	Destination string `form:"destination"`
	Q           string `form:"q"`
	SortBy      string `form:"sortBy"`
	SortOrder   string `form:"sortOrder"`
}

func listHandler(svc *service.ConsignmentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req listReq
		if err := c.ShouldBindQuery(&req); err != nil {
			badRequest(c, err.Error())
			return
		}
		page, err := svc.List(c.Request.Context(), service.ListQuery{
			Page:        req.Page,
			Limit:       req.Limit,
			Status:      req.Status,
			Origin:      req.Origin,
			Destination: req.Destination,
			Search:      req.Q,
			SortBy:      req.SortBy,
			SortOrder:   req.SortOrder,
		})
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, page)
	}
}

func statsHandler(svc *service.ConsignmentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		st, err := svc.Stats(c.Request.Context())
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, st)
	}
}

func deleteUserHandler(svc *service.ConsignmentService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, ok := idParam(c)
		if !ok {
			return
		}
		if err := svc.DeleteUser(c.Request.Context(), id); err != nil {
			respondError(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
