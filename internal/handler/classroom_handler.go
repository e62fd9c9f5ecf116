package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/classroom-checkin-api/internal/dto"
	"github.com/noah-isme/classroom-checkin-api/internal/models"
	"github.com/noah-isme/classroom-checkin-api/internal/service"
	appErrors "github.com/noah-isme/classroom-checkin-api/pkg/errors"
	"github.com/noah-isme/classroom-checkin-api/pkg/response"
)

type attendanceService interface {
	LoadClassroomView(ctx context.Context, classroomID string) (*models.ClassroomView, error)
	CreateCheckinSession(ctx context.Context, classroomID string, owner *models.Identity) ([]models.CheckinSession, error)
	ScoreSheet(ctx context.Context, classroomID, sessionID string) (*models.ScoreSheet, error)
}

type scoreSheetExporter interface {
	RenderScoreSheet(sheet *models.ScoreSheet, format string) (*service.ExportFile, error)
}

type qrCodeRenderer interface {
	Render(classroomID string, size int) ([]byte, error)
}

// ClassroomHandler exposes the classroom page and check-in endpoints.
type ClassroomHandler struct {
	attendance attendanceService
	exporter   scoreSheetExporter
	qrcode     qrCodeRenderer
	validator  *validator.Validate
}

// NewClassroomHandler builds a new handler.
func NewClassroomHandler(attendance attendanceService, exporter scoreSheetExporter, qrcode qrCodeRenderer, validate *validator.Validate) *ClassroomHandler {
	if validate == nil {
		validate = validator.New()
	}
	return &ClassroomHandler{attendance: attendance, exporter: exporter, qrcode: qrcode, validator: validate}
}

// View godoc
// @Summary Classroom page: course card, roster and check-in history
// @Tags Classrooms
// @Produce json
// @Param cid path string true "Classroom ID"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /classrooms/{cid} [get]
func (h *ClassroomHandler) View(c *gin.Context) {
	view, err := h.attendance.LoadClassroomView(c.Request.Context(), c.Param("cid"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, dto.NewClassroomViewResponse(view))
}

// CreateCheckin godoc
// @Summary Start a check-in session and snapshot the roster
// @Tags Classrooms
// @Produce json
// @Security BearerAuth
// @Param cid path string true "Classroom ID"
// @Success 201 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Failure 502 {object} response.Envelope
// @Failure 503 {object} response.Envelope
// @Router /classrooms/{cid}/checkins [post]
func (h *ClassroomHandler) CreateCheckin(c *gin.Context) {
	classroomID := c.Param("cid")
	history, err := h.attendance.CreateCheckinSession(c.Request.Context(), classroomID, identityFromContext(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, dto.CheckinHistoryResponse{ClassroomID: classroomID, History: dto.NewHistoryRows(history)})
}

// Scores godoc
// @Summary Score records of a check-in session
// @Tags Classrooms
// @Produce json,text/csv,application/pdf
// @Param cid path string true "Classroom ID"
// @Param sessionId path string true "Check-in session ID"
// @Param format query string false "json (default), csv or pdf"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /classrooms/{cid}/checkins/{sessionId}/scores [get]
func (h *ClassroomHandler) Scores(c *gin.Context) {
	query := dto.ScoresQuery{Format: c.Query("format")}
	if err := h.validator.Struct(query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "format must be json, csv or pdf"))
		return
	}

	sheet, err := h.attendance.ScoreSheet(c.Request.Context(), c.Param("cid"), c.Param("sessionId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	if query.Format == "" || query.Format == "json" {
		response.JSON(c, http.StatusOK, sheet)
		return
	}

	file, err := h.exporter.RenderScoreSheet(sheet, query.Format)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Data)
}

// QRCode godoc
// @Summary QR code whose payload is the classroom id
// @Tags Classrooms
// @Produce png
// @Param cid path string true "Classroom ID"
// @Param size query int false "Edge length in pixels (32-1024)"
// @Success 200 {file} binary
// @Failure 400 {object} response.Envelope
// @Router /classrooms/{cid}/qrcode [get]
func (h *ClassroomHandler) QRCode(c *gin.Context) {
	var query dto.QRCodeQuery
	if raw := c.Query("size"); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "size must be an integer"))
			return
		}
		query.Size = size
	}
	if err := h.validator.Struct(query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "size must be between 32 and 1024"))
		return
	}

	png, err := h.qrcode.Render(c.Param("cid"), query.Size)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Cache-Control", "public, max-age=3600")
	c.Data(http.StatusOK, "image/png", png)
}
