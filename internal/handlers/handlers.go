package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/example/parking-anpr/internal/anpr"
	"github.com/example/parking-anpr/internal/usecase"
)

// MaxRequestBytes bounds the JSON body of scan requests.
const MaxRequestBytes = 15 << 20

const (
	serviceUnavailableMessage = "ANPR service is not available. Please ensure the service is running."
	missingImageMessage       = "No image provided. Please send a base64 encoded image."
	invalidImageMessage       = "Invalid image format. Expected base64 encoded image."
)

var base64Pattern = regexp.MustCompile(`^[A-Za-z0-9+/=]+$`)

// ScanService is what the HTTP layer needs from the scan use case.
type ScanService interface {
	ProcessWithLookup(ctx context.Context, imageBase64 string) (*usecase.ScanResult, error)
	ProcessBatchWithLookup(ctx context.Context, imagesBase64 []string) (*usecase.ScanResult, error)
	ServiceAvailable(ctx context.Context) bool
}

type processRequest struct {
	Image string `json:"image"`
}

type processBatchRequest struct {
	Images []string `json:"images"`
}

// RegisterRoutes wires the HTTP handlers to the Gin router. authMiddleware
// guards the scan endpoints; the health endpoints stay public.
func RegisterRoutes(router *gin.Engine, scans ScanService, authMiddleware ...gin.HandlerFunc) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api/anpr")

	api.GET("/health", func(c *gin.Context) {
		available := scans.ServiceAvailable(c.Request.Context())
		status := "unavailable"
		if available {
			status = anpr.HealthyStatus
		}
		c.JSON(http.StatusOK, gin.H{"status": status, "serviceAvailable": available})
	})

	process := append(append([]gin.HandlerFunc{}, authMiddleware...), func(c *gin.Context) {
		var req processRequest
		if !bindLimited(c, &req) {
			return
		}
		image, problem := normalizeImage(req.Image)
		if problem != "" {
			badRequest(c, problem)
			return
		}

		scan, err := scans.ProcessWithLookup(c.Request.Context(), image)
		if err != nil {
			respondRecognitionError(c, err)
			return
		}
		respondScan(c, scan)
	})
	api.POST("/process", process...)

	processBatch := append(append([]gin.HandlerFunc{}, authMiddleware...), func(c *gin.Context) {
		var req processBatchRequest
		if !bindLimited(c, &req) {
			return
		}
		if len(req.Images) == 0 {
			badRequest(c, "No images array provided.")
			return
		}
		images := make([]string, 0, len(req.Images))
		for i, raw := range req.Images {
			image, problem := normalizeImage(raw)
			if problem != "" {
				badRequest(c, fmt.Sprintf("image %d: %s", i, problem))
				return
			}
			images = append(images, image)
		}

		scan, err := scans.ProcessBatchWithLookup(c.Request.Context(), images)
		if err != nil {
			respondRecognitionError(c, err)
			return
		}
		respondScan(c, scan)
	})
	api.POST("/process-batch", processBatch...)
}

func bindLimited(c *gin.Context, target any) bool {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, MaxRequestBytes)
	if err := c.ShouldBindJSON(target); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			c.AbortWithStatusJSON(http.StatusRequestEntityTooLarge, gin.H{"success": false, "error": "request body too large"})
			return false
		}
		badRequest(c, "Invalid JSON body.")
		return false
	}
	return true
}

// normalizeImage accepts a data URL or bare base64 and returns bare base64.
// A non-empty problem is the client-facing reason the image was rejected.
func normalizeImage(raw string) (image, problem string) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", missingImageMessage
	}
	if strings.HasPrefix(raw, "data:image/") {
		_, payload, ok := strings.Cut(raw, ",")
		if !ok || payload == "" || !base64Pattern.MatchString(payload) {
			return "", invalidImageMessage
		}
		return payload, ""
	}
	if !base64Pattern.MatchString(raw) {
		return "", invalidImageMessage
	}
	return raw, ""
}

func respondScan(c *gin.Context, scan *usecase.ScanResult) {
	c.JSON(http.StatusOK, gin.H{
		"success":    true,
		"request_id": scan.RequestID,
		"detections": scan.Detections,
		"vehicles":   scan.Vehicles,
		"summary":    scan.Summary,
	})
}

func respondRecognitionError(c *gin.Context, err error) {
	status, message := http.StatusInternalServerError, "ANPR processing failed"

	var (
		httpErr    *anpr.ServiceHTTPError
		logicalErr *anpr.ServiceLogicalError
	)
	switch {
	case errors.Is(err, anpr.ErrEmptyImage):
		status, message = http.StatusBadRequest, missingImageMessage
	case anpr.Kind(err) == anpr.KindTransport:
		status, message = http.StatusServiceUnavailable, serviceUnavailableMessage
	case errors.As(err, &httpErr):
		status, message = http.StatusBadGateway, fmt.Sprintf("ANPR request failed (%d)", httpErr.StatusCode)
	case errors.As(err, &logicalErr):
		status, message = http.StatusUnprocessableEntity, logicalErr.Message
	case anpr.Kind(err) == anpr.KindMalformedResponse:
		status, message = http.StatusBadGateway, "ANPR service returned an unexpected response"
	}

	c.JSON(status, gin.H{"success": false, "error": message, "kind": anpr.Kind(err).String()})
}

func badRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"success": false, "error": message})
}
