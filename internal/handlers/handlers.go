package handlers

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/suriyathilakam/image-comparison-service/internal/imagecompare"
	"github.com/suriyathilakam/image-comparison-service/internal/usecase"
)

// MaxUploadSize is the default cap on uploaded image size.
const MaxUploadSize = 10 << 20

// Extensions accepted for upload and comparison.
var allowedExtensions = map[string]struct{}{
	"png": {}, "jpg": {}, "jpeg": {}, "gif": {}, "bmp": {}, "tiff": {},
}

// RegisterRoutes wires the HTTP handlers to the Gin router.
func RegisterRoutes(router *gin.Engine, uc *usecase.ImageUseCase, maxUploadBytes int64) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	router.POST("/upload-image", func(c *gin.Context) {
		file, ok := requireImageFile(c, maxUploadBytes)
		if !ok {
			return
		}

		data, err := readFormFile(file)
		if err != nil {
			fail(c, http.StatusInternalServerError, "Failed to read image")
			return
		}

		filename := sanitizeFilename(file.Filename)
		name := c.PostForm("name")
		if name == "" {
			name = filename
		}

		img, err := uc.UploadImage(c.Request.Context(), name, filename, data)
		if err != nil {
			fail(c, http.StatusInternalServerError, "Failed to store image")
			return
		}

		c.JSON(http.StatusCreated, gin.H{
			"success":  true,
			"message":  "Image uploaded successfully",
			"image_id": img.ID,
		})
	})

	router.POST("/compare-image", func(c *gin.Context) {
		rawID := c.PostForm("image_id")
		if rawID == "" {
			fail(c, http.StatusBadRequest, "image_id is required")
			return
		}
		imageID, err := strconv.ParseUint(rawID, 10, 32)
		if err != nil {
			fail(c, http.StatusBadRequest, "image_id must be a number")
			return
		}

		file, ok := requireImageFile(c, maxUploadBytes)
		if !ok {
			return
		}

		method, err := imagecompare.ParseMethod(c.PostForm("comparison_method"))
		if err != nil {
			fail(c, http.StatusBadRequest, `Invalid comparison method. Use "hash", "normalized_hash", "perceptual", or "content"`)
			return
		}

		data, err := readFormFile(file)
		if err != nil {
			fail(c, http.StatusInternalServerError, "Failed to read image")
			return
		}

		requestID, result, err := uc.CompareImage(c.Request.Context(), uint(imageID), method, data)
		if err != nil {
			switch {
			case errors.Is(err, usecase.ErrImageNotFound):
				fail(c, http.StatusNotFound, "Image not found in database")
			case errors.Is(err, imagecompare.ErrDecode):
				fail(c, http.StatusBadRequest, "Unable to decode image")
			default:
				fail(c, http.StatusInternalServerError, "Internal server error")
			}
			return
		}

		c.JSON(http.StatusOK, comparisonResponse(requestID, result))
	})

	router.GET("/images/:id", func(c *gin.Context) {
		imageID, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			fail(c, http.StatusBadRequest, "id must be a number")
			return
		}

		img, err := uc.GetImageMeta(c.Request.Context(), uint(imageID))
		if err != nil {
			if errors.Is(err, usecase.ErrImageNotFound) {
				fail(c, http.StatusNotFound, "Image not found in database")
				return
			}
			fail(c, http.StatusInternalServerError, "Internal server error")
			return
		}

		c.JSON(http.StatusOK, gin.H{
			"success": true,
			"image": gin.H{
				"image_id":   img.ID,
				"name":       img.Name,
				"filename":   img.Filename,
				"size_bytes": img.SizeBytes,
				"sha256":     img.SHA256,
				"created_at": img.CreatedAt,
			},
		})
	})

	router.GET("/metrics/summary", func(c *gin.Context) {
		summary, err := uc.GetMetricsSummary(c.Request.Context())
		if err != nil {
			fail(c, http.StatusInternalServerError, "Internal server error")
			return
		}
		c.JSON(http.StatusOK, summary)
	})
}

// requireImageFile validates the "file" form field: present, named, an
// allowed image extension, and within the size cap. On failure it writes the
// error response and returns ok=false.
func requireImageFile(c *gin.Context, maxUploadBytes int64) (*multipart.FileHeader, bool) {
	file, err := c.FormFile("file")
	if err != nil {
		fail(c, http.StatusBadRequest, "No file provided")
		return nil, false
	}
	if file.Filename == "" {
		fail(c, http.StatusBadRequest, "No file selected")
		return nil, false
	}
	if !allowedFile(file.Filename) {
		fail(c, http.StatusBadRequest, "File type not allowed")
		return nil, false
	}
	if maxUploadBytes > 0 && file.Size > maxUploadBytes {
		fail(c, http.StatusRequestEntityTooLarge, "File too large")
		return nil, false
	}
	return file, true
}

func readFormFile(file *multipart.FileHeader) ([]byte, error) {
	src, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return io.ReadAll(src)
}

func allowedFile(filename string) bool {
	idx := strings.LastIndex(filename, ".")
	if idx < 0 {
		return false
	}
	_, ok := allowedExtensions[strings.ToLower(filename[idx+1:])]
	return ok
}

// sanitizeFilename strips path components and characters outside a
// conservative allowlist.
func sanitizeFilename(filename string) string {
	base := filepath.Base(strings.ReplaceAll(filename, "\\", "/"))
	var b strings.Builder
	for _, r := range base {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

func comparisonResponse(requestID string, result *imagecompare.Result) gin.H {
	message := "not same"
	if result.Match {
		message = "same"
	}

	response := gin.H{
		"success":           true,
		"request_id":        requestID,
		"is_same":           result.Match,
		"comparison_method": string(result.Method),
		"message":           message,
		"note":              result.Note,
	}
	switch result.Method {
	case imagecompare.MethodPerceptual:
		response["similarity_score"] = result.Score
		response["hamming_distance"] = result.HammingDistance
	case imagecompare.MethodContent:
		response["similarity_score"] = result.Score
	}
	return response
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "message": message})
}
