package handler

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gofiber/fiber/v2"

	"illustrationapi/internal/model"
	"illustrationapi/internal/service"
	"illustrationapi/internal/storage"
	"illustrationapi/internal/vision"
)

const defaultMediaType = "image/png"

// ExtractDeps wires the extraction endpoint. When ConfigErr is set every
// request is answered with CONFIG_ERROR and Service is never called.
// Archive is optional.
type ExtractDeps struct {
	Service   service.ExtractionService
	ConfigErr error
	Archive   storage.Storage
	Logger    *slog.Logger
}

// extractRequest is the body of POST /api/extract.
type extractRequest struct {
	// Base64 page images, optionally as data URLs.
	Images []string `json:"images"`
	// Optional text layer per page, aligned with Images.
	PageTexts []string `json:"pageTexts"`
}

type extractResponse struct {
	Success   bool                    `json:"success"`
	RequestID string                  `json:"request_id"`
	Data      *model.ExtractionResult `json:"data"`
}

// magic prefixes of base64-encoded image headers
var sniffedTypes = []struct {
	prefix    string
	mediaType string
}{
	{"/9j/", "image/jpeg"},
	{"iVBOR", "image/png"},
	{"R0lGOD", "image/gif"},
	{"UklGR", "image/webp"},
}

// ExtractIllustration godoc
// @Summary      Extract an insurance illustration
// @Description  Reads carrier, product, policy terms, projected values and charges from page images.
// @Tags         extraction
// @Accept       json
// @Produce      json
// @Param        body  body      extractRequest  true  "Page images"
// @Success      200   {object}  extractResponse
// @Failure      400   {object}  errorPayload
// @Failure      413   {object}  errorPayload
// @Failure      500   {object}  errorPayload
// @Failure      502   {object}  errorPayload
// @Router       /api/extract [post]
func ExtractIllustration(d ExtractDeps) fiber.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return func(c *fiber.Ctx) error {
		rid := requestIDFromCtx(c)

		if d.ConfigErr != nil || d.Service == nil {
			logger.Error("http.extract.config", "req_id", rid, "error", d.ConfigErr)
			return writeError(c, fiber.StatusInternalServerError, "CONFIG_ERROR", "extraction is not configured on this server")
		}

		var body extractRequest
		if err := json.Unmarshal(c.Body(), &body); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "request body must be a JSON object")
		}
		if len(body.Images) == 0 {
			return writeError(c, fiber.StatusBadRequest, "IMAGES_REQUIRED", "images must contain at least one page")
		}

		images := make([]model.PageImage, len(body.Images))
		for i, raw := range body.Images {
			img, err := decodeImage(raw)
			if err != nil {
				return writeError(c, fiber.StatusBadRequest, "INVALID_IMAGE", fmt.Sprintf("image %d: %v", i, err))
			}
			images[i] = img
		}

		res, err := d.Service.Extract(c.UserContext(), service.ExtractRequest{
			Images:    images,
			PageTexts: body.PageTexts,
		})
		if err != nil {
			var se *vision.ServiceError
			switch {
			case errors.Is(err, service.ErrNoImages):
				return writeError(c, fiber.StatusBadRequest, "IMAGES_REQUIRED", "images must contain at least one page")
			case errors.As(err, &se):
				logger.Warn("http.extract.model_error", "req_id", rid, "status", se.StatusCode, "error", err)
				return writeError(c, fiber.StatusBadGateway, "MODEL_SERVICE_ERROR", se.Error())
			default:
				logger.Error("http.extract.failed", "req_id", rid, "error", err)
				return writeError(c, fiber.StatusInternalServerError, "INTERNAL_ERROR", "internal server error")
			}
		}

		if d.Archive != nil {
			if _, err := storage.PutResult(c.UserContext(), d.Archive, rid, res); err != nil {
				logger.Warn("http.extract.archive_failed", "req_id", rid, "error", err)
			}
		}

		return c.Status(fiber.StatusOK).JSON(extractResponse{
			Success:   true,
			RequestID: rid,
			Data:      res,
		})
	}
}

// decodeImage accepts raw base64 or a data URL and validates the payload.
func decodeImage(raw string) (model.PageImage, error) {
	data := strings.TrimSpace(raw)
	mediaType := ""

	if rest, ok := strings.CutPrefix(data, "data:"); ok {
		header, payload, found := strings.Cut(rest, ",")
		if !found {
			return model.PageImage{}, errors.New("malformed data URL")
		}
		mediaType, _, _ = strings.Cut(header, ";")
		data = payload
	}

	if data == "" {
		return model.PageImage{}, errors.New("empty image")
	}
	if _, err := base64.StdEncoding.DecodeString(data); err != nil {
		return model.PageImage{}, errors.New("not valid base64")
	}

	if mediaType == "" {
		mediaType = sniffMediaType(data)
	}
	return model.PageImage{Data: data, MediaType: mediaType}, nil
}

func sniffMediaType(b64 string) string {
	for _, s := range sniffedTypes {
		if strings.HasPrefix(b64, s.prefix) {
			return s.mediaType
		}
	}
	return defaultMediaType
}
