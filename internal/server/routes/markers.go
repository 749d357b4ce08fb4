package routes

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"io"
	"mime/multipart"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/ar-cache/internal/marker"
)

const (
	minMarkerOutput = 64
	maxMarkerOutput = 4096
)

// RegisterMarkerRoutes 暴露 /-/markers 系列接口：.patt 编码、标记图生成与质量报告。
func RegisterMarkerRoutes(app *fiber.App, logger *logrus.Logger) {
	if app == nil {
		return
	}

	app.Post("/-/markers/pattern", func(c fiber.Ctx) error {
		img, report, err := readMarkerUpload(c)
		if err != nil {
			return renderMarkerError(c, logger, err)
		}
		if len(report.Warnings) > 0 {
			c.Set("X-AR-Marker-Warnings", strings.Join(report.Warnings, "; "))
		}
		c.Set(fiber.HeaderContentType, "text/plain; charset=utf-8")
		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf(`attachment; filename="marker-%d.patt"`, time.Now().Unix()))
		return c.SendString(marker.EncodePattern(img))
	})

	app.Post("/-/markers/image", func(c fiber.Ctx) error {
		img, report, err := readMarkerUpload(c)
		if err != nil {
			return renderMarkerError(c, logger, err)
		}
		opts, err := markerOptionsFromForm(c)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_marker_options", "reason": err.Error()})
		}

		var buf bytes.Buffer
		if err := imaging.Encode(&buf, marker.BuildMarker(img, opts), imaging.PNG); err != nil {
			return err
		}
		if len(report.Warnings) > 0 {
			c.Set("X-AR-Marker-Warnings", strings.Join(report.Warnings, "; "))
		}
		c.Set(fiber.HeaderContentType, "image/png")
		return c.Send(buf.Bytes())
	})

	app.Post("/-/markers/report", func(c fiber.Ctx) error {
		_, report, err := readMarkerUpload(c)
		if err != nil {
			return renderMarkerError(c, logger, err)
		}
		return c.JSON(report)
	})
}

func readMarkerUpload(c fiber.Ctx) (image.Image, marker.Report, error) {
	header, err := c.FormFile("image")
	if err != nil {
		return nil, marker.Report{}, fmt.Errorf("%w: image field required", marker.ErrInvalidMarker)
	}
	if err := marker.CheckUpload(header.Filename, header.Size); err != nil {
		return nil, marker.Report{}, err
	}
	img, err := decodeUpload(header)
	if err != nil {
		return nil, marker.Report{}, err
	}
	report, err := marker.Validate(header.Filename, header.Size, img)
	if err != nil {
		return nil, marker.Report{}, err
	}
	return img, report, nil
}

func decodeUpload(header *multipart.FileHeader) (image.Image, error) {
	file, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer file.Close()
	return marker.Decode(io.LimitReader(file, marker.MaxMarkerBytes+1))
}

func markerOptionsFromForm(c fiber.Ctx) (marker.MarkerOptions, error) {
	var opts marker.MarkerOptions
	if raw := strings.TrimSpace(c.FormValue("ratio")); raw != "" {
		ratio, err := strconv.ParseFloat(raw, 64)
		if err != nil || ratio <= 0 || ratio > 1 {
			return opts, errors.New("ratio must be in (0, 1]")
		}
		opts.PatternRatio = ratio
	}
	if raw := strings.TrimSpace(c.FormValue("size")); raw != "" {
		size, err := strconv.Atoi(raw)
		if err != nil || size < minMarkerOutput || size > maxMarkerOutput {
			return opts, fmt.Errorf("size must be between %d and %d", minMarkerOutput, maxMarkerOutput)
		}
		opts.Size = size
	}
	if raw := strings.TrimSpace(c.FormValue("full")); raw != "" {
		full, err := strconv.ParseBool(raw)
		if err != nil {
			return opts, errors.New("full must be a boolean")
		}
		opts.FullImage = full
	}
	if raw := strings.TrimSpace(c.FormValue("border")); raw != "" {
		border, err := marker.ParseHexColor(raw)
		if err != nil {
			return opts, err
		}
		opts.BorderColor = border
	}
	return opts, nil
}

func renderMarkerError(c fiber.Ctx, logger *logrus.Logger, err error) error {
	if !errors.Is(err, marker.ErrInvalidMarker) {
		return err
	}
	if logger != nil {
		logger.WithFields(logrus.Fields{
			"action": "marker_upload",
		}).Info(err.Error())
	}
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":  "invalid_marker",
		"reason": err.Error(),
	})
}
