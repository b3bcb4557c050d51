package comfy

import (
	"context"
	"encoding/base64"
	"errors"

	"comfyui-workers/internal/common/logger"
	"comfyui-workers/internal/common/metrics"
)

const defaultImageType = "output"

var errEmptyImage = errors.New("empty image body")

// ImageSource is the part of Client the extractor needs.
type ImageSource interface {
	GetImage(ctx context.Context, ref ImageRef) ([]byte, error)
}

// Extraction is what ExtractImages managed to fetch.
type Extraction struct {
	Images []Image
	// Failed counts descriptors that could not be fetched.
	Failed int
}

func (e Extraction) Total() int {
	return len(e.Images) + e.Failed
}

// ExtractImages fetches and encodes every image in outputs. A failed fetch
// drops that image and the rest continue.
func ExtractImages(ctx context.Context, source ImageSource, outputs Outputs, log logger.Logger) Extraction {
	if log == nil {
		log = logger.NewNoOpLogger()
	}

	result := Extraction{Images: []Image{}}
	for _, nodeID := range outputs.NodeIDs() {
		for _, ref := range outputs[nodeID].Images {
			if ref.Filename == "" {
				continue
			}
			if ref.Type == "" {
				ref.Type = defaultImageType
			}

			data, err := source.GetImage(ctx, ref)
			if err == nil && len(data) == 0 {
				err = errEmptyImage
			}
			if err != nil {
				result.Failed++
				metrics.ImageFetchFailures.Inc()
				log.Error("failed to retrieve image", map[string]interface{}{
					"nodeId":   nodeID,
					"filename": ref.Filename,
					"error":    err.Error(),
				})
				continue
			}

			result.Images = append(result.Images, Image{
				Filename:  ref.Filename,
				Subfolder: ref.Subfolder,
				Type:      ref.Type,
				Data:      base64.StdEncoding.EncodeToString(data),
			})
			metrics.ImagesExtracted.Inc()
			log.Debug("encoded image", map[string]interface{}{
				"nodeId":   nodeID,
				"filename": ref.Filename,
				"bytes":    len(data),
			})
		}
	}

	log.Info("extracted images", map[string]interface{}{
		"images": len(result.Images),
		"failed": result.Failed,
	})
	return result
}
