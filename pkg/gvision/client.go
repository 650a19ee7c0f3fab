// Package gvision implements the detect.Detector capability on top of the
// Google Cloud Vision object localization API.
package gvision

import (
	"context"
	"fmt"

	vision "cloud.google.com/go/vision/v2/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"

	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/detect"
	"github.com/weijie-hipvan/pt-google-lens-backend/pkg/types"
)

// Client wraps the Cloud Vision image annotator.
type Client struct {
	annotator *vision.ImageAnnotatorClient
}

// NewClient creates a Cloud Vision backed detector. Credentials come from the
// environment unless overridden through opts.
func NewClient(ctx context.Context, opts ...option.ClientOption) (*Client, error) {
	annotator, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create vision client: %w", err)
	}
	return &Client{annotator: annotator}, nil
}

// Close releases the underlying gRPC connection.
func (c *Client) Close() error {
	return c.annotator.Close()
}

// Detect sends the image once and requests object localization with the fixed
// result cap. Any transport or service error fails the whole call.
func (c *Client) Detect(ctx context.Context, imageBytes []byte) ([]types.DetectedObject, error) {
	batchResp, err := c.annotator.BatchAnnotateImages(ctx, &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image: &visionpb.Image{Content: imageBytes},
			Features: []*visionpb.Feature{{
				Type:       visionpb.Feature_OBJECT_LOCALIZATION,
				MaxResults: detect.MaxObjects,
			}},
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", detect.ErrDetectionFailed, err)
	}
	if len(batchResp.Responses) == 0 {
		return nil, fmt.Errorf("%w: empty batch response", detect.ErrDetectionFailed)
	}
	resp := batchResp.Responses[0]
	if resp.Error != nil {
		return nil, fmt.Errorf("%w: %s", detect.ErrDetectionFailed, resp.Error.Message)
	}

	objects := make([]types.DetectedObject, 0, len(resp.LocalizedObjectAnnotations))
	for _, ann := range resp.LocalizedObjectAnnotations {
		obj := types.DetectedObject{
			Label:      ann.Name,
			Confidence: float64(ann.Score),
		}
		if poly := ann.BoundingPoly; poly != nil {
			pts := make([]detect.Point, 0, len(poly.NormalizedVertices))
			for _, v := range poly.NormalizedVertices {
				pts = append(pts, detect.Point{X: float64(v.X), Y: float64(v.Y)})
			}
			obj.Box = detect.BoxFromPolygon(pts)
		}
		objects = append(objects, obj)
	}
	return objects, nil
}
