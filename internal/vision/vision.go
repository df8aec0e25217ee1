// Package vision runs SafeSearch and OCR over generated panel images.
package vision

import (
	"context"
	"fmt"
	"strings"

	vision "cloud.google.com/go/vision/v2/apiv1"
	visionpb "cloud.google.com/go/vision/v2/apiv1/visionpb"
	"google.golang.org/api/option"

	"github.com/agenthands/genesis/internal/llm"
	"github.com/agenthands/genesis/internal/logger"
)

// Result is what one annotate call reports about an image.
type Result struct {
	// Risks maps a SafeSearch category to a probability in [0,1].
	Risks map[string]float64
	// Text is any text painted into the image.
	Text string
}

type annotateFunc func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error)

type Client struct {
	annotate annotateFunc
	close    func() error
	log      *logger.Logger
}

// New dials the Image Annotator API. credentials may be a file path, inline
// JSON, or empty for application default credentials.
func New(ctx context.Context, credentials string, log *logger.Logger) (*Client, error) {
	var opts []option.ClientOption
	creds := strings.TrimSpace(credentials)
	switch {
	case creds == "":
	case strings.HasPrefix(creds, "{"):
		opts = append(opts, option.WithCredentialsJSON([]byte(creds)))
	default:
		opts = append(opts, option.WithCredentialsFile(creds))
	}
	c, err := vision.NewImageAnnotatorClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("vision client: %w", err)
	}
	return &Client{
		annotate: func(ctx context.Context, req *visionpb.BatchAnnotateImagesRequest) (*visionpb.BatchAnnotateImagesResponse, error) {
			return c.BatchAnnotateImages(ctx, req)
		},
		close: c.Close,
		log:   log.With("component", "vision"),
	}, nil
}

func (c *Client) Close() error {
	if c == nil || c.close == nil {
		return nil
	}
	return c.close()
}

// Annotate requests SafeSearch and text detection for the image at uri in a
// single call.
func (c *Client) Annotate(ctx context.Context, uri string) (Result, error) {
	req := &visionpb.BatchAnnotateImagesRequest{
		Requests: []*visionpb.AnnotateImageRequest{{
			Image: &visionpb.Image{Source: &visionpb.ImageSource{ImageUri: uri}},
			Features: []*visionpb.Feature{
				{Type: visionpb.Feature_SAFE_SEARCH_DETECTION},
				{Type: visionpb.Feature_TEXT_DETECTION},
			},
		}},
	}
	resp, err := c.annotate(ctx, req)
	if err != nil {
		return Result{}, llm.Classify(err, "vision annotate")
	}
	if resp == nil || len(resp.Responses) == 0 || resp.Responses[0] == nil {
		return Result{}, llm.Classify(fmt.Errorf("empty annotate response"), "vision annotate")
	}
	r0 := resp.Responses[0]
	if r0.Error != nil && r0.Error.Message != "" {
		return Result{}, llm.Classify(fmt.Errorf("vision annotate error: %s", r0.Error.Message), "vision annotate")
	}

	out := Result{Risks: map[string]float64{}}
	if ss := r0.SafeSearchAnnotation; ss != nil {
		out.Risks["adult"] = Likelihood(ss.Adult)
		out.Risks["violence"] = Likelihood(ss.Violence)
		out.Risks["racy"] = Likelihood(ss.Racy)
		out.Risks["medical"] = Likelihood(ss.Medical)
		out.Risks["spoof"] = Likelihood(ss.Spoof)
	} else if c.log != nil {
		c.log.Warn("no safe search annotation", "uri", uri)
	}
	// The first text annotation holds the full detected text.
	if len(r0.TextAnnotations) > 0 && r0.TextAnnotations[0] != nil {
		out.Text = strings.Join(strings.Fields(r0.TextAnnotations[0].Description), " ")
	}
	return out, nil
}

// Likelihood converts a SafeSearch bucket to a probability.
func Likelihood(l visionpb.Likelihood) float64 {
	switch l {
	case visionpb.Likelihood_UNLIKELY:
		return 0.1
	case visionpb.Likelihood_POSSIBLE:
		return 0.4
	case visionpb.Likelihood_LIKELY:
		return 0.75
	case visionpb.Likelihood_VERY_LIKELY:
		return 0.95
	default:
		return 0
	}
}
