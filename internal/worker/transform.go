package worker

import (
	"context"
	"multimodal/internal/apperrors"
	"multimodal/internal/storage"
	"net/http"
)

// ImageTransformer calls a Hugging Face image-to-image model.
type ImageTransformer struct {
	client   *Client
	apiKey   string
	modelURL string
}

// NewImageTransformer creates the image-to-image adapter.
func NewImageTransformer(client *Client, cfg Config) *ImageTransformer {
	cfg = cfg.withDefaults()
	return &ImageTransformer{client: client, apiKey: cfg.HFAPIKey, modelURL: cfg.TransformModelURL}
}

func (a *ImageTransformer) Name() string { return "img2img" }

// Invoke transforms the image behind req.ImageURL. Options: style.
func (a *ImageTransformer) Invoke(ctx context.Context, req Request) (*Result, error) {
	if a.apiKey == "" {
		return nil, apperrors.Configuration("img2img", "HUGGINGFACE_API_KEY not configured")
	}
	image, err := a.client.FetchInput(ctx, "image_url", req.ImageURL)
	if err != nil {
		return nil, err
	}

	fields := map[string]string{}
	if style := req.Options.String("style", ""); style != "" {
		fields["style"] = style
	}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+a.apiKey)

	out, err := multipartCall(a.modelURL, header, filePart{
		field:       "image",
		filename:    "image" + storage.Extension(image, storage.KindImage),
		contentType: mediaType(image, "image/png"),
		data:        image,
	}, fields)
	if err != nil {
		return nil, apperrors.Internal("img2img.request", err)
	}
	rep, err := a.client.send(ctx, ProviderHuggingFace, out)
	if err != nil {
		return nil, err
	}

	ref, err := a.client.storeArtifact(ctx, ProviderHuggingFace, rep.body, storage.KindImage)
	if err != nil {
		return nil, err
	}
	return &Result{Kind: OutputImage, Ref: ref, Provider: modelName(a.modelURL)}, nil
}
