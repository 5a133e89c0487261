package client

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
)

const (
	fileField   = "file"
	promptField = "prompt"
	// SketchFilename is the name given to the uploaded sketch
	SketchFilename = "sketch.png"
)

// maxResponseBytes bounds how much of a response body is read
const maxResponseBytes = 64 << 20

// Generate posts a PNG sketch and a prompt to the service and returns the decoded result.
// The prompt field is always sent, even when empty.
//
// Errors are one of: an ErrTransport wrap when the service cannot be reached,
// a *ServerError for non-2xx statuses, or an ErrMalformedResponse wrap when the body
// is not the expected JSON object carrying a base64 PNG.
func (c *Client) Generate(ctx context.Context, sketch []byte, prompt string) (*GenerateResponse, error) {
	// Create a buffer to store the request body
	var requestBody bytes.Buffer

	// Create a multipart writer to wrap the file (like FormData)
	writer := multipart.NewWriter(&requestBody)

	// the service validates the part's content type, so the part is built by hand
	// rather than with CreateFormFile, which always says application/octet-stream
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, fileField, SketchFilename))
	h.Set("Content-Type", "image/png")
	formFile, err := writer.CreatePart(h)
	if err != nil {
		return nil, err
	}
	if _, err = formFile.Write(sketch); err != nil {
		return nil, err
	}

	if err = writer.WriteField(promptField, prompt); err != nil {
		return nil, err
	}

	// Close the writer to finalize the body content
	if err = writer.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", &requestBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set(ClientIDHeader, c.clientid)

	logger().Debug("posting sketch", "bytes", len(sketch), "prompt", prompt)
	resp, err := c.httpclient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		serr := &ServerError{StatusCode: resp.StatusCode}
		eb := &errorBody{}
		if json.Unmarshal(body, eb) == nil {
			serr.Detail = eb.Detail
			if serr.Detail == "" {
				serr.Detail = eb.Error
			}
		}
		logger().Warn("generation rejected", "status", resp.StatusCode, "detail", serr.Detail)
		return nil, serr
	}

	return decodeGenerateResponse(body)
}

func decodeGenerateResponse(body []byte) (*GenerateResponse, error) {
	retv := &GenerateResponse{}
	if err := json.Unmarshal(body, retv); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if retv.Image == "" {
		return nil, fmt.Errorf("%w: missing image field", ErrMalformedResponse)
	}
	data, err := base64.StdEncoding.DecodeString(retv.Image)
	if err != nil {
		return nil, fmt.Errorf("%w: image is not base64: %v", ErrMalformedResponse, err)
	}
	retv.ImageData = data
	return retv, nil
}

// GenerateImage encodes img as PNG and posts it with the prompt
func (c *Client) GenerateImage(ctx context.Context, img image.Image, prompt string) (*GenerateResponse, error) {
	// Encode the image to PNG format into a bytes buffer
	var buffer bytes.Buffer
	if err := png.Encode(&buffer, img); err != nil {
		return nil, err
	}
	return c.Generate(ctx, buffer.Bytes(), prompt)
}
