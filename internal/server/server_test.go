package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richinsley/sketch2go/client"
	"github.com/richinsley/sketch2go/internal/config"
	"github.com/richinsley/sketch2go/internal/pipeline"
)

type brokenPipeline struct{}

func (brokenPipeline) Name() string                   { return "broken" }
func (brokenPipeline) Load(ctx context.Context) error { return nil }
func (brokenPipeline) Generate(ctx context.Context, req pipeline.Request, progress pipeline.ProgressFunc) (image.Image, error) {
	return nil, errors.New("out of memory")
}

var testConfig = config.ServerConfig{
	Addr:           ":0",
	AllowedOrigins: []string{"http://localhost:5173", "http://localhost:3000"},
	MaxUploadBytes: 1 << 20,
}

func setupRouter(p pipeline.Pipeline) (http.Handler, *pipeline.Manager, *Hub) {
	mgr := pipeline.NewManager(p, pipeline.Options{
		Steps:          3,
		DefaultPrompt:  config.DefaultPrompt,
		NegativePrompt: config.DefaultNegativePrompt,
	})
	hub := NewHub()
	return NewRouter(mgr, hub, testConfig), mgr, hub
}

func sketchPNG(t *testing.T) []byte {
	img := image.NewRGBA(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			img.SetRGBA(x, y, color.RGBA{255, 255, 255, 255})
		}
		img.SetRGBA(y, y, color.RGBA{0, 0, 0, 255})
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func multipartRequest(t *testing.T, contentType string, file []byte, prompt *string) *http.Request {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if file != nil {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="sketch.png"`)
		h.Set("Content-Type", contentType)
		part, err := writer.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(file)
		require.NoError(t, err)
	}
	if prompt != nil {
		require.NoError(t, writer.WriteField("prompt", *prompt))
	}
	require.NoError(t, writer.Close())

	req := httptest.NewRequest(http.MethodPost, "/generate", &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return req
}

func detail(t *testing.T, resp *httptest.ResponseRecorder) string {
	var body map[string]string
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	return body["detail"]
}

func TestRoot(t *testing.T) {
	r, _, _ := setupRouter(pipeline.NewPreview(0))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	var info client.ServiceInfo
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &info))
	assert.Equal(t, "running", info.Status)
	assert.Equal(t, "/generate (POST)", info.Endpoints["generate"])
	assert.Equal(t, "/events (WS)", info.Endpoints["events"])
}

func TestHealth(t *testing.T) {
	r, _, _ := setupRouter(pipeline.NewPreview(0))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, resp.Code)
	var health client.HealthStatus
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &health))
	assert.Equal(t, "healthy", health.Status)
	assert.False(t, health.GPUAvailable)
	assert.Equal(t, "CPU", health.GPUType)
	assert.True(t, health.EndpointsActive)
	assert.Equal(t, "preview", health.Pipeline)
}

func TestModelStatusFollowsLoad(t *testing.T) {
	r, mgr, _ := setupRouter(pipeline.NewPreview(0))

	status := func() client.ModelStatus {
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/models/status", nil))
		require.Equal(t, http.StatusOK, resp.Code)
		var s client.ModelStatus
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &s))
		return s
	}

	assert.Equal(t, client.ModelStatus{ModelsLoaded: false, Status: "not_loaded"}, status())
	require.NoError(t, mgr.Load(context.Background()))
	assert.Equal(t, client.ModelStatus{ModelsLoaded: true, Status: "ready"}, status())
}

// gatedPipeline blocks every generation until release is closed
type gatedPipeline struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedPipeline) Name() string                   { return "gated" }
func (g *gatedPipeline) Load(ctx context.Context) error { return nil }
func (g *gatedPipeline) Generate(ctx context.Context, req pipeline.Request, progress pipeline.ProgressFunc) (image.Image, error) {
	close(g.started)
	<-g.release
	return req.Control, nil
}

func TestModelStatusAnswersDuringGeneration(t *testing.T) {
	gate := &gatedPipeline{started: make(chan struct{}), release: make(chan struct{})}
	r, _, _ := setupRouter(gate)

	req := multipartRequest(t, "image/png", sketchPNG(t), nil)
	generated := make(chan int, 1)
	go func() {
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)
		generated <- resp.Code
	}()

	select {
	case <-gate.started:
	case <-time.After(2 * time.Second):
		t.Fatal("generation did not start")
	}

	statusCh := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/models/status", nil))
		statusCh <- resp
	}()

	select {
	case resp := <-statusCh:
		require.Equal(t, http.StatusOK, resp.Code)
		var s client.ModelStatus
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &s))
		assert.Equal(t, client.ModelStatus{ModelsLoaded: true, Status: "ready"}, s)
	case <-time.After(time.Second):
		t.Fatal("/models/status waited for the running generation")
	}

	close(gate.release)
	assert.Equal(t, http.StatusOK, <-generated)
}

func TestGenerateSuccess(t *testing.T) {
	r, mgr, _ := setupRouter(pipeline.NewPreview(0))
	prompt := "a red barn"

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, multipartRequest(t, "image/png", sketchPNG(t), &prompt))
	require.Equal(t, http.StatusOK, resp.Code, resp.Body.String())

	var body client.GenerateResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	assert.True(t, body.Success)
	assert.NotEmpty(t, body.ID)
	assert.Equal(t, prompt, body.Prompt)
	assert.Equal(t, []int{pipeline.ControlSize, pipeline.ControlSize}, body.ImageSize)
	assert.Equal(t, "Image generated successfully", body.Message)
	assert.GreaterOrEqual(t, body.GenerationTime, 0.0)
	assert.True(t, mgr.Loaded())

	// the body is exactly what the client accepts
	srv := httptest.NewServer(r)
	defer srv.Close()
	result, err := client.NewClient(srv.URL, nil).Generate(context.Background(), sketchPNG(t), prompt)
	require.NoError(t, err)

	img, err := png.Decode(bytes.NewReader(result.ImageData))
	require.NoError(t, err)
	assert.Equal(t, pipeline.ControlSize, img.Bounds().Dx())

	meta, err := result.Metadata()
	require.NoError(t, err)
	assert.Equal(t, prompt, meta["prompt"])
	assert.Equal(t, "3", meta["steps"])
	assert.Equal(t, "preview", meta["pipeline"])
	assert.Equal(t, result.ID, meta["id"])
}

func TestGenerateEmptyPromptUsesDefault(t *testing.T) {
	r, _, _ := setupRouter(pipeline.NewPreview(0))
	empty := ""

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, multipartRequest(t, "image/png", sketchPNG(t), &empty))
	require.Equal(t, http.StatusOK, resp.Code)

	var body client.GenerateResponse
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &body))
	// the body echoes the request's prompt; the image records the prompt actually used
	assert.Equal(t, "", body.Prompt)

	data, err := base64.StdEncoding.DecodeString(body.Image)
	require.NoError(t, err)
	meta, err := client.GetPngMetadata(bytes.NewReader(data))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultPrompt, meta["prompt"])

	// prompt is optional on the wire
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, multipartRequest(t, "image/png", sketchPNG(t), nil))
	require.Equal(t, http.StatusOK, resp.Code)
}

func TestGenerateRejectsNonImage(t *testing.T) {
	r, _, _ := setupRouter(pipeline.NewPreview(0))

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, multipartRequest(t, "text/plain", []byte("hello"), nil))

	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "Invalid file type: text/plain. Please upload an image.", detail(t, resp))
}

func TestGenerateRejectsMissingFile(t *testing.T) {
	r, _, _ := setupRouter(pipeline.NewPreview(0))
	prompt := "a cat"

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, multipartRequest(t, "", nil, &prompt))

	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, detail(t, resp), "file")
}

func TestGenerateRejectsUndecodableImage(t *testing.T) {
	r, _, _ := setupRouter(pipeline.NewPreview(0))

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, multipartRequest(t, "image/png", []byte("not a png"), nil))

	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Contains(t, detail(t, resp), "Could not decode image")
}

// withDimensions rewrites the IHDR size of an encoded PNG, keeping the chunk checksum valid
func withDimensions(t *testing.T, data []byte, width, height uint32) []byte {
	require.Equal(t, "IHDR", string(data[12:16]))
	out := append([]byte(nil), data...)
	binary.BigEndian.PutUint32(out[16:20], width)
	binary.BigEndian.PutUint32(out[20:24], height)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}

func TestGenerateRejectsOversizedDimensions(t *testing.T) {
	r, mgr, _ := setupRouter(pipeline.NewPreview(0))
	huge := withDimensions(t, sketchPNG(t), 50000, 50000)

	cfg, err := png.DecodeConfig(bytes.NewReader(huge))
	require.NoError(t, err)
	require.Equal(t, 50000, cfg.Width)

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, multipartRequest(t, "image/png", huge, nil))

	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "Sketch rejected: image too large: 50000x50000 exceeds 4096x4096", detail(t, resp))
	assert.False(t, mgr.Loaded())

	wide := withDimensions(t, sketchPNG(t), MaxSketchDimension+1, 64)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, multipartRequest(t, "image/png", wide, nil))
	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestGenerateRejectsNonMultipart(t *testing.T) {
	r, _, _ := setupRouter(pipeline.NewPreview(0))

	req := httptest.NewRequest(http.MethodPost, "/generate", strings.NewReader(`{"prompt":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	assert.Equal(t, http.StatusBadRequest, resp.Code)
}

func TestGenerateRejectsOversizedUpload(t *testing.T) {
	r, _, _ := setupRouter(pipeline.NewPreview(0))

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, multipartRequest(t, "image/png", make([]byte, 2<<20), nil))

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.Code)
}

func TestGeneratePipelineFailure(t *testing.T) {
	r, _, _ := setupRouter(brokenPipeline{})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, multipartRequest(t, "image/png", sketchPNG(t), nil))

	require.Equal(t, http.StatusInternalServerError, resp.Code)
	assert.Equal(t, "Generation failed: out of memory", detail(t, resp))
}

func TestCORS(t *testing.T) {
	r, _, _ := setupRouter(pipeline.NewPreview(0))

	t.Run("allowed origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://localhost:5173")
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)

		assert.Equal(t, "http://localhost:5173", resp.Header().Get("Access-Control-Allow-Origin"))
		assert.Equal(t, "true", resp.Header().Get("Access-Control-Allow-Credentials"))
	})

	t.Run("preflight", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodOptions, "/generate", nil)
		req.Header.Set("Origin", "http://localhost:3000")
		req.Header.Set("Access-Control-Request-Method", "POST")
		req.Header.Set("Access-Control-Request-Headers", "X-Client-ID")
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)

		assert.Equal(t, http.StatusNoContent, resp.Code)
		assert.Contains(t, resp.Header().Get("Access-Control-Allow-Methods"), "POST")
		assert.Equal(t, "X-Client-ID", resp.Header().Get("Access-Control-Allow-Headers"))
	})

	t.Run("unknown origin", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", "http://evil.test")
		resp := httptest.NewRecorder()
		r.ServeHTTP(resp, req)

		assert.Equal(t, http.StatusOK, resp.Code)
		assert.Empty(t, resp.Header().Get("Access-Control-Allow-Origin"))
	})
}

func TestEventsBroadcast(t *testing.T) {
	r, _, hub := setupRouter(pipeline.NewPreview(0))
	srv := httptest.NewServer(r)
	defer srv.Close()
	defer hub.Close()

	c := client.NewClient(srv.URL, nil)
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/events?clientId=" + c.ClientID()
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, time.Second, 10*time.Millisecond)

	result, err := c.Generate(context.Background(), sketchPNG(t), "a lighthouse")
	require.NoError(t, err)

	var types []string
	for len(types) == 0 || types[len(types)-1] != client.EventTypeCompleted {
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var ev client.Event
		require.NoError(t, conn.ReadJSON(&ev))
		types = append(types, ev.Type)

		switch ev.Type {
		case client.EventTypeStarted:
			started := ev.ToStarted()
			assert.Equal(t, result.ID, started.ID)
			assert.Equal(t, c.ClientID(), started.ClientID)
			assert.Equal(t, "a lighthouse", started.Prompt)
		case client.EventTypeProgress:
			assert.Equal(t, 3, ev.ToProgress().Max)
		case client.EventTypeCompleted:
			assert.Equal(t, result.ID, ev.ToCompleted().ID)
		}
	}

	assert.Equal(t, []string{"started", "progress", "progress", "progress", "completed"}, types)
}

func TestEventsFailedBroadcast(t *testing.T) {
	r, _, hub := setupRouter(brokenPipeline{})
	srv := httptest.NewServer(r)
	defer srv.Close()
	defer hub.Close()

	var failed *client.EventFailed
	done := make(chan struct{})
	c := client.NewClient(srv.URL, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		defer close(done)
		handlers := (&client.EventHandlers{}).WithFailedHandler(func(ev *client.EventFailed) {
			failed = ev
			cancel()
		})
		c.FollowEvents(ctx, handlers, 2*time.Second)
	}()

	require.Eventually(t, func() bool { return hub.Subscribers() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err := c.Generate(context.Background(), sketchPNG(t), "")
	var serverErr *client.ServerError
	require.ErrorAs(t, err, &serverErr)
	assert.Equal(t, http.StatusInternalServerError, serverErr.StatusCode)
	assert.Equal(t, "Generation failed: out of memory", serverErr.Detail)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("failed event was not delivered")
	}
	require.NotNil(t, failed)
	assert.Equal(t, "Generation failed: out of memory", failed.Error)
}

func TestHubCloseRefusesSubscribers(t *testing.T) {
	hub := NewHub()
	hub.Close()
	hub.Broadcast(client.Event{Type: client.EventTypeStarted, Data: client.EventStarted{ID: "x"}})

	srv := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(time.Second))
	_, _, err = conn.ReadMessage()
	assert.Error(t, err)
	assert.Zero(t, hub.Subscribers())
}
