// Sketch2go turns freehand sketches into generated images. The canvas, orchestrator and studio
// packages hold the drawing side: a raster surface, the single in-flight generation request and
// the event loop tying them to a prompt. The client package talks to the generation service,
// which lives in internal/server and is started by cmd/sketchserver.
package sketch2go
