// Package inference is the outbound client for the object-detection
// inference service.
//
// The service is an independently deployed HTTP API:
//
//	POST /detect        multipart "file"             -> {success, filename, detections}
//	POST /detect-frame  multipart "image_data"       -> {success, detections}
//	POST /upload-train  multipart "label" + "files"  -> {success, message, saved_count, saved_filenames, errors}
//	GET  /history       ?limit=&skip=                -> passthrough
//	GET  /                                           -> liveness
//
// Every call is a single attempt. Failures are classified so callers can map
// them to client responses:
//
//   - ErrUnavailable: the connection was refused
//   - *UpstreamError: the service answered with a non-2xx status
//   - anything else: transport or decoding failure
package inference
