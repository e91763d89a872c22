// Package api provides the HTTP surface of lookout, the authenticated front
// end to an object-detection inference service.
//
// # Overview
//
// Every detection or training request is proxied to the inference service
// and recorded as a history entry owned by the calling user. The entry is
// created after the request passes validation and before the outbound call,
// and it always ends in a terminal status before the handler returns.
//
// # Routes
//
//	POST /api/auth/register      create an account            (rate limited)
//	POST /api/auth/login         issue a session token/cookie (rate limited)
//	GET  /api/auth/check         {authenticated, user?}, always 200
//	POST /api/auth/logout        clear the session cookie
//	POST /api/detect             multipart image       -> {success, logId, filename, detections}
//	GET  /api/detect             405 hint
//	POST /api/detect-frame       imageData data URI    -> {success, logId, detections}
//	POST /api/train              images[] + label      -> {success, logId, message, savedCount, errors, pythonStatus}
//	GET  /api/history            ?limit=&skip=         -> {success, logs, totalCount}
//	GET  /api/history/{id}       one entry of the caller
//	GET  /api/inference/history  inference service history, passed through
//
// Everything except register, login, check, logout and GET /api/detect sits
// behind middleware.AuthMiddleware, which accepts the "token" cookie or an
// Authorization bearer header.
//
// # Errors
//
// Failures use the envelope {"success": false, "error": ..., "detail": ...}.
// Outbound failures map as follows:
//
//	connection refused        503
//	non-2xx from the service  502, detail taken from its body
//	anything else             500
//
// Auth endpoints answer with {"message": ...} instead.
//
// # Usage
//
//	server := api.NewServer(api.Options{
//		Auth:      authService,
//		Recorder:  history.NewRecorder(store, logger),
//		Inference: inference.NewClient(cfg.Inference.URL),
//		Logger:    logger,
//	})
//	http.ListenAndServe(":8080", server.Handler())
package api
