// Package config loads service configuration.
//
// Values come from built-in defaults, then an optional YAML file named by
// LOOKOUT_CONFIG_FILE, then environment variables; a set variable always wins.
//
// Server:
//
//	LOOKOUT_HOST="0.0.0.0"
//	LOOKOUT_PORT="8080"
//	LOOKOUT_HEALTH_PORT="9090"
//	LOOKOUT_WRITE_TIMEOUT="0s"          # none, uploads wait for the inference service
//	LOOKOUT_MAX_UPLOAD_BYTES="52428800"
//	LOOKOUT_CORS_ORIGINS="http://localhost:3000"
//
// Auth and inference:
//
//	JWT_SECRET="..."                    # missing secret fails every token path with 500
//	LOOKOUT_TOKEN_TTL="1h"
//	PYTHON_BACKEND_URL="http://127.0.0.1:8000"
//
// Storage:
//
//	LOOKOUT_STORE_TYPE="postgres"       # memory or postgres
//	LOOKOUT_POSTGRES_URL="postgres://..."
//	LOOKOUT_REDIS_URL="redis://localhost:6379/0"
//	LOOKOUT_ARCHIVE_ENABLED="true"
//	LOOKOUT_S3_BUCKET="training-images"
//
// The equivalent YAML file:
//
//	server:
//	  port: "8080"
//	store:
//	  type: postgres
//	  postgres_url: postgres://lookout@db/lookout
//	sweeper:
//	  stale_after: 15m
package config
