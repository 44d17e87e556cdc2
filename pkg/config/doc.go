// Package config loads application configuration from GALLERY_* environment
// variables, optionally seeded from a .env file.
//
//	if _, err := config.LoadDotEnv(".env"); err != nil { ... }
//	cfg, err := config.LoadConfig()
//
// Required: GALLERY_POSTGRES_URL and GALLERY_REDIS_URL. GALLERY_OBJECT_STORE
// selects "filesystem" (default, GALLERY_FILESYSTEM_ROOT) or "s3"
// (GALLERY_S3_*). GALLERY_ROLE_CONFIG_PATH replaces the embedded role
// document.
package config
