package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"tilecraft.ai/internal/persistence/mirror"
)

// openMirror builds the off-host snapshot mirror from TC_MIRROR_* env vars.
// It returns nil when mirroring is off.
func openMirror(dataDir string, logger *log.Logger) (*mirror.Mirror, error) {
	if !envBool("TC_MIRROR", false) {
		return nil, nil
	}
	cfg := mirror.BucketConfig{
		Endpoint:  os.Getenv("TC_MIRROR_ENDPOINT"),
		Bucket:    os.Getenv("TC_MIRROR_BUCKET"),
		Region:    os.Getenv("TC_MIRROR_REGION"),
		AccessKey: os.Getenv("TC_MIRROR_ACCESS_KEY_ID"),
		SecretKey: os.Getenv("TC_MIRROR_SECRET_ACCESS_KEY"),
	}
	b, err := mirror.NewBucket(cfg)
	if err != nil {
		return nil, fmt.Errorf("TC_MIRROR=true: %w", err)
	}
	return mirror.New(b, dataDir, os.Getenv("TC_MIRROR_PREFIX"), envInt("TC_MIRROR_WORKERS", 2), 64, logger), nil
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
